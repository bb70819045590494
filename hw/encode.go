package hw

import "encoding/json"

// Encoder serializes values for history export and reports. It is injected
// rather than fixed so tests can substitute failing or alternative
// serializers per instance.
type Encoder interface {
	Marshal(v any) ([]byte, error)
}

// JSONEncoder encodes with encoding/json.
type JSONEncoder struct {
	// Indent enables two-space indented output.
	Indent bool
}

// Marshal implements Encoder.
func (e JSONEncoder) Marshal(v any) ([]byte, error) {
	if e.Indent {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}
