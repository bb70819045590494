package contract

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/periphsim/hw"
)

// A Decoder turns an on-disk contract encoding into the raw document
// structure. Load converts the document into the typed contract model.
type Decoder interface {
	Decode(data []byte, v any) error
}

// YAMLDecoder decodes YAML contract files.
type YAMLDecoder struct{}

func (YAMLDecoder) Decode(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}

// JSONDecoder decodes JSON contract files.
type JSONDecoder struct{}

func (JSONDecoder) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// constraintDoc is the on-disk form of a constraint. Exactly one of the
// kind keys must be set.
type constraintDoc struct {
	Membership *struct {
		Var    string   `yaml:"var" json:"var"`
		Values []string `yaml:"values" json:"values"`
	} `yaml:"membership" json:"membership,omitempty"`
	Range *struct {
		Var string   `yaml:"var" json:"var"`
		Min *float64 `yaml:"min" json:"min,omitempty"`
		Max *float64 `yaml:"max" json:"max,omitempty"`
	} `yaml:"range" json:"range,omitempty"`
	Equals *struct {
		Var   string `yaml:"var" json:"var"`
		Value any    `yaml:"value" json:"value"`
	} `yaml:"equals" json:"equals,omitempty"`
}

func (d constraintDoc) toConstraint() (Constraint, error) {
	set := 0
	if d.Membership != nil {
		set++
	}
	if d.Range != nil {
		set++
	}
	if d.Equals != nil {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("constraint needs exactly one of membership, range, equals: %w",
			hw.ErrInvalidArgument)
	}

	switch {
	case d.Membership != nil:
		if d.Membership.Var == "" || len(d.Membership.Values) == 0 {
			return nil, fmt.Errorf("membership needs var and values: %w", hw.ErrInvalidArgument)
		}
		return Membership{Var: d.Membership.Var, Values: d.Membership.Values}, nil
	case d.Range != nil:
		if d.Range.Var == "" {
			return nil, fmt.Errorf("range needs var: %w", hw.ErrInvalidArgument)
		}
		if d.Range.Min != nil && d.Range.Max != nil && *d.Range.Min > *d.Range.Max {
			return nil, fmt.Errorf("range min %g > max %g: %w",
				*d.Range.Min, *d.Range.Max, hw.ErrInvalidArgument)
		}
		return Range{Var: d.Range.Var, Min: d.Range.Min, Max: d.Range.Max}, nil
	default:
		if d.Equals.Var == "" {
			return nil, fmt.Errorf("equals needs var: %w", hw.ErrInvalidArgument)
		}
		return Equals{Var: d.Equals.Var, Value: d.Equals.Value}, nil
	}
}

type timingDoc struct {
	TypicalUs float64 `yaml:"typical_latency_us" json:"typical_latency_us"`
	MaxUs     float64 `yaml:"max_latency_us" json:"max_latency_us"`
}

type operationDoc struct {
	Preconditions  []constraintDoc   `yaml:"preconditions" json:"preconditions,omitempty"`
	Postconditions []constraintDoc   `yaml:"postconditions" json:"postconditions,omitempty"`
	Timing         *timingDoc        `yaml:"timing" json:"timing,omitempty"`
	Errors         map[string]string `yaml:"errors" json:"errors,omitempty"`
}

type contractDoc struct {
	Interface      string                   `yaml:"interface" json:"interface"`
	Version        string                   `yaml:"version" json:"version"`
	Invariants     map[string]constraintDoc `yaml:"invariants" json:"invariants,omitempty"`
	Operations     map[string]operationDoc  `yaml:"operations" json:"operations,omitempty"`
	StateMachine   map[string][]string      `yaml:"state_machine" json:"state_machine,omitempty"`
	TestProperties []string                 `yaml:"test_properties" json:"test_properties,omitempty"`
}

// Load decodes and validates a contract document.
func Load(data []byte, dec Decoder) (*Contract, error) {
	var doc contractDoc
	if err := dec.Decode(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding contract: %w", err)
	}

	if doc.Interface == "" {
		return nil, fmt.Errorf("contract missing interface name: %w", hw.ErrInvalidArgument)
	}

	c := &Contract{
		Interface:      doc.Interface,
		Version:        doc.Version,
		Invariants:     make(map[string]Constraint, len(doc.Invariants)),
		Operations:     make(map[string]Operation, len(doc.Operations)),
		StateMachine:   doc.StateMachine,
		TestProperties: doc.TestProperties,
	}

	for name, cd := range doc.Invariants {
		constraint, err := cd.toConstraint()
		if err != nil {
			return nil, fmt.Errorf("invariant %q: %w", name, err)
		}
		c.Invariants[name] = constraint
	}

	for name, od := range doc.Operations {
		op := Operation{Errors: od.Errors}
		for i, cd := range od.Preconditions {
			constraint, err := cd.toConstraint()
			if err != nil {
				return nil, fmt.Errorf("operation %q precondition %d: %w", name, i, err)
			}
			op.Preconditions = append(op.Preconditions, constraint)
		}
		for i, cd := range od.Postconditions {
			constraint, err := cd.toConstraint()
			if err != nil {
				return nil, fmt.Errorf("operation %q postcondition %d: %w", name, i, err)
			}
			op.Postconditions = append(op.Postconditions, constraint)
		}
		if od.Timing != nil {
			if od.Timing.MaxUs > 0 && od.Timing.TypicalUs > od.Timing.MaxUs {
				return nil, fmt.Errorf("operation %q: typical latency %gus > max %gus: %w",
					name, od.Timing.TypicalUs, od.Timing.MaxUs, hw.ErrInvalidArgument)
			}
			op.Timing = &Timing{TypicalUs: od.Timing.TypicalUs, MaxUs: od.Timing.MaxUs}
		}
		c.Operations[name] = op
	}

	return c, nil
}
