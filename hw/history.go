package hw

import "sync"

// Event is one entry in a simulator's event history.
type Event struct {
	TimeUs float64        `json:"time_us"`
	Type   string         `json:"type"`
	Data   map[string]any `json:"data,omitempty"`
}

// History is a bounded, queryable event log. A capacity of 0 means
// unbounded; otherwise the oldest entries are evicted first.
type History struct {
	mu       sync.Mutex
	capacity int
	events   []Event
}

// DefaultHistoryCapacity bounds histories unless configured otherwise, so
// long property-test runs cannot grow without limit.
const DefaultHistoryCapacity = 1024

// NewHistory creates a history holding at most capacity entries.
func NewHistory(capacity int) *History {
	return &History{capacity: capacity}
}

// Append records one event, evicting the oldest entry when full.
func (h *History) Append(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.capacity > 0 && len(h.events) >= h.capacity {
		n := copy(h.events, h.events[1:])
		h.events = h.events[:n]
	}
	h.events = append(h.events, e)
}

// Query returns up to limit most-recent events, optionally filtered by
// event type. limit <= 0 returns all matching events.
func (h *History) Query(limit int, eventType string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var matched []Event
	if eventType == "" {
		matched = append(matched, h.events...)
	} else {
		for _, e := range h.events {
			if e.Type == eventType {
				matched = append(matched, e)
			}
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// Len returns the number of stored events.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

// Clear drops all stored events.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
}

// Export serializes the stored events with the given encoder.
func (h *History) Export(enc Encoder) ([]byte, error) {
	events := h.Query(0, "")
	return enc.Marshal(events)
}
