package hw

import "sync"

// Metrics counts operations, accumulated virtual time, and errors for one
// simulator instance.
type Metrics struct {
	mu          sync.Mutex
	operations  uint64
	totalTimeUs float64
	errors      uint64
}

// MetricsSnapshot is an immutable copy of the counters.
type MetricsSnapshot struct {
	Operations  uint64  `json:"operations"`
	TotalTimeUs float64 `json:"total_time_us"`
	Errors      uint64  `json:"errors"`
	AverageUs   float64 `json:"average_us"`
}

// Record adds one operation with the given duration. failed operations are
// counted separately.
func (m *Metrics) Record(durationUs float64, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations++
	m.totalTimeUs += durationUs
	if failed {
		m.errors++
	}
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MetricsSnapshot{
		Operations:  m.operations,
		TotalTimeUs: m.totalTimeUs,
		Errors:      m.errors,
	}
	if m.operations > 0 {
		s.AverageUs = m.totalTimeUs / float64(m.operations)
	}
	return s
}

// Reset zeroes all counters.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations = 0
	m.totalTimeUs = 0
	m.errors = 0
}
