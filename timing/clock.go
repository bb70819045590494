// Package timing provides the virtual-time foundation shared by all
// peripheral simulators: a microsecond-resolution virtual clock and a
// scheduled-event engine that advances it deterministically.
//
// Simulated protocol latency is decoupled from wall-clock execution speed.
// A real-time factor can reintroduce wall delay for human-observable demos.
package timing

import (
	"sync"
	"time"
)

// Clock is a monotonic virtual clock with microsecond resolution.
//
// The real-time factor controls whether advancing virtual time also sleeps
// the calling goroutine: 0 advances instantaneously, 1 matches real time,
// 0.5 runs at double speed.
type Clock struct {
	mu             sync.Mutex
	virtualTimeUs  float64
	realTimeFactor float64
}

// NewClock creates a clock starting at virtual time zero.
func NewClock(realTimeFactor float64) *Clock {
	return &Clock{realTimeFactor: realTimeFactor}
}

// Now returns the current virtual time in microseconds.
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.virtualTimeUs
}

// Advance moves virtual time forward by the given number of microseconds.
// Negative durations are ignored; the clock never moves backwards.
func (c *Clock) Advance(us float64) {
	if us <= 0 {
		return
	}

	c.mu.Lock()
	c.virtualTimeUs += us
	factor := c.realTimeFactor
	c.mu.Unlock()

	if factor > 0 {
		time.Sleep(time.Duration(us * factor * float64(time.Microsecond)))
	}
}

// AdvanceTo moves virtual time forward to the given absolute time.
// A target at or before the current time is a no-op. The read and the
// update happen under one lock, so concurrent advances to the same target
// cannot push the clock past it.
func (c *Clock) AdvanceTo(us float64) {
	c.mu.Lock()
	delta := us - c.virtualTimeUs
	if delta <= 0 {
		c.mu.Unlock()
		return
	}
	c.virtualTimeUs = us
	factor := c.realTimeFactor
	c.mu.Unlock()

	if factor > 0 {
		time.Sleep(time.Duration(delta * factor * float64(time.Microsecond)))
	}
}

// RealTimeFactor returns the configured real-time factor.
func (c *Clock) RealTimeFactor() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.realTimeFactor
}

// Reset returns the clock to virtual time zero.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.virtualTimeUs = 0
}
