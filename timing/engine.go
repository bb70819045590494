package timing

import (
	"container/heap"
	"fmt"
	"log"
	"os"
	"sync"
)

// EventID identifies a scheduled event for cancellation.
type EventID uint64

// scheduledEvent is a pending callback ordered by fire time.
// Ties are broken by insertion order.
type scheduledEvent struct {
	fireAtUs float64
	seq      uint64
	id       EventID
	fn       func()
	index    int
}

type eventQueue []*scheduledEvent

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].fireAtUs != q[j].fireAtUs {
		return q[i].fireAtUs < q[j].fireAtUs
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x any) {
	ev := x.(*scheduledEvent)
	ev.index = len(*q)
	*q = append(*q, ev)
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return ev
}

// Engine owns a virtual clock and a queue of scheduled events.
//
// The queue and clock are guarded by one mutex; callbacks run with the lock
// released, so a callback may schedule further events. Events scheduled at or
// below the current advance target fire within the same AdvanceTo call.
type Engine struct {
	mu        sync.Mutex
	clock     *Clock
	queue     eventQueue
	byID      map[EventID]*scheduledEvent
	nextID    EventID
	nextSeq   uint64
	processed uint64

	logger *log.Logger
}

// EngineOption is a functional option for configuring the Engine.
type EngineOption func(*Engine)

// WithClock sets the virtual clock the engine advances.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the logger used to report callback panics.
func WithLogger(l *log.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an engine with an instantaneous clock unless one is
// provided via WithClock.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		byID:   make(map[EventID]*scheduledEvent),
		logger: log.New(os.Stderr, "", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = NewClock(0)
	}
	return e
}

// Clock returns the engine's virtual clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// NowUs returns the current virtual time in microseconds.
func (e *Engine) NowUs() float64 {
	return e.clock.Now()
}

// Schedule registers fn to run at now + delayUs and returns an id that can
// be passed to Cancel.
func (e *Engine) Schedule(delayUs float64, fn func()) (EventID, error) {
	if delayUs < 0 {
		return 0, fmt.Errorf("schedule delay must be >= 0, got %g: %w",
			delayUs, ErrInvalidDelay)
	}
	if fn == nil {
		return 0, fmt.Errorf("schedule callback must not be nil: %w", ErrInvalidDelay)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ev := &scheduledEvent{
		fireAtUs: e.clock.Now() + delayUs,
		seq:      e.nextSeq,
		id:       e.nextID,
		fn:       fn,
	}
	e.nextSeq++
	e.nextID++
	heap.Push(&e.queue, ev)
	e.byID[ev.id] = ev

	return ev.id, nil
}

// Cancel removes a pending event. It returns false if the event already
// fired or is unknown.
func (e *Engine) Cancel(id EventID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev, ok := e.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&e.queue, ev.index)
	delete(e.byID, id)
	return true
}

// AdvanceTo executes, in increasing time order, every event with a fire time
// at or below targetUs, setting the clock to each event's time before
// invoking its callback, then moves the clock to exactly targetUs. A panic
// in one callback is recovered and logged so remaining events still run.
// A target at or before the current time executes nothing.
//
// Returns the number of events executed.
func (e *Engine) AdvanceTo(targetUs float64) int {
	executed := 0

	for {
		e.mu.Lock()
		if len(e.queue) == 0 || e.queue[0].fireAtUs > targetUs {
			e.mu.Unlock()
			e.clock.AdvanceTo(targetUs)
			return executed
		}
		ev := heap.Pop(&e.queue).(*scheduledEvent)
		delete(e.byID, ev.id)
		e.processed++
		e.mu.Unlock()

		e.clock.AdvanceTo(ev.fireAtUs)
		e.runIsolated(ev)
		executed++
	}
}

// AdvanceBy is equivalent to AdvanceTo(now + durationUs).
func (e *Engine) AdvanceBy(durationUs float64) int {
	return e.AdvanceTo(e.clock.Now() + durationUs)
}

func (e *Engine) runIsolated(ev *scheduledEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("timing: scheduled event %d panicked at t=%gus: %v",
				ev.id, ev.fireAtUs, r)
		}
	}()
	ev.fn()
}

// DelayUs advances the clock by the given number of microseconds without
// running queued events. Simulators use it for in-transaction protocol
// delays such as bit times and setup/hold windows.
func (e *Engine) DelayUs(us float64) {
	e.clock.Advance(us)
}

// DelayNs advances the clock by the given number of nanoseconds.
func (e *Engine) DelayNs(ns float64) {
	e.clock.Advance(ns / 1000.0)
}

// DelayMs advances the clock by the given number of milliseconds.
func (e *Engine) DelayMs(ms float64) {
	e.clock.Advance(ms * 1000.0)
}

// PendingEvents returns the number of events waiting to fire.
func (e *Engine) PendingEvents() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// NextEventTime returns the fire time of the earliest pending event.
// The second return value is false when the queue is empty.
func (e *Engine) NextEventTime() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return 0, false
	}
	return e.queue[0].fireAtUs, true
}

// EventsProcessed returns the total number of events executed since the
// engine was created or last reset.
func (e *Engine) EventsProcessed() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processed
}

// ClearEvents drops all pending events without executing them.
func (e *Engine) ClearEvents() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = nil
	e.byID = make(map[EventID]*scheduledEvent)
}

// Reset clears all pending events, statistics, and returns the clock to zero.
// Simulators call it between test cases.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.queue = nil
	e.byID = make(map[EventID]*scheduledEvent)
	e.processed = 0
	e.nextSeq = 0
	e.mu.Unlock()
	e.clock.Reset()
}
