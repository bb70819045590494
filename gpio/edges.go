package gpio

import (
	"fmt"
	"time"

	"github.com/sarchlab/periphsim/hw"
)

// workerJoinTimeout bounds how long Shutdown waits for the delivery worker.
const workerJoinTimeout = time.Second

// WatchEdge registers a callback for transitions on an input pin. Edges
// arriving within debounceUs of the previously delivered edge on the same
// pin are dropped; only elapsed time is considered, not the direction of
// the change.
func (s *Simulator) WatchEdge(pin int, edge Edge, fn Callback, debounceUs float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	ps, err := s.configuredPin(pin)
	if err != nil {
		return err
	}
	if ps.Mode != Input {
		return fmt.Errorf("watch edge on pin %d requires input mode: %w",
			pin, hw.ErrInvalidDirection)
	}
	if edge != Rising && edge != Falling && edge != Both {
		return fmt.Errorf("edge %d: %w", edge, hw.ErrInvalidArgument)
	}
	if debounceUs < 0 {
		return fmt.Errorf("debounce %gus: %w", debounceUs, hw.ErrInvalidArgument)
	}

	e := edge
	ps.EdgeDetect = &e

	w, ok := s.watches[pin]
	if !ok {
		w = &watch{}
		s.watches[pin] = w
	}
	w.edge = edge
	w.debounceUs = debounceUs
	if fn != nil {
		w.callbacks = append(w.callbacks, fn)
	}

	s.appendEvent("edge_detect_added", map[string]any{
		"pin": pin, "edge": edge.String(), "debounce_us": debounceUs,
	})
	return nil
}

// UnwatchEdge removes edge detection from a pin. It is safe to call even
// when no watch was registered.
func (s *Simulator) UnwatchEdge(pin int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validatePin(pin); err != nil {
		return err
	}
	if ps, ok := s.pins[pin]; ok {
		ps.EdgeDetect = nil
	}
	delete(s.watches, pin)
	delete(s.lastDeliveredUs, pin)
	return nil
}

// SimulateEdge schedules an external signal change on an input pin after
// delayUs. The change is applied through the timing engine, so it becomes
// observable only once the engine advances past the fire time; output pins
// ignore externally simulated edges.
func (s *Simulator) SimulateEdge(pin, newValue int, delayUs float64) error {
	s.mu.Lock()
	if err := s.checkActive(); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, err := s.configuredPin(pin); err != nil {
		s.mu.Unlock()
		return err
	}
	if newValue != 0 && newValue != 1 {
		s.mu.Unlock()
		return fmt.Errorf("edge value %d: %w", newValue, hw.ErrInvalidArgument)
	}
	s.mu.Unlock()

	_, err := s.engine.Schedule(delayUs, func() {
		s.applyEdge(pin, newValue)
	})
	return err
}

// applyEdge runs as a scheduled event and performs the actual pin update,
// debounce filtering, and interrupt queueing.
func (s *Simulator) applyEdge(pin, newValue int) {
	s.mu.Lock()

	if s.state != hw.StateActive {
		s.mu.Unlock()
		return
	}
	ps, ok := s.pins[pin]
	if !ok || ps.Mode == Output || s.stuck[pin] {
		s.mu.Unlock()
		return
	}

	now := s.engine.NowUs()
	w := s.watches[pin]
	if w != nil && w.debounceUs > 0 {
		if last, seen := s.lastDeliveredUs[pin]; seen && now-last < w.debounceUs {
			s.mu.Unlock()
			return
		}
	}

	old := ps.Value
	ps.Value = newValue

	var edge Edge
	switch {
	case old == 0 && newValue == 1:
		edge = Rising
	case old == 1 && newValue == 0:
		edge = Falling
	default:
		s.mu.Unlock()
		return
	}

	s.appendEvent("pin_change", map[string]any{
		"pin": pin, "old": old, "new": newValue,
	})

	if w == nil || (w.edge != Both && w.edge != edge) {
		s.mu.Unlock()
		return
	}

	s.lastDeliveredUs[pin] = now
	ev := EdgeEvent{Pin: pin, Edge: edge, TimeUs: now, Value: newValue}
	deliver := s.deliver
	s.mu.Unlock()

	select {
	case deliver <- ev:
	default:
		s.logger.Printf("gpio: interrupt queue full, dropping edge on pin %d", pin)
	}
}

// deliveryLoop is the per-instance interrupt worker. It drains the delivery
// channel and invokes callbacks outside the signal generator's call stack.
func (s *Simulator) deliveryLoop(deliver <-chan EdgeEvent, done chan<- struct{}) {
	defer close(done)

	for ev := range deliver {
		s.mu.Lock()
		var cbs []Callback
		if w := s.watches[ev.Pin]; w != nil {
			cbs = append(cbs, w.callbacks...)
		}
		s.mu.Unlock()

		for _, cb := range cbs {
			s.invokeIsolated(cb, ev)
		}
	}
}

// invokeIsolated runs one callback, recovering panics so a failing handler
// cannot stall the delivery worker.
func (s *Simulator) invokeIsolated(cb Callback, ev EdgeEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("gpio: edge callback panicked on pin %d: %v", ev.Pin, r)
		}
	}()
	cb(ev)
}

func waitWithTimeout(done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(workerJoinTimeout):
	}
}
