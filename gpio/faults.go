package gpio

import (
	"fmt"

	"github.com/sarchlab/periphsim/hw"
)

// Fault identifiers accepted by InjectFault.
const (
	// FaultStuckPin forces a pin to a fixed level; writes and simulated
	// edges no longer move it. Params: "pin" int, "value" int.
	FaultStuckPin = "stuck_pin"
	// FaultFloatingPin makes an undriven pin flip pseudo-randomly every
	// 1-10 ms of virtual time. Params: "pin" int.
	FaultFloatingPin = "floating_pin"
)

// InjectFault applies a named fault. Fault injection must have been enabled
// with EnableFaultInjection first; otherwise this is a usage error.
func (s *Simulator) InjectFault(fault string, params map[string]any) error {
	if err := s.Guard(); err != nil {
		return err
	}

	switch fault {
	case FaultStuckPin:
		return s.injectStuckPin(params)
	case FaultFloatingPin:
		return s.injectFloatingPin(params)
	default:
		return fmt.Errorf("gpio fault %q: %w", fault, hw.ErrUnknownFault)
	}
}

// ClearFaults releases stuck and floating pins.
func (s *Simulator) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stuck = make(map[int]bool)
	s.floating = make(map[int]bool)
}

func (s *Simulator) injectStuckPin(params map[string]any) error {
	pin, ok := intParam(params, "pin")
	if !ok {
		return fmt.Errorf("stuck_pin requires pin: %w", hw.ErrInvalidArgument)
	}
	value, ok := intParam(params, "value")
	if !ok {
		value = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ps, err := s.configuredPin(pin)
	if err != nil {
		return err
	}
	ps.Value = value
	s.stuck[pin] = true
	s.appendEvent("fault_injected", map[string]any{
		"fault": FaultStuckPin, "pin": pin, "value": value,
	})
	return nil
}

func (s *Simulator) injectFloatingPin(params map[string]any) error {
	pin, ok := intParam(params, "pin")
	if !ok {
		return fmt.Errorf("floating_pin requires pin: %w", hw.ErrInvalidArgument)
	}

	s.mu.Lock()
	if _, err := s.configuredPin(pin); err != nil {
		s.mu.Unlock()
		return err
	}
	s.floating[pin] = true
	s.appendEvent("fault_injected", map[string]any{
		"fault": FaultFloatingPin, "pin": pin,
	})
	s.mu.Unlock()

	s.scheduleFloat(pin)
	return nil
}

// scheduleFloat flips a floating pin at a random point 1-10 ms out and
// reschedules itself for as long as the fault stays armed.
func (s *Simulator) scheduleFloat(pin int) {
	s.mu.Lock()
	if !s.floating[pin] || s.state != hw.StateActive {
		s.mu.Unlock()
		return
	}
	delay := 1000 + s.rng.Float64()*9000
	value := s.rng.Intn(2)
	s.mu.Unlock()

	_, err := s.engine.Schedule(delay, func() {
		s.applyEdge(pin, value)
		s.scheduleFloat(pin)
	})
	if err != nil {
		s.logger.Printf("gpio: floating pin %d reschedule failed: %v", pin, err)
	}
}

func intParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
