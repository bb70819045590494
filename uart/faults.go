package uart

import (
	"fmt"

	"github.com/sarchlab/periphsim/hw"
)

// Fault identifiers accepted by InjectFault.
const (
	// FaultBreakCondition delivers a break frame to the receiver and holds
	// the line for the given duration. Params: "duration_us" float64.
	FaultBreakCondition = "break_condition"
	// FaultParityError flags the next received frame with a parity error.
	FaultParityError = "parity_error"
	// FaultFramingError flags the next received frame with a framing error.
	FaultFramingError = "framing_error"
	// FaultOverrun floods the receive FIFO to capacity so the next real
	// frame is lost.
	FaultOverrun = "overrun"
)

// InjectFault arms a named fault on this end of the link. Fault injection
// must have been enabled with EnableFaultInjection first; otherwise this
// is a usage error.
func (s *Simulator) InjectFault(fault string, params map[string]any) error {
	if err := s.Guard(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}

	switch fault {
	case FaultBreakCondition:
		duration := 1000.0
		if v, ok := params["duration_us"]; ok {
			switch n := v.(type) {
			case float64:
				duration = n
			case int:
				duration = float64(n)
			}
		}
		s.enqueueLocked(Frame{TimeUs: s.engine.NowUs(), Break: true})
		s.engine.DelayUs(duration)
	case FaultParityError:
		s.forceParityErr = true
	case FaultFramingError:
		s.forceFramingErr = true
	case FaultOverrun:
		for len(s.rx) < cap(s.rx) {
			s.rx <- Frame{Data: 0xFF, TimeUs: s.engine.NowUs()}
		}
	default:
		return fmt.Errorf("uart fault %q: %w", fault, hw.ErrUnknownFault)
	}

	s.appendEvent("fault_injected", map[string]any{"fault": fault})
	return nil
}

// ClearFaults disarms pending receive-side error flags.
func (s *Simulator) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceParityErr = false
	s.forceFramingErr = false
}
