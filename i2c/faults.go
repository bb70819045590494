package i2c

import (
	"fmt"

	"github.com/sarchlab/periphsim/hw"
)

// Fault identifiers accepted by InjectFault.
const (
	// FaultSDAStuckLow latches a bus error: every transaction fails until
	// Reset releases the line.
	FaultSDAStuckLow = "sda_stuck_low"
	// FaultArbitrationLost fails the next transaction once, modeling a
	// multi-master arbitration loss.
	FaultArbitrationLost = "arbitration_lost"
	// FaultClockStretchTimeout makes the next transaction hang for the
	// 50ms stretch budget and then fail.
	FaultClockStretchTimeout = "clock_stretch_timeout"
)

// clockStretchBudgetUs is the stretch time spent before giving up.
const clockStretchBudgetUs = 50_000

// InjectFault arms a named fault. Fault injection must have been enabled
// with EnableFaultInjection first; otherwise this is a usage error.
//
// Faults are latched and take effect on subsequent transactions, so a
// driver under test observes them exactly the way it would on real
// hardware. Reset releases all latched faults.
func (s *Simulator) InjectFault(fault string, params map[string]any) error {
	if err := s.Guard(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch fault {
	case FaultSDAStuckLow:
		s.sdaStuckLow = true
	case FaultArbitrationLost:
		s.armArbLost = true
	case FaultClockStretchTimeout:
		s.armClkStretch = true
	default:
		return fmt.Errorf("i2c fault %q: %w", fault, hw.ErrUnknownFault)
	}

	s.appendEvent("fault_injected", map[string]any{"fault": fault})
	return nil
}

// checkFaults resolves latched faults at the start of a transaction.
// Caller holds s.mu.
func (s *Simulator) checkFaults() error {
	if s.sdaStuckLow {
		s.busState = Start // the line never released
		return fmt.Errorf("sda line stuck low: %w", hw.ErrBusError)
	}
	if s.armArbLost {
		s.armArbLost = false
		s.busState = Idle
		return fmt.Errorf("lost bus to another master: %w", hw.ErrArbitrationLost)
	}
	if s.armClkStretch {
		s.armClkStretch = false
		s.engine.DelayUs(clockStretchBudgetUs)
		s.busState = Idle
		return fmt.Errorf("device stretched clock past %dus: %w",
			clockStretchBudgetUs, hw.ErrClockStretchTimeout)
	}
	return nil
}
