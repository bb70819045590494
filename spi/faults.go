package spi

import (
	"fmt"

	"github.com/sarchlab/periphsim/hw"
)

// Fault identifiers accepted by InjectFault.
const (
	// FaultClockGlitch arms a spurious clock pulse midway through the
	// next transfer.
	FaultClockGlitch = "clock_glitch"
	// FaultCSGlitch arms a momentary chip-select release midway through
	// the next transfer.
	FaultCSGlitch = "cs_glitch"
	// FaultMISOStuck forces the MISO line to a fixed level until
	// ClearFaults. Params: "value" int.
	FaultMISOStuck = "miso_stuck"
)

// glitchWidthUs is the width of an injected clock glitch.
const glitchWidthUs = 0.01

// InjectFault arms a named fault for the next transfer. Fault injection
// must have been enabled with EnableFaultInjection first; otherwise this
// is a usage error.
func (s *Simulator) InjectFault(fault string, params map[string]any) error {
	if err := s.Guard(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch fault {
	case FaultClockGlitch:
		s.armClockGlitch = true
	case FaultCSGlitch:
		s.armCSGlitch = true
	case FaultMISOStuck:
		value := 1
		if v, ok := params["value"]; ok {
			switch n := v.(type) {
			case int:
				value = n
			case float64:
				value = int(n)
			}
		}
		if value != 0 && value != 1 {
			return fmt.Errorf("miso_stuck value %d: %w", value, hw.ErrInvalidArgument)
		}
		v := value
		s.misoStuck = &v
	default:
		return fmt.Errorf("spi fault %q: %w", fault, hw.ErrUnknownFault)
	}

	s.appendEvent("fault_injected", map[string]any{"fault": fault})
	return nil
}

// ClearFaults disarms pending glitches and releases a stuck MISO line.
func (s *Simulator) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misoStuck = nil
	s.armClockGlitch = false
	s.armCSGlitch = false
}

// applyMidTransferFaults fires armed glitches between two bytes of an
// in-flight transfer. Caller holds s.mu.
func (s *Simulator) applyMidTransferFaults(chipSelect int) {
	if s.armClockGlitch {
		s.armClockGlitch = false
		s.sclk = 1 - s.sclk
		s.engine.DelayUs(glitchWidthUs)
		s.sclk = 1 - s.sclk
		s.appendEvent("clock_glitch", map[string]any{"chip_select": chipSelect})
	}
	if s.armCSGlitch {
		s.armCSGlitch = false
		s.csLines[chipSelect] = s.inactiveLevel()
		s.engine.DelayUs(1)
		s.csLines[chipSelect] = s.activeLevel()
		s.appendEvent("cs_glitch", map[string]any{"chip_select": chipSelect})
	}
}
