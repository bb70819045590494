// Package hw provides the plumbing shared by every peripheral simulator:
// lifecycle state, the error taxonomy, operation metrics, bounded event
// history, serializer injection, and the fault-injection gate.
package hw

import (
	"errors"

	"github.com/sarchlab/periphsim/timing"
)

// Usage errors. These indicate the caller misused the interface and are
// always surfaced immediately.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotConfigured      = errors.New("not configured")
	ErrNotInitialized     = errors.New("not initialized")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrInvalidDirection   = errors.New("invalid direction")
	ErrDuplicateAddress   = errors.New("duplicate address")
	ErrDeviceBusy         = errors.New("device busy")
	ErrInjectionDisabled  = errors.New("fault injection not enabled")
	ErrUnknownFault       = errors.New("unknown fault")
)

// Protocol-level negative outcomes. These are valid bus results a driver
// must handle, distinct from usage errors.
var (
	ErrNack                = errors.New("nack")
	ErrBreakDetected       = errors.New("break detected")
	ErrBusError            = errors.New("bus error")
	ErrArbitrationLost     = errors.New("arbitration lost")
	ErrClockStretchTimeout = errors.New("clock stretch timeout")
)

// KindOf maps an error chain to the error-kind name used in contract
// documents. Unrecognized errors map to "Unknown".
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, timing.ErrInvalidDelay):
		return "InvalidArgument"
	case errors.Is(err, ErrNotConfigured):
		return "NotConfigured"
	case errors.Is(err, ErrNotInitialized):
		return "NotInitialized"
	case errors.Is(err, ErrAlreadyInitialized):
		return "AlreadyInitialized"
	case errors.Is(err, ErrInvalidDirection):
		return "InvalidDirection"
	case errors.Is(err, ErrDuplicateAddress):
		return "DuplicateAddress"
	case errors.Is(err, ErrDeviceBusy):
		return "DeviceBusy"
	case errors.Is(err, ErrInjectionDisabled):
		return "InjectionDisabled"
	case errors.Is(err, ErrUnknownFault):
		return "UnknownFault"
	case errors.Is(err, ErrNack):
		return "Nack"
	case errors.Is(err, ErrBreakDetected):
		return "BreakDetected"
	case errors.Is(err, ErrArbitrationLost):
		return "ArbitrationLost"
	case errors.Is(err, ErrClockStretchTimeout):
		return "ClockStretchTimeout"
	case errors.Is(err, ErrBusError):
		return "BusError"
	default:
		return "Unknown"
	}
}
