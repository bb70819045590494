// Package verify checks implementations against interface contracts. A
// Verifier wraps any Implementation and evaluates the contract's
// preconditions, postconditions, invariants, and timing bounds around
// each operation, accumulating violations instead of failing fast so a
// whole operation sequence produces one complete report.
package verify

import (
	"fmt"
	"time"

	"github.com/sarchlab/periphsim/contract"
	"github.com/sarchlab/periphsim/hw"
)

// Implementation is anything the verifier can drive: the bundled
// simulators through their adapters, or an alternative implementation
// under test.
type Implementation interface {
	// StateSnapshot returns the observable state as a nested
	// string-keyed map, the shape contract constraints resolve against.
	StateSnapshot() map[string]any
	// Execute runs one named operation with keyword arguments.
	Execute(op string, args map[string]any) (any, error)
}

// ViolationKind classifies a contract violation.
type ViolationKind int

const (
	ViolationPrecondition ViolationKind = iota
	ViolationPostcondition
	ViolationInvariant
	ViolationTiming
)

func (k ViolationKind) String() string {
	switch k {
	case ViolationPrecondition:
		return "precondition"
	case ViolationPostcondition:
		return "postcondition"
	case ViolationInvariant:
		return "invariant"
	case ViolationTiming:
		return "timing"
	default:
		return "unknown"
	}
}

// Violation is one recorded contract violation.
type Violation struct {
	Operation string
	Kind      ViolationKind
	Expected  string
	Actual    string
	Context   map[string]any
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s violation: expected %s, got %s",
		v.Operation, v.Kind, v.Expected, v.Actual)
}

// Verifier checks one Implementation against one Contract. Violations
// accumulate for the lifetime of the verifier; they are recorded, never
// returned as errors, so a sequence runs to completion.
type Verifier struct {
	contract   *contract.Contract
	impl       Implementation
	nowUs      func() float64
	violations []Violation
}

// Option is a functional option for configuring the Verifier.
type Option func(*Verifier)

// WithClockFunc sets the clock used to time operations, in microseconds.
// Pass the timing engine's NowUs to measure virtual latency; the default
// is the wall clock.
func WithClockFunc(nowUs func() float64) Option {
	return func(v *Verifier) {
		v.nowUs = nowUs
	}
}

// NewVerifier creates a verifier for impl against c.
func NewVerifier(c *contract.Contract, impl Implementation, opts ...Option) *Verifier {
	v := &Verifier{
		contract: c,
		impl:     impl,
		nowUs: func() float64 {
			return float64(time.Now().UnixNano()) / 1e3
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Contract returns the contract being verified against.
func (v *Verifier) Contract() *contract.Contract {
	return v.contract
}

// CheckPreconditions evaluates the operation's preconditions against the
// current state merged with the call arguments. Each failed constraint
// is recorded.
func (v *Verifier) CheckPreconditions(op string, args map[string]any) bool {
	spec, err := v.contract.Operation(op)
	if err != nil {
		return false
	}

	ctx := v.impl.StateSnapshot()
	for k, val := range args {
		ctx[k] = val
	}

	ok := true
	for _, c := range spec.Preconditions {
		if !c.Eval(ctx) {
			v.violations = append(v.violations, Violation{
				Operation: op,
				Kind:      ViolationPrecondition,
				Expected:  c.String(),
				Actual:    contract.Actual(c, ctx),
				Context:   map[string]any{"args": args},
			})
			ok = false
		}
	}
	return ok
}

// CheckPostconditions evaluates the operation's postconditions against a
// context holding the old state under "old", the new state under "new",
// the operation result under "result", and the call arguments at the top
// level.
func (v *Verifier) CheckPostconditions(
	op string,
	oldState, newState map[string]any,
	result any,
	args map[string]any,
) bool {
	spec, err := v.contract.Operation(op)
	if err != nil {
		return false
	}

	ctx := map[string]any{
		"old":    oldState,
		"new":    newState,
		"result": result,
	}
	for k, val := range args {
		ctx[k] = val
	}

	ok := true
	for _, c := range spec.Postconditions {
		if !c.Eval(ctx) {
			v.violations = append(v.violations, Violation{
				Operation: op,
				Kind:      ViolationPostcondition,
				Expected:  c.String(),
				Actual:    contract.Actual(c, ctx),
				Context:   map[string]any{"args": args, "result": result},
			})
			ok = false
		}
	}
	return ok
}

// CheckInvariants evaluates every contract invariant against the current
// state.
func (v *Verifier) CheckInvariants() bool {
	state := v.impl.StateSnapshot()

	ok := true
	for name, c := range v.contract.Invariants {
		if !c.Eval(state) {
			v.violations = append(v.violations, Violation{
				Operation: "invariant_check",
				Kind:      ViolationInvariant,
				Expected:  c.String(),
				Actual:    contract.Actual(c, state),
				Context:   map[string]any{"invariant": name},
			})
			ok = false
		}
	}
	return ok
}

// CheckTiming verifies elapsedUs against the operation's maximum
// latency. Operations without timing bounds always pass.
func (v *Verifier) CheckTiming(op string, elapsedUs float64) bool {
	spec, err := v.contract.Operation(op)
	if err != nil {
		return false
	}
	if spec.Timing == nil || spec.Timing.MaxUs <= 0 {
		return true
	}
	if elapsedUs <= spec.Timing.MaxUs {
		return true
	}

	v.violations = append(v.violations, Violation{
		Operation: op,
		Kind:      ViolationTiming,
		Expected:  fmt.Sprintf("<= %gus", spec.Timing.MaxUs),
		Actual:    fmt.Sprintf("%gus", elapsedUs),
		Context:   map[string]any{"typical_us": spec.Timing.TypicalUs},
	})
	return false
}

// ExecuteWithVerification runs one operation under full contract
// checking: preconditions, state snapshot, timed execution,
// declared-error filtering, postconditions, invariants, timing. A
// precondition failure returns (nil, false, nil) without executing. An
// execution error of a kind the contract declares is conforming: the
// error is returned as the result with ok true. An undeclared error is
// returned as the error with ok false.
func (v *Verifier) ExecuteWithVerification(op string, args map[string]any) (any, bool, error) {
	spec, err := v.contract.Operation(op)
	if err != nil {
		return nil, false, err
	}

	if !v.CheckPreconditions(op, args) {
		return nil, false, nil
	}

	oldState := v.impl.StateSnapshot()
	start := v.nowUs()
	result, execErr := v.impl.Execute(op, args)
	elapsed := v.nowUs() - start

	if execErr != nil {
		if spec.DeclaresError(hw.KindOf(execErr)) {
			return execErr, true, nil
		}
		return nil, false, execErr
	}

	newState := v.impl.StateSnapshot()
	ok := v.CheckTiming(op, elapsed)
	ok = v.CheckPostconditions(op, oldState, newState, result, args) && ok
	ok = v.CheckInvariants() && ok
	return result, ok, nil
}

// Violations returns the accumulated violations in order of detection.
func (v *Verifier) Violations() []Violation {
	out := make([]Violation, len(v.violations))
	copy(out, v.violations)
	return out
}

// Reset clears the accumulated violations.
func (v *Verifier) Reset() {
	v.violations = nil
}
