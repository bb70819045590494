// Package contract models machine-readable interface contracts: named
// invariants, per-operation pre/postconditions, timing bounds, and
// declared error kinds, evaluated by a small closed constraint
// vocabulary. A loaded contract is immutable and safely shared by every
// verifier checking that interface.
package contract

import (
	"fmt"

	"github.com/sarchlab/periphsim/hw"
)

// Timing bounds an operation's latency in microseconds.
type Timing struct {
	TypicalUs float64
	MaxUs     float64
}

// Operation is the contract for a single interface operation.
type Operation struct {
	Preconditions  []Constraint
	Postconditions []Constraint
	Timing         *Timing
	// Errors maps declared error kinds to their meaning. An error of a
	// declared kind raised during execution is contract-conforming.
	Errors map[string]string
}

// DeclaresError reports whether kind is an expected error of this
// operation.
func (o Operation) DeclaresError(kind string) bool {
	_, ok := o.Errors[kind]
	return ok
}

// Contract is a complete interface contract. Do not mutate after load.
type Contract struct {
	Interface      string
	Version        string
	Invariants     map[string]Constraint
	Operations     map[string]Operation
	StateMachine   map[string][]string
	TestProperties []string
}

// Operation returns the contract for the named operation.
func (c *Contract) Operation(name string) (Operation, error) {
	op, ok := c.Operations[name]
	if !ok {
		return Operation{}, fmt.Errorf("operation %q not in %s contract: %w",
			name, c.Interface, hw.ErrInvalidArgument)
	}
	return op, nil
}

// OperationNames returns the names of every operation the contract
// defines, in unspecified order.
func (c *Contract) OperationNames() []string {
	names := make([]string, 0, len(c.Operations))
	for name := range c.Operations {
		names = append(names, name)
	}
	return names
}
