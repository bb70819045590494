package verify

import (
	"fmt"

	"github.com/sarchlab/periphsim/contract"
	"github.com/sarchlab/periphsim/gpio"
	"github.com/sarchlab/periphsim/hw"
	"github.com/sarchlab/periphsim/i2c"
	"github.com/sarchlab/periphsim/timing"
)

// NewCompliantMock builds an implementation whose initial state already
// satisfies the contract's invariants, backed by the matching simulator
// on the given engine. The same contract is both the specification and
// the seed for the mock, so a freshly built mock passes CheckInvariants
// before any operation runs.
func NewCompliantMock(c *contract.Contract, engine *timing.Engine) (Implementation, error) {
	if engine == nil {
		engine = timing.NewEngine()
	}

	switch c.Interface {
	case "GPIO":
		return NewGPIOAdapter(gpio.New(gpio.WithEngine(engine))), nil
	case "I2C":
		return NewI2CAdapter(i2c.New(i2c.WithEngine(engine))), nil
	default:
		return nil, fmt.Errorf("no mock for interface %q: %w",
			c.Interface, hw.ErrInvalidArgument)
	}
}

// NewVerifiedMock builds a compliant mock plus a verifier wired to it,
// timing operations on the engine's virtual clock.
func NewVerifiedMock(
	c *contract.Contract,
	engine *timing.Engine,
	opts ...Option,
) (Implementation, *Verifier, error) {
	if engine == nil {
		engine = timing.NewEngine()
	}

	impl, err := NewCompliantMock(c, engine)
	if err != nil {
		return nil, nil, err
	}

	opts = append([]Option{WithClockFunc(engine.NowUs)}, opts...)
	return impl, NewVerifier(c, impl, opts...), nil
}
