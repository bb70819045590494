package verify

import (
	"fmt"
	"strconv"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/periphsim/gpio"
	"github.com/sarchlab/periphsim/hw"
	"github.com/sarchlab/periphsim/i2c"
)

// GPIOAdapter exposes a gpio.Simulator as a verifiable Implementation.
// Before initialize, and again after cleanup, every pin reports the
// contract's resting state: input mode, value 0, pull off.
type GPIOAdapter struct {
	sim *gpio.Simulator
}

// NewGPIOAdapter wraps a GPIO simulator for contract verification.
func NewGPIOAdapter(s *gpio.Simulator) *GPIOAdapter {
	return &GPIOAdapter{sim: s}
}

// Simulator returns the wrapped simulator.
func (a *GPIOAdapter) Simulator() *gpio.Simulator {
	return a.sim
}

// StateSnapshot returns the controller state in the shape the GPIO
// contract constrains: an initialized flag and a pins map keyed by pin
// number.
func (a *GPIOAdapter) StateSnapshot() map[string]any {
	active := a.sim.State() == hw.StateActive

	pins := make(map[string]any, gpio.NumPins)
	for pin := 0; pin < gpio.NumPins; pin++ {
		entry := map[string]any{"mode": "input", "value": 0, "pull": "off"}
		if active {
			if ps, ok := a.sim.PinSnapshot(pin); ok {
				entry = map[string]any{
					"mode":  ps.Mode.String(),
					"value": ps.Value,
					"pull":  ps.Pull.String(),
				}
			}
		}
		pins[strconv.Itoa(pin)] = entry
	}

	return map[string]any{
		"initialized": active,
		"pins":        pins,
	}
}

// Execute dispatches a contract operation to the simulator. The
// simulator itself treats a second Initialize as a no-op; a verified
// implementation must refuse it, so the adapter raises
// AlreadyInitialized here.
func (a *GPIOAdapter) Execute(op string, args map[string]any) (any, error) {
	switch op {
	case "initialize":
		if a.sim.State() == hw.StateActive {
			return nil, fmt.Errorf("gpio controller: %w", hw.ErrAlreadyInitialized)
		}
		return nil, a.sim.Initialize()

	case "set_mode":
		pin, err := intArg(args, "pin")
		if err != nil {
			return nil, err
		}
		modeName, err := stringArg(args, "mode")
		if err != nil {
			return nil, err
		}
		mode, err := gpio.ParsePinMode(modeName)
		if err != nil {
			return nil, err
		}
		return nil, a.sim.SetMode(pin, mode)

	case "write":
		pin, err := intArg(args, "pin")
		if err != nil {
			return nil, err
		}
		value, err := intArg(args, "value")
		if err != nil {
			return nil, err
		}
		return nil, a.sim.Write(pin, value)

	case "read":
		pin, err := intArg(args, "pin")
		if err != nil {
			return nil, err
		}
		return a.sim.Read(pin)

	case "set_pull":
		pin, err := intArg(args, "pin")
		if err != nil {
			return nil, err
		}
		pullName, err := stringArg(args, "pull")
		if err != nil {
			return nil, err
		}
		pull, err := gpio.ParsePull(pullName)
		if err != nil {
			return nil, err
		}
		return nil, a.sim.SetPull(pin, pull)

	case "simulate_edge":
		pin, err := intArg(args, "pin")
		if err != nil {
			return nil, err
		}
		value, err := intArg(args, "value")
		if err != nil {
			return nil, err
		}
		delayUs := floatArgOr(args, "delay_us", 1)
		if err := a.sim.SimulateEdge(pin, value, delayUs); err != nil {
			return nil, err
		}
		a.sim.Engine().AdvanceBy(delayUs)
		return nil, nil

	case "cleanup":
		if a.sim.State() != hw.StateActive {
			return nil, fmt.Errorf("gpio controller: %w", hw.ErrNotInitialized)
		}
		a.sim.Shutdown()
		return nil, nil

	default:
		return nil, fmt.Errorf("gpio operation %q: %w", op, hw.ErrInvalidArgument)
	}
}

// I2CAdapter exposes an i2c.Simulator as a verifiable Implementation.
type I2CAdapter struct {
	sim   *i2c.Simulator
	speed sim.Freq
	seeds map[uint8]i2c.Device
}

// I2COption is a functional option for configuring the I2CAdapter.
type I2COption func(*I2CAdapter)

// WithBusSpeed sets the speed used by the initialize operation.
func WithBusSpeed(speed sim.Freq) I2COption {
	return func(a *I2CAdapter) {
		a.speed = speed
	}
}

// WithSeededDevices replaces the devices attached at initialize.
func WithSeededDevices(seeds map[uint8]i2c.Device) I2COption {
	return func(a *I2CAdapter) {
		a.seeds = seeds
	}
}

// NewI2CAdapter wraps an I2C simulator for contract verification. By
// default initialize attaches register devices at the reference
// addresses: a temperature sensor at 0x48, a real-time clock at 0x68,
// and an environmental sensor at 0x76.
func NewI2CAdapter(s *i2c.Simulator, opts ...I2COption) *I2CAdapter {
	a := &I2CAdapter{
		sim:   s,
		speed: i2c.Standard,
		seeds: map[uint8]i2c.Device{
			0x48: i2c.NewRegisterDevice(map[uint8]uint8{0x00: 0x19, 0x01: 0x60}),
			0x68: i2c.NewRegisterDevice(map[uint8]uint8{0x00: 0x00, 0x01: 0x30, 0x02: 0x12}),
			0x76: i2c.NewRegisterDevice(map[uint8]uint8{0xD0: 0x60}),
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Simulator returns the wrapped simulator.
func (a *I2CAdapter) Simulator() *i2c.Simulator {
	return a.sim
}

// StateSnapshot returns the bus state in the shape the I2C contract
// constrains.
func (a *I2CAdapter) StateSnapshot() map[string]any {
	devices := make(map[string]any)
	for _, addr := range a.sim.Devices() {
		devices[strconv.Itoa(int(addr))] = true
	}
	return map[string]any{
		"initialized": a.sim.State() == hw.StateActive,
		"bus_state":   a.sim.BusStateNow().String(),
		"devices":     devices,
	}
}

// Execute dispatches a contract operation to the simulator.
func (a *I2CAdapter) Execute(op string, args map[string]any) (any, error) {
	switch op {
	case "initialize":
		speed := a.speed
		if hz := floatArgOr(args, "speed_hz", 0); hz > 0 {
			speed = sim.Freq(hz)
		}
		if err := a.sim.Initialize(speed); err != nil {
			return nil, err
		}
		for addr, dev := range a.seeds {
			if err := a.sim.AddDevice(addr, dev); err != nil && !isDuplicate(err) {
				return nil, err
			}
		}
		return nil, nil

	case "scan":
		return a.sim.Scan()

	case "write":
		addr, err := addrArg(args)
		if err != nil {
			return nil, err
		}
		data, err := bytesArg(args, "data")
		if err != nil {
			return nil, err
		}
		return a.sim.Write(addr, data)

	case "read":
		addr, err := addrArg(args)
		if err != nil {
			return nil, err
		}
		count, err := intArg(args, "count")
		if err != nil {
			return nil, err
		}
		return a.sim.Read(addr, count)

	case "write_read":
		addr, err := addrArg(args)
		if err != nil {
			return nil, err
		}
		data, err := bytesArg(args, "data")
		if err != nil {
			return nil, err
		}
		count, err := intArg(args, "count")
		if err != nil {
			return nil, err
		}
		return a.sim.WriteRead(addr, data, count)

	case "reset":
		return nil, a.sim.Reset()

	default:
		return nil, fmt.Errorf("i2c operation %q: %w", op, hw.ErrInvalidArgument)
	}
}

func isDuplicate(err error) bool {
	return hw.KindOf(err) == "DuplicateAddress"
}

func intArg(args map[string]any, name string) (int, error) {
	v, ok := args[name]
	if !ok {
		return 0, fmt.Errorf("missing argument %q: %w", name, hw.ErrInvalidArgument)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case uint8:
		return int(n), nil
	default:
		return 0, fmt.Errorf("argument %q has type %T: %w", name, v, hw.ErrInvalidArgument)
	}
}

func addrArg(args map[string]any) (uint8, error) {
	n, err := intArg(args, "addr")
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 0xFF {
		return 0, fmt.Errorf("address %d: %w", n, hw.ErrInvalidArgument)
	}
	return uint8(n), nil
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing argument %q: %w", name, hw.ErrInvalidArgument)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q has type %T: %w", name, v, hw.ErrInvalidArgument)
	}
	return s, nil
}

func floatArgOr(args map[string]any, name string, fallback float64) float64 {
	v, ok := args[name]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return fallback
	}
}

func bytesArg(args map[string]any, name string) ([]byte, error) {
	v, ok := args[name]
	if !ok {
		return nil, fmt.Errorf("missing argument %q: %w", name, hw.ErrInvalidArgument)
	}
	switch d := v.(type) {
	case []byte:
		return d, nil
	case []int:
		out := make([]byte, len(d))
		for i, n := range d {
			out[i] = byte(n)
		}
		return out, nil
	case []any:
		out := make([]byte, len(d))
		for i, e := range d {
			n, ok := e.(int)
			if !ok {
				return nil, fmt.Errorf("argument %q element %d has type %T: %w",
					name, i, e, hw.ErrInvalidArgument)
			}
			out[i] = byte(n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("argument %q has type %T: %w", name, v, hw.ErrInvalidArgument)
	}
}
