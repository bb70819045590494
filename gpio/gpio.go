// Package gpio simulates a 28-pin GPIO controller with protocol-accurate
// pin state, pull resistors, edge detection with debounce, and asynchronous
// interrupt delivery over a dedicated consumer goroutine.
package gpio

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"

	"github.com/sarchlab/periphsim/hw"
	"github.com/sarchlab/periphsim/timing"
)

// NumPins is the number of GPIO pins on the reference platform (0..27).
const NumPins = 28

// PinMode selects whether a pin is driven externally or by the controller.
type PinMode int

const (
	// Input pins reflect externally simulated signals and pull resistors.
	Input PinMode = iota
	// Output pins hold the last written value.
	Output
)

func (m PinMode) String() string {
	switch m {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// ParsePinMode converts a mode name to a PinMode.
func ParsePinMode(s string) (PinMode, error) {
	switch s {
	case "input":
		return Input, nil
	case "output":
		return Output, nil
	default:
		return 0, fmt.Errorf("pin mode %q: %w", s, hw.ErrInvalidArgument)
	}
}

// Pull selects the pull resistor configuration of an input pin.
type Pull int

const (
	// PullOff disables the pull resistor.
	PullOff Pull = iota
	// PullDown pulls the pin to 0 when not externally driven.
	PullDown
	// PullUp pulls the pin to 1 when not externally driven.
	PullUp
)

func (p Pull) String() string {
	switch p {
	case PullOff:
		return "off"
	case PullDown:
		return "down"
	case PullUp:
		return "up"
	default:
		return "unknown"
	}
}

// ParsePull converts a pull name to a Pull.
func ParsePull(s string) (Pull, error) {
	switch s {
	case "off", "none":
		return PullOff, nil
	case "down":
		return PullDown, nil
	case "up":
		return PullUp, nil
	default:
		return 0, fmt.Errorf("pull mode %q: %w", s, hw.ErrInvalidArgument)
	}
}

// Edge selects which transitions a watch reports.
type Edge int

const (
	// Rising reports 0 -> 1 transitions.
	Rising Edge = iota
	// Falling reports 1 -> 0 transitions.
	Falling
	// Both reports all transitions.
	Both
)

func (e Edge) String() string {
	switch e {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	case Both:
		return "both"
	default:
		return "unknown"
	}
}

// ParseEdge converts an edge name to an Edge.
func ParseEdge(s string) (Edge, error) {
	switch s {
	case "rising":
		return Rising, nil
	case "falling":
		return Falling, nil
	case "both":
		return Both, nil
	default:
		return 0, fmt.Errorf("edge type %q: %w", s, hw.ErrInvalidArgument)
	}
}

// PinState is the complete observable state of one pin.
type PinState struct {
	Mode       PinMode
	Value      int
	Pull       Pull
	EdgeDetect *Edge
}

// EdgeEvent is delivered to edge callbacks.
type EdgeEvent struct {
	Pin    int
	Edge   Edge
	TimeUs float64
	Value  int
}

// Callback receives edge events off the caller's stack.
type Callback func(EdgeEvent)

type watch struct {
	edge       Edge
	debounceUs float64
	callbacks  []Callback
}

// Operation delays, modeling setup, propagation, and read sampling times.
const (
	setupDelayNs = 50
	writeDelayNs = 10
	readDelayNs  = 5
)

const deliveryQueueCap = 64

// Simulator is a virtual GPIO controller.
//
// Edge callbacks are delivered by one consumer goroutine per instance, so
// interrupt servicing is decoupled from signal generation the way a real
// interrupt line is.
type Simulator struct {
	mu     sync.Mutex
	engine *timing.Engine
	logger *log.Logger

	state           hw.State
	pins            map[int]*PinState
	watches         map[int]*watch
	lastDeliveredUs map[int]float64
	stuck           map[int]bool
	floating        map[int]bool

	deliver    chan EdgeEvent
	workerDone chan struct{}

	hw.Injector
	metrics hw.Metrics
	history *hw.History

	rng *rand.Rand
}

// Option is a functional option for configuring the Simulator.
type Option func(*Simulator)

// WithEngine sets the timing engine; a private engine is created otherwise.
func WithEngine(e *timing.Engine) Option {
	return func(s *Simulator) {
		s.engine = e
	}
}

// WithLogger sets the logger used to report callback panics.
func WithLogger(l *log.Logger) Option {
	return func(s *Simulator) {
		s.logger = l
	}
}

// WithHistoryCapacity bounds the event history. 0 means unbounded.
func WithHistoryCapacity(n int) Option {
	return func(s *Simulator) {
		s.history = hw.NewHistory(n)
	}
}

// WithRandSeed seeds the generator used by the floating-pin fault.
func WithRandSeed(seed int64) Option {
	return func(s *Simulator) {
		s.rng = rand.New(rand.NewSource(seed))
	}
}

// New creates a GPIO simulator. Initialize must be called before use.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		pins:            make(map[int]*PinState),
		watches:         make(map[int]*watch),
		lastDeliveredUs: make(map[int]float64),
		stuck:           make(map[int]bool),
		floating:        make(map[int]bool),
		logger:          log.New(os.Stderr, "", log.LstdFlags),
		history:         hw.NewHistory(hw.DefaultHistoryCapacity),
		rng:             rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = timing.NewEngine()
	}
	return s
}

// Engine returns the timing engine driving this simulator.
func (s *Simulator) Engine() *timing.Engine {
	return s.engine
}

// Initialize starts the interrupt delivery worker. It is idempotent:
// initializing an active simulator is not an error.
func (s *Simulator) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == hw.StateActive {
		return nil
	}

	s.deliver = make(chan EdgeEvent, deliveryQueueCap)
	s.workerDone = make(chan struct{})
	go s.deliveryLoop(s.deliver, s.workerDone)

	s.state = hw.StateActive
	s.appendEvent("state_change", map[string]any{"new": s.state.String()})
	return nil
}

// Shutdown stops the delivery worker and clears all pin state. Calling it
// on a simulator that is already down is a no-op.
func (s *Simulator) Shutdown() {
	s.mu.Lock()
	if s.state != hw.StateActive {
		s.mu.Unlock()
		return
	}
	s.state = hw.StateShutdown
	deliver := s.deliver
	done := s.workerDone
	s.pins = make(map[int]*PinState)
	s.watches = make(map[int]*watch)
	s.lastDeliveredUs = make(map[int]float64)
	s.stuck = make(map[int]bool)
	s.floating = make(map[int]bool)
	s.appendEvent("state_change", map[string]any{"new": s.state.String()})
	s.mu.Unlock()

	close(deliver)
	waitWithTimeout(done)
}

// State returns the lifecycle state.
func (s *Simulator) State() hw.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetMode configures a pin as Input or Output, creating it on first use.
func (s *Simulator) SetMode(pin int, mode PinMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	if err := validatePin(pin); err != nil {
		return err
	}
	if mode != Input && mode != Output {
		return fmt.Errorf("pin %d mode %d: %w", pin, mode, hw.ErrInvalidArgument)
	}

	s.engine.DelayNs(setupDelayNs)

	ps, ok := s.pins[pin]
	if !ok {
		ps = &PinState{}
		s.pins[pin] = ps
	}
	ps.Mode = mode

	s.appendEvent("pin_setup", map[string]any{"pin": pin, "mode": mode.String()})
	s.metrics.Record(0.001*setupDelayNs, false)
	return nil
}

// Mode returns the configured mode of a pin.
func (s *Simulator) Mode(pin int) (PinMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, err := s.configuredPin(pin)
	if err != nil {
		return 0, err
	}
	return ps.Mode, nil
}

// Write drives an output pin to 0 or 1.
func (s *Simulator) Write(pin, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	ps, err := s.configuredPin(pin)
	if err != nil {
		s.metrics.Record(0, true)
		return err
	}
	if ps.Mode != Output {
		s.metrics.Record(0, true)
		return fmt.Errorf("write pin %d requires output mode: %w",
			pin, hw.ErrInvalidDirection)
	}
	if value != 0 && value != 1 {
		s.metrics.Record(0, true)
		return fmt.Errorf("pin value %d: %w", value, hw.ErrInvalidArgument)
	}

	s.engine.DelayNs(writeDelayNs)

	if s.stuck[pin] {
		// The line is physically stuck: the write succeeds from the
		// driver's point of view but the level does not move.
		s.metrics.Record(0.001*writeDelayNs, false)
		return nil
	}

	old := ps.Value
	ps.Value = value
	if old != value {
		s.appendEvent("pin_change", map[string]any{
			"pin": pin, "old": old, "new": value,
		})
	}
	s.metrics.Record(0.001*writeDelayNs, false)
	return nil
}

// Read returns the current level of a configured pin.
func (s *Simulator) Read(pin int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return 0, err
	}
	ps, err := s.configuredPin(pin)
	if err != nil {
		s.metrics.Record(0, true)
		return 0, err
	}

	s.engine.DelayNs(readDelayNs)
	s.metrics.Record(0.001*readDelayNs, false)
	return ps.Value, nil
}

// SetPull configures the pull resistor of an input pin. The pin level
// immediately reflects the pull because no external driver is active.
func (s *Simulator) SetPull(pin int, pull Pull) error {
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
		return fmt.Errorf("set pull on pin %d requires input mode: %w",
			pin, hw.ErrInvalidDirection)
	}
	if pull != PullOff && pull != PullUp && pull != PullDown {
		return fmt.Errorf("pull %d: %w", pull, hw.ErrInvalidArgument)
	}

	s.engine.DelayNs(setupDelayNs)

	ps.Pull = pull
	switch pull {
	case PullUp:
		ps.Value = 1
	case PullDown:
		ps.Value = 0
	}

	s.appendEvent("pin_setup", map[string]any{"pin": pin, "pull": pull.String()})
	s.metrics.Record(0.001*setupDelayNs, false)
	return nil
}

// PullMode returns the configured pull of a pin.
func (s *Simulator) PullMode(pin int) (Pull, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, err := s.configuredPin(pin)
	if err != nil {
		return 0, err
	}
	return ps.Pull, nil
}

// PinSnapshot returns a copy of a pin's state, or false when the pin has
// never been configured.
func (s *Simulator) PinSnapshot(pin int) (PinState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.pins[pin]
	if !ok {
		return PinState{}, false
	}
	return *ps, true
}

// AllPins returns a copy of every configured pin's state.
func (s *Simulator) AllPins() map[int]PinState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]PinState, len(s.pins))
	for pin, ps := range s.pins {
		out[pin] = *ps
	}
	return out
}

// Metrics returns the instance's operation counters.
func (s *Simulator) Metrics() hw.MetricsSnapshot {
	return s.metrics.Snapshot()
}

// History returns the instance's event history.
func (s *Simulator) History() *hw.History {
	return s.history
}

func (s *Simulator) checkActive() error {
	if s.state != hw.StateActive {
		return fmt.Errorf("gpio: %w", hw.ErrNotInitialized)
	}
	return nil
}

func (s *Simulator) configuredPin(pin int) (*PinState, error) {
	if err := validatePin(pin); err != nil {
		return nil, err
	}
	ps, ok := s.pins[pin]
	if !ok {
		return nil, fmt.Errorf("pin %d: %w", pin, hw.ErrNotConfigured)
	}
	return ps, nil
}

func validatePin(pin int) error {
	if pin < 0 || pin >= NumPins {
		return fmt.Errorf("pin %d out of range [0,%d]: %w",
			pin, NumPins-1, hw.ErrInvalidArgument)
	}
	return nil
}

// appendEvent records a history entry. Caller holds s.mu.
func (s *Simulator) appendEvent(eventType string, data map[string]any) {
	s.history.Append(hw.Event{
		TimeUs: s.engine.NowUs(),
		Type:   eventType,
		Data:   data,
	})
}
