// Package uart simulates a framed serial link with baud-accurate
// transmission timing, hardware (RTS/CTS) and software (XON/XOFF) flow
// control, break conditions, and peer or loopback wiring between two
// simulator instances.
package uart

import (
	"fmt"
	"sync"
	"time"

	"github.com/sarchlab/periphsim/hw"
	"github.com/sarchlab/periphsim/timing"
)

// Software flow-control bytes.
const (
	XON  byte = 0x11 // DC1
	XOFF byte = 0x13 // DC3
)

// Parity selects the parity bit scheme.
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
	ParityMark
	ParitySpace
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	case ParityMark:
		return "mark"
	case ParitySpace:
		return "space"
	default:
		return "unknown"
	}
}

// FlowControl selects the flow-control scheme.
type FlowControl int

const (
	FlowNone FlowControl = iota
	FlowHardware
	FlowSoftware
)

func (f FlowControl) String() string {
	switch f {
	case FlowNone:
		return "none"
	case FlowHardware:
		return "hardware"
	case FlowSoftware:
		return "software"
	default:
		return "unknown"
	}
}

// Config holds the link configuration.
type Config struct {
	// BaudRate in bits per second.
	BaudRate int `json:"baud_rate"`
	// DataBits per frame, 5 through 9.
	DataBits int `json:"data_bits"`
	// Parity scheme; ParityNone adds no bit.
	Parity Parity `json:"parity"`
	// StopBits is 1, 1.5, or 2.
	StopBits float64 `json:"stop_bits"`
	// Flow selects the flow-control scheme.
	Flow FlowControl `json:"flow_control"`
}

// DefaultConfig returns 9600 8N1 with no flow control.
func DefaultConfig() Config {
	return Config{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   ParityNone,
		StopBits: 1,
		Flow:     FlowNone,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BaudRate <= 0 {
		return fmt.Errorf("baud rate %d: %w", c.BaudRate, hw.ErrInvalidArgument)
	}
	if c.DataBits < 5 || c.DataBits > 9 {
		return fmt.Errorf("data bits %d: %w", c.DataBits, hw.ErrInvalidArgument)
	}
	if c.StopBits != 1 && c.StopBits != 1.5 && c.StopBits != 2 {
		return fmt.Errorf("stop bits %g: %w", c.StopBits, hw.ErrInvalidArgument)
	}
	return nil
}

// FrameBits returns the number of bit times one frame occupies on the
// wire, including the start bit.
func (c Config) FrameBits() float64 {
	bits := 1 + float64(c.DataBits) + c.StopBits
	if c.Parity != ParityNone {
		bits++
	}
	return bits
}

// ByteTimeUs returns the wire time of one frame in microseconds.
func (c Config) ByteTimeUs() float64 {
	return c.FrameBits() * 1e6 / float64(c.BaudRate)
}

// Frame is one received character with its error flags.
type Frame struct {
	Data         byte
	TimeUs       float64
	ParityError  bool
	FramingError bool
	Break        bool
}

// Stats reports link counters and queue depth.
type Stats struct {
	BytesTransmitted uint64
	BytesReceived    uint64
	ParityErrors     uint64
	FramingErrors    uint64
	Overruns         uint64
	RxQueued         int
}

// rxQueueCap bounds the receive queue, modeling a hardware FIFO.
const rxQueueCap = 1024

// Simulator is one end of a virtual serial link. Connect two instances
// with ConnectPeer, or wire an instance to itself with EnableLoopback.
type Simulator struct {
	mu     sync.Mutex
	engine *timing.Engine

	state hw.State
	cfg   Config

	rx       chan Frame
	peer     *Simulator
	loopback bool

	rts      bool
	cts      bool
	xoffSeen bool

	bytesTx     uint64
	bytesRx     uint64
	parityErrs  uint64
	framingErrs uint64
	overruns    uint64

	forceParityErr  bool
	forceFramingErr bool

	hw.Injector
	metrics hw.Metrics
	history *hw.History
}

// Option is a functional option for configuring the Simulator.
type Option func(*Simulator)

// WithEngine sets the timing engine; a private engine is created otherwise.
func WithEngine(e *timing.Engine) Option {
	return func(s *Simulator) {
		s.engine = e
	}
}

// WithHistoryCapacity bounds the event history. 0 means unbounded.
func WithHistoryCapacity(n int) Option {
	return func(s *Simulator) {
		s.history = hw.NewHistory(n)
	}
}

// New creates a UART simulator. Initialize must be called before use.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		cfg:     DefaultConfig(),
		rts:     true,
		cts:     true,
		history: hw.NewHistory(hw.DefaultHistoryCapacity),
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

// Initialize applies the configuration and activates the link.
// Initializing an active link only reconfigures it.
func (s *Simulator) Initialize(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfg = cfg
	if s.rx == nil {
		s.rx = make(chan Frame, rxQueueCap)
	}
	s.state = hw.StateActive
	s.appendEvent("state_change", map[string]any{"new": s.state.String()})
	return nil
}

// Shutdown deactivates the link and drops buffered frames. Calling it on a
// link that is already down is a no-op.
func (s *Simulator) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != hw.StateActive {
		return
	}
	s.state = hw.StateShutdown
	s.drainRx()
	s.appendEvent("state_change", map[string]any{"new": s.state.String()})
}

// State returns the lifecycle state.
func (s *Simulator) State() hw.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the active configuration.
func (s *Simulator) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Write transmits data to the connected peer, the loopback path, or
// nowhere when unconnected. Each byte spends its full frame time on the
// virtual clock before it is enqueued at the receiver. Bytes blocked by
// flow control are not transmitted: Write returns a short count, never a
// flow-control error.
//
// Frames cross to the peer only after this end's lock is released, so
// opposing writes on a linked pair never hold both locks at once.
func (s *Simulator) Write(data []byte) (int, error) {
	s.mu.Lock()

	if err := s.checkActive(); err != nil {
		s.mu.Unlock()
		return 0, err
	}

	start := s.engine.NowUs()
	written := 0
	var outgoing []Frame
	for _, b := range data {
		if !s.canTransmit() {
			break
		}

		s.engine.DelayUs(s.cfg.ByteTimeUs())
		frame := Frame{Data: b, TimeUs: s.engine.NowUs()}
		if s.loopback {
			s.enqueueLocked(frame)
		} else {
			outgoing = append(outgoing, frame)
		}
		written++
		s.bytesTx++
	}

	if written > 0 {
		s.appendEvent("data_transmitted", map[string]any{"bytes": written})
	}
	s.metrics.Record(s.engine.NowUs()-start, false)
	peer := s.peer
	s.mu.Unlock()

	if peer != nil {
		for _, frame := range outgoing {
			peer.enqueue(frame)
		}
	}
	return written, nil
}

// Read collects up to max received bytes. With a positive timeout it
// blocks until enough bytes arrive or the timeout elapses; with no timeout
// it returns whatever is already buffered. A break frame terminates the
// read: buffered data collected so far is returned, or ErrBreakDetected
// when there is none.
func (s *Simulator) Read(max int, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	if err := s.checkActive(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	rx := s.rx
	s.mu.Unlock()

	if max <= 0 {
		return nil, fmt.Errorf("read length %d: %w", max, hw.ErrInvalidArgument)
	}

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	var data []byte
	for len(data) < max {
		var frame Frame
		var ok bool

		if timeout > 0 {
			select {
			case frame = <-rx:
				ok = true
			case <-timeoutC:
			}
		} else {
			select {
			case frame = <-rx:
				ok = true
			default:
			}
		}
		if !ok {
			break
		}

		if frame.Break {
			if len(data) > 0 {
				break
			}
			return nil, fmt.Errorf("uart: %w", hw.ErrBreakDetected)
		}

		s.mu.Lock()
		if frame.ParityError {
			s.parityErrs++
		}
		if frame.FramingError {
			s.framingErrs++
		}
		s.bytesRx++
		s.mu.Unlock()

		data = append(data, frame.Data)
	}

	if len(data) > 0 {
		s.mu.Lock()
		s.appendEvent("data_received", map[string]any{"bytes": len(data)})
		s.mu.Unlock()
	}
	return data, nil
}

// Flush discards any untransmitted state. Transmission is synchronous in
// virtual time, so there is never a pending transmit queue to drop.
func (s *Simulator) Flush() {}

// FlushInput discards all buffered received frames.
func (s *Simulator) FlushInput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainRx()
}

// SendBreak holds the line in the break condition for durationUs of
// virtual time and delivers a break frame to the receiver. Like Write, it
// crosses to the peer only after releasing this end's lock.
func (s *Simulator) SendBreak(durationUs float64) error {
	s.mu.Lock()

	if err := s.checkActive(); err != nil {
		s.mu.Unlock()
		return err
	}
	if durationUs < 0 {
		s.mu.Unlock()
		return fmt.Errorf("break duration %gus: %w", durationUs, hw.ErrInvalidArgument)
	}

	frame := Frame{TimeUs: s.engine.NowUs(), Break: true}
	if s.loopback {
		s.enqueueLocked(frame)
	}
	s.engine.DelayUs(durationUs)
	s.appendEvent("break_sent", map[string]any{"duration_us": durationUs})
	loopback := s.loopback
	peer := s.peer
	s.mu.Unlock()

	if !loopback && peer != nil {
		peer.enqueue(frame)
	}
	return nil
}

// SetRTS drives this end's RTS line. With hardware flow control the peer's
// CTS follows it.
func (s *Simulator) SetRTS(asserted bool) {
	s.mu.Lock()
	if s.cfg.Flow != FlowHardware {
		s.mu.Unlock()
		return
	}
	s.rts = asserted
	peer := s.peer
	s.mu.Unlock()

	if peer != nil {
		peer.mu.Lock()
		peer.cts = asserted
		peer.mu.Unlock()
	}
}

// CTS returns the state of this end's clear-to-send line.
func (s *Simulator) CTS() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cts
}

// InjectRX places data directly into this end's receive queue, as though a
// remote transmitter sent it. Error names "parity" and "framing" flag the
// first injected byte.
func (s *Simulator) InjectRX(data []byte, interCharDelayUs float64, errs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}

	parity := containsString(errs, "parity")
	framing := containsString(errs, "framing")
	for i, b := range data {
		frame := Frame{
			Data:         b,
			TimeUs:       s.engine.NowUs(),
			ParityError:  parity && i == 0,
			FramingError: framing && i == 0,
		}
		s.enqueueLocked(frame)
		if interCharDelayUs > 0 {
			s.engine.DelayUs(interCharDelayUs)
		}
	}
	return nil
}

// ConnectPeer wires two simulators back to back: bytes written on one end
// arrive at the other.
func (s *Simulator) ConnectPeer(peer *Simulator) {
	s.mu.Lock()
	s.peer = peer
	s.mu.Unlock()

	peer.mu.Lock()
	peer.peer = s
	peer.mu.Unlock()
}

// DisconnectPeer detaches both ends of the link.
func (s *Simulator) DisconnectPeer() {
	s.mu.Lock()
	peer := s.peer
	s.peer = nil
	s.mu.Unlock()

	if peer != nil {
		peer.mu.Lock()
		peer.peer = nil
		peer.mu.Unlock()
	}
}

// EnableLoopback wires the transmitter to this instance's own receiver.
func (s *Simulator) EnableLoopback(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loopback = enabled
}

// Statistics returns the link counters.
func (s *Simulator) Statistics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		BytesTransmitted: s.bytesTx,
		BytesReceived:    s.bytesRx,
		ParityErrors:     s.parityErrs,
		FramingErrors:    s.framingErrs,
		Overruns:         s.overruns,
		RxQueued:         len(s.rx),
	}
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
		return fmt.Errorf("uart: %w", hw.ErrNotInitialized)
	}
	return nil
}

// canTransmit applies the configured flow-control rule. Caller holds s.mu.
func (s *Simulator) canTransmit() bool {
	switch s.cfg.Flow {
	case FlowHardware:
		return s.cts
	case FlowSoftware:
		return !s.xoffSeen
	default:
		return true
	}
}

// enqueue accepts a frame arriving from the remote end.
func (s *Simulator) enqueue(frame Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(frame)
}

// enqueueLocked applies receive-side processing: pending error-flag
// injection, software flow-control bytes, and FIFO overrun. Caller holds
// s.mu.
func (s *Simulator) enqueueLocked(frame Frame) {
	if s.rx == nil {
		return
	}

	if s.forceParityErr && !frame.Break {
		frame.ParityError = true
		s.forceParityErr = false
	}
	if s.forceFramingErr && !frame.Break {
		frame.FramingError = true
		s.forceFramingErr = false
	}

	if s.cfg.Flow == FlowSoftware && !frame.Break {
		switch frame.Data {
		case XOFF:
			s.xoffSeen = true
		case XON:
			s.xoffSeen = false
		}
	}

	select {
	case s.rx <- frame:
	default:
		// FIFO full: the incoming frame is lost, as on real hardware.
		s.overruns++
	}
}

func (s *Simulator) drainRx() {
	if s.rx == nil {
		return
	}
	for {
		select {
		case <-s.rx:
		default:
			return
		}
	}
}

// appendEvent records a history entry. Caller holds s.mu.
func (s *Simulator) appendEvent(eventType string, data map[string]any) {
	s.history.Append(hw.Event{
		TimeUs: s.engine.NowUs(),
		Type:   eventType,
		Data:   data,
	})
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
