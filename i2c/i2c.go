package i2c

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/periphsim/hw"
	"github.com/sarchlab/periphsim/timing"
)

// Standard bus speeds.
const (
	Standard sim.Freq = 100 * sim.KHz
	Fast     sim.Freq = 400 * sim.KHz
	FastPlus sim.Freq = 1 * sim.MHz
)

// 7-bit address space reserved for devices.
const (
	MinAddress uint8 = 0x08
	MaxAddress uint8 = 0x77
)

// Condition setup times from the I2C specification, in microseconds.
const (
	startSetupUs = 4.7
	stopSetupUs  = 4.0
)

// BusState is the protocol state of the bus. The bus visits exactly one
// state at a time and always returns to Idle at the end of a transaction.
type BusState int

const (
	Idle BusState = iota
	Start
	Address
	Data
	Ack
	Nack
	Stop
)

func (s BusState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Start:
		return "start"
	case Address:
		return "address"
	case Data:
		return "data"
	case Ack:
		return "ack"
	case Nack:
		return "nack"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// Transaction is an immutable record of one bus transaction.
type Transaction struct {
	Addr       uint8
	Written    []byte
	Read       []byte
	Success    bool
	StartUs    float64
	DurationUs float64
}

// Simulator is a virtual single-master I2C bus. One mutex serializes all
// bus operations; transactions never interleave.
type Simulator struct {
	mu     sync.Mutex
	engine *timing.Engine

	state    hw.State
	busState BusState
	speed    sim.Freq
	devices  map[uint8]Device

	transactions []Transaction
	historyCap   int

	hw.Injector
	metrics hw.Metrics
	history *hw.History

	sdaStuckLow   bool
	armArbLost    bool
	armClkStretch bool
}

// Option is a functional option for configuring the Simulator.
type Option func(*Simulator)

// WithEngine sets the timing engine; a private engine is created otherwise.
func WithEngine(e *timing.Engine) Option {
	return func(s *Simulator) {
		s.engine = e
	}
}

// WithHistoryCapacity bounds the transaction and event histories.
// 0 means unbounded.
func WithHistoryCapacity(n int) Option {
	return func(s *Simulator) {
		s.historyCap = n
		s.history = hw.NewHistory(n)
	}
}

// New creates an I2C bus simulator. Initialize must be called before use.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		devices:    make(map[uint8]Device),
		speed:      Standard,
		historyCap: hw.DefaultHistoryCapacity,
		history:    hw.NewHistory(hw.DefaultHistoryCapacity),
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

// Initialize configures the bus speed and activates the bus. Initializing
// an active bus only updates the speed.
func (s *Simulator) Initialize(speed sim.Freq) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if speed <= 0 {
		return fmt.Errorf("bus speed %v: %w", speed, hw.ErrInvalidArgument)
	}
	s.speed = speed
	s.busState = Idle
	s.state = hw.StateActive
	s.appendEvent("state_change", map[string]any{"new": s.state.String()})
	return nil
}

// Shutdown deactivates the bus and detaches all devices. Calling it on a
// bus that is already down is a no-op.
func (s *Simulator) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != hw.StateActive {
		return
	}
	s.state = hw.StateShutdown
	s.devices = make(map[uint8]Device)
	s.transactions = nil
	s.appendEvent("state_change", map[string]any{"new": s.state.String()})
}

// State returns the lifecycle state.
func (s *Simulator) State() hw.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BusStateNow returns the protocol state of the bus.
func (s *Simulator) BusStateNow() BusState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busState
}

// Speed returns the configured bus speed.
func (s *Simulator) Speed() sim.Freq {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// AddDevice attaches a virtual device at the given 7-bit address.
func (s *Simulator) AddDevice(addr uint8, dev Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateAddress(addr); err != nil {
		return err
	}
	if dev == nil {
		return fmt.Errorf("nil device at 0x%02X: %w", addr, hw.ErrInvalidArgument)
	}
	if _, exists := s.devices[addr]; exists {
		return fmt.Errorf("device at 0x%02X: %w", addr, hw.ErrDuplicateAddress)
	}
	s.devices[addr] = dev
	s.appendEvent("device_added", map[string]any{"address": int(addr)})
	return nil
}

// RemoveDevice detaches the device at the given address.
func (s *Simulator) RemoveDevice(addr uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[addr]; ok {
		delete(s.devices, addr)
		s.appendEvent("device_removed", map[string]any{"address": int(addr)})
	}
}

// Devices returns the attached device addresses in ascending order.
// Unlike Scan, this costs no bus time.
func (s *Simulator) Devices() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	addrs := make([]uint8, 0, len(s.devices))
	for addr := range s.devices {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// Scan probes every address in [0x08,0x77] and returns those that ACK.
// Each probe costs a full START/ADDRESS/STOP sequence of bus time.
func (s *Simulator) Scan() ([]uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return nil, err
	}
	if err := s.checkFaults(); err != nil {
		return nil, err
	}

	start := s.engine.NowUs()
	var found []uint8
	for addr := MinAddress; addr <= MaxAddress; addr++ {
		s.startCondition()
		_, ack := s.devices[addr]
		s.addressPhase(ack)
		s.stopCondition()
		if ack {
			found = append(found, addr)
		}
	}

	s.appendEvent("scan_complete", map[string]any{"found": len(found)})
	s.metrics.Record(s.engine.NowUs()-start, false)
	return found, nil
}

// Write performs START, address+W, data bytes, STOP. It returns the number
// of bytes the device accepted, or ErrNack if the address did not ACK.
func (s *Simulator) Write(addr uint8, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeLocked(addr, data, true)
}

// Read performs START, address+R, data bytes, STOP.
func (s *Simulator) Read(addr uint8, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 0 {
		return nil, fmt.Errorf("read length %d: %w", n, hw.ErrInvalidArgument)
	}
	start := s.engine.NowUs()
	data, err := s.readLocked(addr, n, true, true)
	s.record(addr, nil, data, err == nil, start)
	return data, err
}

// ReadRegister writes a register pointer then reads n bytes after a
// repeated START: the canonical register-read idiom.
func (s *Simulator) ReadRegister(addr, reg uint8, n int) ([]byte, error) {
	return s.WriteRead(addr, []byte{reg}, n)
}

// WriteRead writes out, issues a repeated START, then reads n bytes.
func (s *Simulator) WriteRead(addr uint8, out []byte, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 0 {
		return nil, fmt.Errorf("read length %d: %w", n, hw.ErrInvalidArgument)
	}

	start := s.engine.NowUs()
	if _, err := s.writeRaw(addr, out, n == 0); err != nil {
		s.record(addr, out, nil, false, start)
		return nil, err
	}

	var data []byte
	var err error
	if n > 0 {
		// Repeated START: no STOP between the write and the read.
		data, err = s.readLocked(addr, n, true, true)
	}
	s.record(addr, out, data, err == nil, start)
	return data, err
}

// Reset aborts any fault latch and returns the bus to Idle. Devices are
// reset to their power-on state.
func (s *Simulator) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	s.busState = Idle
	s.sdaStuckLow = false
	s.armArbLost = false
	s.armClkStretch = false
	for _, dev := range s.devices {
		dev.Reset()
	}
	s.appendEvent("bus_reset", nil)
	return nil
}

// Transactions returns up to limit most-recent transaction records.
// limit <= 0 returns all records.
func (s *Simulator) Transactions(limit int) []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.transactions
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	cp := make([]Transaction, len(out))
	copy(cp, out)
	return cp
}

// ClearTransactions drops the transaction history.
func (s *Simulator) ClearTransactions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = nil
}

// Metrics returns the instance's operation counters.
func (s *Simulator) Metrics() hw.MetricsSnapshot {
	return s.metrics.Snapshot()
}

// History returns the instance's event history.
func (s *Simulator) History() *hw.History {
	return s.history
}

// writeLocked performs a complete write transaction and records it.
// Caller holds s.mu.
func (s *Simulator) writeLocked(addr uint8, data []byte, record bool) (int, error) {
	start := s.engine.NowUs()
	n, err := s.writeRaw(addr, data, true)
	if record {
		s.record(addr, data, nil, err == nil, start)
	}
	return n, err
}

// writeRaw performs START, address+W, data. It issues STOP when stop is
// true; otherwise the bus is left ready for a repeated START.
func (s *Simulator) writeRaw(addr uint8, data []byte, stop bool) (int, error) {
	if err := s.checkActive(); err != nil {
		return 0, err
	}
	if err := validateAddress(addr); err != nil {
		return 0, err
	}
	if err := s.checkFaults(); err != nil {
		return 0, err
	}

	s.startCondition()
	dev, present := s.devices[addr]
	s.addressPhase(present)
	if !present {
		s.stopCondition()
		return 0, fmt.Errorf("address 0x%02X did not ack: %w", addr, hw.ErrNack)
	}

	// Data phase: 9 bit-times per byte (8 data + 1 ack).
	for range data {
		s.byteTime()
	}
	s.busState = Data
	if !dev.WriteBytes(data) {
		s.busState = Nack
		s.stopCondition()
		return 0, fmt.Errorf("device 0x%02X nacked during write: %w", addr, hw.ErrNack)
	}
	s.busState = Ack

	if stop {
		s.stopCondition()
	}
	return len(data), nil
}

// readLocked performs address+R and the data phase. A leading START (or
// repeated START) is issued when start is true; a trailing STOP when stop
// is true. Caller holds s.mu.
func (s *Simulator) readLocked(addr uint8, n int, start, stop bool) ([]byte, error) {
	if err := s.checkActive(); err != nil {
		return nil, err
	}
	if err := validateAddress(addr); err != nil {
		return nil, err
	}
	if err := s.checkFaults(); err != nil {
		return nil, err
	}

	if start {
		s.startCondition()
	}
	dev, present := s.devices[addr]
	s.addressPhase(present)
	if !present {
		s.stopCondition()
		return nil, fmt.Errorf("address 0x%02X did not ack read: %w", addr, hw.ErrNack)
	}

	s.busState = Data
	data := dev.ReadBytes(n)
	for range data {
		s.byteTime()
	}
	s.busState = Ack

	if stop {
		s.stopCondition()
	}
	return data, nil
}

func (s *Simulator) checkActive() error {
	if s.state != hw.StateActive {
		return fmt.Errorf("i2c: %w", hw.ErrNotInitialized)
	}
	return nil
}

// bitTimeUs is the duration of one SCL period at the configured speed.
func (s *Simulator) bitTimeUs() float64 {
	return 1e6 / float64(s.speed)
}

// byteTime spends the virtual time of one byte transfer: 8 data bits plus
// the ACK clock.
func (s *Simulator) byteTime() {
	s.engine.DelayUs(9 * s.bitTimeUs())
}

// startCondition models SDA falling while SCL is high (4.7us setup).
func (s *Simulator) startCondition() {
	s.engine.DelayUs(startSetupUs)
	s.busState = Start
}

// stopCondition models SDA rising while SCL is high (4.0us setup) and
// returns the bus to Idle.
func (s *Simulator) stopCondition() {
	s.engine.DelayUs(stopSetupUs)
	s.busState = Stop
	s.busState = Idle
}

// addressPhase spends one byte time on the address and resolves ACK/NACK.
func (s *Simulator) addressPhase(ack bool) {
	s.busState = Address
	s.byteTime()
	if ack {
		s.busState = Ack
	} else {
		s.busState = Nack
	}
}

// record appends a transaction and updates metrics. Caller holds s.mu.
func (s *Simulator) record(addr uint8, written, read []byte, success bool, startUs float64) {
	duration := s.engine.NowUs() - startUs
	t := Transaction{
		Addr:       addr,
		Written:    append([]byte(nil), written...),
		Read:       append([]byte(nil), read...),
		Success:    success,
		StartUs:    startUs,
		DurationUs: duration,
	}
	if s.historyCap > 0 && len(s.transactions) >= s.historyCap {
		n := copy(s.transactions, s.transactions[1:])
		s.transactions = s.transactions[:n]
	}
	s.transactions = append(s.transactions, t)
	s.metrics.Record(duration, !success)
}

func validateAddress(addr uint8) error {
	if addr < MinAddress || addr > MaxAddress {
		return fmt.Errorf("address 0x%02X outside [0x%02X,0x%02X]: %w",
			addr, MinAddress, MaxAddress, hw.ErrInvalidArgument)
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
