// Package spi simulates a full-duplex SPI bus with all four CPOL/CPHA
// clock modes, configurable bit order, and a strict at-most-one-asserted
// chip-select protocol.
package spi

import (
	"fmt"
	"sync"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/periphsim/hw"
	"github.com/sarchlab/periphsim/timing"
)

// Mode is a CPOL/CPHA pair selecting the idle clock level and the sampling
// edge.
type Mode int

const (
	// Mode0 is CPOL=0, CPHA=0: idle low, sample on the leading edge.
	Mode0 Mode = iota
	// Mode1 is CPOL=0, CPHA=1: idle low, sample on the trailing edge.
	Mode1
	// Mode2 is CPOL=1, CPHA=0: idle high, sample on the leading edge.
	Mode2
	// Mode3 is CPOL=1, CPHA=1: idle high, sample on the trailing edge.
	Mode3
)

// CPOL returns the idle clock polarity.
func (m Mode) CPOL() int {
	return int(m) >> 1 & 1
}

// CPHA returns the clock phase: 0 samples on the leading edge, 1 on the
// trailing edge.
func (m Mode) CPHA() int {
	return int(m) & 1
}

func (m Mode) String() string {
	return fmt.Sprintf("mode%d", int(m))
}

// Chip-select setup and hold windows, in microseconds.
const (
	csSetupUs = 0.05
	csHoldUs  = 0.05
)

// Config holds the bus configuration.
type Config struct {
	// Speed is the SCLK frequency.
	Speed sim.Freq `json:"speed_hz"`
	// Mode is the CPOL/CPHA pair.
	Mode Mode `json:"mode"`
	// BitsPerWord is the word size. Only 8 is supported.
	BitsPerWord int `json:"bits_per_word"`
	// LSBFirst shifts the least-significant bit first.
	LSBFirst bool `json:"lsb_first"`
	// CSActiveHigh inverts the chip-select polarity.
	CSActiveHigh bool `json:"cs_active_high"`
}

// DefaultConfig returns a 1 MHz mode-0 MSB-first configuration.
func DefaultConfig() Config {
	return Config{
		Speed:       1 * sim.MHz,
		Mode:        Mode0,
		BitsPerWord: 8,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Speed <= 0 {
		return fmt.Errorf("speed must be > 0: %w", hw.ErrInvalidArgument)
	}
	if c.Mode < Mode0 || c.Mode > Mode3 {
		return fmt.Errorf("mode %d: %w", c.Mode, hw.ErrInvalidArgument)
	}
	if c.BitsPerWord != 8 {
		return fmt.Errorf("bits per word %d (only 8 supported): %w",
			c.BitsPerWord, hw.ErrInvalidArgument)
	}
	return nil
}

// Device is a virtual peripheral attached to one chip-select line.
type Device interface {
	// Select is called when the device's chip select asserts.
	Select()
	// Deselect is called when the chip select releases.
	Deselect()
	// TransferByte returns the byte clocked out while tx is clocked in.
	TransferByte(tx byte) byte
	// Reset returns the device to its power-on state.
	Reset()
}

// Transaction is an immutable record of one full-duplex transfer.
type Transaction struct {
	ChipSelect int
	TX         []byte
	RX         []byte
	Success    bool
	StartUs    float64
	DurationUs float64
}

// Lines is a snapshot of the bus signal levels.
type Lines struct {
	MOSI int
	MISO int
	SCLK int
	CS   map[int]int
}

// Simulator is a virtual SPI bus. At most one chip select is asserted at
// any instant.
type Simulator struct {
	mu     sync.Mutex
	engine *timing.Engine

	state   hw.State
	cfg     Config
	devices map[int]Device

	currentCS *int
	mosi      int
	miso      int
	sclk      int
	csLines   map[int]int

	transactions []Transaction
	historyCap   int

	hw.Injector
	metrics hw.Metrics
	history *hw.History

	misoStuck      *int
	armClockGlitch bool
	armCSGlitch    bool
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

// New creates an SPI bus simulator. Initialize must be called before use.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		devices:    make(map[int]Device),
		csLines:    make(map[int]int),
		cfg:        DefaultConfig(),
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

// Initialize applies the configuration and activates the bus. Initializing
// an active bus only reconfigures it.
func (s *Simulator) Initialize(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.applyConfig(cfg); err != nil {
		return err
	}
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
	s.devices = make(map[int]Device)
	s.csLines = make(map[int]int)
	s.currentCS = nil
	s.transactions = nil
	s.appendEvent("state_change", map[string]any{"new": s.state.String()})
}

// State returns the lifecycle state.
func (s *Simulator) State() hw.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Configure updates the bus configuration between transfers.
func (s *Simulator) Configure(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	if s.currentCS != nil {
		return fmt.Errorf("reconfigure while cs%d asserted: %w",
			*s.currentCS, hw.ErrDeviceBusy)
	}
	return s.applyConfig(cfg)
}

// Config returns the active configuration.
func (s *Simulator) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// AddDevice attaches a virtual device to a chip-select line.
func (s *Simulator) AddDevice(chipSelect int, dev Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if chipSelect < 0 {
		return fmt.Errorf("chip select %d: %w", chipSelect, hw.ErrInvalidArgument)
	}
	if dev == nil {
		return fmt.Errorf("nil device on cs%d: %w", chipSelect, hw.ErrInvalidArgument)
	}
	if _, exists := s.devices[chipSelect]; exists {
		return fmt.Errorf("device on cs%d: %w", chipSelect, hw.ErrDuplicateAddress)
	}
	s.devices[chipSelect] = dev
	s.csLines[chipSelect] = s.inactiveLevel()
	s.appendEvent("device_added", map[string]any{"chip_select": chipSelect})
	return nil
}

// RemoveDevice detaches the device on a chip-select line.
func (s *Simulator) RemoveDevice(chipSelect int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[chipSelect]; ok {
		delete(s.devices, chipSelect)
		delete(s.csLines, chipSelect)
		s.appendEvent("device_removed", map[string]any{"chip_select": chipSelect})
	}
}

// AssertCS asserts a chip-select line and holds it across transfers, the
// way drivers do for multi-transfer command sequences. Asserting while a
// different line is active fails with ErrDeviceBusy.
func (s *Simulator) AssertCS(chipSelect int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	return s.assertCS(chipSelect)
}

// ReleaseCS releases a held chip-select line.
func (s *Simulator) ReleaseCS(chipSelect int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	if s.currentCS == nil || *s.currentCS != chipSelect {
		return fmt.Errorf("cs%d is not asserted: %w", chipSelect, hw.ErrInvalidArgument)
	}
	s.deassertCS(chipSelect)
	return nil
}

// Transfer performs a full-duplex transfer: every transmitted byte clocks
// in a received byte, so len(rx) always equals len(tx). The chip select is
// asserted for the duration of the call unless the caller already holds it
// via AssertCS.
func (s *Simulator) Transfer(tx []byte, chipSelect int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return nil, err
	}

	start := s.engine.NowUs()
	held := s.currentCS != nil && *s.currentCS == chipSelect
	if !held {
		if err := s.assertCS(chipSelect); err != nil {
			s.metrics.Record(0, true)
			return nil, err
		}
	}

	dev := s.devices[chipSelect]
	rx := make([]byte, 0, len(tx))
	// Armed glitches land after the first half of the bytes, never before
	// the first byte has been clocked.
	mid := (len(tx) + 1) / 2
	for i, b := range tx {
		rx = append(rx, s.transferByte(b, dev))
		if i+1 == mid {
			s.applyMidTransferFaults(chipSelect)
		}
	}

	if !held {
		s.deassertCS(chipSelect)
	}

	s.record(chipSelect, tx, rx, true, start)
	return rx, nil
}

// BusLines returns a snapshot of the signal levels.
func (s *Simulator) BusLines() Lines {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := make(map[int]int, len(s.csLines))
	for k, v := range s.csLines {
		cs[k] = v
	}
	return Lines{MOSI: s.mosi, MISO: s.miso, SCLK: s.sclk, CS: cs}
}

// Transactions returns up to limit most-recent transfer records.
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

// Metrics returns the instance's operation counters.
func (s *Simulator) Metrics() hw.MetricsSnapshot {
	return s.metrics.Snapshot()
}

// History returns the instance's event history.
func (s *Simulator) History() *hw.History {
	return s.history
}

func (s *Simulator) applyConfig(cfg Config) error {
	if cfg.BitsPerWord == 0 {
		cfg.BitsPerWord = 8
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfg = cfg
	s.sclk = cfg.Mode.CPOL()
	for cs := range s.csLines {
		s.csLines[cs] = s.inactiveLevel()
	}
	return nil
}

func (s *Simulator) checkActive() error {
	if s.state != hw.StateActive {
		return fmt.Errorf("spi: %w", hw.ErrNotInitialized)
	}
	return nil
}

func (s *Simulator) activeLevel() int {
	if s.cfg.CSActiveHigh {
		return 1
	}
	return 0
}

func (s *Simulator) inactiveLevel() int {
	return 1 - s.activeLevel()
}

// assertCS asserts one chip-select line after the setup window.
// Caller holds s.mu.
func (s *Simulator) assertCS(chipSelect int) error {
	if s.currentCS != nil {
		return fmt.Errorf("cs%d already asserted, cannot assert cs%d: %w",
			*s.currentCS, chipSelect, hw.ErrDeviceBusy)
	}

	s.engine.DelayUs(csSetupUs)
	s.csLines[chipSelect] = s.activeLevel()
	cs := chipSelect
	s.currentCS = &cs

	if dev, ok := s.devices[chipSelect]; ok {
		dev.Select()
	}
	return nil
}

// deassertCS releases the chip-select line after the hold window.
// Caller holds s.mu.
func (s *Simulator) deassertCS(chipSelect int) {
	s.engine.DelayUs(csHoldUs)
	s.csLines[chipSelect] = s.inactiveLevel()
	s.currentCS = nil

	if dev, ok := s.devices[chipSelect]; ok {
		dev.Deselect()
	}
}

// transferByte shifts one byte in each direction with bit-level clock
// timing. Without an attached device the MISO line reads all ones, as a
// floating line pulled high would. Caller holds s.mu.
func (s *Simulator) transferByte(tx byte, dev Device) byte {
	cpol := s.cfg.Mode.CPOL()
	cpha := s.cfg.Mode.CPHA()
	halfBitUs := 1e6 / float64(s.cfg.Speed) / 2

	response := byte(0xFF)
	if dev != nil {
		response = dev.TransferByte(tx)
	}

	var rx byte
	for bit := 0; bit < 8; bit++ {
		pos := 7 - bit
		if s.cfg.LSBFirst {
			pos = bit
		}

		s.mosi = int(tx>>pos) & 1
		misoBit := int(response>>pos) & 1
		if s.misoStuck != nil {
			misoBit = *s.misoStuck
		}

		// Leading edge.
		s.sclk = 1 - cpol
		if cpha == 0 {
			s.miso = misoBit
			rx |= byte(misoBit) << pos
		}
		s.engine.DelayUs(halfBitUs)

		// Trailing edge.
		s.sclk = cpol
		if cpha == 1 {
			s.miso = misoBit
			rx |= byte(misoBit) << pos
		}
		s.engine.DelayUs(halfBitUs)
	}
	return rx
}

// record appends a transaction and updates metrics. Caller holds s.mu.
func (s *Simulator) record(chipSelect int, tx, rx []byte, success bool, startUs float64) {
	duration := s.engine.NowUs() - startUs
	t := Transaction{
		ChipSelect: chipSelect,
		TX:         append([]byte(nil), tx...),
		RX:         append([]byte(nil), rx...),
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

// appendEvent records a history entry. Caller holds s.mu.
func (s *Simulator) appendEvent(eventType string, data map[string]any) {
	s.history.Append(hw.Event{
		TimeUs: s.engine.NowUs(),
		Type:   eventType,
		Data:   data,
	})
}
