// Package i2c simulates a single-master I2C bus with a protocol-accurate
// START/ADDRESS/ACK state machine, per-byte bit timing derived from the bus
// speed, and an inspectable transaction history.
package i2c

import "sync"

// Device is a virtual peripheral attached to the bus at one address.
type Device interface {
	// WriteBytes handles a master write. Returning false NACKs the
	// transfer.
	WriteBytes(data []byte) bool
	// ReadBytes handles a master read of n bytes.
	ReadBytes(n int) []byte
	// Reset returns the device to its power-on state.
	Reset()
}

// RegisterDevice is a Device backed by an 8-bit register map with an
// auto-incrementing register pointer, the shape most real I2C peripherals
// take. A write sets the pointer (and optionally register contents); a read
// returns consecutive registers starting at the pointer.
type RegisterDevice struct {
	mu        sync.Mutex
	registers map[uint8]uint8
	pointer   uint8
}

// NewRegisterDevice creates a device preloaded with the given registers.
func NewRegisterDevice(registers map[uint8]uint8) *RegisterDevice {
	regs := make(map[uint8]uint8, len(registers))
	for k, v := range registers {
		regs[k] = v
	}
	return &RegisterDevice{registers: regs}
}

// WriteBytes implements Device. The first byte selects the register
// pointer; any following bytes are stored at consecutive registers.
func (d *RegisterDevice) WriteBytes(data []byte) bool {
	if len(data) == 0 {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.pointer = data[0]
	for i, b := range data[1:] {
		d.registers[d.pointer+uint8(i)] = b
	}
	return true
}

// ReadBytes implements Device, returning n consecutive registers from the
// current pointer. Unpopulated registers read 0xFF.
func (d *RegisterDevice) ReadBytes(n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]byte, n)
	for i := range out {
		if v, ok := d.registers[d.pointer+uint8(i)]; ok {
			out[i] = v
		} else {
			out[i] = 0xFF
		}
	}
	d.pointer += uint8(n)
	return out
}

// Reset implements Device.
func (d *RegisterDevice) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pointer = 0
}

// Register returns the current value of one register.
func (d *RegisterDevice) Register(reg uint8) (uint8, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.registers[reg]
	return v, ok
}

// SetRegister stores a value without bus traffic, for test setup.
func (d *RegisterDevice) SetRegister(reg, value uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registers[reg] = value
}
