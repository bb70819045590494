package spi_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/periphsim/hw"
	"github.com/sarchlab/periphsim/spi"
	"github.com/sarchlab/periphsim/timing"
)

func TestSPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SPI Suite")
}

// shiftDevice echoes the previously received byte, like a shift register.
type shiftDevice struct {
	last     byte
	selects  int
	deselect int
}

func (d *shiftDevice) Select()   { d.selects++ }
func (d *shiftDevice) Deselect() { d.deselect++ }
func (d *shiftDevice) Reset()    { d.last = 0 }

func (d *shiftDevice) TransferByte(tx byte) byte {
	rx := d.last
	d.last = tx
	return rx
}

var _ = Describe("Config", func() {
	It("should default to 1MHz mode 0", func() {
		cfg := spi.DefaultConfig()
		Expect(cfg.Validate()).To(Succeed())
		Expect(cfg.Mode).To(Equal(spi.Mode0))
		Expect(cfg.BitsPerWord).To(Equal(8))
	})

	It("should reject a non-positive speed", func() {
		cfg := spi.DefaultConfig()
		cfg.Speed = 0
		Expect(cfg.Validate()).To(MatchError(hw.ErrInvalidArgument))
	})

	It("should reject word sizes other than 8", func() {
		cfg := spi.DefaultConfig()
		cfg.BitsPerWord = 16
		Expect(cfg.Validate()).To(MatchError(hw.ErrInvalidArgument))
	})

	It("should derive CPOL and CPHA from the mode", func() {
		Expect(spi.Mode0.CPOL()).To(Equal(0))
		Expect(spi.Mode0.CPHA()).To(Equal(0))
		Expect(spi.Mode1.CPOL()).To(Equal(0))
		Expect(spi.Mode1.CPHA()).To(Equal(1))
		Expect(spi.Mode2.CPOL()).To(Equal(1))
		Expect(spi.Mode2.CPHA()).To(Equal(0))
		Expect(spi.Mode3.CPOL()).To(Equal(1))
		Expect(spi.Mode3.CPHA()).To(Equal(1))
	})
})

var _ = Describe("Simulator", func() {
	var (
		engine *timing.Engine
		bus    *spi.Simulator
		dev    *shiftDevice
	)

	BeforeEach(func() {
		engine = timing.NewEngine()
		bus = spi.New(spi.WithEngine(engine))
		Expect(bus.Initialize(spi.DefaultConfig())).To(Succeed())
		dev = &shiftDevice{}
		Expect(bus.AddDevice(0, dev)).To(Succeed())
	})

	AfterEach(func() {
		bus.Shutdown()
	})

	Describe("Transfer", func() {
		It("should return exactly one rx byte per tx byte", func() {
			rx, err := bus.Transfer([]byte{1, 2, 3, 4, 5}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(rx).To(HaveLen(5))
		})

		It("should clock the device response back to the master", func() {
			rx, err := bus.Transfer([]byte{0xAA, 0xBB, 0xCC}, 0)
			Expect(err).NotTo(HaveOccurred())
			// Shift register: each rx byte is the previous tx byte.
			Expect(rx).To(Equal([]byte{0x00, 0xAA, 0xBB}))
		})

		It("should read all ones with no device attached", func() {
			rx, err := bus.Transfer([]byte{0x00, 0x00}, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(rx).To(Equal([]byte{0xFF, 0xFF}))
		})

		It("should select and deselect the device around the transfer", func() {
			_, err := bus.Transfer([]byte{0x01}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(dev.selects).To(Equal(1))
			Expect(dev.deselect).To(Equal(1))
		})

		It("should spend bit time plus CS windows on the virtual clock", func() {
			before := engine.NowUs()
			_, err := bus.Transfer([]byte{0x5A}, 0)
			Expect(err).NotTo(HaveOccurred())

			// CS setup 0.05 + 8 bits at 1us + CS hold 0.05.
			Expect(engine.NowUs() - before).To(BeNumerically("~", 8.1, 1e-9))
		})

		It("should record transactions", func() {
			_, err := bus.Transfer([]byte{0x01, 0x02}, 0)
			Expect(err).NotTo(HaveOccurred())

			txns := bus.Transactions(0)
			Expect(txns).To(HaveLen(1))
			Expect(txns[0].TX).To(Equal([]byte{0x01, 0x02}))
			Expect(txns[0].RX).To(HaveLen(2))
			Expect(txns[0].DurationUs).To(BeNumerically(">", 0))
		})
	})

	Describe("bit ordering", func() {
		It("should deliver the same byte MSB-first and LSB-first against a byte device", func() {
			lsb := spi.DefaultConfig()
			lsb.LSBFirst = true
			Expect(bus.Configure(lsb)).To(Succeed())

			rx, err := bus.Transfer([]byte{0xA5, 0x00}, 0)
			Expect(err).NotTo(HaveOccurred())
			// The device echoes whole bytes, so the reassembled rx byte is
			// unchanged by wire bit order.
			Expect(rx[1]).To(Equal(byte(0xA5)))
		})
	})

	Describe("chip-select discipline", func() {
		It("should refuse a second chip select while one is held", func() {
			Expect(bus.AssertCS(0)).To(Succeed())
			defer func() { _ = bus.ReleaseCS(0) }()

			err := bus.AssertCS(1)
			Expect(err).To(MatchError(hw.ErrDeviceBusy))
		})

		It("should fail transfers to another device while a CS is held", func() {
			Expect(bus.AssertCS(0)).To(Succeed())
			defer func() { _ = bus.ReleaseCS(0) }()

			_, err := bus.Transfer([]byte{0x01}, 1)
			Expect(err).To(MatchError(hw.ErrDeviceBusy))
		})

		It("should keep CS asserted across held transfers", func() {
			Expect(bus.AssertCS(0)).To(Succeed())

			_, err := bus.Transfer([]byte{0x01}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(dev.deselect).To(BeZero())

			Expect(bus.ReleaseCS(0)).To(Succeed())
			Expect(dev.deselect).To(Equal(1))
		})

		It("should refuse releasing a CS that is not held", func() {
			Expect(bus.ReleaseCS(3)).To(MatchError(hw.ErrInvalidArgument))
		})

		It("should refuse reconfiguration while a CS is held", func() {
			Expect(bus.AssertCS(0)).To(Succeed())
			defer func() { _ = bus.ReleaseCS(0) }()

			Expect(bus.Configure(spi.DefaultConfig())).To(MatchError(hw.ErrDeviceBusy))
		})
	})

	Describe("bus lines", func() {
		It("should idle the clock at CPOL", func() {
			Expect(bus.BusLines().SCLK).To(Equal(0))

			mode3 := spi.DefaultConfig()
			mode3.Mode = spi.Mode3
			Expect(bus.Configure(mode3)).To(Succeed())
			Expect(bus.BusLines().SCLK).To(Equal(1))
		})

		It("should deassert CS lines when idle", func() {
			_, err := bus.Transfer([]byte{0x01}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(bus.BusLines().CS[0]).To(Equal(1))
		})
	})

	Describe("fault injection", func() {
		BeforeEach(func() {
			bus.EnableFaultInjection()
		})

		It("should force MISO bits while stuck", func() {
			Expect(bus.InjectFault(spi.FaultMISOStuck, map[string]any{"value": 1})).To(Succeed())

			rx, err := bus.Transfer([]byte{0x00}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(rx).To(Equal([]byte{0xFF}))

			bus.ClearFaults()
			rx, err = bus.Transfer([]byte{0x12}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(rx).To(Equal([]byte{0x00})) // shift register echo resumes
		})

		It("should glitch the clock between bytes and restore the idle level", func() {
			Expect(bus.InjectFault(spi.FaultClockGlitch, nil)).To(Succeed())

			start := engine.NowUs()
			_, err := bus.Transfer([]byte{0x01, 0x02}, 0)
			Expect(err).NotTo(HaveOccurred())

			events := bus.History().Query(0, "clock_glitch")
			Expect(events).To(HaveLen(1))
			// CS setup 0.05 plus the first byte's 8 bit times precede the glitch.
			Expect(events[0].TimeUs).To(BeNumerically(">", start+8))
			Expect(events[0].TimeUs).To(BeNumerically("<", engine.NowUs()))
			Expect(bus.BusLines().SCLK).To(Equal(0))
		})

		It("should momentarily release the chip select mid-transfer", func() {
			Expect(bus.InjectFault(spi.FaultCSGlitch, nil)).To(Succeed())

			_, err := bus.Transfer([]byte{0x01, 0x02}, 0)
			Expect(err).NotTo(HaveOccurred())

			events := bus.History().Query(0, "cs_glitch")
			Expect(events).To(HaveLen(1))
			Expect(bus.BusLines().CS[0]).To(Equal(1))
		})

		It("should fire an armed glitch after the byte on single-byte transfers", func() {
			Expect(bus.InjectFault(spi.FaultClockGlitch, nil)).To(Succeed())

			start := engine.NowUs()
			_, err := bus.Transfer([]byte{0x7E}, 0)
			Expect(err).NotTo(HaveOccurred())

			events := bus.History().Query(0, "clock_glitch")
			Expect(events).To(HaveLen(1))
			Expect(events[0].TimeUs).To(BeNumerically(">=", start+8.05))
		})

		It("should reject invalid stuck values", func() {
			err := bus.InjectFault(spi.FaultMISOStuck, map[string]any{"value": 3})
			Expect(err).To(MatchError(hw.ErrInvalidArgument))
		})

		It("should refuse faults when injection is disabled", func() {
			bus.DisableFaultInjection()
			err := bus.InjectFault(spi.FaultClockGlitch, nil)
			Expect(err).To(MatchError(hw.ErrInjectionDisabled))
		})
	})
})
