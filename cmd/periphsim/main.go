// Package main provides the entry point for PeriphSim.
// PeriphSim simulates GPIO, I2C, SPI, and UART peripherals on a
// microsecond-accurate virtual clock and verifies them against their
// interface contracts.
package main

import (
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/sarchlab/periphsim/contract"
	"github.com/sarchlab/periphsim/gpio"
	"github.com/sarchlab/periphsim/i2c"
	"github.com/sarchlab/periphsim/spi"
	"github.com/sarchlab/periphsim/timing"
	"github.com/sarchlab/periphsim/uart"
	"github.com/sarchlab/periphsim/verify"
)

var (
	realtime = flag.Float64("realtime", 0, "Real-time factor (0 = run as fast as possible)")
	histCap  = flag.Int("history", 1024, "Event history capacity per simulator")
	seed     = flag.Int64("seed", 42, "Random seed for verification sequences")
	ops      = flag.Int("ops", 200, "Verified operations per interface")
	verbose  = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	clock := timing.NewClock(*realtime)
	engine := timing.NewEngine(timing.WithClock(clock))

	if err := runGPIO(engine); err != nil {
		fatal("gpio scenario", err)
	}
	if err := runI2C(engine); err != nil {
		fatal("i2c scenario", err)
	}
	if err := runSPI(engine); err != nil {
		fatal("spi scenario", err)
	}
	if err := runUART(engine); err != nil {
		fatal("uart scenario", err)
	}
	if err := runVerification(engine); err != nil {
		fatal("verification", err)
	}

	fmt.Printf("\nVirtual time elapsed: %.3f ms\n", engine.NowUs()/1000)
	fmt.Printf("Events processed: %d\n", engine.EventsProcessed())
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "Error in %s: %v\n", what, err)
	os.Exit(1)
}

// runGPIO blinks an LED pin and watches a button pin for edges.
func runGPIO(engine *timing.Engine) error {
	fmt.Println("=== GPIO ===")

	g := gpio.New(gpio.WithEngine(engine), gpio.WithHistoryCapacity(*histCap))
	if err := g.Initialize(); err != nil {
		return err
	}
	defer g.Shutdown()

	const led, button = 17, 4

	if err := g.SetMode(led, gpio.Output); err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		if err := g.Write(led, 1); err != nil {
			return err
		}
		engine.DelayMs(100)
		if err := g.Write(led, 0); err != nil {
			return err
		}
		engine.DelayMs(100)
	}

	if err := g.SetMode(button, gpio.Input); err != nil {
		return err
	}
	if err := g.SetPull(button, gpio.PullUp); err != nil {
		return err
	}

	var edges atomic.Int32
	err := g.WatchEdge(button, gpio.Falling, func(ev gpio.EdgeEvent) {
		edges.Add(1)
		if *verbose {
			fmt.Printf("  edge on pin %d at %.1f us\n", ev.Pin, ev.TimeUs)
		}
	}, 0)
	if err != nil {
		return err
	}

	if err := g.SimulateEdge(button, 0, 50); err != nil {
		return err
	}
	engine.AdvanceBy(100)
	time.Sleep(10 * time.Millisecond)

	m := g.Metrics()
	fmt.Printf("Blinked pin %d 3 times, saw %d falling edge(s) on pin %d\n",
		led, edges.Load(), button)
	fmt.Printf("Operations: %d, avg latency: %.3f us\n", m.Operations, m.AverageUs)
	return nil
}

// runI2C scans the bus and reads the chip ID of an environmental sensor.
func runI2C(engine *timing.Engine) error {
	fmt.Println("\n=== I2C ===")

	bus := i2c.New(i2c.WithEngine(engine), i2c.WithHistoryCapacity(*histCap))
	if err := bus.Initialize(i2c.Standard); err != nil {
		return err
	}
	defer bus.Shutdown()

	devices := map[uint8]i2c.Device{
		0x48: i2c.NewRegisterDevice(map[uint8]uint8{0x00: 0x19, 0x01: 0x60}),
		0x76: i2c.NewRegisterDevice(map[uint8]uint8{0xD0: 0x60}),
	}
	for addr, dev := range devices {
		if err := bus.AddDevice(addr, dev); err != nil {
			return err
		}
	}

	found, err := bus.Scan()
	if err != nil {
		return err
	}
	fmt.Printf("Scan found %d devices:", len(found))
	for _, addr := range found {
		fmt.Printf(" 0x%02X", addr)
	}
	fmt.Println()

	chipID, err := bus.ReadRegister(0x76, 0xD0, 1)
	if err != nil {
		return err
	}
	fmt.Printf("Device 0x76 chip ID: 0x%02X\n", chipID[0])

	m := bus.Metrics()
	fmt.Printf("Transactions: %d, avg bus time: %.1f us\n", m.Operations, m.AverageUs)
	return nil
}

// echoDevice replies with the previous byte it received, the behavior of
// a shift register.
type echoDevice struct {
	last byte
}

func (d *echoDevice) Select()   {}
func (d *echoDevice) Deselect() {}
func (d *echoDevice) Reset()    { d.last = 0 }

func (d *echoDevice) TransferByte(tx byte) byte {
	rx := d.last
	d.last = tx
	return rx
}

// runSPI does a full-duplex transfer against a shift-register device.
func runSPI(engine *timing.Engine) error {
	fmt.Println("\n=== SPI ===")

	bus := spi.New(spi.WithEngine(engine), spi.WithHistoryCapacity(*histCap))
	if err := bus.Initialize(spi.DefaultConfig()); err != nil {
		return err
	}
	defer bus.Shutdown()

	if err := bus.AddDevice(0, &echoDevice{}); err != nil {
		return err
	}

	tx := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	rx, err := bus.Transfer(tx, 0)
	if err != nil {
		return err
	}
	fmt.Printf("Transferred % X, received % X\n", tx, rx)

	m := bus.Metrics()
	fmt.Printf("Transfers: %d, avg bus time: %.1f us\n", m.Operations, m.AverageUs)
	return nil
}

// runUART exercises a loopback link at 115200 baud.
func runUART(engine *timing.Engine) error {
	fmt.Println("\n=== UART ===")

	u := uart.New(uart.WithEngine(engine), uart.WithHistoryCapacity(*histCap))
	cfg := uart.DefaultConfig()
	cfg.BaudRate = 115200
	if err := u.Initialize(cfg); err != nil {
		return err
	}
	defer u.Shutdown()

	u.EnableLoopback(true)

	msg := []byte("hello, uart")
	n, err := u.Write(msg)
	if err != nil {
		return err
	}

	got, err := u.Read(n, 0)
	if err != nil {
		return err
	}
	fmt.Printf("Loopback echoed %q (%d bytes, %.1f us per frame)\n",
		got, len(got), cfg.ByteTimeUs())

	stats := u.Statistics()
	fmt.Printf("TX: %d bytes, RX: %d bytes\n", stats.BytesTransmitted, stats.BytesReceived)
	return nil
}

// runVerification drives random verified operation sequences against
// contract-compliant mocks of each contracted interface.
func runVerification(engine *timing.Engine) error {
	fmt.Println("\n=== Contract verification ===")

	type target struct {
		contract *contract.Contract
		gens     []verify.OpGenerator
	}
	targets := []target{
		{contract.GPIOContract(), verify.GPIOOpGenerators()},
		{contract.I2CContract(), verify.I2COpGenerators()},
	}

	for _, t := range targets {
		_, verifier, err := verify.NewVerifiedMock(t.contract, engine)
		if err != nil {
			return err
		}

		if _, ok, err := verifier.ExecuteWithVerification("initialize", nil); err != nil || !ok {
			return fmt.Errorf("initializing %s mock failed: %v", t.contract.Interface, err)
		}

		runner := verify.NewSequenceRunner(verifier, *seed, t.gens...)
		report := runner.Run(*ops)

		fmt.Printf("%s: %d operations, %d failures, %d violations\n",
			t.contract.Interface, report.Operations, report.Failures, len(report.Violations))
		if *verbose {
			for _, v := range report.Violations {
				fmt.Printf("  %s\n", v)
			}
		}
	}
	return nil
}
