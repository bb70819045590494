package gpio_test

import (
	"sync/atomic"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/periphsim/gpio"
	"github.com/sarchlab/periphsim/hw"
	"github.com/sarchlab/periphsim/timing"
)

func TestGPIO(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "GPIO Suite")
}

var _ = Describe("Simulator", func() {
	var (
		engine *timing.Engine
		g      *gpio.Simulator
	)

	BeforeEach(func() {
		engine = timing.NewEngine()
		g = gpio.New(gpio.WithEngine(engine))
		Expect(g.Initialize()).To(Succeed())
	})

	AfterEach(func() {
		g.Shutdown()
	})

	Describe("lifecycle", func() {
		It("should reject operations before initialize", func() {
			fresh := gpio.New()
			err := fresh.SetMode(1, gpio.Output)
			Expect(err).To(MatchError(hw.ErrNotInitialized))
		})

		It("should treat a second initialize as a no-op", func() {
			Expect(g.Initialize()).To(Succeed())
			Expect(g.State()).To(Equal(hw.StateActive))
		})

		It("should make shutdown idempotent", func() {
			g.Shutdown()
			g.Shutdown()
			Expect(g.State()).To(Equal(hw.StateShutdown))
		})

		It("should clear pin state on shutdown", func() {
			Expect(g.SetMode(5, gpio.Output)).To(Succeed())
			g.Shutdown()
			_, ok := g.PinSnapshot(5)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("SetMode", func() {
		It("should configure and report pin modes", func() {
			Expect(g.SetMode(17, gpio.Output)).To(Succeed())
			mode, err := g.Mode(17)
			Expect(err).NotTo(HaveOccurred())
			Expect(mode).To(Equal(gpio.Output))
		})

		It("should reject out-of-range pins", func() {
			Expect(g.SetMode(-1, gpio.Input)).To(MatchError(hw.ErrInvalidArgument))
			Expect(g.SetMode(gpio.NumPins, gpio.Input)).To(MatchError(hw.ErrInvalidArgument))
		})

		It("should spend setup time on the virtual clock", func() {
			before := engine.NowUs()
			Expect(g.SetMode(3, gpio.Input)).To(Succeed())
			Expect(engine.NowUs() - before).To(BeNumerically("~", 0.05, 1e-9))
		})
	})

	Describe("Write and Read", func() {
		BeforeEach(func() {
			Expect(g.SetMode(17, gpio.Output)).To(Succeed())
		})

		It("should read back the written value", func() {
			Expect(g.Write(17, 1)).To(Succeed())
			v, err := g.Read(17)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(1))

			Expect(g.Write(17, 0)).To(Succeed())
			v, err = g.Read(17)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(0))
		})

		It("should be idempotent for repeated writes", func() {
			Expect(g.Write(17, 1)).To(Succeed())
			Expect(g.Write(17, 1)).To(Succeed())
			v, _ := g.Read(17)
			Expect(v).To(Equal(1))
		})

		It("should not disturb other pins", func() {
			Expect(g.SetMode(18, gpio.Output)).To(Succeed())
			Expect(g.Write(18, 1)).To(Succeed())

			Expect(g.Write(17, 0)).To(Succeed())

			v, _ := g.Read(18)
			Expect(v).To(Equal(1))
		})

		It("should refuse writes to input pins", func() {
			Expect(g.SetMode(4, gpio.Input)).To(Succeed())
			Expect(g.Write(4, 1)).To(MatchError(hw.ErrInvalidDirection))
		})

		It("should refuse writes to unconfigured pins", func() {
			Expect(g.Write(9, 1)).To(MatchError(hw.ErrNotConfigured))
		})

		It("should reject values other than 0 and 1", func() {
			Expect(g.Write(17, 2)).To(MatchError(hw.ErrInvalidArgument))
		})

		It("should record metrics per operation", func() {
			Expect(g.Write(17, 1)).To(Succeed())
			_, _ = g.Read(17)

			m := g.Metrics()
			Expect(m.Operations).To(BeNumerically(">=", 2))
		})
	})

	Describe("SetPull", func() {
		BeforeEach(func() {
			Expect(g.SetMode(4, gpio.Input)).To(Succeed())
		})

		It("should drive the pin level when no external driver is active", func() {
			Expect(g.SetPull(4, gpio.PullUp)).To(Succeed())
			v, _ := g.Read(4)
			Expect(v).To(Equal(1))

			Expect(g.SetPull(4, gpio.PullDown)).To(Succeed())
			v, _ = g.Read(4)
			Expect(v).To(Equal(0))
		})

		It("should report the configured pull", func() {
			Expect(g.SetPull(4, gpio.PullUp)).To(Succeed())
			pull, err := g.PullMode(4)
			Expect(err).NotTo(HaveOccurred())
			Expect(pull).To(Equal(gpio.PullUp))
		})

		It("should refuse pulls on output pins", func() {
			Expect(g.SetMode(17, gpio.Output)).To(Succeed())
			Expect(g.SetPull(17, gpio.PullUp)).To(MatchError(hw.ErrInvalidDirection))
		})
	})

	Describe("edge detection", func() {
		var hits atomic.Int32

		BeforeEach(func() {
			hits.Store(0)
			Expect(g.SetMode(4, gpio.Input)).To(Succeed())
		})

		It("should deliver a rising edge to the callback", func() {
			Expect(g.WatchEdge(4, gpio.Rising, func(ev gpio.EdgeEvent) {
				hits.Add(1)
			}, 0)).To(Succeed())

			Expect(g.SimulateEdge(4, 1, 10)).To(Succeed())
			engine.AdvanceBy(20)

			Eventually(func() int32 { return hits.Load() }).Should(Equal(int32(1)))
		})

		It("should not deliver edges of the wrong direction", func() {
			Expect(g.WatchEdge(4, gpio.Falling, func(ev gpio.EdgeEvent) {
				hits.Add(1)
			}, 0)).To(Succeed())

			Expect(g.SimulateEdge(4, 1, 10)).To(Succeed())
			engine.AdvanceBy(20)

			Consistently(func() int32 { return hits.Load() }).Should(BeZero())
		})

		It("should deliver both directions for Both", func() {
			Expect(g.WatchEdge(4, gpio.Both, func(ev gpio.EdgeEvent) {
				hits.Add(1)
			}, 0)).To(Succeed())

			Expect(g.SimulateEdge(4, 1, 10)).To(Succeed())
			Expect(g.SimulateEdge(4, 0, 20)).To(Succeed())
			engine.AdvanceBy(50)

			Eventually(func() int32 { return hits.Load() }).Should(Equal(int32(2)))
		})

		It("should drop edges within the debounce window", func() {
			Expect(g.WatchEdge(4, gpio.Both, func(ev gpio.EdgeEvent) {
				hits.Add(1)
			}, 100)).To(Succeed())

			// Bounce: three transitions inside 100us deliver only the first.
			Expect(g.SimulateEdge(4, 1, 10)).To(Succeed())
			Expect(g.SimulateEdge(4, 0, 30)).To(Succeed())
			Expect(g.SimulateEdge(4, 1, 60)).To(Succeed())
			// Well past the window: delivered again.
			Expect(g.SimulateEdge(4, 0, 300)).To(Succeed())
			engine.AdvanceBy(400)

			Eventually(func() int32 { return hits.Load() }).Should(Equal(int32(2)))
			Consistently(func() int32 { return hits.Load() }).Should(Equal(int32(2)))
		})

		It("should require input mode for watches", func() {
			Expect(g.SetMode(17, gpio.Output)).To(Succeed())
			err := g.WatchEdge(17, gpio.Rising, func(gpio.EdgeEvent) {}, 0)
			Expect(err).To(MatchError(hw.ErrInvalidDirection))
		})

		It("should ignore simulated edges on output pins", func() {
			Expect(g.SetMode(17, gpio.Output)).To(Succeed())
			Expect(g.Write(17, 0)).To(Succeed())

			Expect(g.SimulateEdge(17, 1, 10)).To(Succeed())
			engine.AdvanceBy(20)

			v, _ := g.Read(17)
			Expect(v).To(Equal(0))
		})

		It("should stop deliveries after UnwatchEdge", func() {
			Expect(g.WatchEdge(4, gpio.Both, func(ev gpio.EdgeEvent) {
				hits.Add(1)
			}, 0)).To(Succeed())
			Expect(g.UnwatchEdge(4)).To(Succeed())

			Expect(g.SimulateEdge(4, 1, 10)).To(Succeed())
			engine.AdvanceBy(20)

			Consistently(func() int32 { return hits.Load() }).Should(BeZero())
		})

		It("should not fire before the engine reaches the edge time", func() {
			Expect(g.WatchEdge(4, gpio.Rising, func(ev gpio.EdgeEvent) {
				hits.Add(1)
			}, 0)).To(Succeed())

			Expect(g.SimulateEdge(4, 1, 100)).To(Succeed())
			engine.AdvanceBy(50)

			Consistently(func() int32 { return hits.Load() }).Should(BeZero())

			engine.AdvanceBy(100)
			Eventually(func() int32 { return hits.Load() }).Should(Equal(int32(1)))
		})
	})

	Describe("fault injection", func() {
		It("should refuse faults until enabled", func() {
			err := g.InjectFault(gpio.FaultStuckPin, map[string]any{"pin": 5, "value": 1})
			Expect(err).To(MatchError(hw.ErrInjectionDisabled))
		})

		It("should freeze a stuck pin's level against writes", func() {
			Expect(g.SetMode(5, gpio.Output)).To(Succeed())
			Expect(g.Write(5, 1)).To(Succeed())

			g.EnableFaultInjection()
			Expect(g.InjectFault(gpio.FaultStuckPin, map[string]any{"pin": 5, "value": 1})).To(Succeed())

			Expect(g.Write(5, 0)).To(Succeed())
			v, _ := g.Read(5)
			Expect(v).To(Equal(1))
		})

		It("should release stuck pins on ClearFaults", func() {
			Expect(g.SetMode(5, gpio.Output)).To(Succeed())
			g.EnableFaultInjection()
			Expect(g.InjectFault(gpio.FaultStuckPin, map[string]any{"pin": 5, "value": 1})).To(Succeed())

			g.ClearFaults()

			Expect(g.Write(5, 0)).To(Succeed())
			v, _ := g.Read(5)
			Expect(v).To(Equal(0))
		})

		It("should flip a floating pin over scheduled engine time", func() {
			Expect(g.SetMode(4, gpio.Input)).To(Succeed())

			var hits atomic.Int32
			err := g.WatchEdge(4, gpio.Both, func(gpio.EdgeEvent) {
				hits.Add(1)
			}, 0)
			Expect(err).NotTo(HaveOccurred())

			g.EnableFaultInjection()
			Expect(g.InjectFault(gpio.FaultFloatingPin, map[string]any{"pin": 4})).To(Succeed())

			engine.AdvanceBy(200_000)
			Eventually(hits.Load).Should(BeNumerically(">", 0))
		})

		It("should stop floating flips after ClearFaults", func() {
			Expect(g.SetMode(4, gpio.Input)).To(Succeed())

			g.EnableFaultInjection()
			Expect(g.InjectFault(gpio.FaultFloatingPin, map[string]any{"pin": 4})).To(Succeed())
			engine.AdvanceBy(200_000)
			Expect(g.History().Query(0, "pin_change")).NotTo(BeEmpty())

			g.ClearFaults()
			// A flip scheduled before the clear may still fire.
			engine.AdvanceBy(20_000)

			settled := len(g.History().Query(0, "pin_change"))
			engine.AdvanceBy(200_000)
			Expect(g.History().Query(0, "pin_change")).To(HaveLen(settled))
		})

		It("should require a configured pin for floating faults", func() {
			g.EnableFaultInjection()
			err := g.InjectFault(gpio.FaultFloatingPin, map[string]any{"pin": 9})
			Expect(err).To(MatchError(hw.ErrNotConfigured))
		})

		It("should reject unknown fault names", func() {
			g.EnableFaultInjection()
			err := g.InjectFault("bad_fault", nil)
			Expect(err).To(MatchError(hw.ErrUnknownFault))
		})
	})

	Describe("history", func() {
		It("should record pin changes with timestamps", func() {
			Expect(g.SetMode(17, gpio.Output)).To(Succeed())
			Expect(g.Write(17, 1)).To(Succeed())

			changes := g.History().Query(0, "pin_change")
			Expect(changes).NotTo(BeEmpty())
			Expect(changes[0].Data["pin"]).To(Equal(17))
		})
	})
})
