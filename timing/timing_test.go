package timing_test

import (
	"io"
	"log"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/periphsim/timing"
)

func TestTiming(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Timing Suite")
}

var _ = Describe("Clock", func() {
	var clock *timing.Clock

	BeforeEach(func() {
		clock = timing.NewClock(0)
	})

	It("should start at zero", func() {
		Expect(clock.Now()).To(Equal(0.0))
	})

	It("should advance by positive durations", func() {
		clock.Advance(100)
		clock.Advance(23.5)
		Expect(clock.Now()).To(Equal(123.5))
	})

	It("should ignore non-positive advances", func() {
		clock.Advance(100)
		clock.Advance(-10)
		clock.Advance(0)
		Expect(clock.Now()).To(Equal(100.0))
	})

	It("should never move backwards via AdvanceTo", func() {
		clock.AdvanceTo(200)
		clock.AdvanceTo(50)
		Expect(clock.Now()).To(Equal(200.0))
	})

	It("should return to zero on reset", func() {
		clock.Advance(500)
		clock.Reset()
		Expect(clock.Now()).To(Equal(0.0))
	})

	It("should never pass the target under concurrent advances", func() {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 1000; j++ {
					clock.AdvanceTo(100)
				}
			}()
		}
		wg.Wait()

		Expect(clock.Now()).To(Equal(100.0))
	})
})

var _ = Describe("Engine", func() {
	var engine *timing.Engine

	BeforeEach(func() {
		engine = timing.NewEngine()
	})

	Describe("Schedule", func() {
		It("should reject negative delays", func() {
			_, err := engine.Schedule(-1, func() {})
			Expect(err).To(MatchError(timing.ErrInvalidDelay))
		})

		It("should reject nil callbacks", func() {
			_, err := engine.Schedule(10, nil)
			Expect(err).To(MatchError(timing.ErrInvalidDelay))
		})

		It("should count pending events", func() {
			_, err := engine.Schedule(10, func() {})
			Expect(err).NotTo(HaveOccurred())
			_, err = engine.Schedule(20, func() {})
			Expect(err).NotTo(HaveOccurred())

			Expect(engine.PendingEvents()).To(Equal(2))
		})

		It("should expose the earliest pending event time", func() {
			_, _ = engine.Schedule(30, func() {})
			_, _ = engine.Schedule(10, func() {})

			at, ok := engine.NextEventTime()
			Expect(ok).To(BeTrue())
			Expect(at).To(Equal(10.0))
		})
	})

	Describe("AdvanceTo", func() {
		It("should run events in time order regardless of insertion order", func() {
			var order []string
			_, _ = engine.Schedule(30, func() { order = append(order, "c") })
			_, _ = engine.Schedule(10, func() { order = append(order, "a") })
			_, _ = engine.Schedule(20, func() { order = append(order, "b") })

			n := engine.AdvanceTo(100)

			Expect(n).To(Equal(3))
			Expect(order).To(Equal([]string{"a", "b", "c"}))
		})

		It("should break ties by insertion order", func() {
			var order []int
			_, _ = engine.Schedule(10, func() { order = append(order, 1) })
			_, _ = engine.Schedule(10, func() { order = append(order, 2) })
			_, _ = engine.Schedule(10, func() { order = append(order, 3) })

			engine.AdvanceTo(10)

			Expect(order).To(Equal([]int{1, 2, 3}))
		})

		It("should set the clock to each event time before the callback runs", func() {
			var seen []float64
			_, _ = engine.Schedule(15, func() { seen = append(seen, engine.NowUs()) })
			_, _ = engine.Schedule(40, func() { seen = append(seen, engine.NowUs()) })

			engine.AdvanceTo(100)

			Expect(seen).To(Equal([]float64{15, 40}))
			Expect(engine.NowUs()).To(Equal(100.0))
		})

		It("should leave events beyond the target pending", func() {
			fired := false
			_, _ = engine.Schedule(200, func() { fired = true })

			n := engine.AdvanceTo(100)

			Expect(n).To(BeZero())
			Expect(fired).To(BeFalse())
			Expect(engine.PendingEvents()).To(Equal(1))
		})

		It("should run events scheduled by callbacks within the same advance", func() {
			var order []string
			_, _ = engine.Schedule(10, func() {
				order = append(order, "outer")
				_, _ = engine.Schedule(5, func() { order = append(order, "inner") })
			})

			n := engine.AdvanceTo(100)

			Expect(n).To(Equal(2))
			Expect(order).To(Equal([]string{"outer", "inner"}))
		})

		It("should recover a panicking callback and keep going", func() {
			quiet := timing.NewEngine(timing.WithLogger(log.New(io.Discard, "", 0)))
			ran := false
			_, _ = quiet.Schedule(10, func() { panic("boom") })
			_, _ = quiet.Schedule(20, func() { ran = true })

			n := quiet.AdvanceTo(100)

			Expect(n).To(Equal(2))
			Expect(ran).To(BeTrue())
		})

		It("should do nothing for a target at or before now", func() {
			engine.DelayUs(50)
			fired := false
			_, _ = engine.Schedule(10, func() { fired = true })

			engine.AdvanceTo(20)

			Expect(fired).To(BeFalse())
			Expect(engine.NowUs()).To(Equal(50.0))
		})
	})

	Describe("Cancel", func() {
		It("should prevent a cancelled event from firing", func() {
			fired := false
			id, err := engine.Schedule(10, func() { fired = true })
			Expect(err).NotTo(HaveOccurred())

			Expect(engine.Cancel(id)).To(BeTrue())
			engine.AdvanceTo(100)

			Expect(fired).To(BeFalse())
		})

		It("should return false for an already-fired event", func() {
			id, _ := engine.Schedule(10, func() {})
			engine.AdvanceTo(100)

			Expect(engine.Cancel(id)).To(BeFalse())
		})

		It("should return false for an unknown id", func() {
			Expect(engine.Cancel(timing.EventID(9999))).To(BeFalse())
		})
	})

	Describe("Delay helpers", func() {
		It("should convert units to microseconds", func() {
			engine.DelayNs(500)
			engine.DelayUs(1)
			engine.DelayMs(2)
			Expect(engine.NowUs()).To(BeNumerically("~", 2001.5, 1e-9))
		})

		It("should not run queued events", func() {
			fired := false
			_, _ = engine.Schedule(10, func() { fired = true })

			engine.DelayUs(50)

			Expect(fired).To(BeFalse())
			Expect(engine.PendingEvents()).To(Equal(1))
		})
	})

	Describe("Reset", func() {
		It("should clear events, statistics, and the clock", func() {
			_, _ = engine.Schedule(10, func() {})
			engine.AdvanceTo(20)
			_, _ = engine.Schedule(10, func() {})

			engine.Reset()

			Expect(engine.NowUs()).To(Equal(0.0))
			Expect(engine.PendingEvents()).To(BeZero())
			Expect(engine.EventsProcessed()).To(BeZero())
		})
	})
})
