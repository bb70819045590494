package verify

import (
	"math/rand"
	"strconv"
)

// An OpGenerator produces one random operation call. It may inspect the
// implementation's current state so the generated call satisfies the
// contract's preconditions.
type OpGenerator func(r *rand.Rand, impl Implementation) (op string, args map[string]any)

// Report summarizes a random operation sequence.
type Report struct {
	Operations int
	Failures   int
	Violations []Violation
}

// SequenceRunner drives random verified operation sequences against an
// implementation. The random source is seeded so any run can be
// reproduced.
type SequenceRunner struct {
	verifier *Verifier
	rng      *rand.Rand
	gens     []OpGenerator
}

// NewSequenceRunner creates a runner over the verifier's implementation.
func NewSequenceRunner(v *Verifier, seed int64, gens ...OpGenerator) *SequenceRunner {
	return &SequenceRunner{
		verifier: v,
		rng:      rand.New(rand.NewSource(seed)),
		gens:     gens,
	}
}

// Run executes n randomly generated operations under full verification
// and reports how many failed any contract check. Declared errors count
// as conforming outcomes, not failures.
func (sr *SequenceRunner) Run(n int) Report {
	report := Report{}
	if len(sr.gens) == 0 {
		report.Violations = sr.verifier.Violations()
		return report
	}

	for i := 0; i < n; i++ {
		gen := sr.gens[sr.rng.Intn(len(sr.gens))]
		op, args := gen(sr.rng, sr.verifier.impl)

		_, ok, err := sr.verifier.ExecuteWithVerification(op, args)
		report.Operations++
		if !ok || err != nil {
			report.Failures++
		}
	}

	report.Violations = sr.verifier.Violations()
	return report
}

// GPIOOpGenerators returns generators covering the GPIO contract's
// operations. Generators that need a pin in a particular mode emit the
// set_mode call instead when the pin is not there yet, the way a driver
// would.
func GPIOOpGenerators() []OpGenerator {
	randomPin := func(r *rand.Rand) int { return r.Intn(28) }

	pinMode := func(impl Implementation, pin int) string {
		state := impl.StateSnapshot()
		pins, _ := state["pins"].(map[string]any)
		entry, _ := pins[strconv.Itoa(pin)].(map[string]any)
		mode, _ := entry["mode"].(string)
		return mode
	}

	return []OpGenerator{
		func(r *rand.Rand, _ Implementation) (string, map[string]any) {
			mode := "input"
			if r.Intn(2) == 1 {
				mode = "output"
			}
			return "set_mode", map[string]any{"pin": randomPin(r), "mode": mode}
		},
		func(r *rand.Rand, impl Implementation) (string, map[string]any) {
			pin := randomPin(r)
			if pinMode(impl, pin) != "output" {
				return "set_mode", map[string]any{"pin": pin, "mode": "output"}
			}
			return "write", map[string]any{"pin": pin, "value": r.Intn(2)}
		},
		func(r *rand.Rand, impl Implementation) (string, map[string]any) {
			pin := randomPin(r)
			return "read", map[string]any{"pin": pin}
		},
		func(r *rand.Rand, impl Implementation) (string, map[string]any) {
			pin := randomPin(r)
			if pinMode(impl, pin) != "input" {
				return "set_mode", map[string]any{"pin": pin, "mode": "input"}
			}
			pulls := []string{"off", "up", "down"}
			return "set_pull", map[string]any{"pin": pin, "pull": pulls[r.Intn(len(pulls))]}
		},
		func(r *rand.Rand, impl Implementation) (string, map[string]any) {
			pin := randomPin(r)
			if pinMode(impl, pin) != "input" {
				return "set_mode", map[string]any{"pin": pin, "mode": "input"}
			}
			return "simulate_edge", map[string]any{"pin": pin, "value": r.Intn(2)}
		},
	}
}

// I2COpGenerators returns generators covering the I2C contract's
// operations against the seeded reference devices.
func I2COpGenerators() []OpGenerator {
	seeded := []int{0x48, 0x68, 0x76}

	return []OpGenerator{
		func(r *rand.Rand, _ Implementation) (string, map[string]any) {
			addr := seeded[r.Intn(len(seeded))]
			return "write", map[string]any{"addr": addr, "data": []int{r.Intn(4)}}
		},
		func(r *rand.Rand, _ Implementation) (string, map[string]any) {
			addr := seeded[r.Intn(len(seeded))]
			return "read", map[string]any{"addr": addr, "count": 1 + r.Intn(3)}
		},
		func(r *rand.Rand, _ Implementation) (string, map[string]any) {
			addr := seeded[r.Intn(len(seeded))]
			return "write_read",
				map[string]any{"addr": addr, "data": []int{r.Intn(4)}, "count": 1 + r.Intn(2)}
		},
		func(r *rand.Rand, _ Implementation) (string, map[string]any) {
			return "reset", map[string]any{}
		},
	}
}
