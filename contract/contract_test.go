package contract_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/periphsim/contract"
	"github.com/sarchlab/periphsim/hw"
)

func TestContract(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Contract Suite")
}

var _ = Describe("Constraints", func() {
	ctx := map[string]any{
		"initialized": true,
		"pin":         17,
		"value":       1,
		"pins": map[string]any{
			"4":  map[string]any{"mode": "input", "value": 0, "pull": "up"},
			"17": map[string]any{"mode": "output", "value": 1, "pull": "off"},
		},
	}

	Describe("Membership", func() {
		It("should hold when the value is in the set", func() {
			c := contract.Membership{Var: "pins.4.mode", Values: []string{"input", "output"}}
			Expect(c.Eval(ctx)).To(BeTrue())
		})

		It("should fail when the value is outside the set", func() {
			c := contract.Membership{Var: "pins.4.pull", Values: []string{"off"}}
			Expect(c.Eval(ctx)).To(BeFalse())
		})

		It("should compare numbers against their string form", func() {
			c := contract.Membership{Var: "pins.17.value", Values: []string{"0", "1"}}
			Expect(c.Eval(ctx)).To(BeTrue())
		})

		It("should quantify over every child with a wildcard", func() {
			c := contract.Membership{Var: "pins.*.mode", Values: []string{"input", "output"}}
			Expect(c.Eval(ctx)).To(BeTrue())

			c = contract.Membership{Var: "pins.*.mode", Values: []string{"input"}}
			Expect(c.Eval(ctx)).To(BeFalse())
		})

		It("should fail on unresolvable paths", func() {
			c := contract.Membership{Var: "pins.9.mode", Values: []string{"input"}}
			Expect(c.Eval(ctx)).To(BeFalse())
		})
	})

	Describe("Range", func() {
		min, max := 0.0, 27.0

		It("should hold inside the bounds", func() {
			c := contract.Range{Var: "pin", Min: &min, Max: &max}
			Expect(c.Eval(ctx)).To(BeTrue())
		})

		It("should fail outside the bounds", func() {
			c := contract.Range{Var: "pin", Min: &min, Max: &max}
			Expect(c.Eval(map[string]any{"pin": 28})).To(BeFalse())
			Expect(c.Eval(map[string]any{"pin": -1})).To(BeFalse())
		})

		It("should treat nil bounds as open", func() {
			c := contract.Range{Var: "pin", Min: &min}
			Expect(c.Eval(map[string]any{"pin": 10_000})).To(BeTrue())
		})

		It("should fail on non-numeric values", func() {
			c := contract.Range{Var: "pins.4.mode", Min: &min, Max: &max}
			Expect(c.Eval(ctx)).To(BeFalse())
		})
	})

	Describe("Equals", func() {
		It("should compare values across types by canonical form", func() {
			c := contract.Equals{Var: "initialized", Value: true}
			Expect(c.Eval(ctx)).To(BeTrue())

			c = contract.Equals{Var: "pins.17.value", Value: 1}
			Expect(c.Eval(ctx)).To(BeTrue())

			c = contract.Equals{Var: "pins.17.value", Value: 1.0}
			Expect(c.Eval(ctx)).To(BeTrue())
		})

		It("should substitute ${name} in the variable path", func() {
			c := contract.Equals{Var: "pins.${pin}.mode", Value: "output"}
			Expect(c.Eval(ctx)).To(BeTrue())
		})

		It("should substitute ${name} in the expected value", func() {
			c := contract.Equals{Var: "pins.${pin}.value", Value: "${value}"}
			Expect(c.Eval(ctx)).To(BeTrue())
		})

		It("should fail when a referenced name is unbound", func() {
			c := contract.Equals{Var: "pins.${missing}.mode", Value: "input"}
			Expect(c.Eval(ctx)).To(BeFalse())
		})
	})
})

var _ = Describe("Load", func() {
	yamlDoc := []byte(`
interface: GPIO
version: "1.2"
invariants:
  pin_modes_valid:
    membership:
      var: pins.*.mode
      values: [input, output]
operations:
  write:
    preconditions:
      - equals:
          var: initialized
          value: true
      - range:
          var: pin
          min: 0
          max: 27
    postconditions:
      - equals:
          var: new.pins.${pin}.value
          value: ${value}
    timing:
      typical_latency_us: 0.01
      max_latency_us: 1000
    errors:
      InvalidDirection: pin not configured as output
state_machine:
  uninitialized: [initialized]
test_properties:
  - write_read_consistency
`)

	It("should decode a YAML contract", func() {
		c, err := contract.Load(yamlDoc, contract.YAMLDecoder{})
		Expect(err).NotTo(HaveOccurred())

		Expect(c.Interface).To(Equal("GPIO"))
		Expect(c.Version).To(Equal("1.2"))
		Expect(c.Invariants).To(HaveKey("pin_modes_valid"))
		Expect(c.TestProperties).To(ContainElement("write_read_consistency"))

		op, err := c.Operation("write")
		Expect(err).NotTo(HaveOccurred())
		Expect(op.Preconditions).To(HaveLen(2))
		Expect(op.Postconditions).To(HaveLen(1))
		Expect(op.Timing.MaxUs).To(Equal(1000.0))
		Expect(op.DeclaresError("InvalidDirection")).To(BeTrue())
		Expect(op.DeclaresError("Nack")).To(BeFalse())
	})

	It("should decode a JSON contract", func() {
		jsonDoc := []byte(`{
			"interface": "SPI",
			"version": "1.0",
			"operations": {
				"transfer": {
					"preconditions": [
						{"equals": {"var": "initialized", "value": true}}
					]
				}
			}
		}`)

		c, err := contract.Load(jsonDoc, contract.JSONDecoder{})
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Interface).To(Equal("SPI"))
		_, err = c.Operation("transfer")
		Expect(err).NotTo(HaveOccurred())
	})

	It("should reject a contract without an interface name", func() {
		_, err := contract.Load([]byte(`version: "1.0"`), contract.YAMLDecoder{})
		Expect(err).To(MatchError(hw.ErrInvalidArgument))
	})

	It("should reject a constraint with no kind", func() {
		doc := []byte(`
interface: GPIO
invariants:
  broken: {}
`)
		_, err := contract.Load(doc, contract.YAMLDecoder{})
		Expect(err).To(MatchError(hw.ErrInvalidArgument))
	})

	It("should reject an inverted range", func() {
		doc := []byte(`
interface: GPIO
operations:
  write:
    preconditions:
      - range:
          var: pin
          min: 10
          max: 5
`)
		_, err := contract.Load(doc, contract.YAMLDecoder{})
		Expect(err).To(MatchError(hw.ErrInvalidArgument))
	})

	It("should reject typical latency above the maximum", func() {
		doc := []byte(`
interface: GPIO
operations:
  write:
    timing:
      typical_latency_us: 100
      max_latency_us: 10
`)
		_, err := contract.Load(doc, contract.YAMLDecoder{})
		Expect(err).To(MatchError(hw.ErrInvalidArgument))
	})

	It("should report unknown operations", func() {
		c, err := contract.Load(yamlDoc, contract.YAMLDecoder{})
		Expect(err).NotTo(HaveOccurred())

		_, err = c.Operation("explode")
		Expect(err).To(MatchError(hw.ErrInvalidArgument))
	})
})

var _ = Describe("Built-in contracts", func() {
	It("should define the reference GPIO operations", func() {
		c := contract.GPIOContract()
		Expect(c.Interface).To(Equal("GPIO"))

		for _, name := range []string{
			"initialize", "set_mode", "write", "read", "set_pull", "simulate_edge", "cleanup",
		} {
			_, err := c.Operation(name)
			Expect(err).NotTo(HaveOccurred(), "operation %s", name)
		}
	})

	It("should declare write's error kinds", func() {
		c := contract.GPIOContract()
		op, err := c.Operation("write")
		Expect(err).NotTo(HaveOccurred())
		Expect(op.DeclaresError("InvalidDirection")).To(BeTrue())
		Expect(op.DeclaresError("NotInitialized")).To(BeTrue())
	})

	It("should constrain I2C addresses to the 7-bit device range", func() {
		c := contract.I2CContract()
		op, err := c.Operation("write")
		Expect(err).NotTo(HaveOccurred())

		ok := true
		for _, pre := range op.Preconditions {
			if !pre.Eval(map[string]any{"initialized": true, "addr": 0x48}) {
				ok = false
			}
		}
		Expect(ok).To(BeTrue())

		ok = true
		for _, pre := range op.Preconditions {
			if !pre.Eval(map[string]any{"initialized": true, "addr": 0x03}) {
				ok = false
			}
		}
		Expect(ok).To(BeFalse())
	})
})
