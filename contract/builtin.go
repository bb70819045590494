package contract

// Built-in reference contracts. These mirror the contracts shipped for
// the reference platform and are what the verifier and compliant mocks
// use when no contract file is supplied.

func floatPtr(x float64) *float64 { return &x }

// GPIOContract returns the reference GPIO contract: 28 pins numbered 0
// through 27, input/output modes, 0/1 values, pull resistors valid on
// inputs, and cleanup restoring every pin to input with pulls off.
func GPIOContract() *Contract {
	pinRange := Range{Var: "pin", Min: floatPtr(0), Max: floatPtr(27)}
	initialized := Equals{Var: "initialized", Value: true}

	return &Contract{
		Interface: "GPIO",
		Version:   "1.0",
		Invariants: map[string]Constraint{
			"pin_modes_valid":  Membership{Var: "pins.*.mode", Values: []string{"input", "output"}},
			"pin_values_valid": Membership{Var: "pins.*.value", Values: []string{"0", "1"}},
			"pull_modes_valid": Membership{Var: "pins.*.pull", Values: []string{"off", "up", "down"}},
		},
		Operations: map[string]Operation{
			"initialize": {
				Postconditions: []Constraint{
					Equals{Var: "new.initialized", Value: true},
					Membership{Var: "new.pins.*.mode", Values: []string{"input"}},
					Membership{Var: "new.pins.*.pull", Values: []string{"off"}},
				},
				Timing: &Timing{TypicalUs: 100, MaxUs: 100_000},
				Errors: map[string]string{
					"AlreadyInitialized": "initialize called on an active controller",
				},
			},
			"set_mode": {
				Preconditions: []Constraint{
					initialized,
					pinRange,
					Membership{Var: "mode", Values: []string{"input", "output"}},
				},
				Postconditions: []Constraint{
					Equals{Var: "new.pins.${pin}.mode", Value: "${mode}"},
				},
				Timing: &Timing{TypicalUs: 0.05, MaxUs: 10_000},
				Errors: map[string]string{
					"InvalidArgument": "pin out of range or unknown mode",
					"NotInitialized":  "controller not initialized",
				},
			},
			"write": {
				Preconditions: []Constraint{
					initialized,
					pinRange,
					Membership{Var: "value", Values: []string{"0", "1"}},
					Equals{Var: "pins.${pin}.mode", Value: "output"},
				},
				Postconditions: []Constraint{
					Equals{Var: "new.pins.${pin}.value", Value: "${value}"},
				},
				Timing: &Timing{TypicalUs: 0.01, MaxUs: 10_000},
				Errors: map[string]string{
					"InvalidDirection": "pin not configured as output",
					"NotConfigured":    "pin has no mode set",
					"NotInitialized":   "controller not initialized",
					"InvalidArgument":  "pin or value out of range",
				},
			},
			"read": {
				Preconditions: []Constraint{
					initialized,
					pinRange,
				},
				Postconditions: []Constraint{
					Membership{Var: "result", Values: []string{"0", "1"}},
				},
				Timing: &Timing{TypicalUs: 0.005, MaxUs: 10_000},
				Errors: map[string]string{
					"NotConfigured":   "pin has no mode set",
					"NotInitialized":  "controller not initialized",
					"InvalidArgument": "pin out of range",
				},
			},
			"set_pull": {
				Preconditions: []Constraint{
					initialized,
					pinRange,
					Membership{Var: "pull", Values: []string{"off", "up", "down"}},
					Equals{Var: "pins.${pin}.mode", Value: "input"},
				},
				Postconditions: []Constraint{
					Equals{Var: "new.pins.${pin}.pull", Value: "${pull}"},
				},
				Timing: &Timing{TypicalUs: 0.05, MaxUs: 10_000},
				Errors: map[string]string{
					"InvalidDirection": "pull set on an output pin",
					"NotConfigured":    "pin has no mode set",
					"NotInitialized":   "controller not initialized",
					"InvalidArgument":  "pin or pull mode out of range",
				},
			},
			"simulate_edge": {
				Preconditions: []Constraint{
					initialized,
					pinRange,
					Membership{Var: "value", Values: []string{"0", "1"}},
				},
				Timing: &Timing{TypicalUs: 1, MaxUs: 100_000},
				Errors: map[string]string{
					"NotInitialized":  "controller not initialized",
					"InvalidArgument": "pin or value out of range",
				},
			},
			"cleanup": {
				Preconditions: []Constraint{initialized},
				Postconditions: []Constraint{
					Equals{Var: "new.initialized", Value: false},
					Membership{Var: "new.pins.*.mode", Values: []string{"input"}},
					Membership{Var: "new.pins.*.pull", Values: []string{"off"}},
				},
				Timing: &Timing{TypicalUs: 100, MaxUs: 100_000},
				Errors: map[string]string{
					"NotInitialized": "cleanup called before initialize",
				},
			},
		},
		StateMachine: map[string][]string{
			"uninitialized": {"initialized"},
			"initialized":   {"initialized", "uninitialized"},
		},
		TestProperties: []string{
			"write_read_consistency",
			"idempotent_write",
			"pin_isolation",
			"edge_callback_delivery",
		},
	}
}

// I2CContract returns the reference I2C master contract: 7-bit addresses
// in [0x08, 0x77] and a bus that returns to idle after every
// transaction.
func I2CContract() *Contract {
	addrRange := Range{Var: "addr", Min: floatPtr(0x08), Max: floatPtr(0x77)}
	initialized := Equals{Var: "initialized", Value: true}
	busIdle := Equals{Var: "new.bus_state", Value: "idle"}

	return &Contract{
		Interface: "I2C",
		Version:   "1.0",
		Invariants: map[string]Constraint{
			"bus_settles_idle": Membership{Var: "bus_state", Values: []string{"idle"}},
		},
		Operations: map[string]Operation{
			"initialize": {
				Postconditions: []Constraint{
					Equals{Var: "new.initialized", Value: true},
					busIdle,
				},
				Timing: &Timing{TypicalUs: 100, MaxUs: 100_000},
				Errors: map[string]string{
					"InvalidArgument": "unsupported bus speed",
				},
			},
			"scan": {
				Preconditions:  []Constraint{initialized},
				Postconditions: []Constraint{busIdle},
				Timing:         &Timing{TypicalUs: 12_000, MaxUs: 1_000_000},
				Errors: map[string]string{
					"NotInitialized": "bus not initialized",
				},
			},
			"write": {
				Preconditions:  []Constraint{initialized, addrRange},
				Postconditions: []Constraint{busIdle},
				Timing:         &Timing{TypicalUs: 200, MaxUs: 1_000_000},
				Errors: map[string]string{
					"Nack":            "no device acknowledged the address",
					"NotInitialized":  "bus not initialized",
					"InvalidArgument": "address out of the 7-bit range",
				},
			},
			"read": {
				Preconditions:  []Constraint{initialized, addrRange},
				Postconditions: []Constraint{busIdle},
				Timing:         &Timing{TypicalUs: 200, MaxUs: 1_000_000},
				Errors: map[string]string{
					"Nack":            "no device acknowledged the address",
					"NotInitialized":  "bus not initialized",
					"InvalidArgument": "address or length out of range",
				},
			},
			"write_read": {
				Preconditions:  []Constraint{initialized, addrRange},
				Postconditions: []Constraint{busIdle},
				Timing:         &Timing{TypicalUs: 400, MaxUs: 1_000_000},
				Errors: map[string]string{
					"Nack":            "no device acknowledged the address",
					"NotInitialized":  "bus not initialized",
					"InvalidArgument": "address or length out of range",
				},
			},
			"reset": {
				Preconditions:  []Constraint{initialized},
				Postconditions: []Constraint{busIdle},
				Timing:         &Timing{TypicalUs: 10, MaxUs: 100_000},
				Errors: map[string]string{
					"NotInitialized": "bus not initialized",
				},
			},
		},
		StateMachine: map[string][]string{
			"idle":  {"start"},
			"start": {"address"},
			"address": {
				"data", "ack", "nack",
			},
			"data": {"ack", "nack", "stop"},
			"ack":  {"data", "stop"},
			"nack": {"stop"},
			"stop": {"idle"},
		},
		TestProperties: []string{
			"scan_finds_seeded_devices",
			"register_write_read_consistency",
			"nack_returns_bus_to_idle",
		},
	}
}
