package hw

// State is the lifecycle state of a simulator instance.
type State int

const (
	// StateUninitialized is the state before Initialize.
	StateUninitialized State = iota
	// StateInitialized means configuration has been applied.
	StateInitialized
	// StateActive means the simulator is servicing operations.
	StateActive
	// StateShutdown means the simulator has been torn down.
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateActive:
		return "active"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}
