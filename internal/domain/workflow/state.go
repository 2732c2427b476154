package workflow

// State represents a state in the periodic job run lifecycle
type State string

const (
	StateScheduled State = "SCHEDULED"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

var validStates = map[State]bool{
	StateScheduled: true,
	StateRunning:   true,
	StateCompleted: true,
	StateFailed:    true,
}

var terminalStates = map[State]bool{
	StateCompleted: true,
}

// IsTerminal returns true if the state permits no further transitions.
// Failed is not terminal: a failed run may be rescheduled.
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid run state
func (s State) IsValid() bool {
	return validStates[s]
}
