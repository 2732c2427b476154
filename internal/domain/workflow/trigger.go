package workflow

// Trigger represents an event that can cause a run state transition
type Trigger string

const (
	TriggerStart    Trigger = "START"
	TriggerComplete Trigger = "COMPLETE"
	TriggerFail     Trigger = "FAIL"
	TriggerRetry    Trigger = "RETRY"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
