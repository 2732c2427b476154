package workflow

// NewRunMachine builds the state machine governing one periodic job run:
// scheduled -> running -> completed or failed, with failed runs eligible
// for rescheduling.
func NewRunMachine() StateMachine {
	b := NewBuilder()
	b.Configure(StateScheduled).
		Permit(TriggerStart, StateRunning)
	b.Configure(StateRunning).
		Permit(TriggerComplete, StateCompleted).
		Permit(TriggerFail, StateFailed)
	b.Configure(StateFailed).
		Permit(TriggerRetry, StateScheduled)
	return b.Build(StateScheduled)
}
