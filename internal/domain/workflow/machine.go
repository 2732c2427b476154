package workflow

import "context"

// StateMachine is one run's live position in the lifecycle table. A
// machine is not safe for concurrent use; callers serialize per run.
type StateMachine interface {
	// State reports the current state
	State() State

	// CanFire reports whether the trigger would be accepted right now
	CanFire(trigger Trigger) bool

	// Fire applies the trigger, moving to the configured target state.
	// It returns ErrInvalidTransition for triggers the current state
	// does not permit and ErrGuardFailed when a guard vetoes the move.
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers lists the triggers the current state accepts
	PermittedTriggers() []Trigger
}
