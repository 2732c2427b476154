package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a run transition is not allowed
	ErrInvalidTransition = errors.New("invalid run state transition")

	// ErrGuardFailed is returned when a guard condition rejects a transition
	ErrGuardFailed = errors.New("guard condition failed")
)
