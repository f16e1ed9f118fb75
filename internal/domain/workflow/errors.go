package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a trigger is not permitted from the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned for an unknown status value
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when every candidate transition was vetoed by its guard
	ErrGuardFailed = errors.New("guard condition failed")
)
