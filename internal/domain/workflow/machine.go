package workflow

import "context"

// StateMachine tracks the current state and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is registered for the current state
	CanFire(trigger Trigger) bool

	// Fire executes the trigger, moving to the first edge whose guard passes
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns all triggers registered for the current state
	PermittedTriggers() []Trigger
}
