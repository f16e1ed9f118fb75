package approval

import "errors"

var (
	// ErrNoPendingStep is returned when the approver has no pending step on the expense
	ErrNoPendingStep = errors.New("no pending approval step found for this approver")

	// ErrNoManager is returned when an escalation has nowhere to go
	ErrNoManager = errors.New("cannot escalate: approver has no manager in hierarchy")

	// ErrStepConflict is returned when another action changed the step first
	ErrStepConflict = errors.New("approval step was changed by another action")

	// ErrUnknownAction is returned for actions other than approve, reject and escalate
	ErrUnknownAction = errors.New("unknown approval action")
)
