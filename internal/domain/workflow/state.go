package workflow

// State is the status of an expense in its approval lifecycle
type State string

const (
	StatePending         State = "pending"
	StateAutoApproved    State = "auto_approved"
	StateManagerReview   State = "manager_review"
	StatePendingApproval State = "pending_approval"
	StateApproved        State = "approved"
	StateRejected        State = "rejected"
	StateFlagged         State = "flagged"
	StateDisputed        State = "disputed"
	StatePaid            State = "paid"
	StateEscalated       State = "escalated"
)

// Rejected and flagged expenses can only move again through a dispute,
// so they count as terminal for the automated pipeline.
var terminalStates = map[State]bool{
	StateRejected: true,
	StateFlagged:  true,
	StateApproved: true,
	StatePaid:     true,
}

// spendingStates are the statuses counted against an employee's monthly budget
var spendingStates = map[State]bool{
	StateAutoApproved: true,
	StateApproved:     true,
	StatePaid:         true,
}

// IsTerminal returns true if the automated pipeline will not move the expense further
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// CountsTowardBudget reports whether an expense in this state consumes monthly budget
func (s State) CountsTowardBudget() bool {
	return spendingStates[s]
}

// IsPayable reports whether an expense in this state may be settled
func (s State) IsPayable() bool {
	return s == StateAutoApproved || s == StateApproved
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known expense status
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateAutoApproved, StateManagerReview, StatePendingApproval,
		StateApproved, StateRejected, StateFlagged, StateDisputed, StatePaid, StateEscalated:
		return true
	}
	return false
}

// BudgetStates lists the statuses counted against the monthly budget, in stable order
func BudgetStates() []State {
	return []State{StateAutoApproved, StateApproved, StatePaid}
}
