package entity

import "time"

// ApprovalRule selects an approval chain for expenses matching its criteria.
// Empty Category/Department and nil amount bounds are wildcards.
type ApprovalRule struct {
	ID                int64          `json:"id" yaml:"id" validate:"required"`
	Name              string         `json:"name" yaml:"name" validate:"required"`
	Description       string         `json:"description,omitempty" yaml:"description"`
	Category          Category       `json:"category,omitempty" yaml:"category"`
	Department        string         `json:"department,omitempty" yaml:"department"`
	AmountMin         *float64       `json:"amount_min,omitempty" yaml:"amount_min"`
	AmountMax         *float64       `json:"amount_max,omitempty" yaml:"amount_max"`
	RequiredApprovers []ApproverRole `json:"required_approvers" yaml:"required_approvers" validate:"required,min=1"`
	ApprovalType      ApprovalType   `json:"approval_type" yaml:"approval_type"`
	Priority          int            `json:"priority" yaml:"priority"`
	Active            bool           `json:"is_active" yaml:"-"`
}

// Matches reports whether an expense with the given attributes falls under the rule.
// Amount bounds are inclusive.
func (r *ApprovalRule) Matches(category Category, department string, amount float64) bool {
	if r.Category != "" && r.Category != category {
		return false
	}
	if r.Department != "" && r.Department != department {
		return false
	}
	if r.AmountMin != nil && amount < *r.AmountMin {
		return false
	}
	if r.AmountMax != nil && amount > *r.AmountMax {
		return false
	}
	return true
}

// ApprovalStep is one approver slot in an expense's chain
type ApprovalStep struct {
	ID           int64        `json:"id"`
	ExpenseID    string       `json:"expense_id"`
	StepOrder    int          `json:"step_order"`
	ApproverRole ApproverRole `json:"approver_role"`
	// ApproverID is nil when no employee could be resolved for the role
	ApproverID   *string    `json:"approver_id"`
	ApproverName string     `json:"approver_name"`
	Status       StepStatus `json:"status"`
	Comments     string     `json:"comments,omitempty"`
	ActedAt      *time.Time `json:"acted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Resolved reports whether a concrete employee holds this step
func (s *ApprovalStep) Resolved() bool {
	return s.ApproverID != nil
}
