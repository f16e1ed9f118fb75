package port

import (
	"context"
	"time"

	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/feature"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
)

// ExpenseRepository defines persistence operations for Expense
type ExpenseRepository interface {
	Create(ctx context.Context, expense *entity.Expense) error
	GetByID(ctx context.Context, expenseID string) (*entity.Expense, error)
	List(ctx context.Context, filter entity.ExpenseFilter) ([]*entity.Expense, error)

	// UpdateStatus moves an expense from one status to another. Returns
	// ErrConflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, expenseID string, from, to workflow.State, actor, reason string) error

	// MarkPaid records a settlement and moves the expense to paid
	MarkPaid(ctx context.Context, expenseID string, from workflow.State, txHash string, paidAt time.Time) error

	// SetProgress records multi-step progress
	SetProgress(ctx context.Context, expenseID string, currentStep, totalSteps int) error

	// ClaimPayment reserves a payable expense for one payer. Returns
	// ErrConflict when it is no longer payable from the given status or a
	// claim newer than staleBefore is held.
	ClaimPayment(ctx context.Context, expenseID string, from workflow.State, claimedAt, staleBefore time.Time) error

	// ReleasePayment drops an unsettled claim
	ReleasePayment(ctx context.Context, expenseID string) error

	// ListUnpaid returns unclaimed approved expenses without a settlement, oldest first
	ListUnpaid(ctx context.Context, limit int, staleBefore time.Time) ([]*entity.Expense, error)

	// HistoryFor summarises the employee's prior expenses for feature building
	HistoryFor(ctx context.Context, employeeID string, category entity.Category, merchant string, monthStart time.Time) (*feature.History, error)

	// MonthlySpend sums the employee's expenses in the given statuses since since
	MonthlySpend(ctx context.Context, employeeID string, since time.Time, statuses []workflow.State) (float64, error)

	// CountDuplicates counts identical claims since since, ignoring excluded statuses
	CountDuplicates(ctx context.Context, employeeID string, amount float64, category entity.Category, merchant string, since time.Time, excluded []workflow.State) (int, error)

	// TotalsFor aggregates all of the employee's expenses
	TotalsFor(ctx context.Context, employeeID string) (*entity.EmployeeTotals, error)

	Stats(ctx context.Context) (*entity.ExpenseStats, error)
}

// EmployeeRepository defines persistence operations for Employee
type EmployeeRepository interface {
	// GetByID returns nil, nil when the employee does not exist
	GetByID(ctx context.Context, employeeID string) (*entity.Employee, error)

	// FirstByRole returns the employee with the lowest id holding role, or nil, nil
	FirstByRole(ctx context.Context, role entity.Role) (*entity.Employee, error)

	List(ctx context.Context) ([]*entity.Employee, error)
	Upsert(ctx context.Context, employee *entity.Employee) error
}

// ApprovalRuleRepository defines persistence operations for ApprovalRule.
// Rules are configuration and are only written by the seeder.
type ApprovalRuleRepository interface {
	// ListActive returns active rules ordered by priority then id
	ListActive(ctx context.Context) ([]*entity.ApprovalRule, error)
	Upsert(ctx context.Context, rule *entity.ApprovalRule) error
}

// ApprovalStepRepository defines persistence operations for ApprovalStep
type ApprovalStepRepository interface {
	// CreateBatch inserts a chain and fills in the generated ids
	CreateBatch(ctx context.Context, steps []*entity.ApprovalStep) error
	Create(ctx context.Context, step *entity.ApprovalStep) error

	// ListByExpense returns the chain ordered by step_order
	ListByExpense(ctx context.Context, expenseID string) ([]*entity.ApprovalStep, error)

	// FindPending returns the approver's pending step on the expense, or nil, nil
	FindPending(ctx context.Context, expenseID, approverID string) (*entity.ApprovalStep, error)

	// ListPendingByApprover returns every step currently waiting on the approver
	ListPendingByApprover(ctx context.Context, approverID string) ([]*entity.ApprovalStep, error)

	// Transition updates a step conditionally on its current status.
	// Returns ErrConflict when the step is no longer in from.
	Transition(ctx context.Context, stepID int64, from, to entity.StepStatus, comments string, actedAt *time.Time) error

	// ActivateNext flips the waiting step at order to pending. Returns nil, nil when there is none.
	ActivateNext(ctx context.Context, expenseID string, order int) (*entity.ApprovalStep, error)

	// SkipAfter marks every unfinished step after order as skipped
	SkipAfter(ctx context.Context, expenseID string, order int) (int64, error)

	// ShiftAfter renumbers every step after order by +1
	ShiftAfter(ctx context.Context, expenseID string, order int) error
}

// AuditLogRepository defines persistence operations for the append-only audit trail
type AuditLogRepository interface {
	Create(ctx context.Context, entry *entity.AuditLogEntry) error
	List(ctx context.Context, filter entity.AuditFilter) ([]*entity.AuditLogEntry, error)
	Stats(ctx context.Context) (*entity.AuditStats, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
