// Package policy checks an expense against organisational spending rules
// and classifies each finding as a warning, a flag or a block.
package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/feature"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
)

// History answers the spending questions that need prior expenses
type History interface {
	MonthlySpend(ctx context.Context, employeeID string, since time.Time, statuses []workflow.State) (float64, error)
	CountDuplicates(ctx context.Context, employeeID string, amount float64, category entity.Category, merchant string, since time.Time, excluded []workflow.State) (int, error)
}

// EmployeeLookup returns nil, nil for an unknown employee
type EmployeeLookup interface {
	GetByID(ctx context.Context, employeeID string) (*entity.Employee, error)
}

// CategoryLimit is an advisory and a hard ceiling for one category
type CategoryLimit struct {
	Warn  float64 `mapstructure:"warn"`
	Block float64 `mapstructure:"block"`
}

// Limits holds every threshold the engine applies
type Limits struct {
	ReceiptSuggestedAbove float64
	ReceiptFlagAbove      float64
	ReceiptBlockAbove     float64
	HighValueAbove        float64
	MaxExpense            float64
	CategoryLimits        map[entity.Category]CategoryLimit
	DefaultMonthlyLimit   float64
	BudgetBlockFactor     float64
	DuplicateWindow       time.Duration
}

// DefaultLimits returns the standard organisational policy
func DefaultLimits() Limits {
	return Limits{
		ReceiptSuggestedAbove: 25,
		ReceiptFlagAbove:      200,
		ReceiptBlockAbove:     1000,
		HighValueAbove:        10000,
		MaxExpense:            25000,
		CategoryLimits: map[entity.Category]CategoryLimit{
			entity.CategoryMeals:               {Warn: 200, Block: 500},
			entity.CategoryTransportation:      {Warn: 300, Block: 800},
			entity.CategoryOfficeSupplies:      {Warn: 1000, Block: 3000},
			entity.CategoryClientEntertainment: {Warn: 600, Block: 2000},
		},
		DefaultMonthlyLimit: 10000,
		BudgetBlockFactor:   1.5,
		DuplicateWindow:     24 * time.Hour,
	}
}

// Result is the outcome of all checks
type Result struct {
	Passed        bool                     `json:"passed"`
	Violations    []entity.PolicyViolation `json:"violations"`
	BlockingCount int                      `json:"blocking_count"`
	WarningCount  int                      `json:"warning_count"`
	FlagCount     int                      `json:"flag_count"`
	Summary       string                   `json:"summary"`
}

// HasBlock reports whether any violation blocks the expense
func (r Result) HasBlock() bool {
	return r.BlockingCount > 0
}

// FirstFlag returns the first flag-severity violation, if any
func (r Result) FirstFlag() (entity.PolicyViolation, bool) {
	for _, v := range r.Violations {
		if v.Severity == entity.SeverityFlag {
			return v, true
		}
	}
	return entity.PolicyViolation{}, false
}

// FirstBlock returns the first block-severity violation, if any
func (r Result) FirstBlock() (entity.PolicyViolation, bool) {
	for _, v := range r.Violations {
		if v.Severity == entity.SeverityBlock {
			return v, true
		}
	}
	return entity.PolicyViolation{}, false
}

// Engine runs the policy checks
type Engine struct {
	limits    Limits
	history   History
	employees EmployeeLookup
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source used for month and duplicate windows
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a policy engine. history and employees may be nil, in
// which case the checks that need them are skipped.
func NewEngine(limits Limits, history History, employees EmployeeLookup, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		limits:    limits,
		history:   history,
		employees: employees,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check runs every policy. It never fails: history errors skip the affected check.
func (e *Engine) Check(ctx context.Context, f feature.Features, employeeID string) Result {
	var violations []entity.PolicyViolation

	violations = append(violations, e.checkReceipt(f)...)
	violations = append(violations, e.checkMaxAmount(f)...)
	violations = append(violations, e.checkCategoryLimit(f)...)
	violations = append(violations, e.checkMonthlyLimit(ctx, f, employeeID)...)
	violations = append(violations, e.checkDuplicates(ctx, f, employeeID)...)
	violations = append(violations, checkReceiptCrossCheck(f)...)

	res := Result{Violations: violations}
	if res.Violations == nil {
		res.Violations = []entity.PolicyViolation{}
	}
	for _, v := range violations {
		switch v.Severity {
		case entity.SeverityBlock:
			res.BlockingCount++
		case entity.SeverityFlag:
			res.FlagCount++
		case entity.SeverityWarning:
			res.WarningCount++
		}
	}
	res.Passed = res.BlockingCount == 0
	if res.Passed {
		res.Summary = "All policies passed"
	} else {
		res.Summary = fmt.Sprintf("Blocked by %d policy violation(s)", res.BlockingCount)
	}
	return res
}

func (e *Engine) checkReceipt(f feature.Features) []entity.PolicyViolation {
	if f.ReceiptAttached || f.Amount <= e.limits.ReceiptSuggestedAbove {
		return nil
	}
	switch {
	case f.Amount > e.limits.ReceiptBlockAbove:
		return []entity.PolicyViolation{{
			Policy:   "Receipt Required",
			Message:  fmt.Sprintf("Receipt required for expenses above $%.0f (expense: $%.2f)", e.limits.ReceiptBlockAbove, f.Amount),
			Severity: entity.SeverityBlock,
		}}
	case f.Amount > e.limits.ReceiptFlagAbove:
		return []entity.PolicyViolation{{
			Policy:   "Receipt Recommended",
			Message:  fmt.Sprintf("No receipt attached for $%.2f expense. Recommended for amounts above $%.0f.", f.Amount, e.limits.ReceiptFlagAbove),
			Severity: entity.SeverityFlag,
		}}
	default:
		return []entity.PolicyViolation{{
			Policy:   "Receipt Suggested",
			Message:  fmt.Sprintf("Consider attaching receipt for $%.2f expense.", f.Amount),
			Severity: entity.SeverityWarning,
		}}
	}
}

func (e *Engine) checkMaxAmount(f feature.Features) []entity.PolicyViolation {
	switch {
	case f.Amount > e.limits.MaxExpense:
		return []entity.PolicyViolation{{
			Policy:   "Maximum Expense Limit",
			Message:  fmt.Sprintf("Expense $%.2f exceeds maximum single expense limit of $%.0f", f.Amount, e.limits.MaxExpense),
			Severity: entity.SeverityBlock,
		}}
	case f.Amount > e.limits.HighValueAbove:
		return []entity.PolicyViolation{{
			Policy:   "High Value Expense",
			Message:  fmt.Sprintf("Expense $%.2f exceeds $%.0f and requires manager approval", f.Amount, e.limits.HighValueAbove),
			Severity: entity.SeverityFlag,
		}}
	}
	return nil
}

// checkCategoryLimit never blocks: exceeding the hard ceiling only flags
func (e *Engine) checkCategoryLimit(f feature.Features) []entity.PolicyViolation {
	lim, ok := e.limits.CategoryLimits[f.Category]
	if !ok {
		return nil
	}
	label := strings.ReplaceAll(string(f.Category), "_", " ")
	switch {
	case f.Amount > lim.Block:
		return []entity.PolicyViolation{{
			Policy:   titleCase(label) + " Limit",
			Message:  fmt.Sprintf("$%.2f exceeds %s limit of $%.0f", f.Amount, label, lim.Block),
			Severity: entity.SeverityFlag,
		}}
	case f.Amount > lim.Warn:
		return []entity.PolicyViolation{{
			Policy:   titleCase(label) + " Advisory",
			Message:  fmt.Sprintf("$%.2f is above typical %s range ($%.0f)", f.Amount, label, lim.Warn),
			Severity: entity.SeverityWarning,
		}}
	}
	return nil
}

func (e *Engine) checkMonthlyLimit(ctx context.Context, f feature.Features, employeeID string) []entity.PolicyViolation {
	if e.history == nil {
		return nil
	}

	limit := e.limits.DefaultMonthlyLimit
	if e.employees != nil {
		emp, err := e.employees.GetByID(ctx, employeeID)
		if err != nil {
			e.logger.Warn("Monthly limit check skipped", zap.String("employee_id", employeeID), zap.Error(err))
			return nil
		}
		if emp != nil && emp.MonthlyLimit > 0 {
			limit = emp.MonthlyLimit
		}
	}

	spent, err := e.history.MonthlySpend(ctx, employeeID, monthStart(e.now()), workflow.BudgetStates())
	if err != nil {
		e.logger.Warn("Monthly limit check skipped", zap.String("employee_id", employeeID), zap.Error(err))
		return nil
	}

	total := spent + f.Amount
	if total <= limit {
		return nil
	}
	severity := entity.SeverityFlag
	if total > limit*e.limits.BudgetBlockFactor {
		severity = entity.SeverityBlock
	}
	return []entity.PolicyViolation{{
		Policy:   "Monthly Spending Limit",
		Message:  fmt.Sprintf("Monthly total $%.2f would exceed limit of $%.2f (already spent: $%.2f)", total, limit, spent),
		Severity: severity,
	}}
}

// checkDuplicates only ever warns, however many matches there are
func (e *Engine) checkDuplicates(ctx context.Context, f feature.Features, employeeID string) []entity.PolicyViolation {
	if e.history == nil {
		return nil
	}
	since := e.now().Add(-e.limits.DuplicateWindow)
	excluded := []workflow.State{workflow.StateRejected, workflow.StateFlagged}

	n, err := e.history.CountDuplicates(ctx, employeeID, f.Amount, f.Category, f.Merchant, since, excluded)
	if err != nil {
		e.logger.Warn("Duplicate check skipped", zap.String("employee_id", employeeID), zap.Error(err))
		return nil
	}
	if n == 0 {
		return nil
	}
	return []entity.PolicyViolation{{
		Policy:   "Potential Duplicate",
		Message:  fmt.Sprintf("Found %d similar expense(s) in last 24 hours (same amount, category, and merchant)", n),
		Severity: entity.SeverityWarning,
	}}
}

func checkReceiptCrossCheck(f feature.Features) []entity.PolicyViolation {
	if !f.OCR.Usable() {
		return nil
	}
	o := f.OCR
	var out []entity.PolicyViolation

	switch {
	case o.AmountMismatch > 0.50:
		out = append(out, entity.PolicyViolation{
			Policy:   "Receipt Amount Mismatch",
			Message:  fmt.Sprintf("Receipt total differs from submitted $%.2f by %.0f%%", f.Amount, o.AmountMismatch*100),
			Severity: entity.SeverityFlag,
		})
	case o.AmountMismatch > 0.15:
		out = append(out, entity.PolicyViolation{
			Policy:   "Receipt Amount Discrepancy",
			Message:  fmt.Sprintf("Receipt total vs submitted $%.2f (%.0f%% difference)", f.Amount, o.AmountMismatch*100),
			Severity: entity.SeverityWarning,
		})
	}

	if o.MerchantMismatch {
		out = append(out, entity.PolicyViolation{
			Policy:   "Receipt Merchant Mismatch",
			Message:  fmt.Sprintf("Receipt merchant doesn't match submitted '%s'", f.Merchant),
			Severity: entity.SeverityWarning,
		})
	}

	switch {
	case o.DateGapDays > 90:
		out = append(out, entity.PolicyViolation{
			Policy:   "Stale Receipt",
			Message:  fmt.Sprintf("Receipt date is %d days old, possible reused or old receipt", o.DateGapDays),
			Severity: entity.SeverityFlag,
		})
	case o.DateGapDays > 30:
		out = append(out, entity.PolicyViolation{
			Policy:   "Old Receipt",
			Message:  fmt.Sprintf("Receipt date is %d days ago", o.DateGapDays),
			Severity: entity.SeverityWarning,
		})
	}

	return out
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
