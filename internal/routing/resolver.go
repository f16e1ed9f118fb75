// Package routing selects the approval rule for an expense and resolves each
// required approver role to a concrete employee in the reporting hierarchy.
package routing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/domain/entity"
)

// DefaultMaxDepth bounds how far up the hierarchy a role search walks
const DefaultMaxDepth = 5

// Directory looks employees up. Both methods return nil, nil when nothing matches.
type Directory interface {
	GetByID(ctx context.Context, employeeID string) (*entity.Employee, error)
	// FirstByRole returns the employee with the lowest employee_id holding role
	FirstByRole(ctx context.Context, role entity.Role) (*entity.Employee, error)
}

// RuleSource supplies the active approval rules
type RuleSource interface {
	ListActive(ctx context.Context) ([]*entity.ApprovalRule, error)
}

// Request describes the expense being routed
type Request struct {
	ExpenseID  string
	EmployeeID string
	Category   entity.Category
	Department string
	Amount     float64
}

// Approver is a resolved chain slot. ID is nil for placeholders.
type Approver struct {
	ID   *string
	Name string
}

// Chain is the matched rule and its unsaved steps. A chain without steps
// means no rule applied and the single-tier decision stands.
type Chain struct {
	Rule  *entity.ApprovalRule
	Steps []*entity.ApprovalStep
}

// Empty reports whether no rule matched
func (c Chain) Empty() bool {
	return len(c.Steps) == 0
}

// Describe renders the approver names in order, e.g. "Ann → Bob"
func (c Chain) Describe() string {
	names := make([]string, len(c.Steps))
	for i, s := range c.Steps {
		names[i] = s.ApproverName
	}
	return strings.Join(names, " → ")
}

// Resolver builds approval chains
type Resolver struct {
	rules    RuleSource
	dir      Directory
	maxDepth int
	logger   *zap.Logger
}

// NewResolver creates a resolver. maxDepth <= 0 selects DefaultMaxDepth.
func NewResolver(rules RuleSource, dir Directory, maxDepth int, logger *zap.Logger) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Resolver{rules: rules, dir: dir, maxDepth: maxDepth, logger: logger}
}

// Resolve picks the first matching rule and resolves its approvers. An error
// is returned only when the rules cannot be read; unresolvable approvers
// become placeholder steps.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Chain, error) {
	rules, err := r.rules.ListActive(ctx)
	if err != nil {
		return Chain{}, fmt.Errorf("failed to load approval rules: %w", err)
	}

	rule := SelectRule(rules, req.Category, req.Department, req.Amount)
	if rule == nil {
		r.logger.Debug("No approval rule matched", zap.String("expense_id", req.ExpenseID))
		return Chain{}, nil
	}

	steps := make([]*entity.ApprovalStep, 0, len(rule.RequiredApprovers))
	for i, role := range rule.RequiredApprovers {
		approver := r.ResolveApprover(ctx, role, req.EmployeeID)
		status := entity.StepWaiting
		if i == 0 {
			status = entity.StepPending
		}
		steps = append(steps, &entity.ApprovalStep{
			ExpenseID:    req.ExpenseID,
			StepOrder:    i + 1,
			ApproverRole: role,
			ApproverID:   approver.ID,
			ApproverName: approver.Name,
			Status:       status,
		})
	}

	r.logger.Info("Approval rule matched",
		zap.String("expense_id", req.ExpenseID),
		zap.String("rule", rule.Name),
		zap.Int("priority", rule.Priority),
		zap.Int("steps", len(steps)))

	return Chain{Rule: rule, Steps: steps}, nil
}

// SelectRule returns the first active rule matching the expense, ordered by
// priority then id. Returns nil when none match.
func SelectRule(rules []*entity.ApprovalRule, category entity.Category, department string, amount float64) *entity.ApprovalRule {
	ordered := make([]*entity.ApprovalRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Active {
			ordered = append(ordered, rule)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	for _, rule := range ordered {
		if rule.Matches(category, department, amount) {
			return rule
		}
	}
	return nil
}

// ResolveApprover maps a role to an employee relative to the submitter
func (r *Resolver) ResolveApprover(ctx context.Context, role entity.ApproverRole, employeeID string) Approver {
	switch role {
	case entity.ApproverDirectManager:
		mgr, err := r.ManagerOf(ctx, employeeID)
		if err != nil {
			r.logger.Warn("Manager lookup failed", zap.String("employee_id", employeeID), zap.Error(err))
		}
		if mgr != nil {
			return approverOf(mgr)
		}
		return Approver{Name: "Unassigned Manager"}

	case entity.ApproverDepartmentHead:
		return r.walkUp(ctx, employeeID, entity.RoleVP, entity.RoleDirector, entity.RoleDepartmentHead)

	case entity.ApproverFinance:
		return r.firstByRole(ctx, entity.RoleFinance, "Finance Team")

	case entity.ApproverVP:
		return r.walkUp(ctx, employeeID, entity.RoleVP)

	case entity.ApproverCFO:
		return r.firstByRole(ctx, entity.RoleCFO, "CFO")
	}

	return r.firstByRole(ctx, entity.Role(role), fmt.Sprintf("Unresolved (%s)", role))
}

// ManagerOf returns the employee's immediate manager, or nil at the top of the hierarchy
func (r *Resolver) ManagerOf(ctx context.Context, employeeID string) (*entity.Employee, error) {
	emp, err := r.dir.GetByID(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if emp.ManagerID() == "" {
		return nil, nil
	}
	return r.dir.GetByID(ctx, emp.ManagerID())
}

func (r *Resolver) firstByRole(ctx context.Context, role entity.Role, placeholder string) Approver {
	emp, err := r.dir.FirstByRole(ctx, role)
	if err != nil {
		r.logger.Warn("Role lookup failed", zap.String("role", string(role)), zap.Error(err))
	}
	if emp == nil {
		return Approver{Name: placeholder}
	}
	return approverOf(emp)
}

func approverOf(e *entity.Employee) Approver {
	id := e.EmployeeID
	return Approver{ID: &id, Name: e.Name}
}
