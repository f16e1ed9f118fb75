package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
)

// SpendingSummary is an employee's expense history and current month budget
type SpendingSummary struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	Department string `json:"department"`
	entity.EmployeeTotals
	AvgAmount        float64 `json:"avg_expense_amount"`
	MonthlyLimit     float64 `json:"monthly_limit"`
	MonthlySpent     float64 `json:"monthly_spent"`
	MonthlyRemaining float64 `json:"monthly_remaining"`
	Wallet           string  `json:"wallet,omitempty"`
}

// OrgNode is one employee in the reporting tree
type OrgNode struct {
	EmployeeID    string     `json:"employee_id"`
	Name          string     `json:"name"`
	Role          string     `json:"role"`
	Department    string     `json:"department"`
	DirectReports []*OrgNode `json:"direct_reports"`
}

// OrgEntry is one row of the flattened organisation
type OrgEntry struct {
	EmployeeID  string  `json:"employee_id"`
	Name        string  `json:"name"`
	Role        string  `json:"role"`
	Department  string  `json:"department"`
	ReportsTo   *string `json:"reports_to"`
	ManagerName *string `json:"manager_name"`
}

// EmployeeService exposes the employee directory read-only
type EmployeeService interface {
	List(ctx context.Context) ([]*entity.Employee, error)
	Get(ctx context.Context, employeeID string) (*entity.Employee, error)
	Spending(ctx context.Context, employeeID string) (*SpendingSummary, error)
	OrgTree(ctx context.Context) ([]*OrgNode, error)
	OrgFlat(ctx context.Context) ([]*OrgEntry, error)
}

type employeeServiceImpl struct {
	employees port.EmployeeRepository
	expenses  port.ExpenseRepository
	now       func() time.Time
}

// NewEmployeeService creates a new EmployeeService
func NewEmployeeService(employees port.EmployeeRepository, expenses port.ExpenseRepository) EmployeeService {
	return &employeeServiceImpl{employees: employees, expenses: expenses, now: utcNow}
}

func (s *employeeServiceImpl) List(ctx context.Context) ([]*entity.Employee, error) {
	employees, err := s.employees.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	if employees == nil {
		employees = []*entity.Employee{}
	}
	return employees, nil
}

// Get returns the employee or port.ErrNotFound
func (s *employeeServiceImpl) Get(ctx context.Context, employeeID string) (*entity.Employee, error) {
	e, err := s.employees.GetByID(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("get employee: %w", err)
	}
	if e == nil {
		return nil, fmt.Errorf("employee %s: %w", employeeID, port.ErrNotFound)
	}
	return e, nil
}

// Spending counts the month's budget the same way the budget policy does
func (s *employeeServiceImpl) Spending(ctx context.Context, employeeID string) (*SpendingSummary, error) {
	e, err := s.Get(ctx, employeeID)
	if err != nil {
		return nil, err
	}

	totals, err := s.expenses.TotalsFor(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("total expenses: %w", err)
	}

	now := s.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	spent, err := s.expenses.MonthlySpend(ctx, employeeID, monthStart, workflow.BudgetStates())
	if err != nil {
		return nil, fmt.Errorf("monthly spend: %w", err)
	}

	sum := &SpendingSummary{
		EmployeeID:       e.EmployeeID,
		Name:             e.Name,
		Department:       e.Department,
		EmployeeTotals:   *totals,
		MonthlyLimit:     e.MonthlyLimit,
		MonthlySpent:     round2(spent),
		MonthlyRemaining: round2(math.Max(e.MonthlyLimit-spent, 0)),
		Wallet:           e.Wallet,
	}
	sum.TotalAmount = round2(sum.TotalAmount)
	sum.AvgRiskScore = math.Round(sum.AvgRiskScore*1000) / 1000
	if totals.Count > 0 {
		sum.AvgAmount = round2(totals.TotalAmount / float64(totals.Count))
	}
	return sum, nil
}

// OrgTree nests employees under their managers. Anyone whose manager is not
// in the directory is a root.
func (s *employeeServiceImpl) OrgTree(ctx context.Context) ([]*OrgNode, error) {
	employees, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*OrgNode, len(employees))
	for _, e := range employees {
		nodes[e.EmployeeID] = &OrgNode{
			EmployeeID:    e.EmployeeID,
			Name:          e.Name,
			Role:          string(e.Role),
			Department:    e.Department,
			DirectReports: []*OrgNode{},
		}
	}

	roots := []*OrgNode{}
	for _, e := range employees {
		node := nodes[e.EmployeeID]
		if mgr, ok := nodes[e.ManagerID()]; ok && e.ManagerID() != e.EmployeeID {
			mgr.DirectReports = append(mgr.DirectReports, node)
			continue
		}
		roots = append(roots, node)
	}
	return roots, nil
}

func (s *employeeServiceImpl) OrgFlat(ctx context.Context) ([]*OrgEntry, error) {
	employees, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(employees))
	for _, e := range employees {
		names[e.EmployeeID] = e.Name
	}

	out := make([]*OrgEntry, 0, len(employees))
	for _, e := range employees {
		entry := &OrgEntry{
			EmployeeID: e.EmployeeID,
			Name:       e.Name,
			Role:       string(e.Role),
			Department: e.Department,
			ReportsTo:  e.ReportsTo,
		}
		if name, ok := names[e.ManagerID()]; ok {
			entry.ManagerName = &name
		}
		out = append(out, entry)
	}
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
