package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/infrastructure/persistence/sqlite"
)

const employeeColumns = `employee_id, name, email, department, role, reports_to, monthly_limit, wallet, notify_id`

// EmployeeRepository implements port.EmployeeRepository
type EmployeeRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEmployeeRepository creates a new employee repository
func NewEmployeeRepository(db *sql.DB, logger *zap.Logger) port.EmployeeRepository {
	return &EmployeeRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves an employee by id
func (r *EmployeeRepository) GetByID(ctx context.Context, employeeID string) (*entity.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE employee_id = ?`
	return r.queryOne(ctx, query, employeeID)
}

// FirstByRole retrieves the lowest employee_id holding role
func (r *EmployeeRepository) FirstByRole(ctx context.Context, role entity.Role) (*entity.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE role = ? ORDER BY employee_id LIMIT 1`
	return r.queryOne(ctx, query, string(role))
}

// List returns the directory ordered by employee_id
func (r *EmployeeRepository) List(ctx context.Context) ([]*entity.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees ORDER BY employee_id`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var employees []*entity.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// Upsert inserts or replaces a directory entry
func (r *EmployeeRepository) Upsert(ctx context.Context, e *entity.Employee) error {
	query := `
		INSERT INTO employees (` + employeeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			department = excluded.department,
			role = excluded.role,
			reports_to = excluded.reports_to,
			monthly_limit = excluded.monthly_limit,
			wallet = excluded.wallet,
			notify_id = excluded.notify_id
	`
	_, err := r.getExecutor(ctx).ExecContext(ctx, query,
		e.EmployeeID,
		e.Name,
		e.Email,
		e.Department,
		string(e.Role),
		nullStringPtr(e.ReportsTo),
		e.MonthlyLimit,
		nullString(e.Wallet),
		nullString(e.NotifyID),
	)
	if err != nil {
		r.logger.Error("Failed to upsert employee",
			zap.String("employee_id", e.EmployeeID),
			zap.Error(err))
		return fmt.Errorf("failed to upsert employee: %w", err)
	}
	return nil
}

func (r *EmployeeRepository) queryOne(ctx context.Context, query string, args ...interface{}) (*entity.Employee, error) {
	e, err := scanEmployee(r.getExecutor(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	return e, nil
}

func scanEmployee(row scanner) (*entity.Employee, error) {
	var (
		e                entity.Employee
		role             string
		reportsTo        sql.NullString
		wallet, notifyID sql.NullString
	)
	if err := row.Scan(
		&e.EmployeeID,
		&e.Name,
		&e.Email,
		&e.Department,
		&role,
		&reportsTo,
		&e.MonthlyLimit,
		&wallet,
		&notifyID,
	); err != nil {
		return nil, err
	}
	e.Role = entity.Role(role)
	e.ReportsTo = stringPtr(reportsTo)
	e.Wallet = wallet.String
	e.NotifyID = notifyID.String
	return &e, nil
}

func (r *EmployeeRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFor(ctx, r.db)
}

// Verify interface compliance
var _ port.EmployeeRepository = (*EmployeeRepository)(nil)
