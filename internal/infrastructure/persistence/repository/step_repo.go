package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/infrastructure/persistence/sqlite"
)

const stepColumns = `id, expense_id, step_order, approver_role, approver_id, approver_name,
	status, comments, acted_at, created_at`

// ApprovalStepRepository implements port.ApprovalStepRepository
type ApprovalStepRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalStepRepository creates a new approval step repository
func NewApprovalStepRepository(db *sql.DB, logger *zap.Logger) port.ApprovalStepRepository {
	return &ApprovalStepRepository{
		db:     db,
		logger: logger,
	}
}

// CreateBatch inserts the steps in order
func (r *ApprovalStepRepository) CreateBatch(ctx context.Context, steps []*entity.ApprovalStep) error {
	for _, step := range steps {
		if err := r.Create(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

// Create inserts one step and sets its id
func (r *ApprovalStepRepository) Create(ctx context.Context, step *entity.ApprovalStep) error {
	query := `
		INSERT INTO approval_steps (
			expense_id, step_order, approver_role, approver_id, approver_name,
			status, comments, acted_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		step.ExpenseID,
		step.StepOrder,
		string(step.ApproverRole),
		nullStringPtr(step.ApproverID),
		step.ApproverName,
		string(step.Status),
		nullString(step.Comments),
		nullTime(step.ActedAt),
		step.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create approval step",
			zap.String("expense_id", step.ExpenseID),
			zap.Int("step_order", step.StepOrder),
			zap.Error(err))
		return fmt.Errorf("failed to create approval step: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	step.ID = id
	return nil
}

// ListByExpense returns the chain in step order
func (r *ApprovalStepRepository) ListByExpense(ctx context.Context, expenseID string) ([]*entity.ApprovalStep, error) {
	query := `SELECT ` + stepColumns + ` FROM approval_steps WHERE expense_id = ? ORDER BY step_order, id`
	return r.query(ctx, query, expenseID)
}

// FindPending returns the approver's pending step on the expense
func (r *ApprovalStepRepository) FindPending(ctx context.Context, expenseID, approverID string) (*entity.ApprovalStep, error) {
	query := `SELECT ` + stepColumns + ` FROM approval_steps
		WHERE expense_id = ? AND approver_id = ? AND status = ?
		ORDER BY step_order LIMIT 1`

	step, err := scanStep(r.getExecutor(ctx).QueryRowContext(ctx, query,
		expenseID, approverID, string(entity.StepPending)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending step: %w", err)
	}
	return step, nil
}

// ListPendingByApprover returns the approver's inbox, oldest first
func (r *ApprovalStepRepository) ListPendingByApprover(ctx context.Context, approverID string) ([]*entity.ApprovalStep, error) {
	query := `SELECT ` + stepColumns + ` FROM approval_steps
		WHERE approver_id = ? AND status = ?
		ORDER BY created_at, id`
	return r.query(ctx, query, approverID, string(entity.StepPending))
}

// Transition is a compare-and-set on the step status
func (r *ApprovalStepRepository) Transition(ctx context.Context, stepID int64, from, to entity.StepStatus, comments string, actedAt *time.Time) error {
	query := `
		UPDATE approval_steps
		SET status = ?, comments = COALESCE(?, comments), acted_at = COALESCE(?, acted_at)
		WHERE id = ? AND status = ?
	`
	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		string(to), nullString(comments), nullTime(actedAt), stepID, string(from))
	if err != nil {
		r.logger.Error("Failed to transition approval step",
			zap.Int64("step_id", stepID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err))
		return fmt.Errorf("failed to update approval step: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("approval step %d: %w", stepID, port.ErrConflict)
	}
	return nil
}

// ActivateNext makes the waiting step at order pending
func (r *ApprovalStepRepository) ActivateNext(ctx context.Context, expenseID string, order int) (*entity.ApprovalStep, error) {
	query := `SELECT ` + stepColumns + ` FROM approval_steps
		WHERE expense_id = ? AND step_order = ? AND status = ?
		ORDER BY id LIMIT 1`

	step, err := scanStep(r.getExecutor(ctx).QueryRowContext(ctx, query,
		expenseID, order, string(entity.StepWaiting)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load next step: %w", err)
	}

	if err := r.Transition(ctx, step.ID, entity.StepWaiting, entity.StepPending, "", nil); err != nil {
		return nil, err
	}
	step.Status = entity.StepPending
	return step, nil
}

// SkipAfter closes every unfinished step after order
func (r *ApprovalStepRepository) SkipAfter(ctx context.Context, expenseID string, order int) (int64, error) {
	query := `
		UPDATE approval_steps SET status = ?
		WHERE expense_id = ? AND step_order > ? AND status IN (?, ?)
	`
	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		string(entity.StepSkipped), expenseID, order,
		string(entity.StepWaiting), string(entity.StepPending))
	if err != nil {
		return 0, fmt.Errorf("failed to skip remaining steps: %w", err)
	}
	return result.RowsAffected()
}

// ShiftAfter makes room for an inserted step
func (r *ApprovalStepRepository) ShiftAfter(ctx context.Context, expenseID string, order int) error {
	query := `UPDATE approval_steps SET step_order = step_order + 1 WHERE expense_id = ? AND step_order > ?`
	if _, err := r.getExecutor(ctx).ExecContext(ctx, query, expenseID, order); err != nil {
		return fmt.Errorf("failed to renumber steps: %w", err)
	}
	return nil
}

func (r *ApprovalStepRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.ApprovalStep, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approval steps: %w", err)
	}
	defer rows.Close()

	var steps []*entity.ApprovalStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval step: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func scanStep(row scanner) (*entity.ApprovalStep, error) {
	var (
		s                 entity.ApprovalStep
		role, status      string
		approverID, notes sql.NullString
		actedAt           sql.NullTime
	)
	if err := row.Scan(
		&s.ID,
		&s.ExpenseID,
		&s.StepOrder,
		&role,
		&approverID,
		&s.ApproverName,
		&status,
		&notes,
		&actedAt,
		&s.CreatedAt,
	); err != nil {
		return nil, err
	}
	s.ApproverRole = entity.ApproverRole(role)
	s.Status = entity.StepStatus(status)
	s.ApproverID = stringPtr(approverID)
	s.Comments = notes.String
	s.ActedAt = timePtr(actedAt)
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

func (r *ApprovalStepRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFor(ctx, r.db)
}

// Verify interface compliance
var _ port.ApprovalStepRepository = (*ApprovalStepRepository)(nil)
