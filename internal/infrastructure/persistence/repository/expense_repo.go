package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/feature"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
	"github.com/garyjia/expense-agent/internal/infrastructure/persistence/sqlite"
)

const expenseColumns = `expense_id, employee_id, amount, currency, category, merchant, description,
	receipt_attached, receipt_signals, risk_score, anomaly_score, predicted_category, risk_factors,
	status, approved_by, approval_reason, memo, current_step, total_steps, tx_hash,
	submitted_at, processed_at, paid_at`

// ExpenseRepository implements port.ExpenseRepository
type ExpenseRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewExpenseRepository creates a new expense repository
func NewExpenseRepository(db *sql.DB, logger *zap.Logger) port.ExpenseRepository {
	return &ExpenseRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a decided expense
func (r *ExpenseRepository) Create(ctx context.Context, e *entity.Expense) error {
	query := `INSERT INTO expenses (` + expenseColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var receipt sql.NullString
	if e.Receipt != nil {
		receipt = nullString(marshalJSON(e.Receipt, ""))
	}
	factors := e.RiskFactors
	if factors == nil {
		factors = []string{}
	}

	_, err := r.getExecutor(ctx).ExecContext(ctx, query,
		e.ExpenseID,
		e.EmployeeID,
		e.Amount,
		e.Currency,
		string(e.Category),
		e.Merchant,
		e.Description,
		e.ReceiptAttached,
		receipt,
		e.RiskScore,
		e.AnomalyScore,
		nullString(string(e.PredictedCategory)),
		marshalJSON(factors, "[]"),
		string(e.Status),
		nullString(e.ApprovedBy),
		nullString(e.ApprovalReason),
		nullString(e.Memo),
		e.CurrentStep,
		e.TotalSteps,
		nullString(e.TxHash),
		e.SubmittedAt.UTC(),
		nullTime(e.ProcessedAt),
		nullTime(e.PaidAt),
	)
	if err != nil {
		r.logger.Error("Failed to create expense",
			zap.String("expense_id", e.ExpenseID),
			zap.Error(err))
		return fmt.Errorf("failed to create expense: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the expense does not exist
func (r *ExpenseRepository) GetByID(ctx context.Context, expenseID string) (*entity.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE expense_id = ?`

	e, err := scanExpense(r.getExecutor(ctx).QueryRowContext(ctx, query, expenseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense %s: %w", expenseID, err)
	}
	return e, nil
}

// List returns expenses newest first
func (r *ExpenseRepository) List(ctx context.Context, filter entity.ExpenseFilter) ([]*entity.Expense, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}

	query := `SELECT ` + expenseColumns + ` FROM expenses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY submitted_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	return r.query(ctx, query, args...)
}

// UpdateStatus implements a compare-and-set on the expense status
func (r *ExpenseRepository) UpdateStatus(ctx context.Context, expenseID string, from, to workflow.State, actor, reason string) error {
	query := `
		UPDATE expenses
		SET status = ?,
			approved_by = COALESCE(?, approved_by),
			approval_reason = COALESCE(?, approval_reason),
			processed_at = ?
		WHERE expense_id = ? AND status = ?
	`
	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		string(to),
		nullString(actor),
		nullString(reason),
		time.Now().UTC(),
		expenseID,
		string(from),
	)
	if err != nil {
		r.logger.Error("Failed to update expense status",
			zap.String("expense_id", expenseID),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
			zap.Error(err))
		return fmt.Errorf("failed to update expense status: %w", err)
	}
	return expectOneRow(result, expenseID)
}

// MarkPaid moves a payable expense to paid
func (r *ExpenseRepository) MarkPaid(ctx context.Context, expenseID string, from workflow.State, txHash string, paidAt time.Time) error {
	query := `
		UPDATE expenses
		SET status = ?, tx_hash = ?, paid_at = ?, payment_claimed_at = NULL
		WHERE expense_id = ? AND status = ?
	`
	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		string(workflow.StatePaid), txHash, paidAt.UTC(), expenseID, string(from))
	if err != nil {
		return fmt.Errorf("failed to mark expense paid: %w", err)
	}
	return expectOneRow(result, expenseID)
}

// SetProgress records how far the approval chain has advanced
func (r *ExpenseRepository) SetProgress(ctx context.Context, expenseID string, currentStep, totalSteps int) error {
	query := `UPDATE expenses SET current_step = ?, total_steps = ? WHERE expense_id = ?`
	result, err := r.getExecutor(ctx).ExecContext(ctx, query, currentStep, totalSteps, expenseID)
	if err != nil {
		return fmt.Errorf("failed to update approval progress: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("expense %s: %w", expenseID, port.ErrNotFound)
	}
	return nil
}

// ClaimPayment marks a payable expense as being paid. A claim taken before
// staleBefore no longer blocks a new one.
func (r *ExpenseRepository) ClaimPayment(ctx context.Context, expenseID string, from workflow.State, claimedAt, staleBefore time.Time) error {
	query := `
		UPDATE expenses
		SET payment_claimed_at = ?
		WHERE expense_id = ? AND status = ? AND tx_hash IS NULL
			AND (payment_claimed_at IS NULL OR payment_claimed_at < ?)
	`
	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		claimedAt.UTC(), expenseID, string(from), staleBefore.UTC())
	if err != nil {
		return fmt.Errorf("failed to claim payment: %w", err)
	}
	return expectOneRow(result, expenseID)
}

// ReleasePayment drops the claim after a transfer that did not go through
func (r *ExpenseRepository) ReleasePayment(ctx context.Context, expenseID string) error {
	query := `UPDATE expenses SET payment_claimed_at = NULL WHERE expense_id = ? AND tx_hash IS NULL`
	if _, err := r.getExecutor(ctx).ExecContext(ctx, query, expenseID); err != nil {
		return fmt.Errorf("failed to release payment claim: %w", err)
	}
	return nil
}

// ListUnpaid returns approved expenses that have no settlement and no live claim
func (r *ExpenseRepository) ListUnpaid(ctx context.Context, limit int, staleBefore time.Time) ([]*entity.Expense, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + expenseColumns + ` FROM expenses
		WHERE status IN (?, ?) AND tx_hash IS NULL
			AND (payment_claimed_at IS NULL OR payment_claimed_at < ?)
		ORDER BY submitted_at ASC
		LIMIT ?`
	return r.query(ctx, query,
		string(workflow.StateAutoApproved), string(workflow.StateApproved), staleBefore.UTC(), limit)
}

// HistoryFor summarises prior expenses. The month aggregates and the
// all-time counts are separate queries so the latest timestamp keeps its
// column type.
func (r *ExpenseRepository) HistoryFor(ctx context.Context, employeeID string, category entity.Category, merchant string, monthStart time.Time) (*feature.History, error) {
	exec := r.getExecutor(ctx)
	h := &feature.History{}

	budget := workflow.BudgetStates()
	monthQuery := fmt.Sprintf(`
		SELECT COUNT(*),
			COALESCE(SUM(amount), 0),
			COALESCE(SUM(CASE WHEN status IN (%s) THEN amount ELSE 0 END), 0)
		FROM expenses
		WHERE employee_id = ? AND submitted_at >= ?
	`, placeholders(len(budget)))
	args := append(stateArgs(budget), employeeID, monthStart.UTC())
	if err := exec.QueryRowContext(ctx, monthQuery, args...).Scan(&h.Count, &h.TotalAmount, &h.BudgetSpent); err != nil {
		return nil, fmt.Errorf("failed to load monthly history: %w", err)
	}

	allQuery := `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN category = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN merchant = ? THEN 1 ELSE 0 END), 0)
		FROM expenses
		WHERE employee_id = ?
	`
	if err := exec.QueryRowContext(ctx, allQuery, string(category), merchant, employeeID).
		Scan(&h.AllTime, &h.SameCategory, &h.SameMerchant); err != nil {
		return nil, fmt.Errorf("failed to load expense history: %w", err)
	}

	var last time.Time
	err := exec.QueryRowContext(ctx,
		`SELECT submitted_at FROM expenses WHERE employee_id = ? ORDER BY submitted_at DESC LIMIT 1`,
		employeeID).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to load last expense: %w", err)
	default:
		last = last.UTC()
		h.LastExpenseAt = &last
	}

	return h, nil
}

// MonthlySpend implements policy.History
func (r *ExpenseRepository) MonthlySpend(ctx context.Context, employeeID string, since time.Time, statuses []workflow.State) (float64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`
		SELECT COALESCE(SUM(amount), 0) FROM expenses
		WHERE employee_id = ? AND submitted_at >= ? AND status IN (%s)
	`, placeholders(len(statuses)))
	args := append([]interface{}{employeeID, since.UTC()}, stateArgs(statuses)...)

	var total float64
	if err := r.getExecutor(ctx).QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum monthly spend: %w", err)
	}
	return total, nil
}

// CountDuplicates implements policy.History
func (r *ExpenseRepository) CountDuplicates(ctx context.Context, employeeID string, amount float64, category entity.Category, merchant string, since time.Time, excluded []workflow.State) (int, error) {
	query := `
		SELECT COUNT(*) FROM expenses
		WHERE employee_id = ? AND amount = ? AND category = ? AND merchant = ? AND submitted_at >= ?
	`
	args := []interface{}{employeeID, amount, string(category), merchant, since.UTC()}
	if len(excluded) > 0 {
		query += fmt.Sprintf(" AND status NOT IN (%s)", placeholders(len(excluded)))
		args = append(args, stateArgs(excluded)...)
	}

	var n int
	if err := r.getExecutor(ctx).QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count duplicates: %w", err)
	}
	return n, nil
}

// TotalsFor aggregates all of the employee's expenses
func (r *ExpenseRepository) TotalsFor(ctx context.Context, employeeID string) (*entity.EmployeeTotals, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(amount), 0), COALESCE(AVG(risk_score), 0),
			COALESCE(SUM(CASE WHEN status IN (?, ?) THEN 1 ELSE 0 END), 0)
		FROM expenses WHERE employee_id = ?
	`
	var t entity.EmployeeTotals
	err := r.getExecutor(ctx).QueryRowContext(ctx, query,
		string(workflow.StateFlagged), string(workflow.StateRejected), employeeID,
	).Scan(&t.Count, &t.TotalAmount, &t.AvgRiskScore, &t.Flagged)
	if err != nil {
		return nil, fmt.Errorf("failed to total expenses: %w", err)
	}
	return &t, nil
}

// Stats aggregates the dashboard counters
func (r *ExpenseRepository) Stats(ctx context.Context) (*entity.ExpenseStats, error) {
	exec := r.getExecutor(ctx)
	stats := &entity.ExpenseStats{
		ByStatus:   make(map[workflow.State]int),
		ByCategory: make(map[entity.Category]float64),
	}

	rows, err := exec.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0), COALESCE(SUM(risk_score), 0)
		FROM expenses GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query status stats: %w", err)
	}
	defer rows.Close()

	var riskSum float64
	for rows.Next() {
		var (
			status string
			count  int
			amount float64
			risk   float64
		)
		if err := rows.Scan(&status, &count, &amount, &risk); err != nil {
			return nil, fmt.Errorf("failed to scan status stats: %w", err)
		}
		stats.ByStatus[workflow.State(status)] = count
		stats.TotalExpenses += count
		stats.TotalAmount += amount
		riskSum += risk
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	catRows, err := exec.QueryContext(ctx, `SELECT category, COALESCE(SUM(amount), 0) FROM expenses GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to query category stats: %w", err)
	}
	defer catRows.Close()

	for catRows.Next() {
		var (
			category string
			amount   float64
		)
		if err := catRows.Scan(&category, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan category stats: %w", err)
		}
		stats.ByCategory[entity.Category(category)] = amount
	}
	if err := catRows.Err(); err != nil {
		return nil, err
	}

	stats.AutoApproved = stats.ByStatus[workflow.StateAutoApproved]
	stats.PendingReview = stats.ByStatus[workflow.StateManagerReview]
	stats.PendingApproval = stats.ByStatus[workflow.StatePendingApproval]
	stats.Flagged = stats.ByStatus[workflow.StateFlagged]
	stats.Rejected = stats.ByStatus[workflow.StateRejected]
	stats.Paid = stats.ByStatus[workflow.StatePaid]
	if stats.TotalExpenses > 0 {
		stats.AvgRiskScore = riskSum / float64(stats.TotalExpenses)
	}
	return stats, nil
}

func (r *ExpenseRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.Expense, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var expenses []*entity.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func scanExpense(row scanner) (*entity.Expense, error) {
	var (
		e                                entity.Expense
		category, status                 string
		receipt, predicted, factors      sql.NullString
		approvedBy, reason, memo, txHash sql.NullString
		processedAt, paidAt              sql.NullTime
	)
	err := row.Scan(
		&e.ExpenseID,
		&e.EmployeeID,
		&e.Amount,
		&e.Currency,
		&category,
		&e.Merchant,
		&e.Description,
		&e.ReceiptAttached,
		&receipt,
		&e.RiskScore,
		&e.AnomalyScore,
		&predicted,
		&factors,
		&status,
		&approvedBy,
		&reason,
		&memo,
		&e.CurrentStep,
		&e.TotalSteps,
		&txHash,
		&e.SubmittedAt,
		&processedAt,
		&paidAt,
	)
	if err != nil {
		return nil, err
	}

	e.Category = entity.Category(category)
	e.Status = workflow.State(status)
	e.PredictedCategory = entity.Category(predicted.String)
	e.ApprovedBy = approvedBy.String
	e.ApprovalReason = reason.String
	e.Memo = memo.String
	e.TxHash = txHash.String
	e.SubmittedAt = e.SubmittedAt.UTC()
	e.ProcessedAt = timePtr(processedAt)
	e.PaidAt = timePtr(paidAt)

	e.RiskFactors = []string{}
	if factors.Valid && factors.String != "" {
		if err := json.Unmarshal([]byte(factors.String), &e.RiskFactors); err != nil {
			return nil, fmt.Errorf("invalid risk_factors: %w", err)
		}
	}
	if receipt.Valid && receipt.String != "" {
		var signals entity.OCRSignals
		if err := json.Unmarshal([]byte(receipt.String), &signals); err != nil {
			return nil, fmt.Errorf("invalid receipt_signals: %w", err)
		}
		e.Receipt = &signals
	}
	return &e, nil
}

// expectOneRow maps a zero-row conditional update to port.ErrConflict
func expectOneRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("expense %s: %w", id, port.ErrConflict)
	}
	return nil
}

func (r *ExpenseRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFor(ctx, r.db)
}

// Verify interface compliance
var _ port.ExpenseRepository = (*ExpenseRepository)(nil)
