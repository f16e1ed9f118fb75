package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/infrastructure/persistence/sqlite"
)

// AuditLogRepository implements port.AuditLogRepository. Entries are never updated.
type AuditLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *sql.DB, logger *zap.Logger) port.AuditLogRepository {
	return &AuditLogRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends an entry
func (r *AuditLogRepository) Create(ctx context.Context, entry *entity.AuditLogEntry) error {
	query := `
		INSERT INTO audit_logs (expense_id, action, actor, details, risk_score, tx_hash, memo, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		nullString(entry.ExpenseID),
		entry.Action,
		entry.Actor,
		nullString(entry.Details),
		nullFloat(entry.RiskScore),
		nullString(entry.TxHash),
		nullString(entry.Memo),
		entry.Timestamp.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to write audit entry",
			zap.String("expense_id", entry.ExpenseID),
			zap.String("action", entry.Action),
			zap.Error(err))
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// List returns entries newest first
func (r *AuditLogRepository) List(ctx context.Context, filter entity.AuditFilter) ([]*entity.AuditLogEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.ExpenseID != "" {
		where = append(where, "expense_id = ?")
		args = append(args, filter.ExpenseID)
	}
	if filter.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, filter.Actor)
	}

	query := `SELECT id, expense_id, action, actor, details, risk_score, tx_hash, memo, timestamp FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []*entity.AuditLogEntry
	for rows.Next() {
		var (
			e                                entity.AuditLogEntry
			expenseID, details, txHash, memo sql.NullString
			risk                             sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &expenseID, &e.Action, &e.Actor, &details, &risk, &txHash, &memo, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.ExpenseID = expenseID.String
		e.Details = details.String
		e.RiskScore = floatPtr(risk)
		e.TxHash = txHash.String
		e.Memo = memo.String
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Stats counts entries by action and actor
func (r *AuditLogRepository) Stats(ctx context.Context) (*entity.AuditStats, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx,
		`SELECT action, actor, COUNT(*) FROM audit_logs GROUP BY action, actor`)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit stats: %w", err)
	}
	defer rows.Close()

	stats := &entity.AuditStats{
		ByAction: make(map[string]int),
		ByActor:  make(map[string]int),
	}
	for rows.Next() {
		var (
			action, actor string
			count         int
		)
		if err := rows.Scan(&action, &actor, &count); err != nil {
			return nil, fmt.Errorf("failed to scan audit stats: %w", err)
		}
		stats.TotalEntries += count
		stats.ByAction[action] += count
		stats.ByActor[actor] += count
		if actor == entity.SystemActor {
			stats.AIDecisions += count
		} else {
			stats.HumanActions += count
		}
	}
	return stats, rows.Err()
}

func (r *AuditLogRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFor(ctx, r.db)
}

// Verify interface compliance
var _ port.AuditLogRepository = (*AuditLogRepository)(nil)
