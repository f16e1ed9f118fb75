package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/infrastructure/persistence/sqlite"
)

const ruleColumns = `id, name, description, category, department, amount_min, amount_max,
	required_approvers, approval_type, priority, is_active`

// ApprovalRuleRepository implements port.ApprovalRuleRepository
type ApprovalRuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalRuleRepository creates a new approval rule repository
func NewApprovalRuleRepository(db *sql.DB, logger *zap.Logger) port.ApprovalRuleRepository {
	return &ApprovalRuleRepository{
		db:     db,
		logger: logger,
	}
}

// ListActive returns active rules ordered by priority then id
func (r *ApprovalRuleRepository) ListActive(ctx context.Context) ([]*entity.ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules WHERE is_active = 1 ORDER BY priority ASC, id ASC`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval rules: %w", err)
	}
	defer rows.Close()

	var rules []*entity.ApprovalRule
	for rows.Next() {
		var (
			rule                  entity.ApprovalRule
			description, category sql.NullString
			department, kind      sql.NullString
			amountMin, amountMax  sql.NullFloat64
			approvers             string
		)
		if err := rows.Scan(
			&rule.ID,
			&rule.Name,
			&description,
			&category,
			&department,
			&amountMin,
			&amountMax,
			&approvers,
			&kind,
			&rule.Priority,
			&rule.Active,
		); err != nil {
			return nil, fmt.Errorf("failed to scan approval rule: %w", err)
		}

		if err := json.Unmarshal([]byte(approvers), &rule.RequiredApprovers); err != nil {
			r.logger.Warn("Skipping rule with invalid approver list",
				zap.Int64("rule_id", rule.ID),
				zap.Error(err))
			continue
		}
		rule.Description = description.String
		rule.Category = entity.Category(category.String)
		rule.Department = department.String
		rule.AmountMin = floatPtr(amountMin)
		rule.AmountMax = floatPtr(amountMax)
		rule.ApprovalType = entity.ApprovalType(kind.String)
		if rule.ApprovalType == "" {
			rule.ApprovalType = entity.ApprovalSequential
		}
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// Upsert inserts or replaces a rule by id
func (r *ApprovalRuleRepository) Upsert(ctx context.Context, rule *entity.ApprovalRule) error {
	query := `
		INSERT INTO approval_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			department = excluded.department,
			amount_min = excluded.amount_min,
			amount_max = excluded.amount_max,
			required_approvers = excluded.required_approvers,
			approval_type = excluded.approval_type,
			priority = excluded.priority,
			is_active = excluded.is_active
	`
	approvalType := rule.ApprovalType
	if approvalType == "" {
		approvalType = entity.ApprovalSequential
	}

	_, err := r.getExecutor(ctx).ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		nullString(rule.Description),
		nullString(string(rule.Category)),
		nullString(rule.Department),
		nullFloat(rule.AmountMin),
		nullFloat(rule.AmountMax),
		marshalJSON(rule.RequiredApprovers, "[]"),
		string(approvalType),
		rule.Priority,
		rule.Active,
	)
	if err != nil {
		r.logger.Error("Failed to upsert approval rule",
			zap.Int64("rule_id", rule.ID),
			zap.Error(err))
		return fmt.Errorf("failed to upsert approval rule: %w", err)
	}
	return nil
}

func (r *ApprovalRuleRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFor(ctx, r.db)
}

// Verify interface compliance
var _ port.ApprovalRuleRepository = (*ApprovalRuleRepository)(nil)
