// Package service implements the expense use cases on top of the decision
// pipeline and the repository ports.
package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/expense-agent/internal/domain/entity"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// NewExpenseID returns an identifier of the form EXP-1A2B3C4D
func NewExpenseID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "EXP-" + strings.ToUpper(hex[:8])
}

func auditEntry(expenseID, action, actor string, details interface{}, at time.Time) (*entity.AuditLogEntry, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit details: %w", err)
	}
	return &entity.AuditLogEntry{
		ExpenseID: expenseID,
		Action:    action,
		Actor:     actor,
		Details:   string(raw),
		Timestamp: at,
	}, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}
