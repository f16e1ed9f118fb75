package entity

import "time"

// AuditLogEntry is a write-once record of an action taken on an expense
type AuditLogEntry struct {
	ID        int64     `json:"id"`
	ExpenseID string    `json:"expense_id,omitempty"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details,omitempty"` // JSON text
	RiskScore *float64  `json:"risk_score,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Memo      string    `json:"memo,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditFilter narrows audit trail queries
type AuditFilter struct {
	ExpenseID string
	Actor     string
	Limit     int
	Offset    int
}

// AuditStats summarises the audit trail
type AuditStats struct {
	TotalEntries int            `json:"total_entries"`
	ByAction     map[string]int `json:"by_action"`
	ByActor      map[string]int `json:"by_actor"`
	AIDecisions  int            `json:"ai_decisions"`
	HumanActions int            `json:"human_actions"`
}
