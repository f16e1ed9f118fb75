package entity

import (
	"time"

	"github.com/garyjia/expense-agent/internal/domain/workflow"
)

// Expense is a submitted reimbursement claim. Expenses are never deleted.
type Expense struct {
	ExpenseID         string         `json:"expense_id"`
	EmployeeID        string         `json:"employee_id"`
	Amount            float64        `json:"amount"`
	Currency          string         `json:"currency"`
	Category          Category       `json:"category"`
	Merchant          string         `json:"merchant"`
	Description       string         `json:"description"`
	ReceiptAttached   bool           `json:"receipt_attached"`
	Receipt           *OCRSignals    `json:"receipt,omitempty"`
	RiskScore         float64        `json:"risk_score"`
	AnomalyScore      float64        `json:"anomaly_score"`
	PredictedCategory Category       `json:"predicted_category,omitempty"`
	RiskFactors       []string       `json:"risk_factors"`
	Status            workflow.State `json:"status"`
	ApprovedBy        string         `json:"approved_by,omitempty"`
	ApprovalReason    string         `json:"approval_reason,omitempty"`
	Memo              string         `json:"memo,omitempty"`
	CurrentStep       int            `json:"current_step"`
	TotalSteps        int            `json:"total_steps"`
	TxHash            string         `json:"tx_hash,omitempty"`
	SubmittedAt       time.Time      `json:"submitted_at"`
	ProcessedAt       *time.Time     `json:"processed_at,omitempty"`
	PaidAt            *time.Time     `json:"paid_at,omitempty"`
}

// OCRSignals is the result of cross-checking an extracted receipt
// against the submitted claim. Only consulted when Success is true.
type OCRSignals struct {
	Success          bool    `json:"ocr_success"`
	Confidence       float64 `json:"ocr_confidence"`
	AmountMismatch   float64 `json:"amount_mismatch"`
	MerchantMismatch bool    `json:"merchant_mismatch"`
	DateGapDays      int     `json:"date_gap_days"`
}

// Usable reports whether the signals came from a successful extraction
func (s *OCRSignals) Usable() bool {
	return s != nil && s.Success
}

// ExpenseFilter narrows expense listings. Zero values match everything.
type ExpenseFilter struct {
	Status     workflow.State
	EmployeeID string
	Limit      int
	Offset     int
}

// ExpenseStats is the dashboard summary of all expenses
type ExpenseStats struct {
	TotalExpenses   int                    `json:"total_expenses"`
	TotalAmount     float64                `json:"total_amount"`
	AutoApproved    int                    `json:"auto_approved"`
	PendingReview   int                    `json:"pending_review"`
	PendingApproval int                    `json:"pending_approval"`
	Flagged         int                    `json:"flagged"`
	Rejected        int                    `json:"rejected"`
	Paid            int                    `json:"paid"`
	AvgRiskScore    float64                `json:"avg_risk_score"`
	ByStatus        map[workflow.State]int `json:"by_status"`
	ByCategory      map[Category]float64   `json:"by_category"`
}

// AutoApprovalRate is the share of expenses the pipeline approved on its own
func (s ExpenseStats) AutoApprovalRate() float64 {
	if s.TotalExpenses == 0 {
		return 0
	}
	return float64(s.AutoApproved) / float64(s.TotalExpenses)
}

// PolicyViolation is a single finding of the policy engine
type PolicyViolation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}
