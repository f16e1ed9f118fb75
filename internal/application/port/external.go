package port

import (
	"context"

	"github.com/garyjia/expense-agent/internal/domain/entity"
)

// PaymentRequest is one reimbursement transfer
type PaymentRequest struct {
	ExpenseID   string
	Destination string
	Amount      float64
	Memo        string
}

// PaymentResult reports the outcome of one transfer. Err is set on failure.
type PaymentResult struct {
	ExpenseID string
	TxHash    string
	Slot      int
	Nonce     uint64
	Mode      string
	Err       error
}

// OK reports whether the transfer settled
func (r PaymentResult) OK() bool {
	return r.Err == nil && r.TxHash != ""
}

// PaymentClient settles approved expenses
type PaymentClient interface {
	Send(ctx context.Context, req PaymentRequest) PaymentResult
	// SendBatch pays independently; results are in request order
	SendBatch(ctx context.Context, reqs []PaymentRequest) []PaymentResult
}

// ApproverNotifier tells an approver that a step is waiting on them
type ApproverNotifier interface {
	NotifyPendingStep(ctx context.Context, approver *entity.Employee, expense *entity.Expense, step *entity.ApprovalStep) error
}

// CategoryModel predicts a category from the free-text parts of a claim
type CategoryModel interface {
	PredictCategory(ctx context.Context, description, merchant string, amount float64) (entity.Category, float64, error)
}

// ReportExporter renders expenses into a downloadable report
type ReportExporter interface {
	ExportExpenses(ctx context.Context, expenses []*entity.Expense) ([]byte, error)
	ContentType() string
	FileExtension() string
}
