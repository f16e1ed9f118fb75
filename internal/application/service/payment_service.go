package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/approval"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
)

// ErrNoDestination is reported for employees without a payment wallet
var ErrNoDestination = errors.New("employee has no payment destination")

// ErrPaymentInProgress is reported when another payer holds the expense
var ErrPaymentInProgress = errors.New("payment already in progress")

// PaymentClaimLease is how long a claim blocks other payers. A claim left
// behind by a crashed payer becomes eligible again after it.
const PaymentClaimLease = 10 * time.Minute

// PaymentOutcome is the settlement result of one expense
type PaymentOutcome struct {
	ExpenseID string  `json:"expense_id"`
	Amount    float64 `json:"amount"`
	Paid      bool    `json:"paid"`
	TxHash    string  `json:"tx_hash,omitempty"`
	Slot      int     `json:"slot,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// PaymentService settles approved expenses
type PaymentService interface {
	// Pay settles the given expenses. Each expense is marked paid strictly by
	// its own result; failed ones stay approved for a later retry.
	Pay(ctx context.Context, expenses []*entity.Expense) []PaymentOutcome
	// RetryUnpaid pays up to limit approved expenses that have no settlement
	RetryUnpaid(ctx context.Context, limit int) (int, error)
}

type paymentServiceImpl struct {
	expenses  port.ExpenseRepository
	employees port.EmployeeRepository
	audit     port.AuditLogRepository
	txManager port.TransactionManager
	client    port.PaymentClient
	logger    Logger
	now       func() time.Time
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(
	expenses port.ExpenseRepository,
	employees port.EmployeeRepository,
	audit port.AuditLogRepository,
	txManager port.TransactionManager,
	client port.PaymentClient,
	logger Logger,
) PaymentService {
	return &paymentServiceImpl{
		expenses:  expenses,
		employees: employees,
		audit:     audit,
		txManager: txManager,
		client:    client,
		logger:    logger,
		now:       utcNow,
	}
}

// Pay builds one request per payable expense and sends them as a batch.
// Every expense is claimed before its transfer so a concurrent payer
// holding a stale copy cannot send it again.
func (s *paymentServiceImpl) Pay(ctx context.Context, expenses []*entity.Expense) []PaymentOutcome {
	now := s.now()
	outcomes := make([]PaymentOutcome, len(expenses))
	reqs := make([]port.PaymentRequest, 0, len(expenses))
	index := make([]int, 0, len(expenses))

	for i, exp := range expenses {
		outcomes[i] = PaymentOutcome{ExpenseID: exp.ExpenseID, Amount: exp.Amount}

		if !exp.Status.IsPayable() {
			outcomes[i].Error = fmt.Sprintf("expense is %s, not payable", exp.Status)
			continue
		}
		emp, err := s.employees.GetByID(ctx, exp.EmployeeID)
		if err != nil {
			outcomes[i].Error = err.Error()
			continue
		}
		if emp == nil || emp.Wallet == "" {
			outcomes[i].Error = ErrNoDestination.Error()
			s.logger.Info("Payment skipped", "expense_id", exp.ExpenseID, "reason", ErrNoDestination.Error())
			continue
		}

		if err := s.expenses.ClaimPayment(ctx, exp.ExpenseID, exp.Status, now, now.Add(-PaymentClaimLease)); err != nil {
			if errors.Is(err, port.ErrConflict) {
				err = ErrPaymentInProgress
			}
			outcomes[i].Error = err.Error()
			s.logger.Info("Payment skipped", "expense_id", exp.ExpenseID, "reason", err.Error())
			continue
		}

		reqs = append(reqs, port.PaymentRequest{
			ExpenseID:   exp.ExpenseID,
			Destination: emp.Wallet,
			Amount:      exp.Amount,
			Memo:        approval.BuildCompactMemo(exp.RiskScore, exp.Category, exp.Status, exp.Amount),
		})
		index = append(index, i)
	}

	if len(reqs) == 0 {
		return outcomes
	}

	var results []port.PaymentResult
	if len(reqs) == 1 {
		results = []port.PaymentResult{s.client.Send(ctx, reqs[0])}
	} else {
		results = s.client.SendBatch(ctx, reqs)
	}

	for j, res := range results {
		i := index[j]
		exp := expenses[i]
		outcomes[i].Slot = res.Slot

		if !res.OK() {
			msg := "payment not settled"
			if res.Err != nil {
				msg = res.Err.Error()
			}
			outcomes[i].Error = msg
			s.recordFailure(ctx, exp, msg)
			s.release(ctx, exp)
			continue
		}

		if err := s.settle(ctx, exp, res); err != nil {
			// the claim is kept: the transfer went out even though it was not recorded
			outcomes[i].Error = err.Error()
			s.logger.Error("Failed to record payment", "expense_id", exp.ExpenseID, "tx_hash", res.TxHash, "error", err)
			continue
		}
		outcomes[i].Paid = true
		outcomes[i].TxHash = res.TxHash
	}

	return outcomes
}

// RetryUnpaid is driven by the payment retry worker
func (s *paymentServiceImpl) RetryUnpaid(ctx context.Context, limit int) (int, error) {
	unpaid, err := s.expenses.ListUnpaid(ctx, limit, s.now().Add(-PaymentClaimLease))
	if err != nil {
		return 0, fmt.Errorf("list unpaid expenses: %w", err)
	}
	if len(unpaid) == 0 {
		return 0, nil
	}

	paid := 0
	for _, o := range s.Pay(ctx, unpaid) {
		if o.Paid {
			paid++
		}
	}
	s.logger.Info("Retried unpaid expenses", "candidates", len(unpaid), "paid", paid)
	return paid, nil
}

func (s *paymentServiceImpl) settle(ctx context.Context, exp *entity.Expense, res port.PaymentResult) error {
	now := utcNow()
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.expenses.MarkPaid(ctx, exp.ExpenseID, exp.Status, res.TxHash, now); err != nil {
			return fmt.Errorf("mark paid: %w", err)
		}
		entry, err := auditEntry(exp.ExpenseID, entity.AuditActionPaymentSent, entity.SystemActor, map[string]interface{}{
			"amount": exp.Amount,
			"slot":   res.Slot,
			"nonce":  res.Nonce,
			"mode":   res.Mode,
		}, now)
		if err != nil {
			return err
		}
		entry.TxHash = res.TxHash
		entry.Memo = exp.Memo
		return s.audit.Create(ctx, entry)
	})
	if err != nil {
		return err
	}

	exp.Status = workflow.StatePaid
	exp.TxHash = res.TxHash
	exp.PaidAt = &now
	s.logger.Info("Expense paid", "expense_id", exp.ExpenseID, "amount", exp.Amount, "tx_hash", res.TxHash)
	return nil
}

// release lets the retry worker pick a failed transfer up again
func (s *paymentServiceImpl) release(ctx context.Context, exp *entity.Expense) {
	if err := s.expenses.ReleasePayment(ctx, exp.ExpenseID); err != nil {
		s.logger.Error("Failed to release payment claim", "expense_id", exp.ExpenseID, "error", err)
	}
}

func (s *paymentServiceImpl) recordFailure(ctx context.Context, exp *entity.Expense, msg string) {
	s.logger.Error("Payment failed", "expense_id", exp.ExpenseID, "error", msg)

	entry, err := auditEntry(exp.ExpenseID, entity.AuditActionPaymentFailed, entity.SystemActor, map[string]interface{}{
		"amount": exp.Amount,
		"error":  msg,
	}, utcNow())
	if err == nil {
		err = s.audit.Create(ctx, entry)
	}
	if err != nil {
		s.logger.Error("Failed to record payment failure", "expense_id", exp.ExpenseID, "error", err)
	}
}
