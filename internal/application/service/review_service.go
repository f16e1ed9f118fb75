package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
)

// DefaultReviewer is recorded when a manual action names no actor
const DefaultReviewer = "Manager"

// batchApproveLimit caps how many manager_review expenses one batch takes
const batchApproveLimit = 500

// ReviewResult is the expense after a manual action
type ReviewResult struct {
	Expense *entity.Expense `json:"expense"`
	Payment *PaymentOutcome `json:"payment,omitempty"`
}

// BatchResult summarises a batch approval
type BatchResult struct {
	Approved  int              `json:"approved"`
	Paid      int              `json:"paid"`
	Failed    int              `json:"failed"`
	TotalPaid float64          `json:"total_amount"`
	Payments  []PaymentOutcome `json:"transactions"`
}

// ReviewService handles single-reviewer decisions outside approval chains
type ReviewService interface {
	// Approve moves a manager_review or disputed expense to approved and pays it
	Approve(ctx context.Context, expenseID, actor, comments string) (*ReviewResult, error)
	// Reject moves a manager_review or disputed expense to rejected
	Reject(ctx context.Context, expenseID, actor, comments string) (*ReviewResult, error)
	// Dispute reopens a rejected or flagged expense
	Dispute(ctx context.Context, expenseID, actor, reason string) (*ReviewResult, error)
	// BatchApprove approves every manager_review expense and pays them in parallel
	BatchApprove(ctx context.Context, actor string) (*BatchResult, error)
}

type reviewServiceImpl struct {
	expenses  port.ExpenseRepository
	audit     port.AuditLogRepository
	txManager port.TransactionManager
	payments  PaymentService
	logger    Logger
}

// NewReviewService creates a new ReviewService
func NewReviewService(
	expenses port.ExpenseRepository,
	audit port.AuditLogRepository,
	txManager port.TransactionManager,
	payments PaymentService,
	logger Logger,
) ReviewService {
	return &reviewServiceImpl{
		expenses:  expenses,
		audit:     audit,
		txManager: txManager,
		payments:  payments,
		logger:    logger,
	}
}

// Approve approves and pays
func (s *reviewServiceImpl) Approve(ctx context.Context, expenseID, actor, comments string) (*ReviewResult, error) {
	if comments == "" {
		comments = "Manually approved"
	}
	exp, err := s.transition(ctx, expenseID, workflow.TriggerApprove, actor, comments, entity.AuditActionManualApproved)
	if err != nil {
		return nil, err
	}

	outcome := s.payments.Pay(ctx, []*entity.Expense{exp})[0]
	return &ReviewResult{Expense: exp, Payment: &outcome}, nil
}

// Reject rejects
func (s *reviewServiceImpl) Reject(ctx context.Context, expenseID, actor, comments string) (*ReviewResult, error) {
	if comments == "" {
		comments = "Manually rejected"
	}
	exp, err := s.transition(ctx, expenseID, workflow.TriggerReject, actor, comments, entity.AuditActionManualRejected)
	if err != nil {
		return nil, err
	}
	return &ReviewResult{Expense: exp}, nil
}

// Dispute reopens
func (s *reviewServiceImpl) Dispute(ctx context.Context, expenseID, actor, reason string) (*ReviewResult, error) {
	if reason == "" {
		reason = "Decision disputed"
	}
	exp, err := s.transition(ctx, expenseID, workflow.TriggerDispute, actor, reason, entity.AuditActionDisputed)
	if err != nil {
		return nil, err
	}
	return &ReviewResult{Expense: exp}, nil
}

// BatchApprove approves each expense in its own transaction, then pays the
// approved set as one batch. A payment failure leaves that expense approved.
func (s *reviewServiceImpl) BatchApprove(ctx context.Context, actor string) (*BatchResult, error) {
	if actor == "" {
		actor = DefaultReviewer
	}

	pending, err := s.expenses.List(ctx, entity.ExpenseFilter{Status: workflow.StateManagerReview, Limit: batchApproveLimit})
	if err != nil {
		return nil, fmt.Errorf("list expenses awaiting review: %w", err)
	}

	result := &BatchResult{Payments: []PaymentOutcome{}}
	approved := make([]*entity.Expense, 0, len(pending))
	for _, exp := range pending {
		err := s.apply(ctx, exp, workflow.StateApproved, actor, "Batch approved", entity.AuditActionBatchApproved)
		if errors.Is(err, port.ErrConflict) {
			s.logger.Info("Expense changed during batch approval, skipping", "expense_id", exp.ExpenseID)
			continue
		}
		if err != nil {
			return nil, err
		}
		approved = append(approved, exp)
	}
	result.Approved = len(approved)

	if len(approved) > 0 {
		result.Payments = s.payments.Pay(ctx, approved)
	}
	for _, p := range result.Payments {
		if p.Paid {
			result.Paid++
			result.TotalPaid += p.Amount
		} else {
			result.Failed++
		}
	}

	s.logger.Info("Batch approval finished",
		"approved", result.Approved,
		"paid", result.Paid,
		"failed", result.Failed,
		"total_amount", result.TotalPaid)
	return result, nil
}

// transition fires trigger from the stored status. Expenses in a multi-step
// chain can only be moved by their approvers.
func (s *reviewServiceImpl) transition(ctx context.Context, expenseID string, trigger workflow.Trigger, actor, reason, action string) (*entity.Expense, error) {
	if actor == "" {
		actor = DefaultReviewer
	}

	exp, err := s.expenses.GetByID(ctx, expenseID)
	if err != nil {
		return nil, fmt.Errorf("get expense: %w", err)
	}
	if exp == nil {
		return nil, fmt.Errorf("expense %s: %w", expenseID, port.ErrNotFound)
	}
	if exp.Status == workflow.StatePendingApproval {
		return nil, fmt.Errorf("%w: expense %s is in a multi-step approval chain", workflow.ErrInvalidTransition, expenseID)
	}

	to, err := workflow.Advance(ctx, exp.Status, trigger)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, exp, to, actor, reason, action); err != nil {
		return nil, err
	}

	s.logger.Info("Expense reviewed", "expense_id", expenseID, "status", string(to), "actor", actor)
	return exp, nil
}

func (s *reviewServiceImpl) apply(ctx context.Context, exp *entity.Expense, to workflow.State, actor, reason, action string) error {
	from := exp.Status
	now := utcNow()
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.expenses.UpdateStatus(ctx, exp.ExpenseID, from, to, actor, reason); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		entry, err := auditEntry(exp.ExpenseID, action, actor, map[string]interface{}{
			"from":   from,
			"to":     to,
			"reason": reason,
			"amount": exp.Amount,
		}, now)
		if err != nil {
			return err
		}
		return s.audit.Create(ctx, entry)
	})
	if err != nil {
		return err
	}

	exp.Status = to
	exp.ApprovedBy = actor
	exp.ApprovalReason = reason
	exp.ProcessedAt = &now
	return nil
}
