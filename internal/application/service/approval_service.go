package service

import (
	"context"
	"fmt"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/approval"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
	"github.com/garyjia/expense-agent/pkg/utils"
)

// StepActionRequest is an approver acting on their pending step
type StepActionRequest struct {
	ApproverID string          `json:"approver_id" validate:"required"`
	Action     approval.Action `json:"action" validate:"required,oneof=approve reject escalate"`
	Comments   string          `json:"comments"`
}

// StepActionResult is the chain outcome plus the resulting expense status
type StepActionResult struct {
	*approval.ActionResult
	ExpenseStatus workflow.State  `json:"expense_status"`
	Payment       *PaymentOutcome `json:"payment,omitempty"`
}

// ChainAdvancer advances multi-step approval chains. done runs inside the
// action's transaction when the chain ends.
type ChainAdvancer interface {
	ActThen(ctx context.Context, expenseID, approverID string, action approval.Action, comments string, done approval.Completion) (*approval.ActionResult, error)
}

// ApprovalService handles approver actions on multi-step chains
type ApprovalService interface {
	Act(ctx context.Context, expenseID string, req StepActionRequest) (*StepActionResult, error)
	PendingFor(ctx context.Context, approverID string) ([]*entity.ApprovalStep, error)
}

type approvalServiceImpl struct {
	chain         ChainAdvancer
	expenses      port.ExpenseRepository
	steps         port.ApprovalStepRepository
	audit         port.AuditLogRepository
	txManager     port.TransactionManager
	payments      PaymentService
	notifications NotificationService
	logger        Logger
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(
	chain ChainAdvancer,
	expenses port.ExpenseRepository,
	steps port.ApprovalStepRepository,
	audit port.AuditLogRepository,
	txManager port.TransactionManager,
	payments PaymentService,
	notifications NotificationService,
	logger Logger,
) ApprovalService {
	return &approvalServiceImpl{
		chain:         chain,
		expenses:      expenses,
		steps:         steps,
		audit:         audit,
		txManager:     txManager,
		payments:      payments,
		notifications: notifications,
		logger:        logger,
	}
}

// Act applies the action. The final status transition commits together
// with the step that completed or rejected the chain.
func (s *approvalServiceImpl) Act(ctx context.Context, expenseID string, req StepActionRequest) (*StepActionResult, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}

	var finished *entity.Expense
	res, err := s.chain.ActThen(ctx, expenseID, req.ApproverID, req.Action, req.Comments,
		func(ctx context.Context, res *approval.ActionResult) error {
			exp, err := s.finish(ctx, expenseID, res, req)
			finished = exp
			return err
		})
	if err != nil {
		s.logger.Error("Approval action failed", "expense_id", expenseID, "approver_id", req.ApproverID, "action", string(req.Action), "error", err)
		return nil, err
	}

	out := &StepActionResult{ActionResult: res, ExpenseStatus: workflow.StatePendingApproval}
	if finished != nil {
		out.ExpenseStatus = finished.Status
		s.logger.Info("Approval chain finished", "expense_id", expenseID, "status", string(finished.Status))
	}

	switch res.Outcome {
	case approval.OutcomeFullyApproved:
		if finished == nil {
			return nil, fmt.Errorf("expense %s: chain approved without finalising", expenseID)
		}
		outcome := s.payments.Pay(ctx, []*entity.Expense{finished})[0]
		out.Payment = &outcome
		if outcome.Paid {
			out.ExpenseStatus = workflow.StatePaid
		}

	case approval.OutcomeNextStepActivated, approval.OutcomeEscalated:
		if res.Next != nil {
			exp, err := s.expenses.GetByID(ctx, expenseID)
			if err == nil && exp != nil {
				s.notifications.NotifyStep(ctx, exp, res.Next)
			}
		}
	}

	return out, nil
}

// PendingFor lists the steps waiting on approverID
func (s *approvalServiceImpl) PendingFor(ctx context.Context, approverID string) ([]*entity.ApprovalStep, error) {
	if approverID == "" {
		return nil, &utils.ValidationError{Fields: map[string]string{"approver_id": "approver_id is required"}}
	}
	return s.steps.ListPendingByApprover(ctx, approverID)
}

// finish moves the expense out of pending_approval. It runs inside the
// chain action's transaction.
func (s *approvalServiceImpl) finish(ctx context.Context, expenseID string, res *approval.ActionResult, req StepActionRequest) (*entity.Expense, error) {
	trigger, action := workflow.TriggerApprove, entity.AuditActionChainCompleted
	reason := fmt.Sprintf("All %d approval steps completed", res.TotalSteps)
	if res.Outcome == approval.OutcomeRejected {
		trigger, action = workflow.TriggerReject, entity.AuditActionRejected
		reason = req.Comments
		if reason == "" {
			reason = fmt.Sprintf("Rejected at approval step %d", res.CurrentStep)
		}
	}

	to, err := workflow.Advance(ctx, workflow.StatePendingApproval, trigger)
	if err != nil {
		return nil, err
	}

	var exp *entity.Expense
	err = s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.expenses.UpdateStatus(ctx, expenseID, workflow.StatePendingApproval, to, req.ApproverID, reason); err != nil {
			return fmt.Errorf("finalise expense: %w", err)
		}
		entry, err := auditEntry(expenseID, action, req.ApproverID, map[string]interface{}{
			"status": to,
			"reason": reason,
		}, utcNow())
		if err != nil {
			return err
		}
		if err := s.audit.Create(ctx, entry); err != nil {
			return err
		}

		exp, err = s.expenses.GetByID(ctx, expenseID)
		if err != nil {
			return fmt.Errorf("reload expense: %w", err)
		}
		if exp == nil {
			return fmt.Errorf("expense %s: %w", expenseID, port.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to finalise approval chain", "expense_id", expenseID, "error", err)
		return nil, err
	}
	return exp, nil
}
