package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
)

// Action is what an approver does with their pending step
type Action string

const (
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionEscalate Action = "escalate"
)

// Outcome describes where the chain ended up after an action
type Outcome string

const (
	OutcomeNextStepActivated Outcome = "next_step_activated"
	OutcomeFullyApproved     Outcome = "fully_approved"
	OutcomeRejected          Outcome = "rejected"
	OutcomeEscalated         Outcome = "escalated"
)

// DefaultEscalationComment is recorded when an approver escalates without comment
const DefaultEscalationComment = "Escalated to higher authority"

// ManagerLookup resolves an employee's manager, nil when there is none
type ManagerLookup interface {
	ManagerOf(ctx context.Context, employeeID string) (*entity.Employee, error)
}

// Completion finalises the expense once its chain is fully approved or
// rejected. It runs under the expense lock inside the action's transaction,
// so an error rolls the step change back with it.
type Completion func(ctx context.Context, result *ActionResult) error

// ActionResult reports the effect of one approver action
type ActionResult struct {
	ExpenseID   string               `json:"expense_id"`
	Action      Action               `json:"action"`
	Outcome     Outcome              `json:"status"`
	Step        *entity.ApprovalStep `json:"step"`
	Next        *entity.ApprovalStep `json:"next_step,omitempty"`
	CurrentStep int                  `json:"current_step"`
	TotalSteps  int                  `json:"total_steps"`
}

// ChainService advances multi-step approval chains. Actions on the same
// expense are serialised and each runs in a single transaction.
type ChainService struct {
	expenses port.ExpenseRepository
	steps    port.ApprovalStepRepository
	audit    port.AuditLogRepository
	tx       port.TransactionManager
	managers ManagerLookup
	locks    *keyedMutex
	logger   *zap.Logger
	now      func() time.Time
}

// NewChainService creates a chain service
func NewChainService(
	expenses port.ExpenseRepository,
	steps port.ApprovalStepRepository,
	audit port.AuditLogRepository,
	tx port.TransactionManager,
	managers ManagerLookup,
	logger *zap.Logger,
) *ChainService {
	return &ChainService{
		expenses: expenses,
		steps:    steps,
		audit:    audit,
		tx:       tx,
		managers: managers,
		locks:    newKeyedMutex(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Act dispatches an approver action
func (s *ChainService) Act(ctx context.Context, expenseID, approverID string, action Action, comments string) (*ActionResult, error) {
	return s.ActThen(ctx, expenseID, approverID, action, comments, nil)
}

// ActThen dispatches an approver action and calls done when it ends the
// chain. done may be nil.
func (s *ChainService) ActThen(ctx context.Context, expenseID, approverID string, action Action, comments string, done Completion) (*ActionResult, error) {
	switch action {
	case ActionApprove:
		return s.approve(ctx, expenseID, approverID, comments, done)
	case ActionReject:
		return s.reject(ctx, expenseID, approverID, comments, done)
	case ActionEscalate:
		return s.EscalateStep(ctx, expenseID, approverID, comments)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

// ApproveStep approves the approver's pending step and activates the next one.
// When no step follows the result is OutcomeFullyApproved.
func (s *ChainService) ApproveStep(ctx context.Context, expenseID, approverID, comments string) (*ActionResult, error) {
	return s.approve(ctx, expenseID, approverID, comments, nil)
}

func (s *ChainService) approve(ctx context.Context, expenseID, approverID, comments string, done Completion) (*ActionResult, error) {
	var result *ActionResult
	err := s.run(ctx, expenseID, approverID, func(ctx context.Context, exp *entity.Expense, step *entity.ApprovalStep) error {
		now := s.now()
		if err := s.transition(ctx, step, entity.StepApproved, comments, now); err != nil {
			return err
		}

		next, err := s.steps.ActivateNext(ctx, expenseID, step.StepOrder+1)
		if err != nil {
			return fmt.Errorf("failed to activate next step: %w", err)
		}

		result = &ActionResult{
			ExpenseID:   expenseID,
			Action:      ActionApprove,
			Step:        step,
			CurrentStep: step.StepOrder,
			TotalSteps:  exp.TotalSteps,
		}
		details := map[string]interface{}{
			"step_order":    step.StepOrder,
			"approver_role": step.ApproverRole,
			"comments":      comments,
		}

		if next != nil {
			result.Outcome = OutcomeNextStepActivated
			result.Next = next
			result.CurrentStep = next.StepOrder
			if err := s.expenses.SetProgress(ctx, expenseID, next.StepOrder, exp.TotalSteps); err != nil {
				return fmt.Errorf("failed to record progress: %w", err)
			}
			details["next_approver"] = next.ApproverName
			details["next_role"] = next.ApproverRole
		} else {
			result.Outcome = OutcomeFullyApproved
		}
		details["outcome"] = result.Outcome

		if err := s.record(ctx, expenseID, entity.AuditActionStepApproved, approverID, details); err != nil {
			return err
		}
		if result.Outcome == OutcomeFullyApproved && done != nil {
			return done(ctx, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Approval step approved",
		zap.String("expense_id", expenseID),
		zap.String("approver_id", approverID),
		zap.String("outcome", string(result.Outcome)))
	return result, nil
}

// RejectStep rejects the approver's pending step and skips every later step
func (s *ChainService) RejectStep(ctx context.Context, expenseID, approverID, comments string) (*ActionResult, error) {
	return s.reject(ctx, expenseID, approverID, comments, nil)
}

func (s *ChainService) reject(ctx context.Context, expenseID, approverID, comments string, done Completion) (*ActionResult, error) {
	var result *ActionResult
	err := s.run(ctx, expenseID, approverID, func(ctx context.Context, exp *entity.Expense, step *entity.ApprovalStep) error {
		if err := s.transition(ctx, step, entity.StepRejected, comments, s.now()); err != nil {
			return err
		}

		skipped, err := s.steps.SkipAfter(ctx, expenseID, step.StepOrder)
		if err != nil {
			return fmt.Errorf("failed to skip remaining steps: %w", err)
		}

		result = &ActionResult{
			ExpenseID:   expenseID,
			Action:      ActionReject,
			Outcome:     OutcomeRejected,
			Step:        step,
			CurrentStep: step.StepOrder,
			TotalSteps:  exp.TotalSteps,
		}

		err = s.record(ctx, expenseID, entity.AuditActionStepRejected, approverID, map[string]interface{}{
			"step_order":    step.StepOrder,
			"approver_role": step.ApproverRole,
			"comments":      comments,
			"skipped_steps": skipped,
		})
		if err != nil || done == nil {
			return err
		}
		return done(ctx, result)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Approval step rejected",
		zap.String("expense_id", expenseID),
		zap.String("approver_id", approverID))
	return result, nil
}

// EscalateStep hands the approver's pending step to their manager. The
// manager is resolved before anything is written, so a failed escalation
// leaves the chain untouched.
func (s *ChainService) EscalateStep(ctx context.Context, expenseID, approverID, comments string) (*ActionResult, error) {
	if comments == "" {
		comments = DefaultEscalationComment
	}

	var result *ActionResult
	err := s.run(ctx, expenseID, approverID, func(ctx context.Context, exp *entity.Expense, step *entity.ApprovalStep) error {
		manager, err := s.managers.ManagerOf(ctx, approverID)
		if err != nil {
			return fmt.Errorf("failed to resolve manager: %w", err)
		}
		if manager == nil {
			return ErrNoManager
		}

		if err := s.transition(ctx, step, entity.StepEscalated, comments, s.now()); err != nil {
			return err
		}
		if err := s.steps.ShiftAfter(ctx, expenseID, step.StepOrder); err != nil {
			return fmt.Errorf("failed to renumber steps: %w", err)
		}

		managerID := manager.EmployeeID
		inserted := &entity.ApprovalStep{
			ExpenseID:    expenseID,
			StepOrder:    step.StepOrder + 1,
			ApproverRole: entity.ApproverEscalatedManager,
			ApproverID:   &managerID,
			ApproverName: manager.Name,
			Status:       entity.StepPending,
		}
		if err := s.steps.Create(ctx, inserted); err != nil {
			return fmt.Errorf("failed to insert escalation step: %w", err)
		}

		total := exp.TotalSteps + 1
		if err := s.expenses.SetProgress(ctx, expenseID, inserted.StepOrder, total); err != nil {
			return fmt.Errorf("failed to record progress: %w", err)
		}

		result = &ActionResult{
			ExpenseID:   expenseID,
			Action:      ActionEscalate,
			Outcome:     OutcomeEscalated,
			Step:        step,
			Next:        inserted,
			CurrentStep: inserted.StepOrder,
			TotalSteps:  total,
		}

		return s.record(ctx, expenseID, entity.AuditActionStepEscalated, approverID, map[string]interface{}{
			"step_order":        step.StepOrder,
			"escalated_to":      managerID,
			"escalated_to_name": manager.Name,
			"comments":          comments,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Approval step escalated",
		zap.String("expense_id", expenseID),
		zap.String("approver_id", approverID),
		zap.String("escalated_to", *result.Next.ApproverID))
	return result, nil
}

// run locks the expense, opens a transaction and loads the approver's
// pending step before handing over to fn
func (s *ChainService) run(ctx context.Context, expenseID, approverID string, fn func(ctx context.Context, exp *entity.Expense, step *entity.ApprovalStep) error) error {
	unlock := s.locks.Lock(expenseID)
	defer unlock()

	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		exp, err := s.expenses.GetByID(ctx, expenseID)
		if err != nil {
			return fmt.Errorf("failed to load expense: %w", err)
		}
		if exp == nil {
			return fmt.Errorf("expense %s: %w", expenseID, port.ErrNotFound)
		}
		if exp.Status != workflow.StatePendingApproval {
			return fmt.Errorf("%w: expense %s is %s, not awaiting chain approval",
				workflow.ErrInvalidTransition, expenseID, exp.Status)
		}

		step, err := s.steps.FindPending(ctx, expenseID, approverID)
		if err != nil {
			return fmt.Errorf("failed to load pending step: %w", err)
		}
		if step == nil {
			return ErrNoPendingStep
		}

		return fn(ctx, exp, step)
	})
}

func (s *ChainService) transition(ctx context.Context, step *entity.ApprovalStep, to entity.StepStatus, comments string, at time.Time) error {
	if err := s.steps.Transition(ctx, step.ID, entity.StepPending, to, comments, &at); err != nil {
		if errors.Is(err, port.ErrConflict) {
			return ErrStepConflict
		}
		return fmt.Errorf("failed to update step: %w", err)
	}
	step.Status = to
	step.Comments = comments
	step.ActedAt = &at
	return nil
}

func (s *ChainService) record(ctx context.Context, expenseID, action, actor string, details map[string]interface{}) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	entry := &entity.AuditLogEntry{
		ExpenseID: expenseID,
		Action:    action,
		Actor:     actor,
		Details:   string(raw),
		Timestamp: s.now(),
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}
