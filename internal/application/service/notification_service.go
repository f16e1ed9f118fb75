package service

import (
	"context"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
)

// NotificationService tells approvers about steps waiting on them.
// Delivery failures are logged and audited, never returned.
type NotificationService interface {
	NotifyStep(ctx context.Context, expense *entity.Expense, step *entity.ApprovalStep)
}

type notificationServiceImpl struct {
	employees port.EmployeeRepository
	audit     port.AuditLogRepository
	notifier  port.ApproverNotifier
	logger    Logger
}

// NewNotificationService creates a new NotificationService. notifier may be
// nil when no messaging channel is configured.
func NewNotificationService(
	employees port.EmployeeRepository,
	audit port.AuditLogRepository,
	notifier port.ApproverNotifier,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		employees: employees,
		audit:     audit,
		notifier:  notifier,
		logger:    logger,
	}
}

// NotifyStep sends a pending-step notice to the step's approver
func (s *notificationServiceImpl) NotifyStep(ctx context.Context, expense *entity.Expense, step *entity.ApprovalStep) {
	if s.notifier == nil || step == nil || step.Status != entity.StepPending {
		return
	}
	if !step.Resolved() {
		s.logger.Info("Pending step has no resolved approver", "expense_id", expense.ExpenseID, "approver", step.ApproverName)
		return
	}

	approver, err := s.employees.GetByID(ctx, *step.ApproverID)
	if err != nil || approver == nil {
		s.logger.Error("Approver lookup failed", "expense_id", expense.ExpenseID, "approver_id", *step.ApproverID, "error", err)
		return
	}

	if err := s.notifier.NotifyPendingStep(ctx, approver, expense, step); err != nil {
		s.logger.Error("Failed to notify approver", "expense_id", expense.ExpenseID, "approver_id", approver.EmployeeID, "error", err)
		s.recordFailure(ctx, expense.ExpenseID, approver.EmployeeID, err)
		return
	}
	s.logger.Info("Approver notified", "expense_id", expense.ExpenseID, "approver_id", approver.EmployeeID, "step_order", step.StepOrder)
}

func (s *notificationServiceImpl) recordFailure(ctx context.Context, expenseID, approverID string, cause error) {
	entry, err := auditEntry(expenseID, entity.AuditActionNotificationFailed, entity.SystemActor, map[string]interface{}{
		"approver_id": approverID,
		"error":       cause.Error(),
	}, utcNow())
	if err == nil {
		err = s.audit.Create(ctx, entry)
	}
	if err != nil {
		s.logger.Error("Failed to record notification failure", "expense_id", expenseID, "error", err)
	}
}
