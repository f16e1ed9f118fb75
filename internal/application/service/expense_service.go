package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/approval"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/feature"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
	"github.com/garyjia/expense-agent/pkg/utils"
)

// SubmitRequest is a new expense claim
type SubmitRequest struct {
	EmployeeID      string               `json:"employee_id" validate:"required"`
	Amount          float64              `json:"amount" validate:"gt=0"`
	Category        entity.Category      `json:"category" validate:"omitempty,expense_category"`
	Merchant        string               `json:"merchant"`
	Description     string               `json:"description" validate:"max=2000"`
	ReceiptAttached bool                 `json:"receipt_attached"`
	Receipt         *feature.ReceiptData `json:"receipt,omitempty"`
}

// SubmitResult is the stored expense together with the decision behind it
type SubmitResult struct {
	Expense  *entity.Expense    `json:"expense"`
	Decision *approval.Decision `json:"decision"`
	Payment  *PaymentOutcome    `json:"payment,omitempty"`
}

// Evaluator decides on a new expense
type Evaluator interface {
	Evaluate(ctx context.Context, req approval.Request) *approval.Decision
}

// ExpenseService handles submission and read access to expenses
type ExpenseService interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	Get(ctx context.Context, expenseID string) (*entity.Expense, error)
	List(ctx context.Context, filter entity.ExpenseFilter) ([]*entity.Expense, error)
	Stats(ctx context.Context) (*entity.ExpenseStats, error)
	Steps(ctx context.Context, expenseID string) ([]*entity.ApprovalStep, error)
}

type expenseServiceImpl struct {
	expenses      port.ExpenseRepository
	employees     port.EmployeeRepository
	steps         port.ApprovalStepRepository
	audit         port.AuditLogRepository
	txManager     port.TransactionManager
	features      *FeatureBuilder
	evaluator     Evaluator
	payments      PaymentService
	notifications NotificationService
	logger        Logger
	now           func() time.Time
}

// NewExpenseService creates a new ExpenseService
func NewExpenseService(
	expenses port.ExpenseRepository,
	employees port.EmployeeRepository,
	steps port.ApprovalStepRepository,
	audit port.AuditLogRepository,
	txManager port.TransactionManager,
	evaluator Evaluator,
	payments PaymentService,
	notifications NotificationService,
	logger Logger,
) ExpenseService {
	return &expenseServiceImpl{
		expenses:      expenses,
		employees:     employees,
		steps:         steps,
		audit:         audit,
		txManager:     txManager,
		features:      NewFeatureBuilder(expenses),
		evaluator:     evaluator,
		payments:      payments,
		notifications: notifications,
		logger:        logger,
		now:           utcNow,
	}
}

// Submit runs a claim through the decision pipeline, stores the expense with
// its chain and audit trail, then notifies the first approver or pays
func (s *expenseServiceImpl) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	if err := utils.ValidateAmount(req.Amount); err != nil {
		return nil, &utils.ValidationError{Fields: map[string]string{"Amount": err.Error()}}
	}

	employee, err := s.employees.GetByID(ctx, req.EmployeeID)
	if err != nil {
		return nil, fmt.Errorf("get employee: %w", err)
	}
	if employee == nil {
		return nil, fmt.Errorf("employee %s: %w", req.EmployeeID, port.ErrNotFound)
	}

	now := s.now()
	expenseID := NewExpenseID()
	claim := feature.Claim{
		Amount:          req.Amount,
		Category:        req.Category,
		Merchant:        utils.SanitizeString(req.Merchant),
		Description:     utils.SanitizeString(req.Description),
		ReceiptAttached: req.ReceiptAttached,
	}

	features, err := s.features.Build(ctx, employee.EmployeeID, employee, claim, req.Receipt, now)
	if err != nil {
		return nil, err
	}

	decision := s.evaluator.Evaluate(ctx, approval.Request{
		ExpenseID:  expenseID,
		EmployeeID: employee.EmployeeID,
		Department: employee.Department,
		Features:   features,
	})

	trigger, ok := workflow.DecisionTrigger(decision.Status)
	if !ok {
		return nil, fmt.Errorf("%w: pipeline produced %s", workflow.ErrInvalidTransition, decision.Status)
	}
	if _, err := workflow.Advance(ctx, workflow.StatePending, trigger); err != nil {
		return nil, err
	}

	exp := newExpense(expenseID, employee.EmployeeID, claim, features.OCR, decision, now)

	err = s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.expenses.Create(ctx, exp); err != nil {
			return fmt.Errorf("create expense: %w", err)
		}
		if len(decision.Steps) > 0 {
			if err := s.steps.CreateBatch(ctx, decision.Steps); err != nil {
				return fmt.Errorf("create approval steps: %w", err)
			}
		}
		return s.recordSubmission(ctx, exp, decision, now)
	})
	if err != nil {
		s.logger.Error("Failed to store expense", "expense_id", expenseID, "error", err)
		return nil, err
	}

	s.logger.Info("Expense submitted",
		"expense_id", expenseID,
		"employee_id", employee.EmployeeID,
		"amount", exp.Amount,
		"decision", string(decision.Status),
		"risk_score", decision.RiskScore)

	result := &SubmitResult{Expense: exp, Decision: decision}

	for _, step := range decision.Steps {
		if step.Status == entity.StepPending {
			s.notifications.NotifyStep(ctx, exp, step)
		}
	}

	if exp.Status == workflow.StateAutoApproved {
		outcome := s.payments.Pay(ctx, []*entity.Expense{exp})[0]
		result.Payment = &outcome
	}

	return result, nil
}

func newExpense(expenseID, employeeID string, claim feature.Claim, ocr *entity.OCRSignals, d *approval.Decision, now time.Time) *entity.Expense {
	category := claim.Category
	if category == "" {
		category = d.PredictedCategory
	}
	merchant := claim.Merchant
	if merchant == "" {
		merchant = "Unknown"
	}

	exp := &entity.Expense{
		ExpenseID:         expenseID,
		EmployeeID:        employeeID,
		Amount:            claim.Amount,
		Currency:          entity.DefaultCurrency,
		Category:          category,
		Merchant:          merchant,
		Description:       claim.Description,
		ReceiptAttached:   claim.ReceiptAttached,
		Receipt:           ocr,
		RiskScore:         d.RiskScore,
		AnomalyScore:      d.AnomalyScore,
		PredictedCategory: d.PredictedCategory,
		RiskFactors:       d.RiskFactors,
		Status:            d.Status,
		ApprovalReason:    d.Reason,
		Memo:              d.Memo,
		TotalSteps:        d.TotalSteps(),
		SubmittedAt:       now,
		ProcessedAt:       &now,
	}
	if exp.RiskFactors == nil {
		exp.RiskFactors = []string{}
	}
	if d.Status == workflow.StateAutoApproved {
		exp.ApprovedBy = entity.SystemActor
	}
	if exp.TotalSteps > 0 {
		exp.CurrentStep = 1
	}
	return exp
}

func (s *expenseServiceImpl) recordSubmission(ctx context.Context, exp *entity.Expense, d *approval.Decision, now time.Time) error {
	submitted, err := auditEntry(exp.ExpenseID, entity.AuditActionSubmitted, exp.EmployeeID, map[string]interface{}{
		"amount":           exp.Amount,
		"category":         exp.Category,
		"merchant":         exp.Merchant,
		"receipt_attached": exp.ReceiptAttached,
	}, now)
	if err != nil {
		return err
	}
	if err := s.audit.Create(ctx, submitted); err != nil {
		return fmt.Errorf("audit submission: %w", err)
	}

	decided, err := auditEntry(exp.ExpenseID, string(d.Status), entity.SystemActor, map[string]interface{}{
		"decision":      d.Status,
		"reason":        d.Reason,
		"explanation":   d.Explanation,
		"risk_score":    d.RiskScore,
		"risk_level":    d.RiskLevel,
		"anomaly_score": d.AnomalyScore,
		"layer_scores":  d.LayerScores,
		"model_used":    d.ModelUsed,
		"risk_factors":  d.RiskFactors,
		"policy_result": d.Policy,
	}, now)
	if err != nil {
		return err
	}
	risk := d.RiskScore
	decided.RiskScore = &risk
	decided.Memo = d.Memo
	if err := s.audit.Create(ctx, decided); err != nil {
		return fmt.Errorf("audit decision: %w", err)
	}

	if d.Rule == nil || len(d.Steps) == 0 {
		return nil
	}
	approvers := make([]string, len(d.Steps))
	for i, step := range d.Steps {
		approvers[i] = step.ApproverName
	}
	chain, err := auditEntry(exp.ExpenseID, entity.AuditActionChainCreated, entity.SystemActor, map[string]interface{}{
		"rule":        d.Rule.Name,
		"rule_id":     d.Rule.ID,
		"approvers":   approvers,
		"total_steps": len(d.Steps),
	}, now)
	if err != nil {
		return err
	}
	if err := s.audit.Create(ctx, chain); err != nil {
		return fmt.Errorf("audit approval chain: %w", err)
	}
	return nil
}

// Get returns the expense or port.ErrNotFound
func (s *expenseServiceImpl) Get(ctx context.Context, expenseID string) (*entity.Expense, error) {
	exp, err := s.expenses.GetByID(ctx, expenseID)
	if err != nil {
		return nil, fmt.Errorf("get expense: %w", err)
	}
	if exp == nil {
		return nil, fmt.Errorf("expense %s: %w", expenseID, port.ErrNotFound)
	}
	return exp, nil
}

// List returns expenses matching filter, newest first
func (s *expenseServiceImpl) List(ctx context.Context, filter entity.ExpenseFilter) ([]*entity.Expense, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, &utils.ValidationError{Fields: map[string]string{"status": fmt.Sprintf("unknown status %q", filter.Status)}}
	}
	return s.expenses.List(ctx, filter)
}

// Stats returns the dashboard summary
func (s *expenseServiceImpl) Stats(ctx context.Context) (*entity.ExpenseStats, error) {
	return s.expenses.Stats(ctx)
}

// Steps returns the expense's approval chain in order
func (s *expenseServiceImpl) Steps(ctx context.Context, expenseID string) ([]*entity.ApprovalStep, error) {
	if _, err := s.Get(ctx, expenseID); err != nil {
		return nil, err
	}
	return s.steps.ListByExpense(ctx, expenseID)
}
