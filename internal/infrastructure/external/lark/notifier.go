package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
)

// ErrNoRecipient is returned when an approver has neither an open_id nor an email
var ErrNoRecipient = errors.New("approver has no lark recipient")

// Notifier implements port.ApproverNotifier with interactive cards
type Notifier struct {
	sender       MessageSender
	dashboardURL string
	logger       *zap.Logger
}

// NewNotifier creates an approver notifier
func NewNotifier(sender MessageSender, dashboardURL string, logger *zap.Logger) *Notifier {
	return &Notifier{
		sender:       sender,
		dashboardURL: dashboardURL,
		logger:       logger,
	}
}

// NotifyPendingStep tells the approver that their step is now pending.
// open_id is preferred; email is the fallback recipient.
func (n *Notifier) NotifyPendingStep(ctx context.Context, approver *entity.Employee, expense *entity.Expense, step *entity.ApprovalStep) error {
	if approver == nil {
		return ErrNoRecipient
	}

	idType, id := "open_id", approver.NotifyID
	if id == "" {
		idType, id = "email", approver.Email
	}
	if id == "" {
		return fmt.Errorf("%w: %s", ErrNoRecipient, approver.EmployeeID)
	}

	card, err := json.Marshal(n.buildCard(expense, step))
	if err != nil {
		return fmt.Errorf("failed to marshal card content: %w", err)
	}

	messageID, err := n.sender.SendMessage(ctx, idType, id, "interactive", string(card))
	if err != nil {
		return fmt.Errorf("failed to notify %s: %w", approver.EmployeeID, err)
	}

	n.logger.Info("Approver notified",
		zap.String("expense_id", expense.ExpenseID),
		zap.String("approver_id", approver.EmployeeID),
		zap.Int("step_order", step.StepOrder),
		zap.String("message_id", messageID))
	return nil
}

type cardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

type card map[string]interface{}

func markdown(content string) card {
	return card{"tag": "div", "text": cardText{Tag: "lark_md", Content: content}}
}

func (n *Notifier) buildCard(expense *entity.Expense, step *entity.ApprovalStep) card {
	elements := []card{
		markdown(fmt.Sprintf("**Expense:** %s\n**Employee:** %s\n**Amount:** $%.2f\n**Category:** %s\n**Merchant:** %s",
			expense.ExpenseID, expense.EmployeeID, expense.Amount, expense.Category, expense.Merchant)),
		markdown(fmt.Sprintf("**Step:** %d of %d (%s)\n**AI risk score:** %.2f",
			step.StepOrder, expense.TotalSteps, step.ApproverRole, expense.RiskScore)),
	}
	if expense.ApprovalReason != "" {
		elements = append(elements, card{
			"tag":      "note",
			"elements": []cardText{{Tag: "plain_text", Content: expense.ApprovalReason}},
		})
	}
	if n.dashboardURL != "" {
		button := card{
			"tag":  "button",
			"type": "primary",
			"text": cardText{Tag: "plain_text", Content: "Review expense"},
			"url":  fmt.Sprintf("%s/expenses/%s", n.dashboardURL, expense.ExpenseID),
		}
		elements = append(elements, card{"tag": "action", "actions": []card{button}})
	}

	return card{
		"config":   card{"wide_screen_mode": true},
		"header":   card{"template": "orange", "title": cardText{Tag: "plain_text", Content: "Expense awaiting your approval"}},
		"elements": elements,
	}
}

// Verify interface compliance
var _ port.ApproverNotifier = (*Notifier)(nil)
