package approval

import (
	"fmt"
	"strings"

	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/feature"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
	"github.com/garyjia/expense-agent/internal/risk"
)

// Explain describes a decision in plain language for the submitter and the
// reviewers. It only reads the features and the decision.
func Explain(f feature.Features, d *Decision) string {
	category := strings.ReplaceAll(string(f.Category), "_", " ")
	merchant := f.Merchant
	if merchant == "" {
		merchant = "an unknown vendor"
	}

	var parts []string
	head := fmt.Sprintf("This $%.2f %s expense from %s", f.Amount, category, merchant)
	switch d.Status {
	case workflow.StateAutoApproved, workflow.StatePaid:
		parts = append(parts, head+" was automatically approved by "+entity.SystemActor+".")
	case workflow.StateManagerReview:
		parts = append(parts, head+" needs manager review.")
	case workflow.StatePendingApproval:
		parts = append(parts, fmt.Sprintf("%s was routed to a %d-step approval chain.", head, d.TotalSteps()))
	case workflow.StateRejected:
		parts = append(parts, head+" was rejected.")
	case workflow.StateFlagged:
		parts = append(parts, head+" was flagged for investigation.")
	}

	if details := explainDetails(f, d); len(details) > 0 {
		parts = append(parts, "Reasons: "+strings.Join(details, ". ")+".")
	}

	parts = append(parts, fmt.Sprintf("Overall risk: %.0f%% (%s).", d.RiskScore*100, riskBand(d.RiskScore)))
	return strings.Join(parts, " ")
}

func explainDetails(f feature.Features, d *Decision) []string {
	var details []string
	category := strings.ReplaceAll(string(f.Category), "_", " ")

	switch r := f.AmountVsAvgRatio; {
	case r > 3:
		details = append(details, fmt.Sprintf("The amount is %.1fx the employee's typical expense", r))
	case r > 1.5:
		details = append(details, fmt.Sprintf("The amount is somewhat higher than usual (%.1fx the average)", r))
	case r > 0 && r < 0.5:
		details = append(details, "The amount is well below the employee's average")
	}

	if !f.ReceiptAttached && f.Amount > 25 {
		details = append(details, fmt.Sprintf("No receipt attached for a $%.2f expense", f.Amount))
	} else if f.ReceiptAttached {
		details = append(details, "Receipt is attached")
	}

	if d.AnomalyScore > 0.6 {
		details = append(details, fmt.Sprintf(
			"The expense deviates significantly from the employee's spending pattern (anomaly score %.0f%%)", d.AnomalyScore*100))
	} else if d.AnomalyScore > 0.3 {
		details = append(details, fmt.Sprintf("Spending pattern is slightly unusual (anomaly score %.0f%%)", d.AnomalyScore*100))
	}

	if f.CategoryFrequency == 0 {
		details = append(details, fmt.Sprintf("This is the employee's first %s expense", category))
	} else if f.CategoryFrequency < 0.05 {
		details = append(details, fmt.Sprintf("The employee rarely submits %s expenses (%.0f%% of their history)",
			category, f.CategoryFrequency*100))
	}

	if f.MonthlyTotalAmount > 0 {
		details = append(details, fmt.Sprintf("%d expense(s) submitted this month totaling $%.2f",
			f.MonthlyExpenseCount, f.MonthlyTotalAmount))
	}

	if f.IsWeekend {
		details = append(details, "Submitted on a weekend")
	}
	if f.HourOfDay < 6 || f.HourOfDay > 22 {
		details = append(details, fmt.Sprintf("Submitted at an unusual hour (%02d:00)", f.HourOfDay))
	}

	if f.OCR.Usable() {
		ocr := f.OCR
		if ocr.AmountMismatch > 0.15 {
			details = append(details, fmt.Sprintf("Receipt amount differs from the claim by %.0f%%", ocr.AmountMismatch*100))
		} else if ocr.AmountMismatch == 0 {
			details = append(details, "Receipt amount matches the claim")
		}
		if ocr.MerchantMismatch {
			details = append(details, "Receipt merchant differs from the submitted merchant")
		}
		if ocr.DateGapDays > 30 {
			details = append(details, fmt.Sprintf("Receipt date is %d days old", ocr.DateGapDays))
		}
		if ocr.Confidence > 0 {
			details = append(details, fmt.Sprintf("Receipt read with %.0f%% confidence", ocr.Confidence*100))
		}
	}

	for _, v := range d.Policy.Violations {
		label := "Policy warning"
		if v.Severity == entity.SeverityBlock {
			label = "Policy block"
		}
		details = append(details, label+": "+v.Message)
	}

	if len(d.RiskFactors) > 0 {
		details = append(details, "Risk signals: "+factorList(d.RiskFactors, 3, ""))
	}
	return details
}

func riskBand(score float64) string {
	switch risk.LevelFor(score) {
	case risk.LevelLow:
		return "Low"
	case risk.LevelMedium:
		return "Medium"
	default:
		return "High"
	}
}
