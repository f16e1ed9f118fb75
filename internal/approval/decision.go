// Package approval turns risk, policy and routing results into an expense
// decision and advances multi-step approval chains.
package approval

import (
	"fmt"
	"strings"

	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
	"github.com/garyjia/expense-agent/internal/policy"
)

// Thresholds configures the decision boundaries
type Thresholds struct {
	AutoApprove          float64 `mapstructure:"auto_approve"`
	Reject               float64 `mapstructure:"reject"`
	AnomalyFlag          float64 `mapstructure:"anomaly_flag"`
	MaxAutoApproveAmount float64 `mapstructure:"max_auto_approve_amount"`
}

// DefaultThresholds returns the standard decision boundaries
func DefaultThresholds() Thresholds {
	return Thresholds{
		AutoApprove:          0.3,
		Reject:               0.7,
		AnomalyFlag:          0.8,
		MaxAutoApproveAmount: 500,
	}
}

// Inputs are the signals a decision is made from
type Inputs struct {
	RiskScore    float64
	AnomalyScore float64
	IsAnomaly    bool
	RiskFactors  []string
	Policy       policy.Result
	Amount       float64
}

// Decide applies the decision rules in order. The first rule that matches wins.
func Decide(t Thresholds, in Inputs) (workflow.State, string) {
	if in.Policy.HasBlock() {
		var msgs []string
		for _, v := range in.Policy.Violations {
			if v.Severity == entity.SeverityBlock {
				msgs = append(msgs, v.Message)
			}
		}
		return workflow.StateRejected, "Policy violation: " + strings.Join(msgs, "; ")
	}

	if in.RiskScore > t.Reject {
		return workflow.StateFlagged, fmt.Sprintf("High risk score (%.2f). Factors: %s",
			in.RiskScore, factorList(in.RiskFactors, 3, "Multiple signals"))
	}

	if in.IsAnomaly && in.AnomalyScore > t.AnomalyFlag {
		return workflow.StateFlagged, fmt.Sprintf(
			"Strong anomaly detected (score: %.2f). Statistical outlier in spending pattern.", in.AnomalyScore)
	}

	if in.RiskScore > t.AutoApprove {
		return workflow.StateManagerReview, fmt.Sprintf(
			"Moderate risk (%.2f). Recommended for manager review. Factors: %s",
			in.RiskScore, factorList(in.RiskFactors, 2, "Borderline signals"))
	}

	if in.Amount > t.MaxAutoApproveAmount {
		return workflow.StateManagerReview, fmt.Sprintf(
			"Amount $%.2f exceeds auto-approve limit ($%.2f). Low risk (%.2f).",
			in.Amount, t.MaxAutoApproveAmount, in.RiskScore)
	}

	reason := fmt.Sprintf("Low risk (%.2f), all policies passed. Auto-approved by %s.", in.RiskScore, entity.SystemActor)
	if flag, ok := in.Policy.FirstFlag(); ok {
		reason += " Note: " + flag.Message
	}
	return workflow.StateAutoApproved, reason
}

func factorList(factors []string, n int, fallback string) string {
	if len(factors) == 0 {
		return fallback
	}
	if len(factors) > n {
		factors = factors[:n]
	}
	return strings.Join(factors, ", ")
}
