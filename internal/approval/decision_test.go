package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
	"github.com/garyjia/expense-agent/internal/policy"
)

func policyResult(vs ...entity.PolicyViolation) policy.Result {
	r := policy.Result{Violations: vs, Passed: true}
	for _, v := range vs {
		switch v.Severity {
		case entity.SeverityBlock:
			r.BlockingCount++
			r.Passed = false
		case entity.SeverityFlag:
			r.FlagCount++
		}
	}
	return r
}

func TestDecide(t *testing.T) {
	block := entity.PolicyViolation{Policy: "Receipt Required", Message: "Receipt required", Severity: entity.SeverityBlock}
	flag := entity.PolicyViolation{Policy: "Meals Limit", Message: "$650.00 exceeds meals limit of $500", Severity: entity.SeverityFlag}

	tests := []struct {
		name       string
		in         Inputs
		want       workflow.State
		wantReason string
	}{
		{
			name:       "block beats low risk",
			in:         Inputs{RiskScore: 0.05, Amount: 20, Policy: policyResult(block)},
			want:       workflow.StateRejected,
			wantReason: "Policy violation: Receipt required",
		},
		{
			name:       "high risk flags",
			in:         Inputs{RiskScore: 0.71, Amount: 20, RiskFactors: []string{"a", "b", "c", "d"}},
			want:       workflow.StateFlagged,
			wantReason: "High risk score (0.71). Factors: a, b, c",
		},
		{
			name:       "strong anomaly flags",
			in:         Inputs{RiskScore: 0.1, AnomalyScore: 0.85, IsAnomaly: true, Amount: 20},
			want:       workflow.StateFlagged,
			wantReason: "Strong anomaly detected (score: 0.85). Statistical outlier in spending pattern.",
		},
		{
			name: "anomaly score without anomaly flag is ignored",
			in:   Inputs{RiskScore: 0.1, AnomalyScore: 0.85, Amount: 20},
			want: workflow.StateAutoApproved,
		},
		{
			name:       "moderate risk goes to manager",
			in:         Inputs{RiskScore: 0.45, Amount: 20},
			want:       workflow.StateManagerReview,
			wantReason: "Moderate risk (0.45). Recommended for manager review. Factors: Borderline signals",
		},
		{
			name:       "large amount goes to manager",
			in:         Inputs{RiskScore: 0.1, Amount: 750},
			want:       workflow.StateManagerReview,
			wantReason: "Amount $750.00 exceeds auto-approve limit ($500.00). Low risk (0.10).",
		},
		{
			name:       "low risk approves with note",
			in:         Inputs{RiskScore: 0.1, Amount: 50, Policy: policyResult(flag)},
			want:       workflow.StateAutoApproved,
			wantReason: "Low risk (0.10), all policies passed. Auto-approved by AgentFin. Note: $650.00 exceeds meals limit of $500",
		},
		{
			name: "thresholds are strict",
			in:   Inputs{RiskScore: 0.3, Amount: 500},
			want: workflow.StateAutoApproved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := Decide(DefaultThresholds(), tt.in)
			assert.Equal(t, tt.want, got)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, reason)
			}
		})
	}
}

func TestBuildMemo(t *testing.T) {
	assert.Equal(t,
		"Risk=0.10 | Category=meals | Decision=auto_approved | Amount=$45.00 | Agent=AgentFin",
		BuildMemo(0.1, entity.CategoryMeals, workflow.StateAutoApproved, 45))

	compact := BuildCompactMemo(0.1, entity.CategoryMeals, workflow.StateAutoApproved, 45)
	assert.Equal(t, "R=0.10|C=meal|D=auto|$45", compact)

	long := BuildCompactMemo(0.999, entity.CategoryClientEntertainment, workflow.StatePendingApproval, 1234567890123)
	assert.LessOrEqual(t, len(long), CompactMemoSize)
}
