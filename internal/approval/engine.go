package approval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/categorize"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/feature"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
	"github.com/garyjia/expense-agent/internal/policy"
	"github.com/garyjia/expense-agent/internal/risk"
	"github.com/garyjia/expense-agent/internal/routing"
)

// Request is an expense awaiting a decision
type Request struct {
	ExpenseID  string
	EmployeeID string
	Department string
	Features   feature.Features
}

// Decision is the full outcome of evaluating one expense
type Decision struct {
	Status             workflow.State         `json:"decision"`
	RiskScore          float64                `json:"risk_score"`
	RiskLevel          risk.Level             `json:"risk_level"`
	AnomalyScore       float64                `json:"anomaly_score"`
	IsAnomaly          bool                   `json:"is_anomaly"`
	LayerScores        map[string]float64     `json:"layer_scores"`
	ModelUsed          string                 `json:"model_used"`
	PredictedCategory  entity.Category        `json:"predicted_category"`
	CategoryConfidence float64                `json:"category_confidence"`
	RiskFactors        []string               `json:"risk_factors"`
	Policy             policy.Result          `json:"policy_result"`
	Reason             string                 `json:"reason"`
	Explanation        string                 `json:"explanation"`
	Memo               string                 `json:"memo"`
	CompactMemo        string                 `json:"compact_memo"`
	Rule               *entity.ApprovalRule   `json:"rule,omitempty"`
	Steps              []*entity.ApprovalStep `json:"approval_steps"`
	DecidedAt          time.Time              `json:"timestamp"`
}

// TotalSteps is the length of the resolved approval chain
func (d *Decision) TotalSteps() int {
	return len(d.Steps)
}

// Engine evaluates expenses
type Engine struct {
	scorer      *risk.Scorer
	categorizer *categorize.Categorizer
	policy      *policy.Engine
	router      *routing.Resolver
	thresholds  Thresholds
	logger      *zap.Logger
	now         func() time.Time
}

// NewEngine creates a decision engine. router may be nil to disable multi-step routing.
func NewEngine(scorer *risk.Scorer, categorizer *categorize.Categorizer, policyEngine *policy.Engine, router *routing.Resolver, thresholds Thresholds, logger *zap.Logger) *Engine {
	return &Engine{
		scorer:      scorer,
		categorizer: categorizer,
		policy:      policyEngine,
		router:      router,
		thresholds:  thresholds,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate scores, checks and routes an expense. It always produces a decision.
func (e *Engine) Evaluate(ctx context.Context, req Request) *Decision {
	f := req.Features

	e.logger.Info("Evaluating expense",
		zap.String("expense_id", req.ExpenseID),
		zap.Float64("amount", f.Amount),
		zap.String("category", string(f.Category)))

	prediction := e.categorizer.Predict(ctx, f.Description, f.Merchant, f.Amount)
	if f.Category == "" {
		f.Category = prediction.Category
	}

	assessment := e.scorer.Score(f)
	policyResult := e.policy.Check(ctx, f, req.EmployeeID)

	status, reason := Decide(e.thresholds, Inputs{
		RiskScore:    assessment.RiskScore,
		AnomalyScore: assessment.AnomalyScore,
		IsAnomaly:    assessment.IsAnomaly,
		RiskFactors:  assessment.RiskFactors,
		Policy:       policyResult,
		Amount:       f.Amount,
	})

	d := &Decision{
		RiskScore:          assessment.RiskScore,
		RiskLevel:          assessment.RiskLevel,
		AnomalyScore:       assessment.AnomalyScore,
		IsAnomaly:          assessment.IsAnomaly,
		LayerScores:        assessment.LayerScores,
		ModelUsed:          assessment.ModelUsed,
		PredictedCategory:  prediction.Category,
		CategoryConfidence: prediction.Confidence,
		RiskFactors:        assessment.RiskFactors,
		Policy:             policyResult,
		DecidedAt:          e.now(),
	}

	if (status == workflow.StateAutoApproved || status == workflow.StateManagerReview) && e.router != nil && req.ExpenseID != "" {
		chain, err := e.router.Resolve(ctx, routing.Request{
			ExpenseID:  req.ExpenseID,
			EmployeeID: req.EmployeeID,
			Category:   f.Category,
			Department: req.Department,
			Amount:     f.Amount,
		})
		if err != nil {
			e.logger.Error("Approval routing failed, keeping single-tier decision",
				zap.String("expense_id", req.ExpenseID),
				zap.Error(err))
		} else if !chain.Empty() {
			status = workflow.StatePendingApproval
			reason = fmt.Sprintf("Routed for multi-step approval: %s. AI risk score: %.2f. %s",
				chain.Describe(), assessment.RiskScore, reason)
			d.Rule = chain.Rule
			d.Steps = chain.Steps
		}
	}

	d.Status = status
	d.Reason = reason
	d.Memo = BuildMemo(assessment.RiskScore, f.Category, status, f.Amount)
	d.CompactMemo = BuildCompactMemo(assessment.RiskScore, f.Category, status, f.Amount)
	d.Explanation = Explain(f, d)

	e.logger.Info("Expense decided",
		zap.String("expense_id", req.ExpenseID),
		zap.String("decision", string(status)),
		zap.Float64("risk_score", assessment.RiskScore),
		zap.Float64("anomaly_score", assessment.AnomalyScore),
		zap.Int("steps", len(d.Steps)))

	return d
}
