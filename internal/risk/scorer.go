// Package risk implements the three-layer expense risk ensemble: a
// statistical classifier, an outlier detector and transparent policy rules.
// Model layers degrade to heuristics when their model is missing or fails.
package risk

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/domain/feature"
)

// Ensemble weights. They sum to 1.
const (
	StatisticalWeight = 0.15
	OutlierWeight     = 0.35
	PolicyWeight      = 0.50
)

// Risk level boundaries, also used as the default decision thresholds
const (
	LowRiskThreshold  = 0.3
	HighRiskThreshold = 0.7
)

// AnomalyThreshold is the outlier score above which an expense is anomalous
const AnomalyThreshold = 0.5

// Layer names as reported in Assessment.LayerScores
const (
	LayerStatistical = "statistical"
	LayerOutlier     = "outlier"
	LayerPolicy      = "policy"
)

// Level is the coarse risk band
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// LevelFor maps a score to its band
func LevelFor(score float64) Level {
	switch {
	case score < LowRiskThreshold:
		return LevelLow
	case score < HighRiskThreshold:
		return LevelMedium
	default:
		return LevelHigh
	}
}

// Assessment is the ensemble's verdict on one expense
type Assessment struct {
	RiskScore    float64            `json:"risk_score"`
	RiskLevel    Level              `json:"risk_level"`
	RiskFactors  []string           `json:"risk_factors"`
	LayerScores  map[string]float64 `json:"layer_scores"`
	AnomalyScore float64            `json:"anomaly_score"`
	IsAnomaly    bool               `json:"is_anomaly"`
	ModelUsed    string             `json:"model_used"`
}

// Scorer runs the ensemble. It is safe for concurrent use.
type Scorer struct {
	models Models
	logger *zap.Logger
}

// NewScorer creates a scorer over the given models
func NewScorer(models Models, logger *zap.Logger) *Scorer {
	if models.Stats.Std <= 0 {
		models.Stats = feature.DefaultAmountStats()
	}
	return &Scorer{models: models, logger: logger}
}

// Score never fails: a failing model is logged and replaced by its heuristic
func (s *Scorer) Score(f feature.Features) Assessment {
	stat := statisticalLayer(s.models.Statistical, f, s.models.Stats)
	if stat.Err != nil {
		s.logger.Warn("Statistical model failed, using heuristic", zap.Error(stat.Err))
	}

	outlier := outlierLayer(s.models.Outlier, f, s.models.Stats)
	if outlier.Err != nil {
		s.logger.Warn("Outlier model failed, using heuristic", zap.Error(outlier.Err))
	}

	policy, factors := PolicyLayer(f)

	total := StatisticalWeight*stat.Score + OutlierWeight*outlier.Score + PolicyWeight*policy
	total = feature.Round(math.Max(0, math.Min(1, total)), 4)

	return Assessment{
		RiskScore:   total,
		RiskLevel:   LevelFor(total),
		RiskFactors: factors,
		LayerScores: map[string]float64{
			LayerStatistical: feature.Round(stat.Score, 4),
			LayerOutlier:     feature.Round(outlier.Score, 4),
			LayerPolicy:      feature.Round(policy, 4),
		},
		AnomalyScore: feature.Round(outlier.Score, 4),
		IsAnomaly:    outlier.Score > AnomalyThreshold,
		ModelUsed:    modelUsed(stat.Outcome, outlier.Outcome),
	}
}

func modelUsed(stat, outlier Outcome) string {
	parts := make([]string, 0, 3)
	if stat == OutcomeModel {
		parts = append(parts, "logistic")
	} else {
		parts = append(parts, "heuristic_amount")
	}
	if outlier == OutcomeModel {
		parts = append(parts, "gaussian_outlier")
	} else {
		parts = append(parts, "heuristic_anomaly")
	}
	parts = append(parts, "policy_rules")
	return strings.Join(parts, " + ")
}
