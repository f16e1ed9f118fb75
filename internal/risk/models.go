package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/domain/feature"
)

// ErrFeatureMismatch is returned when a vector does not match the model's input width
var ErrFeatureMismatch = errors.New("feature vector length mismatch")

// Classifier returns the probability that an expense is fraudulent
type Classifier interface {
	Predict(vec []float64) (float64, error)
}

// OutlierModel returns a decision value where positive means normal and
// negative means anomalous
type OutlierModel interface {
	Decision(vec []float64) (float64, error)
}

// Models bundles the optional model layers. A nil model selects the heuristic.
type Models struct {
	Statistical Classifier
	Outlier     OutlierModel
	Stats       feature.AmountStats
}

// ModelPaths locates model files on disk
type ModelPaths struct {
	Statistical string
	Outlier     string
}

// LogisticModel is a logistic regression over the statistical vector
type LogisticModel struct {
	Weights []float64           `json:"weights"`
	Bias    float64             `json:"bias"`
	Stats   feature.AmountStats `json:"amount_stats"`
}

// Predict implements Classifier
func (m *LogisticModel) Predict(vec []float64) (float64, error) {
	if len(vec) != len(m.Weights) {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrFeatureMismatch, len(vec), len(m.Weights))
	}
	z := m.Bias
	for i, w := range m.Weights {
		z += w * vec[i]
	}
	p := 1 / (1 + math.Exp(-z))
	if math.IsNaN(p) {
		return 0, fmt.Errorf("logistic model produced NaN")
	}
	return p, nil
}

// GaussianOutlierModel scores distance from a per-feature normal profile.
// Decision is Offset minus the RMS z-score, so typical points land above zero.
type GaussianOutlierModel struct {
	Means  []float64 `json:"means"`
	Stds   []float64 `json:"stds"`
	Offset float64   `json:"offset"`
}

// Decision implements OutlierModel
func (m *GaussianOutlierModel) Decision(vec []float64) (float64, error) {
	if len(vec) != len(m.Means) || len(m.Means) != len(m.Stds) {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrFeatureMismatch, len(vec), len(m.Means))
	}
	if len(vec) == 0 {
		return 0, fmt.Errorf("%w: empty model", ErrFeatureMismatch)
	}
	var sum float64
	for i, x := range vec {
		std := m.Stds[i]
		if std <= 0 {
			std = 1
		}
		z := (x - m.Means[i]) / std
		sum += z * z
	}
	return m.Offset - math.Sqrt(sum/float64(len(vec))), nil
}

// LoadModels reads the model files once at startup. A missing or unreadable
// file leaves that layer on its heuristic; it never fails the caller.
func LoadModels(paths ModelPaths, logger *zap.Logger) Models {
	models := Models{Stats: feature.DefaultAmountStats()}

	if paths.Statistical != "" {
		var lm LogisticModel
		if err := readJSON(paths.Statistical, &lm); err != nil {
			logger.Info("Statistical model unavailable, using heuristic",
				zap.String("path", paths.Statistical), zap.Error(err))
		} else if len(lm.Weights) != feature.StatisticalVectorLen {
			logger.Warn("Statistical model has wrong width, using heuristic",
				zap.Int("weights", len(lm.Weights)))
		} else {
			models.Statistical = &lm
			if lm.Stats.Std > 0 {
				models.Stats = lm.Stats
			}
			logger.Info("Statistical model loaded", zap.String("path", paths.Statistical))
		}
	}

	if paths.Outlier != "" {
		var gm GaussianOutlierModel
		if err := readJSON(paths.Outlier, &gm); err != nil {
			logger.Info("Outlier model unavailable, using heuristic",
				zap.String("path", paths.Outlier), zap.Error(err))
		} else if len(gm.Means) != feature.OutlierVectorLen {
			logger.Warn("Outlier model has wrong width, using heuristic",
				zap.Int("means", len(gm.Means)))
		} else {
			models.Outlier = &gm
			logger.Info("Outlier model loaded", zap.String("path", paths.Outlier))
		}
	}

	return models
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
