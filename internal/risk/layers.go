package risk

import (
	"fmt"
	"math"

	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/feature"
)

// Outcome records whether a layer's score came from its model or its heuristic
type Outcome string

const (
	OutcomeModel    Outcome = "model"
	OutcomeFallback Outcome = "fallback"
)

// LayerResult is one layer's contribution. Err is set when a loaded model
// failed and the heuristic was substituted.
type LayerResult struct {
	Score   float64
	Outcome Outcome
	Err     error
}

// outlierScale steepens the sigmoid mapping decision values to anomaly scores
const outlierScale = 5.0

var highRiskCategories = map[entity.Category]bool{
	entity.CategoryClientEntertainment: true,
	entity.CategoryEquipment:           true,
	entity.CategoryMiscellaneous:       true,
}

// IsHighRiskCategory reports whether the category carries extra domain risk
func IsHighRiskCategory(c entity.Category) bool {
	return highRiskCategories[c]
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func statisticalLayer(m Classifier, f feature.Features, stats feature.AmountStats) LayerResult {
	if m == nil {
		return LayerResult{Score: amountHeuristic(f), Outcome: OutcomeFallback}
	}
	p, err := m.Predict(feature.StatisticalVector(f, stats))
	if err != nil {
		return LayerResult{Score: amountHeuristic(f), Outcome: OutcomeFallback, Err: err}
	}
	return LayerResult{Score: clamp01(p), Outcome: OutcomeModel}
}

func outlierLayer(m OutlierModel, f feature.Features, stats feature.AmountStats) LayerResult {
	if m == nil {
		return LayerResult{Score: anomalyHeuristic(f), Outcome: OutcomeFallback}
	}
	raw, err := m.Decision(feature.OutlierVector(f, stats))
	if err != nil {
		return LayerResult{Score: anomalyHeuristic(f), Outcome: OutcomeFallback, Err: err}
	}
	return LayerResult{Score: clamp01(1 / (1 + math.Exp(outlierScale*raw))), Outcome: OutcomeModel}
}

func amountHeuristic(f feature.Features) float64 {
	score := 0.02
	switch {
	case f.Amount > 5000:
		score += 0.25
	case f.Amount > 2000:
		score += 0.15
	case f.Amount > 1000:
		score += 0.08
	}
	if f.HourOfDay < 5 || f.HourOfDay >= 22 {
		score += 0.12
	}
	if f.IsWeekend {
		score += 0.05
	}
	return math.Min(score, 1)
}

func anomalyHeuristic(f feature.Features) float64 {
	score := 0.0
	switch {
	case f.AmountVsAvgRatio > 5:
		score += 0.35
	case f.AmountVsAvgRatio > 3:
		score += 0.15
	}
	switch {
	case f.Amount > 5000:
		score += 0.25
	case f.Amount > 2000:
		score += 0.10
	}
	if f.HourOfDay < 5 || f.HourOfDay > 23 {
		score += 0.15
	}
	return math.Min(score, 1)
}

// missingReceiptRiskAbove is the amount above which a missing receipt adds policy risk
const missingReceiptRiskAbove = 200

// PolicyLayer scores transparent business rules and explains each contribution
func PolicyLayer(f feature.Features) (float64, []string) {
	score := 0.0
	factors := []string{}
	amount := f.Amount

	dev := feature.Round(feature.CategoryDeviation(f.Category, amount), 3)
	switch {
	case dev > 3.0:
		score += 0.15
		norm := feature.NormFor(f.Category)
		factors = append(factors, fmt.Sprintf("Amount $%.2f is far above typical $%.0f-$%.0f for %s",
			amount, norm.Min, norm.Max, f.Category))
	case dev > 2.0:
		score += 0.06
	}

	if IsHighRiskCategory(f.Category) {
		score += 0.04
		factors = append(factors, fmt.Sprintf("Category '%s' is higher-risk", f.Category))
	}

	if !f.ReceiptAttached && amount > missingReceiptRiskAbove {
		score += 0.10
		factors = append(factors, fmt.Sprintf("No receipt for $%.2f expense", amount))
	}

	util := f.BudgetUtilization()
	switch {
	case util > 0.95:
		score += 0.12
		factors = append(factors, fmt.Sprintf("Budget %.0f%% utilized", util*100))
	case util > 0.8:
		score += 0.04
	}

	if f.HourOfDay < 5 || f.HourOfDay > 23 {
		score += 0.06
		factors = append(factors, fmt.Sprintf("Unusual submission time: %d:00", f.HourOfDay))
	}

	switch {
	case f.AmountVsAvgRatio > 5:
		score += 0.12
		factors = append(factors, fmt.Sprintf("Amount is %.1fx above your average", f.AmountVsAvgRatio))
	case f.AmountVsAvgRatio > 3:
		score += 0.05
	}

	quality := math.Max(0, 1-float64(f.DescriptionLength)/50)
	if quality > 0.8 && amount > 200 {
		score += 0.04
		factors = append(factors, "Short/vague description for high amount")
	}

	if f.OCR.Usable() {
		s, ocrFactors := receiptSignals(*f.OCR, amount)
		score += s
		factors = append(factors, ocrFactors...)
	}

	return math.Min(score, 1), factors
}

func receiptSignals(o entity.OCRSignals, amount float64) (float64, []string) {
	score := 0.0
	var factors []string

	switch {
	case o.AmountMismatch > 0.50:
		score += 0.25
		factors = append(factors, fmt.Sprintf("Receipt amount differs from submitted amount ($%.2f) by %.0f%%", amount, o.AmountMismatch*100))
	case o.AmountMismatch > 0.15:
		score += 0.12
		factors = append(factors, fmt.Sprintf("Receipt amount differs from submitted amount ($%.2f) by %.0f%%", amount, o.AmountMismatch*100))
	}

	if o.MerchantMismatch {
		score += 0.10
		factors = append(factors, "Receipt merchant doesn't match submitted merchant")
	}

	switch {
	case o.DateGapDays > 90:
		score += 0.15
		factors = append(factors, fmt.Sprintf("Receipt is %d days old, possible reused receipt", o.DateGapDays))
	case o.DateGapDays > 30:
		score += 0.06
		factors = append(factors, fmt.Sprintf("Receipt date is %d days ago", o.DateGapDays))
	}

	if o.Confidence < 0.3 && amount > 200 {
		score += 0.06
		factors = append(factors, fmt.Sprintf("Low receipt quality (OCR confidence: %.0f%%)", o.Confidence*100))
	}

	return score, factors
}
