package feature

import "math"

// Population statistics used for z-scores when a model file does not supply its own
const (
	DefaultAmountMean = 88.35
	DefaultAmountStd  = 250.12
)

// AmountStats holds the population mean and standard deviation of expense amounts
type AmountStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// DefaultAmountStats returns the built-in population statistics
func DefaultAmountStats() AmountStats {
	return AmountStats{Mean: DefaultAmountMean, Std: DefaultAmountStd}
}

func (s AmountStats) zscore(amount float64) float64 {
	std := s.Std
	if std <= 0 {
		std = DefaultAmountStd
	}
	return (amount - s.Mean) / std
}

// percentileTable approximates the amount CDF of the reference population
var percentileTable = []struct {
	upTo float64
	pct  float64
}{
	{1, 0.05},
	{5, 0.20},
	{10, 0.30},
	{20, 0.40},
	{50, 0.55},
	{80, 0.65},
	{100, 0.70},
	{150, 0.77},
	{250, 0.85},
	{500, 0.92},
	{1000, 0.97},
	{5000, 0.99},
}

var binEdges = []float64{0, 25, 50, 100, 250, 500, 1000}

// StatisticalVectorLen is the width of StatisticalVector
const StatisticalVectorLen = 17

// OutlierVectorLen is the width of OutlierVector
const OutlierVectorLen = 8

// AmountPercentile looks the amount up in the reference CDF
func AmountPercentile(amount float64) float64 {
	for _, row := range percentileTable {
		if amount <= row.upTo {
			return row.pct
		}
	}
	return 0.999
}

// AmountBin places the amount into one of seven buckets
func AmountBin(amount float64) float64 {
	for i, edge := range binEdges {
		if amount <= edge {
			return float64(max(i-1, 0))
		}
	}
	return float64(len(binEdges) - 1)
}

func magnitude(amount float64) float64 {
	return math.Floor(math.Log10(math.Max(amount, 0.01)))
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// StatisticalVector is the ordered input of the statistical classifier
func StatisticalVector(f Features, stats AmountStats) []float64 {
	a := f.Amount
	hour := float64(f.HourOfDay)
	angle := 2 * math.Pi * hour / 24
	night := f.IsNight()

	return []float64{
		a,
		math.Log1p(a),
		math.Sqrt(math.Max(a, 0)),
		stats.zscore(a),
		AmountPercentile(a),
		a - math.Floor(a),
		boolf(math.Mod(a, 10) == 0),
		boolf(math.Mod(a, 100) == 0),
		AmountBin(a),
		magnitude(a),
		hour,
		math.Sin(angle),
		math.Cos(angle),
		boolf(night),
		boolf(f.HourOfDay >= 9 && f.HourOfDay < 17),
		boolf(f.IsWeekend),
		a * boolf(night),
	}
}

// OutlierVector is the ordered input of the outlier model
func OutlierVector(f Features, stats AmountStats) []float64 {
	a := f.Amount
	hour := float64(f.HourOfDay)
	angle := 2 * math.Pi * hour / 24

	return []float64{
		a,
		math.Log1p(a),
		stats.zscore(a),
		magnitude(a),
		hour,
		math.Sin(angle),
		math.Cos(angle),
		boolf(f.IsNight()),
	}
}
