// Package feature defines the typed feature record scored by the risk
// ensemble and checked by the policy engine, plus the fixed transforms that
// turn it into model input vectors.
package feature

import (
	"math"
	"time"

	"github.com/garyjia/expense-agent/internal/domain/entity"
)

// DefaultDaysSinceLast is used when an employee has no prior expense
const DefaultDaysSinceLast = 30

// Features is everything the pipeline knows about one expense at decision time
type Features struct {
	Amount               float64            `json:"amount"`
	Category             entity.Category    `json:"category"`
	Merchant             string             `json:"merchant"`
	Description          string             `json:"description"`
	ReceiptAttached      bool               `json:"receipt_attached"`
	HourOfDay            int                `json:"hour_of_day"`
	DayOfWeek            int                `json:"day_of_week"` // Monday = 0
	IsWeekend            bool               `json:"is_weekend"`
	DaysSinceLastExpense int                `json:"days_since_last_expense"`
	MonthlyExpenseCount  int                `json:"monthly_expense_count"`
	MonthlyTotalAmount   float64            `json:"monthly_total_amount"`
	AmountVsAvgRatio     float64            `json:"amount_vs_avg_ratio"`
	CategoryFrequency    float64            `json:"category_frequency"`
	MerchantFrequency    float64            `json:"merchant_frequency"`
	IsRoundNumber        bool               `json:"is_round_number"`
	DescriptionLength    int                `json:"description_length"`
	MonthlyLimit         float64            `json:"monthly_limit"`
	MonthlySpent         float64            `json:"monthly_spent"`
	OCR                  *entity.OCRSignals `json:"ocr,omitempty"`
}

// History summarises an employee's prior expenses
type History struct {
	// Count and TotalAmount cover the current calendar month
	Count       int
	TotalAmount float64
	// BudgetSpent is this month's total in statuses that consume budget
	BudgetSpent float64
	// The remaining fields cover all prior expenses
	AllTime       int
	SameCategory  int
	SameMerchant  int
	LastExpenseAt *time.Time
}

// Claim is the submitted part of an expense
type Claim struct {
	Amount          float64
	Category        entity.Category
	Merchant        string
	Description     string
	ReceiptAttached bool
}

// Build assembles the feature record for a claim submitted at now
func Build(c Claim, h History, monthlyLimit float64, now time.Time, ocr *entity.OCRSignals) Features {
	merchant := c.Merchant
	if merchant == "" {
		merchant = "Unknown"
	}

	// Monday = 0
	dow := (int(now.Weekday()) + 6) % 7

	avg := c.Amount
	if h.Count > 0 {
		avg = h.TotalAmount / float64(h.Count)
	}

	daysSince := DefaultDaysSinceLast
	if h.LastExpenseAt != nil {
		daysSince = int(now.Sub(*h.LastExpenseAt).Hours() / 24)
		if daysSince < 0 {
			daysSince = 0
		}
	}

	return Features{
		Amount:               c.Amount,
		Category:             c.Category,
		Merchant:             merchant,
		Description:          c.Description,
		ReceiptAttached:      c.ReceiptAttached,
		HourOfDay:            now.Hour(),
		DayOfWeek:            dow,
		IsWeekend:            dow >= 5,
		DaysSinceLastExpense: daysSince,
		MonthlyExpenseCount:  h.Count,
		MonthlyTotalAmount:   h.TotalAmount,
		AmountVsAvgRatio:     Round(c.Amount/math.Max(avg, 1), 2),
		CategoryFrequency:    Round(float64(h.SameCategory)/math.Max(float64(h.AllTime), 1), 2),
		MerchantFrequency:    Round(float64(h.SameMerchant)/math.Max(float64(h.AllTime), 1), 2),
		IsRoundNumber:        math.Mod(c.Amount, 10) == 0,
		DescriptionLength:    len(c.Description),
		MonthlyLimit:         monthlyLimit,
		MonthlySpent:         h.BudgetSpent,
		OCR:                  ocr,
	}
}

// DefaultUtilizationLimit stands in for employees without a monthly limit
const DefaultUtilizationLimit = 5000

// BudgetUtilization is the share of the monthly limit already spent, excluding this expense
func (f Features) BudgetUtilization() float64 {
	limit := f.MonthlyLimit
	if limit <= 0 {
		limit = DefaultUtilizationLimit
	}
	return Round(f.MonthlySpent/math.Max(limit, 1), 3)
}

// IsNight covers the late evening and early morning window used by the statistical layer
func (f Features) IsNight() bool {
	return f.HourOfDay < 5 || f.HourOfDay >= 22
}

// Round rounds v to the given number of decimal places
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
