package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/feature"
)

// FeatureBuilder assembles the feature record of a new claim from the
// submitter's expense history
type FeatureBuilder struct {
	expenses port.ExpenseRepository
}

// NewFeatureBuilder creates a feature builder
func NewFeatureBuilder(expenses port.ExpenseRepository) *FeatureBuilder {
	return &FeatureBuilder{expenses: expenses}
}

// Build returns the features for claim as submitted at now. employee may be
// nil, in which case no monthly limit is known.
func (b *FeatureBuilder) Build(ctx context.Context, employeeID string, employee *entity.Employee, claim feature.Claim, receipt *feature.ReceiptData, now time.Time) (feature.Features, error) {
	now = now.UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	history, err := b.expenses.HistoryFor(ctx, employeeID, claim.Category, claim.Merchant, monthStart)
	if err != nil {
		return feature.Features{}, fmt.Errorf("failed to load expense history: %w", err)
	}
	if history == nil {
		history = &feature.History{}
	}

	var limit float64
	if employee != nil {
		limit = employee.MonthlyLimit
	}

	var ocr *entity.OCRSignals
	if receipt != nil {
		signals := feature.CrossCheck(*receipt, claim.Amount, claim.Merchant, now)
		ocr = &signals
	}

	return feature.Build(claim, *history, limit, now, ocr), nil
}
