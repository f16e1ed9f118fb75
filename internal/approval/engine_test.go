package approval

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/categorize"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/feature"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
	"github.com/garyjia/expense-agent/internal/policy"
	"github.com/garyjia/expense-agent/internal/risk"
	"github.com/garyjia/expense-agent/internal/routing"
)

// Wednesday noon
var evalNow = time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)

type noHistory struct{}

func (noHistory) MonthlySpend(ctx context.Context, employeeID string, since time.Time, statuses []workflow.State) (float64, error) {
	return 0, nil
}

func (noHistory) CountDuplicates(ctx context.Context, employeeID string, amount float64, category entity.Category, merchant string, since time.Time, excluded []workflow.State) (int, error) {
	return 0, nil
}

type directory map[string]*entity.Employee

func (d directory) GetByID(ctx context.Context, id string) (*entity.Employee, error) {
	return d[id], nil
}

func (d directory) FirstByRole(ctx context.Context, role entity.Role) (*entity.Employee, error) {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if d[id].Role == role {
			return d[id], nil
		}
	}
	return nil, nil
}

func (d directory) ManagerOf(ctx context.Context, id string) (*entity.Employee, error) {
	e := d[id]
	if e.ManagerID() == "" {
		return nil, nil
	}
	return d[e.ManagerID()], nil
}

type staticRules []*entity.ApprovalRule

func (r staticRules) ListActive(ctx context.Context) ([]*entity.ApprovalRule, error) {
	return r, nil
}

func strp(s string) *string { return &s }

func company() directory {
	return directory{
		"EMP-001": {EmployeeID: "EMP-001", Name: "Sarah Chen", Role: entity.RoleEmployee, Department: "Engineering", ReportsTo: strp("EMP-010"), MonthlyLimit: 50000},
		"EMP-010": {EmployeeID: "EMP-010", Name: "Mike Torres", Role: entity.RoleManager, Department: "Engineering", ReportsTo: strp("EMP-030")},
		"EMP-030": {EmployeeID: "EMP-030", Name: "Victor Hale", Role: entity.RoleVP, Department: "Engineering", ReportsTo: strp("EMP-040")},
		"EMP-040": {EmployeeID: "EMP-040", Name: "Carla Ruiz", Role: entity.RoleCFO, Department: "Executive"},
		"EMP-050": {EmployeeID: "EMP-050", Name: "Frank Moss", Role: entity.RoleFinance, Department: "Finance", ReportsTo: strp("EMP-040")},
	}
}

func equipmentRule() *entity.ApprovalRule {
	floor := 2000.0
	return &entity.ApprovalRule{
		ID:        7,
		Name:      "Large equipment",
		Category:  entity.CategoryEquipment,
		AmountMin: &floor,
		RequiredApprovers: []entity.ApproverRole{
			entity.ApproverDirectManager, entity.ApproverFinance, entity.ApproverCFO,
		},
		ApprovalType: entity.ApprovalSequential,
		Priority:     20,
		Active:       true,
	}
}

func newTestEngine(rules staticRules) *Engine {
	logger := zap.NewNop()
	dir := company()
	pe := policy.NewEngine(policy.DefaultLimits(), noHistory{}, dir, logger, policy.WithClock(func() time.Time { return evalNow }))
	return NewEngine(
		risk.NewScorer(risk.Models{}, logger),
		categorize.New(nil, logger),
		pe,
		routing.NewResolver(rules, dir, 0, logger),
		DefaultThresholds(),
		logger,
	)
}

func features(c feature.Claim, ocr *entity.OCRSignals) feature.Features {
	return feature.Build(c, feature.History{}, 50000, evalNow, ocr)
}

func TestEvaluate_LowRiskMealAutoApproves(t *testing.T) {
	e := newTestEngine(staticRules{equipmentRule()})

	d := e.Evaluate(context.Background(), Request{
		ExpenseID:  "EXP-A",
		EmployeeID: "EMP-001",
		Department: "Engineering",
		Features: features(feature.Claim{
			Amount: 45, Category: entity.CategoryMeals, Merchant: "Chipotle",
			Description: "Team lunch with the platform squad", ReceiptAttached: true,
		}, nil),
	})

	assert.Equal(t, workflow.StateAutoApproved, d.Status)
	assert.Less(t, d.RiskScore, 0.3)
	assert.Equal(t, risk.LevelLow, d.RiskLevel)
	assert.Empty(t, d.Policy.Violations)
	assert.Empty(t, d.Steps)
	assert.Equal(t, entity.CategoryMeals, d.PredictedCategory)
	assert.Contains(t, d.Memo, "Decision=auto_approved")
	assert.Contains(t, d.Memo, "Amount=$45.00")
}

func TestEvaluate_LargeEquipmentRoutesToChain(t *testing.T) {
	e := newTestEngine(staticRules{equipmentRule()})

	d := e.Evaluate(context.Background(), Request{
		ExpenseID:  "EXP-B",
		EmployeeID: "EMP-001",
		Department: "Engineering",
		Features: features(feature.Claim{
			Amount: 12000, Category: entity.CategoryEquipment, Merchant: "Dell",
			Description: "Build server for the lab", ReceiptAttached: true,
		}, nil),
	})

	require.Equal(t, workflow.StatePendingApproval, d.Status)
	require.Equal(t, 3, d.TotalSteps())
	assert.True(t, d.Policy.Passed)
	assert.Equal(t, "Large equipment", d.Rule.Name)

	assert.Equal(t, entity.StepPending, d.Steps[0].Status)
	assert.Equal(t, "EMP-010", *d.Steps[0].ApproverID)
	assert.Equal(t, "EMP-050", *d.Steps[1].ApproverID)
	assert.Equal(t, "EMP-040", *d.Steps[2].ApproverID)
	assert.Equal(t, entity.StepWaiting, d.Steps[2].Status)

	assert.Contains(t, d.Reason, "Routed for multi-step approval: Mike Torres → Frank Moss → Carla Ruiz.")
}

func TestEvaluate_LargeEquipmentWithoutReceiptIsBlocked(t *testing.T) {
	e := newTestEngine(staticRules{equipmentRule()})

	d := e.Evaluate(context.Background(), Request{
		ExpenseID:  "EXP-B2",
		EmployeeID: "EMP-001",
		Department: "Engineering",
		Features: features(feature.Claim{
			Amount: 12000, Category: entity.CategoryEquipment, Merchant: "Dell",
			Description: "Build server for the lab",
		}, nil),
	})

	assert.Equal(t, workflow.StateRejected, d.Status)
	assert.Empty(t, d.Steps, "rejected expenses are never routed")
	assert.Contains(t, d.Reason, "Receipt required")
}

func TestEvaluate_ReceiptAmountMismatch(t *testing.T) {
	e := newTestEngine(nil)
	claim := feature.Claim{
		Amount: 45, Category: entity.CategoryMeals, Merchant: "Chipotle",
		Description: "Team lunch with the platform squad", ReceiptAttached: true,
	}

	clean := e.Evaluate(context.Background(), Request{ExpenseID: "EXP-D1", EmployeeID: "EMP-001", Features: features(claim, nil)})
	mismatch := e.Evaluate(context.Background(), Request{ExpenseID: "EXP-D2", EmployeeID: "EMP-001", Features: features(claim,
		&entity.OCRSignals{Success: true, Confidence: 0.9, AmountMismatch: 0.6})})

	flag, ok := mismatch.Policy.FirstFlag()
	require.True(t, ok)
	assert.Equal(t, entity.SeverityFlag, flag.Severity)
	assert.InDelta(t, 0.25, mismatch.LayerScores[risk.LayerPolicy]-clean.LayerScores[risk.LayerPolicy], 1e-9)
	assert.Greater(t, mismatch.RiskScore, clean.RiskScore)
}

func TestEvaluate_PredictsMissingCategory(t *testing.T) {
	e := newTestEngine(nil)

	d := e.Evaluate(context.Background(), Request{
		ExpenseID:  "EXP-E",
		EmployeeID: "EMP-001",
		Features: features(feature.Claim{
			Amount: 28, Merchant: "Uber", Description: "Uber to client office", ReceiptAttached: true,
		}, nil),
	})

	assert.Equal(t, entity.CategoryTransportation, d.PredictedCategory)
	assert.Contains(t, d.Memo, "Category=transportation")
}
