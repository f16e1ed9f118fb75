package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/feature"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
)

type pastExpense struct {
	employeeID  string
	amount      float64
	category    entity.Category
	merchant    string
	status      workflow.State
	submittedAt time.Time
}

// fakeHistory evaluates queries over an in-memory expense list
type fakeHistory struct {
	expenses []pastExpense
	err      error
}

func (h *fakeHistory) MonthlySpend(ctx context.Context, employeeID string, since time.Time, statuses []workflow.State) (float64, error) {
	if h.err != nil {
		return 0, h.err
	}
	var total float64
	for _, e := range h.expenses {
		if e.employeeID == employeeID && !e.submittedAt.Before(since) && containsState(statuses, e.status) {
			total += e.amount
		}
	}
	return total, nil
}

func (h *fakeHistory) CountDuplicates(ctx context.Context, employeeID string, amount float64, category entity.Category, merchant string, since time.Time, excluded []workflow.State) (int, error) {
	if h.err != nil {
		return 0, h.err
	}
	n := 0
	for _, e := range h.expenses {
		if e.employeeID == employeeID && e.amount == amount && e.category == category &&
			e.merchant == merchant && !e.submittedAt.Before(since) && !containsState(excluded, e.status) {
			n++
		}
	}
	return n, nil
}

func containsState(states []workflow.State, s workflow.State) bool {
	for _, x := range states {
		if x == s {
			return true
		}
	}
	return false
}

type fakeEmployees map[string]*entity.Employee

func (f fakeEmployees) GetByID(ctx context.Context, id string) (*entity.Employee, error) {
	return f[id], nil
}

var now = time.Date(2026, 3, 18, 14, 0, 0, 0, time.UTC)

func newEngine(h History, emps EmployeeLookup) *Engine {
	return NewEngine(DefaultLimits(), h, emps, zap.NewNop(), WithClock(func() time.Time { return now }))
}

func severities(r Result) []entity.Severity {
	out := make([]entity.Severity, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.Severity)
	}
	return out
}

func TestCheck_StatelessRules(t *testing.T) {
	tests := []struct {
		name string
		f    feature.Features
		want []entity.Severity
	}{
		{
			name: "small meal with receipt",
			f:    feature.Features{Amount: 45, Category: entity.CategoryMeals, ReceiptAttached: true},
			want: []entity.Severity{},
		},
		{
			name: "no receipt under suggestion floor",
			f:    feature.Features{Amount: 20, Category: entity.CategoryTravel},
			want: []entity.Severity{},
		},
		{
			name: "no receipt suggested",
			f:    feature.Features{Amount: 80, Category: entity.CategoryTravel},
			want: []entity.Severity{entity.SeverityWarning},
		},
		{
			name: "no receipt flagged",
			f:    feature.Features{Amount: 450, Category: entity.CategoryTravel},
			want: []entity.Severity{entity.SeverityFlag},
		},
		{
			name: "no receipt large amount blocks",
			f:    feature.Features{Amount: 12000, Category: entity.CategoryEquipment},
			want: []entity.Severity{entity.SeverityBlock, entity.SeverityFlag},
		},
		{
			name: "above maximum blocks",
			f:    feature.Features{Amount: 30000, Category: entity.CategoryEquipment, ReceiptAttached: true},
			want: []entity.Severity{entity.SeverityBlock},
		},
		{
			name: "meal above hard ceiling only flags",
			f:    feature.Features{Amount: 650, Category: entity.CategoryMeals, ReceiptAttached: true},
			want: []entity.Severity{entity.SeverityFlag},
		},
		{
			name: "meal above advisory",
			f:    feature.Features{Amount: 250, Category: entity.CategoryMeals, ReceiptAttached: true},
			want: []entity.Severity{entity.SeverityWarning},
		},
		{
			name: "receipt cross check",
			f: feature.Features{Amount: 100, Category: entity.CategoryTravel, ReceiptAttached: true,
				OCR: &entity.OCRSignals{Success: true, AmountMismatch: 0.6, MerchantMismatch: true, DateGapDays: 40}},
			want: []entity.Severity{entity.SeverityFlag, entity.SeverityWarning, entity.SeverityWarning},
		},
		{
			name: "failed extraction is ignored",
			f: feature.Features{Amount: 100, Category: entity.CategoryTravel, ReceiptAttached: true,
				OCR: &entity.OCRSignals{Success: false, AmountMismatch: 0.9}},
			want: []entity.Severity{},
		},
	}

	e := newEngine(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Check(context.Background(), tt.f, "EMP-001")
			assert.Equal(t, tt.want, severities(res))
			assert.Equal(t, res.BlockingCount == 0, res.Passed)
		})
	}
}

func TestCheck_PassedIffNoBlocks(t *testing.T) {
	e := newEngine(nil, nil)

	res := e.Check(context.Background(), feature.Features{Amount: 12000, Category: entity.CategoryEquipment}, "EMP-001")
	assert.False(t, res.Passed)
	assert.Equal(t, 1, res.BlockingCount)
	assert.Equal(t, 1, res.FlagCount)
	assert.Equal(t, "Blocked by 1 policy violation(s)", res.Summary)

	res = e.Check(context.Background(), feature.Features{Amount: 650, Category: entity.CategoryMeals, ReceiptAttached: true}, "EMP-001")
	assert.True(t, res.Passed)
	assert.Equal(t, "All policies passed", res.Summary)
	flag, ok := res.FirstFlag()
	require.True(t, ok)
	assert.Equal(t, "Meals Limit", flag.Policy)
}

func TestCheck_MonthlyLimit(t *testing.T) {
	emps := fakeEmployees{"EMP-001": {EmployeeID: "EMP-001", MonthlyLimit: 3000}}
	earlier := now.Add(-48 * time.Hour)
	lastMonth := time.Date(2026, 2, 27, 10, 0, 0, 0, time.UTC)

	h := &fakeHistory{expenses: []pastExpense{
		{employeeID: "EMP-001", amount: 2000, category: entity.CategoryTravel, status: workflow.StateApproved, submittedAt: earlier},
		{employeeID: "EMP-001", amount: 5000, category: entity.CategoryTravel, status: workflow.StateRejected, submittedAt: earlier},
		{employeeID: "EMP-001", amount: 5000, category: entity.CategoryTravel, status: workflow.StateFlagged, submittedAt: earlier},
		{employeeID: "EMP-001", amount: 9000, category: entity.CategoryTravel, status: workflow.StatePaid, submittedAt: lastMonth},
	}}
	e := newEngine(h, emps)

	res := e.Check(context.Background(), feature.Features{Amount: 500, Category: entity.CategorySoftware, ReceiptAttached: true}, "EMP-001")
	assert.Empty(t, res.Violations, "rejected, flagged and last month's expenses must not count")

	res = e.Check(context.Background(), feature.Features{Amount: 1500, Category: entity.CategorySoftware, ReceiptAttached: true}, "EMP-001")
	require.Len(t, res.Violations, 1)
	assert.Equal(t, entity.SeverityFlag, res.Violations[0].Severity)

	res = e.Check(context.Background(), feature.Features{Amount: 2600, Category: entity.CategorySoftware, ReceiptAttached: true}, "EMP-001")
	require.Len(t, res.Violations, 1)
	assert.Equal(t, entity.SeverityBlock, res.Violations[0].Severity)
	assert.False(t, res.Passed)
}

func TestCheck_MonthlyLimitDefaultsForUnknownEmployee(t *testing.T) {
	e := newEngine(&fakeHistory{}, fakeEmployees{})

	res := e.Check(context.Background(), feature.Features{Amount: 9000, Category: entity.CategoryEquipment, ReceiptAttached: true}, "EMP-404")
	assert.Empty(t, res.Violations)

	res = e.Check(context.Background(), feature.Features{Amount: 10500, Category: entity.CategoryEquipment, ReceiptAttached: true}, "EMP-404")
	assert.Equal(t, []entity.Severity{entity.SeverityFlag, entity.SeverityFlag}, severities(res))
}

func TestCheck_DuplicatesOnlyWarn(t *testing.T) {
	recent := now.Add(-2 * time.Hour)
	dup := pastExpense{employeeID: "EMP-001", amount: 45, category: entity.CategoryMeals, merchant: "Chipotle", status: workflow.StateAutoApproved, submittedAt: recent}

	h := &fakeHistory{expenses: []pastExpense{dup, dup, dup, dup,
		{employeeID: "EMP-001", amount: 45, category: entity.CategoryMeals, merchant: "Chipotle", status: workflow.StateRejected, submittedAt: recent},
		{employeeID: "EMP-001", amount: 45, category: entity.CategoryMeals, merchant: "Chipotle", status: workflow.StateAutoApproved, submittedAt: now.Add(-30 * time.Hour)},
	}}
	e := newEngine(h, fakeEmployees{})

	res := e.Check(context.Background(), feature.Features{Amount: 45, Category: entity.CategoryMeals, Merchant: "Chipotle", ReceiptAttached: true}, "EMP-001")
	require.Len(t, res.Violations, 1)
	assert.Equal(t, entity.SeverityWarning, res.Violations[0].Severity)
	assert.Contains(t, res.Violations[0].Message, "Found 4 similar")
	assert.True(t, res.Passed)
}

func TestCheck_HistoryErrorSkipsChecks(t *testing.T) {
	e := newEngine(&fakeHistory{err: errors.New("database is locked")}, fakeEmployees{})

	res := e.Check(context.Background(), feature.Features{Amount: 45000, Category: entity.CategoryEquipment, ReceiptAttached: true}, "EMP-001")
	assert.Equal(t, []entity.Severity{entity.SeverityBlock}, severities(res))
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Client Entertainment", titleCase("client entertainment"))
	assert.Equal(t, "Meals", titleCase("meals"))
}
