package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/feature"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
	"github.com/garyjia/expense-agent/internal/policy"
	"github.com/garyjia/expense-agent/migrations"
	"github.com/garyjia/expense-agent/pkg/database"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:            filepath.Join(t.TempDir(), "expenses.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db, zap.NewNop()).Run(migrations.FS))
	return db
}

func storedExpense(id string, amount float64, status workflow.State, at time.Time) *entity.Expense {
	return &entity.Expense{
		ExpenseID:   id,
		EmployeeID:  "EMP-001",
		Amount:      amount,
		Currency:    entity.DefaultCurrency,
		Category:    entity.CategorySoftware,
		Merchant:    "Atlassian",
		Description: "Team licenses",
		Status:      status,
		SubmittedAt: at,
	}
}

func TestSQLite_RejectedExpenseLeavesMonthlyBudget(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	expenses := NewExpenseRepository(db, zap.NewNop())
	employees := NewEmployeeRepository(db, zap.NewNop())

	require.NoError(t, employees.Upsert(ctx, &entity.Employee{
		EmployeeID: "EMP-001", Name: "Sarah Chen", Email: "sarah@example.com",
		Department: "Engineering", Role: entity.RoleEmployee, MonthlyLimit: 3000,
	}))

	now := time.Date(2026, 3, 18, 14, 0, 0, 0, time.UTC)
	monthStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, expenses.Create(ctx, storedExpense("EXP-1", 1200, workflow.StateApproved, time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))))
	require.NoError(t, expenses.Create(ctx, storedExpense("EXP-2", 2500, workflow.StatePendingApproval, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))))
	require.NoError(t, expenses.UpdateStatus(ctx, "EXP-2", workflow.StatePendingApproval, workflow.StateRejected, "EMP-010", "Not in budget"))
	require.NoError(t, expenses.Create(ctx, storedExpense("EXP-3", 900, workflow.StatePaid, time.Date(2026, 2, 27, 16, 0, 0, 0, time.UTC))))
	require.NoError(t, expenses.Create(ctx, storedExpense("EXP-4", 400, workflow.StateFlagged, time.Date(2026, 3, 12, 11, 0, 0, 0, time.UTC))))

	spent, err := expenses.MonthlySpend(ctx, "EMP-001", monthStart, workflow.BudgetStates())
	require.NoError(t, err)
	assert.Equal(t, 1200.0, spent, "rejected, flagged and last month's expenses are excluded")

	h, err := expenses.HistoryFor(ctx, "EMP-001", entity.CategorySoftware, "Atlassian", monthStart)
	require.NoError(t, err)
	assert.Equal(t, feature.History{
		Count:         3,
		TotalAmount:   4100,
		BudgetSpent:   1200,
		AllTime:       4,
		SameCategory:  4,
		SameMerchant:  4,
		LastExpenseAt: h.LastExpenseAt,
	}, *h)
	require.NotNil(t, h.LastExpenseAt)
	assert.True(t, h.LastExpenseAt.Equal(time.Date(2026, 3, 12, 11, 0, 0, 0, time.UTC)))

	totals, err := expenses.TotalsFor(ctx, "EMP-001")
	require.NoError(t, err)
	assert.Equal(t, 4, totals.Count)
	assert.Equal(t, 5000.0, totals.TotalAmount)
	assert.Equal(t, 2, totals.Flagged, "rejected and flagged")

	// the next claim fits the budget only because the rejected one is ignored
	engine := policy.NewEngine(policy.DefaultLimits(), expenses, employees, zap.NewNop(),
		policy.WithClock(func() time.Time { return now }))
	res := engine.Check(ctx, feature.Features{
		Amount: 1500, Category: entity.CategorySoftware, Merchant: "GitHub", ReceiptAttached: true,
	}, "EMP-001")
	assert.Empty(t, res.Violations)
	assert.True(t, res.Passed)
}

func TestSQLite_PaymentClaim(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	expenses := NewExpenseRepository(db, zap.NewNop())

	now := time.Date(2026, 3, 18, 14, 0, 0, 0, time.UTC)
	lease := 10 * time.Minute
	require.NoError(t, expenses.Create(ctx, storedExpense("EXP-1", 45, workflow.StateAutoApproved, now.Add(-time.Hour))))
	require.NoError(t, expenses.Create(ctx, storedExpense("EXP-2", 60, workflow.StateApproved, now.Add(-time.Hour))))

	unpaid, err := expenses.ListUnpaid(ctx, 10, now.Add(-lease))
	require.NoError(t, err)
	assert.Len(t, unpaid, 2)

	require.NoError(t, expenses.ClaimPayment(ctx, "EXP-1", workflow.StateAutoApproved, now, now.Add(-lease)))
	err = expenses.ClaimPayment(ctx, "EXP-1", workflow.StateAutoApproved, now.Add(time.Minute), now.Add(time.Minute-lease))
	assert.ErrorIs(t, err, port.ErrConflict, "a live claim blocks a second payer")

	unpaid, err = expenses.ListUnpaid(ctx, 10, now.Add(-lease))
	require.NoError(t, err)
	require.Len(t, unpaid, 1)
	assert.Equal(t, "EXP-2", unpaid[0].ExpenseID)

	// an abandoned claim can be taken over once the lease ran out
	later := now.Add(lease + time.Minute)
	require.NoError(t, expenses.ClaimPayment(ctx, "EXP-1", workflow.StateAutoApproved, later, later.Add(-lease)))

	require.NoError(t, expenses.MarkPaid(ctx, "EXP-1", workflow.StateAutoApproved, "0xabc", later))
	err = expenses.ClaimPayment(ctx, "EXP-1", workflow.StateAutoApproved, later, later.Add(-lease))
	assert.ErrorIs(t, err, port.ErrConflict, "a paid expense cannot be claimed")

	require.NoError(t, expenses.ClaimPayment(ctx, "EXP-2", workflow.StateApproved, now, now.Add(-lease)))
	require.NoError(t, expenses.ReleasePayment(ctx, "EXP-2"))
	require.NoError(t, expenses.ClaimPayment(ctx, "EXP-2", workflow.StateApproved, now, now.Add(-lease)))
}
