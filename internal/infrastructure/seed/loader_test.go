package seed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/domain/entity"
)

const sample = `
employees:
  - employee_id: EMP-010
    name: Mike Torres
    email: mike.torres@company.com
    department: Engineering
    role: manager
    monthly_limit: 8000
  - employee_id: EMP-001
    name: Sarah Chen
    email: sarah.chen@company.com
    department: Engineering
    role: employee
    reports_to: EMP-010
    monthly_limit: 3000
    wallet: "0x1111111111111111111111111111111111111111"
approval_rules:
  - id: 1
    name: Standard
    amount_min: 0
    amount_max: 1000
    required_approvers: [direct_manager]
    priority: 100
  - id: 2
    name: Retired
    required_approvers: [cfo]
    priority: 1
    active: false
`

type fakeEmployees struct {
	stored   []*entity.Employee
	upserted []string
	err      error
}

func (f *fakeEmployees) GetByID(ctx context.Context, id string) (*entity.Employee, error) {
	return nil, nil
}

func (f *fakeEmployees) FirstByRole(ctx context.Context, role entity.Role) (*entity.Employee, error) {
	return nil, nil
}

func (f *fakeEmployees) List(ctx context.Context) ([]*entity.Employee, error) {
	return f.stored, nil
}

func (f *fakeEmployees) Upsert(ctx context.Context, e *entity.Employee) error {
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, e.EmployeeID)
	return nil
}

type fakeRules struct {
	upserted []*entity.ApprovalRule
}

func (f *fakeRules) ListActive(ctx context.Context) ([]*entity.ApprovalRule, error) {
	return nil, nil
}

func (f *fakeRules) Upsert(ctx context.Context, r *entity.ApprovalRule) error {
	f.upserted = append(f.upserted, r)
	return nil
}

type fakeTx struct{ calls int }

func (f *fakeTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

func TestParse(t *testing.T) {
	ds, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, ds.Employees, 2)
	require.Len(t, ds.Rules, 2)

	assert.Equal(t, "EMP-010", ds.Employees[1].ManagerID())
	assert.True(t, ds.Rules[0].ApprovalRule.Active)
	assert.False(t, ds.Rules[1].ApprovalRule.Active)
	assert.Equal(t, entity.ApprovalSequential, ds.Rules[0].ApprovalType)
	assert.Equal(t, []entity.ApproverRole{entity.ApproverDirectManager}, ds.Rules[0].RequiredApprovers)
	require.NotNil(t, ds.Rules[0].AmountMax)
	assert.Equal(t, 1000.0, *ds.Rules[0].AmountMax)
	assert.Nil(t, ds.Rules[1].AmountMin)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown key", "employees:\n  - employee_id: A\n    nickname: x\n"},
		{"bad role", "employees:\n  - {employee_id: A, name: A, email: a@x.io, department: D, role: intern}\n"},
		{"bad email", "employees:\n  - {employee_id: A, name: A, email: nope, department: D, role: manager}\n"},
		{"bad wallet", "employees:\n  - {employee_id: A, name: A, email: a@x.io, department: D, role: manager, wallet: GABC}\n"},
		{"duplicate employee", "employees:\n  - {employee_id: A, name: A, email: a@x.io, department: D, role: manager}\n  - {employee_id: A, name: B, email: b@x.io, department: D, role: manager}\n"},
		{"rule without approvers", "approval_rules:\n  - {id: 1, name: R, required_approvers: []}\n"},
		{"rule with bad category", "approval_rules:\n  - {id: 1, name: R, category: yachts, required_approvers: [cfo]}\n"},
		{"duplicate rule", "approval_rules:\n  - {id: 1, name: R, required_approvers: [cfo]}\n  - {id: 1, name: S, required_approvers: [vp]}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestParse_Cycle(t *testing.T) {
	data := `
employees:
  - {employee_id: A, name: A, email: a@x.io, department: D, role: manager, reports_to: B}
  - {employee_id: B, name: B, email: b@x.io, department: D, role: manager, reports_to: A}
`
	_, err := Parse([]byte(data))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReportingCycle))
	assert.Contains(t, err.Error(), "A -> B -> A")
}

func TestParse_ManagerInAnotherFile(t *testing.T) {
	ds, err := Parse([]byte(`
employees:
  - {employee_id: EMP-001, name: Sarah Chen, email: s@x.io, department: D, role: employee, reports_to: EMP-010}
`))
	require.NoError(t, err)
	require.Len(t, ds.Employees, 1)
	assert.Equal(t, "EMP-010", ds.Employees[0].ManagerID())
}

func TestLoader_Apply(t *testing.T) {
	emps := &fakeEmployees{}
	rules := &fakeRules{}
	tx := &fakeTx{}
	l := NewLoader(emps, rules, tx, zap.NewNop())

	ds, err := Parse([]byte(sample))
	require.NoError(t, err)

	res, err := l.Apply(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, Result{Employees: 2, Rules: 2}, res)
	assert.Equal(t, 1, tx.calls)
	assert.Equal(t, []string{"EMP-010", "EMP-001"}, emps.upserted)
	require.Len(t, rules.upserted, 2)
	assert.Equal(t, "Retired", rules.upserted[1].Name)
	assert.False(t, rules.upserted[1].Active)
}

func TestLoader_Apply_CycleThroughStoredEmployees(t *testing.T) {
	// the stored manager reports to the seeded employee
	mgr := "EMP-001"
	emps := &fakeEmployees{stored: []*entity.Employee{
		{EmployeeID: "EMP-010", Name: "Mike Torres", Role: entity.RoleManager, ReportsTo: &mgr},
	}}
	l := NewLoader(emps, &fakeRules{}, &fakeTx{}, zap.NewNop())

	ds, err := Parse([]byte(`
employees:
  - {employee_id: EMP-001, name: Sarah Chen, email: s@x.io, department: D, role: employee, reports_to: EMP-010}
`))
	require.NoError(t, err)

	_, err = l.Apply(context.Background(), ds)
	assert.ErrorIs(t, err, ErrReportingCycle)
	assert.Empty(t, emps.upserted)
}

func TestLoader_Apply_UpsertError(t *testing.T) {
	emps := &fakeEmployees{err: errors.New("disk I/O error")}
	l := NewLoader(emps, &fakeRules{}, &fakeTx{}, zap.NewNop())

	ds, err := Parse([]byte(sample))
	require.NoError(t, err)

	_, err = l.Apply(context.Background(), ds)
	assert.Error(t, err)
}

func TestLoader_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	l := NewLoader(&fakeEmployees{}, &fakeRules{}, &fakeTx{}, zap.NewNop())
	res, err := l.LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Employees)

	_, err = l.LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_ShippedSeedFile(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "..", "configs", "seed.yaml"))
	require.NoError(t, err)

	ds, err := Parse(data)
	require.NoError(t, err)
	assert.Len(t, ds.Employees, 8)
	assert.Len(t, ds.Rules, 4)
	for _, r := range ds.Rules {
		assert.True(t, r.ApprovalRule.Active, r.Name)
	}
}
