package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/approval"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/feature"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
	"github.com/garyjia/expense-agent/pkg/utils"
)

func testLogger() Logger {
	return utils.NewKVLogger(zap.NewNop())
}

type statusUpdate struct {
	expenseID string
	from, to  workflow.State
	actor     string
	reason    string
}

type mockExpenseRepo struct {
	mu sync.Mutex

	createFunc       func(ctx context.Context, e *entity.Expense) error
	getByIDFunc      func(ctx context.Context, id string) (*entity.Expense, error)
	listFunc         func(ctx context.Context, f entity.ExpenseFilter) ([]*entity.Expense, error)
	updateStatusFunc func(ctx context.Context, id string, from, to workflow.State, actor, reason string) error
	markPaidFunc     func(ctx context.Context, id string, from workflow.State, txHash string, paidAt time.Time) error
	listUnpaidFunc   func(ctx context.Context, limit int) ([]*entity.Expense, error)
	historyFunc      func(ctx context.Context, employeeID string, category entity.Category, merchant string, monthStart time.Time) (*feature.History, error)
	monthlySpendFunc func(ctx context.Context, employeeID string, since time.Time, statuses []workflow.State) (float64, error)
	totalsFunc       func(ctx context.Context, employeeID string) (*entity.EmployeeTotals, error)

	created  []*entity.Expense
	updates  []statusUpdate
	paid     map[string]string
	claims   map[string]bool
	released []string
}

func (m *mockExpenseRepo) Create(ctx context.Context, e *entity.Expense) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, e)
	return nil
}

func (m *mockExpenseRepo) GetByID(ctx context.Context, id string) (*entity.Expense, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockExpenseRepo) List(ctx context.Context, f entity.ExpenseFilter) ([]*entity.Expense, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, f)
	}
	return nil, nil
}

func (m *mockExpenseRepo) UpdateStatus(ctx context.Context, id string, from, to workflow.State, actor, reason string) error {
	if m.updateStatusFunc != nil {
		if err := m.updateStatusFunc(ctx, id, from, to, actor, reason); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, statusUpdate{expenseID: id, from: from, to: to, actor: actor, reason: reason})
	return nil
}

func (m *mockExpenseRepo) MarkPaid(ctx context.Context, id string, from workflow.State, txHash string, paidAt time.Time) error {
	if m.markPaidFunc != nil {
		if err := m.markPaidFunc(ctx, id, from, txHash, paidAt); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paid == nil {
		m.paid = make(map[string]string)
	}
	m.paid[id] = txHash
	delete(m.claims, id)
	return nil
}

func (m *mockExpenseRepo) ClaimPayment(ctx context.Context, id string, from workflow.State, claimedAt, staleBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.paid[id]; done || m.claims[id] {
		return port.ErrConflict
	}
	if m.claims == nil {
		m.claims = make(map[string]bool)
	}
	m.claims[id] = true
	return nil
}

func (m *mockExpenseRepo) ReleasePayment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, id)
	m.released = append(m.released, id)
	return nil
}

func (m *mockExpenseRepo) SetProgress(ctx context.Context, id string, current, total int) error {
	return nil
}

func (m *mockExpenseRepo) ListUnpaid(ctx context.Context, limit int, staleBefore time.Time) ([]*entity.Expense, error) {
	if m.listUnpaidFunc != nil {
		return m.listUnpaidFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockExpenseRepo) HistoryFor(ctx context.Context, employeeID string, category entity.Category, merchant string, monthStart time.Time) (*feature.History, error) {
	if m.historyFunc != nil {
		return m.historyFunc(ctx, employeeID, category, merchant, monthStart)
	}
	return &feature.History{}, nil
}

func (m *mockExpenseRepo) MonthlySpend(ctx context.Context, employeeID string, since time.Time, statuses []workflow.State) (float64, error) {
	if m.monthlySpendFunc != nil {
		return m.monthlySpendFunc(ctx, employeeID, since, statuses)
	}
	return 0, nil
}

func (m *mockExpenseRepo) TotalsFor(ctx context.Context, employeeID string) (*entity.EmployeeTotals, error) {
	if m.totalsFunc != nil {
		return m.totalsFunc(ctx, employeeID)
	}
	return &entity.EmployeeTotals{}, nil
}

func (m *mockExpenseRepo) CountDuplicates(ctx context.Context, employeeID string, amount float64, category entity.Category, merchant string, since time.Time, excluded []workflow.State) (int, error) {
	return 0, nil
}

func (m *mockExpenseRepo) Stats(ctx context.Context) (*entity.ExpenseStats, error) {
	return &entity.ExpenseStats{}, nil
}

type mockEmployeeRepo struct {
	employees map[string]*entity.Employee
	err       error
}

func (m *mockEmployeeRepo) GetByID(ctx context.Context, id string) (*entity.Employee, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.employees[id], nil
}

func (m *mockEmployeeRepo) FirstByRole(ctx context.Context, role entity.Role) (*entity.Employee, error) {
	return nil, nil
}

func (m *mockEmployeeRepo) List(ctx context.Context) ([]*entity.Employee, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]*entity.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

func (m *mockEmployeeRepo) Upsert(ctx context.Context, e *entity.Employee) error {
	return nil
}

type mockStepRepo struct {
	createBatchFunc func(ctx context.Context, steps []*entity.ApprovalStep) error
	listFunc        func(ctx context.Context, expenseID string) ([]*entity.ApprovalStep, error)
	pendingFunc     func(ctx context.Context, approverID string) ([]*entity.ApprovalStep, error)

	batches [][]*entity.ApprovalStep
}

func (m *mockStepRepo) CreateBatch(ctx context.Context, steps []*entity.ApprovalStep) error {
	if m.createBatchFunc != nil {
		return m.createBatchFunc(ctx, steps)
	}
	for i, s := range steps {
		s.ID = int64(i + 1)
	}
	m.batches = append(m.batches, steps)
	return nil
}

func (m *mockStepRepo) Create(ctx context.Context, step *entity.ApprovalStep) error {
	return nil
}

func (m *mockStepRepo) ListByExpense(ctx context.Context, expenseID string) ([]*entity.ApprovalStep, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, expenseID)
	}
	return nil, nil
}

func (m *mockStepRepo) FindPending(ctx context.Context, expenseID, approverID string) (*entity.ApprovalStep, error) {
	return nil, nil
}

func (m *mockStepRepo) ListPendingByApprover(ctx context.Context, approverID string) ([]*entity.ApprovalStep, error) {
	if m.pendingFunc != nil {
		return m.pendingFunc(ctx, approverID)
	}
	return nil, nil
}

func (m *mockStepRepo) Transition(ctx context.Context, stepID int64, from, to entity.StepStatus, comments string, actedAt *time.Time) error {
	return nil
}

func (m *mockStepRepo) ActivateNext(ctx context.Context, expenseID string, order int) (*entity.ApprovalStep, error) {
	return nil, nil
}

func (m *mockStepRepo) SkipAfter(ctx context.Context, expenseID string, order int) (int64, error) {
	return 0, nil
}

func (m *mockStepRepo) ShiftAfter(ctx context.Context, expenseID string, order int) error {
	return nil
}

type mockAuditRepo struct {
	mu      sync.Mutex
	entries []*entity.AuditLogEntry
	err     error
}

func (m *mockAuditRepo) Create(ctx context.Context, e *entity.AuditLogEntry) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockAuditRepo) List(ctx context.Context, f entity.AuditFilter) ([]*entity.AuditLogEntry, error) {
	return m.entries, nil
}

func (m *mockAuditRepo) Stats(ctx context.Context) (*entity.AuditStats, error) {
	return &entity.AuditStats{TotalEntries: len(m.entries)}, nil
}

func (m *mockAuditRepo) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

type mockTxManager struct {
	calls int
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	return fn(ctx)
}

type mockPaymentClient struct {
	mu      sync.Mutex
	fail    map[string]error
	sent    []port.PaymentRequest
	batches int
}

func (m *mockPaymentClient) result(req port.PaymentRequest, slot int) port.PaymentResult {
	if err := m.fail[req.ExpenseID]; err != nil {
		return port.PaymentResult{ExpenseID: req.ExpenseID, Slot: slot, Err: err}
	}
	return port.PaymentResult{ExpenseID: req.ExpenseID, TxHash: "0xtx-" + req.ExpenseID, Slot: slot, Mode: "simulation"}
}

func (m *mockPaymentClient) Send(ctx context.Context, req port.PaymentRequest) port.PaymentResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, req)
	return m.result(req, 0)
}

func (m *mockPaymentClient) SendBatch(ctx context.Context, reqs []port.PaymentRequest) []port.PaymentResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	out := make([]port.PaymentResult, len(reqs))
	for i, req := range reqs {
		m.sent = append(m.sent, req)
		out[i] = m.result(req, i+1)
	}
	return out
}

type mockPaymentService struct {
	payFunc func(ctx context.Context, expenses []*entity.Expense) []PaymentOutcome
	paid    [][]string
}

func (m *mockPaymentService) Pay(ctx context.Context, expenses []*entity.Expense) []PaymentOutcome {
	ids := make([]string, len(expenses))
	for i, e := range expenses {
		ids[i] = e.ExpenseID
	}
	m.paid = append(m.paid, ids)
	if m.payFunc != nil {
		return m.payFunc(ctx, expenses)
	}
	out := make([]PaymentOutcome, len(expenses))
	for i, e := range expenses {
		out[i] = PaymentOutcome{ExpenseID: e.ExpenseID, Amount: e.Amount, Paid: true, TxHash: "0xtx-" + e.ExpenseID}
	}
	return out
}

func (m *mockPaymentService) RetryUnpaid(ctx context.Context, limit int) (int, error) {
	return 0, nil
}

type mockNotifications struct {
	notified []*entity.ApprovalStep
}

func (m *mockNotifications) NotifyStep(ctx context.Context, expense *entity.Expense, step *entity.ApprovalStep) {
	m.notified = append(m.notified, step)
}

type mockNotifier struct {
	err   error
	calls []string
}

func (m *mockNotifier) NotifyPendingStep(ctx context.Context, approver *entity.Employee, expense *entity.Expense, step *entity.ApprovalStep) error {
	m.calls = append(m.calls, approver.EmployeeID)
	return m.err
}

type mockEvaluator struct {
	decision *approval.Decision
	requests []approval.Request
}

func (m *mockEvaluator) Evaluate(ctx context.Context, req approval.Request) *approval.Decision {
	m.requests = append(m.requests, req)
	for _, s := range m.decision.Steps {
		s.ExpenseID = req.ExpenseID
	}
	return m.decision
}

// mockChain calls done for terminal outcomes the way the chain service does
type mockChain struct {
	result  *approval.ActionResult
	err     error
	doneErr error
}

func (m *mockChain) ActThen(ctx context.Context, expenseID, approverID string, action approval.Action, comments string, done approval.Completion) (*approval.ActionResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	terminal := m.result.Outcome == approval.OutcomeFullyApproved || m.result.Outcome == approval.OutcomeRejected
	if terminal && done != nil {
		if err := done(ctx, m.result); err != nil {
			m.doneErr = err
			return nil, err
		}
	}
	return m.result, nil
}

func strPtr(s string) *string { return &s }
