package approval

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
)

// memStore keeps expenses, steps and audit entries in memory
type memStore struct {
	mu              sync.Mutex
	expenses        map[string]*entity.Expense
	steps           []*entity.ApprovalStep
	audit           []*entity.AuditLogEntry
	nextID          int64
	transitionError error
}

func newMemStore() *memStore {
	return &memStore{expenses: make(map[string]*entity.Expense)}
}

func (m *memStore) addStep(step *entity.ApprovalStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	step.ID = m.nextID
	cp := *step
	m.steps = append(m.steps, &cp)
}

// seed stores a pending_approval expense whose chain is held by approvers in order
func (m *memStore) seed(expenseID string, approvers ...string) {
	m.expenses[expenseID] = &entity.Expense{
		ExpenseID:   expenseID,
		EmployeeID:  "EMP-001",
		Amount:      4200,
		Status:      workflow.StatePendingApproval,
		CurrentStep: 1,
		TotalSteps:  len(approvers),
	}
	for i, a := range approvers {
		id := a
		status := entity.StepWaiting
		if i == 0 {
			status = entity.StepPending
		}
		m.addStep(&entity.ApprovalStep{
			ExpenseID:    expenseID,
			StepOrder:    i + 1,
			ApproverRole: entity.ApproverDirectManager,
			ApproverID:   &id,
			ApproverName: a,
			Status:       status,
		})
	}
}

func (m *memStore) chain(expenseID string) []entity.ApprovalStep {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.ApprovalStep
	for _, s := range m.steps {
		if s.ExpenseID == expenseID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out
}

// Methods the chain service never calls are left to the embedded nil interfaces.
type expenseRepo struct {
	port.ExpenseRepository
	s *memStore
}

func (r expenseRepo) GetByID(ctx context.Context, id string) (*entity.Expense, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.expenses[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r expenseRepo) SetProgress(ctx context.Context, id string, current, total int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.expenses[id].CurrentStep = current
	r.s.expenses[id].TotalSteps = total
	return nil
}

type stepRepo struct {
	port.ApprovalStepRepository
	s *memStore
}

func (r stepRepo) Create(ctx context.Context, step *entity.ApprovalStep) error {
	r.s.addStep(step)
	return nil
}

func (r stepRepo) FindPending(ctx context.Context, expenseID, approverID string) (*entity.ApprovalStep, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, s := range r.s.steps {
		if s.ExpenseID == expenseID && s.Status == entity.StepPending && s.ApproverID != nil && *s.ApproverID == approverID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r stepRepo) Transition(ctx context.Context, id int64, from, to entity.StepStatus, comments string, at *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.transitionError != nil {
		return r.s.transitionError
	}
	for _, s := range r.s.steps {
		if s.ID == id {
			if s.Status != from {
				return port.ErrConflict
			}
			s.Status = to
			s.Comments = comments
			s.ActedAt = at
			return nil
		}
	}
	return port.ErrNotFound
}

func (r stepRepo) ActivateNext(ctx context.Context, expenseID string, order int) (*entity.ApprovalStep, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, s := range r.s.steps {
		if s.ExpenseID == expenseID && s.StepOrder == order && s.Status == entity.StepWaiting {
			s.Status = entity.StepPending
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r stepRepo) SkipAfter(ctx context.Context, expenseID string, order int) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, s := range r.s.steps {
		if s.ExpenseID == expenseID && s.StepOrder > order && (s.Status == entity.StepWaiting || s.Status == entity.StepPending) {
			s.Status = entity.StepSkipped
			n++
		}
	}
	return n, nil
}

func (r stepRepo) ShiftAfter(ctx context.Context, expenseID string, order int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, s := range r.s.steps {
		if s.ExpenseID == expenseID && s.StepOrder > order {
			s.StepOrder++
		}
	}
	return nil
}

type auditRepo struct {
	port.AuditLogRepository
	s *memStore
}

func (r auditRepo) Create(ctx context.Context, entry *entity.AuditLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audit = append(r.s.audit, entry)
	return nil
}

type mockTxManager struct{}

func (mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newChainService(store *memStore) *ChainService {
	return NewChainService(expenseRepo{s: store}, stepRepo{s: store}, auditRepo{s: store}, mockTxManager{}, company(), zap.NewNop())
}

func statuses(steps []entity.ApprovalStep) []entity.StepStatus {
	out := make([]entity.StepStatus, len(steps))
	for i, s := range steps {
		out[i] = s.Status
	}
	return out
}

func TestApproveThenReject(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seed("EXP-C", "EMP-010", "EMP-050")
	svc := newChainService(store)

	res, err := svc.ApproveStep(ctx, "EXP-C", "EMP-010", "looks fine")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNextStepActivated, res.Outcome)
	require.NotNil(t, res.Next)
	assert.Equal(t, "EMP-050", *res.Next.ApproverID)
	assert.Equal(t, 2, res.CurrentStep)
	assert.Equal(t, 2, res.TotalSteps)
	assert.Equal(t, []entity.StepStatus{entity.StepApproved, entity.StepPending}, statuses(store.chain("EXP-C")))
	assert.Equal(t, 2, store.expenses["EXP-C"].CurrentStep)

	res, err = svc.RejectStep(ctx, "EXP-C", "EMP-050", "not budgeted")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, []entity.StepStatus{entity.StepApproved, entity.StepRejected}, statuses(store.chain("EXP-C")))

	require.Len(t, store.audit, 2)
	assert.Equal(t, entity.AuditActionStepApproved, store.audit[0].Action)
	assert.Equal(t, "EMP-010", store.audit[0].Actor)
	assert.Contains(t, store.audit[0].Details, `"next_approver":"EMP-050"`)
	assert.Equal(t, entity.AuditActionStepRejected, store.audit[1].Action)
}

func TestApproveLastStepIsFullyApproved(t *testing.T) {
	store := newMemStore()
	store.seed("EXP-1", "EMP-010")
	svc := newChainService(store)

	res, err := svc.ApproveStep(context.Background(), "EXP-1", "EMP-010", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFullyApproved, res.Outcome)
	assert.Nil(t, res.Next)
}

func TestRejectCascadesSkipped(t *testing.T) {
	store := newMemStore()
	store.seed("EXP-2", "EMP-010", "EMP-050", "EMP-040")
	svc := newChainService(store)

	_, err := svc.RejectStep(context.Background(), "EXP-2", "EMP-010", "duplicate claim")
	require.NoError(t, err)

	assert.Equal(t,
		[]entity.StepStatus{entity.StepRejected, entity.StepSkipped, entity.StepSkipped},
		statuses(store.chain("EXP-2")))
	assert.Contains(t, store.audit[0].Details, `"skipped_steps":2`)
}

func TestEscalateInsertsManagerStep(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seed("EXP-3", "EMP-010", "EMP-050")
	svc := newChainService(store)

	res, err := svc.EscalateStep(ctx, "EXP-3", "EMP-010", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, res.Outcome)
	assert.Equal(t, DefaultEscalationComment, res.Step.Comments)
	assert.Equal(t, 3, res.TotalSteps)

	chain := store.chain("EXP-3")
	require.Len(t, chain, 3)
	assert.Equal(t, entity.StepEscalated, chain[0].Status)
	assert.Equal(t, entity.ApproverEscalatedManager, chain[1].ApproverRole)
	assert.Equal(t, "EMP-030", *chain[1].ApproverID)
	assert.Equal(t, entity.StepPending, chain[1].Status)
	assert.Equal(t, 2, chain[1].StepOrder)
	assert.Equal(t, "EMP-050", *chain[2].ApproverID)
	assert.Equal(t, 3, chain[2].StepOrder)
	assert.Equal(t, entity.StepWaiting, chain[2].Status)
	assert.Equal(t, 3, store.expenses["EXP-3"].TotalSteps)

	_, err = svc.EscalateStep(ctx, "EXP-3", "EMP-010", "")
	assert.ErrorIs(t, err, ErrNoPendingStep)

	// the escalation target can carry on with the chain
	res, err = svc.ApproveStep(ctx, "EXP-3", "EMP-030", "ok")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNextStepActivated, res.Outcome)
	assert.Equal(t, "EMP-050", *res.Next.ApproverID)
}

func TestEscalateWithoutManagerChangesNothing(t *testing.T) {
	store := newMemStore()
	store.seed("EXP-4", "EMP-040", "EMP-050")
	svc := newChainService(store)

	_, err := svc.EscalateStep(context.Background(), "EXP-4", "EMP-040", "")
	assert.ErrorIs(t, err, ErrNoManager)

	chain := store.chain("EXP-4")
	assert.Equal(t, []entity.StepStatus{entity.StepPending, entity.StepWaiting}, statuses(chain))
	assert.Empty(t, chain[0].Comments)
	assert.Empty(t, store.audit)
	assert.Equal(t, 2, store.expenses["EXP-4"].TotalSteps)
}

func TestActionPreconditions(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seed("EXP-5", "EMP-010", "EMP-050")
	svc := newChainService(store)

	_, err := svc.ApproveStep(ctx, "EXP-5", "EMP-050", "")
	assert.ErrorIs(t, err, ErrNoPendingStep, "waiting steps cannot be acted on")

	_, err = svc.ApproveStep(ctx, "EXP-404", "EMP-010", "")
	assert.ErrorIs(t, err, port.ErrNotFound)

	store.expenses["EXP-5"].Status = workflow.StateManagerReview
	_, err = svc.ApproveStep(ctx, "EXP-5", "EMP-010", "")
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.Equal(t, entity.StepPending, store.chain("EXP-5")[0].Status)

	_, err = svc.Act(ctx, "EXP-5", "EMP-010", Action("delegate"), "")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestTransitionConflict(t *testing.T) {
	store := newMemStore()
	store.seed("EXP-6", "EMP-010", "EMP-050")
	store.transitionError = port.ErrConflict
	svc := newChainService(store)

	_, err := svc.RejectStep(context.Background(), "EXP-6", "EMP-010", "")
	assert.ErrorIs(t, err, ErrStepConflict)

	store.transitionError = errors.New("disk I/O error")
	_, err = svc.RejectStep(context.Background(), "EXP-6", "EMP-010", "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrStepConflict)
}

func TestConcurrentApprovalsOnSameStep(t *testing.T) {
	store := newMemStore()
	store.seed("EXP-7", "EMP-010", "EMP-050")
	svc := newChainService(store)

	const racers = 8
	var wg sync.WaitGroup
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApproveStep(context.Background(), "EXP-7", "EMP-010", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrNoPendingStep)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, svc.locks.size())
}

// rollbackTx restores the store when fn fails, like a database transaction
type rollbackTx struct {
	s *memStore
}

func (r rollbackTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	r.s.mu.Lock()
	steps := make([]*entity.ApprovalStep, len(r.s.steps))
	for i, st := range r.s.steps {
		cp := *st
		steps[i] = &cp
	}
	audit := append([]*entity.AuditLogEntry(nil), r.s.audit...)
	r.s.mu.Unlock()

	err := fn(ctx)
	if err != nil {
		r.s.mu.Lock()
		r.s.steps = steps
		r.s.audit = audit
		r.s.mu.Unlock()
	}
	return err
}

func TestActThen_CompletionRunsInsideAction(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seed("EXP-8", "EMP-010", "EMP-050")
	svc := NewChainService(expenseRepo{s: store}, stepRepo{s: store}, auditRepo{s: store}, rollbackTx{s: store}, company(), zap.NewNop())

	var calls []Outcome
	done := func(ctx context.Context, res *ActionResult) error {
		calls = append(calls, res.Outcome)
		return nil
	}

	res, err := svc.ActThen(ctx, "EXP-8", "EMP-010", ActionApprove, "", done)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNextStepActivated, res.Outcome)
	assert.Empty(t, calls, "an intermediate step does not end the chain")

	// the final step cannot commit without the expense being finalised
	failing := func(ctx context.Context, res *ActionResult) error {
		return port.ErrConflict
	}
	_, err = svc.ActThen(ctx, "EXP-8", "EMP-050", ActionApprove, "", failing)
	assert.ErrorIs(t, err, port.ErrConflict)
	assert.Equal(t, []entity.StepStatus{entity.StepApproved, entity.StepPending}, statuses(store.chain("EXP-8")))
	assert.Len(t, store.audit, 1)

	res, err = svc.ActThen(ctx, "EXP-8", "EMP-050", ActionApprove, "", done)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFullyApproved, res.Outcome)
	assert.Equal(t, []Outcome{OutcomeFullyApproved}, calls)
}

func TestActThen_RejectCompletes(t *testing.T) {
	store := newMemStore()
	store.seed("EXP-9", "EMP-010", "EMP-050")
	svc := newChainService(store)

	var got *ActionResult
	_, err := svc.ActThen(context.Background(), "EXP-9", "EMP-010", ActionReject, "no receipt",
		func(ctx context.Context, res *ActionResult) error {
			got = res
			return nil
		})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, OutcomeRejected, got.Outcome)

	_, err = svc.ActThen(context.Background(), "EXP-9", "EMP-010", ActionEscalate, "",
		func(ctx context.Context, res *ActionResult) error {
			t.Fatal("escalation never completes a chain")
			return nil
		})
	assert.ErrorIs(t, err, ErrNoPendingStep)
}
