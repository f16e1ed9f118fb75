package workflow

import (
	"context"
	"fmt"
	"sync"
)

var (
	lifecycleOnce    sync.Once
	expenseLifecycle StateMachineBuilder
)

// lifecycle builds the shared rule set on first use
func lifecycle() StateMachineBuilder {
	lifecycleOnce.Do(func() {
		expenseLifecycle = newExpenseLifecycle()
	})
	return expenseLifecycle
}

func newExpenseLifecycle() StateMachineBuilder {
	b := NewBuilder()

	b.Configure(StatePending).
		Permit(TriggerAutoApprove, StateAutoApproved).
		Permit(TriggerRequestReview, StateManagerReview).
		Permit(TriggerRouteChain, StatePendingApproval).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerFlag, StateFlagged)

	b.Configure(StateAutoApproved).
		Permit(TriggerPay, StatePaid)

	b.Configure(StateManagerReview).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected)

	b.Configure(StatePendingApproval).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected)

	b.Configure(StateApproved).
		Permit(TriggerPay, StatePaid)

	b.Configure(StateRejected).
		Permit(TriggerDispute, StateDisputed)

	b.Configure(StateFlagged).
		Permit(TriggerDispute, StateDisputed)

	b.Configure(StateDisputed).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected)

	return b
}

// NewExpenseMachine returns a lifecycle machine positioned at the given status
func NewExpenseMachine(current State) (StateMachine, error) {
	if !current.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, current)
	}
	return lifecycle().Build(current), nil
}

// Advance fires trigger from current and returns the resulting status
func Advance(ctx context.Context, current State, trigger Trigger) (State, error) {
	m, err := NewExpenseMachine(current)
	if err != nil {
		return "", err
	}
	if err := m.Fire(ctx, trigger); err != nil {
		return current, err
	}
	return m.State(), nil
}
