package workflow

// Trigger is an event that moves an expense between states
type Trigger string

const (
	TriggerAutoApprove   Trigger = "auto_approve"
	TriggerRequestReview Trigger = "request_review"
	TriggerRouteChain    Trigger = "route_chain"
	TriggerApprove       Trigger = "approve"
	TriggerReject        Trigger = "reject"
	TriggerFlag          Trigger = "flag"
	TriggerDispute       Trigger = "dispute"
	TriggerPay           Trigger = "pay"
)

// decisionTriggers maps a pipeline outcome to the trigger that reaches it from pending
var decisionTriggers = map[State]Trigger{
	StateAutoApproved:    TriggerAutoApprove,
	StateManagerReview:   TriggerRequestReview,
	StatePendingApproval: TriggerRouteChain,
	StateRejected:        TriggerReject,
	StateFlagged:         TriggerFlag,
}

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// DecisionTrigger returns the trigger that moves a pending expense to the given outcome
func DecisionTrigger(outcome State) (Trigger, bool) {
	t, ok := decisionTriggers[outcome]
	return t, ok
}
