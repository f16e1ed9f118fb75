package entity

// Category is the spending category of an expense
type Category string

const (
	CategoryMeals               Category = "meals"
	CategoryTravel              Category = "travel"
	CategoryAccommodation       Category = "accommodation"
	CategoryOfficeSupplies      Category = "office_supplies"
	CategorySoftware            Category = "software"
	CategoryEquipment           Category = "equipment"
	CategoryTraining            Category = "training"
	CategoryClientEntertainment Category = "client_entertainment"
	CategoryTransportation      Category = "transportation"
	CategoryMiscellaneous       Category = "miscellaneous"
)

var categories = []Category{
	CategoryMeals,
	CategoryTravel,
	CategoryAccommodation,
	CategoryOfficeSupplies,
	CategorySoftware,
	CategoryEquipment,
	CategoryTraining,
	CategoryClientEntertainment,
	CategoryTransportation,
	CategoryMiscellaneous,
}

// IsValid reports whether c is one of the known categories
func (c Category) IsValid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// Categories returns all known categories in declaration order
func Categories() []Category {
	return append([]Category(nil), categories...)
}

// Role is an employee's position in the organisation
type Role string

const (
	RoleEmployee       Role = "employee"
	RoleManager        Role = "manager"
	RoleFinance        Role = "finance"
	RoleDirector       Role = "director"
	RoleDepartmentHead Role = "department_head"
	RoleVP             Role = "vp"
	RoleCFO            Role = "cfo"
)

var validRoles = map[Role]bool{
	RoleEmployee:       true,
	RoleManager:        true,
	RoleFinance:        true,
	RoleDirector:       true,
	RoleDepartmentHead: true,
	RoleVP:             true,
	RoleCFO:            true,
}

// IsValid reports whether r is a known role
func (r Role) IsValid() bool {
	return validRoles[r]
}

// ApproverRole names a slot in an approval chain. Values outside the
// well-known set are resolved by matching an employee's Role.
type ApproverRole string

const (
	ApproverDirectManager    ApproverRole = "direct_manager"
	ApproverDepartmentHead   ApproverRole = "department_head"
	ApproverFinance          ApproverRole = "finance"
	ApproverVP               ApproverRole = "vp"
	ApproverCFO              ApproverRole = "cfo"
	ApproverEscalatedManager ApproverRole = "escalated_manager"
)

// Severity ranks a policy violation
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityFlag    Severity = "flag"
	SeverityBlock   Severity = "block"
)

// StepStatus is the state of one approval step
type StepStatus string

const (
	StepWaiting   StepStatus = "waiting"
	StepPending   StepStatus = "pending"
	StepApproved  StepStatus = "approved"
	StepRejected  StepStatus = "rejected"
	StepEscalated StepStatus = "escalated"
	StepSkipped   StepStatus = "skipped"
)

// ApprovalType controls how the steps of a chain are activated
type ApprovalType string

const (
	ApprovalSequential ApprovalType = "sequential"
	// ApprovalParallel is accepted in rule data but chains are always advanced sequentially
	ApprovalParallel ApprovalType = "parallel"
)

// Audit actions
const (
	AuditActionSubmitted          = "expense_submitted"
	AuditActionAutoApproved       = "auto_approved"
	AuditActionManagerReview      = "manager_review"
	AuditActionPendingApproval    = "pending_approval"
	AuditActionRejected           = "rejected"
	AuditActionFlagged            = "flagged"
	AuditActionChainCreated       = "approval_chain_created"
	AuditActionChainCompleted     = "approval_chain_completed"
	AuditActionStepApproved       = "step_approved"
	AuditActionStepRejected       = "step_rejected"
	AuditActionStepEscalated      = "step_escalated"
	AuditActionManualApproved     = "manual_approved"
	AuditActionManualRejected     = "manual_rejected"
	AuditActionBatchApproved      = "batch_approved"
	AuditActionDisputed           = "disputed"
	AuditActionPaymentSent        = "payment_sent"
	AuditActionPaymentFailed      = "payment_failed"
	AuditActionNotificationFailed = "notification_failed"
)

// DefaultCurrency is the only currency expenses are accepted in
const DefaultCurrency = "USD"

// SystemActor is recorded for decisions made by the pipeline itself
const SystemActor = "AgentFin"
