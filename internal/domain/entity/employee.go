package entity

// Employee is a member of the organisation directory
type Employee struct {
	EmployeeID   string  `json:"employee_id" yaml:"employee_id" validate:"required"`
	Name         string  `json:"name" yaml:"name" validate:"required"`
	Email        string  `json:"email" yaml:"email" validate:"required,email"`
	Department   string  `json:"department" yaml:"department" validate:"required"`
	Role         Role    `json:"role" yaml:"role" validate:"required,employee_role"`
	ReportsTo    *string `json:"reports_to,omitempty" yaml:"reports_to"`
	MonthlyLimit float64 `json:"monthly_limit" yaml:"monthly_limit" validate:"gte=0"`
	Wallet       string  `json:"wallet,omitempty" yaml:"wallet" validate:"omitempty,wallet"`
	NotifyID     string  `json:"notify_id,omitempty" yaml:"notify_id"`
}

// EmployeeTotals aggregates every expense an employee has submitted
type EmployeeTotals struct {
	Count        int     `json:"total_expenses"`
	TotalAmount  float64 `json:"total_amount"`
	AvgRiskScore float64 `json:"avg_risk_score"`
	// Flagged counts flagged and rejected expenses
	Flagged int `json:"flagged_count"`
}

// ManagerID returns the reports_to reference, or "" at the top of the hierarchy
func (e *Employee) ManagerID() string {
	if e == nil || e.ReportsTo == nil {
		return ""
	}
	return *e.ReportsTo
}
