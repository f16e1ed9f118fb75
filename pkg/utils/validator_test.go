package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/expense-agent/internal/domain/entity"
)

type claim struct {
	EmployeeID string  `validate:"required"`
	Amount     float64 `validate:"gt=0"`
	Category   string  `validate:"omitempty,expense_category"`
}

func TestValidateStruct(t *testing.T) {
	assert.NoError(t, ValidateStruct(claim{EmployeeID: "EMP-001", Amount: 45, Category: "meals"}))
	assert.NoError(t, ValidateStruct(claim{EmployeeID: "EMP-001", Amount: 45}))

	err := ValidateStruct(claim{Amount: -1, Category: "yachts"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 3)
	assert.Equal(t, "EmployeeID is required", verr.Fields["EmployeeID"])
	assert.Equal(t, "Category is not a known category", verr.Fields["Category"])
}

func TestValidateStruct_Employee(t *testing.T) {
	emp := entity.Employee{
		EmployeeID: "EMP-001",
		Name:       "Sarah Chen",
		Email:      "sarah.chen@company.com",
		Department: "Sales",
		Role:       entity.RoleEmployee,
		Wallet:     "0x1111111111111111111111111111111111111111",
	}
	assert.NoError(t, ValidateStruct(emp))

	emp.Wallet = ""
	assert.NoError(t, ValidateStruct(emp), "wallet is optional")

	emp.Wallet = "GABC"
	emp.Role = "intern"
	err := ValidateStruct(emp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Wallet must be a 0x-prefixed 20-byte address")
	assert.Contains(t, err.Error(), "Role is not a known role")
}

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, ValidateAmount(0.01))
	assert.Error(t, ValidateAmount(0))
	assert.Error(t, ValidateAmount(MaxExpenseAmount+1))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "Lunch with client", SanitizeString("Lunch\x00 with\x1f client"))
}
