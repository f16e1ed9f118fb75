package utils

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/garyjia/expense-agent/internal/domain/entity"
)

// MaxExpenseAmount is the largest amount accepted on submission
const MaxExpenseAmount = 1_000_000

var (
	validateOnce sync.Once
	validate     *validator.Validate

	walletRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// Validator returns the shared validator with the expense tags registered:
// wallet, expense_category and employee_role.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("wallet", func(fl validator.FieldLevel) bool {
			return walletRegex.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("expense_category", func(fl validator.FieldLevel) bool {
			return entity.Category(fl.Field().String()).IsValid()
		})
		_ = v.RegisterValidation("employee_role", func(fl validator.FieldLevel) bool {
			return entity.Role(fl.Field().String()).IsValid()
		})
		validate = v
	})
	return validate
}

// ValidateStruct validates a struct using go-playground/validator
func ValidateStruct(s interface{}) error {
	if err := Validator().Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewValidationError(validationErrors)
		}
		return err
	}
	return nil
}

// ValidationError wraps validation errors with per-field messages
type ValidationError struct {
	Fields map[string]string
}

// Error lists the failing fields in a stable order
func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, m := range e.Fields {
		msgs = append(msgs, m)
	}
	sort.Strings(msgs)
	return "validation failed: " + strings.Join(msgs, "; ")
}

// NewValidationError creates a ValidationError from validator.ValidationErrors
func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	fields := make(map[string]string, len(errs))
	for _, err := range errs {
		field := err.Field()
		switch err.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", field)
		case "email":
			fields[field] = fmt.Sprintf("%s must be a valid email", field)
		case "gt", "gte", "lt", "lte", "min", "max":
			fields[field] = fmt.Sprintf("%s must be %s %s", field, err.Tag(), err.Param())
		case "wallet":
			fields[field] = fmt.Sprintf("%s must be a 0x-prefixed 20-byte address", field)
		case "expense_category":
			fields[field] = fmt.Sprintf("%s is not a known category", field)
		case "employee_role":
			fields[field] = fmt.Sprintf("%s is not a known role", field)
		default:
			fields[field] = fmt.Sprintf("%s validation failed on '%s' tag", field, err.Tag())
		}
	}
	return &ValidationError{Fields: fields}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// ValidateAmount validates a reimbursement amount
func ValidateAmount(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive: %.2f", amount)
	}
	if amount > MaxExpenseAmount {
		return fmt.Errorf("amount exceeds maximum limit: %.2f", amount)
	}
	return nil
}

// SanitizeString removes control characters
func SanitizeString(s string) string {
	return controlChars.ReplaceAllString(s, "")
}

var controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)
