package http

import (
	"errors"
	"net/http"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/approval"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
	"github.com/garyjia/expense-agent/pkg/utils"
)

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case utils.IsValidationError(err),
		errors.Is(err, approval.ErrUnknownAction),
		errors.Is(err, workflow.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, port.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrGuardFailed),
		errors.Is(err, approval.ErrNoPendingStep),
		errors.Is(err, approval.ErrNoManager),
		errors.Is(err, approval.ErrStepConflict),
		errors.Is(err, port.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
