package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-agent/internal/application/service"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	return &Handlers{
		services: services,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// ReviewRequest is the optional body of approve, reject and dispute
type ReviewRequest struct {
	Actor    string `json:"actor"`
	Comments string `json:"comments"`
	Reason   string `json:"reason"`
}

// ListExpensesRequest represents query parameters for listing expenses
type ListExpensesRequest struct {
	Status     string `form:"status"`
	EmployeeID string `form:"employee_id"`
	Limit      int    `form:"limit"`
	Offset     int    `form:"offset"`
}

// ListAuditRequest represents query parameters for the audit trail
type ListAuditRequest struct {
	ExpenseID string `form:"expense_id"`
	Actor     string `form:"actor"`
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// SubmitExpense handles POST /api/expenses
func (h *Handlers) SubmitExpense(c *gin.Context) {
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	result, err := h.services.Expenses.Submit(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to submit expense", err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: result})
}

// ListExpenses handles GET /api/expenses
func (h *Handlers) ListExpenses(c *gin.Context) {
	var req ListExpensesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}
	limit, offset := page(req.Limit, req.Offset)

	expenses, err := h.services.Expenses.List(c.Request.Context(), entity.ExpenseFilter{
		Status:     workflow.State(req.Status),
		EmployeeID: req.EmployeeID,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.fail(c, "Failed to list expenses", err)
		return
	}
	if expenses == nil {
		expenses = []*entity.Expense{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: expenses})
}

// ExpenseStats handles GET /api/expenses/stats
func (h *Handlers) ExpenseStats(c *gin.Context) {
	stats, err := h.services.Expenses.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to compute expense stats", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: stats})
}

// ExportExpenses handles GET /api/expenses/export
func (h *Handlers) ExportExpenses(c *gin.Context) {
	var req ListExpensesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}

	report, err := h.services.Reports.Export(c.Request.Context(), entity.ExpenseFilter{
		Status:     workflow.State(req.Status),
		EmployeeID: req.EmployeeID,
		Limit:      req.Limit,
	})
	if err != nil {
		h.fail(c, "Failed to export expenses", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	c.Data(http.StatusOK, report.ContentType, report.Content)
}

// GetExpense handles GET /api/expenses/:id
func (h *Handlers) GetExpense(c *gin.Context) {
	exp, err := h.services.Expenses.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get expense", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: exp})
}

// ListSteps handles GET /api/expenses/:id/steps
func (h *Handlers) ListSteps(c *gin.Context) {
	steps, err := h.services.Expenses.Steps(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to list approval steps", err)
		return
	}
	if steps == nil {
		steps = []*entity.ApprovalStep{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: steps})
}

// StepAction handles POST /api/expenses/:id/steps/action
func (h *Handlers) StepAction(c *gin.Context) {
	var req service.StepActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	result, err := h.services.Approvals.Act(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.fail(c, "Approval action failed", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// ApproveExpense handles POST /api/expenses/:id/approve
func (h *Handlers) ApproveExpense(c *gin.Context) {
	req, ok := h.bindReview(c)
	if !ok {
		return
	}
	result, err := h.services.Reviews.Approve(c.Request.Context(), c.Param("id"), req.Actor, req.Comments)
	if err != nil {
		h.fail(c, "Failed to approve expense", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// RejectExpense handles POST /api/expenses/:id/reject
func (h *Handlers) RejectExpense(c *gin.Context) {
	req, ok := h.bindReview(c)
	if !ok {
		return
	}
	comments := req.Comments
	if comments == "" {
		comments = req.Reason
	}
	result, err := h.services.Reviews.Reject(c.Request.Context(), c.Param("id"), req.Actor, comments)
	if err != nil {
		h.fail(c, "Failed to reject expense", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// DisputeExpense handles POST /api/expenses/:id/dispute
func (h *Handlers) DisputeExpense(c *gin.Context) {
	req, ok := h.bindReview(c)
	if !ok {
		return
	}
	result, err := h.services.Reviews.Dispute(c.Request.Context(), c.Param("id"), req.Actor, req.Reason)
	if err != nil {
		h.fail(c, "Failed to dispute expense", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// BatchApprove handles POST /api/expenses/batch-approve
func (h *Handlers) BatchApprove(c *gin.Context) {
	req, ok := h.bindReview(c)
	if !ok {
		return
	}
	result, err := h.services.Reviews.BatchApprove(c.Request.Context(), req.Actor)
	if err != nil {
		h.fail(c, "Batch approval failed", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// PendingApprovals handles GET /api/approvals/pending/:approver_id
func (h *Handlers) PendingApprovals(c *gin.Context) {
	steps, err := h.services.Approvals.PendingFor(c.Request.Context(), c.Param("approver_id"))
	if err != nil {
		h.fail(c, "Failed to list pending approvals", err)
		return
	}
	if steps == nil {
		steps = []*entity.ApprovalStep{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: steps})
}

// ListRules handles GET /api/rules
func (h *Handlers) ListRules(c *gin.Context) {
	rules, err := h.services.Rules.ListActive(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to list approval rules", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: rules})
}

// ListEmployees handles GET /api/employees
func (h *Handlers) ListEmployees(c *gin.Context) {
	employees, err := h.services.Employees.List(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to list employees", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: employees})
}

// GetEmployee handles GET /api/employees/:id
func (h *Handlers) GetEmployee(c *gin.Context) {
	employee, err := h.services.Employees.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get employee", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: employee})
}

// EmployeeSpending handles GET /api/employees/:id/spending
func (h *Handlers) EmployeeSpending(c *gin.Context) {
	summary, err := h.services.Employees.Spending(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to compute employee spending", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: summary})
}

// OrgTree handles GET /api/org/tree
func (h *Handlers) OrgTree(c *gin.Context) {
	tree, err := h.services.Employees.OrgTree(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to build org tree", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: tree})
}

// OrgFlat handles GET /api/org/flat
func (h *Handlers) OrgFlat(c *gin.Context) {
	rows, err := h.services.Employees.OrgFlat(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to list org chart", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: rows})
}

// ListAudit handles GET /api/audit
func (h *Handlers) ListAudit(c *gin.Context) {
	var req ListAuditRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}
	limit, offset := page(req.Limit, req.Offset)

	entries, err := h.services.Audit.List(c.Request.Context(), entity.AuditFilter{
		ExpenseID: req.ExpenseID,
		Actor:     req.Actor,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		h.fail(c, "Failed to list audit trail", err)
		return
	}
	if entries == nil {
		entries = []*entity.AuditLogEntry{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: entries})
}

// AuditStats handles GET /api/audit/stats
func (h *Handlers) AuditStats(c *gin.Context) {
	stats, err := h.services.Audit.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to compute audit stats", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: stats})
}

// bindReview reads an optional ReviewRequest body. An empty body is allowed.
func (h *Handlers) bindReview(c *gin.Context) (ReviewRequest, bool) {
	var req ReviewRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(c, "invalid request body", err)
		return req, false
	}
	return req, true
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	h.logger.Error("Bad request", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

// fail writes err with the status it maps to
func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "path", c.Request.URL.Path, "error", err)
		c.JSON(status, Response{Success: false, Error: "internal server error"})
		return
	}
	h.logger.Info(msg, "path", c.Request.URL.Path, "status", status, "error", err.Error())
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
