// Package export renders expense listings into spreadsheets.
package export

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
)

const (
	expensesSheet = "Expenses"
	summarySheet  = "Summary"
)

var expenseHeaders = []string{
	"Expense ID", "Employee", "Submitted", "Category", "Merchant", "Description",
	"Amount", "Currency", "Risk Score", "Anomaly Score", "Status", "Approved By",
	"Steps", "Risk Factors", "Memo", "Tx Hash",
}

// ExcelExporter implements port.ReportExporter with XLSX workbooks
type ExcelExporter struct {
	logger *zap.Logger
}

// NewExcelExporter creates an XLSX exporter
func NewExcelExporter(logger *zap.Logger) *ExcelExporter {
	return &ExcelExporter{logger: logger}
}

// ContentType is the MIME type of the generated workbook
func (e *ExcelExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// FileExtension includes the leading dot
func (e *ExcelExporter) FileExtension() string {
	return ".xlsx"
}

// ExportExpenses writes one row per expense plus a per-status summary sheet
func (e *ExcelExporter) ExportExpenses(ctx context.Context, expenses []*entity.Expense) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", expensesSheet); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	if err := e.writeRow(f, expensesSheet, 1, toCells(expenseHeaders)); err != nil {
		return nil, err
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(expensesSheet, 1, 1, style)
	}

	for i, exp := range expenses {
		steps := ""
		if exp.TotalSteps > 0 {
			steps = fmt.Sprintf("%d/%d", exp.CurrentStep, exp.TotalSteps)
		}
		row := []interface{}{
			exp.ExpenseID,
			exp.EmployeeID,
			exp.SubmittedAt.UTC().Format("2006-01-02 15:04"),
			string(exp.Category),
			exp.Merchant,
			exp.Description,
			exp.Amount,
			exp.Currency,
			exp.RiskScore,
			exp.AnomalyScore,
			string(exp.Status),
			exp.ApprovedBy,
			steps,
			strings.Join(exp.RiskFactors, "; "),
			exp.Memo,
			exp.TxHash,
		}
		if err := e.writeRow(f, expensesSheet, i+2, row); err != nil {
			return nil, err
		}
	}

	if err := e.writeSummary(f, expenses); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Expense report generated",
		zap.Int("rows", len(expenses)),
		zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

func (e *ExcelExporter) writeSummary(f *excelize.File, expenses []*entity.Expense) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	counts := make(map[workflow.State]int)
	totals := make(map[workflow.State]float64)
	for _, exp := range expenses {
		counts[exp.Status]++
		totals[exp.Status] += exp.Amount
	}

	states := make([]string, 0, len(counts))
	for s := range counts {
		states = append(states, string(s))
	}
	sort.Strings(states)

	if err := e.writeRow(f, summarySheet, 1, toCells([]string{"Status", "Count", "Amount"})); err != nil {
		return err
	}
	for i, s := range states {
		state := workflow.State(s)
		if err := e.writeRow(f, summarySheet, i+2, []interface{}{s, counts[state], totals[state]}); err != nil {
			return err
		}
	}
	return nil
}

func (e *ExcelExporter) writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("invalid row %d: %w", row, err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", row, sheet, err)
	}
	return nil
}

func toCells(values []string) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

// Verify interface compliance
var _ port.ReportExporter = (*ExcelExporter)(nil)
