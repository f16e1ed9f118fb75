package service

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
)

// maxExportRows bounds one export
const maxExportRows = 10000

// Report is a rendered expense export
type Report struct {
	Filename    string
	ContentType string
	Content     []byte
	// ArchivePath is set when a copy was kept in the report archive
	ArchivePath string
}

// ReportService renders expense exports
type ReportService interface {
	Export(ctx context.Context, filter entity.ExpenseFilter) (*Report, error)
}

type reportServiceImpl struct {
	expenses port.ExpenseRepository
	exporter port.ReportExporter
	archive  port.FileStorage
	logger   Logger
	now      func() time.Time
}

// NewReportService creates a new ReportService. archive may be nil.
func NewReportService(expenses port.ExpenseRepository, exporter port.ReportExporter, archive port.FileStorage, logger Logger) ReportService {
	return &reportServiceImpl{
		expenses: expenses,
		exporter: exporter,
		archive:  archive,
		logger:   logger,
		now:      utcNow,
	}
}

// Export renders every expense matching filter. Archiving is best effort.
func (s *reportServiceImpl) Export(ctx context.Context, filter entity.ExpenseFilter) (*Report, error) {
	if filter.Limit <= 0 || filter.Limit > maxExportRows {
		filter.Limit = maxExportRows
	}
	expenses, err := s.expenses.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}

	content, err := s.exporter.ExportExpenses(ctx, expenses)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	now := s.now()
	report := &Report{
		Filename:    fmt.Sprintf("expenses-%s%s", now.Format("20060102-150405"), s.exporter.FileExtension()),
		ContentType: s.exporter.ContentType(),
		Content:     content,
	}

	if s.archive != nil {
		path := s.archive.PathFor(now, s.exporter.FileExtension())
		if err := s.archive.Save(ctx, path, content); err != nil {
			s.logger.Error("Failed to archive report", "path", path, "error", err)
		} else {
			report.ArchivePath = filepath.ToSlash(path)
		}
	}

	s.logger.Info("Expense report exported", "rows", len(expenses), "bytes", len(content))
	return report, nil
}
