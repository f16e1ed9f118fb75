package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/application/port"
)

// ReportArchive implements port.FileStorage over a local directory.
// Every path is resolved relative to baseDir and may not escape it.
type ReportArchive struct {
	baseDir string
	logger  *zap.Logger
}

// NewReportArchive creates an archive rooted at baseDir
func NewReportArchive(baseDir string, logger *zap.Logger) *ReportArchive {
	return &ReportArchive{
		baseDir: baseDir,
		logger:  logger,
	}
}

// ArchivePath names a report generated at t, e.g. "2026/03/expenses-20260318-120000.xlsx"
func ArchivePath(t time.Time, ext string) string {
	t = t.UTC()
	return filepath.Join(t.Format("2006"), t.Format("01"),
		fmt.Sprintf("expenses-%s%s", t.Format("20060102-150405"), ext))
}

// PathFor names a report generated at t inside the archive
func (s *ReportArchive) PathFor(t time.Time, ext string) string {
	return ArchivePath(t, ext)
}

// Save writes content, creating parent directories
func (s *ReportArchive) Save(ctx context.Context, path string, content []byte) error {
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	if err := os.WriteFile(fullPath, content, 0o644); err != nil {
		s.logger.Error("Failed to write report",
			zap.String("path", fullPath),
			zap.Error(err))
		return fmt.Errorf("failed to write file: %w", err)
	}

	s.logger.Info("Report archived",
		zap.String("path", fullPath),
		zap.Int("size", len(content)))
	return nil
}

// Read returns a previously archived report
func (s *ReportArchive) Read(ctx context.Context, path string) ([]byte, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return content, nil
}

// Exists reports whether path names an archived file
func (s *ReportArchive) Exists(ctx context.Context, path string) bool {
	fullPath, err := s.resolve(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(fullPath)
	return err == nil && !info.IsDir()
}

// GetFullPath converts a relative path to full path
func (s *ReportArchive) GetFullPath(relativePath string) string {
	return filepath.Join(s.baseDir, relativePath)
}

func (s *ReportArchive) resolve(path string) (string, error) {
	fullPath := s.GetFullPath(path)

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}

	rel, err := filepath.Rel(absBase, absPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s", path)
	}
	return absPath, nil
}

// Verify interface compliance
var _ port.FileStorage = (*ReportArchive)(nil)
