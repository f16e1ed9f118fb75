package service

import (
	"context"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
)

// AuditService exposes the audit trail
type AuditService interface {
	List(ctx context.Context, filter entity.AuditFilter) ([]*entity.AuditLogEntry, error)
	Stats(ctx context.Context) (*entity.AuditStats, error)
}

type auditServiceImpl struct {
	audit port.AuditLogRepository
}

// NewAuditService creates a new AuditService
func NewAuditService(audit port.AuditLogRepository) AuditService {
	return &auditServiceImpl{audit: audit}
}

func (s *auditServiceImpl) List(ctx context.Context, filter entity.AuditFilter) ([]*entity.AuditLogEntry, error) {
	return s.audit.List(ctx, filter)
}

func (s *auditServiceImpl) Stats(ctx context.Context) (*entity.AuditStats, error) {
	return s.audit.Stats(ctx)
}
