package service

import (
	"context"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
)

// RuleService exposes the active approval rules in evaluation order
type RuleService interface {
	ListActive(ctx context.Context) ([]*entity.ApprovalRule, error)
}

type ruleServiceImpl struct {
	rules port.ApprovalRuleRepository
}

// NewRuleService creates a new RuleService
func NewRuleService(rules port.ApprovalRuleRepository) RuleService {
	return &ruleServiceImpl{rules: rules}
}

func (s *ruleServiceImpl) ListActive(ctx context.Context) ([]*entity.ApprovalRule, error) {
	rules, err := s.rules.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []*entity.ApprovalRule{}
	}
	return rules, nil
}
