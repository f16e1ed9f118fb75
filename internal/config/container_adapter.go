package config

import (
	"github.com/garyjia/expense-agent/internal/approval"
	"github.com/garyjia/expense-agent/internal/container"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/infrastructure/external/lark"
	"github.com/garyjia/expense-agent/internal/infrastructure/external/payment"
	"github.com/garyjia/expense-agent/internal/infrastructure/worker"
	"github.com/garyjia/expense-agent/internal/policy"
	"github.com/garyjia/expense-agent/internal/risk"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	seedPath := ""
	if c.Seed.Enabled {
		seedPath = c.Seed.Path
	}

	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Lark: lark.Config{
			Enabled:      c.Lark.Enabled,
			AppID:        c.Lark.AppID,
			AppSecret:    c.Lark.AppSecret,
			DashboardURL: c.Lark.DashboardURL,
		},
		OpenAI: container.OpenAIConfig{
			APIKey:      c.OpenAI.APIKey,
			Model:       c.OpenAI.Model,
			PromptsPath: c.OpenAI.PromptsPath,
			Timeout:     c.OpenAI.Timeout,
		},
		Payment: payment.Config{
			MaxParallelSlots: c.Payment.MaxParallelSlots,
			RatePerSecond:    c.Payment.RatePerSecond,
			Burst:            c.Payment.Burst,
		},
		Thresholds: approval.Thresholds{
			AutoApprove:          c.Decision.AutoApprove,
			Reject:               c.Decision.Reject,
			AnomalyFlag:          c.Decision.AnomalyFlag,
			MaxAutoApproveAmount: c.Decision.MaxAutoApproveAmount,
		},
		Limits: c.policyLimits(),
		ModelPaths: risk.ModelPaths{
			Statistical: c.Risk.StatisticalModelPath,
			Outlier:     c.Risk.OutlierModelPath,
		},
		RoutingDepth: c.Routing.MaxDepth,
		SeedPath:     seedPath,
		ReportsDir:   c.Reports.Dir,
		PaymentRetry: worker.PaymentRetryConfig{
			PollInterval: c.Worker.PaymentRetryInterval,
			BatchSize:    c.Worker.PaymentRetryBatchSize,
		},
	}
}

// policyLimits overlays configured category limits on the defaults
func (c *Config) policyLimits() policy.Limits {
	limits := policy.DefaultLimits()
	p := c.Policy

	limits.ReceiptSuggestedAbove = p.ReceiptSuggestedAbove
	limits.ReceiptFlagAbove = p.ReceiptFlagAbove
	limits.ReceiptBlockAbove = p.ReceiptBlockAbove
	limits.HighValueAbove = p.HighValueAbove
	limits.MaxExpense = p.MaxExpense
	limits.DefaultMonthlyLimit = p.DefaultMonthlyLimit
	limits.BudgetBlockFactor = p.BudgetBlockFactor
	limits.DuplicateWindow = p.DuplicateWindow

	for name, l := range p.CategoryLimits {
		limits.CategoryLimits[entity.Category(name)] = policy.CategoryLimit{Warn: l.Warn, Block: l.Block}
	}
	return limits
}
