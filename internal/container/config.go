// Package container provides dependency injection and lifecycle management
// for the expense agent following Clean Architecture principles.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/expense-agent/internal/approval"
	"github.com/garyjia/expense-agent/internal/infrastructure/external/lark"
	"github.com/garyjia/expense-agent/internal/infrastructure/external/payment"
	"github.com/garyjia/expense-agent/internal/infrastructure/worker"
	"github.com/garyjia/expense-agent/internal/policy"
	"github.com/garyjia/expense-agent/internal/risk"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database DatabaseConfig

	// Lark is used for approver notifications only
	Lark lark.Config

	OpenAI  OpenAIConfig
	Payment payment.Config

	// Decision pipeline
	Thresholds   approval.Thresholds
	Limits       policy.Limits
	ModelPaths   risk.ModelPaths
	RoutingDepth int
	// SeedPath is empty when seeding is disabled
	SeedPath     string
	ReportsDir   string
	PaymentRetry worker.PaymentRetryConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration
}

// OpenAIConfig holds OpenAI API settings. The category model is only
// created when APIKey is set.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	PromptsPath string
	Timeout     time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/expenses.db",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		OpenAI: OpenAIConfig{
			Model:   "gpt-4o-mini",
			Timeout: 15 * time.Second,
		},
		Payment: payment.Config{
			MaxParallelSlots: payment.DefaultMaxParallelSlots,
			RatePerSecond:    5,
			Burst:            payment.DefaultMaxParallelSlots,
		},
		Thresholds:   approval.DefaultThresholds(),
		Limits:       policy.DefaultLimits(),
		RoutingDepth: 5,
		PaymentRetry: worker.DefaultPaymentRetryConfig(),
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Lark.Enabled && (c.Lark.AppID == "" || c.Lark.AppSecret == "") {
		return fmt.Errorf("lark.app_id and lark.app_secret are required when lark is enabled")
	}
	if c.Thresholds.AutoApprove >= c.Thresholds.Reject {
		return fmt.Errorf("auto_approve threshold must be below reject threshold")
	}
	return nil
}
