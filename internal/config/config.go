package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Lark     LarkConfig     `mapstructure:"lark"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Decision DecisionConfig `mapstructure:"decision"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Routing  RoutingConfig  `mapstructure:"routing"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Seed     SeedConfig     `mapstructure:"seed"`
	Reports  ReportsConfig  `mapstructure:"reports"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// LarkConfig holds Lark API configuration. Approver notifications are sent
// only when Enabled is set.
type LarkConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	AppID        string `mapstructure:"app_id"`
	AppSecret    string `mapstructure:"app_secret"`
	DashboardURL string `mapstructure:"dashboard_url"`
}

// OpenAIConfig holds OpenAI API configuration. Without an API key the
// categorizer runs on keywords and amount ranges only.
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	PromptsPath string        `mapstructure:"prompts_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PaymentConfig controls payment sequencing and pacing
type PaymentConfig struct {
	MaxParallelSlots int     `mapstructure:"max_parallel_slots"`
	RatePerSecond    float64 `mapstructure:"rate_per_second"`
	Burst            int     `mapstructure:"burst"`
}

// DecisionConfig holds the single-tier decision boundaries
type DecisionConfig struct {
	AutoApprove          float64 `mapstructure:"auto_approve"`
	Reject               float64 `mapstructure:"reject"`
	AnomalyFlag          float64 `mapstructure:"anomaly_flag"`
	MaxAutoApproveAmount float64 `mapstructure:"max_auto_approve_amount"`
}

// CategoryLimit is a per-category advisory and hard ceiling
type CategoryLimit struct {
	Warn  float64 `mapstructure:"warn"`
	Block float64 `mapstructure:"block"`
}

// PolicyConfig holds the organisational expense policy
type PolicyConfig struct {
	ReceiptSuggestedAbove float64                  `mapstructure:"receipt_suggested_above"`
	ReceiptFlagAbove      float64                  `mapstructure:"receipt_flag_above"`
	ReceiptBlockAbove     float64                  `mapstructure:"receipt_block_above"`
	HighValueAbove        float64                  `mapstructure:"high_value_above"`
	MaxExpense            float64                  `mapstructure:"max_expense"`
	DefaultMonthlyLimit   float64                  `mapstructure:"default_monthly_limit"`
	BudgetBlockFactor     float64                  `mapstructure:"budget_block_factor"`
	DuplicateWindow       time.Duration            `mapstructure:"duplicate_window"`
	CategoryLimits        map[string]CategoryLimit `mapstructure:"category_limits"`
}

// RiskConfig points at the trained model files. Empty paths keep the
// heuristic layers.
type RiskConfig struct {
	StatisticalModelPath string `mapstructure:"statistical_model_path"`
	OutlierModelPath     string `mapstructure:"outlier_model_path"`
}

// RoutingConfig bounds the reporting hierarchy walk
type RoutingConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// WorkerConfig holds background worker settings
type WorkerConfig struct {
	PaymentRetryInterval  time.Duration `mapstructure:"payment_retry_interval"`
	PaymentRetryBatchSize int           `mapstructure:"payment_retry_batch_size"`
}

// SeedConfig names the directory file loaded at startup
type SeedConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ReportsConfig holds the export archive location. An empty Dir disables archiving.
type ReportsConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoadEnvFile loads variables from a .env file without overriding the
// process environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := gotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.path", "data/expenses.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("lark.enabled", false)

	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", 15*time.Second)

	v.SetDefault("payment.max_parallel_slots", 10)
	v.SetDefault("payment.rate_per_second", 5)
	v.SetDefault("payment.burst", 10)

	v.SetDefault("decision.auto_approve", 0.3)
	v.SetDefault("decision.reject", 0.7)
	v.SetDefault("decision.anomaly_flag", 0.8)
	v.SetDefault("decision.max_auto_approve_amount", 500)

	v.SetDefault("policy.receipt_suggested_above", 25)
	v.SetDefault("policy.receipt_flag_above", 200)
	v.SetDefault("policy.receipt_block_above", 1000)
	v.SetDefault("policy.high_value_above", 10000)
	v.SetDefault("policy.max_expense", 25000)
	v.SetDefault("policy.default_monthly_limit", 10000)
	v.SetDefault("policy.budget_block_factor", 1.5)
	v.SetDefault("policy.duplicate_window", 24*time.Hour)

	v.SetDefault("routing.max_depth", 5)

	v.SetDefault("worker.payment_retry_interval", 30*time.Second)
	v.SetDefault("worker.payment_retry_batch_size", 20)

	v.SetDefault("seed.enabled", true)
	v.SetDefault("seed.path", "configs/seed.yaml")

	v.SetDefault("reports.dir", "data/reports")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")

	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("database.path", "DATABASE_PATH")
	_ = v.BindEnv("logger.level", "LOG_LEVEL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required when lark is enabled")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required when lark is enabled")
		}
	}

	d := c.Decision
	if d.AutoApprove < 0 || d.Reject > 1 || d.AutoApprove >= d.Reject {
		return fmt.Errorf("decision thresholds must satisfy 0 <= auto_approve < reject <= 1")
	}
	if d.AnomalyFlag <= 0 || d.AnomalyFlag > 1 {
		return fmt.Errorf("decision.anomaly_flag must be in (0, 1]")
	}

	if c.Policy.MaxExpense <= 0 {
		return fmt.Errorf("policy.max_expense must be positive")
	}
	if c.Policy.DuplicateWindow <= 0 {
		return fmt.Errorf("policy.duplicate_window must be positive")
	}
	for name, limit := range c.Policy.CategoryLimits {
		if limit.Block > 0 && limit.Warn > limit.Block {
			return fmt.Errorf("policy.category_limits.%s: warn exceeds block", name)
		}
	}

	if c.Seed.Enabled && c.Seed.Path == "" {
		return fmt.Errorf("seed.path is required when seeding is enabled")
	}

	return nil
}
