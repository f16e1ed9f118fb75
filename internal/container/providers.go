package container

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/application/service"
	"github.com/garyjia/expense-agent/internal/approval"
	"github.com/garyjia/expense-agent/internal/categorize"
	"github.com/garyjia/expense-agent/internal/infrastructure/export"
	infraLark "github.com/garyjia/expense-agent/internal/infrastructure/external/lark"
	"github.com/garyjia/expense-agent/internal/infrastructure/external/openai"
	"github.com/garyjia/expense-agent/internal/infrastructure/external/payment"
	"github.com/garyjia/expense-agent/internal/infrastructure/persistence/repository"
	"github.com/garyjia/expense-agent/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-agent/internal/infrastructure/seed"
	"github.com/garyjia/expense-agent/internal/infrastructure/storage"
	"github.com/garyjia/expense-agent/internal/infrastructure/worker"
	"github.com/garyjia/expense-agent/internal/policy"
	"github.com/garyjia/expense-agent/internal/risk"
	"github.com/garyjia/expense-agent/internal/routing"
	"github.com/garyjia/expense-agent/migrations"
	"github.com/garyjia/expense-agent/pkg/database"
	"github.com/garyjia/expense-agent/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	SqlDB          *sql.DB
	TransactionMgr *sqlite.DB
}

// ExternalBundle holds the outbound clients. Notifier and CategoryModel
// are nil when their service is not configured.
type ExternalBundle struct {
	Payments      port.PaymentClient
	Notifier      port.ApproverNotifier
	CategoryModel port.CategoryModel
}

// StorageBundle holds report rendering and archiving. Archive is nil when
// no reports directory is configured.
type StorageBundle struct {
	Exporter port.ReportExporter
	Archive  port.FileStorage
}

// PipelineBundle holds the decision pipeline and the chain service
type PipelineBundle struct {
	Engine *approval.Engine
	Chain  *approval.ChainService
}

// ProvideDatabase opens the database, applies the embedded migrations and
// wraps the connection in a transaction manager.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	sqlDB, err := database.Open(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(sqlDB, logger).Run(migrations.FS); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		SqlDB:          sqlDB,
		TransactionMgr: sqlite.NewDB(sqlDB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Expense:  repository.NewExpenseRepository(sqlDB, logger),
		Employee: repository.NewEmployeeRepository(sqlDB, logger),
		Rule:     repository.NewApprovalRuleRepository(sqlDB, logger),
		Step:     repository.NewApprovalStepRepository(sqlDB, logger),
		Audit:    repository.NewAuditLogRepository(sqlDB, logger),
	}, nil
}

// ProvideSeed loads the employee directory and approval rules from path
func ProvideSeed(ctx context.Context, path string, repos *RepositoryBundle, tx port.TransactionManager, logger *zap.Logger) error {
	if path == "" {
		logger.Info("Seeding disabled")
		return nil
	}
	loader := seed.NewLoader(repos.Employee, repos.Rule, tx, logger)
	res, err := loader.LoadFile(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to seed from %s: %w", path, err)
	}
	logger.Info("Directory seeded",
		zap.String("path", path),
		zap.Int("employees", res.Employees),
		zap.Int("rules", res.Rules))
	return nil
}

// ProvideExternalClients creates the payment client, the Lark notifier and
// the OpenAI category model.
func ProvideExternalClients(cfg *Config, logger *zap.Logger) (*ExternalBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	bundle := &ExternalBundle{
		Payments: payment.NewSimulatedClient(cfg.Payment, logger),
	}

	if cfg.Lark.Enabled {
		messages := infraLark.NewMessageAPI(cfg.Lark, logger)
		bundle.Notifier = infraLark.NewNotifier(messages, cfg.Lark.DashboardURL, logger)
	} else {
		logger.Info("Lark disabled, approver notifications are off")
	}

	if cfg.OpenAI.APIKey != "" {
		prompts := openai.DefaultPrompts()
		if cfg.OpenAI.PromptsPath != "" {
			loaded, err := openai.LoadPrompts(cfg.OpenAI.PromptsPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load prompts: %w", err)
			}
			prompts = loaded
		}
		bundle.CategoryModel = openai.NewCategoryModel(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.Timeout, prompts, logger)
	} else {
		logger.Info("OpenAI key not set, categorizer uses keywords and amount ranges")
	}

	return bundle, nil
}

// ProvideStorage creates the XLSX exporter and the report archive.
func ProvideStorage(reportsDir string, logger *zap.Logger) (*StorageBundle, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	bundle := &StorageBundle{Exporter: export.NewExcelExporter(logger)}
	if reportsDir != "" {
		bundle.Archive = storage.NewReportArchive(reportsDir, logger)
	}
	return bundle, nil
}

// PipelineDeps holds dependencies required for the decision pipeline.
type PipelineDeps struct {
	Config        *Config
	Repos         *RepositoryBundle
	TxManager     port.TransactionManager
	CategoryModel port.CategoryModel
	Logger        *zap.Logger
}

// ProvidePipeline wires the risk ensemble, categorizer, policy engine and
// routing resolver into the decision engine, plus the chain service.
func ProvidePipeline(deps *PipelineDeps) (*PipelineBundle, error) {
	if deps == nil || deps.Config == nil || deps.Repos == nil {
		return nil, fmt.Errorf("pipeline dependencies are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	logger := deps.Logger
	cfg := deps.Config

	scorer := risk.NewScorer(risk.LoadModels(cfg.ModelPaths, logger), logger)
	categorizer := categorize.New(deps.CategoryModel, logger)
	policyEngine := policy.NewEngine(cfg.Limits, deps.Repos.Expense, deps.Repos.Employee, logger)
	resolver := routing.NewResolver(deps.Repos.Rule, deps.Repos.Employee, cfg.RoutingDepth, logger)

	return &PipelineBundle{
		Engine: approval.NewEngine(scorer, categorizer, policyEngine, resolver, cfg.Thresholds, logger),
		Chain: approval.NewChainService(
			deps.Repos.Expense,
			deps.Repos.Step,
			deps.Repos.Audit,
			deps.TxManager,
			resolver,
			logger,
		),
	}, nil
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	Pipeline  *PipelineBundle
	External  *ExternalBundle
	Storage   *StorageBundle
	Logger    *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Pipeline == nil || deps.External == nil || deps.Storage == nil {
		return nil, fmt.Errorf("pipeline, external clients and storage are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	serviceLogger := utils.NewKVLogger(deps.Logger)
	repos := deps.Repos

	payments := service.NewPaymentService(
		repos.Expense,
		repos.Employee,
		repos.Audit,
		deps.TxManager,
		deps.External.Payments,
		serviceLogger,
	)
	notifications := service.NewNotificationService(
		repos.Employee,
		repos.Audit,
		deps.External.Notifier,
		serviceLogger,
	)

	return &ServiceBundle{
		Expense: service.NewExpenseService(
			repos.Expense,
			repos.Employee,
			repos.Step,
			repos.Audit,
			deps.TxManager,
			deps.Pipeline.Engine,
			payments,
			notifications,
			serviceLogger,
		),
		Review: service.NewReviewService(
			repos.Expense,
			repos.Audit,
			deps.TxManager,
			payments,
			serviceLogger,
		),
		Approval: service.NewApprovalService(
			deps.Pipeline.Chain,
			repos.Expense,
			repos.Step,
			repos.Audit,
			deps.TxManager,
			payments,
			notifications,
			serviceLogger,
		),
		Payment:      payments,
		Notification: notifications,
		Rule:         service.NewRuleService(repos.Rule),
		Audit:        service.NewAuditService(repos.Audit),
		Report:       service.NewReportService(repos.Expense, deps.Storage.Exporter, deps.Storage.Archive, serviceLogger),
		Employee:     service.NewEmployeeService(repos.Employee, repos.Expense),
	}, nil
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Payments  service.PaymentService
	WorkerCfg *worker.PaymentRetryConfig
	Logger    *zap.Logger
}

// ProvideWorkers creates and registers all background workers.
// Returns *worker.WorkerManager with all workers registered but not started.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Payments == nil {
		return nil, fmt.Errorf("payment service is required")
	}
	if deps.WorkerCfg == nil {
		return nil, fmt.Errorf("worker config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)
	manager.Register(worker.NewPaymentRetryWorker(*deps.WorkerCfg, deps.Payments, deps.Logger))
	return manager, nil
}
