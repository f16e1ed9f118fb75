package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/config"
	"github.com/garyjia/expense-agent/internal/container"
	httpapi "github.com/garyjia/expense-agent/internal/interfaces/http"
	"github.com/garyjia/expense-agent/pkg/utils"
)

const version = "1.0.0"

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting expense agent",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port))

	if err := run(cfg, logger); err != nil {
		logger.Error("Expense agent stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Expense agent exited successfully")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		app.Close()
		return fmt.Errorf("failed to start container: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("Container close failed", zap.Error(err))
		}
	}()

	svc := app.Services()
	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, httpapi.Services{
		Expenses:  svc.Expense,
		Reviews:   svc.Review,
		Approvals: svc.Approval,
		Rules:     svc.Rule,
		Audit:     svc.Audit,
		Reports:   svc.Report,
		Employees: svc.Employee,
	}, utils.NewKVLogger(logger))

	return server.Start(ctx)
}
