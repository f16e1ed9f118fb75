package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PaymentSettler pays approved expenses that have no settlement yet
type PaymentSettler interface {
	RetryUnpaid(ctx context.Context, limit int) (int, error)
}

// PaymentRetryConfig holds configuration for the payment retry worker
type PaymentRetryConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// DefaultPaymentRetryConfig returns default configuration
func DefaultPaymentRetryConfig() PaymentRetryConfig {
	return PaymentRetryConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    20,
	}
}

// PaymentRetryWorker periodically settles approved expenses whose payment
// failed at approval time
type PaymentRetryWorker struct {
	config  PaymentRetryConfig
	settler PaymentSettler
	logger  *zap.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	settled   int
	failures  int
}

// NewPaymentRetryWorker creates a new payment retry worker
func NewPaymentRetryWorker(config PaymentRetryConfig, settler PaymentSettler, logger *zap.Logger) *PaymentRetryWorker {
	defaults := DefaultPaymentRetryConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	return &PaymentRetryWorker{
		config:  config,
		settler: settler,
		logger:  logger,
	}
}

// Start begins the polling loop
func (w *PaymentRetryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("payment retry worker already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("PaymentRetryWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize))

	go w.pollLoop(runCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight batch to finish
func (w *PaymentRetryWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	w.cancel()
	done := w.done
	w.mu.Unlock()

	<-done

	w.mu.Lock()
	defer w.mu.Unlock()
	w.logger.Info("PaymentRetryWorker stopped",
		zap.Int("settled", w.settled),
		zap.Int("failed_runs", w.failures))
	return nil
}

// Name returns the worker name for identification
func (w *PaymentRetryWorker) Name() string {
	return "PaymentRetryWorker"
}

// Settled returns how many expenses the worker has paid since start
func (w *PaymentRetryWorker) Settled() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settled
}

func (w *PaymentRetryWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *PaymentRetryWorker) runOnce(ctx context.Context) {
	n, err := w.settler.RetryUnpaid(ctx, w.config.BatchSize)

	w.mu.Lock()
	w.settled += n
	if err != nil {
		w.failures++
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("Payment retry failed", zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Info("Unpaid expenses settled", zap.Int("count", n))
	}
}
