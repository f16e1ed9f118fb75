// Package payment settles approved expenses. The client runs in simulation
// mode: every transfer is validated, sequenced and hashed the same way a
// live submission would be, without touching a ledger.
package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/garyjia/expense-agent/internal/application/port"
)

const (
	// ModeSimulation marks transfers that were not broadcast
	ModeSimulation = "simulation"

	// MemoSize is the fixed width of an on-chain memo
	MemoSize = 32

	// DefaultMaxParallelSlots is the number of sequencing slots reused by batches
	DefaultMaxParallelSlots = 10
)

var (
	// ErrInvalidDestination is returned for malformed wallet addresses
	ErrInvalidDestination = errors.New("invalid destination address")

	// ErrInvalidAmount is returned for non-positive transfers
	ErrInvalidAmount = errors.New("payment amount must be positive")

	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// Config controls sequencing and pacing
type Config struct {
	MaxParallelSlots int     `mapstructure:"max_parallel_slots"`
	RatePerSecond    float64 `mapstructure:"rate_per_second"`
	Burst            int     `mapstructure:"burst"`
}

// SimulatedClient implements port.PaymentClient.
// Single payments use slot 0; batch payments take slots 1..MaxParallelSlots in
// rotation so independent transfers never share a nonce sequence.
type SimulatedClient struct {
	slots   int
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	nonces map[int]uint64
}

// NewSimulatedClient creates a payment client. A non-positive rate disables pacing.
func NewSimulatedClient(cfg Config, logger *zap.Logger) *SimulatedClient {
	slots := cfg.MaxParallelSlots
	if slots <= 0 {
		slots = DefaultMaxParallelSlots
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = slots
	}

	return &SimulatedClient{
		slots:   slots,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		now:     time.Now,
		nonces:  make(map[int]uint64),
	}
}

// Send settles one expense on the protocol slot
func (c *SimulatedClient) Send(ctx context.Context, req port.PaymentRequest) port.PaymentResult {
	return c.submit(ctx, req, 0)
}

// SendBatch settles every request independently. A failure never affects
// the other results.
func (c *SimulatedClient) SendBatch(ctx context.Context, reqs []port.PaymentRequest) []port.PaymentResult {
	results := make([]port.PaymentResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(c.slots)
	for i, req := range reqs {
		i, req := i, req
		slot := i%c.slots + 1
		g.Go(func() error {
			results[i] = c.submit(ctx, req, slot)
			return nil
		})
	}
	_ = g.Wait()

	settled := 0
	for _, r := range results {
		if r.OK() {
			settled++
		}
	}
	c.logger.Info("Batch payment completed",
		zap.Int("requested", len(reqs)),
		zap.Int("settled", settled),
		zap.Int("failed", len(reqs)-settled))

	return results
}

func (c *SimulatedClient) submit(ctx context.Context, req port.PaymentRequest, slot int) port.PaymentResult {
	result := port.PaymentResult{ExpenseID: req.ExpenseID, Slot: slot, Mode: ModeSimulation}

	if err := Validate(req); err != nil {
		result.Err = err
		c.logger.Warn("Payment rejected",
			zap.String("expense_id", req.ExpenseID),
			zap.Error(err))
		return result
	}

	if err := c.limiter.Wait(ctx); err != nil {
		result.Err = fmt.Errorf("payment not submitted: %w", err)
		return result
	}

	result.Nonce = c.reserveNonce(slot)
	memo := EncodeMemo(req.Memo)
	result.TxHash = txHash(req, memo, slot, result.Nonce, c.now())

	c.logger.Info("Payment settled",
		zap.String("expense_id", req.ExpenseID),
		zap.Float64("amount", req.Amount),
		zap.String("tx_hash", result.TxHash),
		zap.Int("slot", slot),
		zap.Uint64("nonce", result.Nonce),
		zap.String("mode", ModeSimulation))

	return result
}

func (c *SimulatedClient) reserveNonce(slot int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.nonces[slot]
	c.nonces[slot] = n + 1
	return n
}

// Validate checks a request before submission
func Validate(req port.PaymentRequest) error {
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !addressPattern.MatchString(req.Destination) {
		return fmt.Errorf("%w: %q", ErrInvalidDestination, req.Destination)
	}
	return nil
}

// EncodeMemo truncates or zero-pads memo to MemoSize bytes
func EncodeMemo(memo string) [MemoSize]byte {
	var out [MemoSize]byte
	copy(out[:], memo)
	return out
}

func txHash(req port.PaymentRequest, memo [MemoSize]byte, slot int, nonce uint64, at time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s%s%.2f%s%d:%d", req.ExpenseID, req.Destination, req.Amount,
		at.UTC().Format(time.RFC3339Nano), slot, nonce)
	h.Write(memo[:])
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// Verify interface compliance
var _ port.PaymentClient = (*SimulatedClient)(nil)
