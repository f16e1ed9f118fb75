package payment

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/application/port"
)

func wallet(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

func TestSend_UsesProtocolSlot(t *testing.T) {
	c := NewSimulatedClient(Config{}, zap.NewNop())

	first := c.Send(context.Background(), port.PaymentRequest{ExpenseID: "EXP-1", Destination: wallet(1), Amount: 45, Memo: "R=0.10"})
	second := c.Send(context.Background(), port.PaymentRequest{ExpenseID: "EXP-2", Destination: wallet(1), Amount: 45, Memo: "R=0.10"})

	require.True(t, first.OK())
	require.True(t, second.OK())
	assert.Equal(t, 0, first.Slot)
	assert.Equal(t, uint64(0), first.Nonce)
	assert.Equal(t, uint64(1), second.Nonce)
	assert.Equal(t, ModeSimulation, first.Mode)
	assert.True(t, strings.HasPrefix(first.TxHash, "0x"))
	assert.Len(t, first.TxHash, 66)
	assert.NotEqual(t, first.TxHash, second.TxHash)
}

func TestSendBatch_SlotsRotateAndFailuresStayIsolated(t *testing.T) {
	c := NewSimulatedClient(Config{MaxParallelSlots: 10}, zap.NewNop())

	reqs := make([]port.PaymentRequest, 12)
	for i := range reqs {
		reqs[i] = port.PaymentRequest{ExpenseID: fmt.Sprintf("EXP-%d", i), Destination: wallet(i + 1), Amount: 100}
	}
	reqs[4].Destination = "not-a-wallet"
	reqs[7].Amount = 0

	results := c.SendBatch(context.Background(), reqs)
	require.Len(t, results, 12)

	for i, r := range results {
		assert.Equal(t, reqs[i].ExpenseID, r.ExpenseID)
		assert.Equal(t, i%10+1, r.Slot)
	}
	assert.ErrorIs(t, results[4].Err, ErrInvalidDestination)
	assert.ErrorIs(t, results[7].Err, ErrInvalidAmount)
	assert.Empty(t, results[4].TxHash)

	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
		}
	}
	assert.Equal(t, 10, ok)

	// slots 1 and 2 were used twice
	nonces := map[int][]uint64{}
	for _, r := range results {
		if r.OK() {
			nonces[r.Slot] = append(nonces[r.Slot], r.Nonce)
		}
	}
	assert.ElementsMatch(t, []uint64{0, 1}, nonces[1])
	assert.ElementsMatch(t, []uint64{0, 1}, nonces[2])
}

func TestSend_CancelledContext(t *testing.T) {
	c := NewSimulatedClient(Config{RatePerSecond: 0.001, Burst: 1}, zap.NewNop())
	req := port.PaymentRequest{ExpenseID: "EXP-1", Destination: wallet(1), Amount: 10}

	require.True(t, c.Send(context.Background(), req).OK())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := c.Send(ctx, req)
	assert.False(t, res.OK())
	assert.Error(t, res.Err)
}

func TestEncodeMemo(t *testing.T) {
	short := EncodeMemo("R=0.10")
	assert.Equal(t, "R=0.10", string(short[:6]))
	assert.Equal(t, byte(0), short[31])

	long := EncodeMemo(strings.Repeat("x", 40))
	assert.Equal(t, strings.Repeat("x", 32), string(long[:]))
}
