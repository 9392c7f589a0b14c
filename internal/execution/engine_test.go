package execution

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cointrader/internal/outbox"
	"cointrader/internal/strategy"
)

type scriptedAdapter struct {
	fills []Fill
	errs  []error
	calls int
}

func (a *scriptedAdapter) Place(_ context.Context, _ Order) (Fill, error) {
	i := a.calls
	a.calls++
	if i < len(a.errs) && a.errs[i] != nil {
		return Fill{}, a.errs[i]
	}
	if i < len(a.fills) {
		return a.fills[i], nil
	}
	return Fill{Price: 100, SpentKRW: 100_000}, nil
}

func testOutbox(t *testing.T) *outbox.Outbox {
	t.Helper()
	ob, err := outbox.New(filepath.Join(t.TempDir(), "trades.jsonl"), 90)
	require.NoError(t, err)
	return ob
}

func testOrder() Order {
	return Order{
		SignalID:   "sig-1",
		StrategyID: "dip_buy_-7_2_24",
		Instrument: "KRW-BTC",
		Side:       strategy.SideBuy,
		SizeKRW:    100_000,
		Price:      100,
	}
}

func fastConfig() EngineConfig {
	return EngineConfig{MaxRetries: 2, BackoffBaseMs: 1, BackoffMaxMs: 2, OrdersPerSec: 1000}
}

func TestEngineSuppressesDuplicateSubmission(t *testing.T) {
	adapter := &scriptedAdapter{}
	e := NewEngine(adapter, testOutbox(t), fastConfig())

	fill, err := e.Execute(context.Background(), testOrder())
	require.NoError(t, err)
	assert.NotEmpty(t, fill.IdempotencyKey)
	assert.Equal(t, 1, adapter.calls)

	// Same signal again inside the minute bucket: no venue call.
	_, err = e.Execute(context.Background(), testOrder())
	assert.True(t, errors.Is(err, ErrDuplicate))
	assert.Equal(t, 1, adapter.calls)
}

func TestEngineDedupesAcrossRestartViaOutbox(t *testing.T) {
	ob := testOutbox(t)
	e1 := NewEngine(&scriptedAdapter{}, ob, fastConfig())
	fill, err := e1.Execute(context.Background(), testOrder())
	require.NoError(t, err)

	// Simulate the restart having durably recorded the fill.
	require.NoError(t, ob.Append(outbox.TradeRecord{
		SignalID:       "sig-1",
		Instrument:     "KRW-BTC",
		Side:           "BUY",
		Outcome:        outbox.OutcomeFilled,
		IdempotencyKey: fill.IdempotencyKey,
	}))

	adapter2 := &scriptedAdapter{}
	e2 := NewEngine(adapter2, ob, fastConfig())
	_, err = e2.Execute(context.Background(), testOrder())
	assert.True(t, errors.Is(err, ErrDuplicate))
	assert.Equal(t, 0, adapter2.calls)
}

func TestEngineRetriesTransientErrors(t *testing.T) {
	adapter := &scriptedAdapter{
		errs:  []error{errors.New("timeout"), errors.New("timeout"), nil},
		fills: []Fill{{}, {}, {Price: 100, SpentKRW: 100_000}},
	}
	e := NewEngine(adapter, testOutbox(t), fastConfig())

	fill, err := e.Execute(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, 3, adapter.calls)
	assert.Equal(t, 100_000.0, fill.SpentKRW)
}

func TestEngineNeverRetriesRejections(t *testing.T) {
	adapter := &scriptedAdapter{errs: []error{&RejectionError{Reason: "insufficient funds"}}}
	e := NewEngine(adapter, testOutbox(t), fastConfig())

	_, err := e.Execute(context.Background(), testOrder())
	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, 1, adapter.calls)
}

func TestEngineGivesUpAfterMaxRetries(t *testing.T) {
	boom := errors.New("connection reset")
	adapter := &scriptedAdapter{errs: []error{boom, boom, boom, boom}}
	e := NewEngine(adapter, testOutbox(t), fastConfig())

	_, err := e.Execute(context.Background(), testOrder())
	require.Error(t, err)
	assert.False(t, errors.As(err, new(*RejectionError)))
	assert.Equal(t, 3, adapter.calls) // initial attempt + 2 retries
}

func TestIdempotencyKeyAnchorsOnOrderTime(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 30, 0, time.UTC)
	key := IdempotencyKey("sig-1", "KRW-BTC", strategy.SideBuy, at)
	assert.Equal(t, "sig-1:KRW-BTC:BUY:202603010900", key)

	// Anywhere inside the same minute maps to the same bucket.
	assert.Equal(t, key, IdempotencyKey("sig-1", "KRW-BTC", strategy.SideBuy, at.Add(25*time.Second)))

	// Execute derives the key from the order's own timestamp, so a replayed
	// submission is suppressed no matter when the wall clock says it ran.
	ord := testOrder()
	ord.GeneratedAt = at
	e := NewEngine(&scriptedAdapter{}, testOutbox(t), fastConfig())
	fill, err := e.Execute(context.Background(), ord)
	require.NoError(t, err)
	assert.Equal(t, key, fill.IdempotencyKey)

	_, err = e.Execute(context.Background(), ord)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestPaperFillFees(t *testing.T) {
	p := NewPaper(0.05)

	t.Run("buy folds fee into cost", func(t *testing.T) {
		fill, err := p.Place(context.Background(), Order{
			Side: strategy.SideBuy, Instrument: "KRW-BTC", SizeKRW: 100_000, Price: 93,
		})
		require.NoError(t, err)
		assert.Equal(t, 100_000.0, fill.SpentKRW)
		assert.InDelta(t, 50, fill.FeeKRW, 0.001)
		assert.Equal(t, 93.0, fill.Price)
	})

	t.Run("sell nets fee out of proceeds", func(t *testing.T) {
		fill, err := p.Place(context.Background(), Order{
			Side: strategy.SideSell, Instrument: "KRW-BTC",
			SizeKRW: 100_000, Price: 94.86, EntryPrice: 93,
		})
		require.NoError(t, err)
		gross := 100_000 * (94.86 / 93)
		assert.InDelta(t, gross*0.0005, fill.FeeKRW, 0.001)
		assert.InDelta(t, gross-fill.FeeKRW, fill.ProceedsKRW, 0.001)
	})

	t.Run("rejects orders without a reference price", func(t *testing.T) {
		_, err := p.Place(context.Background(), Order{Side: strategy.SideBuy, SizeKRW: 100_000})
		var rej *RejectionError
		assert.True(t, errors.As(err, &rej))
	})
}
