package risk

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cointrader/internal/config"
	"cointrader/internal/portfolio"
)

func testRiskConfig() config.Risk {
	return config.Risk{
		StopLossPct:       -5,
		TakeProfitPct:     10,
		TrailingStopPct:   3,
		DailyLossLimitPct: -3,
		MaxDrawdownPct:    -15,
		MaxPositions:      5,
		FeePct:            0.05,
	}
}

func openPosition(t *testing.T, pm *portfolio.Manager, instrument string, entry, size float64) {
	t.Helper()
	reason, err := pm.ApproveBuy(instrument, size, func(portfolio.View) string { return "" })
	require.NoError(t, err)
	require.Empty(t, reason)
	require.NoError(t, pm.ConfirmOpen(instrument, "test", entry, size, time.Now().UTC()))
}

func TestGatesEvaluateInFixedOrder(t *testing.T) {
	rm := NewManager(testRiskConfig())
	pm := portfolio.NewManager(1_000_000)

	var order []string
	rm.gateObserver = func(name string) { order = append(order, name) }

	reason, err := rm.ApproveBuy(pm, "KRW-BTC", 100_000)
	require.NoError(t, err)
	assert.Empty(t, reason)
	assert.Equal(t, []string{
		ReasonDailyLossLimit,
		ReasonMaxDrawdown,
		ReasonMaxPositions,
		ReasonInsufficientBalance,
		ReasonDuplicatePosition,
	}, order)

	pm.ReleaseReservation("KRW-BTC", 100_000)
}

func TestDailyLossLimitHaltsBuys(t *testing.T) {
	rm := NewManager(testRiskConfig())
	pm := portfolio.NewManager(1_000_000)

	// Realize a -4% day, past the -3% limit.
	openPosition(t, pm, "KRW-BTC", 100, 100_000)
	_, ok := pm.MarkClosing("KRW-BTC")
	require.True(t, ok)
	_, err := pm.ConfirmClose("KRW-BTC", 60_000, time.Now().UTC())
	require.NoError(t, err)

	reason, err := rm.ApproveBuy(pm, "KRW-ETH", 100_000)
	require.NoError(t, err)
	assert.Equal(t, ReasonDailyLossLimit, reason)

	// The rejection reserved nothing.
	assert.False(t, pm.Snapshot().Held["KRW-ETH"])
}

func TestMaxPositionsRejectsSixthBuy(t *testing.T) {
	rm := NewManager(testRiskConfig())
	pm := portfolio.NewManager(10_000_000)

	for i := 0; i < 5; i++ {
		openPosition(t, pm, fmt.Sprintf("KRW-C%d", i), 100, 100_000)
	}

	reason, err := rm.ApproveBuy(pm, "KRW-BTC", 100_000)
	require.NoError(t, err)
	assert.Equal(t, ReasonMaxPositions, reason)
}

func TestInsufficientBalanceAndDuplicateGates(t *testing.T) {
	rm := NewManager(testRiskConfig())
	pm := portfolio.NewManager(150_000)
	openPosition(t, pm, "KRW-BTC", 100, 100_000)

	reason, err := rm.ApproveBuy(pm, "KRW-ETH", 100_000)
	require.NoError(t, err)
	assert.Equal(t, ReasonInsufficientBalance, reason)

	reason, err = rm.ApproveBuy(pm, "KRW-BTC", 40_000)
	require.NoError(t, err)
	assert.Equal(t, ReasonDuplicatePosition, reason)
}

func TestStopLossBoundary(t *testing.T) {
	cfg := testRiskConfig()
	cfg.TrailingStopPct = 50 // keep the trailing stop out of the way
	rm := NewManager(cfg)
	pos := portfolio.Position{Instrument: "KRW-BTC", EntryPrice: 1000, SizeKRW: 100_000, HighWaterMark: 1000}

	assert.Nil(t, rm.CheckExit(pos, 951))

	fe := rm.CheckExit(pos, 950) // exactly -5%
	require.NotNil(t, fe)
	assert.Equal(t, ExitStopLoss, fe.Kind)

	fe = rm.CheckExit(pos, 949)
	require.NotNil(t, fe)
	assert.Equal(t, ExitStopLoss, fe.Kind)
}

func TestTakeProfitBeatsTrailing(t *testing.T) {
	rm := NewManager(testRiskConfig())
	pos := portfolio.Position{Instrument: "KRW-BTC", EntryPrice: 1000, SizeKRW: 100_000, HighWaterMark: 1200}

	// +16.3% profit and a 3.1% drop from the high both hold; the fixed
	// order puts take-profit first.
	fe := rm.CheckExit(pos, 1163)
	require.NotNil(t, fe)
	assert.Equal(t, ExitTakeProfit, fe.Kind)
}

func TestTrailingStopBoundary(t *testing.T) {
	cfg := testRiskConfig()
	cfg.TakeProfitPct = 30 // keep take-profit out of the way
	rm := NewManager(cfg)
	pos := portfolio.Position{Instrument: "KRW-BTC", EntryPrice: 1000, SizeKRW: 100_000, HighWaterMark: 1200}

	assert.Nil(t, rm.CheckExit(pos, 1165))

	fe := rm.CheckExit(pos, 1164) // exactly 1200 * 0.97
	require.NotNil(t, fe)
	assert.Equal(t, ExitTrailingStop, fe.Kind)

	fe = rm.CheckExit(pos, 1163)
	require.NotNil(t, fe)
	assert.Equal(t, ExitTrailingStop, fe.Kind)
	assert.InDelta(t, 3.08, fe.DropFromHighPct, 0.01)
}

func TestMaxDrawdownHaltsBuys(t *testing.T) {
	rm := NewManager(testRiskConfig())
	pm := portfolio.NewManager(1_000_000)

	// Ride a position up then most of the way down: peak equity rises,
	// current equity collapses past -15%.
	openPosition(t, pm, "KRW-BTC", 1000, 500_000)
	pm.Tick("KRW-BTC", 2000) // equity 1.5m, new peak
	pm.Tick("KRW-BTC", 500)  // equity 750k, drawdown -50%

	reason, err := rm.ApproveBuy(pm, "KRW-ETH", 100_000)
	require.NoError(t, err)
	assert.Equal(t, ReasonMaxDrawdown, reason)
}
