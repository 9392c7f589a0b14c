package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cointrader/internal/config"
)

type fakeView struct {
	entries map[string]float64
}

func (f *fakeView) PositionEntry(instrument string) (float64, bool) {
	e, ok := f.entries[instrument]
	return e, ok
}

func TestEvaluatorLatchesUntilConsumed(t *testing.T) {
	d := NewDipBuy(-7, 2, 24*time.Hour)
	view := &fakeView{entries: map[string]float64{}}
	eval := NewEvaluator([]Strategy{d}, view, 100_000)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	eval.Evaluate("KRW-BTC", tick("KRW-BTC", 100, base))
	sigs := eval.Evaluate("KRW-BTC", tick("KRW-BTC", 93, base.Add(time.Minute)))
	require.Len(t, sigs, 1)
	assert.Equal(t, PhaseSignaled, eval.PhaseOf(d.ID(), "KRW-BTC"))

	// While signaled, the same conditions produce nothing.
	sigs = eval.Evaluate("KRW-BTC", tick("KRW-BTC", 92, base.Add(2*time.Minute)))
	assert.Empty(t, sigs)

	// Consuming re-arms it.
	eval.Consume(d.ID(), "KRW-BTC")
	sigs = eval.Evaluate("KRW-BTC", tick("KRW-BTC", 91, base.Add(3*time.Minute)))
	require.Len(t, sigs, 1)
}

func TestEvaluatorStatePerInstrument(t *testing.T) {
	d := NewDipBuy(-7, 2, 24*time.Hour)
	view := &fakeView{entries: map[string]float64{}}
	eval := NewEvaluator([]Strategy{d}, view, 100_000)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	eval.Evaluate("KRW-BTC", tick("KRW-BTC", 100, base))
	eval.Evaluate("KRW-ETH", tick("KRW-ETH", 200, base))

	// A dip on BTC does not consult ETH's window.
	sigs := eval.Evaluate("KRW-BTC", tick("KRW-BTC", 93, base.Add(time.Minute)))
	require.Len(t, sigs, 1)
	sigs = eval.Evaluate("KRW-ETH", tick("KRW-ETH", 195, base.Add(time.Minute)))
	assert.Empty(t, sigs)
}

func TestEvaluatorSuppliesPositionContext(t *testing.T) {
	d := NewDipBuy(-7, 2, 24*time.Hour)
	view := &fakeView{entries: map[string]float64{"KRW-BTC": 93}}
	eval := NewEvaluator([]Strategy{d}, view, 100_000)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// With an open position at 93, a +2% recovery produces the sell.
	sigs := eval.Evaluate("KRW-BTC", tick("KRW-BTC", 94.86, base))
	require.Len(t, sigs, 1)
	assert.Equal(t, SideSell, sigs[0].Side)
}

func TestFromConfigValidation(t *testing.T) {
	t.Run("builds enabled strategies", func(t *testing.T) {
		strategies, err := FromConfig(map[string]config.StrategyParams{
			"dip_buy":    {Enabled: true, Params: map[string]float64{"drop_pct": -7, "recovery_pct": 2}},
			"momentum":   {Enabled: false},
			"fear_greed": {Enabled: true},
		})
		require.NoError(t, err)
		require.Len(t, strategies, 2)
		assert.Equal(t, "dip_buy_-7_2_24", strategies[0].ID())
	})

	t.Run("rejects bad parameters", func(t *testing.T) {
		_, err := FromConfig(map[string]config.StrategyParams{
			"dip_buy": {Enabled: true, Params: map[string]float64{"drop_pct": 7}},
		})
		assert.Error(t, err)

		_, err = FromConfig(map[string]config.StrategyParams{
			"fear_greed": {Enabled: true, Params: map[string]float64{"buy_threshold": 80, "sell_threshold": 75}},
		})
		assert.Error(t, err)
	})
}
