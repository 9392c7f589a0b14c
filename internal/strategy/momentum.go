package strategy

import (
	"fmt"
	"math"
	"time"

	"cointrader/internal/market"
)

// Momentum buys when price rose entryThreshold over the lookback window and
// exits when price falls exitThreshold below the tracked entry.
type Momentum struct {
	Lookback       time.Duration
	EntryThreshold float64 // positive, e.g. 5
	ExitThreshold  float64 // negative, e.g. -3
}

func NewMomentum(lookback time.Duration, entryThreshold, exitThreshold float64) *Momentum {
	if lookback == 0 {
		lookback = 12 * time.Hour
	}
	if entryThreshold == 0 {
		entryThreshold = 5.0
	}
	if exitThreshold == 0 {
		exitThreshold = -3.0
	}
	return &Momentum{Lookback: lookback, EntryThreshold: entryThreshold, ExitThreshold: exitThreshold}
}

func (m *Momentum) ID() string {
	return fmt.Sprintf("momentum_%d_%d_%d", int(m.Lookback.Hours()), int(m.EntryThreshold), int(m.ExitThreshold))
}

func (m *Momentum) Template() string { return "momentum" }

func (m *Momentum) OnEvent(st *State, instrument string, ev market.Event, pctx Context) *Signal {
	if ev.Type != market.EventTick {
		return nil
	}
	t := ev.Tick
	st.recordPrice(t.Timestamp, t.Price, m.Lookback)

	// SELL: reversal from entry while holding.
	if pctx.HasPosition && pctx.EntryPrice > 0 {
		profitPct := (t.Price/pctx.EntryPrice - 1) * 100
		if profitPct <= m.ExitThreshold+pctEps {
			rationale := fmt.Sprintf("momentum reversal %.1f%% <= %.1f%%", profitPct, m.ExitThreshold)
			return newSignal(m.ID(), instrument, SideSell, 0, rationale, math.Abs(profitPct)/10, t.Timestamp)
		}
		return nil
	}

	// BUY: rise from the start of the lookback window.
	start := st.earliestPrice()
	if start <= 0 || len(st.prices) < 2 {
		return nil
	}
	changePct := (t.Price/start - 1) * 100
	if changePct >= m.EntryThreshold-pctEps {
		rationale := fmt.Sprintf("momentum %.1f%% >= %.1f%% over %s", changePct, m.EntryThreshold, m.Lookback)
		return newSignal(m.ID(), instrument, SideBuy, pctx.BuyAmountKRW, rationale, changePct/(m.EntryThreshold*2), t.Timestamp)
	}
	return nil
}
