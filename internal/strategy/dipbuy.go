package strategy

import (
	"fmt"
	"math"
	"time"

	"cointrader/internal/market"
)

// DipBuy buys when price falls dropPct below the rolling maximum of the
// trailing window and sells once price recovers recoveryPct above entry.
type DipBuy struct {
	DropPct     float64 // negative, e.g. -7
	RecoveryPct float64 // positive, e.g. 2
	Horizon     time.Duration
}

// NewDipBuy applies the validated defaults from the original parameter set.
func NewDipBuy(dropPct, recoveryPct float64, horizon time.Duration) *DipBuy {
	if dropPct == 0 {
		dropPct = -7.0
	}
	if recoveryPct == 0 {
		recoveryPct = 2.0
	}
	if horizon == 0 {
		horizon = 24 * time.Hour
	}
	return &DipBuy{DropPct: dropPct, RecoveryPct: recoveryPct, Horizon: horizon}
}

func (d *DipBuy) ID() string {
	return fmt.Sprintf("dip_buy_%d_%d_%d", int(d.DropPct), int(d.RecoveryPct), int(d.Horizon.Hours()))
}

func (d *DipBuy) Template() string { return "dip_buy" }

func (d *DipBuy) OnEvent(st *State, instrument string, ev market.Event, pctx Context) *Signal {
	if ev.Type != market.EventTick {
		return nil
	}
	t := ev.Tick
	st.recordPrice(t.Timestamp, t.Price, d.Horizon)

	// SELL: recovery from entry while holding.
	if pctx.HasPosition && pctx.EntryPrice > 0 {
		profitPct := (t.Price/pctx.EntryPrice - 1) * 100
		if profitPct >= d.RecoveryPct-pctEps {
			rationale := fmt.Sprintf("recovery %.1f%% >= %.1f%% from entry %.0f", profitPct, d.RecoveryPct, pctx.EntryPrice)
			return newSignal(d.ID(), instrument, SideSell, 0, rationale, profitPct/(d.RecoveryPct*2), t.Timestamp)
		}
		return nil
	}

	// BUY: drop from the rolling window maximum.
	max := st.maxPrice()
	if max <= 0 || len(st.prices) < 2 {
		return nil
	}
	dropPct := (t.Price/max - 1) * 100
	if dropPct <= d.DropPct+pctEps {
		rationale := fmt.Sprintf("dip %.1f%% <= %.1f%% from 24h max %.0f", dropPct, d.DropPct, max)
		strength := math.Abs(dropPct) / math.Abs(d.DropPct*2)
		return newSignal(d.ID(), instrument, SideBuy, pctx.BuyAmountKRW, rationale, strength, t.Timestamp)
	}
	return nil
}
