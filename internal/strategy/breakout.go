package strategy

import (
	"fmt"

	"cointrader/internal/market"
)

// VolatilityBreakout buys when price breaks above
// open + k * (prevHigh - prevLow), at most once per session day.
type VolatilityBreakout struct {
	K float64
}

func NewVolatilityBreakout(k float64) *VolatilityBreakout {
	if k == 0 {
		k = 0.5
	}
	return &VolatilityBreakout{K: k}
}

func (v *VolatilityBreakout) ID() string {
	return fmt.Sprintf("volatility_breakout_%d", int(v.K*10))
}

func (v *VolatilityBreakout) Template() string { return "volatility_breakout" }

func (v *VolatilityBreakout) OnEvent(st *State, instrument string, ev market.Event, pctx Context) *Signal {
	if ev.Type != market.EventTick {
		return nil
	}
	t := ev.Tick
	if st.Phase == PhaseIdle {
		st.Phase = PhaseWatching
	}
	if pctx.HasPosition {
		return nil
	}
	rangeVal := t.High24h - t.Low24h
	if rangeVal <= 0 || t.OpenToday <= 0 {
		return nil
	}
	target := t.OpenToday + v.K*rangeVal
	if t.Price <= target {
		return nil
	}

	// One breakout signal per session day, even if the approval round-trip
	// resets the phase latch before the next tick.
	day := t.Timestamp.UTC().Format("2006-01-02")
	if st.firedDay == day {
		return nil
	}
	st.firedDay = day

	strength := (t.Price - target) / rangeVal
	if strength < 0.1 {
		strength = 0.1
	}
	rationale := fmt.Sprintf("breakout %.0f > target %.0f (open %.0f + %.1f*range %.0f)", t.Price, target, t.OpenToday, v.K, rangeVal)
	return newSignal(v.ID(), instrument, SideBuy, pctx.BuyAmountKRW, rationale, strength, t.Timestamp)
}
