package strategy

import (
	"fmt"
	"time"

	"cointrader/internal/market"
)

// VolumeSurge buys when current volume is a multiple of the rolling average
// volume while price is above the session open.
type VolumeSurge struct {
	Lookback   time.Duration
	Multiplier float64
}

func NewVolumeSurge(lookback time.Duration, multiplier float64) *VolumeSurge {
	if lookback == 0 {
		lookback = 24 * time.Hour
	}
	if multiplier == 0 {
		multiplier = 3.0
	}
	return &VolumeSurge{Lookback: lookback, Multiplier: multiplier}
}

func (v *VolumeSurge) ID() string {
	return fmt.Sprintf("volume_surge_%d_%d", int(v.Lookback.Hours()), int(v.Multiplier))
}

func (v *VolumeSurge) Template() string { return "volume_surge" }

func (v *VolumeSurge) OnEvent(st *State, instrument string, ev market.Event, pctx Context) *Signal {
	if ev.Type != market.EventTick {
		return nil
	}
	t := ev.Tick
	st.recordVolume(t.Timestamp, t.Volume, v.Lookback)

	if pctx.HasPosition {
		return nil
	}
	avg := st.avgVolume()
	if avg <= 0 {
		return nil
	}
	ratio := t.Volume / avg
	rising := t.OpenToday > 0 && t.Price > t.OpenToday
	if ratio >= v.Multiplier && rising {
		changePct := (t.Price/t.OpenToday - 1) * 100
		rationale := fmt.Sprintf("volume surge %.1fx avg, price +%.1f%%", ratio, changePct)
		return newSignal(v.ID(), instrument, SideBuy, pctx.BuyAmountKRW, rationale, ratio/(v.Multiplier*2), t.Timestamp)
	}
	return nil
}
