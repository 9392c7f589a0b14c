package strategy

import (
	"fmt"

	"cointrader/internal/market"
)

// FearGreed is contrarian on the sentiment index: buy extreme fear, sell
// extreme greed. Signals fire only on threshold crossings, not on every
// reading while already past a threshold.
type FearGreed struct {
	BuyThreshold  int
	SellThreshold int
}

func NewFearGreed(buyThreshold, sellThreshold int) *FearGreed {
	if buyThreshold == 0 {
		buyThreshold = 25
	}
	if sellThreshold == 0 {
		sellThreshold = 75
	}
	return &FearGreed{BuyThreshold: buyThreshold, SellThreshold: sellThreshold}
}

func (f *FearGreed) ID() string {
	return fmt.Sprintf("fear_greed_%d_%d", f.BuyThreshold, f.SellThreshold)
}

func (f *FearGreed) Template() string { return "fear_greed" }

func (f *FearGreed) OnEvent(st *State, instrument string, ev market.Event, pctx Context) *Signal {
	if ev.Type != market.EventSentiment {
		return nil
	}
	idx := ev.Sentiment.Index
	prev := st.lastSentiment
	st.lastSentiment = idx
	if st.Phase == PhaseIdle {
		st.Phase = PhaseWatching
	}

	crossedDown := prev < 0 || prev > f.BuyThreshold
	crossedUp := prev < 0 || prev < f.SellThreshold

	if pctx.HasPosition && idx >= f.SellThreshold && crossedUp {
		strength := float64(idx-f.SellThreshold) / 25
		if strength < 0.3 {
			strength = 0.3
		}
		rationale := fmt.Sprintf("extreme greed: index %d >= %d", idx, f.SellThreshold)
		return newSignal(f.ID(), instrument, SideSell, 0, rationale, strength, ev.Sentiment.Timestamp)
	}

	if !pctx.HasPosition && idx <= f.BuyThreshold && crossedDown {
		strength := float64(f.BuyThreshold-idx) / 25
		if strength < 0.3 {
			strength = 0.3
		}
		rationale := fmt.Sprintf("extreme fear: index %d <= %d", idx, f.BuyThreshold)
		return newSignal(f.ID(), instrument, SideBuy, pctx.BuyAmountKRW, rationale, strength, ev.Sentiment.Timestamp)
	}
	return nil
}
