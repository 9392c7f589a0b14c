package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cointrader/internal/market"
)

func tick(instrument string, price float64, ts time.Time) market.Event {
	return market.NewTick(market.Tick{
		Instrument: instrument,
		Price:      price,
		Volume:     1,
		Timestamp:  ts,
	})
}

func TestDipBuySignalSequence(t *testing.T) {
	d := NewDipBuy(-7, 2, 24*time.Hour)
	st := NewState()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	noPos := Context{BuyAmountKRW: 100_000}

	// Prices [100, 100, 93]: a -7% drop from the window max fires a BUY.
	sig := d.OnEvent(st, "KRW-BTC", tick("KRW-BTC", 100, base), noPos)
	assert.Nil(t, sig)
	sig = d.OnEvent(st, "KRW-BTC", tick("KRW-BTC", 100, base.Add(time.Minute)), noPos)
	assert.Nil(t, sig)
	sig = d.OnEvent(st, "KRW-BTC", tick("KRW-BTC", 93, base.Add(2*time.Minute)), noPos)
	require.NotNil(t, sig)
	assert.Equal(t, SideBuy, sig.Side)
	assert.Equal(t, "KRW-BTC", sig.Instrument)
	assert.Equal(t, 100_000.0, sig.SuggestedSizeKRW)

	// Holding from 93: no sell below +2% recovery, sell at 94.86.
	held := Context{HasPosition: true, EntryPrice: 93, BuyAmountKRW: 100_000}
	sig = d.OnEvent(st, "KRW-BTC", tick("KRW-BTC", 93, base.Add(3*time.Minute)), held)
	assert.Nil(t, sig)
	sig = d.OnEvent(st, "KRW-BTC", tick("KRW-BTC", 94.86, base.Add(4*time.Minute)), held)
	require.NotNil(t, sig)
	assert.Equal(t, SideSell, sig.Side)
}

func TestDipBuyNeedsWindowHistory(t *testing.T) {
	d := NewDipBuy(-7, 2, 24*time.Hour)
	st := NewState()
	noPos := Context{BuyAmountKRW: 100_000}

	// A single sample cannot establish a drop.
	sig := d.OnEvent(st, "KRW-BTC", tick("KRW-BTC", 93, time.Now()), noPos)
	assert.Nil(t, sig)
}

func TestDipBuyWindowEviction(t *testing.T) {
	d := NewDipBuy(-7, 2, 24*time.Hour)
	st := NewState()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	noPos := Context{BuyAmountKRW: 100_000}

	// The 100 peak ages out of the 24h window, so 93 against a recent max
	// of 94 is no longer a -7% dip.
	d.OnEvent(st, "KRW-BTC", tick("KRW-BTC", 100, base), noPos)
	d.OnEvent(st, "KRW-BTC", tick("KRW-BTC", 94, base.Add(23*time.Hour)), noPos)
	sig := d.OnEvent(st, "KRW-BTC", tick("KRW-BTC", 93, base.Add(25*time.Hour)), noPos)
	assert.Nil(t, sig)
	assert.Len(t, st.prices, 2)
}

func TestDipBuyIgnoresNonTickEvents(t *testing.T) {
	d := NewDipBuy(-7, 2, 24*time.Hour)
	st := NewState()
	ev := market.NewSentiment(market.Sentiment{Index: 10, Timestamp: time.Now()})
	assert.Nil(t, d.OnEvent(st, "KRW-BTC", ev, Context{}))
}
