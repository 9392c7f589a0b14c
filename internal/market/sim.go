package market

import (
	"context"
	"math/rand"
	"time"
)

// SimFeed emits synthetic ticks with a random-walk price per instrument,
// plus an occasional sentiment reading. Used for paper runs without an
// exchange connection and for demos.
type SimFeed struct {
	instruments []string
	interval    time.Duration
	random      *rand.Rand
	base        map[string]*simState
}

type simState struct {
	price      float64
	openToday  float64
	high24h    float64
	low24h     float64
	volatility float64
	volume     float64
}

// NewSimFeed seeds each instrument at a deterministic base price derived
// from its name so runs are reproducible for a given seed.
func NewSimFeed(instruments []string, interval time.Duration, seed int64) *SimFeed {
	r := rand.New(rand.NewSource(seed))
	base := map[string]*simState{}
	for _, instr := range instruments {
		p := 10_000 + float64(len(instr)*7_000) + r.Float64()*50_000
		base[instr] = &simState{
			price:      p,
			openToday:  p,
			high24h:    p * 1.02,
			low24h:     p * 0.98,
			volatility: 0.002 + r.Float64()*0.004,
			volume:     100 + r.Float64()*1000,
		}
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &SimFeed{instruments: instruments, interval: interval, random: r, base: base}
}

// Run emits events until ctx is cancelled. It never closes out; the caller
// owns the channel.
func (f *SimFeed) Run(ctx context.Context, out chan<- Event) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, instr := range f.instruments {
				ev := f.nextTick(instr, now)
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			n++
			if n%30 == 0 {
				ev := NewSentiment(Sentiment{Index: f.random.Intn(101), Timestamp: now})
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (f *SimFeed) nextTick(instrument string, now time.Time) Event {
	st := f.base[instrument]
	st.price *= 1 + f.random.NormFloat64()*st.volatility
	if st.price > st.high24h {
		st.high24h = st.price
	}
	if st.price < st.low24h {
		st.low24h = st.price
	}
	vol := st.volume * (0.5 + f.random.Float64())
	return NewTick(Tick{
		Instrument: instrument,
		Price:      st.price,
		Volume:     vol,
		High24h:    st.high24h,
		Low24h:     st.low24h,
		OpenToday:  st.openToday,
		Timestamp:  now,
	})
}
