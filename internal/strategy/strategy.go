package strategy

import (
	"time"

	"github.com/google/uuid"

	"cointrader/internal/market"
)

// Side is the proposed trade direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Phase is the lifecycle of one (strategy, instrument) state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWatching
	PhaseSignaled
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseWatching:
		return "WATCHING"
	case PhaseSignaled:
		return "SIGNALED"
	}
	return "UNKNOWN"
}

// Signal is a proposed trade action, immutable once produced and consumed
// exactly once downstream.
type Signal struct {
	ID               string    `json:"id"`
	StrategyID       string    `json:"strategy_id"`
	Instrument       string    `json:"instrument"`
	Side             Side      `json:"side"`
	SuggestedSizeKRW float64   `json:"suggested_size_krw"`
	Rationale        string    `json:"rationale"`
	Strength         float64   `json:"strength"` // 0..1
	GeneratedAt      time.Time `json:"generated_at"`
}

// Context is the read-only portfolio view a strategy sees during evaluation.
type Context struct {
	HasPosition  bool
	EntryPrice   float64
	BuyAmountKRW float64
}

// Strategy evaluates market events against per-instrument state. OnEvent may
// mutate st (windows, phase bookkeeping) and returns at most one signal.
// Implementations are pure given their state and the incoming event. The
// instrument is passed explicitly because notice and sentiment events are not
// instrument-scoped; the evaluator fans them out per instrument.
type Strategy interface {
	ID() string
	Template() string
	OnEvent(st *State, instrument string, ev market.Event, pctx Context) *Signal
}

// pctEps pads percentage threshold comparisons so float rounding cannot
// stop an exact boundary move (100 -> 93 is a -7% drop) from counting.
const pctEps = 1e-9

// sample is one time-stamped observation in a rolling window.
type sample struct {
	ts time.Time
	v  float64
}

// State holds the rolling data for one (strategy, instrument) pair. Created
// on first event, never destroyed during a run; Phase returns to IDLE when a
// signal is consumed.
type State struct {
	Phase Phase

	prices  []sample
	volumes []sample

	lastSentiment int    // last seen fear/greed index, -1 before first reading
	firedDay      string // session-day latch for once-per-day strategies
}

// NewState returns a fresh state machine.
func NewState() *State {
	return &State{Phase: PhaseIdle, lastSentiment: -1}
}

// recordPrice appends a price sample and evicts samples older than horizon.
// Eviction runs on every tick, not only on signal emission.
func (s *State) recordPrice(ts time.Time, price float64, horizon time.Duration) {
	if s.Phase == PhaseIdle {
		s.Phase = PhaseWatching
	}
	s.prices = append(s.prices, sample{ts: ts, v: price})
	s.evict(&s.prices, ts, horizon)
}

// recordVolume appends a volume sample with the same eviction rule.
func (s *State) recordVolume(ts time.Time, vol float64, horizon time.Duration) {
	if s.Phase == PhaseIdle {
		s.Phase = PhaseWatching
	}
	s.volumes = append(s.volumes, sample{ts: ts, v: vol})
	s.evict(&s.volumes, ts, horizon)
}

// evict drops samples older than horizon relative to the newest timestamp
// seen so far, tolerating out-of-order arrivals inside the window.
func (s *State) evict(win *[]sample, now time.Time, horizon time.Duration) {
	newest := now
	for _, sm := range *win {
		if sm.ts.After(newest) {
			newest = sm.ts
		}
	}
	cutoff := newest.Add(-horizon)
	kept := (*win)[:0]
	for _, sm := range *win {
		if !sm.ts.Before(cutoff) {
			kept = append(kept, sm)
		}
	}
	*win = kept
}

// maxPrice returns the highest price in the window, 0 when empty.
func (s *State) maxPrice() float64 {
	max := 0.0
	for _, sm := range s.prices {
		if sm.v > max {
			max = sm.v
		}
	}
	return max
}

// earliestPrice returns the oldest sample in the window, 0 when empty.
func (s *State) earliestPrice() float64 {
	if len(s.prices) == 0 {
		return 0
	}
	earliest := s.prices[0]
	for _, sm := range s.prices[1:] {
		if sm.ts.Before(earliest.ts) {
			earliest = sm
		}
	}
	return earliest.v
}

// avgVolume averages all volume samples except the most recent one so a
// surge is measured against the trailing baseline, not against itself.
func (s *State) avgVolume() float64 {
	if len(s.volumes) < 2 {
		return 0
	}
	sum := 0.0
	for _, sm := range s.volumes[:len(s.volumes)-1] {
		sum += sm.v
	}
	return sum / float64(len(s.volumes)-1)
}

func newSignal(strategyID, instrument string, side Side, sizeKRW float64, rationale string, strength float64, at time.Time) *Signal {
	if strength > 1 {
		strength = 1
	}
	if strength < 0 {
		strength = 0
	}
	return &Signal{
		ID:               uuid.NewString(),
		StrategyID:       strategyID,
		Instrument:       instrument,
		Side:             side,
		SuggestedSizeKRW: sizeKRW,
		Rationale:        rationale,
		Strength:         strength,
		GeneratedAt:      at,
	}
}
