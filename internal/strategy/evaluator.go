package strategy

import (
	"sync"

	"cointrader/internal/logger"
	"cointrader/internal/market"
	"cointrader/internal/observ"
)

// PortfolioView is the read-only slice of portfolio state strategies are
// allowed to see.
type PortfolioView interface {
	// PositionEntry reports whether an open position exists for the
	// instrument and its entry price when it does.
	PositionEntry(instrument string) (entryPrice float64, ok bool)
}

// Evaluator runs every enabled strategy against incoming events, one state
// machine per (strategy, instrument) pair. A strategy that has signaled stays
// latched for that instrument until the signal is consumed downstream.
type Evaluator struct {
	strategies   []Strategy
	buyAmountKRW float64
	view         PortfolioView

	mu     sync.Mutex
	states map[string]*State

	log *logger.Entry
}

func NewEvaluator(strategies []Strategy, view PortfolioView, buyAmountKRW float64) *Evaluator {
	return &Evaluator{
		strategies:   strategies,
		buyAmountKRW: buyAmountKRW,
		view:         view,
		states:       make(map[string]*State),
		log:          logger.WithComponent("evaluator"),
	}
}

func stateKey(strategyID, instrument string) string {
	return strategyID + "|" + instrument
}

// Evaluate feeds one event to every strategy for the given instrument and
// returns the signals produced. Callers serialize per instrument; the mutex
// only protects the state map across instruments.
func (e *Evaluator) Evaluate(instrument string, ev market.Event) []*Signal {
	pctx := Context{BuyAmountKRW: e.buyAmountKRW}
	if entry, ok := e.view.PositionEntry(instrument); ok {
		pctx.HasPosition = true
		pctx.EntryPrice = entry
	}

	var out []*Signal
	for _, strat := range e.strategies {
		st := e.state(strat.ID(), instrument)
		if st.Phase == PhaseSignaled {
			continue
		}
		sig := strat.OnEvent(st, instrument, ev, pctx)
		if sig == nil {
			continue
		}
		st.Phase = PhaseSignaled
		observ.IncCounter("signals_generated_total", map[string]string{
			"strategy": strat.Template(), "side": string(sig.Side),
		})
		e.log.WithFields(logger.Fields{
			"signal_id":  sig.ID,
			"strategy":   sig.StrategyID,
			"instrument": sig.Instrument,
			"side":       sig.Side,
			"strength":   sig.Strength,
		}).Info(sig.Rationale)
		out = append(out, sig)
	}
	return out
}

// Consume releases the latch after a signal reached a terminal outcome.
func (e *Evaluator) Consume(strategyID, instrument string) {
	st := e.state(strategyID, instrument)
	if st.Phase == PhaseSignaled {
		st.Phase = PhaseIdle
	}
}

// PhaseOf reports the current lifecycle phase, for status surfaces.
func (e *Evaluator) PhaseOf(strategyID, instrument string) Phase {
	return e.state(strategyID, instrument).Phase
}

func (e *Evaluator) state(strategyID, instrument string) *State {
	key := stateKey(strategyID, instrument)
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[key]
	if !ok {
		st = NewState()
		e.states[key] = st
	}
	return st
}
