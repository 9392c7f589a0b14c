package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"cointrader/internal/config"
	"cointrader/internal/execution"
	"cointrader/internal/judge"
	"cointrader/internal/logger"
	"cointrader/internal/market"
	"cointrader/internal/observ"
	"cointrader/internal/outbox"
	"cointrader/internal/portfolio"
	"cointrader/internal/risk"
	"cointrader/internal/strategy"
)

// Pipeline wires the evaluator, judgment gate, risk manager and execution
// engine into one event-driven flow. Each instrument gets its own worker
// goroutine so processing is serialized per instrument; cross-instrument
// state lives behind the portfolio mutex.
type Pipeline struct {
	cfg     config.Root
	eval    *strategy.Evaluator
	pm      *portfolio.Manager
	rm      *risk.Manager
	gate    *judge.Gate
	engine  *execution.Engine
	rec     *execution.Recorder
	deduper *market.TickDeduper
	corr    *market.CorrelationCache

	fearGreed atomic.Int64 // last sentiment index, -1 before first reading

	log *logger.Entry
}

func New(
	cfg config.Root,
	eval *strategy.Evaluator,
	pm *portfolio.Manager,
	rm *risk.Manager,
	gate *judge.Gate,
	engine *execution.Engine,
	rec *execution.Recorder,
) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		eval:    eval,
		pm:      pm,
		rm:      rm,
		gate:    gate,
		engine:  engine,
		rec:     rec,
		deduper: market.NewTickDeduper(time.Duration(cfg.Feed.DedupeRetentionSecs) * time.Second),
		corr:    market.NewCorrelationCache(),
		log:     logger.WithComponent("pipeline"),
	}
	p.fearGreed.Store(-1)
	return p
}

// Correlations exposes the pair-correlation cache for status surfaces.
func (p *Pipeline) Correlations() *market.CorrelationCache { return p.corr }

// Run consumes events until the channel closes or the context is cancelled.
// Ticks route to their instrument's worker; notices and sentiment fan out to
// every worker because any instrument may react.
func (p *Pipeline) Run(ctx context.Context, events <-chan market.Event) error {
	workers := make(map[string]chan market.Event, len(p.cfg.Trading.Instruments))
	var wg sync.WaitGroup
	for _, inst := range p.cfg.Trading.Instruments {
		ch := make(chan market.Event, 256)
		workers[inst] = ch
		wg.Add(1)
		go func(inst string, ch <-chan market.Event) {
			defer wg.Done()
			p.worker(ctx, inst, ch)
		}(inst, ch)
	}
	defer func() {
		for _, ch := range workers {
			close(ch)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := ev.Validate(); err != nil {
				observ.IncCounter("events_invalid_total", nil)
				continue
			}
			p.dispatch(workers, ev)
		}
	}
}

func (p *Pipeline) dispatch(workers map[string]chan market.Event, ev market.Event) {
	switch ev.Type {
	case market.EventTick:
		if p.deduper.Duplicate(*ev.Tick) {
			observ.IncCounter("ticks_deduped_total", nil)
			return
		}
		ch, ok := workers[ev.Tick.Instrument]
		if !ok {
			return
		}
		p.send(ch, ev, ev.Tick.Instrument)
	case market.EventSentiment:
		p.fearGreed.Store(int64(ev.Sentiment.Index))
		observ.SetGauge("fear_greed_index", float64(ev.Sentiment.Index), nil)
		for inst, ch := range workers {
			p.send(ch, ev, inst)
		}
	case market.EventNotice:
		for inst, ch := range workers {
			p.send(ch, ev, inst)
		}
	case market.EventCorrelation:
		p.corr.Update(*ev.Correlation)
	}
}

func (p *Pipeline) send(ch chan market.Event, ev market.Event, instrument string) {
	select {
	case ch <- ev:
	default:
		observ.IncCounter("events_dropped_total", map[string]string{"instrument": instrument})
	}
}

func (p *Pipeline) worker(ctx context.Context, instrument string, ch <-chan market.Event) {
	for ev := range ch {
		if ctx.Err() != nil {
			return
		}
		p.handle(ctx, instrument, ev)
	}
}

// handle runs one event through the full pass: mark to market, forced exits
// first, then strategy evaluation. A forced exit closes the position before
// strategies see the tick's signals, so a same-event strategy sell finds no
// position and becomes a no-op.
func (p *Pipeline) handle(ctx context.Context, instrument string, ev market.Event) {
	var lastPrice float64
	if ev.Type == market.EventTick {
		lastPrice = ev.Tick.Price
		p.pm.Tick(instrument, lastPrice)
		if pos, ok := p.pm.Position(instrument); ok {
			if fe := p.rm.CheckExit(pos, lastPrice); fe != nil {
				p.forceExit(ctx, fe, pos)
			}
		}
	}

	for _, sig := range p.eval.Evaluate(instrument, ev) {
		p.process(ctx, *sig, lastPrice)
	}
}

// forceExit closes a position for a stop-loss, take-profit or trailing-stop
// hit. Forced exits bypass judgment and the buy gates entirely.
func (p *Pipeline) forceExit(ctx context.Context, fe *risk.ForcedExit, pos portfolio.Position) {
	closingPos, ok := p.pm.MarkClosing(fe.Instrument)
	if !ok {
		return // already mid-close
	}
	exitID := "exit-" + closingPos.Instrument + "-" + closingPos.OpenedAt.UTC().Format("20060102150405")
	p.log.WithFields(logger.Fields{
		"instrument": fe.Instrument,
		"kind":       string(fe.Kind),
		"price":      fe.Price,
		"profit_pct": fe.ProfitPct,
	}).Info("forced exit")

	fill, err := p.engine.Execute(ctx, execution.Order{
		SignalID:   exitID,
		StrategyID: closingPos.StrategyID,
		Instrument: fe.Instrument,
		Side:       strategy.SideSell,
		SizeKRW:    closingPos.SizeKRW,
		Price:      fe.Price,
		EntryPrice: closingPos.EntryPrice,
	})
	if err != nil {
		if errors.Is(err, execution.ErrDuplicate) {
			p.pm.AbortClose(fe.Instrument)
			return
		}
		p.pm.AbortClose(fe.Instrument)
		p.log.WithError(err).WithFields(logger.Fields{"instrument": fe.Instrument}).Error("forced exit failed")
		p.record(ctx, outbox.TradeRecord{
			SignalID:   exitID,
			StrategyID: closingPos.StrategyID,
			Instrument: fe.Instrument,
			Side:       string(strategy.SideSell),
			Outcome:    outbox.OutcomeFailed,
			Reason:     err.Error(),
			Price:      fe.Price,
		})
		return
	}

	pnl, err := p.pm.ConfirmClose(fe.Instrument, fill.ProceedsKRW, fill.FilledAt)
	if err != nil {
		p.invariant(err, fe.Instrument)
		return
	}
	p.record(ctx, outbox.TradeRecord{
		SignalID:       exitID,
		StrategyID:     closingPos.StrategyID,
		Instrument:     fe.Instrument,
		Side:           string(strategy.SideSell),
		Outcome:        string(fe.Kind),
		Price:          fill.Price,
		SizeKRW:        closingPos.SizeKRW,
		FeeKRW:         fill.FeeKRW,
		PnlKRW:         pnl,
		IdempotencyKey: fill.IdempotencyKey,
	})
}

// process takes one strategy signal through judgment, gating and execution.
// Whatever the fate, exactly one record lands in the outbox and the
// strategy's latch is released so it can signal again.
func (p *Pipeline) process(ctx context.Context, sig strategy.Signal, lastPrice float64) {
	defer p.eval.Consume(sig.StrategyID, sig.Instrument)

	// Sentiment and notice events carry no price; fills still happen at the
	// instrument's last marked price.
	if lastPrice <= 0 {
		if last, ok := p.pm.LastPrice(sig.Instrument); ok {
			lastPrice = last
		}
	}

	snap := p.pm.Snapshot()
	decision := p.gate.Evaluate(ctx, sig, judge.Context{
		FearGreedIndex: int(p.fearGreed.Load()),
		OpenPositions:  snap.OpenPositions,
		DailyPnlPct:    snap.DailyPnlPct,
		AvailableKRW:   snap.AvailableKRW,
	})

	if decision.Verdict == judge.VerdictSkip {
		p.record(ctx, outbox.TradeRecord{
			SignalID:   sig.ID,
			StrategyID: sig.StrategyID,
			Instrument: sig.Instrument,
			Side:       string(sig.Side),
			Outcome:    outbox.OutcomeSkipped,
			Reason:     decision.Reason,
			Verdict:    string(decision.Verdict),
			Confidence: decision.Confidence,
		})
		return
	}

	switch sig.Side {
	case strategy.SideBuy:
		sizeKRW := sig.SuggestedSizeKRW
		if decision.Verdict == judge.VerdictModify {
			// Applied once; the resized order runs the same gates.
			sizeKRW = decision.Modified.SizeKRW
		}
		p.processBuy(ctx, sig, decision, sizeKRW, lastPrice)
	case strategy.SideSell:
		p.processSell(ctx, sig, decision, lastPrice)
	}
}

func (p *Pipeline) processBuy(ctx context.Context, sig strategy.Signal, decision judge.Decision, sizeKRW, lastPrice float64) {
	reason, err := p.rm.ApproveBuy(p.pm, sig.Instrument, sizeKRW)
	if err != nil {
		p.log.WithError(err).WithFields(logger.Fields{"signal_id": sig.ID}).Error("gate evaluation failed")
		return
	}
	if reason != "" {
		p.record(ctx, outbox.TradeRecord{
			SignalID:   sig.ID,
			StrategyID: sig.StrategyID,
			Instrument: sig.Instrument,
			Side:       string(sig.Side),
			Outcome:    outbox.OutcomeRejected,
			Reason:     reason,
			Verdict:    string(decision.Verdict),
			Confidence: decision.Confidence,
			SizeKRW:    sizeKRW,
		})
		return
	}

	// Capital is reserved from here; every exit path below either confirms
	// the fill or releases the reservation.
	fill, err := p.engine.Execute(ctx, execution.Order{
		SignalID:    sig.ID,
		StrategyID:  sig.StrategyID,
		Instrument:  sig.Instrument,
		Side:        strategy.SideBuy,
		SizeKRW:     sizeKRW,
		Price:       lastPrice,
		GeneratedAt: sig.GeneratedAt,
	})
	if err != nil {
		p.pm.ReleaseReservation(sig.Instrument, sizeKRW)
		if errors.Is(err, execution.ErrDuplicate) {
			return // original submission already holds the record
		}
		// REJECTED is reserved for the risk gates; venue rejections and
		// transient exhaustion both surface as execution failures.
		p.record(ctx, outbox.TradeRecord{
			SignalID:   sig.ID,
			StrategyID: sig.StrategyID,
			Instrument: sig.Instrument,
			Side:       string(sig.Side),
			Outcome:    outbox.OutcomeFailed,
			Reason:     err.Error(),
			Verdict:    string(decision.Verdict),
			SizeKRW:    sizeKRW,
		})
		return
	}

	if err := p.pm.ConfirmOpen(sig.Instrument, sig.StrategyID, fill.Price, fill.SpentKRW, fill.FilledAt); err != nil {
		p.invariant(err, sig.Instrument)
		return
	}
	p.record(ctx, outbox.TradeRecord{
		SignalID:       sig.ID,
		StrategyID:     sig.StrategyID,
		Instrument:     sig.Instrument,
		Side:           string(sig.Side),
		Outcome:        outbox.OutcomeFilled,
		Verdict:        string(decision.Verdict),
		Confidence:     decision.Confidence,
		Price:          fill.Price,
		SizeKRW:        fill.SpentKRW,
		FeeKRW:         fill.FeeKRW,
		IdempotencyKey: fill.IdempotencyKey,
	})
}

func (p *Pipeline) processSell(ctx context.Context, sig strategy.Signal, decision judge.Decision, lastPrice float64) {
	pos, ok := p.pm.MarkClosing(sig.Instrument)
	if !ok {
		// Position already gone (forced exit won the race) or mid-close.
		p.record(ctx, outbox.TradeRecord{
			SignalID:   sig.ID,
			StrategyID: sig.StrategyID,
			Instrument: sig.Instrument,
			Side:       string(sig.Side),
			Outcome:    outbox.OutcomeSkipped,
			Reason:     "position_already_closed",
			Verdict:    string(decision.Verdict),
		})
		return
	}

	price := lastPrice
	if price <= 0 {
		price = pos.EntryPrice
	}
	fill, err := p.engine.Execute(ctx, execution.Order{
		SignalID:    sig.ID,
		StrategyID:  sig.StrategyID,
		Instrument:  sig.Instrument,
		Side:        strategy.SideSell,
		SizeKRW:     pos.SizeKRW,
		Price:       price,
		EntryPrice:  pos.EntryPrice,
		GeneratedAt: sig.GeneratedAt,
	})
	if err != nil {
		p.pm.AbortClose(sig.Instrument)
		if errors.Is(err, execution.ErrDuplicate) {
			return
		}
		p.record(ctx, outbox.TradeRecord{
			SignalID:   sig.ID,
			StrategyID: sig.StrategyID,
			Instrument: sig.Instrument,
			Side:       string(sig.Side),
			Outcome:    outbox.OutcomeFailed,
			Reason:     err.Error(),
			Verdict:    string(decision.Verdict),
		})
		return
	}

	pnl, err := p.pm.ConfirmClose(sig.Instrument, fill.ProceedsKRW, fill.FilledAt)
	if err != nil {
		p.invariant(err, sig.Instrument)
		return
	}
	p.record(ctx, outbox.TradeRecord{
		SignalID:       sig.ID,
		StrategyID:     sig.StrategyID,
		Instrument:     sig.Instrument,
		Side:           string(sig.Side),
		Outcome:        outbox.OutcomeFilled,
		Verdict:        string(decision.Verdict),
		Confidence:     decision.Confidence,
		Price:          fill.Price,
		SizeKRW:        pos.SizeKRW,
		FeeKRW:         fill.FeeKRW,
		PnlKRW:         pnl,
		IdempotencyKey: fill.IdempotencyKey,
	})
}

func (p *Pipeline) record(ctx context.Context, rec outbox.TradeRecord) {
	if err := p.rec.Record(ctx, rec); err != nil {
		p.log.WithError(err).WithFields(logger.Fields{"signal_id": rec.SignalID}).Error("record write failed")
	}
}

// invariant reports a state that indicates a concurrency bug, loudly and
// distinguishably. The triggering operation aborts; the process stays up.
func (p *Pipeline) invariant(err error, instrument string) {
	observ.IncCounter("invariant_violations_total", nil)
	p.log.WithError(err).WithFields(logger.Fields{"instrument": instrument}).Error("invariant violation")
}
