package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cointrader/internal/logger"
	"cointrader/internal/observ"
	"cointrader/internal/outbox"
	"cointrader/internal/strategy"
)

// ErrDuplicate marks an order suppressed by the idempotency check. The
// original submission's outcome stands; callers must not treat this as a
// failure.
var ErrDuplicate = errors.New("duplicate order suppressed")

// RejectionError is a terminal exchange rejection. Never retried.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return "order rejected: " + e.Reason }

// Order is one submission to an adapter.
type Order struct {
	SignalID   string
	StrategyID string
	Instrument string
	Side       strategy.Side
	SizeKRW    float64 // buys: KRW to spend; sells: cost basis being closed
	Price      float64 // reference price at submission
	EntryPrice float64 // sells only

	// GeneratedAt anchors the idempotency key's time bucket so a replayed
	// submission of the same order maps to the same key even when the
	// replay straddles a minute boundary. Zero falls back to wall time.
	GeneratedAt time.Time
}

// Fill is the settled result of an order.
type Fill struct {
	Price       float64
	SpentKRW    float64 // buys: total cost, fee included
	ProceedsKRW float64 // sells: net proceeds after fee
	FeeKRW      float64
	FilledAt    time.Time

	// IdempotencyKey is set by the engine so trade records can carry it.
	IdempotencyKey string
}

// Adapter places one order against a venue, paper or live.
type Adapter interface {
	Place(ctx context.Context, ord Order) (Fill, error)
}

// Engine wraps an adapter with idempotency, bounded retry and rate limiting.
// The same signal can reach Execute twice (crash replay, a racing caller);
// the dedupe cache plus the outbox scan make the second submission a no-op.
type Engine struct {
	adapter Adapter
	ob      *outbox.Outbox
	limiter *rate.Limiter
	log     *logger.Entry

	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

type EngineConfig struct {
	MaxRetries    int
	BackoffBaseMs int
	BackoffMaxMs  int
	OrdersPerSec  float64
}

func NewEngine(adapter Adapter, ob *outbox.Outbox, cfg EngineConfig) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBaseMs <= 0 {
		cfg.BackoffBaseMs = 100
	}
	if cfg.BackoffMaxMs <= 0 {
		cfg.BackoffMaxMs = 5000
	}
	if cfg.OrdersPerSec <= 0 {
		cfg.OrdersPerSec = 8
	}
	return &Engine{
		adapter:     adapter,
		ob:          ob,
		limiter:     rate.NewLimiter(rate.Limit(cfg.OrdersPerSec), 1),
		log:         logger.WithComponent("execution"),
		maxRetries:  cfg.MaxRetries,
		backoffBase: time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		backoffMax:  time.Duration(cfg.BackoffMaxMs) * time.Millisecond,
		seen:        make(map[string]time.Time),
	}
}

// IdempotencyKey buckets submissions to the minute so a crash-and-replay of
// the same signal inside the window collapses to one order.
func IdempotencyKey(signalID, instrument string, side strategy.Side, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", signalID, instrument, side, at.UTC().Format("200601021504"))
}

// Execute submits one order. Returns ErrDuplicate when the idempotency key
// was already used, a *RejectionError for terminal rejections, or the last
// transient error after retries are exhausted.
func (e *Engine) Execute(ctx context.Context, ord Order) (Fill, error) {
	at := ord.GeneratedAt
	if at.IsZero() {
		at = time.Now()
	}
	key := IdempotencyKey(ord.SignalID, ord.Instrument, ord.Side, at)

	if e.alreadySeen(key) {
		observ.IncCounter("orders_deduped_total", nil)
		return Fill{}, ErrDuplicate
	}
	if dup, err := e.ob.HasRecentOrder(key); err != nil {
		return Fill{}, fmt.Errorf("dedupe scan: %w", err)
	} else if dup {
		observ.IncCounter("orders_deduped_total", nil)
		return Fill{}, ErrDuplicate
	}
	e.markSeen(key)

	if err := e.limiter.Wait(ctx); err != nil {
		return Fill{}, err
	}

	var lastErr error
	backoff := e.backoffBase
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Fill{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > e.backoffMax {
				backoff = e.backoffMax
			}
			observ.IncCounter("order_retries_total", nil)
		}

		fill, err := e.adapter.Place(ctx, ord)
		if err == nil {
			fill.IdempotencyKey = key
			observ.IncCounter("orders_filled_total", map[string]string{"side": string(ord.Side)})
			return fill, nil
		}
		var rej *RejectionError
		if errors.As(err, &rej) {
			observ.IncCounter("orders_rejected_total", nil)
			return Fill{}, err
		}
		lastErr = err
		e.log.WithError(err).WithFields(logger.Fields{
			"signal_id": ord.SignalID,
			"attempt":   attempt + 1,
		}).Warn("order attempt failed")
	}
	observ.IncCounter("orders_failed_total", nil)
	return Fill{}, fmt.Errorf("order failed after %d attempts: %w", e.maxRetries+1, lastErr)
}

func (e *Engine) alreadySeen(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.seen[key]
	return ok
}

func (e *Engine) markSeen(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen[key] = time.Now()
	// Drop stale keys so long runs don't grow without bound.
	cutoff := time.Now().Add(-time.Hour)
	for k, t := range e.seen {
		if t.Before(cutoff) {
			delete(e.seen, k)
		}
	}
}
