package outbox

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Trade outcomes. Every signal that reaches the pipeline ends in exactly one
// of these, and forced exits record which rule fired.
const (
	OutcomeFilled       = "FILLED"
	OutcomeRejected     = "REJECTED"
	OutcomeSkipped      = "SKIPPED"
	OutcomeFailed       = "FAILED"
	OutcomeStopLoss     = "STOP_LOSS"
	OutcomeTakeProfit   = "TAKE_PROFIT"
	OutcomeTrailingStop = "TRAILING_STOP"
)

// TradeRecord is one line of the append-only trade log. Records are written
// for every terminal outcome, not just fills, so the file replays the full
// decision history.
type TradeRecord struct {
	SignalID       string    `json:"signal_id"`
	StrategyID     string    `json:"strategy_id"`
	Instrument     string    `json:"instrument"`
	Side           string    `json:"side"`
	Outcome        string    `json:"outcome"`
	Reason         string    `json:"reason,omitempty"`
	Verdict        string    `json:"verdict,omitempty"`
	Confidence     float64   `json:"confidence,omitempty"`
	Price          float64   `json:"price,omitempty"`
	SizeKRW        float64   `json:"size_krw,omitempty"`
	FeeKRW         float64   `json:"fee_krw,omitempty"`
	PnlKRW         float64   `json:"pnl_krw,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Outbox is the append-only JSONL trade log. It doubles as the durable side
// of order dedupe: HasRecentOrder scans the tail window for an idempotency
// key so a restart cannot resubmit an order the previous process sent.
type Outbox struct {
	mu           sync.Mutex
	path         string
	dedupeWindow time.Duration
}

func New(path string, dedupeWindowSecs int) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create outbox dir: %w", err)
	}
	return &Outbox{
		path:         path,
		dedupeWindow: time.Duration(dedupeWindowSecs) * time.Second,
	}, nil
}

// Append writes one record as a single JSON line.
func (o *Outbox) Append(rec TradeRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// HasRecentOrder reports whether a record with the given idempotency key was
// written inside the dedupe window. Unparseable lines are skipped.
func (o *Outbox) HasRecentOrder(key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.Open(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	cutoff := time.Now().UTC().Add(-o.dedupeWindow)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec TradeRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		if rec.IdempotencyKey == key {
			return true, nil
		}
	}
	return false, sc.Err()
}

// ReadAll loads every parseable record, oldest first.
func (o *Outbox) ReadAll() ([]TradeRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.Open(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []TradeRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec TradeRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}
