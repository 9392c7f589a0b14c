package market

import (
	"sync"
	"time"
)

// TickDeduper drops duplicate ticks. The feed is at-least-once, so an
// identical (instrument, timestamp) pair may arrive more than once; only the
// first copy is processed. Entries older than the retention window are pruned
// so the map stays bounded.
type TickDeduper struct {
	mu        sync.Mutex
	seen      map[string]map[int64]struct{} // instrument -> unix-nano timestamps
	retention time.Duration
	lastPrune time.Time
}

// NewTickDeduper creates a deduper keeping keys for the given retention.
func NewTickDeduper(retention time.Duration) *TickDeduper {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &TickDeduper{
		seen:      map[string]map[int64]struct{}{},
		retention: retention,
	}
}

// Duplicate reports whether the tick was already seen, recording it if not.
func (d *TickDeduper) Duplicate(t Tick) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if now.Sub(d.lastPrune) > d.retention {
		d.pruneLocked(now)
		d.lastPrune = now
	}

	key := t.Timestamp.UnixNano()
	byInstr, ok := d.seen[t.Instrument]
	if !ok {
		byInstr = map[int64]struct{}{}
		d.seen[t.Instrument] = byInstr
	}
	if _, dup := byInstr[key]; dup {
		return true
	}
	byInstr[key] = struct{}{}
	return false
}

func (d *TickDeduper) pruneLocked(now time.Time) {
	cutoff := now.Add(-d.retention).UnixNano()
	for instr, byInstr := range d.seen {
		for ts := range byInstr {
			if ts < cutoff {
				delete(byInstr, ts)
			}
		}
		if len(byInstr) == 0 {
			delete(d.seen, instr)
		}
	}
}
