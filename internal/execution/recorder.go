package execution

import (
	"context"
	"time"

	"cointrader/internal/logger"
	"cointrader/internal/observ"
	"cointrader/internal/outbox"
	"cointrader/internal/store"
)

// Recorder fans one trade record out to the JSONL outbox and, when
// configured, Postgres. The outbox write is mandatory; the store write is
// best effort and only logged on failure.
type Recorder struct {
	ob  *outbox.Outbox
	db  store.TradeStore
	log *logger.Entry
}

func NewRecorder(ob *outbox.Outbox, db store.TradeStore) *Recorder {
	return &Recorder{ob: ob, db: db, log: logger.WithComponent("recorder")}
}

func (r *Recorder) Record(ctx context.Context, rec outbox.TradeRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if err := r.ob.Append(rec); err != nil {
		return err
	}
	observ.IncCounter("trade_records_total", map[string]string{"outcome": rec.Outcome})
	if r.db != nil {
		if err := r.db.InsertTrade(ctx, rec); err != nil {
			r.log.WithError(err).WithFields(logger.Fields{"signal_id": rec.SignalID}).Warn("store insert failed")
		}
	}
	return nil
}
