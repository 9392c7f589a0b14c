package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"cointrader/internal/outbox"
)

// TradeStore mirrors trade records into Postgres for querying across runs.
// The JSONL outbox stays authoritative; this store is best effort and the
// pipeline tolerates a nil *Postgres.
type TradeStore interface {
	InsertTrade(ctx context.Context, rec outbox.TradeRecord) error
	RecentOutcomes(ctx context.Context, instrument string, limit int) ([]outbox.TradeRecord, error)
	Close()
}

type Postgres struct {
	db *pgxpool.Pool
}

// Open connects and ensures the trades table exists.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	p := &Postgres{db: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	const schemaSQL = `
        CREATE TABLE IF NOT EXISTS trades (
            signal_id       TEXT NOT NULL,
            strategy_id     TEXT NOT NULL,
            instrument      TEXT NOT NULL,
            side            TEXT NOT NULL,
            outcome         TEXT NOT NULL,
            reason          TEXT,
            verdict         TEXT,
            confidence      DOUBLE PRECISION,
            price           DOUBLE PRECISION,
            size_krw        DOUBLE PRECISION,
            fee_krw         DOUBLE PRECISION,
            pnl_krw         DOUBLE PRECISION,
            idempotency_key TEXT,
            recorded_at     TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (signal_id, outcome)
        );
        CREATE INDEX IF NOT EXISTS trades_instrument_at ON trades (instrument, recorded_at DESC);
    `
	_, err := p.db.Exec(ctx, schemaSQL)
	return err
}

func (p *Postgres) InsertTrade(ctx context.Context, rec outbox.TradeRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	const insertSQL = `
        INSERT INTO trades (
            signal_id, strategy_id, instrument, side, outcome,
            reason, verdict, confidence,
            price, size_krw, fee_krw, pnl_krw,
            idempotency_key, recorded_at
        )
        VALUES (
            $1,$2,$3,$4,$5,
            $6,$7,$8,
            $9,$10,$11,$12,
            $13,$14
        )
        ON CONFLICT (signal_id, outcome) DO NOTHING;
    `
	_, err := p.db.Exec(
		ctx, insertSQL,
		rec.SignalID, rec.StrategyID, rec.Instrument, rec.Side, rec.Outcome,
		rec.Reason, rec.Verdict, rec.Confidence,
		rec.Price, rec.SizeKRW, rec.FeeKRW, rec.PnlKRW,
		rec.IdempotencyKey, rec.Timestamp,
	)
	return err
}

func (p *Postgres) RecentOutcomes(ctx context.Context, instrument string, limit int) ([]outbox.TradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	rows, err := p.db.Query(ctx, `
        SELECT signal_id, strategy_id, instrument, side, outcome,
               COALESCE(reason, ''), COALESCE(verdict, ''), COALESCE(confidence, 0),
               COALESCE(price, 0), COALESCE(size_krw, 0), COALESCE(fee_krw, 0), COALESCE(pnl_krw, 0),
               COALESCE(idempotency_key, ''), recorded_at
        FROM trades
        WHERE instrument = $1
        ORDER BY recorded_at DESC
        LIMIT $2
    `, instrument, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []outbox.TradeRecord
	for rows.Next() {
		var rec outbox.TradeRecord
		if err := rows.Scan(
			&rec.SignalID, &rec.StrategyID, &rec.Instrument, &rec.Side, &rec.Outcome,
			&rec.Reason, &rec.Verdict, &rec.Confidence,
			&rec.Price, &rec.SizeKRW, &rec.FeeKRW, &rec.PnlKRW,
			&rec.IdempotencyKey, &rec.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() {
	p.db.Close()
}
