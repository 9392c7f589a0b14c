package execution

import (
	"context"
	"time"

	"cointrader/internal/strategy"
)

// Paper fills orders instantly at the reference price, charging the
// configured taker fee. No slippage model; the reference price is the last
// tick the pipeline saw.
type Paper struct {
	feePct float64
}

func NewPaper(feePct float64) *Paper {
	return &Paper{feePct: feePct}
}

func (p *Paper) Place(_ context.Context, ord Order) (Fill, error) {
	if ord.Price <= 0 {
		return Fill{}, &RejectionError{Reason: "no reference price"}
	}
	feeRate := p.feePct / 100
	now := time.Now().UTC()

	if ord.Side == strategy.SideBuy {
		fee := ord.SizeKRW * feeRate
		return Fill{
			Price:    ord.Price,
			SpentKRW: ord.SizeKRW,
			FeeKRW:   fee,
			FilledAt: now,
		}, nil
	}

	// Sell: gross proceeds scale the basis by the price move, fee comes out
	// of the gross.
	if ord.EntryPrice <= 0 {
		return Fill{}, &RejectionError{Reason: "sell without entry price"}
	}
	gross := ord.SizeKRW * (ord.Price / ord.EntryPrice)
	fee := gross * feeRate
	return Fill{
		Price:       ord.Price,
		ProceedsKRW: gross - fee,
		FeeKRW:      fee,
		FilledAt:    now,
	}, nil
}
