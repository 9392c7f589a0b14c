package risk

import (
	"cointrader/internal/config"
	"cointrader/internal/logger"
	"cointrader/internal/observ"
	"cointrader/internal/portfolio"
)

// pctEps pads the threshold comparisons so float rounding cannot stop an
// exact boundary move (1000 -> 950 is a -5% loss) from triggering an exit.
const pctEps = 1e-9

// ExitKind names a forced exit. The values double as trade-record outcomes.
type ExitKind string

const (
	ExitStopLoss     ExitKind = "STOP_LOSS"
	ExitTakeProfit   ExitKind = "TAKE_PROFIT"
	ExitTrailingStop ExitKind = "TRAILING_STOP"
)

// ForcedExit is a mandatory close decision. It bypasses judgment and takes
// precedence over any strategy sell for the same instrument.
type ForcedExit struct {
	Kind            ExitKind
	Instrument      string
	Price           float64
	ProfitPct       float64
	DropFromHighPct float64
}

// Manager owns the pre-trade gate chain and the position exit rules.
type Manager struct {
	cfg   config.Risk
	gates []Gate
	log   *logger.Entry

	// gateObserver sees each gate name as it is evaluated, for tests that
	// assert ordering. Nil in production.
	gateObserver func(name string)
}

func NewManager(cfg config.Risk) *Manager {
	return &Manager{
		cfg:   cfg,
		gates: BuyGates(cfg),
		log:   logger.WithComponent("risk"),
	}
}

// ApproveBuy runs every gate in order against one portfolio snapshot and,
// when all pass, reserves the capital in the same critical section. Returns
// the first failing gate's reason code, or empty on approval.
func (m *Manager) ApproveBuy(pm *portfolio.Manager, instrument string, sizeKRW float64) (string, error) {
	reason, err := pm.ApproveBuy(instrument, sizeKRW, func(v portfolio.View) string {
		for _, g := range m.gates {
			if m.gateObserver != nil {
				m.gateObserver(g.Name)
			}
			if r := g.Check(v, instrument, sizeKRW); r != "" {
				return r
			}
		}
		return ""
	})
	if err != nil {
		return "", err
	}
	if reason != "" {
		observ.IncCounter("risk_rejections_total", map[string]string{"gate": reason})
		m.log.WithFields(logger.Fields{
			"instrument": instrument,
			"size_krw":   sizeKRW,
			"gate":       reason,
		}).Info("buy rejected")
	}
	return reason, nil
}

// CheckExit evaluates the forced-exit rules for one position at the current
// price: stop-loss first, then take-profit, then trailing stop. Callers mark
// the position to market first so the high-water mark reflects this tick.
func (m *Manager) CheckExit(pos portfolio.Position, price float64) *ForcedExit {
	if pos.EntryPrice <= 0 || price <= 0 {
		return nil
	}
	profitPct := (price/pos.EntryPrice - 1) * 100
	dropPct := 0.0
	if pos.HighWaterMark > 0 {
		dropPct = (1 - price/pos.HighWaterMark) * 100
	}

	var kind ExitKind
	switch {
	case profitPct <= m.cfg.StopLossPct+pctEps:
		kind = ExitStopLoss
	case profitPct >= m.cfg.TakeProfitPct-pctEps:
		kind = ExitTakeProfit
	case dropPct >= m.cfg.TrailingStopPct-pctEps:
		kind = ExitTrailingStop
	default:
		return nil
	}
	observ.IncCounter("forced_exits_total", map[string]string{"kind": string(kind)})
	return &ForcedExit{
		Kind:            kind,
		Instrument:      pos.Instrument,
		Price:           price,
		ProfitPct:       profitPct,
		DropFromHighPct: dropPct,
	}
}
