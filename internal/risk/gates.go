package risk

import (
	"cointrader/internal/config"
	"cointrader/internal/portfolio"
)

// Gate reason codes, recorded verbatim in trade records.
const (
	ReasonDailyLossLimit      = "daily_loss_limit"
	ReasonMaxDrawdown         = "max_drawdown"
	ReasonMaxPositions        = "max_positions"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonDuplicatePosition   = "duplicate_position"
)

// Gate is one named pre-trade check. Check returns the empty string on pass.
type Gate struct {
	Name  string
	Check func(v portfolio.View, instrument string, sizeKRW float64) string
}

// BuyGates returns the gate chain in evaluation order. Account-level gates
// run before position-level ones so a halted account rejects for the halt,
// not for an incidental position condition.
func BuyGates(cfg config.Risk) []Gate {
	return []Gate{
		{Name: ReasonDailyLossLimit, Check: func(v portfolio.View, _ string, _ float64) string {
			if v.DailyPnlPct <= cfg.DailyLossLimitPct {
				return ReasonDailyLossLimit
			}
			return ""
		}},
		{Name: ReasonMaxDrawdown, Check: func(v portfolio.View, _ string, _ float64) string {
			if v.DrawdownPct <= cfg.MaxDrawdownPct {
				return ReasonMaxDrawdown
			}
			return ""
		}},
		{Name: ReasonMaxPositions, Check: func(v portfolio.View, _ string, _ float64) string {
			if v.OpenPositions >= cfg.MaxPositions {
				return ReasonMaxPositions
			}
			return ""
		}},
		{Name: ReasonInsufficientBalance, Check: func(v portfolio.View, _ string, sizeKRW float64) string {
			if v.AvailableKRW < sizeKRW {
				return ReasonInsufficientBalance
			}
			return ""
		}},
		{Name: ReasonDuplicatePosition, Check: func(v portfolio.View, instrument string, _ float64) string {
			if v.Held[instrument] {
				return ReasonDuplicatePosition
			}
			return ""
		}},
	}
}
