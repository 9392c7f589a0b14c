package strategy

import (
	"fmt"
	"time"

	"cointrader/internal/config"
)

// FromConfig builds the enabled strategies from config, in a stable order.
// Parameter validation happens here so a bad strategy block fails startup.
func FromConfig(cfgs map[string]config.StrategyParams) ([]Strategy, error) {
	order := []string{"dip_buy", "momentum", "volatility_breakout", "fear_greed", "volume_surge", "notice_alpha"}

	var out []Strategy
	for _, name := range order {
		sc, ok := cfgs[name]
		if !ok || !sc.Enabled {
			continue
		}
		strat, err := build(name, sc)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", name, err)
		}
		out = append(out, strat)
	}
	return out, nil
}

func build(name string, sc config.StrategyParams) (Strategy, error) {
	p := func(key string, def float64) float64 {
		if v, ok := sc.Params[key]; ok {
			return v
		}
		return def
	}
	hours := func(key string, def float64) time.Duration {
		return time.Duration(p(key, def) * float64(time.Hour))
	}

	switch name {
	case "dip_buy":
		drop := p("drop_pct", -7)
		recovery := p("recovery_pct", 2)
		if drop >= 0 {
			return nil, fmt.Errorf("drop_pct must be negative, got %.2f", drop)
		}
		if recovery <= 0 {
			return nil, fmt.Errorf("recovery_pct must be positive, got %.2f", recovery)
		}
		return NewDipBuy(drop, recovery, hours("horizon_hours", 24)), nil
	case "momentum":
		entry := p("entry_threshold_pct", 5)
		exit := p("exit_threshold_pct", -3)
		if entry <= 0 {
			return nil, fmt.Errorf("entry_threshold_pct must be positive, got %.2f", entry)
		}
		if exit >= 0 {
			return nil, fmt.Errorf("exit_threshold_pct must be negative, got %.2f", exit)
		}
		return NewMomentum(hours("lookback_hours", 12), entry, exit), nil
	case "volatility_breakout":
		k := p("k", 0.5)
		if k <= 0 || k > 1 {
			return nil, fmt.Errorf("k must be in (0, 1], got %.2f", k)
		}
		return NewVolatilityBreakout(k), nil
	case "fear_greed":
		buy := int(p("buy_threshold", 25))
		sell := int(p("sell_threshold", 75))
		if buy < 0 || sell > 100 || buy >= sell {
			return nil, fmt.Errorf("thresholds must satisfy 0 <= buy < sell <= 100, got %d/%d", buy, sell)
		}
		return NewFearGreed(buy, sell), nil
	case "volume_surge":
		mult := p("multiplier", 3)
		if mult <= 1 {
			return nil, fmt.Errorf("multiplier must be > 1, got %.2f", mult)
		}
		return NewVolumeSurge(hours("lookback_hours", 24), mult), nil
	case "notice_alpha":
		return NewNoticeAlpha(sc.Keywords), nil
	}
	return nil, fmt.Errorf("unknown template %q", name)
}
