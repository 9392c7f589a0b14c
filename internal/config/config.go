package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Trading holds capital and instrument settings.
type Trading struct {
	InitialKRW   float64  `yaml:"initial_krw"`
	BuyAmountKRW float64  `yaml:"buy_amount_krw"`
	Instruments  []string `yaml:"instruments"`
}

// Risk holds percentage thresholds for the risk manager. Loss-side values
// are negative percentages (stop_loss_pct: -5 means a 5% loss).
type Risk struct {
	StopLossPct       float64 `yaml:"stop_loss_pct"`
	TakeProfitPct     float64 `yaml:"take_profit_pct"`
	TrailingStopPct   float64 `yaml:"trailing_stop_pct"`
	DailyLossLimitPct float64 `yaml:"daily_loss_limit_pct"`
	MaxDrawdownPct    float64 `yaml:"max_drawdown_pct"`
	MaxPositions      int     `yaml:"max_positions"`
	FeePct            float64 `yaml:"fee_pct"`
}

// Judge configures the external signal-judgment call.
type Judge struct {
	Enabled   bool   `yaml:"enabled"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// Execution configures the order path.
type Execution struct {
	OutboxPath       string  `yaml:"outbox_path"`
	DedupeWindowSecs int     `yaml:"dedupe_window_seconds"`
	MaxRetries       int     `yaml:"max_retries"`
	BackoffBaseMs    int     `yaml:"backoff_base_ms"`
	BackoffMaxMs     int     `yaml:"backoff_max_ms"`
	OrdersPerSec     float64 `yaml:"orders_per_sec"`
}

// StrategyParams enables one strategy template with its numeric parameters.
type StrategyParams struct {
	Enabled  bool               `yaml:"enabled"`
	Params   map[string]float64 `yaml:"params"`
	Keywords []string           `yaml:"keywords"`
}

// Database configures the optional Postgres trade-record store.
type Database struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Feed configures the websocket market data connection.
type Feed struct {
	ReconnectIntervalSecs int `yaml:"reconnect_interval_seconds"`
	DedupeRetentionSecs   int `yaml:"dedupe_retention_seconds"`
}

// Logging configures the rotating log sink.
type Logging struct {
	FilePath string `yaml:"file_path"`
}

// Root is the full static configuration, loaded once at startup and never
// mutated at runtime.
type Root struct {
	Mode       string                    `yaml:"mode"` // paper | live
	Trading    Trading                   `yaml:"trading"`
	Risk       Risk                      `yaml:"risk"`
	Judge      Judge                     `yaml:"judge"`
	Execution  Execution                 `yaml:"execution"`
	Strategies map[string]StrategyParams `yaml:"strategies"`
	Database   Database                  `yaml:"database"`
	Feed       Feed                      `yaml:"feed"`
	Logging    Logging                   `yaml:"logging"`
	StatusAddr string                    `yaml:"status_addr"` // empty disables the status server

	// Secrets, environment only.
	UpbitAccessKey  string `yaml:"-"`
	UpbitSecretKey  string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
}

// strategyTemplates is the closed set of recognized strategy names.
var strategyTemplates = map[string]bool{
	"dip_buy":             true,
	"momentum":            true,
	"volatility_breakout": true,
	"fear_greed":          true,
	"volume_surge":        true,
	"notice_alpha":        true,
}

// Load reads the YAML config, applies defaults, overlays env secrets and
// validates eagerly. Unknown keys are rejected.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	c.ApplyDefaults()
	c.UpbitAccessKey = os.Getenv("UPBIT_ACCESS_KEY")
	c.UpbitSecretKey = os.Getenv("UPBIT_SECRET_KEY")
	c.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// ApplyDefaults fills zero values with the documented defaults.
func (c *Root) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = "paper"
	}
	if c.Trading.InitialKRW == 0 {
		c.Trading.InitialKRW = 1_000_000
	}
	if c.Trading.BuyAmountKRW == 0 {
		c.Trading.BuyAmountKRW = 100_000
	}
	if len(c.Trading.Instruments) == 0 {
		c.Trading.Instruments = []string{"KRW-BTC", "KRW-ETH", "KRW-XRP", "KRW-SOL", "KRW-DOGE"}
	}
	if c.Risk.StopLossPct == 0 {
		c.Risk.StopLossPct = -5.0
	}
	if c.Risk.TakeProfitPct == 0 {
		c.Risk.TakeProfitPct = 10.0
	}
	if c.Risk.TrailingStopPct == 0 {
		c.Risk.TrailingStopPct = 3.0
	}
	if c.Risk.DailyLossLimitPct == 0 {
		c.Risk.DailyLossLimitPct = -3.0
	}
	if c.Risk.MaxDrawdownPct == 0 {
		c.Risk.MaxDrawdownPct = -15.0
	}
	if c.Risk.MaxPositions == 0 {
		c.Risk.MaxPositions = 5
	}
	if c.Risk.FeePct == 0 {
		c.Risk.FeePct = 0.05
	}
	if c.Judge.BaseURL == "" {
		c.Judge.BaseURL = "https://api.anthropic.com"
	}
	if c.Judge.TimeoutMs == 0 {
		c.Judge.TimeoutMs = 5000
	}
	if c.Execution.OutboxPath == "" {
		c.Execution.OutboxPath = "data/trades.jsonl"
	}
	if c.Execution.DedupeWindowSecs == 0 {
		c.Execution.DedupeWindowSecs = 90
	}
	if c.Execution.MaxRetries == 0 {
		c.Execution.MaxRetries = 3
	}
	if c.Execution.BackoffBaseMs == 0 {
		c.Execution.BackoffBaseMs = 100
	}
	if c.Execution.BackoffMaxMs == 0 {
		c.Execution.BackoffMaxMs = 5000
	}
	if c.Execution.OrdersPerSec == 0 {
		c.Execution.OrdersPerSec = 8
	}
	if c.Feed.ReconnectIntervalSecs == 0 {
		c.Feed.ReconnectIntervalSecs = 5
	}
	if c.Feed.DedupeRetentionSecs == 0 {
		c.Feed.DedupeRetentionSecs = 600
	}
}

// Validate rejects out-of-range values eagerly so a bad config fails the
// process at startup instead of mid-run.
func (c *Root) Validate() error {
	if c.Mode != "paper" && c.Mode != "live" {
		return fmt.Errorf("mode must be paper or live, got %q", c.Mode)
	}
	if c.Trading.InitialKRW <= 0 {
		return fmt.Errorf("trading.initial_krw must be positive")
	}
	if c.Trading.BuyAmountKRW <= 0 || c.Trading.BuyAmountKRW > c.Trading.InitialKRW {
		return fmt.Errorf("trading.buy_amount_krw must be in (0, initial_krw]")
	}
	if c.Risk.StopLossPct >= 0 {
		return fmt.Errorf("risk.stop_loss_pct must be negative, got %.2f", c.Risk.StopLossPct)
	}
	if c.Risk.TakeProfitPct <= 0 {
		return fmt.Errorf("risk.take_profit_pct must be positive, got %.2f", c.Risk.TakeProfitPct)
	}
	if c.Risk.TrailingStopPct <= 0 || c.Risk.TrailingStopPct >= 100 {
		return fmt.Errorf("risk.trailing_stop_pct must be in (0, 100), got %.2f", c.Risk.TrailingStopPct)
	}
	if c.Risk.DailyLossLimitPct >= 0 {
		return fmt.Errorf("risk.daily_loss_limit_pct must be negative, got %.2f", c.Risk.DailyLossLimitPct)
	}
	if c.Risk.MaxDrawdownPct >= 0 {
		return fmt.Errorf("risk.max_drawdown_pct must be negative, got %.2f", c.Risk.MaxDrawdownPct)
	}
	if c.Risk.MaxPositions < 1 {
		return fmt.Errorf("risk.max_positions must be >= 1, got %d", c.Risk.MaxPositions)
	}
	if c.Risk.FeePct < 0 || c.Risk.FeePct >= 100 {
		return fmt.Errorf("risk.fee_pct must be in [0, 100), got %.4f", c.Risk.FeePct)
	}
	for name := range c.Strategies {
		if !strategyTemplates[name] {
			return fmt.Errorf("unknown strategy %q", name)
		}
	}
	if c.Mode == "live" && (c.UpbitAccessKey == "" || c.UpbitSecretKey == "") {
		return fmt.Errorf("live mode requires UPBIT_ACCESS_KEY and UPBIT_SECRET_KEY")
	}
	if c.Judge.Enabled && c.AnthropicAPIKey == "" {
		return fmt.Errorf("judge.enabled requires ANTHROPIC_API_KEY")
	}
	return nil
}
