package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cointrader/internal/config"
	"cointrader/internal/execution"
	"cointrader/internal/judge"
	"cointrader/internal/logger"
	"cointrader/internal/market"
	"cointrader/internal/outbox"
	"cointrader/internal/pipeline"
	"cointrader/internal/portfolio"
	"cointrader/internal/risk"
	"cointrader/internal/status"
	"cointrader/internal/store"
	"cointrader/internal/strategy"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	feedKind := flag.String("feed", "", "market feed: sim or upbit (default: sim in paper mode, upbit in live)")
	seed := flag.Int64("seed", time.Now().UnixNano(), "sim feed random seed")
	flag.Parse()

	if err := run(*configPath, *feedKind, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, feedKind string, seed int64) error {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.EnableFileRotation(cfg.Logging.FilePath)
	log := logger.WithComponent("trader")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ob, err := outbox.New(cfg.Execution.OutboxPath, cfg.Execution.DedupeWindowSecs)
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}

	var db store.TradeStore
	if cfg.Database.PostgresDSN != "" {
		pg, err := store.Open(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open trade store: %w", err)
		}
		defer pg.Close()
		db = pg
	}

	pm := portfolio.NewManager(cfg.Trading.InitialKRW)
	rm := risk.NewManager(cfg.Risk)

	strategies, err := strategy.FromConfig(cfg.Strategies)
	if err != nil {
		return err
	}
	if len(strategies) == 0 {
		return fmt.Errorf("no strategies enabled")
	}
	eval := strategy.NewEvaluator(strategies, pm, cfg.Trading.BuyAmountKRW)

	var analyst judge.Judge
	if cfg.Judge.Enabled {
		analyst = judge.NewClaude(cfg.Judge.BaseURL, cfg.Judge.Model, cfg.AnthropicAPIKey)
	}
	gate := judge.NewGate(analyst, time.Duration(cfg.Judge.TimeoutMs)*time.Millisecond, cfg.Judge.Enabled)

	var adapter execution.Adapter
	if cfg.Mode == "live" {
		adapter = execution.NewLive(cfg.UpbitAccessKey, cfg.UpbitSecretKey, cfg.Risk.FeePct)
	} else {
		adapter = execution.NewPaper(cfg.Risk.FeePct)
	}
	engine := execution.NewEngine(adapter, ob, execution.EngineConfig{
		MaxRetries:    cfg.Execution.MaxRetries,
		BackoffBaseMs: cfg.Execution.BackoffBaseMs,
		BackoffMaxMs:  cfg.Execution.BackoffMaxMs,
		OrdersPerSec:  cfg.Execution.OrdersPerSec,
	})
	rec := execution.NewRecorder(ob, db)
	pipe := pipeline.New(cfg, eval, pm, rm, gate, engine, rec)

	if cfg.StatusAddr != "" {
		statusSrv := status.NewServer(cfg.StatusAddr, pm)
		statusSrv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = statusSrv.Shutdown(shutdownCtx)
		}()
	}

	if feedKind == "" {
		feedKind = "sim"
		if cfg.Mode == "live" {
			feedKind = "upbit"
		}
	}
	events := make(chan market.Event, 1024)
	go func() {
		defer close(events)
		switch feedKind {
		case "upbit":
			reconnect := time.Duration(cfg.Feed.ReconnectIntervalSecs) * time.Second
			if err := market.NewUpbitFeed(cfg.Trading.Instruments, reconnect).Run(ctx, events); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("feed stopped")
			}
		default:
			market.NewSimFeed(cfg.Trading.Instruments, time.Second, seed).Run(ctx, events)
		}
	}()

	log.WithFields(logger.Fields{
		"mode":       cfg.Mode,
		"feed":       feedKind,
		"strategies": len(strategies),
	}).Info("trader started")

	err = pipe.Run(ctx, events)
	if err != nil && ctx.Err() == nil {
		return err
	}

	s := pm.Summary()
	log.WithFields(logger.Fields{
		"initial_krw":    s.InitialKRW,
		"final_equity":   s.FinalEquity,
		"return_pct":     s.ReturnPct,
		"total_trades":   s.TotalTrades,
		"winning_trades": s.WinningTrades,
		"total_profit":   s.TotalProfit,
	}).Info("trader stopped")
	return nil
}
