package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cointrader/internal/config"
	"cointrader/internal/execution"
	"cointrader/internal/judge"
	"cointrader/internal/market"
	"cointrader/internal/outbox"
	"cointrader/internal/pipeline"
	"cointrader/internal/portfolio"
	"cointrader/internal/risk"
	"cointrader/internal/strategy"
)

// replay drives recorded market events through the paper pipeline offline.
// Judgment is forced off so runs are deterministic; every other component is
// the production wiring.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	eventsPath := flag.String("events", "", "JSONL file of market events (required)")
	outPath := flag.String("out", "data/replay_trades.jsonl", "trade record output")
	flag.Parse()

	if *eventsPath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -events <events.jsonl> [-config <config.yaml>]")
		os.Exit(2)
	}
	if err := run(*configPath, *eventsPath, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, eventsPath, outPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Mode = "paper"
	cfg.Judge.Enabled = false
	cfg.Execution.OutboxPath = outPath

	ob, err := outbox.New(cfg.Execution.OutboxPath, cfg.Execution.DedupeWindowSecs)
	if err != nil {
		return err
	}
	pm := portfolio.NewManager(cfg.Trading.InitialKRW)
	rm := risk.NewManager(cfg.Risk)
	strategies, err := strategy.FromConfig(cfg.Strategies)
	if err != nil {
		return err
	}
	eval := strategy.NewEvaluator(strategies, pm, cfg.Trading.BuyAmountKRW)
	gate := judge.NewGate(nil, time.Second, false)
	engine := execution.NewEngine(execution.NewPaper(cfg.Risk.FeePct), ob, execution.EngineConfig{
		MaxRetries:    cfg.Execution.MaxRetries,
		BackoffBaseMs: cfg.Execution.BackoffBaseMs,
		BackoffMaxMs:  cfg.Execution.BackoffMaxMs,
		OrdersPerSec:  1000, // no pacing offline
	})
	pipe := pipeline.New(cfg, eval, pm, rm, gate, engine, execution.NewRecorder(ob, nil))

	f, err := os.Open(eventsPath)
	if err != nil {
		return err
	}
	defer f.Close()

	events := make(chan market.Event, 1024)
	errc := make(chan error, 1)
	go func() {
		errc <- pipe.Run(context.Background(), events)
	}()

	lines, skipped := 0, 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		ev, err := market.ParseLine(sc.Bytes())
		if err != nil {
			skipped++
			continue
		}
		events <- ev
		lines++
	}
	close(events)
	if err := <-errc; err != nil {
		return err
	}
	if err := sc.Err(); err != nil {
		return err
	}

	s := pm.Summary()
	fmt.Printf("replayed %d events (%d unparseable)\n", lines, skipped)
	fmt.Printf("equity: %.0f -> %.0f KRW (%+.2f%%)\n", s.InitialKRW, s.FinalEquity, s.ReturnPct)
	fmt.Printf("trades: %d (%d winning), total pnl %+.0f KRW\n", s.TotalTrades, s.WinningTrades, s.TotalProfit)

	recs, err := ob.ReadAll()
	if err != nil {
		return err
	}
	byOutcome := map[string]int{}
	for _, r := range recs {
		byOutcome[r.Outcome]++
	}
	for outcome, n := range byOutcome {
		fmt.Printf("  %-14s %d\n", outcome, n)
	}
	return nil
}
