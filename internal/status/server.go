package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"cointrader/internal/logger"
	"cointrader/internal/observ"
	"cointrader/internal/portfolio"
)

// Server exposes a read-only operational surface: health, metric counters
// and the current portfolio snapshot. It never mutates trading state.
type Server struct {
	pm   *portfolio.Manager
	srv  *http.Server
	log  *logger.Entry
	boot time.Time
}

func NewServer(addr string, pm *portfolio.Manager) *Server {
	s := &Server{
		pm:   pm,
		log:  logger.WithComponent("status"),
		boot: time.Now().UTC(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/portfolio", s.handlePortfolio)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Errors other than a clean close are logged,
// not fatal; the trading loop does not depend on this surface.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("status server stopped")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.boot).Seconds()),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, observ.Snapshot())
}

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	v := s.pm.Snapshot()
	writeJSON(w, map[string]any{
		"available_krw":      v.AvailableKRW,
		"equity_krw":         v.Equity,
		"daily_realized_pnl": v.DailyRealizedPnl,
		"daily_pnl_pct":      v.DailyPnlPct,
		"drawdown_pct":       v.DrawdownPct,
		"open_positions":     v.OpenPositions,
		"positions":          v.Positions,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
