package judge

import (
	"context"
	"time"

	"cointrader/internal/logger"
	"cointrader/internal/observ"
	"cointrader/internal/strategy"
)

// Verdict is the judgment outcome for one signal.
type Verdict string

const (
	VerdictExecute Verdict = "EXECUTE"
	VerdictSkip    Verdict = "SKIP"
	VerdictModify  Verdict = "MODIFY"
)

// ReasonUnavailable marks skips caused by the judge itself failing rather
// than a considered rejection.
const ReasonUnavailable = "judgment_unavailable"

// ModifiedParams carries the adjusted order for a MODIFY verdict.
type ModifiedParams struct {
	SizeKRW float64 `json:"size_krw"`
}

// Decision is one judgment. Modified is set only for MODIFY verdicts.
type Decision struct {
	Verdict    Verdict         `json:"verdict"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason"`
	Modified   *ModifiedParams `json:"modified,omitempty"`
}

// Context is the market and account state the judge sees alongside a signal.
type Context struct {
	FearGreedIndex int     `json:"fear_greed_index"`
	OpenPositions  int     `json:"open_positions"`
	DailyPnlPct    float64 `json:"daily_pnl_pct"`
	AvailableKRW   float64 `json:"available_krw"`
}

// Judge renders a verdict on a proposed signal.
type Judge interface {
	Judge(ctx context.Context, sig strategy.Signal, jctx Context) (Decision, error)
}

// Func adapts a plain function to the Judge interface.
type Func func(ctx context.Context, sig strategy.Signal, jctx Context) (Decision, error)

func (f Func) Judge(ctx context.Context, sig strategy.Signal, jctx Context) (Decision, error) {
	return f(ctx, sig, jctx)
}

// Gate wraps a Judge with a timeout and fail-closed semantics: any error,
// timeout or malformed verdict becomes SKIP with ReasonUnavailable. No
// capital may be reserved before the gate returns.
type Gate struct {
	j       Judge
	timeout time.Duration
	enabled bool
	log     *logger.Entry
}

func NewGate(j Judge, timeout time.Duration, enabled bool) *Gate {
	return &Gate{j: j, timeout: timeout, enabled: enabled, log: logger.WithComponent("judge")}
}

// Evaluate renders the final verdict for a signal. A disabled gate passes
// everything through as EXECUTE.
func (g *Gate) Evaluate(ctx context.Context, sig strategy.Signal, jctx Context) Decision {
	if !g.enabled || g.j == nil {
		return Decision{Verdict: VerdictExecute, Confidence: 1, Reason: "judgment_disabled"}
	}

	jctxTimeout, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	d, err := g.j.Judge(jctxTimeout, sig, jctx)
	if err != nil {
		observ.IncCounter("judge_failures_total", nil)
		g.log.WithError(err).WithFields(logger.Fields{"signal_id": sig.ID}).Warn("judgment unavailable, skipping signal")
		return Decision{Verdict: VerdictSkip, Reason: ReasonUnavailable}
	}
	if !valid(d) {
		observ.IncCounter("judge_failures_total", nil)
		g.log.WithFields(logger.Fields{"signal_id": sig.ID, "verdict": string(d.Verdict)}).Warn("malformed judgment, skipping signal")
		return Decision{Verdict: VerdictSkip, Reason: ReasonUnavailable}
	}
	observ.IncCounter("judge_verdicts_total", map[string]string{"verdict": string(d.Verdict)})
	return d
}

func valid(d Decision) bool {
	switch d.Verdict {
	case VerdictExecute, VerdictSkip:
		return true
	case VerdictModify:
		return d.Modified != nil && d.Modified.SizeKRW > 0
	}
	return false
}
