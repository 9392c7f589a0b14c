package judge

import (
	"context"

	"cointrader/internal/strategy"
)

// Static always returns the same decision. Used when judgment runs without a
// model and in tests.
type Static struct {
	Decision Decision
	Err      error
}

func (s Static) Judge(_ context.Context, _ strategy.Signal, _ Context) (Decision, error) {
	return s.Decision, s.Err
}

// ApproveAll is a pass-through judge.
var ApproveAll = Static{Decision: Decision{Verdict: VerdictExecute, Confidence: 1, Reason: "auto_approved"}}
