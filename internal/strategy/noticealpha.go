package strategy

import (
	"fmt"
	"strings"

	"cointrader/internal/market"
)

// listing keywords carry more weight than generic event keywords.
var listingKeywords = map[string]bool{
	"신규": true,
	"상장": true,
}

// NoticeAlpha buys on exchange notices that mention the instrument together
// with a configured keyword. It never sells.
type NoticeAlpha struct {
	Keywords []string
}

func NewNoticeAlpha(keywords []string) *NoticeAlpha {
	if len(keywords) == 0 {
		keywords = []string{"신규", "상장", "에어드롭"}
	}
	return &NoticeAlpha{Keywords: keywords}
}

func (n *NoticeAlpha) ID() string {
	return fmt.Sprintf("notice_alpha_%d", len(n.Keywords))
}

func (n *NoticeAlpha) Template() string { return "notice_alpha" }

func (n *NoticeAlpha) OnEvent(st *State, instrument string, ev market.Event, pctx Context) *Signal {
	if ev.Type != market.EventNotice {
		return nil
	}
	if st.Phase == PhaseIdle {
		st.Phase = PhaseWatching
	}
	if pctx.HasPosition {
		return nil
	}

	// "KRW-BTC" mentions as "BTC" in notice text.
	symbol := instrument
	if i := strings.Index(symbol, "-"); i >= 0 {
		symbol = symbol[i+1:]
	}
	if !strings.Contains(ev.Notice.Text, symbol) {
		return nil
	}

	matched := ""
	for _, kw := range n.Keywords {
		if strings.Contains(ev.Notice.Text, kw) {
			matched = kw
			break
		}
	}
	if matched == "" {
		return nil
	}

	strength := 0.6
	if listingKeywords[matched] {
		strength = 0.9
	}
	rationale := fmt.Sprintf("notice matched %q for %s", matched, symbol)
	return newSignal(n.ID(), instrument, SideBuy, pctx.BuyAmountKRW, rationale, strength, ev.Notice.Timestamp)
}
