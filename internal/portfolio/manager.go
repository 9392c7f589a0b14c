package portfolio

import (
	"errors"
	"sync"
	"time"

	"cointrader/internal/observ"
)

// ErrInvariant marks states that must never occur: negative balance, a
// duplicate open, a confirm without a reservation. Callers treat it as a bug,
// not an operational error.
var ErrInvariant = errors.New("portfolio invariant violated")

// Position is one open holding, sized in KRW at entry.
type Position struct {
	Instrument    string    `json:"instrument"`
	StrategyID    string    `json:"strategy_id"`
	EntryPrice    float64   `json:"entry_price"`
	SizeKRW       float64   `json:"size_krw"` // cost basis, fee included
	HighWaterMark float64   `json:"high_water_mark"`
	OpenedAt      time.Time `json:"opened_at"`
}

// View is a consistent snapshot taken under the manager lock. Gate checks run
// against a single View so no decision mixes two moments in time.
type View struct {
	AvailableKRW     float64
	Equity           float64
	DailyRealizedPnl float64
	DailyPnlPct      float64
	DrawdownPct      float64
	OpenPositions    int // open plus reserved
	Positions        map[string]Position
	Held             map[string]bool // open, reserved or closing
}

// Summary is the end-of-run report.
type Summary struct {
	InitialKRW    float64
	FinalEquity   float64
	ReturnPct     float64
	TotalTrades   int
	WinningTrades int
	TotalProfit   float64
}

// Manager owns all capital accounting behind a single mutex. Reservations
// hold capital between gate approval and fill confirmation so concurrent
// buys cannot overspend; the closing flag keeps the exit monitor from firing
// on a position that is already mid-close.
type Manager struct {
	mu sync.Mutex

	initialKRW   float64
	availableKRW float64
	positions    map[string]*Position
	reserved     map[string]float64
	closing      map[string]bool
	lastPrice    map[string]float64

	dailyDate        string // UTC day of the daily counters
	dayStartEquity   float64
	dailyRealizedPnl float64
	peakEquity       float64

	totalTrades   int
	winningTrades int
	totalProfit   float64
}

func NewManager(initialKRW float64) *Manager {
	return &Manager{
		initialKRW:     initialKRW,
		availableKRW:   initialKRW,
		positions:      make(map[string]*Position),
		reserved:       make(map[string]float64),
		closing:        make(map[string]bool),
		lastPrice:      make(map[string]float64),
		dailyDate:      time.Now().UTC().Format("2006-01-02"),
		dayStartEquity: initialKRW,
		peakEquity:     initialKRW,
	}
}

// ApproveBuy runs the gate chain against a consistent snapshot and, when every
// gate passes, reserves sizeKRW in the same critical section. The returned
// reason is empty on approval, otherwise the first failing gate's code.
func (m *Manager) ApproveBuy(instrument string, sizeKRW float64, gates func(View) string) (string, error) {
	if sizeKRW <= 0 {
		return "", errors.New("size must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(time.Now().UTC())

	if reason := gates(m.viewLocked()); reason != "" {
		return reason, nil
	}
	if m.availableKRW < sizeKRW {
		// Gates include a balance check; this guards the invariant anyway.
		return "insufficient_balance", nil
	}
	m.availableKRW -= sizeKRW
	m.reserved[instrument] += sizeKRW
	return "", nil
}

// ReleaseReservation returns reserved capital after a failed or rejected buy.
func (m *Manager) ReleaseReservation(instrument string, sizeKRW float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.availableKRW += sizeKRW
	m.reserved[instrument] -= sizeKRW
	if m.reserved[instrument] <= 0 {
		delete(m.reserved, instrument)
	}
}

// ConfirmOpen converts a reservation into an open position. spentKRW is the
// actual cost including fees; any unspent remainder returns to cash.
func (m *Manager) ConfirmOpen(instrument, strategyID string, entryPrice, spentKRW float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	held := m.reserved[instrument]
	if held <= 0 {
		return errors.Join(ErrInvariant, errors.New("confirm open without reservation: "+instrument))
	}
	if _, exists := m.positions[instrument]; exists {
		return errors.Join(ErrInvariant, errors.New("duplicate open: "+instrument))
	}
	if spentKRW > held {
		return errors.Join(ErrInvariant, errors.New("fill exceeds reservation: "+instrument))
	}
	delete(m.reserved, instrument)
	m.availableKRW += held - spentKRW
	m.positions[instrument] = &Position{
		Instrument:    instrument,
		StrategyID:    strategyID,
		EntryPrice:    entryPrice,
		SizeKRW:       spentKRW,
		HighWaterMark: entryPrice,
		OpenedAt:      at,
	}
	m.lastPrice[instrument] = entryPrice
	m.gaugesLocked()
	return nil
}

// MarkClosing flags a position as mid-close and returns a copy of it. The
// second return is false when there is no position or a close is already in
// flight, which serializes the exit monitor against strategy sells.
func (m *Manager) MarkClosing(instrument string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[instrument]
	if !ok || m.closing[instrument] {
		return Position{}, false
	}
	m.closing[instrument] = true
	return *pos, true
}

// AbortClose clears the closing flag after a failed sell.
func (m *Manager) AbortClose(instrument string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.closing, instrument)
}

// ConfirmClose settles a filled sell: proceeds (net of fees) return to cash
// and realized P&L feeds the daily counters. Returns the realized P&L.
func (m *Manager) ConfirmClose(instrument string, proceedsKRW float64, at time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(at.UTC())

	pos, ok := m.positions[instrument]
	if !ok {
		return 0, errors.Join(ErrInvariant, errors.New("close without position: "+instrument))
	}
	pnl := proceedsKRW - pos.SizeKRW
	m.availableKRW += proceedsKRW
	m.dailyRealizedPnl += pnl
	m.totalProfit += pnl
	m.totalTrades++
	if pnl > 0 {
		m.winningTrades++
	}
	delete(m.positions, instrument)
	delete(m.closing, instrument)
	m.gaugesLocked()
	return pnl, nil
}

// Tick marks an instrument to market, advancing the high-water mark and the
// peak-equity tracker. The mark happens before any exit decision reads the
// position so trailing stops measure from the true high.
func (m *Manager) Tick(instrument string, price float64) {
	if price <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(time.Now().UTC())
	m.lastPrice[instrument] = price
	if pos, ok := m.positions[instrument]; ok && price > pos.HighWaterMark {
		pos.HighWaterMark = price
	}
	eq := m.equityLocked()
	if eq > m.peakEquity {
		m.peakEquity = eq
	}
	m.gaugesLocked()
}

// LastPrice reports the most recent marked price for an instrument.
func (m *Manager) LastPrice(instrument string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.lastPrice[instrument]
	return p, ok
}

// PositionEntry reports the entry price of an open position, if any.
func (m *Manager) PositionEntry(instrument string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[instrument]
	if !ok {
		return 0, false
	}
	return pos.EntryPrice, true
}

// Position returns a copy of the open position for an instrument.
func (m *Manager) Position(instrument string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[instrument]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Snapshot returns a consistent View for callers outside the approval path.
func (m *Manager) Snapshot() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(time.Now().UTC())
	return m.viewLocked()
}

// Summary reports lifetime totals, for shutdown logging.
func (m *Manager) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	eq := m.equityLocked()
	return Summary{
		InitialKRW:    m.initialKRW,
		FinalEquity:   eq,
		ReturnPct:     (eq/m.initialKRW - 1) * 100,
		TotalTrades:   m.totalTrades,
		WinningTrades: m.winningTrades,
		TotalProfit:   m.totalProfit,
	}
}

func (m *Manager) viewLocked() View {
	eq := m.equityLocked()
	held := make(map[string]bool, len(m.positions)+len(m.reserved))
	positions := make(map[string]Position, len(m.positions))
	for k, p := range m.positions {
		held[k] = true
		positions[k] = *p
	}
	for k := range m.reserved {
		held[k] = true
	}
	for k := range m.closing {
		held[k] = true
	}
	return View{
		AvailableKRW:     m.availableKRW,
		Equity:           eq,
		DailyRealizedPnl: m.dailyRealizedPnl,
		DailyPnlPct:      (m.dailyRealizedPnl / m.dayStartEquity) * 100,
		DrawdownPct:      (eq/m.peakEquity - 1) * 100,
		OpenPositions:    len(m.positions) + len(m.reserved),
		Positions:        positions,
		Held:             held,
	}
}

// equityLocked marks every holding to the last seen price. Reserved capital
// counts at face value until the fill lands.
func (m *Manager) equityLocked() float64 {
	eq := m.availableKRW
	for _, r := range m.reserved {
		eq += r
	}
	for _, pos := range m.positions {
		value := pos.SizeKRW
		if last, ok := m.lastPrice[pos.Instrument]; ok && pos.EntryPrice > 0 {
			value = pos.SizeKRW * (last / pos.EntryPrice)
		}
		eq += value
	}
	return eq
}

// rolloverLocked resets the daily counters on the first touch of a new UTC
// day. Open positions carry over; only realized P&L resets.
func (m *Manager) rolloverLocked(now time.Time) {
	day := now.Format("2006-01-02")
	if day == m.dailyDate {
		return
	}
	m.dailyDate = day
	m.dailyRealizedPnl = 0
	m.dayStartEquity = m.equityLocked()
}

func (m *Manager) gaugesLocked() {
	observ.SetGauge("portfolio_equity_krw", m.equityLocked(), nil)
	observ.SetGauge("portfolio_available_krw", m.availableKRW, nil)
	observ.SetGauge("portfolio_open_positions", float64(len(m.positions)), nil)
	observ.SetGauge("portfolio_daily_realized_pnl_krw", m.dailyRealizedPnl, nil)
}
