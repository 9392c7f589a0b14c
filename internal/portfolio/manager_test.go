package portfolio

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approveAll(View) string { return "" }

func TestReservationAccounting(t *testing.T) {
	m := NewManager(1_000_000)

	reason, err := m.ApproveBuy("KRW-BTC", 100_000, approveAll)
	require.NoError(t, err)
	assert.Empty(t, reason)

	v := m.Snapshot()
	assert.Equal(t, 900_000.0, v.AvailableKRW)
	assert.Equal(t, 1, v.OpenPositions) // reservation counts
	assert.True(t, v.Held["KRW-BTC"])
	assert.Equal(t, 1_000_000.0, v.Equity) // reserved capital still at face value

	m.ReleaseReservation("KRW-BTC", 100_000)
	v = m.Snapshot()
	assert.Equal(t, 1_000_000.0, v.AvailableKRW)
	assert.Equal(t, 0, v.OpenPositions)
	assert.False(t, v.Held["KRW-BTC"])
}

func TestOpenCloseRoundTrip(t *testing.T) {
	m := NewManager(1_000_000)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := m.ApproveBuy("KRW-BTC", 100_000, approveAll)
	require.NoError(t, err)
	require.NoError(t, m.ConfirmOpen("KRW-BTC", "dip_buy_-7_2_24", 93, 100_000, now))

	entry, ok := m.PositionEntry("KRW-BTC")
	require.True(t, ok)
	assert.Equal(t, 93.0, entry)

	pos, ok := m.MarkClosing("KRW-BTC")
	require.True(t, ok)
	assert.Equal(t, 100_000.0, pos.SizeKRW)

	// Second close attempt is refused while the first is in flight.
	_, ok = m.MarkClosing("KRW-BTC")
	assert.False(t, ok)

	pnl, err := m.ConfirmClose("KRW-BTC", 101_949, now.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 1_949, pnl, 0.001)

	v := m.Snapshot()
	assert.InDelta(t, 1_001_949, v.AvailableKRW, 0.001)
	assert.Equal(t, 0, v.OpenPositions)

	s := m.Summary()
	assert.Equal(t, 1, s.TotalTrades)
	assert.Equal(t, 1, s.WinningTrades)
}

func TestAbortCloseReleasesFlag(t *testing.T) {
	m := NewManager(1_000_000)
	now := time.Now().UTC()
	_, err := m.ApproveBuy("KRW-BTC", 100_000, approveAll)
	require.NoError(t, err)
	require.NoError(t, m.ConfirmOpen("KRW-BTC", "s", 100, 100_000, now))

	_, ok := m.MarkClosing("KRW-BTC")
	require.True(t, ok)
	m.AbortClose("KRW-BTC")

	_, ok = m.MarkClosing("KRW-BTC")
	assert.True(t, ok)
}

func TestInvariantViolations(t *testing.T) {
	m := NewManager(1_000_000)
	now := time.Now().UTC()

	t.Run("confirm open without reservation", func(t *testing.T) {
		err := m.ConfirmOpen("KRW-BTC", "s", 100, 100_000, now)
		assert.True(t, errors.Is(err, ErrInvariant))
	})

	t.Run("fill exceeds reservation", func(t *testing.T) {
		_, err := m.ApproveBuy("KRW-ETH", 100_000, approveAll)
		require.NoError(t, err)
		err = m.ConfirmOpen("KRW-ETH", "s", 100, 150_000, now)
		assert.True(t, errors.Is(err, ErrInvariant))
	})

	t.Run("close without position", func(t *testing.T) {
		_, err := m.ConfirmClose("KRW-XRP", 100_000, now)
		assert.True(t, errors.Is(err, ErrInvariant))
	})
}

func TestGateClosureSeesConsistentSnapshot(t *testing.T) {
	m := NewManager(1_000_000)
	now := time.Now().UTC()
	_, err := m.ApproveBuy("KRW-BTC", 100_000, approveAll)
	require.NoError(t, err)
	require.NoError(t, m.ConfirmOpen("KRW-BTC", "s", 100, 100_000, now))

	var seen View
	reason, err := m.ApproveBuy("KRW-ETH", 100_000, func(v View) string {
		seen = v
		return "rejected_for_test"
	})
	require.NoError(t, err)
	assert.Equal(t, "rejected_for_test", reason)
	assert.Equal(t, 1, seen.OpenPositions)
	assert.True(t, seen.Held["KRW-BTC"])

	// A rejecting gate must not leave a reservation behind.
	v := m.Snapshot()
	assert.Equal(t, 900_000.0, v.AvailableKRW)
	assert.False(t, v.Held["KRW-ETH"])
}

func TestTickUpdatesHighWaterMarkAndDrawdown(t *testing.T) {
	m := NewManager(1_000_000)
	now := time.Now().UTC()
	_, err := m.ApproveBuy("KRW-BTC", 100_000, approveAll)
	require.NoError(t, err)
	require.NoError(t, m.ConfirmOpen("KRW-BTC", "s", 1000, 100_000, now))

	m.Tick("KRW-BTC", 1200)
	pos, ok := m.Position("KRW-BTC")
	require.True(t, ok)
	assert.Equal(t, 1200.0, pos.HighWaterMark)

	// Mark never moves down.
	m.Tick("KRW-BTC", 1100)
	pos, _ = m.Position("KRW-BTC")
	assert.Equal(t, 1200.0, pos.HighWaterMark)

	// Equity peaked at 1,020,000 (position 120k on a 100k basis); at 1100
	// the position is worth 110k, so drawdown is -10k/1.02m.
	v := m.Snapshot()
	assert.InDelta(t, -0.98, v.DrawdownPct, 0.01)
}

func TestLastPriceTracksTicks(t *testing.T) {
	m := NewManager(1_000_000)

	_, ok := m.LastPrice("KRW-BTC")
	assert.False(t, ok)

	m.Tick("KRW-BTC", 101)
	p, ok := m.LastPrice("KRW-BTC")
	require.True(t, ok)
	assert.Equal(t, 101.0, p)
}

func TestDailyLossFeedsSnapshot(t *testing.T) {
	m := NewManager(1_000_000)
	now := time.Now().UTC()
	_, err := m.ApproveBuy("KRW-BTC", 100_000, approveAll)
	require.NoError(t, err)
	require.NoError(t, m.ConfirmOpen("KRW-BTC", "s", 100, 100_000, now))
	_, ok := m.MarkClosing("KRW-BTC")
	require.True(t, ok)
	_, err = m.ConfirmClose("KRW-BTC", 60_000, now)
	require.NoError(t, err)

	v := m.Snapshot()
	assert.InDelta(t, -40_000, v.DailyRealizedPnl, 0.001)
	assert.InDelta(t, -4.0, v.DailyPnlPct, 0.001)
}
