package status

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cointrader/internal/portfolio"
)

func TestStatusEndpoints(t *testing.T) {
	pm := portfolio.NewManager(1_000_000)
	_, err := pm.ApproveBuy("KRW-BTC", 100_000, func(portfolio.View) string { return "" })
	require.NoError(t, err)
	require.NoError(t, pm.ConfirmOpen("KRW-BTC", "dip_buy_-7_2_24", 93, 100_000, time.Now().UTC()))

	s := NewServer(":0", pm)

	t.Run("healthz", func(t *testing.T) {
		rr := httptest.NewRecorder()
		s.handleHealth(rr, httptest.NewRequest("GET", "/healthz", nil))
		assert.Equal(t, 200, rr.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("portfolio", func(t *testing.T) {
		rr := httptest.NewRecorder()
		s.handlePortfolio(rr, httptest.NewRequest("GET", "/portfolio", nil))
		assert.Equal(t, 200, rr.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, 900_000.0, body["available_krw"])
		assert.Equal(t, 1.0, body["open_positions"])
	})

	t.Run("metrics", func(t *testing.T) {
		rr := httptest.NewRecorder()
		s.handleMetrics(rr, httptest.NewRequest("GET", "/metrics", nil))
		assert.Equal(t, 200, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	})
}
