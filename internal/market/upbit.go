package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cointrader/internal/logger"
	"cointrader/internal/observ"
)

const upbitWSURL = "wss://api.upbit.com/websocket/v1"

// UpbitFeed normalizes the Upbit ticker websocket stream into Events.
// It reconnects with a fixed interval on any read failure; duplicate
// delivery across reconnects is tolerated downstream by the tick deduper.
type UpbitFeed struct {
	url               string
	instruments       []string
	reconnectInterval time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	running bool
	log     *logger.Entry
}

// upbitTicker is the subset of the Upbit ticker frame the normalizer reads.
type upbitTicker struct {
	Code              string  `json:"code"`
	TradePrice        float64 `json:"trade_price"`
	AccTradeVolume24h float64 `json:"acc_trade_volume_24h"`
	HighPrice         float64 `json:"high_price"`
	LowPrice          float64 `json:"low_price"`
	OpeningPrice      float64 `json:"opening_price"`
	TradeTimestampMs  int64   `json:"trade_timestamp"`
}

// NewUpbitFeed creates a feed for the given KRW market codes.
func NewUpbitFeed(instruments []string, reconnectInterval time.Duration) *UpbitFeed {
	if reconnectInterval <= 0 {
		reconnectInterval = 5 * time.Second
	}
	return &UpbitFeed{
		url:               upbitWSURL,
		instruments:       instruments,
		reconnectInterval: reconnectInterval,
		log:               logger.GetLogger().WithComponent("upbit_feed"),
	}
}

// Run connects and pumps normalized ticks into out until ctx is cancelled.
func (f *UpbitFeed) Run(ctx context.Context, out chan<- Event) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("upbit feed already running")
	}
	f.running = true
	f.mu.Unlock()

	for {
		if err := f.connectAndPump(ctx, out); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			observ.IncCounter("feed_reconnects_total", map[string]string{"feed": "upbit"})
			f.log.WithError(err).Warn("websocket dropped, reconnecting")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.reconnectInterval):
		}
	}
}

func (f *UpbitFeed) connectAndPump(ctx context.Context, out chan<- Event) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial upbit: %w", err)
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer conn.Close()

	sub := []any{
		map[string]string{"ticket": uuid.NewString()},
		map[string]any{"type": "ticker", "codes": f.instruments},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.log.WithFields(logger.Fields{"codes": f.instruments}).Info("subscribed to upbit ticker stream")

	// Close the socket when ctx ends so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var t upbitTicker
		if err := json.Unmarshal(raw, &t); err != nil || t.Code == "" {
			continue // keep-alive or unknown frame
		}
		ev := NewTick(Tick{
			Instrument: t.Code,
			Price:      t.TradePrice,
			Volume:     t.AccTradeVolume24h,
			High24h:    t.HighPrice,
			Low24h:     t.LowPrice,
			OpenToday:  t.OpeningPrice,
			Timestamp:  time.UnixMilli(t.TradeTimestampMs).UTC(),
		})
		if err := ev.Validate(); err != nil {
			observ.IncCounter("feed_invalid_frames_total", map[string]string{"feed": "upbit"})
			continue
		}
		select {
		case out <- ev:
			observ.IncCounter("feed_events_total", map[string]string{"feed": "upbit", "type": "tick"})
		case <-ctx.Done():
			return nil
		}
	}
}
