package execution

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"cointrader/internal/logger"
	"cointrader/internal/strategy"
)

// Live places market orders against the Upbit REST API. Buys spend a KRW
// amount (ord_type=price); sells dispose a coin volume (ord_type=market).
type Live struct {
	baseURL   string
	accessKey string
	secretKey string
	feePct    float64
	client    *http.Client
	log       *logger.Entry
}

func NewLive(accessKey, secretKey string, feePct float64) *Live {
	return &Live{
		baseURL:   "https://api.upbit.com",
		accessKey: accessKey,
		secretKey: secretKey,
		feePct:    feePct,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       logger.WithComponent("upbit"),
	}
}

type upbitOrder struct {
	UUID           string `json:"uuid"`
	State          string `json:"state"`
	Price          string `json:"price"`
	ExecutedVolume string `json:"executed_volume"`
	PaidFee        string `json:"paid_fee"`
	AvgPrice       string `json:"avg_price"`
}

type upbitError struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

func (l *Live) Place(ctx context.Context, ord Order) (Fill, error) {
	params := url.Values{}
	params.Set("market", ord.Instrument)
	switch ord.Side {
	case strategy.SideBuy:
		params.Set("side", "bid")
		params.Set("ord_type", "price")
		params.Set("price", strconv.FormatFloat(ord.SizeKRW, 'f', -1, 64))
	case strategy.SideSell:
		if ord.EntryPrice <= 0 {
			return Fill{}, &RejectionError{Reason: "sell without entry price"}
		}
		volume := ord.SizeKRW / ord.EntryPrice
		params.Set("side", "ask")
		params.Set("ord_type", "market")
		params.Set("volume", strconv.FormatFloat(volume, 'f', 8, 64))
	default:
		return Fill{}, &RejectionError{Reason: "unknown side " + string(ord.Side)}
	}

	resp, err := l.do(ctx, http.MethodPost, "/v1/orders", params)
	if err != nil {
		return Fill{}, err
	}

	// Market orders settle near-instantly; the response carries paid_fee and
	// executed volume once the state is done.
	fill := Fill{Price: ord.Price, FilledAt: time.Now().UTC()}
	fill.FeeKRW = parseFloat(resp.PaidFee)
	if avg := parseFloat(resp.AvgPrice); avg > 0 {
		fill.Price = avg
	}
	if ord.Side == strategy.SideBuy {
		fill.SpentKRW = ord.SizeKRW
	} else {
		gross := parseFloat(resp.ExecutedVolume) * fill.Price
		if gross <= 0 {
			gross = ord.SizeKRW * (fill.Price / ord.EntryPrice)
		}
		fill.ProceedsKRW = gross - fill.FeeKRW
	}
	return fill, nil
}

func (l *Live) do(ctx context.Context, method, path string, params url.Values) (*upbitOrder, error) {
	encoded := params.Encode()
	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, strings.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+l.token(encoded))

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var ue upbitError
		_ = json.Unmarshal(body, &ue)
		// 4xx responses are the venue saying no; retrying cannot help.
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, &RejectionError{Reason: fmt.Sprintf("%s (%s)", ue.Error.Message, ue.Error.Name)}
		}
		return nil, fmt.Errorf("upbit http %d: %s", resp.StatusCode, ue.Error.Message)
	}

	var out upbitOrder
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse order response: %w", err)
	}
	return &out, nil
}

// token builds the Upbit auth JWT: HS256 over a payload carrying the access
// key, a nonce and the SHA512 hash of the query string.
func (l *Live) token(query string) string {
	payload := map[string]string{
		"access_key": l.accessKey,
		"nonce":      uuid.NewString(),
	}
	if query != "" {
		sum := sha512.Sum512([]byte(query))
		payload["query_hash"] = hex.EncodeToString(sum[:])
		payload["query_hash_alg"] = "SHA512"
	}

	header := base64URL([]byte(`{"alg":"HS256","typ":"JWT"}`))
	claims, _ := json.Marshal(payload)
	signing := header + "." + base64URL(claims)

	mac := hmac.New(sha256.New, []byte(l.secretKey))
	mac.Write([]byte(signing))
	return signing + "." + base64URL(mac.Sum(nil))
}

func base64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
