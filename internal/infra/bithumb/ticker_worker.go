package bithumb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"krw_trader/internal/infra"
)

const defaultWSURL = "wss://ws-api.bithumb.com/websocket/v1"

// tickerMessage is the WebSocket ticker payload. Prices arrive as JSON
// numbers; json.Number keeps the exchange's native representation intact
// until the single parse at the boundary.
type tickerMessage struct {
	Type       string      `json:"type"` // "ticker"
	Code       string      `json:"code"` // market code, e.g. "KRW-XRP"
	TradePrice json.Number `json:"trade_price"`
	Timestamp  int64       `json:"timestamp"`
}

// PriceHandler receives each last-trade price observed on the stream.
type PriceHandler func(ticker string, price float64)

// TickerWorker streams last-trade prices for the configured tickers over the
// exchange WebSocket, so emergency-exit evaluation doesn't burn REST quota.
// Connection lifecycle (reconnect, deadlines, pings) lives in BaseWSWorker.
type TickerWorker struct {
	base    *infra.BaseWSWorker
	url     string
	tickers []string
	onPrice PriceHandler
}

// NewTickerWorker creates a worker for the given markets. url may be empty
// to use the production endpoint.
func NewTickerWorker(url string, tickers []string, onPrice PriceHandler) *TickerWorker {
	if url == "" {
		url = defaultWSURL
	}
	w := &TickerWorker{
		url:     url,
		tickers: tickers,
		onPrice: onPrice,
	}
	w.base = infra.NewBaseWSWorker(w)
	return w
}

// ID returns the worker identifier.
func (w *TickerWorker) ID() string { return "BITHUMB_TICKER" }

// GetURL returns the WebSocket endpoint.
func (w *TickerWorker) GetURL() string { return w.url }

// Connect starts the connection loop.
func (w *TickerWorker) Connect(ctx context.Context) error {
	w.base.Start(ctx)
	return nil
}

// Disconnect terminates the connection.
func (w *TickerWorker) Disconnect() {
	w.base.Stop()
}

// OnConnect subscribes to the ticker channel for all configured markets.
func (w *TickerWorker) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	msg := []map[string]any{
		{"ticket": fmt.Sprintf("krw-trader-%d", time.Now().UnixNano())},
		{"type": "ticker", "codes": w.tickers},
	}
	b, _ := json.Marshal(msg)
	return w.base.Write(websocket.TextMessage, b)
}

// OnMessage parses ticker updates and forwards the last-trade price.
func (w *TickerWorker) OnMessage(ctx context.Context, msg []byte) {
	var tick tickerMessage
	if err := json.Unmarshal(msg, &tick); err != nil || tick.Type != "ticker" {
		return
	}
	price := parseFloat(tick.TradePrice)
	if price <= 0 || tick.Code == "" {
		return
	}
	w.onPrice(tick.Code, price)
}

// OnPing is a no-op: the server keeps the connection alive with pong frames.
func (w *TickerWorker) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return nil
}
