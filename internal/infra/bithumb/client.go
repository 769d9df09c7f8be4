package bithumb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"krw_trader/internal/domain"
	"krw_trader/internal/infra"
)

// MainnetURL is the default Bithumb REST endpoint.
const MainnetURL = "https://api.bithumb.com"

// Client is the Bithumb REST client. One instance is shared by all asset
// workers; the token-bucket limiters and the circuit breaker make it safe to
// hammer from concurrent goroutines without tripping the exchange's limits.
type Client struct {
	baseURL    string
	signer     *Signer // nil for public-only clients
	httpClient *http.Client

	orderLimiter  *infra.RateLimiter
	marketLimiter *infra.RateLimiter
	breaker       *infra.CircuitBreaker
}

// NewClient creates a client. signer may be nil for keyless (public
// endpoint) use, e.g. the price probe tool or paper mode.
func NewClient(baseURL string, signer *Signer) *Client {
	if baseURL == "" {
		baseURL = MainnetURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		// Conservative: Bithumb allows bursts well above this, but every
		// asset worker shares the account quota.
		orderLimiter:  infra.NewRateLimiter(5, 8),
		marketLimiter: infra.NewRateLimiter(10, 20),
		breaker:       infra.NewCircuitBreaker("bithumb-rest"),
	}
}

// GetOrderBook returns the top of book for one ticker.
func (c *Client) GetOrderBook(ctx context.Context, ticker string) (*domain.OrderBook, error) {
	c.marketLimiter.Wait()

	query := url.Values{"markets": {ticker}}
	var books []orderbookResponse
	if err := c.do(ctx, http.MethodGet, "/v1/orderbook", query, nil, false, &books); err != nil {
		return nil, fmt.Errorf("orderbook %s: %w", ticker, err)
	}
	if len(books) == 0 || len(books[0].OrderbookUnits) == 0 {
		return nil, fmt.Errorf("orderbook %s: empty response", ticker)
	}

	top := books[0].OrderbookUnits[0]
	return &domain.OrderBook{
		Ticker:    ticker,
		BestBid:   parseFloat(top.BidPrice),
		BestAsk:   parseFloat(top.AskPrice),
		BidSize:   parseFloat(top.BidSize),
		AskSize:   parseFloat(top.AskSize),
		Timestamp: time.UnixMilli(books[0].Timestamp),
	}, nil
}

// GetCandles returns up to count minute candles for a ticker, most recent
// first, as the exchange delivers them.
func (c *Client) GetCandles(ctx context.Context, ticker string, unitMin, count int) ([]domain.Candle, error) {
	c.marketLimiter.Wait()

	query := url.Values{
		"market": {ticker},
		"count":  {fmt.Sprintf("%d", count)},
	}
	path := fmt.Sprintf("/v1/candles/minutes/%d", unitMin)

	var rows []candleResponse
	if err := c.do(ctx, http.MethodGet, path, query, nil, false, &rows); err != nil {
		return nil, fmt.Errorf("candles %s: %w", ticker, err)
	}

	candles := make([]domain.Candle, 0, len(rows))
	for _, r := range rows {
		candles = append(candles, domain.Candle{
			Ticker:    r.Market,
			Open:      parseFloat(r.OpeningPrice),
			High:      parseFloat(r.HighPrice),
			Low:       parseFloat(r.LowPrice),
			Close:     parseFloat(r.TradePrice),
			Volume:    parseFloat(r.CandleAccTradeVol),
			Timestamp: time.UnixMilli(r.Timestamp),
		})
	}
	return candles, nil
}

// PlaceLimitOrder submits a resting limit order.
func (c *Client) PlaceLimitOrder(ctx context.Context, ticker string, side domain.Side, price, volume float64) (*domain.Order, error) {
	c.orderLimiter.Wait()

	body := map[string]string{
		"market":   ticker,
		"side":     wireSide(side),
		"ord_type": "limit",
		"price":    decimal.NewFromFloat(price).String(),
		"volume":   decimal.NewFromFloat(volume).String(),
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", nil, body, true, &resp); err != nil {
		return nil, fmt.Errorf("place limit %s %s: %w", side, ticker, err)
	}
	return resp.toDomainOrder(), nil
}

// PlaceMarketOrder submits an immediate market order. Sells are
// volume-denominated; buys must be quoted in KRW total, so the current best
// ask is used to convert the requested volume.
func (c *Client) PlaceMarketOrder(ctx context.Context, ticker string, side domain.Side, volume float64) (*domain.Order, error) {
	body := map[string]string{
		"market": ticker,
		"side":   wireSide(side),
	}

	switch side {
	case domain.SideSell:
		body["ord_type"] = "market"
		body["volume"] = decimal.NewFromFloat(volume).String()
	case domain.SideBuy:
		book, err := c.GetOrderBook(ctx, ticker)
		if err != nil {
			return nil, fmt.Errorf("market buy %s: %w", ticker, err)
		}
		total := decimal.NewFromFloat(book.BestAsk).Mul(decimal.NewFromFloat(volume))
		body["ord_type"] = "price"
		body["price"] = total.String()
	default:
		return nil, fmt.Errorf("market order %s: unknown side %q", ticker, side)
	}

	c.orderLimiter.Wait()

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", nil, body, true, &resp); err != nil {
		return nil, fmt.Errorf("place market %s %s: %w", side, ticker, err)
	}
	return resp.toDomainOrder(), nil
}

// GetOrder fetches the current snapshot of an order, including its trades.
func (c *Client) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	c.orderLimiter.Wait()

	query := url.Values{"uuid": {id}}
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, "/v1/order", query, nil, true, &resp); err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return resp.toDomainOrder(), nil
}

// CancelOrder cancels a resting order. Returns domain.ErrOrderNotFound when
// the exchange has already dropped the id (filled or previously cancelled).
func (c *Client) CancelOrder(ctx context.Context, id string) error {
	c.orderLimiter.Wait()

	query := url.Values{"uuid": {id}}
	var resp orderResponse
	if err := c.do(ctx, http.MethodDelete, "/v1/order", query, nil, true, &resp); err != nil {
		return fmt.Errorf("cancel order %s: %w", id, err)
	}
	return nil
}

// do performs one REST call: circuit breaker gate, request signing, error
// envelope decoding. query is url-encoded both into the URL and into the
// signature hash; body is sent as JSON for POSTs.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body map[string]string, auth bool, out any) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("circuit breaker open")
	}

	endpoint := c.baseURL + path
	rawQuery := ""
	if len(query) > 0 {
		rawQuery = query.Encode()
		endpoint += "?" + rawQuery
	}

	var reqBody io.Reader
	if body != nil {
		// The signature covers the form-encoded parameters even though the
		// payload itself travels as JSON.
		form := url.Values{}
		for k, v := range body {
			form.Set(k, v)
		}
		rawQuery = form.Encode()

		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", infra.DefaultUserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		if c.signer == nil {
			return fmt.Errorf("endpoint %s requires API keys", path)
		}
		req.Header.Set("Authorization", c.signer.Token(rawQuery))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure()
		return err
	}

	if resp.StatusCode >= 400 {
		c.breaker.RecordFailure()
		return decodeAPIError(resp.StatusCode, data)
	}

	c.breaker.RecordSuccess()

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// decodeAPIError turns an error envelope into a typed error. Order-not-found
// answers map to domain.ErrOrderNotFound so callers can resolve the
// cancel-after-fill race instead of failing.
func decodeAPIError(status int, data []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Err.Name != "" {
		if isNotFoundName(apiErr.Err.Name) {
			return fmt.Errorf("%s: %w", apiErr.Err.Name, domain.ErrOrderNotFound)
		}
		return &apiErr
	}
	if status == http.StatusNotFound {
		return domain.ErrOrderNotFound
	}
	return fmt.Errorf("unexpected status %d: %s", status, strings.TrimSpace(string(data)))
}

func isNotFoundName(name string) bool {
	switch name {
	case "order_not_found", "order_not_found_error", "not_found":
		return true
	}
	return false
}

func wireSide(side domain.Side) string {
	if side == domain.SideBuy {
		return "bid"
	}
	return "ask"
}
