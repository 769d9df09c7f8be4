package bithumb

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"krw_trader/internal/domain"
)

// Wire types for the Bithumb 2.0 (Upbit-compatible) REST API. All numeric
// values arrive as decimal strings; they are parsed to float64 here, at the
// boundary, with no additional rounding imposed.

type orderbookUnit struct {
	AskPrice json.Number `json:"ask_price"`
	BidPrice json.Number `json:"bid_price"`
	AskSize  json.Number `json:"ask_size"`
	BidSize  json.Number `json:"bid_size"`
}

type orderbookResponse struct {
	Market         string          `json:"market"`
	Timestamp      int64           `json:"timestamp"`
	OrderbookUnits []orderbookUnit `json:"orderbook_units"`
}

type candleResponse struct {
	Market            string      `json:"market"`
	CandleDateTimeUTC string      `json:"candle_date_time_utc"`
	OpeningPrice      json.Number `json:"opening_price"`
	HighPrice         json.Number `json:"high_price"`
	LowPrice          json.Number `json:"low_price"`
	TradePrice        json.Number `json:"trade_price"`
	CandleAccTradeVol json.Number `json:"candle_acc_trade_volume"`
	Timestamp         int64       `json:"timestamp"`
}

type orderTrade struct {
	Price  json.Number `json:"price"`
	Volume json.Number `json:"volume"`
}

type orderResponse struct {
	UUID            string       `json:"uuid"`
	Side            string       `json:"side"`     // "bid" or "ask"
	OrdType         string       `json:"ord_type"` // "limit", "market", "price"
	Market          string       `json:"market"`
	State           string       `json:"state"` // "wait", "done", "cancel"
	Price           json.Number  `json:"price"`
	Volume          json.Number  `json:"volume"`
	RemainingVolume json.Number  `json:"remaining_volume"`
	ExecutedVolume  json.Number  `json:"executed_volume"`
	CreatedAt       string       `json:"created_at"`
	Trades          []orderTrade `json:"trades,omitempty"`
}

// apiError is the error envelope the exchange returns with 4xx/5xx statuses.
type apiError struct {
	Err struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("bithumb api error: %s (%s)", e.Err.Message, e.Err.Name)
}

func parseFloat(n json.Number) float64 {
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0
	}
	return f
}

// toDomainOrder maps an exchange order payload onto the domain snapshot.
func (r *orderResponse) toDomainOrder() *domain.Order {
	o := &domain.Order{
		ID:              r.UUID,
		Ticker:          r.Market,
		RequestedPrice:  parseFloat(r.Price),
		RequestedVolume: parseFloat(r.Volume),
		ExecutedVolume:  parseFloat(r.ExecutedVolume),
		RemainingVolume: parseFloat(r.RemainingVolume),
	}

	switch r.Side {
	case "bid":
		o.Side = domain.SideBuy
	case "ask":
		o.Side = domain.SideSell
	}

	switch r.OrdType {
	case "limit":
		o.Type = domain.TypeLimit
	default: // "market" (ask) and "price" (bid) are both market executions
		o.Type = domain.TypeMarket
	}

	switch r.State {
	case "done":
		o.Status = domain.StatusDone
	case "cancel":
		o.Status = domain.StatusCancelled
	default: // "wait"
		if o.ExecutedVolume > 0 {
			o.Status = domain.StatusPartial
		} else {
			o.Status = domain.StatusPending
		}
	}

	for _, t := range r.Trades {
		o.Trades = append(o.Trades, domain.Trade{
			Price:  parseFloat(t.Price),
			Volume: parseFloat(t.Volume),
		})
	}

	if ts, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
		o.CreatedAt = ts
	}

	return o
}
