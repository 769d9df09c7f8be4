package domain

import "time"

// OrderBook is the top of book for one ticker: the best resting bid and ask.
type OrderBook struct {
	Ticker    string
	BestBid   float64
	BestAsk   float64
	BidSize   float64
	AskSize   float64
	Timestamp time.Time
}

// IsEmpty reports whether the exchange returned no usable quotes.
func (b *OrderBook) IsEmpty() bool {
	return b == nil || (b.BestBid <= 0 && b.BestAsk <= 0)
}

// Candle is one OHLCV bar of recent price history.
type Candle struct {
	Ticker    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
}
