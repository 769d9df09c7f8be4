package domain

import "time"

// Side identifies which side of the book an order rests on.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType distinguishes resting limit orders from immediate market orders.
type OrderType string

const (
	TypeLimit  OrderType = "limit"
	TypeMarket OrderType = "market"
)

// OrderStatus mirrors the lifecycle the exchange reports for an order.
// StatusNotFound is a valid observation, not an error: the exchange drops
// recently cancelled or filled orders from its hot lookup path.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPartial   OrderStatus = "partially-filled"
	StatusDone      OrderStatus = "done"
	StatusCancelled OrderStatus = "cancelled"
	StatusNotFound  OrderStatus = "not-found"
)

// Trade is a single execution against an order.
type Trade struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// Order is a snapshot of an exchange-owned order. The exchange is the source
// of truth; callers only observe snapshots and never mutate them.
type Order struct {
	ID              string      `json:"id"`
	Ticker          string      `json:"ticker"`
	Side            Side        `json:"side"`
	Type            OrderType   `json:"type"`
	RequestedPrice  float64     `json:"requested_price"` // 0 for market orders
	RequestedVolume float64     `json:"requested_volume"`
	ExecutedVolume  float64     `json:"executed_volume"`
	RemainingVolume float64     `json:"remaining_volume"`
	Status          OrderStatus `json:"status"`
	Trades          []Trade     `json:"trades,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// IsOpen reports whether the order may still receive fills.
func (o *Order) IsOpen() bool {
	return o.Status == StatusPending || o.Status == StatusPartial
}

// IsDone reports whether the exchange considers the order fully completed.
func (o *Order) IsDone() bool {
	return o.Status == StatusDone
}

// HasFills reports whether any volume executed.
func (o *Order) HasFills() bool {
	return o.ExecutedVolume > 0
}

// WeightedAvgPrice returns the notional-volume-weighted mean price across all
// recorded executions: sum(price*volume) / sum(volume). When the exchange
// returned no trade-level detail it falls back to the quoted limit price.
func (o *Order) WeightedAvgPrice() float64 {
	var notional, volume float64
	for _, t := range o.Trades {
		notional += t.Price * t.Volume
		volume += t.Volume
	}
	if volume <= 0 {
		return o.RequestedPrice
	}
	return notional / volume
}
