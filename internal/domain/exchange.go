package domain

import (
	"context"
	"errors"
)

// ErrOrderNotFound is returned by Exchange implementations when the exchange
// no longer knows an order id. Recently filled or cancelled orders disappear
// from the exchange's lookup path, so callers must treat this as a race to
// resolve, not a hard failure.
var ErrOrderNotFound = errors.New("order not found")

// Exchange is the contract trading logic holds against the venue. It must be
// safe for concurrent use: every asset worker shares one client, and the real
// shared resource behind it is the account and its API rate limits.
type Exchange interface {
	// PlaceLimitOrder submits a resting limit order and returns its initial snapshot.
	PlaceLimitOrder(ctx context.Context, ticker string, side Side, price, volume float64) (*Order, error)

	// PlaceMarketOrder submits an immediate market order for the given volume.
	PlaceMarketOrder(ctx context.Context, ticker string, side Side, volume float64) (*Order, error)

	// GetOrder fetches the current snapshot of an order by id.
	// Returns ErrOrderNotFound when the exchange has dropped the id.
	GetOrder(ctx context.Context, id string) (*Order, error)

	// CancelOrder asks the exchange to cancel a resting order.
	// Returns ErrOrderNotFound when the order is already gone.
	CancelOrder(ctx context.Context, id string) error

	// GetOrderBook returns the current top of book for a ticker.
	GetOrderBook(ctx context.Context, ticker string) (*OrderBook, error)
}

// SignalSource supplies the boolean gates derived from recent price history.
type SignalSource interface {
	// CanEnter reports whether a new entry at the candidate bid price is allowed.
	CanEnter(ticker string, bid float64) bool

	// EmergencyExit reports whether the asset should be dumped at market
	// regardless of the entry price.
	EmergencyExit(ticker string) bool
}

// Notifier delivers human-readable alerts. Delivery is best effort:
// implementations log failures and never surface them to trading logic.
type Notifier interface {
	Notify(title, message string)
}
