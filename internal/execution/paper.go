package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"krw_trader/internal/domain"
)

// DefaultPaperBalanceKRW is the virtual cash a paper account starts with.
const DefaultPaperBalanceKRW = 10_000_000

// MarketData is the read-only slice of the exchange the paper engine needs:
// live public quotes, no credentials.
type MarketData interface {
	GetOrderBook(ctx context.Context, ticker string) (*domain.OrderBook, error)
}

// PaperExchange simulates order execution against live market data. Orders
// are held in memory and crossed against the real top of book on every poll:
// a resting buy fills when the best ask trades down to its price, a resting
// sell fills when the best bid reaches it. Balances are virtual; quotes are
// not.
type PaperExchange struct {
	market MarketData

	mu         sync.Mutex
	orders     map[string]*domain.Order
	balanceKRW float64
	holdings   map[string]float64 // base volume per ticker
}

// NewPaperExchange creates a paper account with the given starting KRW
// balance (DefaultPaperBalanceKRW when <= 0).
func NewPaperExchange(market MarketData, balanceKRW float64) *PaperExchange {
	if balanceKRW <= 0 {
		balanceKRW = DefaultPaperBalanceKRW
	}
	return &PaperExchange{
		market:     market,
		orders:     make(map[string]*domain.Order),
		balanceKRW: balanceKRW,
		holdings:   make(map[string]float64),
	}
}

// BalanceKRW returns the current virtual cash balance.
func (p *PaperExchange) BalanceKRW() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balanceKRW
}

// PlaceLimitOrder books a simulated resting order after a balance check.
func (p *PaperExchange) PlaceLimitOrder(_ context.Context, ticker string, side domain.Side, price, volume float64) (*domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.reserve(ticker, side, price*volume, volume); err != nil {
		return nil, err
	}

	order := &domain.Order{
		ID:              "paper-" + uuid.NewString(),
		Ticker:          ticker,
		Side:            side,
		Type:            domain.TypeLimit,
		RequestedPrice:  price,
		RequestedVolume: volume,
		RemainingVolume: volume,
		Status:          domain.StatusPending,
		CreatedAt:       time.Now(),
	}
	p.orders[order.ID] = order

	snap := *order
	return &snap, nil
}

// PlaceMarketOrder fills a simulated order immediately at the live top of
// book.
func (p *PaperExchange) PlaceMarketOrder(ctx context.Context, ticker string, side domain.Side, volume float64) (*domain.Order, error) {
	book, err := p.market.GetOrderBook(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("paper market order: %w", err)
	}
	price := book.BestAsk
	if side == domain.SideSell {
		price = book.BestBid
	}
	if price <= 0 {
		return nil, fmt.Errorf("paper market order: empty %s book", ticker)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.reserve(ticker, side, price*volume, volume); err != nil {
		return nil, err
	}

	order := &domain.Order{
		ID:              "paper-" + uuid.NewString(),
		Ticker:          ticker,
		Side:            side,
		Type:            domain.TypeMarket,
		RequestedVolume: volume,
		CreatedAt:       time.Now(),
	}
	p.fillLocked(order, price)
	p.orders[order.ID] = order

	slog.Debug("Paper market order filled",
		slog.String("ticker", ticker),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("volume", volume))

	snap := *order
	return &snap, nil
}

// GetOrder returns the order snapshot, crossing open orders against the live
// book first.
func (p *PaperExchange) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	p.mu.Lock()
	order, ok := p.orders[id]
	p.mu.Unlock()
	if !ok {
		return nil, domain.ErrOrderNotFound
	}

	if order.IsOpen() {
		// Book fetch happens outside the lock; the paper book is only
		// advanced under it.
		book, err := p.market.GetOrderBook(ctx, order.Ticker)
		if err != nil {
			return nil, fmt.Errorf("paper order poll: %w", err)
		}
		p.cross(order, book)
	}

	p.mu.Lock()
	snap := *order
	p.mu.Unlock()
	return &snap, nil
}

// CancelOrder removes a resting order and releases its reservation.
func (p *PaperExchange) CancelOrder(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if !order.IsOpen() {
		return domain.ErrOrderNotFound
	}

	p.release(order)
	order.Status = domain.StatusCancelled
	return nil
}

// GetOrderBook passes through to the live public book.
func (p *PaperExchange) GetOrderBook(ctx context.Context, ticker string) (*domain.OrderBook, error) {
	return p.market.GetOrderBook(ctx, ticker)
}

// cross fills an open order whose price the live book has reached.
func (p *PaperExchange) cross(order *domain.Order, book *domain.OrderBook) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !order.IsOpen() {
		return
	}

	switch order.Side {
	case domain.SideBuy:
		if book.BestAsk > 0 && book.BestAsk <= order.RequestedPrice {
			p.fillLocked(order, order.RequestedPrice)
		}
	case domain.SideSell:
		if book.BestBid >= order.RequestedPrice {
			p.fillLocked(order, order.RequestedPrice)
		}
	}
}

// fillLocked executes the full remaining volume at price and settles the
// virtual balances. Caller holds p.mu.
func (p *PaperExchange) fillLocked(order *domain.Order, price float64) {
	volume := order.RequestedVolume - order.ExecutedVolume
	order.ExecutedVolume = order.RequestedVolume
	order.RemainingVolume = 0
	order.Status = domain.StatusDone
	order.Trades = append(order.Trades, domain.Trade{Price: price, Volume: volume})

	// The debit side was reserved at placement; only the counter-asset is
	// credited here. A buy that fills below its reserved limit price gets
	// the difference refunded.
	switch order.Side {
	case domain.SideBuy:
		if order.Type == domain.TypeLimit && order.RequestedPrice > price {
			p.balanceKRW += (order.RequestedPrice - price) * volume
		}
		p.holdings[order.Ticker] += volume
	case domain.SideSell:
		p.balanceKRW += price * volume
	}
}

// reserve debits the asset a new order locks up. Caller holds p.mu.
func (p *PaperExchange) reserve(ticker string, side domain.Side, notionalKRW, volume float64) error {
	switch side {
	case domain.SideBuy:
		if p.balanceKRW < notionalKRW {
			return fmt.Errorf("insufficient KRW balance: need %.0f, have %.0f", notionalKRW, p.balanceKRW)
		}
		p.balanceKRW -= notionalKRW
	case domain.SideSell:
		if p.holdings[ticker] < volume {
			return fmt.Errorf("insufficient %s balance: need %v, have %v", ticker, volume, p.holdings[ticker])
		}
		p.holdings[ticker] -= volume
	}
	return nil
}

// release returns a cancelled order's unfilled reservation. Caller holds p.mu.
func (p *PaperExchange) release(order *domain.Order) {
	remaining := order.RequestedVolume - order.ExecutedVolume
	if remaining <= 0 {
		return
	}
	switch order.Side {
	case domain.SideBuy:
		p.balanceKRW += order.RequestedPrice * remaining
	case domain.SideSell:
		p.holdings[order.Ticker] += remaining
	}
}

// Deposit credits base-asset volume to the paper account, so a paper run can
// start from an existing holding.
func (p *PaperExchange) Deposit(ticker string, volume float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdings[ticker] += volume
}
