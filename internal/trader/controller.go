package trader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"krw_trader/internal/domain"
	"krw_trader/internal/executor"
)

// PositionStore persists the current position per ticker across restarts.
type PositionStore interface {
	SavePosition(ctx context.Context, ticker string, pos domain.Position, tsUnix int64) error
	LoadPosition(ctx context.Context, ticker string) (domain.Position, bool, error)
}

// Controller owns the position of one asset and runs its buy-low/sell-high
// loop: while Flat it looks for an entry at the best bid, while Long it waits
// for a profitable ask or an emergency exit. The position only changes
// through confirmed order outcomes reported by the executor.
type Controller struct {
	session  domain.TradingSession
	exchange domain.Exchange
	signals  domain.SignalSource
	notifier domain.Notifier
	executor *executor.OrderExecutor
	store    PositionStore
	log      *slog.Logger

	position domain.Position
}

// NewController builds a controller for one session, restoring its last
// persisted position so a restart does not forget an open Long. store may be
// nil, in which case the controller always starts Flat.
func NewController(session domain.TradingSession, exchange domain.Exchange, signals domain.SignalSource, notifier domain.Notifier, store PositionStore, log *slog.Logger) *Controller {
	c := &Controller{
		session:  session,
		exchange: exchange,
		signals:  signals,
		notifier: notifier,
		executor: executor.New(exchange, signals, notifier, session, log),
		store:    store,
		log:      log.With(slog.String("ticker", session.Ticker)),
		position: domain.NewFlat(),
	}

	if store != nil {
		pos, ok, err := store.LoadPosition(context.Background(), session.Ticker)
		if err != nil {
			c.log.Warn("Failed to restore position, starting flat", slog.Any("error", err))
		} else if ok {
			c.position = pos
			if price, volume, held := pos.Entry(); held {
				c.log.Info("Restored open position",
					slog.Float64("entry_price", price),
					slog.Float64("entry_volume", volume))
			}
		}
	}
	return c
}

// Position returns the controller's current position.
func (c *Controller) Position() domain.Position {
	return c.position
}

// Run executes the trading loop until the context is cancelled. Every error
// is absorbed here: the loop logs, sleeps one poll interval and tries the
// same state again. Nothing short of cancellation stops a worker.
func (c *Controller) Run(ctx context.Context) {
	c.log.Info("Worker started",
		slog.String("state", c.position.State().String()),
		slog.Float64("volume", c.session.Volume))

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Worker stopped")
			return
		default:
		}

		c.step(ctx)

		if err := sleepCtx(ctx, c.session.PollInterval); err != nil {
			c.log.Info("Worker stopped")
			return
		}
	}
}

// step performs one iteration of the state machine.
func (c *Controller) step(ctx context.Context) {
	switch c.position.State() {
	case domain.Flat:
		c.tryEnter(ctx)
	case domain.Long:
		c.tryExit(ctx)
	default:
		// Unreachable with a well-formed Position; reset rather than
		// trade on a state we cannot interpret.
		c.log.Warn("Unexpected position state, resetting to flat",
			slog.String("state", c.position.State().String()))
		c.setPosition(ctx, domain.NewFlat())
	}
}

// tryEnter attempts one buy flow from the Flat state.
func (c *Controller) tryEnter(ctx context.Context) {
	book, err := c.exchange.GetOrderBook(ctx, c.session.Ticker)
	if err != nil {
		c.log.Warn("Order book fetch failed", slog.Any("error", err))
		return
	}
	if book.BestBid <= 0 {
		c.log.Debug("Empty bid side, skipping entry")
		return
	}
	if !c.signals.CanEnter(c.session.Ticker, book.BestBid) {
		c.log.Debug("Entry gate closed", slog.Float64("bid", book.BestBid))
		return
	}

	res, err := c.executor.ExecuteBuy(ctx, book.BestBid)
	if err != nil {
		c.log.Warn("Buy flow failed", slog.Any("error", err))
		// A failed unwind still leaves bought volume behind; adopt it
		// so the sell side disposes of it.
		if res.Effect == domain.EffectLong && res.Order != nil {
			c.adoptLong(ctx, res.Order)
		}
		return
	}

	switch res.Effect {
	case domain.EffectLong:
		c.adoptLong(ctx, res.Order)
	case domain.EffectFlat, domain.EffectNone:
		// Nothing held: expired without fills, or a partial fill was
		// already unwound.
	}
}

// adoptLong records a confirmed buy outcome as the current position.
func (c *Controller) adoptLong(ctx context.Context, order *domain.Order) {
	entryPrice := order.WeightedAvgPrice()
	entryVolume := order.ExecutedVolume
	c.setPosition(ctx, domain.NewLong(entryPrice, entryVolume))

	c.log.Info("Entered position",
		slog.Float64("entry_price", entryPrice),
		slog.Float64("entry_volume", entryVolume))
	c.notifier.Notify("Position opened",
		fmt.Sprintf("%s bought %.8g at %.8g KRW", c.session.Ticker, entryVolume, entryPrice))
}

// tryExit attempts one sell flow from the Long state.
func (c *Controller) tryExit(ctx context.Context) {
	entryPrice, entryVolume, ok := c.position.Entry()
	if !ok {
		c.log.Warn("Long position without entry, resetting to flat")
		c.setPosition(ctx, domain.NewFlat())
		return
	}

	// Emergency exit outranks the profit gate: dump at market before
	// looking at the ask at all.
	if c.signals.EmergencyExit(c.session.Ticker) {
		res, err := c.executor.ExecuteMarketSell(ctx, entryVolume, entryPrice)
		if err != nil {
			c.log.Warn("Emergency market sell failed, position unchanged", slog.Any("error", err))
			return
		}
		if res.Effect == domain.EffectNone {
			c.setPosition(ctx, domain.NewFlat())
		}
		return
	}

	book, err := c.exchange.GetOrderBook(ctx, c.session.Ticker)
	if err != nil {
		c.log.Warn("Order book fetch failed", slog.Any("error", err))
		return
	}
	ask := book.BestAsk
	if ask <= 0 {
		c.log.Debug("Empty ask side, holding")
		return
	}
	// Strictly greater: selling at the entry price is a guaranteed loss
	// after fees.
	if ask <= entryPrice {
		c.log.Debug("Ask not profitable, holding",
			slog.Float64("ask", ask),
			slog.Float64("entry_price", entryPrice))
		return
	}

	res, err := c.executor.ExecuteSell(ctx, ask, entryVolume, entryPrice)
	if err != nil {
		c.log.Warn("Sell flow failed", slog.Any("error", err))
		if res.Effect == domain.EffectNone {
			c.setPosition(ctx, domain.NewFlat())
		}
		return
	}

	switch res.Effect {
	case domain.EffectFlat:
		exitPrice := res.Order.WeightedAvgPrice()
		profit := (exitPrice - entryPrice) * res.Order.ExecutedVolume
		c.setPosition(ctx, domain.NewFlat())
		c.log.Info("Exited position",
			slog.Float64("exit_price", exitPrice),
			slog.Float64("profit", profit))
		c.notifier.Notify("Position closed",
			fmt.Sprintf("%s sold %.8g at %.8g (entry %.8g, profit %.8g KRW)",
				c.session.Ticker, res.Order.ExecutedVolume, exitPrice, entryPrice, profit))
	case domain.EffectNone:
		// Emergency flow inside the executor already sold and notified.
		c.setPosition(ctx, domain.NewFlat())
	case domain.EffectLong:
		// Still held, retry next iteration.
	}
}

// setPosition updates and persists the position. Persistence failures are
// logged only: the in-memory state remains authoritative for this run.
// Saving runs on its own context so a shutdown cannot lose the outcome of a
// trade that already settled.
func (c *Controller) setPosition(_ context.Context, pos domain.Position) {
	c.position = pos
	if c.store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.SavePosition(saveCtx, c.session.Ticker, pos, time.Now().Unix()); err != nil {
		c.log.Warn("Failed to persist position", slog.Any("error", err))
	}
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
