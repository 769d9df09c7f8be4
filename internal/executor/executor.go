package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"krw_trader/internal/domain"
)

// marketSellPolls bounds how long we wait for a market sell to settle before
// reporting whatever fills we observed. Market orders on a liquid KRW book
// settle within one or two polls.
const marketSellPolls = 5

// Result is the outcome of one executed order flow: the last observed order
// snapshot plus the effect the flow had on the worker's position.
type Result struct {
	Order  *domain.Order
	Effect domain.PositionEffect
}

// OrderExecutor drives a single order from submission to a terminal state.
// Buy orders poll with a bounded budget and escalate to cancellation when the
// market moves away; sell orders wait indefinitely but watch the emergency
// exit signal on every poll. One executor serves one asset worker and is not
// safe for concurrent use.
type OrderExecutor struct {
	exchange domain.Exchange
	signals  domain.SignalSource
	notifier domain.Notifier
	session  domain.TradingSession
	log      *slog.Logger
}

// New creates an executor bound to one trading session.
func New(exchange domain.Exchange, signals domain.SignalSource, notifier domain.Notifier, session domain.TradingSession, log *slog.Logger) *OrderExecutor {
	return &OrderExecutor{
		exchange: exchange,
		signals:  signals,
		notifier: notifier,
		session:  session,
		log:      log.With(slog.String("ticker", session.Ticker)),
	}
}

// ExecuteBuy places a limit buy at the given price for the session volume and
// polls it to completion. The poll budget resets whenever executed volume
// grows; when it runs out without progress the executor re-reads the book:
// if our price is still the best bid it keeps waiting, otherwise it cancels
// the order and unwinds any partial fill with a sell at the current market
// price. The returned effect is Long only when bought volume is actually held
// at return time.
func (e *OrderExecutor) ExecuteBuy(ctx context.Context, price float64) (Result, error) {
	order, err := e.exchange.PlaceLimitOrder(ctx, e.session.Ticker, domain.SideBuy, price, e.session.Volume)
	if err != nil {
		return Result{Effect: domain.EffectNone}, fmt.Errorf("failed to place buy order: %w", err)
	}
	e.log.Info("Buy order placed",
		slog.String("order_id", order.ID),
		slog.Float64("price", price),
		slog.Float64("volume", e.session.Volume))

	budget := e.session.MaxPolls
	lastExecuted := order.ExecutedVolume
	current := order

	for !current.IsDone() {
		if budget <= 0 {
			res, finished, err := e.escalateBuy(ctx, current)
			if err != nil || finished {
				return res, err
			}
			// Still the best bid: keep the order resting.
			budget = e.session.MaxPolls
		}

		if err := sleepCtx(ctx, e.session.PollInterval); err != nil {
			// Shutdown mid-flight: the resting order stays on the
			// exchange and is re-adopted from its fills next start.
			return Result{Order: current, Effect: domain.EffectNone}, err
		}

		snap, err := e.exchange.GetOrder(ctx, current.ID)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				e.log.Debug("Buy order not yet visible, repolling", slog.String("order_id", current.ID))
			} else {
				e.log.Warn("Buy order poll failed, retrying", slog.Any("error", err))
			}
			continue
		}

		if snap.ExecutedVolume > lastExecuted {
			e.log.Info("Buy order progressing",
				slog.String("order_id", snap.ID),
				slog.Float64("executed", snap.ExecutedVolume),
				slog.Float64("remaining", snap.RemainingVolume))
			lastExecuted = snap.ExecutedVolume
			budget = e.session.MaxPolls
		} else {
			budget--
		}
		current = snap
	}

	return e.completeBuy(ctx, current)
}

// completeBuy settles the terminal state of a finished buy order.
func (e *OrderExecutor) completeBuy(ctx context.Context, order *domain.Order) (Result, error) {
	if !order.HasFills() {
		e.log.Info("Buy order ended without fills", slog.String("order_id", order.ID))
		return Result{Order: order, Effect: domain.EffectNone}, nil
	}

	e.log.Info("Buy order filled",
		slog.String("order_id", order.ID),
		slog.Float64("avg_price", order.WeightedAvgPrice()),
		slog.Float64("executed", order.ExecutedVolume))
	e.cooldown(ctx)
	return Result{Order: order, Effect: domain.EffectLong}, nil
}

// escalateBuy decides what to do with a buy order whose poll budget ran out.
// finished is false only in the keep-waiting case; every other path is
// terminal for this buy flow.
func (e *OrderExecutor) escalateBuy(ctx context.Context, current *domain.Order) (res Result, finished bool, err error) {
	book, bookErr := e.exchange.GetOrderBook(ctx, e.session.Ticker)
	if bookErr == nil && book.BestBid == current.RequestedPrice {
		e.log.Debug("Buy order still at best bid, extending wait",
			slog.String("order_id", current.ID),
			slog.Float64("price", current.RequestedPrice))
		return Result{Order: current, Effect: domain.EffectNone}, false, nil
	}
	if bookErr != nil {
		// Cannot judge competitiveness without the book; cancel rather
		// than rest blindly at a stale price.
		e.log.Warn("Order book unavailable during escalation, cancelling buy", slog.Any("error", bookErr))
	} else {
		e.log.Info("Best bid moved away from buy order, cancelling",
			slog.String("order_id", current.ID),
			slog.Float64("order_price", current.RequestedPrice),
			slog.Float64("best_bid", book.BestBid))
	}

	// Re-fetch before cancelling: the order may have just filled.
	if snap, ferr := e.exchange.GetOrder(ctx, current.ID); ferr == nil {
		if snap.IsDone() {
			res, err = e.completeBuy(ctx, snap)
			return res, true, err
		}
		current = snap
	}

	if cerr := e.exchange.CancelOrder(ctx, current.ID); cerr != nil {
		if !errors.Is(cerr, domain.ErrOrderNotFound) {
			// Cancellation state unverified: surface it instead of
			// guessing whether volume was bought.
			return Result{Order: current, Effect: domain.EffectNone}, true,
				fmt.Errorf("failed to cancel buy order %s: %w", current.ID, cerr)
		}
		// Already gone: it raced to completion. Take the freshest
		// snapshot we can and settle it as a fill.
		if snap, ferr := e.exchange.GetOrder(ctx, current.ID); ferr == nil {
			current = snap
		}
		res, err = e.completeBuy(ctx, current)
		return res, true, err
	}
	e.log.Info("Buy order cancelled",
		slog.String("order_id", current.ID),
		slog.Float64("executed", current.ExecutedVolume))

	if current.ExecutedVolume <= 0 {
		return Result{Order: current, Effect: domain.EffectNone}, true, nil
	}

	// Partially filled before the cancel landed: dispose of the bought
	// volume immediately at the price the market moved to.
	unwindPrice := current.RequestedPrice
	if bookErr == nil && book.BestBid > 0 {
		unwindPrice = book.BestBid
	}
	e.log.Info("Unwinding partial buy fill",
		slog.Float64("volume", current.ExecutedVolume),
		slog.Float64("price", unwindPrice))
	res, err = e.ExecuteSell(ctx, unwindPrice, current.ExecutedVolume, current.WeightedAvgPrice())
	if res.Order == nil {
		// The sell never reached the exchange; the partial fill is
		// still held and the buy snapshot carries its size.
		res.Order = current
	}
	return res, true, err
}

// ExecuteSell places a limit sell and polls it to completion. There is no
// poll budget on the sell side: the order rests until it fills or the
// emergency exit signal fires, in which case it is cancelled and the holding
// is dumped at market. The effect is Long whenever the volume is still held
// on return.
func (e *OrderExecutor) ExecuteSell(ctx context.Context, price, volume, entryPrice float64) (Result, error) {
	order, err := e.exchange.PlaceLimitOrder(ctx, e.session.Ticker, domain.SideSell, price, volume)
	if err != nil {
		return Result{Effect: domain.EffectLong}, fmt.Errorf("failed to place sell order: %w", err)
	}
	e.log.Info("Sell order placed",
		slog.String("order_id", order.ID),
		slog.Float64("price", price),
		slog.Float64("volume", volume))

	current := order
	for !current.IsDone() {
		if e.signals.EmergencyExit(e.session.Ticker) {
			return e.emergencySell(ctx, current, volume, entryPrice)
		}

		if err := sleepCtx(ctx, e.session.PollInterval); err != nil {
			return Result{Order: current, Effect: domain.EffectLong}, err
		}

		snap, err := e.exchange.GetOrder(ctx, current.ID)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				e.log.Debug("Sell order not yet visible, repolling", slog.String("order_id", current.ID))
			} else {
				e.log.Warn("Sell order poll failed, retrying", slog.Any("error", err))
			}
			continue
		}
		current = snap
	}

	e.log.Info("Sell order filled",
		slog.String("order_id", current.ID),
		slog.Float64("avg_price", current.WeightedAvgPrice()),
		slog.Float64("executed", current.ExecutedVolume))
	e.cooldown(ctx)
	return Result{Order: current, Effect: domain.EffectFlat}, nil
}

// emergencySell cancels a resting sell order and dumps the originally
// requested volume at market.
func (e *OrderExecutor) emergencySell(ctx context.Context, resting *domain.Order, volume, entryPrice float64) (Result, error) {
	e.log.Warn("Emergency exit triggered, cancelling resting sell", slog.String("order_id", resting.ID))

	if err := e.exchange.CancelOrder(ctx, resting.ID); err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return Result{Order: resting, Effect: domain.EffectLong}, fmt.Errorf("failed to cancel sell order %s: %w", resting.ID, err)
		}
		// Already gone: it may have filled in the race.
		if snap, ferr := e.exchange.GetOrder(ctx, resting.ID); ferr == nil && snap.IsDone() {
			e.log.Info("Sell order filled before emergency cancel landed", slog.String("order_id", snap.ID))
			e.cooldown(ctx)
			return Result{Order: snap, Effect: domain.EffectFlat}, nil
		}
	}

	return e.ExecuteMarketSell(ctx, volume, entryPrice)
}

// ExecuteMarketSell dumps volume at market, notifying the realized loss
// against the given entry price. On success the worker no longer holds the
// asset, so the effect is None: the flow is fully settled here and needs no
// entry bookkeeping or cooldown from the caller.
func (e *OrderExecutor) ExecuteMarketSell(ctx context.Context, volume, entryPrice float64) (Result, error) {
	order, err := e.exchange.PlaceMarketOrder(ctx, e.session.Ticker, domain.SideSell, volume)
	if err != nil {
		return Result{Effect: domain.EffectLong}, fmt.Errorf("failed to place market sell: %w", err)
	}

	final := e.awaitMarketOrder(ctx, order)
	exitPrice := final.WeightedAvgPrice()
	loss := (entryPrice - exitPrice) * final.ExecutedVolume

	e.log.Warn("Emergency market sell executed",
		slog.String("order_id", final.ID),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("volume", final.ExecutedVolume),
		slog.Float64("loss", loss))
	e.notifier.Notify("Emergency exit",
		fmt.Sprintf("%s sold %.8g at %.8g (entry %.8g, loss %.8g KRW)",
			e.session.Ticker, final.ExecutedVolume, exitPrice, entryPrice, loss))

	return Result{Order: final, Effect: domain.EffectNone}, nil
}

// awaitMarketOrder polls a market order a bounded number of times so the
// final snapshot carries its fills. The order is already committed; poll
// failures only cost fill detail, so they are logged and swallowed.
func (e *OrderExecutor) awaitMarketOrder(ctx context.Context, order *domain.Order) *domain.Order {
	current := order
	for i := 0; i < marketSellPolls && !current.IsDone(); i++ {
		if err := sleepCtx(ctx, e.session.PollInterval); err != nil {
			break
		}
		snap, err := e.exchange.GetOrder(ctx, current.ID)
		if err != nil {
			e.log.Debug("Market sell poll failed", slog.Any("error", err))
			continue
		}
		current = snap
	}
	return current
}

// cooldown pauses after a completed trade. A shutdown during cooldown is
// harmless: the trade already settled, so the context error is dropped.
func (e *OrderExecutor) cooldown(ctx context.Context) {
	_ = sleepCtx(ctx, e.session.Cooldown)
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
