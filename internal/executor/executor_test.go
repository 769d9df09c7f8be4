package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"krw_trader/internal/domain"
)

// scriptedExchange pops pre-programmed responses per method and records every
// call, so tests can drive an order through an exact poll sequence.
type scriptedExchange struct {
	t *testing.T

	placeResults  []*domain.Order
	marketResults []*domain.Order
	marketErr     error
	getResults    []getResult
	cancelErrs    []error
	bookResults   []bookResult

	placedLimit  []limitCall
	placedMarket []marketCall
	cancelled    []string
	bookFetches  int
}

type getResult struct {
	order *domain.Order
	err   error
}

type bookResult struct {
	book *domain.OrderBook
	err  error
}

type limitCall struct {
	side   domain.Side
	price  float64
	volume float64
}

type marketCall struct {
	side   domain.Side
	volume float64
}

func (s *scriptedExchange) PlaceLimitOrder(_ context.Context, ticker string, side domain.Side, price, volume float64) (*domain.Order, error) {
	s.placedLimit = append(s.placedLimit, limitCall{side: side, price: price, volume: volume})
	if len(s.placeResults) == 0 {
		s.t.Fatalf("unexpected PlaceLimitOrder(%s %s %v @ %v)", ticker, side, volume, price)
	}
	order := s.placeResults[0]
	s.placeResults = s.placeResults[1:]
	return order, nil
}

func (s *scriptedExchange) PlaceMarketOrder(_ context.Context, ticker string, side domain.Side, volume float64) (*domain.Order, error) {
	s.placedMarket = append(s.placedMarket, marketCall{side: side, volume: volume})
	if s.marketErr != nil {
		return nil, s.marketErr
	}
	if len(s.marketResults) == 0 {
		s.t.Fatalf("unexpected PlaceMarketOrder(%s %s %v)", ticker, side, volume)
	}
	order := s.marketResults[0]
	s.marketResults = s.marketResults[1:]
	return order, nil
}

func (s *scriptedExchange) GetOrder(context.Context, string) (*domain.Order, error) {
	if len(s.getResults) == 0 {
		s.t.Fatal("unexpected GetOrder: script exhausted")
	}
	r := s.getResults[0]
	s.getResults = s.getResults[1:]
	return r.order, r.err
}

func (s *scriptedExchange) CancelOrder(_ context.Context, id string) error {
	s.cancelled = append(s.cancelled, id)
	if len(s.cancelErrs) == 0 {
		return nil
	}
	err := s.cancelErrs[0]
	s.cancelErrs = s.cancelErrs[1:]
	return err
}

func (s *scriptedExchange) GetOrderBook(context.Context, string) (*domain.OrderBook, error) {
	s.bookFetches++
	if len(s.bookResults) == 0 {
		s.t.Fatal("unexpected GetOrderBook: script exhausted")
	}
	r := s.bookResults[0]
	s.bookResults = s.bookResults[1:]
	return r.book, r.err
}

// fakeSignals pops one emergency answer per EmergencyExit call, defaulting to
// false once the script runs out.
type fakeSignals struct {
	emergencies []bool
}

func (f *fakeSignals) CanEnter(string, float64) bool { return true }

func (f *fakeSignals) EmergencyExit(string) bool {
	if len(f.emergencies) == 0 {
		return false
	}
	v := f.emergencies[0]
	f.emergencies = f.emergencies[1:]
	return v
}

type recordingNotifier struct {
	titles []string
}

func (r *recordingNotifier) Notify(title, _ string) {
	r.titles = append(r.titles, title)
}

func buyOrder(executed float64, status domain.OrderStatus, trades ...domain.Trade) *domain.Order {
	return &domain.Order{
		ID:              "order-1",
		Ticker:          "KRW-XRP",
		Side:            domain.SideBuy,
		Type:            domain.TypeLimit,
		RequestedPrice:  100,
		RequestedVolume: 10,
		ExecutedVolume:  executed,
		RemainingVolume: 10 - executed,
		Status:          status,
		Trades:          trades,
	}
}

func sellOrder(id string, executed float64, status domain.OrderStatus, trades ...domain.Trade) *domain.Order {
	return &domain.Order{
		ID:             id,
		Ticker:         "KRW-XRP",
		Side:           domain.SideSell,
		Type:           domain.TypeLimit,
		RequestedPrice: 110,
		ExecutedVolume: executed,
		Status:         status,
		Trades:         trades,
	}
}

func book(bid float64) bookResult {
	return bookResult{book: &domain.OrderBook{Ticker: "KRW-XRP", BestBid: bid, BestAsk: bid + 1}}
}

func newTestExecutor(exchange *scriptedExchange, signals *fakeSignals, notifier *recordingNotifier, maxPolls int) *OrderExecutor {
	session := domain.TradingSession{
		Ticker:       "KRW-XRP",
		Volume:       10,
		PollInterval: time.Millisecond,
		MaxPolls:     maxPolls,
		Cooldown:     time.Millisecond,
	}
	return New(exchange, signals, notifier, session, slog.Default())
}

func TestExecuteBuy_FillsWithinBudget(t *testing.T) {
	exchange := &scriptedExchange{
		t:            t,
		placeResults: []*domain.Order{buyOrder(0, domain.StatusPending)},
		getResults: []getResult{
			{order: buyOrder(4, domain.StatusPartial)},
			{order: buyOrder(10, domain.StatusDone, domain.Trade{Price: 100, Volume: 10})},
		},
	}
	exec := newTestExecutor(exchange, &fakeSignals{}, &recordingNotifier{}, 30)

	res, err := exec.ExecuteBuy(context.Background(), 100)
	if err != nil {
		t.Fatalf("ExecuteBuy: %v", err)
	}
	if res.Effect != domain.EffectLong {
		t.Errorf("effect = %v, want Long", res.Effect)
	}
	if got := res.Order.WeightedAvgPrice(); got != 100 {
		t.Errorf("avg price = %v, want 100", got)
	}
	if len(exchange.cancelled) != 0 {
		t.Error("a filled order must not be cancelled")
	}
}

func TestExecuteBuy_ProgressResetsPollBudget(t *testing.T) {
	// With a budget of 2, three non-progress polls are only survivable when
	// the partial fill in between resets the budget.
	exchange := &scriptedExchange{
		t:            t,
		placeResults: []*domain.Order{buyOrder(0, domain.StatusPending)},
		getResults: []getResult{
			{order: buyOrder(0, domain.StatusPending)},
			{order: buyOrder(1, domain.StatusPartial)},
			{order: buyOrder(1, domain.StatusPartial)},
			{order: buyOrder(1, domain.StatusPartial)},
			{order: buyOrder(10, domain.StatusDone, domain.Trade{Price: 100, Volume: 10})},
		},
		bookResults: []bookResult{book(100)}, // still best bid: keep waiting
	}
	exec := newTestExecutor(exchange, &fakeSignals{}, &recordingNotifier{}, 2)

	res, err := exec.ExecuteBuy(context.Background(), 100)
	if err != nil {
		t.Fatalf("ExecuteBuy: %v", err)
	}
	if res.Effect != domain.EffectLong {
		t.Errorf("effect = %v, want Long", res.Effect)
	}
	if exchange.bookFetches != 1 {
		t.Errorf("book fetched %d times, want exactly 1 escalation", exchange.bookFetches)
	}
	if len(exchange.cancelled) != 0 {
		t.Error("order at the best bid must not be cancelled")
	}
}

func TestExecuteBuy_BidMovedAway_CancelsUnfilledOrder(t *testing.T) {
	exchange := &scriptedExchange{
		t:            t,
		placeResults: []*domain.Order{buyOrder(0, domain.StatusPending)},
		getResults: []getResult{
			{order: buyOrder(0, domain.StatusPending)},
			{order: buyOrder(0, domain.StatusPending)}, // pre-cancel re-fetch
		},
		bookResults: []bookResult{book(99)}, // bid dropped below our price
	}
	exec := newTestExecutor(exchange, &fakeSignals{}, &recordingNotifier{}, 1)

	res, err := exec.ExecuteBuy(context.Background(), 100)
	if err != nil {
		t.Fatalf("ExecuteBuy: %v", err)
	}
	if res.Effect != domain.EffectNone {
		t.Errorf("effect = %v, want None", res.Effect)
	}
	if len(exchange.cancelled) != 1 {
		t.Fatalf("cancelled = %v, want one cancellation", exchange.cancelled)
	}
	if len(exchange.placedLimit) != 1 {
		t.Errorf("placed %d orders, want only the buy", len(exchange.placedLimit))
	}
}

func TestExecuteBuy_PartialFill_UnwoundAtCurrentBid(t *testing.T) {
	exchange := &scriptedExchange{
		t: t,
		placeResults: []*domain.Order{
			buyOrder(0, domain.StatusPending),
			sellOrder("sell-1", 0, domain.StatusPending),
		},
		getResults: []getResult{
			{order: buyOrder(3, domain.StatusPartial, domain.Trade{Price: 100, Volume: 3})},
			{order: buyOrder(3, domain.StatusPartial, domain.Trade{Price: 100, Volume: 3})},
			{order: buyOrder(3, domain.StatusPartial, domain.Trade{Price: 100, Volume: 3})}, // pre-cancel re-fetch
			{order: sellOrder("sell-1", 3, domain.StatusDone, domain.Trade{Price: 95, Volume: 3})},
		},
		bookResults: []bookResult{book(95)},
	}
	exec := newTestExecutor(exchange, &fakeSignals{}, &recordingNotifier{}, 1)

	res, err := exec.ExecuteBuy(context.Background(), 100)
	if err != nil {
		t.Fatalf("ExecuteBuy: %v", err)
	}
	if res.Effect != domain.EffectFlat {
		t.Errorf("effect = %v, want Flat after unwind", res.Effect)
	}
	if len(exchange.placedLimit) != 2 {
		t.Fatalf("placed %d limit orders, want buy + unwind sell", len(exchange.placedLimit))
	}
	unwind := exchange.placedLimit[1]
	if unwind.side != domain.SideSell || unwind.price != 95 || unwind.volume != 3 {
		t.Errorf("unwind = %+v, want sell 3 @ 95", unwind)
	}
}

func TestExecuteBuy_CancelRace_TreatedAsFill(t *testing.T) {
	filled := buyOrder(10, domain.StatusDone, domain.Trade{Price: 100, Volume: 10})
	exchange := &scriptedExchange{
		t:            t,
		placeResults: []*domain.Order{buyOrder(0, domain.StatusPending)},
		getResults: []getResult{
			{order: buyOrder(0, domain.StatusPending)},
			{order: buyOrder(0, domain.StatusPending)}, // pre-cancel re-fetch, not yet settled
			{order: filled}, // post-cancel re-fetch
		},
		bookResults: []bookResult{book(99)},
		cancelErrs:  []error{domain.ErrOrderNotFound},
	}
	exec := newTestExecutor(exchange, &fakeSignals{}, &recordingNotifier{}, 1)

	res, err := exec.ExecuteBuy(context.Background(), 100)
	if err != nil {
		t.Fatalf("ExecuteBuy: %v", err)
	}
	if res.Effect != domain.EffectLong {
		t.Errorf("effect = %v, want Long: the order filled before the cancel landed", res.Effect)
	}
	if res.Order.ExecutedVolume != 10 {
		t.Errorf("executed = %v, want 10", res.Order.ExecutedVolume)
	}
}

func TestExecuteBuy_CancelFailure_Propagated(t *testing.T) {
	exchange := &scriptedExchange{
		t:            t,
		placeResults: []*domain.Order{buyOrder(0, domain.StatusPending)},
		getResults: []getResult{
			{order: buyOrder(0, domain.StatusPending)},
			{order: buyOrder(0, domain.StatusPending)},
		},
		bookResults: []bookResult{book(99)},
		cancelErrs:  []error{errors.New("http 500")},
	}
	exec := newTestExecutor(exchange, &fakeSignals{}, &recordingNotifier{}, 1)

	_, err := exec.ExecuteBuy(context.Background(), 100)
	if err == nil {
		t.Fatal("an unverified cancellation must surface as an error")
	}
}

func TestExecuteBuy_PollErrorsDoNotConsumeBudget(t *testing.T) {
	exchange := &scriptedExchange{
		t:            t,
		placeResults: []*domain.Order{buyOrder(0, domain.StatusPending)},
		getResults: []getResult{
			{err: fmt.Errorf("timeout")},
			{err: domain.ErrOrderNotFound},
			{order: buyOrder(10, domain.StatusDone, domain.Trade{Price: 100, Volume: 10})},
		},
	}
	exec := newTestExecutor(exchange, &fakeSignals{}, &recordingNotifier{}, 1)

	res, err := exec.ExecuteBuy(context.Background(), 100)
	if err != nil {
		t.Fatalf("ExecuteBuy: %v", err)
	}
	if res.Effect != domain.EffectLong {
		t.Errorf("effect = %v, want Long", res.Effect)
	}
	if exchange.bookFetches != 0 {
		t.Error("transient poll failures must not trigger escalation")
	}
}

func TestExecuteSell_NormalCompletion(t *testing.T) {
	exchange := &scriptedExchange{
		t:            t,
		placeResults: []*domain.Order{sellOrder("sell-1", 0, domain.StatusPending)},
		getResults: []getResult{
			{order: sellOrder("sell-1", 0, domain.StatusPending)},
			{order: sellOrder("sell-1", 10, domain.StatusDone, domain.Trade{Price: 110, Volume: 10})},
		},
	}
	exec := newTestExecutor(exchange, &fakeSignals{}, &recordingNotifier{}, 1)

	res, err := exec.ExecuteSell(context.Background(), 110, 10, 100)
	if err != nil {
		t.Fatalf("ExecuteSell: %v", err)
	}
	if res.Effect != domain.EffectFlat {
		t.Errorf("effect = %v, want Flat", res.Effect)
	}
	if len(exchange.cancelled) != 0 {
		t.Error("a sell that fills must never be cancelled")
	}
}

func TestExecuteSell_NoPollBudget(t *testing.T) {
	// MaxPolls of 1 must not bound the sell side: the order keeps resting
	// through many unfilled polls.
	gets := make([]getResult, 0, 10)
	for i := 0; i < 9; i++ {
		gets = append(gets, getResult{order: sellOrder("sell-1", 0, domain.StatusPending)})
	}
	gets = append(gets, getResult{order: sellOrder("sell-1", 10, domain.StatusDone, domain.Trade{Price: 110, Volume: 10})})

	exchange := &scriptedExchange{
		t:            t,
		placeResults: []*domain.Order{sellOrder("sell-1", 0, domain.StatusPending)},
		getResults:   gets,
	}
	exec := newTestExecutor(exchange, &fakeSignals{}, &recordingNotifier{}, 1)

	res, err := exec.ExecuteSell(context.Background(), 110, 10, 100)
	if err != nil {
		t.Fatalf("ExecuteSell: %v", err)
	}
	if res.Effect != domain.EffectFlat {
		t.Errorf("effect = %v, want Flat", res.Effect)
	}
	if exchange.bookFetches != 0 {
		t.Error("sell side must never escalate via the order book")
	}
}

func TestExecuteSell_EmergencyExit_DumpsRequestedVolume(t *testing.T) {
	notifier := &recordingNotifier{}
	exchange := &scriptedExchange{
		t:            t,
		placeResults: []*domain.Order{sellOrder("sell-1", 0, domain.StatusPending)},
		marketResults: []*domain.Order{{
			ID:             "mkt-1",
			Ticker:         "KRW-XRP",
			Side:           domain.SideSell,
			Type:           domain.TypeMarket,
			ExecutedVolume: 5,
			Status:         domain.StatusDone,
			Trades:         []domain.Trade{{Price: 90, Volume: 5}},
		}},
	}
	signals := &fakeSignals{emergencies: []bool{true}}
	exec := newTestExecutor(exchange, signals, notifier, 30)

	res, err := exec.ExecuteSell(context.Background(), 110, 5, 100)
	if err != nil {
		t.Fatalf("ExecuteSell: %v", err)
	}
	if res.Effect != domain.EffectNone {
		t.Errorf("effect = %v, want None: emergency flow settles fully", res.Effect)
	}
	if len(exchange.cancelled) != 1 {
		t.Fatalf("cancelled = %v, want the resting sell cancelled", exchange.cancelled)
	}
	if len(exchange.placedMarket) != 1 {
		t.Fatal("expected one market sell")
	}
	if got := exchange.placedMarket[0].volume; got != 5 {
		t.Errorf("market sell volume = %v, want the originally requested 5", got)
	}
	if len(notifier.titles) != 1 || notifier.titles[0] != "Emergency exit" {
		t.Errorf("notifications = %v, want one emergency alert", notifier.titles)
	}
}

func TestExecuteSell_EmergencyCancelRace_FilledIsFlat(t *testing.T) {
	exchange := &scriptedExchange{
		t:            t,
		placeResults: []*domain.Order{sellOrder("sell-1", 0, domain.StatusPending)},
		cancelErrs:   []error{domain.ErrOrderNotFound},
		getResults: []getResult{
			{order: sellOrder("sell-1", 10, domain.StatusDone, domain.Trade{Price: 110, Volume: 10})},
		},
	}
	signals := &fakeSignals{emergencies: []bool{true}}
	exec := newTestExecutor(exchange, signals, &recordingNotifier{}, 30)

	res, err := exec.ExecuteSell(context.Background(), 110, 10, 100)
	if err != nil {
		t.Fatalf("ExecuteSell: %v", err)
	}
	if res.Effect != domain.EffectFlat {
		t.Errorf("effect = %v, want Flat: the sell filled before the cancel landed", res.Effect)
	}
	if len(exchange.placedMarket) != 0 {
		t.Error("no market sell may follow a sell that already filled")
	}
}

func TestExecuteSell_EmergencyCancelFailure_KeepsPosition(t *testing.T) {
	exchange := &scriptedExchange{
		t:            t,
		placeResults: []*domain.Order{sellOrder("sell-1", 0, domain.StatusPending)},
		cancelErrs:   []error{errors.New("http 500")},
	}
	signals := &fakeSignals{emergencies: []bool{true}}
	exec := newTestExecutor(exchange, signals, &recordingNotifier{}, 30)

	res, err := exec.ExecuteSell(context.Background(), 110, 10, 100)
	if err == nil {
		t.Fatal("a failed emergency cancel must surface as an error")
	}
	if res.Effect != domain.EffectLong {
		t.Errorf("effect = %v, want Long: the position is still held", res.Effect)
	}
	if len(exchange.placedMarket) != 0 {
		t.Error("must not market sell while a resting sell may still be live")
	}
}

func TestExecuteMarketSell_PlacementFailureKeepsPosition(t *testing.T) {
	exchange := &scriptedExchange{t: t, marketErr: errors.New("insufficient funds")}
	exec := newTestExecutor(exchange, &fakeSignals{}, &recordingNotifier{}, 30)

	res, err := exec.ExecuteMarketSell(context.Background(), 5, 100)
	if err == nil {
		t.Fatal("placement failure must surface as an error")
	}
	if res.Effect != domain.EffectLong {
		t.Errorf("effect = %v, want Long", res.Effect)
	}
}

func TestExecuteBuy_ContextCancelledDuringPoll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exchange := &scriptedExchange{
		t:            t,
		placeResults: []*domain.Order{buyOrder(0, domain.StatusPending)},
	}
	exec := newTestExecutor(exchange, &fakeSignals{}, &recordingNotifier{}, 30)

	_, err := exec.ExecuteBuy(ctx, 100)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(exchange.cancelled) != 0 {
		t.Error("shutdown must leave the resting order on the exchange")
	}
}
