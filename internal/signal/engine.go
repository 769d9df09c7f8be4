package signal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"krw_trader/internal/domain"
)

// CandleSource supplies recent minute candles for a ticker.
type CandleSource interface {
	GetCandles(ctx context.Context, ticker string, unitMin, count int) ([]domain.Candle, error)
}

// Config holds the gating thresholds.
type Config struct {
	EntryPercentile float64       // enter when bid is at or below this percentile of recent closes
	ExitPercentile  float64       // dump when live price falls below this percentile
	CandleUnitMin   int           // candle width in minutes
	CandleCount     int           // history window length
	RefreshInterval time.Duration // minimum time between candle refreshes
}

// assetState caches the per-ticker thresholds and the latest streamed price.
type assetState struct {
	entryThreshold float64
	exitThreshold  float64
	lastRefresh    time.Time
	lastPrice      float64
	lastPriceAt    time.Time
}

// Engine derives the boolean trading gates from recent price history: candle
// percentile bands over REST, refreshed lazily, plus live last-trade prices
// pushed in from the WebSocket feed. Safe for concurrent use by all workers.
type Engine struct {
	source CandleSource
	cfg    Config

	mu     sync.Mutex
	assets map[string]*assetState
}

// NewEngine creates an engine over the given candle source.
func NewEngine(source CandleSource, cfg Config) *Engine {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Minute
	}
	if cfg.CandleUnitMin <= 0 {
		cfg.CandleUnitMin = 60
	}
	if cfg.CandleCount <= 0 {
		cfg.CandleCount = 24
	}
	return &Engine{
		source: source,
		cfg:    cfg,
		assets: make(map[string]*assetState),
	}
}

// OnPrice records a streamed last-trade price. Hooked to the ticker feed.
func (e *Engine) OnPrice(ticker string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state := e.state(ticker)
	state.lastPrice = price
	state.lastPriceAt = time.Now()
}

// CanEnter reports whether a buy at the candidate bid price is allowed: the
// bid must sit at or below the entry percentile of the recent close window.
// Without usable history the answer is no; entering blind is worse than
// skipping a cycle.
func (e *Engine) CanEnter(ticker string, bid float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.state(ticker)
	e.refreshLocked(ticker, state)
	if state.lastRefresh.IsZero() {
		return false
	}
	return bid <= state.entryThreshold
}

// EmergencyExit reports whether the asset should be dumped at market: the
// latest observed price has fallen below the exit percentile band. Without a
// live price the answer is no; the ordinary profit gate keeps holding.
func (e *Engine) EmergencyExit(ticker string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.state(ticker)
	e.refreshLocked(ticker, state)
	if state.lastRefresh.IsZero() || state.lastPrice <= 0 {
		return false
	}
	return state.lastPrice < state.exitThreshold
}

// state returns the per-ticker cache, creating it on first use.
// Caller holds e.mu.
func (e *Engine) state(ticker string) *assetState {
	s, ok := e.assets[ticker]
	if !ok {
		s = &assetState{}
		e.assets[ticker] = s
	}
	return s
}

// refreshLocked re-derives the percentile thresholds when the cached window
// is stale. Fetch failures keep the previous thresholds; the staleness check
// retries on the next call. Caller holds e.mu.
func (e *Engine) refreshLocked(ticker string, state *assetState) {
	if time.Since(state.lastRefresh) < e.cfg.RefreshInterval {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	candles, err := e.source.GetCandles(ctx, ticker, e.cfg.CandleUnitMin, e.cfg.CandleCount)
	if err != nil || len(candles) == 0 {
		slog.Warn("Candle refresh failed",
			slog.String("ticker", ticker),
			slog.Any("error", err))
		return
	}

	closes := make([]float64, 0, len(candles))
	for _, c := range candles {
		if c.Close > 0 {
			closes = append(closes, c.Close)
		}
	}
	if len(closes) == 0 {
		return
	}

	entry, err := Percentile(closes, e.cfg.EntryPercentile)
	if err != nil {
		return
	}
	exit, err := Percentile(closes, e.cfg.ExitPercentile)
	if err != nil {
		return
	}

	state.entryThreshold = entry
	state.exitThreshold = exit
	state.lastRefresh = time.Now()

	slog.Debug("Signal thresholds refreshed",
		slog.String("ticker", ticker),
		slog.Float64("entry", entry),
		slog.Float64("exit", exit),
		slog.Int("closes", len(closes)))
}
