package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"krw_trader/internal/domain"
	"krw_trader/internal/execution"
	"krw_trader/internal/infra"
	"krw_trader/internal/infra/bithumb"
	"krw_trader/internal/notify"
	"krw_trader/internal/signal"
	"krw_trader/internal/storage"
	"krw_trader/internal/trader"
)

// Bootstrap wires the whole application together: config, logging, storage,
// exchange, signals and the per-asset supervisor.
type Bootstrap struct {
	Config     *infra.Config
	Store      *storage.StateStore
	Exchange   domain.Exchange
	Signals    *signal.Engine
	Notifier   *notify.Discord
	Supervisor *trader.Supervisor

	tickerFeed *bithumb.TickerWorker
	unlock     func()
}

// NewBootstrap creates an empty bootstrap; Initialize does the work.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs the startup sequence. Order matters: the logger is
// swapped in right after config so everything below logs at the configured
// level, and the lock file comes before the database so two instances can
// never share one state store.
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping KRW Trader...")

	// 1. Config
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	infra.PrintBanner(cfg)

	// 3. Workspace, instance lock, state store. State is isolated per
	// mode so a paper run can never touch real positions.
	workDir := infra.GetWorkspaceDir()
	dataDir := filepath.Join(workDir, "data", cfg.Trading.Mode)
	if err := infra.EnsureDir(dataDir); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return err
	}
	b.unlock = unlock

	store, err := storage.NewStateStore(filepath.Join(dataDir, "state.db"))
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("✅ State store ready", slog.String("dir", dataDir), slog.String("mode", cfg.Trading.Mode))

	// 4. Exchange (real or paper)
	exchange, err := execution.NewExchange(cfg)
	if err != nil {
		return err
	}
	b.Exchange = exchange

	// 5. Signal engine over keyless public candles
	public := bithumb.NewClient(cfg.API.Bithumb.RestURL, nil)
	b.Signals = signal.NewEngine(public, signal.Config{
		EntryPercentile: cfg.Signals.EntryPercentile,
		ExitPercentile:  cfg.Signals.ExitPercentile,
		CandleUnitMin:   cfg.Signals.CandleUnitMin,
		CandleCount:     cfg.Signals.CandleCount,
		RefreshInterval: time.Duration(cfg.Signals.RefreshIntervalSec) * time.Second,
	})

	// 6. Notifications
	b.Notifier = notify.NewDiscord(cfg.Notify.DiscordWebhookURL)

	// 7. Workers
	sessions := cfg.Sessions()
	tickers := make([]string, 0, len(sessions))
	for _, s := range sessions {
		tickers = append(tickers, s.Ticker)
	}
	b.tickerFeed = bithumb.NewTickerWorker(cfg.API.Bithumb.WSURL, tickers, b.Signals.OnPrice)
	b.Supervisor = trader.NewSupervisor(sessions, exchange, b.Signals, b.Notifier, store, logger)
	slog.Info("✅ Workers ready", slog.Int("assets", b.Supervisor.Workers()))

	return nil
}

// Run starts the live price feed and blocks in the supervisor until the
// context is cancelled.
func (b *Bootstrap) Run(ctx context.Context) error {
	if b.Supervisor.Workers() > 0 {
		if err := b.tickerFeed.Connect(ctx); err != nil {
			return fmt.Errorf("failed to start price feed: %w", err)
		}
		defer b.tickerFeed.Disconnect()
	}

	b.Notifier.Notify("KRW Trader started",
		fmt.Sprintf("mode=%s assets=%d", b.Config.Trading.Mode, b.Supervisor.Workers()))

	b.Supervisor.Run(ctx)
	return nil
}

// Close releases everything Initialize acquired.
func (b *Bootstrap) Close() {
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			slog.Warn("Failed to close state store", slog.Any("error", err))
		}
	}
	if b.unlock != nil {
		b.unlock()
	}
}
