package infra

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"krw_trader/internal/domain"
)

// AssetConfig is the per-asset portion of the trading configuration.
// A zero or negative volume disables the asset.
type AssetConfig struct {
	Volume float64 `yaml:"volume"`
}

// Config holds the full application configuration. It is loaded once at
// startup and treated as immutable afterwards; environment variables
// override the sensitive values after parsing.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode            string                 `yaml:"mode"` // "real" or "paper"
		PollIntervalSec int                    `yaml:"poll_interval_sec"`
		MaxPolls        int                    `yaml:"max_polls"`
		CooldownSec     int                    `yaml:"cooldown_sec"`
		Assets          map[string]AssetConfig `yaml:"assets"`
	} `yaml:"trading"`

	API struct {
		Bithumb struct {
			RestURL   string `yaml:"rest_url"`
			WSURL     string `yaml:"ws_url"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
		} `yaml:"bithumb"`
	} `yaml:"api"`

	Signals struct {
		EntryPercentile    float64 `yaml:"entry_percentile"`
		ExitPercentile     float64 `yaml:"exit_percentile"`
		CandleUnitMin      int     `yaml:"candle_unit_min"`
		CandleCount        int     `yaml:"candle_count"`
		RefreshIntervalSec int     `yaml:"refresh_interval_sec"`
	} `yaml:"signals"`

	Notify struct {
		DiscordWebhookURL string `yaml:"discord_webhook_url"`
	} `yaml:"notify"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the yaml configuration file, applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Trading.Mode == "" {
		c.Trading.Mode = "paper"
	}
	if c.Trading.PollIntervalSec <= 0 {
		c.Trading.PollIntervalSec = 1
	}
	if c.Trading.MaxPolls <= 0 {
		c.Trading.MaxPolls = domain.DefaultMaxPolls
	}
	if c.Trading.CooldownSec <= 0 {
		c.Trading.CooldownSec = 1
	}
	if c.API.Bithumb.RestURL == "" {
		c.API.Bithumb.RestURL = "https://api.bithumb.com"
	}
	if c.API.Bithumb.WSURL == "" {
		c.API.Bithumb.WSURL = "wss://ws-api.bithumb.com/websocket/v1"
	}
	if c.Signals.EntryPercentile <= 0 {
		c.Signals.EntryPercentile = 30
	}
	if c.Signals.ExitPercentile <= 0 {
		c.Signals.ExitPercentile = 5
	}
	if c.Signals.CandleUnitMin <= 0 {
		c.Signals.CandleUnitMin = 60
	}
	if c.Signals.CandleCount <= 0 {
		c.Signals.CandleCount = 24
	}
	if c.Signals.RefreshIntervalSec <= 0 {
		c.Signals.RefreshIntervalSec = 60
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// overrideWithEnv lets secrets come from the environment instead of the
// config file. Environment variables always win.
func (c *Config) overrideWithEnv() {
	if key := os.Getenv("KRW_BITHUMB_ACCESS_KEY"); key != "" {
		c.API.Bithumb.AccessKey = key
	}
	if secret := os.Getenv("KRW_BITHUMB_SECRET_KEY"); secret != "" {
		c.API.Bithumb.SecretKey = secret
	}
	if hook := os.Getenv("KRW_DISCORD_WEBHOOK"); hook != "" {
		c.Notify.DiscordWebhookURL = hook
	}
}

// Validate checks the configuration for fatal startup errors. Missing
// credentials in real mode and malformed thresholds are reported here, once,
// instead of surfacing mid-trade.
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case "real":
		if c.API.Bithumb.AccessKey == "" || c.API.Bithumb.SecretKey == "" {
			return fmt.Errorf("real mode requires KRW_BITHUMB_ACCESS_KEY and KRW_BITHUMB_SECRET_KEY")
		}
	case "paper":
		// Public endpoints only; no credentials needed.
	default:
		return fmt.Errorf("unknown trading mode: %q", c.Trading.Mode)
	}

	if c.Signals.EntryPercentile > 100 || c.Signals.ExitPercentile > 100 {
		return fmt.Errorf("signal percentiles must be within [0, 100]")
	}
	if c.Signals.ExitPercentile >= c.Signals.EntryPercentile {
		return fmt.Errorf("exit percentile (%v) must be below entry percentile (%v)",
			c.Signals.ExitPercentile, c.Signals.EntryPercentile)
	}

	for ticker, asset := range c.Trading.Assets {
		if ticker == "" {
			return fmt.Errorf("asset with empty ticker")
		}
		_ = asset // negative/zero volume just disables the asset
	}

	return nil
}

// Sessions builds the immutable per-asset sessions for every enabled asset,
// in deterministic ticker order. Disabled assets (volume <= 0) are skipped.
func (c *Config) Sessions() []domain.TradingSession {
	tickers := make([]string, 0, len(c.Trading.Assets))
	for ticker := range c.Trading.Assets {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	sessions := make([]domain.TradingSession, 0, len(tickers))
	for _, ticker := range tickers {
		asset := c.Trading.Assets[ticker]
		if asset.Volume <= 0 {
			continue
		}
		s := domain.TradingSession{
			Ticker:       ticker,
			Volume:       asset.Volume,
			PollInterval: time.Duration(c.Trading.PollIntervalSec) * time.Second,
			MaxPolls:     c.Trading.MaxPolls,
			Cooldown:     time.Duration(c.Trading.CooldownSec) * time.Second,
		}
		s.ApplyDefaults()
		sessions = append(sessions, s)
	}
	return sessions
}
