package domain

import (
	"fmt"
	"time"
)

// Defaults for per-asset trading sessions. These match the documented
// configuration defaults; config omissions fall back to them.
const (
	DefaultPollInterval = 1 * time.Second
	DefaultMaxPolls     = 30
	DefaultCooldown     = 1 * time.Second
)

// TradingSession is the immutable per-asset configuration one worker runs
// with. It is read once at startup; nothing mutates it afterwards.
type TradingSession struct {
	Ticker       string        // market code, e.g. "KRW-XRP"
	Volume       float64       // fixed trade volume; > 0 enables the asset
	PollInterval time.Duration // order poll / retry delay
	MaxPolls     int           // buy-side poll budget before escalation
	Cooldown     time.Duration // pause after each completed trade
}

// ApplyDefaults fills zero-valued timing fields with the documented defaults.
func (s *TradingSession) ApplyDefaults() {
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.MaxPolls <= 0 {
		s.MaxPolls = DefaultMaxPolls
	}
	if s.Cooldown <= 0 {
		s.Cooldown = DefaultCooldown
	}
}

// Enabled reports whether this session should run a worker at all.
func (s *TradingSession) Enabled() bool {
	return s.Volume > 0
}

// Validate checks an enabled session for startup errors.
func (s *TradingSession) Validate() error {
	if s.Ticker == "" {
		return fmt.Errorf("session has no ticker")
	}
	if s.Volume <= 0 {
		return fmt.Errorf("session %s: volume must be positive, got %v", s.Ticker, s.Volume)
	}
	return nil
}
