package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
trading:
  mode: paper
  assets:
    KRW-XRP:
      volume: 10
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Trading.PollIntervalSec != 1 || cfg.Trading.MaxPolls != 30 || cfg.Trading.CooldownSec != 1 {
		t.Errorf("trading defaults = %d/%d/%d, want 1/30/1",
			cfg.Trading.PollIntervalSec, cfg.Trading.MaxPolls, cfg.Trading.CooldownSec)
	}
	if cfg.API.Bithumb.RestURL == "" || cfg.API.Bithumb.WSURL == "" {
		t.Error("endpoint defaults missing")
	}
	if cfg.Signals.EntryPercentile != 30 || cfg.Signals.ExitPercentile != 5 {
		t.Errorf("signal defaults = %v/%v, want 30/5",
			cfg.Signals.EntryPercentile, cfg.Signals.ExitPercentile)
	}
}

func TestLoadConfig_EnvOverridesWin(t *testing.T) {
	t.Setenv("KRW_BITHUMB_ACCESS_KEY", "env-access")
	t.Setenv("KRW_BITHUMB_SECRET_KEY", "env-secret")
	t.Setenv("KRW_DISCORD_WEBHOOK", "https://discord.example/hook")

	path := writeConfig(t, `
trading:
  mode: real
api:
  bithumb:
    access_key: file-access
    secret_key: file-secret
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.API.Bithumb.AccessKey != "env-access" || cfg.API.Bithumb.SecretKey != "env-secret" {
		t.Error("environment must override file credentials")
	}
	if cfg.Notify.DiscordWebhookURL != "https://discord.example/hook" {
		t.Errorf("webhook = %q", cfg.Notify.DiscordWebhookURL)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "real mode without keys",
			yaml: "trading:\n  mode: real\n",
		},
		{
			name: "unknown mode",
			yaml: "trading:\n  mode: demo\n",
		},
		{
			name: "exit percentile above entry",
			yaml: "trading:\n  mode: paper\nsignals:\n  entry_percentile: 10\n  exit_percentile: 20\n",
		},
		{
			name: "percentile out of range",
			yaml: "trading:\n  mode: paper\nsignals:\n  entry_percentile: 130\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfig_Sessions(t *testing.T) {
	path := writeConfig(t, `
trading:
  mode: paper
  poll_interval_sec: 2
  max_polls: 15
  cooldown_sec: 3
  assets:
    KRW-XRP:
      volume: 10
    KRW-BTC:
      volume: 0
    KRW-USDT:
      volume: 5
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	sessions := cfg.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2 (disabled asset skipped)", len(sessions))
	}
	// Deterministic ticker order.
	if sessions[0].Ticker != "KRW-USDT" || sessions[1].Ticker != "KRW-XRP" {
		t.Errorf("order = %s, %s", sessions[0].Ticker, sessions[1].Ticker)
	}
	s := sessions[0]
	if s.PollInterval != 2*time.Second || s.MaxPolls != 15 || s.Cooldown != 3*time.Second {
		t.Errorf("session timing = %v/%d/%v", s.PollInterval, s.MaxPolls, s.Cooldown)
	}
}
