package execution

import (
	"fmt"
	"log/slog"
	"os"

	"krw_trader/internal/domain"
	"krw_trader/internal/infra"
	"krw_trader/internal/infra/bithumb"
)

// Mode selects how orders are executed.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeReal  Mode = "real"
)

// NewExchange builds the Exchange implementation for the configured mode.
// Paper mode trades virtual balances against live public quotes; real mode
// signs against the account and additionally requires the CONFIRM_REAL_MONEY
// environment latch, so a copied config cannot silently spend real funds.
func NewExchange(cfg *infra.Config) (domain.Exchange, error) {
	mode := Mode(cfg.Trading.Mode)
	slog.Info("Initializing exchange", slog.String("mode", string(mode)))

	switch mode {
	case ModePaper:
		public := bithumb.NewClient(cfg.API.Bithumb.RestURL, nil)
		return NewPaperExchange(public, DefaultPaperBalanceKRW), nil

	case ModeReal:
		if os.Getenv("CONFIRM_REAL_MONEY") != "true" {
			return nil, fmt.Errorf("real trading requires CONFIRM_REAL_MONEY=true in the environment")
		}
		signer := bithumb.NewSigner(cfg.API.Bithumb.AccessKey, cfg.API.Bithumb.SecretKey)
		return bithumb.NewClient(cfg.API.Bithumb.RestURL, signer), nil

	default:
		return nil, fmt.Errorf("unknown trading mode: %q", cfg.Trading.Mode)
	}
}
