package trader

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"krw_trader/internal/domain"
)

// startStagger spaces out worker launches so their REST polling does not
// land on the exchange in lockstep.
const startStagger = 1 * time.Second

// Supervisor runs one Controller per configured asset and waits for all of
// them to finish. Workers never talk to each other; the supervisor only
// fans them out and joins them on shutdown.
type Supervisor struct {
	controllers []*Controller
	log         *slog.Logger
}

// NewSupervisor builds controllers for every enabled session.
func NewSupervisor(sessions []domain.TradingSession, exchange domain.Exchange, signals domain.SignalSource, notifier domain.Notifier, store PositionStore, log *slog.Logger) *Supervisor {
	controllers := make([]*Controller, 0, len(sessions))
	for _, session := range sessions {
		if !session.Enabled() {
			continue
		}
		controllers = append(controllers, NewController(session, exchange, signals, notifier, store, log))
	}
	return &Supervisor{controllers: controllers, log: log}
}

// Workers returns the number of controllers the supervisor will run.
func (s *Supervisor) Workers() int {
	return len(s.controllers)
}

// Run starts every worker with a staggered launch and blocks until all of
// them have returned. With no configured assets it returns immediately.
func (s *Supervisor) Run(ctx context.Context) {
	if len(s.controllers) == 0 {
		s.log.Warn("No assets configured, nothing to trade")
		return
	}

	var wg sync.WaitGroup
	for i, controller := range s.controllers {
		if i > 0 {
			if err := sleepCtx(ctx, startStagger); err != nil {
				break
			}
		}
		wg.Add(1)
		go func(c *Controller) {
			defer wg.Done()
			c.Run(ctx)
		}(controller)
	}
	wg.Wait()
	s.log.Info("All workers stopped")
}
