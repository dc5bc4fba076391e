package services

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/poyrazK/cardgate/internal/core/ports"
)

// Sweeper periodically expires ACTIVE cards whose window has closed.
// It only keeps reporting tidy; validation never depends on it having run.
type Sweeper struct {
	svc      ports.CardService
	interval time.Duration
	logger   *slog.Logger
	runs     atomic.Int64
}

func NewSweeper(svc ports.CardService, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		svc:      svc,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
	}
}

// Start blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("starting expiry sweeper", "interval", s.interval)

	s.TriggerSweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down expiry sweeper")
			return
		case <-ticker.C:
			s.TriggerSweep(ctx)
		}
	}
}

// TriggerSweep runs one sweep immediately.
func (s *Sweeper) TriggerSweep(ctx context.Context) int {
	s.runs.Add(1)
	n, err := s.svc.ExpireStale(ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed", "error", err, "expired", n)
		return n
	}
	s.logger.Debug("expiry sweep finished", "expired", n)
	return n
}

// Runs reports how many sweeps have started.
func (s *Sweeper) Runs() int64 {
	return s.runs.Load()
}
