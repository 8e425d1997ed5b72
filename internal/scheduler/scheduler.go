package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/kelp/bluemastodon/internal/domain"
)

// Runner defines the interface for sync runs.
type Runner interface {
	Run(ctx context.Context) (*domain.RunResult, error)
}

type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// Start runs one sync immediately and then on every interval tick until the
// context is canceled. A failed run is logged and the next tick proceeds;
// runs never overlap because execution is sequential.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runSync(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runSync(ctx)
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	syncCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if _, err := s.runner.Run(syncCtx); err != nil {
		s.logger.Error("sync failed", "error", err)
	}
}
