// Package scheduler triggers scan runs on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sydlexius/ratingsync/internal/scan"
)

// Runner starts a full reconciliation run.
type Runner interface {
	Run(ctx context.Context) error
}

// Scheduler runs the scan service on a timer.
type Scheduler struct {
	scans  Runner
	logger *slog.Logger
}

// New creates a scan scheduler.
func New(scans Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		scans:  scans,
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// Start blocks until the context is canceled, kicking off a scan on each
// tick. A tick that lands while a run is still in flight is skipped.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.logger.Error("scheduler not started: non-positive interval", "interval", interval.String())
		return
	}
	s.logger.Info("scheduler started", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	err := s.scans.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, scan.ErrAlreadyRunning):
		s.logger.Warn("scheduled scan skipped: previous run still in flight")
	case errors.Is(err, scan.ErrNoAPIKeys),
		errors.Is(err, scan.ErrNoItemTypes),
		errors.Is(err, scan.ErrAllSourcesAtCap):
		s.logger.Warn("scheduled scan skipped", "reason", err)
	default:
		s.logger.Error("scheduled scan failed", "error", err)
	}
}
