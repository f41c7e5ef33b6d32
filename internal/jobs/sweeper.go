package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper deletes terminal jobs older than a retention window on a cron schedule.
// Pending and running jobs are never touched.
type Sweeper struct {
	store     Store
	retention time.Duration
	schedule  cron.Schedule
	logger    *slog.Logger
	now       func() time.Time
}

// NewSweeper parses a standard five-field cron expression.
func NewSweeper(store Store, retention time.Duration, expr string, logger *slog.Logger) (*Sweeper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", expr, err)
	}
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:     store,
		retention: retention,
		schedule:  schedule,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Run sweeps at every scheduled instant until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		now := s.now()
		timer := time.NewTimer(s.schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Info("swept expired jobs", "count", n, "remaining", s.store.Len())
			}
		}
	}
}

// Sweep deletes terminal jobs whose completion is older than the retention
// window and returns how many were removed.
func (s *Sweeper) Sweep() int {
	cutoff := s.now().Add(-s.retention)
	removed := 0
	for _, j := range s.store.List("", 0) {
		if !j.Status.Terminal() {
			continue
		}
		if finishedAt(j).Before(cutoff) && s.store.Delete(j.ID) {
			removed++
		}
	}
	return removed
}
