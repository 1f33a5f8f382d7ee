package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Backend drives tick timing for serve mode. Implementations call the tick
// function from a single goroutine at a time and stop when ctx is done.
type Backend interface {
	Run(ctx context.Context, tick func(at time.Time)) error
}

// IntervalBackend ticks immediately on start and then at a fixed interval.
type IntervalBackend struct {
	Interval time.Duration
	Logger   *slog.Logger
}

var _ Backend = (*IntervalBackend)(nil)

// Run implements Backend.
func (b *IntervalBackend) Run(ctx context.Context, tick func(at time.Time)) error {
	interval := b.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("schedule: interval backend started", "interval", interval)

	tick(time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("schedule: interval backend stopped")
			return nil
		case at := <-ticker.C:
			tick(at)
		}
	}
}

// CronBackend ticks on a standard 5-field cron expression. Overlapping
// ticks are skipped: if the previous tick is still running when the next
// fires, the new one is dropped.
type CronBackend struct {
	// Spec is a 5-field cron expression, e.g. "0 7 * * *".
	Spec   string
	Logger *slog.Logger
}

var _ Backend = (*CronBackend)(nil)

// Run implements Backend.
func (b *CronBackend) Run(ctx context.Context, tick func(at time.Time)) error {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser))

	// TryLock is atomic, so a tick that fires while the previous one is
	// still running is skipped rather than queued.
	var running sync.Mutex
	_, err := c.AddFunc(b.Spec, func() {
		if !running.TryLock() {
			logger.Warn("schedule: previous tick still running, skipping")
			return
		}
		defer running.Unlock()
		tick(time.Now())
	})
	if err != nil {
		return fmt.Errorf("schedule: invalid cron expression %q: %w", b.Spec, err)
	}

	c.Start()
	logger.Info("schedule: cron backend started", "spec", b.Spec)

	<-ctx.Done()

	// Wait for an in-flight tick to complete.
	<-c.Stop().Done()
	logger.Info("schedule: cron backend stopped")
	return nil
}

// Serve runs the scheduler under the given backend until ctx is cancelled.
// Cancellation stops new ticks; an in-flight tick drains with its job
// contexts intact (a second signal force-exits the process).
func (s *Scheduler) Serve(ctx context.Context, backend Backend) error {
	runCtx := context.WithoutCancel(ctx)
	return backend.Run(ctx, func(at time.Time) {
		if _, err := s.Tick(runCtx, at); err != nil {
			s.logger.Error("schedule: tick failed", "error", err)
		}
	})
}
