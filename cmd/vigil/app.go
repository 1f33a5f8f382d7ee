package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/vigil-sh/vigil/internal/blotter"
	"github.com/vigil-sh/vigil/internal/config"
	"github.com/vigil-sh/vigil/internal/fetch"
	"github.com/vigil-sh/vigil/internal/gateway"
	"github.com/vigil-sh/vigil/internal/history"
	"github.com/vigil-sh/vigil/internal/logging"
	"github.com/vigil-sh/vigil/internal/mail"
	"github.com/vigil-sh/vigil/internal/memory"
	"github.com/vigil-sh/vigil/internal/pipeline"
	"github.com/vigil-sh/vigil/internal/provider"
	"github.com/vigil-sh/vigil/internal/schedule"
)

// app holds the wired components for one invocation.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	blotter   *blotter.Store
	metrics   *gateway.Metrics
	history   *history.Store
	Scheduler *schedule.Scheduler
}

func newLogger(secrets ...string) *slog.Logger {
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(logging.NewHandler(inner, logging.NewRedactor(secrets...)))
}

// newApp builds every component from the configuration. A nil metrics is
// valid: all recording calls on it are no-ops.
func newApp(cfg *config.Config, metrics *gateway.Metrics) (*app, error) {
	logger := newLogger(cfg.Provider.APIKey, cfg.Email.APIKey)

	onReclaim := func(_ time.Duration) { metrics.LockReclaimed() }

	bl := blotter.New(blotter.Config{
		Path:        cfg.BlotterPath,
		LockTimeout: cfg.LockTimeout,
		Logger:      logger,
		OnReclaim:   onReclaim,
	})

	mem := memory.New(memory.Config{
		Path:        cfg.MemoryPath,
		LockTimeout: cfg.LockTimeout,
		Logger:      logger,
		OnReclaim:   onReclaim,
	})

	fetcher, err := fetch.New(cfg.Fetcher)
	if err != nil {
		return nil, err
	}

	gen, err := provider.New(cfg.Provider)
	if err != nil {
		return nil, err
	}

	var mailer mail.Mailer = mail.Discard{}
	if cfg.Email.APIKey != "" {
		mailer = &mail.Unosend{APIKey: cfg.Email.APIKey, From: cfg.Email.From}
	}

	runner := &pipeline.Runner{
		Fetcher:        fetcher,
		Feeds:          &fetch.RSS{},
		Generator:      gen,
		Mailer:         mailer,
		Blotter:        bl,
		Memory:         mem,
		Logger:         logger,
		OnEmailFailure: metrics.EmailFailed,
	}

	var hist *history.Store
	var recorder history.Recorder = history.Nop{}
	if cfg.HistoryPath != "" {
		hist, err = history.Open(cfg.HistoryPath)
		if err != nil {
			return nil, err
		}
		recorder = hist
	}

	sched := schedule.New(schedule.Config{
		JobsDir:       cfg.JobsDir,
		Phases:        cfg.Phases,
		Recipients:    cfg.Email.To,
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		Runner:        runner,
		History:       recorder,
		Metrics:       metrics,
		Logger:        logger,
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		blotter:   bl,
		metrics:   metrics,
		history:   hist,
		Scheduler: sched,
	}, nil
}

// Serve runs the scheduler backend and, when configured, the admin server
// until ctx is cancelled.
func (a *app) Serve(ctx context.Context) error {
	var backend schedule.Backend
	switch a.cfg.Scheduler.Backend {
	case config.BackendCron:
		backend = &schedule.CronBackend{Spec: a.cfg.Scheduler.Cron, Logger: a.logger}
	default:
		backend = &schedule.IntervalBackend{Interval: a.cfg.Scheduler.Interval, Logger: a.logger}
	}

	errCh := make(chan error, 2)
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.cfg.Admin.Addr != "" {
		admin := gateway.New(gateway.Config{
			Addr:       a.cfg.Admin.Addr,
			StatusFunc: a.status,
			Blotter:    a.blotter,
			Metrics:    a.metrics,
			Logger:     a.logger,
		})
		go func() { errCh <- admin.Serve(serveCtx) }()
	}

	go func() { errCh <- a.Scheduler.Serve(serveCtx, backend) }()

	select {
	case err := <-errCh:
		cancel()
		return err
	case <-ctx.Done():
		cancel()
		// Let the backend finish an in-flight tick.
		return <-errCh
	}
}

// status combines the scheduler's live state with the most recent runs
// from the history store, when one is configured.
func (a *app) status() gateway.Status {
	st := a.Scheduler.Status()
	if a.history == nil {
		return st
	}

	runs, err := a.history.Recent(context.Background(), "", 10)
	if err != nil {
		a.logger.Warn("reading recent runs for status", "error", err)
		return st
	}
	for _, r := range runs {
		st.RecentRuns = append(st.RecentRuns, gateway.RunSummary{
			JobID:     r.JobID,
			Status:    r.Status,
			StartedAt: r.StartedAt,
			Duration:  r.Duration.Round(time.Millisecond).String(),
			Error:     r.Error,
		})
	}
	return st
}

// Close releases resources that outlive a single run.
func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("closing history store", "error", err)
		}
	}
}
