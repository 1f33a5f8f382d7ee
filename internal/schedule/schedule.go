// Package schedule decides which jobs run on a given tick and executes
// them with bounded concurrency. Job failures are isolated: one failed run
// never stops the tick, the scheduler, or other jobs.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vigil-sh/vigil/internal/gateway"
	"github.com/vigil-sh/vigil/internal/history"
	"github.com/vigil-sh/vigil/internal/job"
	"github.com/vigil-sh/vigil/internal/pipeline"
)

// DefaultMaxConcurrent bounds parallel job runs per tick.
const DefaultMaxConcurrent = 4

// Config holds scheduler construction parameters.
type Config struct {
	// JobsDir is the root directory scanned for job subdirectories.
	JobsDir string

	// Phases is the active phase set. Empty means {"default"}: jobs in
	// any other phase (including "ignore") are opt-in only.
	Phases []string

	// Recipients receive each job's report email.
	Recipients []string

	// MaxConcurrent bounds parallel runs. Zero means DefaultMaxConcurrent.
	MaxConcurrent int

	Runner  *pipeline.Runner
	History history.Recorder
	Metrics *gateway.Metrics
	Logger  *slog.Logger

	// Now is injectable for testing. Nil means time.Now.
	Now func() time.Time
}

// Scheduler runs due jobs on each tick.
type Scheduler struct {
	jobsDir       string
	phases        map[string]struct{}
	recipients    []string
	maxConcurrent int
	runner        *pipeline.Runner
	history       history.Recorder
	metrics       *gateway.Metrics
	logger        *slog.Logger
	now           func() time.Time

	mu        sync.Mutex
	startedAt time.Time
	lastTick  time.Time
	jobCount  int
	running   int
}

// New creates a Scheduler from cfg.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	hist := cfg.History
	if hist == nil {
		hist = history.Nop{}
	}

	phases := make(map[string]struct{}, len(cfg.Phases))
	for _, p := range cfg.Phases {
		phases[p] = struct{}{}
	}
	if len(phases) == 0 {
		phases[job.PhaseDefault] = struct{}{}
	}

	return &Scheduler{
		jobsDir:       cfg.JobsDir,
		phases:        phases,
		recipients:    cfg.Recipients,
		maxConcurrent: maxConcurrent,
		runner:        cfg.Runner,
		history:       hist,
		metrics:       cfg.Metrics,
		logger:        logger,
		now:           now,
		startedAt:     now(),
	}
}

// Status reports the scheduler's current state for the admin surface.
func (s *Scheduler) Status() gateway.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gateway.Status{
		StartedAt: s.startedAt,
		Jobs:      s.jobCount,
		LastTick:  s.lastTick,
		Running:   s.running,
	}
}

// Tick discovers jobs, filters by phase and frequency, and runs everything
// due at the given instant. It returns the outcomes of the runs it started
// and an error only when discovery itself fails.
func (s *Scheduler) Tick(ctx context.Context, at time.Time) ([]pipeline.Outcome, error) {
	jobs, err := job.Discover(s.jobsDir, s.logger)
	if err != nil {
		return nil, fmt.Errorf("schedule: discovering jobs: %w", err)
	}
	jobs = job.FilterPhases(jobs, s.phases)

	var due []job.Job
	for _, j := range jobs {
		if j.Frequency.DueAt(at) {
			due = append(due, j)
		}
	}

	s.mu.Lock()
	s.jobCount = len(jobs)
	s.lastTick = at
	s.mu.Unlock()

	s.logger.Info("schedule: tick",
		"at", at.Format(time.RFC3339),
		"discovered", len(jobs),
		"due", len(due),
	)
	if len(due) == 0 {
		return nil, nil
	}

	outcomes := make([]pipeline.Outcome, len(due))
	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup
	for i, j := range due {
		wg.Add(1)
		go func(i int, j job.Job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			s.trackRunning(1)
			defer s.trackRunning(-1)

			outcomes[i] = s.runOne(ctx, j)
		}(i, j)
	}
	wg.Wait()

	return outcomes, nil
}

// runOne executes a single job and records its outcome everywhere the
// outcome is observable. A panic inside a run is contained to that run.
func (s *Scheduler) runOne(ctx context.Context, j job.Job) (out pipeline.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("schedule: job panicked", "job", j.ID, "panic", r)
			out = pipeline.Outcome{
				JobID:     j.ID,
				Status:    pipeline.StatusFailed,
				Err:       fmt.Errorf("schedule: job %s panicked: %v", j.ID, r),
				StartedAt: s.now(),
			}
			s.record(ctx, out)
		}
	}()

	out = s.runner.Run(ctx, j, s.recipients)
	s.record(ctx, out)
	return out
}

func (s *Scheduler) record(ctx context.Context, out pipeline.Outcome) {
	s.metrics.ObserveRun(out.JobID, string(out.Status), out.Duration.Seconds())
	if err := s.history.Record(ctx, out); err != nil {
		s.logger.Warn("schedule: recording run history", "job", out.JobID, "error", err)
	}
	if out.Status == pipeline.StatusFailed && out.Err != nil {
		// Best effort: a failed run still leaves a trace in the blotter.
		text := fmt.Sprintf("ERROR: run failed: %v", out.Err)
		if err := s.runner.Blotter.Append(ctx, out.JobID, text); err != nil {
			s.logger.Warn("schedule: recording failure in blotter", "job", out.JobID, "error", err)
		}
	}
}

func (s *Scheduler) trackRunning(delta int) {
	s.mu.Lock()
	s.running += delta
	s.mu.Unlock()
}

// RunOnce executes a single tick at the current time and reports whether
// any run failed. Used by the one-shot CLI mode.
func (s *Scheduler) RunOnce(ctx context.Context) (failed int, err error) {
	outcomes, err := s.Tick(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, out := range outcomes {
		if out.Status == pipeline.StatusFailed {
			failed++
		}
	}
	return failed, nil
}
