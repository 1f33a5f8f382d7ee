// Package pipeline drives one job through the mandated execution shape:
// a deterministic gather stage, a single bounded inference call, and a
// deterministic output stage. Model output never performs side effects;
// the output stage parses it and mediates every durable change through the
// blotter store, the memory store, and the email collaborator.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vigil-sh/vigil/internal/action"
	"github.com/vigil-sh/vigil/internal/blotter"
	"github.com/vigil-sh/vigil/internal/fetch"
	"github.com/vigil-sh/vigil/internal/job"
	"github.com/vigil-sh/vigil/internal/mail"
	"github.com/vigil-sh/vigil/internal/memory"
	"github.com/vigil-sh/vigil/internal/provider"
)

// blotterContextLines is how many recent entries feed the prompt.
const blotterContextLines = 50

// Status is the terminal state of one job run.
type Status string

// Run states reported to the scheduler.
const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Outcome is the ephemeral record of one (job, tick) execution. It is
// never persisted by the pipeline itself; the scheduler hands it to the
// run-history store and the metrics collectors.
type Outcome struct {
	JobID     string
	Status    Status
	Report    string
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Runner executes jobs. All collaborators are injected; the runner owns
// only the pipeline ordering and failure policy.
type Runner struct {
	Fetcher   fetch.Fetcher
	Feeds     *fetch.RSS
	Generator provider.Generator
	Mailer    mail.Mailer
	Blotter   *blotter.Store
	Memory    *memory.Store
	Logger    *slog.Logger

	// ScriptTimeout bounds each data-gathering script. Zero means 60s.
	ScriptTimeout time.Duration

	// OnEmailFailure is called when a report email cannot be delivered.
	// Delivery failures never fail the run.
	OnEmailFailure func()

	// Now is injectable for testing. Nil means time.Now.
	Now func() time.Time
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// Run executes one job end to end and returns its outcome. Failures are
// contained to this run: the caller decides only whether to record them.
func (r *Runner) Run(ctx context.Context, j job.Job, recipients []string) Outcome {
	log := r.logger().With("job", j.ID)
	started := r.now()
	out := Outcome{JobID: j.ID, StartedAt: started}
	defer func() {
		out.Duration = r.now().Sub(started)
	}()

	log.Info("pipeline: job started")

	// Deterministic pre-stage: gather everything the prompt will see.
	memoryText, err := r.Memory.Read()
	if err != nil {
		log.Warn("pipeline: reading memory", "error", err)
	}
	tail, err := r.Blotter.ReadLast(blotterContextLines)
	if err != nil {
		log.Warn("pipeline: reading blotter tail", "error", err)
	}

	var parts []string
	if scriptOut := r.runScripts(ctx, j, log); scriptOut != "" {
		parts = append(parts, scriptOut)
	}
	for _, url := range j.FetchURLs {
		res := r.Fetcher.Fetch(ctx, url)
		if res.Success {
			parts = append(parts, fmt.Sprintf("### %s\n%s", url, res.Markdown))
		} else {
			parts = append(parts, fmt.Sprintf("### %s\n(fetch failed: %s)", url, res.Error))
		}
	}
	for _, url := range j.RSSURLs {
		digest, err := r.feeds().FetchFeed(ctx, url)
		if err != nil {
			parts = append(parts, fmt.Sprintf("### %s\n(rss failed: %v)", url, err))
		} else {
			parts = append(parts, fmt.Sprintf("### %s\n%s", url, digest))
		}
	}

	expander := &action.Expander{Fetcher: r.Fetcher, Logger: log}
	expanded := expander.Expand(ctx, j.Body)

	prompt := buildPrompt(j.ID, expanded, strings.Join(parts, "\n\n---\n\n"), strings.Join(tail, "\n"), memoryText)

	// Inference: one request, one response, no tools. An inference
	// failure is fatal to this run; no output handling is attempted.
	raw, err := r.Generator.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		log.Error("pipeline: inference failed", "error", err)
		out.Status = StatusFailed
		out.Err = err
		return out
	}

	// Deterministic post-stage: the blotter record comes first; losing it
	// fails the run even though inference succeeded.
	report, deltas := extractOutput(raw)
	out.Report = report

	if err := r.Blotter.Append(ctx, j.ID, report); err != nil {
		log.Error("pipeline: blotter append failed", "error", err)
		out.Status = StatusFailed
		out.Err = err
		return out
	}

	if err := r.Memory.Apply(ctx, j.ID, deltas); err != nil {
		log.Error("pipeline: memory update failed", "error", err)
		out.Status = StatusFailed
		out.Err = err
		return out
	}

	if len(recipients) > 0 {
		html := fmt.Sprintf("<h2>Job: %s</h2><pre>%s</pre>", j.ID, htmlEscape(report))
		subject := fmt.Sprintf("[vigil] %s", j.ID)
		if err := r.Mailer.Send(ctx, recipients, subject, html, report); err != nil {
			// Non-fatal: the durable record is already written.
			log.Warn("pipeline: email delivery failed", "error", err)
			if r.OnEmailFailure != nil {
				r.OnEmailFailure()
			}
		}
	}

	log.Info("pipeline: job completed", "duration", r.now().Sub(started))
	out.Status = StatusCompleted
	return out
}

func (r *Runner) feeds() *fetch.RSS {
	if r.Feeds == nil {
		return &fetch.RSS{}
	}
	return r.Feeds
}

// runScripts executes each of the job's data-gathering scripts as an
// isolated subprocess and returns their combined stdout, sectioned by
// script name. A failing script contributes its stderr as a section
// instead of failing the run.
func (r *Runner) runScripts(ctx context.Context, j job.Job, log *slog.Logger) string {
	timeout := r.ScriptTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var sections []string
	for _, script := range j.Scripts {
		name := filepath.Base(script)

		sctx, cancel := context.WithTimeout(ctx, timeout)
		cmd := exec.CommandContext(sctx, script)
		cmd.Dir = j.Dir
		cmd.Env = scriptEnv(j)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		err := cmd.Run()
		cancel()

		if stdout.Len() > 0 {
			sections = append(sections, fmt.Sprintf("### %s\n%s", name, stdout.String()))
		}
		if err != nil {
			log.Warn("pipeline: script failed", "script", name, "error", err)
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			sections = append(sections, fmt.Sprintf("### %s (stderr)\n%s", name, msg))
		}
	}
	return strings.Join(sections, "\n\n")
}

// scriptEnv builds a script's environment: the process environment, the
// job's .env values, and the job identity variables.
func scriptEnv(j job.Job) []string {
	env := os.Environ()
	for k, v := range j.Env {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"VIGIL_JOB_ID="+j.ID,
		"VIGIL_JOB_PATH="+j.Dir,
	)
	if j.Select > 0 {
		env = append(env, "VIGIL_JOB_SELECT="+strconv.Itoa(j.Select))
	}
	return env
}

// htmlEscape covers the handful of characters that matter inside <pre>.
func htmlEscape(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return replacer.Replace(s)
}
