package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vigil-sh/vigil/internal/blotter"
	"github.com/vigil-sh/vigil/internal/fetch"
	"github.com/vigil-sh/vigil/internal/job"
	"github.com/vigil-sh/vigil/internal/memory"
)

type stubGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (g *stubGenerator) Generate(_ context.Context, _, input string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, input)
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *stubGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type stubFetcher struct {
	result fetch.Result
}

func (f *stubFetcher) Fetch(_ context.Context, url string) fetch.Result {
	res := f.result
	res.URL = url
	return res
}

type sentMail struct {
	to      []string
	subject string
	text    string
}

type stubMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *stubMailer) Send(_ context.Context, to []string, subject, _, text string) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	m.sent = append(m.sent, sentMail{to: to, subject: subject, text: text})
	m.mu.Unlock()
	return nil
}

func testRunner(t *testing.T, gen *stubGenerator) (*Runner, *blotter.Store, *memory.Store, *stubMailer) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	bl := blotter.New(blotter.Config{Path: filepath.Join(dir, "blotter.txt"), Logger: logger})
	mem := memory.New(memory.Config{Path: filepath.Join(dir, "memory.txt"), Logger: logger})
	mailer := &stubMailer{}

	return &Runner{
		Fetcher:   &stubFetcher{result: fetch.Result{Success: true, Markdown: "content"}},
		Generator: gen,
		Mailer:    mailer,
		Blotter:   bl,
		Memory:    mem,
		Logger:    logger,
	}, bl, mem, mailer
}

func TestRunner_Run_EndToEnd(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: "Hello\n---MEMORY---\nWatch disk usage\n---END MEMORY---"}
	r, bl, mem, mailer := testRunner(t, gen)

	j := job.Job{ID: "disk-watch", Dir: t.TempDir(), Body: "Check the disks."}
	out := r.Run(context.Background(), j, []string{"ops@example.com"})

	if out.Status != StatusCompleted {
		t.Fatalf("status = %s, err = %v", out.Status, out.Err)
	}
	if out.Report != "Hello" {
		t.Errorf("report = %q", out.Report)
	}

	lines, err := bl.ReadLast(0)
	if err != nil {
		t.Fatalf("reading blotter: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("blotter lines = %d, want 1", len(lines))
	}
	entry := blotter.ParseLine(lines[0])
	if entry.JobID != "disk-watch" || entry.Text != "Hello" {
		t.Errorf("entry = %+v", entry)
	}
	if strings.Contains(lines[0], "---MEMORY---") {
		t.Error("marker block leaked into blotter")
	}

	memText, err := mem.Read()
	if err != nil {
		t.Fatalf("reading memory: %v", err)
	}
	if !strings.Contains(memText, "Watch disk usage") {
		t.Errorf("memory = %q, missing appended finding", memText)
	}
	if !strings.Contains(memText, "[disk-watch]") {
		t.Errorf("memory = %q, missing job attribution", memText)
	}

	if len(mailer.sent) != 1 {
		t.Fatalf("emails sent = %d, want 1", len(mailer.sent))
	}
	if mailer.sent[0].subject != "[vigil] disk-watch" || mailer.sent[0].text != "Hello" {
		t.Errorf("email = %+v", mailer.sent[0])
	}
}

func TestRunner_Run_FetchFailureStillCompletes(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: "report"}
	r, bl, _, _ := testRunner(t, gen)
	r.Fetcher = &stubFetcher{result: fetch.Result{Success: false, Error: "connection refused"}}

	j := job.Job{
		ID:        "news",
		Dir:       t.TempDir(),
		Body:      "Summarize.",
		FetchURLs: []string{"http://127.0.0.1:1/feed"},
	}
	out := r.Run(context.Background(), j, nil)

	if out.Status != StatusCompleted {
		t.Fatalf("status = %s, err = %v", out.Status, out.Err)
	}
	if !strings.Contains(gen.lastPrompt(), "(fetch failed: connection refused)") {
		t.Error("fetch failure not surfaced in prompt")
	}
	lines, _ := bl.ReadLast(0)
	if len(lines) != 1 {
		t.Errorf("blotter lines = %d, want 1", len(lines))
	}
}

func TestRunner_Run_InferenceFailureFails(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{err: errors.New("api error 529: overloaded")}
	r, bl, mem, mailer := testRunner(t, gen)

	j := job.Job{ID: "broken", Dir: t.TempDir(), Body: "x"}
	out := r.Run(context.Background(), j, []string{"ops@example.com"})

	if out.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", out.Status)
	}
	if out.Err == nil {
		t.Error("outcome error not set")
	}

	// No output handling after inference failure.
	if lines, _ := bl.ReadLast(0); len(lines) != 0 {
		t.Errorf("blotter lines = %d, want 0", len(lines))
	}
	if memText, _ := mem.Read(); memText != "" {
		t.Errorf("memory = %q, want empty", memText)
	}
	if len(mailer.sent) != 0 {
		t.Errorf("emails sent = %d, want 0", len(mailer.sent))
	}
}

func TestRunner_Run_EmailFailureNonFatal(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: "report"}
	r, bl, _, mailer := testRunner(t, gen)
	mailer.err = errors.New("mail: delivery failed with status 402")

	j := job.Job{ID: "billing", Dir: t.TempDir(), Body: "x"}
	out := r.Run(context.Background(), j, []string{"ops@example.com"})

	if out.Status != StatusCompleted {
		t.Fatalf("status = %s, err = %v", out.Status, out.Err)
	}
	if lines, _ := bl.ReadLast(0); len(lines) != 1 {
		t.Errorf("blotter lines = %d, want 1", len(lines))
	}
}

func TestRunner_Run_ScriptOutputInPrompt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := filepath.Join(dir, "collect.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho metric=42\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	gen := &stubGenerator{reply: "report"}
	r, _, _, _ := testRunner(t, gen)

	j := job.Job{ID: "metrics", Dir: dir, Body: "x", Scripts: []string{script}}
	out := r.Run(context.Background(), j, nil)

	if out.Status != StatusCompleted {
		t.Fatalf("status = %s, err = %v", out.Status, out.Err)
	}
	prompt := gen.lastPrompt()
	if !strings.Contains(prompt, "### collect.sh") || !strings.Contains(prompt, "metric=42") {
		t.Error("script output missing from prompt")
	}
}

func TestRunner_Run_FailingScriptNonFatal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := filepath.Join(dir, "broken.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho oops >&2\nexit 3\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	gen := &stubGenerator{reply: "report"}
	r, _, _, _ := testRunner(t, gen)

	j := job.Job{ID: "metrics", Dir: dir, Body: "x", Scripts: []string{script}}
	out := r.Run(context.Background(), j, nil)

	if out.Status != StatusCompleted {
		t.Fatalf("status = %s, err = %v", out.Status, out.Err)
	}
	if !strings.Contains(gen.lastPrompt(), "broken.sh (stderr)") {
		t.Error("script stderr section missing from prompt")
	}
}

func TestRunner_Run_ConcurrentJobsBothAppend(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: "done"}
	r, bl, _, _ := testRunner(t, gen)

	var wg sync.WaitGroup
	for _, id := range []string{"job-a", "job-b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			out := r.Run(context.Background(), job.Job{ID: id, Dir: t.TempDir(), Body: "x"}, nil)
			if out.Status != StatusCompleted {
				t.Errorf("%s: status = %s, err = %v", id, out.Status, out.Err)
			}
		}(id)
	}
	wg.Wait()

	lines, err := bl.ReadLast(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Fatalf("blotter lines = %d, want 2", len(lines))
	}
	seen := map[string]bool{}
	for _, line := range lines {
		seen[blotter.ParseLine(line).JobID] = true
	}
	if !seen["job-a"] || !seen["job-b"] {
		t.Errorf("jobs recorded = %v", seen)
	}
}

func TestRunner_Run_DurationRecorded(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	calls := 0
	gen := &stubGenerator{reply: "r"}
	r, _, _, _ := testRunner(t, gen)
	r.Now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}

	out := r.Run(context.Background(), job.Job{ID: "t", Dir: t.TempDir(), Body: "x"}, nil)
	if out.StartedAt.IsZero() {
		t.Error("StartedAt not set")
	}
	if out.Duration <= 0 {
		t.Errorf("duration = %s, want > 0", out.Duration)
	}
}
