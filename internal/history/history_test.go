package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vigil-sh/vigil/internal/pipeline"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	outcomes := []pipeline.Outcome{
		{JobID: "disk-watch", Status: pipeline.StatusCompleted, Report: "ok", StartedAt: started, Duration: 2 * time.Second},
		{JobID: "news", Status: pipeline.StatusFailed, Err: errors.New("api error 529"), StartedAt: started.Add(time.Minute)},
		{JobID: "disk-watch", Status: pipeline.StatusCompleted, Report: "still ok", StartedAt: started.Add(2 * time.Minute)},
	}
	for _, out := range outcomes {
		if err := s.Record(ctx, out); err != nil {
			t.Fatalf("recording: %v", err)
		}
	}

	runs, err := s.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("runs = %d, want 3", len(runs))
	}
	if runs[0].JobID != "disk-watch" || runs[0].Report != "still ok" {
		t.Errorf("newest run = %+v", runs[0])
	}
	if runs[1].Status != string(pipeline.StatusFailed) || runs[1].Error != "api error 529" {
		t.Errorf("failed run = %+v", runs[1])
	}
	if !runs[2].StartedAt.Equal(started) {
		t.Errorf("started_at = %s, want %s", runs[2].StartedAt, started)
	}
	if runs[2].Duration != 2*time.Second {
		t.Errorf("duration = %s", runs[2].Duration)
	}
}

func TestStore_RecentFilterByJob(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "a"} {
		out := pipeline.Outcome{JobID: id, Status: pipeline.StatusCompleted, StartedAt: time.Now()}
		if err := s.Record(ctx, out); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.Recent(ctx, "a", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	for _, r := range runs {
		if r.JobID != "a" {
			t.Errorf("job = %q, want a", r.JobID)
		}
	}
}

func TestStore_RecentLimit(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		out := pipeline.Outcome{JobID: "j", Status: pipeline.StatusCompleted, StartedAt: time.Now()}
		if err := s.Record(ctx, out); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.Recent(ctx, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("runs = %d, want 2", len(runs))
	}
}

func TestStore_OpenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Record(context.Background(), pipeline.Outcome{JobID: "j", Status: pipeline.StatusCompleted, StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := s1.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer s2.Close()

	runs, err := s2.Recent(context.Background(), "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("runs after reopen = %d, want 1", len(runs))
	}
}

func TestNop_Record(t *testing.T) {
	t.Parallel()

	if err := (Nop{}).Record(context.Background(), pipeline.Outcome{}); err != nil {
		t.Fatalf("nop record: %v", err)
	}
}
