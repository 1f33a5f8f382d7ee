// Package blotter implements the append-only audit log of job run summaries.
// Appends are serialized across processes via a sibling lock marker; reads
// never take the lock.
package blotter

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vigil-sh/vigil/internal/lockfile"
)

// maxEntryLen caps a single entry's summary text in bytes.
const maxEntryLen = 2000

// systemJobID attributes entries written by the store itself (e.g. a
// stale-lock reclaim notice) rather than by a job.
const systemJobID = "system"

// Entry is one logical line of the blotter.
type Entry struct {
	Timestamp time.Time
	JobID     string
	Text      string
}

// Config holds store construction parameters.
type Config struct {
	// Path is the blotter file. The lock marker lives at Path + ".lock".
	Path string

	// LockTimeout bounds append-side lock waits. Zero means the lockfile
	// package default (30s).
	LockTimeout time.Duration

	Logger *slog.Logger

	// OnReclaim is called after a stale lock marker is reclaimed, in
	// addition to the logged warning and the system blotter entry.
	OnReclaim func(age time.Duration)

	// Now is injectable for testing. Nil means time.Now.
	Now func() time.Time
}

// Store is the only component allowed to touch the blotter file.
type Store struct {
	path        string
	lockTimeout time.Duration
	logger      *slog.Logger
	onReclaim   func(age time.Duration)
	now         func() time.Time
}

// New creates a Store for cfg.Path.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		path:        cfg.Path,
		lockTimeout: cfg.LockTimeout,
		logger:      logger,
		onReclaim:   cfg.OnReclaim,
		now:         now,
	}
}

// LockPath returns the lock marker location beside the blotter file.
func (s *Store) LockPath() string {
	return s.path + ".lock"
}

// Path returns the blotter file location.
func (s *Store) Path() string {
	return s.path
}

// Append writes one entry under the blotter lock and releases the lock on
// every exit path. Entries are never rewritten; each append is atomic as
// observed by concurrent readers and writers. A stale lock marker is
// reclaimed per the lockfile protocol, and the reclaim itself is recorded
// as a system entry ahead of the caller's entry.
func (s *Store) Append(ctx context.Context, jobID, text string) error {
	var reclaimAge time.Duration

	lock := lockfile.New(lockfile.Config{
		Path:    s.LockPath(),
		Timeout: s.lockTimeout,
		Now:     s.now,
		OnReclaim: func(age time.Duration) {
			reclaimAge = age
			s.logger.Warn("blotter: reclaimed stale lock marker",
				"path", s.LockPath(),
				"age", age,
			)
			if s.onReclaim != nil {
				s.onReclaim(age)
			}
		},
	})

	if err := lock.Acquire(ctx); err != nil {
		return fmt.Errorf("blotter: appending for %s: %w", jobID, err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			s.logger.Error("blotter: releasing lock", "error", err)
		}
	}()

	if reclaimAge > 0 {
		notice := fmt.Sprintf("reclaimed stale blotter lock (age %s); previous holder presumed dead", reclaimAge.Round(time.Second))
		if err := s.write(systemJobID, notice); err != nil {
			return err
		}
	}

	return s.write(jobID, text)
}

// write appends one formatted line. Caller must hold the lock.
func (s *Store) write(jobID, text string) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("blotter: creating directory %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("blotter: opening %s: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLine(s.now(), jobID, text)); err != nil {
		return fmt.Errorf("blotter: writing entry for %s: %w", jobID, err)
	}
	return nil
}

// formatLine renders one entry as a single line: "[ts] [job_id] text".
// Newlines in text are flattened so one entry is always one line, and the
// summary is truncated to keep the blotter scannable. Truncation lands on
// a rune boundary so a multibyte character is never split.
func formatLine(ts time.Time, jobID, text string) string {
	flat := strings.Join(strings.Fields(strings.ReplaceAll(text, "\n", " ")), " ")
	if len(flat) > maxEntryLen {
		cut := maxEntryLen
		for cut > 0 && !utf8.RuneStart(flat[cut]) {
			cut--
		}
		flat = flat[:cut]
	}
	return fmt.Sprintf("[%s] [%s] %s\n", ts.UTC().Format(time.RFC3339), jobID, flat)
}

// ReadLast returns up to n most recent entries as raw lines, oldest first.
// Reads are lockless: appends are line-atomic, so the worst case is missing
// an entry that is mid-append.
func (s *Store) ReadLast(n int) ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("blotter: reading %s: %w", s.path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("blotter: scanning %s: %w", s.path, err)
	}

	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// ParseLine splits a raw blotter line into an Entry. Lines that do not match
// the append format are returned with the raw text and a zero timestamp.
func ParseLine(line string) Entry {
	rest, ok := strings.CutPrefix(line, "[")
	if !ok {
		return Entry{Text: line}
	}
	tsStr, rest, ok := strings.Cut(rest, "] [")
	if !ok {
		return Entry{Text: line}
	}
	jobID, text, ok := strings.Cut(rest, "] ")
	if !ok {
		jobID, _ = strings.CutSuffix(rest, "]")
		text = ""
	}
	ts, err := time.Parse(time.RFC3339, tsStr)
	if err != nil {
		return Entry{Text: line}
	}
	return Entry{Timestamp: ts, JobID: jobID, Text: text}
}
