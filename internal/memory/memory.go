// Package memory implements the long-term free-text store carried across
// runs. The inference stage can request appends (critical findings) and
// resolves (prune blocks that are no longer accurate); both are applied by
// the output handler as a single atomic rewrite.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vigil-sh/vigil/internal/lockfile"
)

// blockSeparator delimits memory blocks in the file.
const blockSeparator = "\n---\n"

// minPhraseLen filters out noise words when matching resolve descriptions
// against stored blocks.
const minPhraseLen = 5

// Op identifies the kind of a memory delta.
type Op string

// Delta operations requested by the inference stage.
const (
	OpAppend  Op = "append"
	OpResolve Op = "resolve"
)

// Delta is one memory update instruction extracted from model output.
type Delta struct {
	Op   Op
	Text string
}

// Config holds store construction parameters.
type Config struct {
	// Path is the memory file. The lock marker lives at Path + ".lock".
	Path string

	// LockTimeout bounds rewrite-side lock waits. Zero means the lockfile
	// package default.
	LockTimeout time.Duration

	Logger *slog.Logger

	// OnReclaim is called after a stale lock marker is reclaimed, in
	// addition to the logged warning.
	OnReclaim func(age time.Duration)

	// Now is injectable for testing. Nil means time.Now.
	Now func() time.Time
}

// Store owns all access to the memory file. Rewrites from concurrent jobs
// are serialized by a lock marker; a rewrite is a temp-file-plus-rename so
// no partial content is ever observable.
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

// Path returns the memory file location.
func (s *Store) Path() string {
	return s.path
}

// Read returns the current memory content. A missing file reads as empty.
// Reads never take the lock.
func (s *Store) Read() (string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("memory: reading %s: %w", s.path, err)
	}
	return string(raw), nil
}

// Apply performs all deltas as one serialized, atomic rewrite: resolves
// first (pruning matched blocks), then appends. A run with no deltas must
// not call Apply; the store is rewritten at most once per run.
func (s *Store) Apply(ctx context.Context, jobID string, deltas []Delta) error {
	if len(deltas) == 0 {
		return nil
	}

	lock := lockfile.New(lockfile.Config{
		Path:    s.path + ".lock",
		Timeout: s.lockTimeout,
		Now:     s.now,
		OnReclaim: func(age time.Duration) {
			s.logger.Warn("memory: reclaimed stale lock marker",
				"path", s.path+".lock",
				"age", age,
			)
			if s.onReclaim != nil {
				s.onReclaim(age)
			}
		},
	})
	if err := lock.Acquire(ctx); err != nil {
		return fmt.Errorf("memory: applying deltas for %s: %w", jobID, err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			s.logger.Error("memory: releasing lock", "error", err)
		}
	}()

	current, err := s.Read()
	if err != nil {
		return err
	}

	content := current
	for _, d := range deltas {
		if d.Op == OpResolve && strings.TrimSpace(d.Text) != "" {
			content = prune(content, d.Text)
		}
	}
	for _, d := range deltas {
		if d.Op == OpAppend && strings.TrimSpace(d.Text) != "" {
			content += fmt.Sprintf("%s[%s] [%s]\n%s\n",
				blockSeparator,
				s.now().UTC().Format(time.RFC3339),
				jobID,
				strings.TrimSpace(d.Text),
			)
		}
	}

	return s.replace(content)
}

// replace atomically swaps the memory file content via temp file + rename.
func (s *Store) replace(content string) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("memory: creating directory %s: %w", dir, err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".memory-*")
	if err != nil {
		return fmt.Errorf("memory: creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("memory: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("memory: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("memory: replacing %s: %w", s.path, err)
	}
	return nil
}

// prune removes memory blocks whose content matches the resolved
// description. Matching is phrase-based and case-insensitive: the
// description is split on commas, "and", "or"; a block is dropped when any
// phrase occurs in its body. Blocks without the "[ts] [job]" header line are
// dropped as unparseable leftovers.
func prune(content, resolved string) string {
	phrases := resolvePhrases(resolved)
	if len(phrases) == 0 {
		return content
	}

	var kept []string
	for _, part := range strings.Split(strings.TrimSpace(content), blockSeparator) {
		part = strings.TrimSpace(part)
		if part == "" || part == "---" {
			continue
		}
		header, body, _ := strings.Cut(part, "\n")
		if !strings.Contains(header, "[") || !strings.Contains(header, "]") {
			continue
		}
		lower := strings.ToLower(body)
		matched := false
		for _, p := range phrases {
			if strings.Contains(lower, p) {
				matched = true
				break
			}
		}
		if !matched {
			kept = append(kept, part)
		}
	}

	if len(kept) == 0 {
		return ""
	}
	out := strings.Join(kept, blockSeparator)
	if !strings.HasPrefix(out, "---") {
		out = "---\n" + out
	}
	return out
}

// resolvePhrases splits a resolve description into lowercase match phrases.
func resolvePhrases(resolved string) []string {
	normalized := strings.ReplaceAll(resolved, " and ", ",")
	normalized = strings.ReplaceAll(normalized, " or ", ",")

	var phrases []string
	for _, p := range strings.Split(normalized, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if len(p) >= minPhraseLen {
			phrases = append(phrases, p)
		}
	}
	return phrases
}
