// Package history persists run outcomes to a local SQLite database so
// operators can query past executions without scraping the blotter. The
// store is optional; an empty path yields a no-op recorder.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/vigil-sh/vigil/internal/pipeline"
)

const defaultBusyTimeout = 5000 // milliseconds

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id     TEXT    NOT NULL,
		status     TEXT    NOT NULL,
		report     TEXT    NOT NULL DEFAULT '',
		error      TEXT    NOT NULL DEFAULT '',
		started_at TEXT    NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(job_id, started_at)`,
}

// Run is one recorded job execution.
type Run struct {
	ID        int64
	JobID     string
	Status    string
	Report    string
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// Recorder accepts run outcomes.
type Recorder interface {
	Record(ctx context.Context, out pipeline.Outcome) error
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

var _ Recorder = (*Store)(nil)

// Open opens (or creates) the database at path with WAL mode, a 5 s busy
// timeout, and a single connection (SQLite serialises writes). The schema
// is migrated automatically.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// migrate creates or updates the database schema to the latest version.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("history: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("history: read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("history: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("history: record schema version: %w", err)
	}
	return nil
}

// Record inserts one run outcome.
func (s *Store) Record(ctx context.Context, out pipeline.Outcome) error {
	errText := ""
	if out.Err != nil {
		errText = out.Err.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (job_id, status, report, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		out.JobID, string(out.Status), out.Report, errText,
		out.StartedAt.UTC().Format(time.RFC3339), out.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("history: record run: %w", err)
	}
	return nil
}

// Recent returns the n most recent runs, newest first. A jobID filters the
// result; empty means all jobs.
func (s *Store) Recent(ctx context.Context, jobID string, n int) ([]Run, error) {
	if n <= 0 {
		n = 20
	}

	query := `SELECT id, job_id, status, report, error, started_at, duration_ms
		FROM runs`
	args := []any{}
	if jobID != "" {
		query += " WHERE job_id = ?"
		args = append(args, jobID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, n)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r          Run
			startedAt  string
			durationMS int64
		)
		if err := rows.Scan(&r.ID, &r.JobID, &r.Status, &r.Report, &r.Error, &startedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent rows: %w", err)
	}
	return runs, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Nop discards all outcomes. Used when no history path is configured.
type Nop struct{}

var _ Recorder = Nop{}

// Record implements Recorder.
func (Nop) Record(context.Context, pipeline.Outcome) error { return nil }
