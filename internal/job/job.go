// Package job loads declarative job definitions from job directories.
// A job directory holds a MAIN.md description file (optional structured
// header, free-text body with fetch:/rss: directives and inline action
// blocks), zero or more executable data-gathering scripts, and an optional
// .env file scoped to that job's scripts.
package job

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// MainFile is the required description file inside a job directory.
const MainFile = "MAIN.md"

// ErrMalformedJob indicates a job directory that cannot be loaded: missing
// description file or an unparseable frequency token. The scheduler skips
// malformed jobs and continues with the others.
var ErrMalformedJob = errors.New("job: malformed definition")

// PhaseDefault is the phase of jobs included in a scheduling pass unless
// the invocation opts into other phases.
const PhaseDefault = "default"

// Job is one parsed job definition. Loading is read-only and idempotent:
// re-parsing the same directory yields an equal value. Jobs are constructed
// fresh at every tick and never persisted.
type Job struct {
	// ID joins blotter entries and email subjects back to the job.
	// Defaults to the directory name; stable across runs.
	ID string

	// Dir is the job directory path.
	Dir string

	// Phase groups jobs for inclusion filtering ("default", "ignore", or
	// a custom name).
	Phase string

	// Frequency decides when the job is due.
	Frequency Frequency

	// Body is the MAIN.md content with action blocks still unexpanded.
	Body string

	// FetchURLs and RSSURLs are collected from "fetch:"/"rss:" lines in
	// file order.
	FetchURLs []string
	RSSURLs   []string

	// Scripts are executable files in the directory, sorted by name.
	Scripts []string

	// Env holds the job's .env values, exported to its scripts only.
	Env map[string]string

	// Select is an optional item-count hint exposed to scripts
	// (e.g. "pick N reminders"). Zero means unset.
	Select int
}

// Load parses a single job directory. It fails with ErrMalformedJob when
// MAIN.md is missing or the frequency token is not recognized; any other
// filesystem error is returned as-is.
func Load(dir string) (Job, error) {
	raw, err := os.ReadFile(filepath.Join(dir, MainFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Job{}, fmt.Errorf("%w: %s has no %s", ErrMalformedJob, dir, MainFile)
		}
		return Job{}, fmt.Errorf("job: reading %s: %w", dir, err)
	}
	body := string(raw)

	j := Job{
		ID:        filepath.Base(dir),
		Dir:       dir,
		Phase:     PhaseDefault,
		Frequency: Daily,
		Body:      body,
		Env:       map[string]string{},
	}

	header := parseHeader(body)
	if v, ok := header["id"]; ok && strings.TrimSpace(v) != "" {
		j.ID = strings.TrimSpace(v)
	}
	if v, ok := header["phase"]; ok && strings.TrimSpace(v) != "" {
		j.Phase = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := header["select"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			j.Select = n
		}
	}

	// Frequency may appear in the header or as a bare "frequency:" line in
	// the body; the header wins when both are present.
	freqToken := ""
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := cutPrefixFold(line, "frequency:"); ok {
			freqToken = strings.TrimSpace(rest)
			break
		}
	}
	if v, ok := header["frequency"]; ok {
		freqToken = strings.TrimSpace(v)
	}
	if freqToken != "" {
		freq, err := ParseFrequency(freqToken)
		if err != nil {
			return Job{}, fmt.Errorf("%w: %s: %v", ErrMalformedJob, dir, err)
		}
		j.Frequency = freq
	}

	j.FetchURLs, j.RSSURLs = collectDirectives(body)

	scripts, err := findScripts(dir)
	if err != nil {
		return Job{}, err
	}
	j.Scripts = scripts

	if env, err := godotenv.Read(filepath.Join(dir, ".env")); err == nil {
		j.Env = env
	}

	return j, nil
}

// Discover loads every job under root. Each subdirectory containing MAIN.md
// is a job; malformed jobs are logged and skipped so one bad definition
// never blocks the rest. A missing root yields no jobs.
func Discover(root string, logger *slog.Logger) ([]Job, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("job: reading %s: %w", root, err)
	}

	var jobs []Job
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		j, err := Load(filepath.Join(root, e.Name()))
		if err != nil {
			if errors.Is(err, ErrMalformedJob) {
				logger.Warn("job: skipping malformed job", "dir", e.Name(), "error", err)
				continue
			}
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// FilterPhases returns the jobs whose phase is in the active set.
func FilterPhases(jobs []Job, phases map[string]struct{}) []Job {
	var out []Job
	for _, j := range jobs {
		if _, ok := phases[j.Phase]; ok {
			out = append(out, j)
		}
	}
	return out
}

// parseHeader extracts the structured header region: "---" on the first
// line, "key: value" pairs, closing "---". Keys are lowercased; unknown
// keys are kept (and ignored by the caller), never fatal.
func parseHeader(body string) map[string]string {
	out := map[string]string{}
	lines := strings.Split(body, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return out
	}
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "---" {
			return out
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
	// No closing marker: not a header after all.
	return map[string]string{}
}

// collectDirectives gathers fetch:/rss: lines in file order. Only http(s)
// targets are accepted; anything else is ignored as prose.
func collectDirectives(body string) (fetchURLs, rssURLs []string) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := cutPrefixFold(line, "fetch:"); ok {
			if url := strings.TrimSpace(rest); strings.HasPrefix(url, "http") {
				fetchURLs = append(fetchURLs, url)
			}
		} else if rest, ok := cutPrefixFold(line, "rss:"); ok {
			if url := strings.TrimSpace(rest); strings.HasPrefix(url, "http") {
				rssURLs = append(rssURLs, url)
			}
		}
	}
	return fetchURLs, rssURLs
}

// findScripts returns the executable regular files in dir, sorted by name.
// Files starting with "_" or "." are reserved for the job's own use.
func findScripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("job: reading %s: %w", dir, err)
	}

	var scripts []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Mode()&0o111 != 0 {
			scripts = append(scripts, filepath.Join(dir, name))
		}
	}
	sort.Strings(scripts)
	return scripts, nil
}

// cutPrefixFold is strings.CutPrefix with ASCII case-insensitive matching.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
