// Package config loads and validates the daemon configuration from YAML,
// with ${VAR} and ${VAR:-default} environment expansion so secrets never
// have to live in the file itself.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vigil-sh/vigil/internal/fetch"
	"github.com/vigil-sh/vigil/internal/mail"
	"github.com/vigil-sh/vigil/internal/provider"
)

// Scheduler backends selectable in serve mode.
const (
	BackendInterval = "interval"
	BackendCron     = "cron"
)

// SchedulerConfig controls serve-mode timing and concurrency.
type SchedulerConfig struct {
	// Backend is "interval" or "cron". Empty means interval.
	Backend string `yaml:"backend"`

	// Interval between ticks for the interval backend. Zero means 24h.
	Interval time.Duration `yaml:"interval"`

	// Cron is a 5-field expression for the cron backend.
	Cron string `yaml:"cron"`

	// MaxConcurrent bounds parallel job runs per tick. Zero means 4.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// AdminConfig controls the local admin HTTP server.
type AdminConfig struct {
	// Addr enables the admin server when non-empty, e.g. "127.0.0.1:8787".
	Addr string `yaml:"addr"`
}

// Config is the full daemon configuration.
type Config struct {
	// JobsDir is the root directory scanned for job subdirectories.
	JobsDir string `yaml:"jobs_dir"`

	// DataDir holds the blotter, memory, and history files unless their
	// individual paths are set.
	DataDir string `yaml:"data_dir"`

	BlotterPath string `yaml:"blotter_path"`
	MemoryPath  string `yaml:"memory_path"`

	// HistoryPath enables the SQLite run history when non-empty.
	HistoryPath string `yaml:"history_path"`

	// LockTimeout bounds lock waits on the blotter and memory files.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// Phases is the active phase set. Empty means only "default" phase
	// jobs run; "ignore" and custom phases are opt-in.
	Phases []string `yaml:"phases"`

	Email     mail.Config     `yaml:"email"`
	Provider  provider.Config `yaml:"provider"`
	Fetcher   fetch.Config    `yaml:"fetcher"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Admin     AdminConfig     `yaml:"admin"`
}

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads a YAML configuration file, expands environment variables,
// parses it, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a usable configuration without a file on disk.
func Default() *Config {
	cfg := &Config{}
	cfg.withDefaults()
	return cfg
}

func (c *Config) withDefaults() {
	if c.JobsDir == "" {
		c.JobsDir = "jobs"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.BlotterPath == "" {
		c.BlotterPath = c.DataDir + "/blotter.txt"
	}
	if c.MemoryPath == "" {
		c.MemoryPath = c.DataDir + "/memory.txt"
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 30 * time.Second
	}
	if c.Scheduler.Backend == "" {
		c.Scheduler.Backend = BackendInterval
	}
	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = 24 * time.Hour
	}
	if c.Scheduler.MaxConcurrent <= 0 {
		c.Scheduler.MaxConcurrent = 4
	}
}

// Validate reports configuration errors that would only surface later at
// an inconvenient time.
func (c *Config) Validate() error {
	var errs []error

	switch c.Scheduler.Backend {
	case BackendInterval:
	case BackendCron:
		if c.Scheduler.Cron == "" {
			errs = append(errs, errors.New("config: scheduler.cron is required for the cron backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown scheduler backend %q", c.Scheduler.Backend))
	}

	if k := c.Fetcher.Kind; k != "" && k != fetch.KindPlain && k != fetch.KindCrawl4AI {
		errs = append(errs, fmt.Errorf("config: unknown fetcher kind %q", k))
	}
	if k := c.Provider.Kind; k != "" && k != provider.KindAnthropic && k != provider.KindOpenAI {
		errs = append(errs, fmt.Errorf("config: unknown provider kind %q", k))
	}

	return errors.Join(errs...)
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw YAML bytes.
// Returns an error listing all unresolved variables (no default, no env value).
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		hasDefault := len(subs) > 2 && subs[2] != nil

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if hasDefault {
			return subs[2]
		}

		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}
