// Package fetch defines the web-fetch collaborator boundary: given a URL,
// return Markdown. Ordinary network failures never surface as Go errors;
// they are reported in-band via Result so a failed source degrades a job's
// context instead of failing the run.
package fetch

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"
)

// Result is the outcome of fetching one web page.
type Result struct {
	URL      string
	Title    string
	Markdown string
	Success  bool
	Error    string
}

// Fetcher retrieves a URL and converts it to Markdown.
// Implementations must signal failure via Result.Success/Result.Error,
// not by returning an error.
type Fetcher interface {
	Fetch(ctx context.Context, url string) Result
}

// Backend kinds selectable by configuration.
const (
	KindPlain    = "plain"
	KindCrawl4AI = "crawl4ai"
)

// Config selects and tunes a fetch backend.
type Config struct {
	// Kind is "plain" (static HTML over HTTP) or "crawl4ai"
	// (headless-browser service, for JavaScript-heavy or bot-blocked
	// sites). Empty means plain.
	Kind string `yaml:"kind"`

	// BaseURL is the crawl4ai service endpoint.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds one fetch. Zero means 30s (plain) / 60s (crawl4ai).
	Timeout time.Duration `yaml:"timeout"`
}

// New creates the configured fetch backend.
func New(cfg Config) (Fetcher, error) {
	switch cfg.Kind {
	case "", KindPlain:
		return &Plain{Timeout: cfg.Timeout}, nil
	case KindCrawl4AI:
		return &Crawl4AI{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}, nil
	}
	return nil, fmt.Errorf("fetch: unknown backend kind %q", cfg.Kind)
}

// failure builds an unsuccessful Result.
func failure(url string, err error) Result {
	return Result{URL: url, Success: false, Error: err.Error()}
}

// clipRunes caps s at max bytes without splitting a multibyte rune: the
// cut point backs up to the nearest rune boundary.
func clipRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
