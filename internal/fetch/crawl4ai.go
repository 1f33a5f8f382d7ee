package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// crawl4ai wire types for JSON serialization.

type crawlRequest struct {
	URLs               []string `json:"urls"`
	WordCountThreshold int      `json:"word_count_threshold"`
	OnlyText           bool     `json:"only_text"`
	BypassCache        bool     `json:"bypass_cache"`
}

type crawlResponse struct {
	Success bool          `json:"success"`
	Error   string        `json:"error"`
	Results []crawlResult `json:"results"`
}

type crawlResult struct {
	Title string `json:"title"`
	// Markdown is a plain string in older service versions and an object
	// with raw_markdown/markdown/content/text fields in newer ones.
	Markdown json.RawMessage `json:"markdown"`
}

// Crawl4AI fetches pages through a crawl4ai service, which renders
// JavaScript-heavy or bot-blocked sites in a headless browser.
type Crawl4AI struct {
	// BaseURL is the service endpoint. Empty means http://localhost:11235.
	BaseURL string

	// Timeout bounds one crawl. Zero means 60s (rendering is slow).
	Timeout time.Duration

	// Client is injectable for testing.
	Client *http.Client
}

// Compile-time interface check.
var _ Fetcher = (*Crawl4AI)(nil)

// Fetch implements Fetcher.
func (c *Crawl4AI) Fetch(ctx context.Context, url string) Result {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	base := c.BaseURL
	if base == "" {
		base = "http://localhost:11235"
	}

	payload, err := json.Marshal(crawlRequest{
		URLs:               []string{url},
		WordCountThreshold: 10,
	})
	if err != nil {
		return failure(url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/crawl", bytes.NewReader(payload))
	if err != nil {
		return failure(url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return failure(url, fmt.Errorf("crawl4ai: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return failure(url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return failure(url, fmt.Errorf("crawl4ai: status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var cr crawlResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return failure(url, fmt.Errorf("crawl4ai: decoding response: %w", err))
	}
	if !cr.Success || len(cr.Results) == 0 {
		msg := cr.Error
		if msg == "" {
			msg = "no results"
		}
		return failure(url, fmt.Errorf("crawl4ai: %s", msg))
	}

	first := cr.Results[0]
	return Result{
		URL:      url,
		Title:    first.Title,
		Markdown: decodeMarkdown(first.Markdown),
		Success:  true,
	}
}

// decodeMarkdown handles both response shapes the service has shipped.
func decodeMarkdown(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		RawMarkdown string `json:"raw_markdown"`
		Markdown    string `json:"markdown"`
		Content     string `json:"content"`
		Text        string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	for _, candidate := range []string{obj.RawMarkdown, obj.Markdown, obj.Content, obj.Text} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// truncate clips s for error messages.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return clipRunes(s, max) + "..."
}
