package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"golang.org/x/net/html"
)

// maxBodyBytes caps how much of a page is read; fetched content feeds a
// bounded prompt, not an archive.
const maxBodyBytes = 2 << 20

// Plain fetches static HTML over HTTP and converts it to Markdown.
// Suitable for pages that render without JavaScript.
type Plain struct {
	// Timeout bounds one request. Zero means 30s.
	Timeout time.Duration

	// Client is injectable for testing. Nil means a default client with
	// redirect following.
	Client *http.Client
}

// Compile-time interface check.
var _ Fetcher = (*Plain)(nil)

// Fetch implements Fetcher.
func (p *Plain) Fetch(ctx context.Context, url string) Result {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return failure(url, err)
	}
	req.Header.Set("User-Agent", "vigil/1.0 (+read-only data gathering)")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return failure(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure(url, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return failure(url, err)
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(string(raw))
	if err != nil {
		return failure(url, fmt.Errorf("converting to markdown: %w", err))
	}

	return Result{
		URL:      url,
		Title:    extractTitle(string(raw)),
		Markdown: markdown,
		Success:  true,
	}
}

// extractTitle pulls the <title> text out of an HTML document, or "".
func extractTitle(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			var sb strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					sb.WriteString(c.Data)
				}
			}
			title = strings.TrimSpace(sb.String())
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}
