package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Default limits for feed rendering.
const (
	defaultFeedLimit = 20
	feedSummaryMax   = 500
)

// RSS renders an RSS/Atom feed as a readable text digest for job context.
type RSS struct {
	// Limit caps how many entries are rendered. Zero means 20.
	Limit int

	// Timeout bounds one feed fetch. Zero means 30s.
	Timeout time.Duration
}

// FetchFeed retrieves a feed and renders its newest entries as Markdown.
// Unlike page fetching, the caller treats an error as an inline context gap.
func (r *RSS) FetchFeed(ctx context.Context, url string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parser := gofeed.NewParser()
	feed, err := parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return "", fmt.Errorf("fetch: parsing feed %s: %w", url, err)
	}

	limit := r.Limit
	if limit <= 0 {
		limit = defaultFeedLimit
	}

	var sb strings.Builder
	title := feed.Title
	if title == "" {
		title = "Feed"
	}
	fmt.Fprintf(&sb, "# %s\n", title)

	for i, item := range feed.Items {
		if i >= limit {
			break
		}
		summary := clipRunes(item.Description, feedSummaryMax)
		fmt.Fprintf(&sb, "\n## %s\n%s\n%s\n", item.Title, item.Link, summary)
	}
	return sb.String(), nil
}
