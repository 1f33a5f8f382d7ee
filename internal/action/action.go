// Package action expands inline action blocks in a job's prompt body.
// An action block is a delimited request for fetched content:
//
//	---ACTION---
//	fetch('https://example.com/')
//	---END ACTION---
//
// Expansion is deterministic and happens before inference, so model output
// can request fetched content in advance but never trigger execution. Only
// an allow-listed set of call forms is accepted: this is a tiny grammar,
// not code evaluation.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/vigil-sh/vigil/internal/fetch"
)

// Block delimiters.
const (
	BeginMarker = "---ACTION---"
	EndMarker   = "---END ACTION---"

	// resultMarker labels spliced-in content in the expanded body.
	resultMarker = "---ACTION RESULT---"
)

// fetchCallPattern matches the one allow-listed call form:
// fetch('url') or fetch("url").
var fetchCallPattern = regexp.MustCompile(`^fetch\s*\(\s*['"]([^'"]+)['"]\s*\)$`)

// Expander replaces well-formed action blocks with fetched content.
type Expander struct {
	Fetcher fetch.Fetcher
	Logger  *slog.Logger
}

// Expand rewrites body in a single left-to-right pass. Each well-formed
// block is replaced by its result; expanded content is never re-scanned, so
// a marker-like string inside fetched content cannot trigger further
// expansion. A block whose call form is not allow-listed, or whose fetch
// fails, yields an inline error marker for that block only. A begin marker
// with no end marker is left verbatim and logged as a warning.
func (e *Expander) Expand(ctx context.Context, body string) string {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var sb strings.Builder
	rest := body
	for {
		before, after, found := strings.Cut(rest, BeginMarker)
		if !found {
			sb.WriteString(rest)
			return sb.String()
		}

		inner, tail, closed := strings.Cut(after, EndMarker)
		if !closed {
			logger.Warn("action: block missing end marker, leaving verbatim")
			sb.WriteString(rest)
			return sb.String()
		}

		sb.WriteString(before)
		sb.WriteString(fmt.Sprintf("%s\n%s\n", resultMarker, e.run(ctx, strings.TrimSpace(inner))))
		rest = tail
	}
}

// run evaluates one call expression against the allow-list.
func (e *Expander) run(ctx context.Context, call string) string {
	m := fetchCallPattern.FindStringSubmatch(call)
	if m == nil {
		return fmt.Sprintf("(unknown action: %q)", call)
	}

	res := e.Fetcher.Fetch(ctx, m[1])
	if !res.Success {
		return fmt.Sprintf("(fetch failed: %s)", res.Error)
	}
	return res.Markdown
}
