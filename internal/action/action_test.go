package action

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/vigil-sh/vigil/internal/fetch"
)

// stubFetcher returns canned results keyed by URL.
type stubFetcher struct {
	results map[string]fetch.Result
	calls   []string
}

func (s *stubFetcher) Fetch(_ context.Context, url string) fetch.Result {
	s.calls = append(s.calls, url)
	if r, ok := s.results[url]; ok {
		return r
	}
	return fetch.Result{URL: url, Success: false, Error: "no route"}
}

func TestExpand_SingleBlock(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{results: map[string]fetch.Result{
		"https://example.com/": {Success: true, Markdown: "page content"},
	}}
	e := &Expander{Fetcher: f}

	body := "Before.\n---ACTION---\nfetch('https://example.com/')\n---END ACTION---\nAfter."
	got := e.Expand(context.Background(), body)

	if !strings.Contains(got, "---ACTION RESULT---\npage content") {
		t.Errorf("expanded = %q", got)
	}
	if strings.Contains(got, BeginMarker) {
		t.Errorf("begin marker should be consumed: %q", got)
	}
	if !strings.HasPrefix(got, "Before.\n") || !strings.HasSuffix(got, "\nAfter.") {
		t.Errorf("surrounding text must be preserved byte-for-byte: %q", got)
	}
}

func TestExpand_MultipleBlocksLeftToRight(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{results: map[string]fetch.Result{
		"https://a.example": {Success: true, Markdown: "AAA"},
		"https://b.example": {Success: true, Markdown: "BBB"},
	}}
	e := &Expander{Fetcher: f}

	body := `x
---ACTION---
fetch("https://a.example")
---END ACTION---
y
---ACTION---
fetch("https://b.example")
---END ACTION---
z`
	got := e.Expand(context.Background(), body)

	if strings.Count(got, resultMarker) != 2 {
		t.Fatalf("expected exactly 2 replacements:\n%s", got)
	}
	if f.calls[0] != "https://a.example" || f.calls[1] != "https://b.example" {
		t.Errorf("expansion order = %v", f.calls)
	}
	for _, part := range []string{"x\n", "\ny\n", "\nz"} {
		if !strings.Contains(got, part) {
			t.Errorf("missing surrounding text %q in %q", part, got)
		}
	}
}

func TestExpand_NoBlocks(t *testing.T) {
	t.Parallel()

	e := &Expander{Fetcher: &stubFetcher{}}
	body := "plain text, no markers at all"
	if got := e.Expand(context.Background(), body); got != body {
		t.Errorf("body without blocks must pass through unchanged: %q", got)
	}
}

func TestExpand_MalformedBlockLeftVerbatim(t *testing.T) {
	t.Parallel()

	e := &Expander{Fetcher: &stubFetcher{}}
	body := "start\n---ACTION---\nfetch('https://x.example')\nno end marker"
	got := e.Expand(context.Background(), body)

	if got != body {
		t.Errorf("block without end marker must stay verbatim:\n got %q\nwant %q", got, body)
	}
}

func TestExpand_UnknownCallIsolatedToBlock(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{results: map[string]fetch.Result{
		"https://ok.example": {Success: true, Markdown: "fine"},
	}}
	e := &Expander{Fetcher: f}

	body := `---ACTION---
exec('rm -rf /')
---END ACTION---
middle
---ACTION---
fetch('https://ok.example')
---END ACTION---`
	got := e.Expand(context.Background(), body)

	if !strings.Contains(got, `(unknown action: "exec('rm -rf /')")`) {
		t.Errorf("disallowed call should leave an error marker: %q", got)
	}
	if !strings.Contains(got, "fine") {
		t.Errorf("later block must still expand: %q", got)
	}
}

func TestExpand_FetchFailureInline(t *testing.T) {
	t.Parallel()

	e := &Expander{Fetcher: &stubFetcher{}}
	body := "---ACTION---\nfetch('https://down.example')\n---END ACTION---"
	got := e.Expand(context.Background(), body)

	if !strings.Contains(got, "(fetch failed: no route)") {
		t.Errorf("fetch failure should be inline: %q", got)
	}
}

func TestExpand_NotRecursive(t *testing.T) {
	t.Parallel()

	// Fetched content containing marker-like text must not be re-expanded.
	payload := fmt.Sprintf("%s\nfetch('https://inner.example')\n%s", BeginMarker, EndMarker)
	f := &stubFetcher{results: map[string]fetch.Result{
		"https://outer.example": {Success: true, Markdown: payload},
	}}
	e := &Expander{Fetcher: f}

	body := "---ACTION---\nfetch('https://outer.example')\n---END ACTION---"
	got := e.Expand(context.Background(), body)

	if len(f.calls) != 1 {
		t.Fatalf("inner marker was expanded: calls = %v", f.calls)
	}
	if !strings.Contains(got, payload) {
		t.Errorf("fetched payload should be spliced verbatim: %q", got)
	}
}
