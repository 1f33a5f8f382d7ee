package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPlain_Fetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Status Page</title></head><body><h1>All Clear</h1><p>No incidents.</p></body></html>`))
	}))
	defer srv.Close()

	p := &Plain{}
	res := p.Fetch(context.Background(), srv.URL)

	if !res.Success {
		t.Fatalf("fetch failed: %s", res.Error)
	}
	if res.Title != "Status Page" {
		t.Errorf("title = %q", res.Title)
	}
	if !strings.Contains(res.Markdown, "All Clear") {
		t.Errorf("markdown missing heading text: %q", res.Markdown)
	}
	if strings.Contains(res.Markdown, "<h1>") {
		t.Errorf("markdown should not contain raw HTML: %q", res.Markdown)
	}
}

func TestPlain_FetchErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	res := (&Plain{}).Fetch(context.Background(), srv.URL)
	if res.Success {
		t.Fatal("403 should not be a success")
	}
	if !strings.Contains(res.Error, "403") {
		t.Errorf("error should carry the status: %q", res.Error)
	}
}

func TestPlain_FetchUnreachable(t *testing.T) {
	t.Parallel()

	// Closed port: connection refused must come back in-band, not panic
	// or surface as a Go error.
	res := (&Plain{}).Fetch(context.Background(), "http://127.0.0.1:1/x")
	if res.Success {
		t.Fatal("unreachable fetch should fail")
	}
	if res.Error == "" {
		t.Fatal("failure must carry error text")
	}
}

func TestCrawl4AI_Fetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/crawl" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"results":[{"title":"Page","markdown":{"raw_markdown":"# Rendered"}}]}`))
	}))
	defer srv.Close()

	c := &Crawl4AI{BaseURL: srv.URL}
	res := c.Fetch(context.Background(), "https://example.com/spa")

	if !res.Success {
		t.Fatalf("fetch failed: %s", res.Error)
	}
	if res.Markdown != "# Rendered" {
		t.Errorf("markdown = %q", res.Markdown)
	}
	if res.Title != "Page" {
		t.Errorf("title = %q", res.Title)
	}
}

func TestCrawl4AI_FetchStringMarkdown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"results":[{"markdown":"plain string"}]}`))
	}))
	defer srv.Close()

	res := (&Crawl4AI{BaseURL: srv.URL}).Fetch(context.Background(), "https://example.com")
	if !res.Success || res.Markdown != "plain string" {
		t.Fatalf("result = %+v", res)
	}
}

func TestCrawl4AI_ServiceError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"render timeout"}`))
	}))
	defer srv.Close()

	res := (&Crawl4AI{BaseURL: srv.URL}).Fetch(context.Background(), "https://example.com")
	if res.Success {
		t.Fatal("service failure should not be a success")
	}
	if !strings.Contains(res.Error, "render timeout") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestRSS_FetchFeed(t *testing.T) {
	t.Parallel()

	const feedXML = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Ops Feed</title>
<item><title>First</title><link>https://example.com/1</link><description>alpha</description></item>
<item><title>Second</title><link>https://example.com/2</link><description>beta</description></item>
<item><title>Third</title><link>https://example.com/3</link><description>gamma</description></item>
</channel></rss>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	r := &RSS{Limit: 2}
	digest, err := r.FetchFeed(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("feed fetch failed: %v", err)
	}

	if !strings.Contains(digest, "# Ops Feed") {
		t.Errorf("digest missing feed title: %q", digest)
	}
	if !strings.Contains(digest, "First") || !strings.Contains(digest, "Second") {
		t.Errorf("digest missing entries: %q", digest)
	}
	if strings.Contains(digest, "Third") {
		t.Errorf("digest should respect the entry limit: %q", digest)
	}
}

func TestClipRunes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"shorter than max", "hello", 10, "hello"},
		{"ascii exact cut", "hello", 3, "hel"},
		{"multibyte backs up to boundary", "aあい", 4, "aあ"},
		{"cut inside first rune", "あ", 2, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := clipRunes(tt.in, tt.max)
			if got != tt.want {
				t.Errorf("clipRunes(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("result is not valid UTF-8: %q", got)
			}
		})
	}
}

func TestRSS_FetchFeed_ClipsMultibyteSummaries(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("報", feedSummaryMax)
	feedXML := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Intl</title>
<item><title>Long</title><link>https://example.com/l</link><description>` + long + `</description></item>
</channel></rss>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	digest, err := (&RSS{}).FetchFeed(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("feed fetch failed: %v", err)
	}
	if !utf8.ValidString(digest) {
		t.Error("digest contains a split rune")
	}
	if strings.Contains(digest, long) {
		t.Error("summary was not truncated")
	}
}

func TestNew_BackendSelection(t *testing.T) {
	t.Parallel()

	f, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := f.(*Plain); !ok {
		t.Errorf("default backend should be plain, got %T", f)
	}

	f, err = New(Config{Kind: KindCrawl4AI, BaseURL: "http://crawler:11235"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := f.(*Crawl4AI); !ok {
		t.Errorf("expected crawl4ai backend, got %T", f)
	}

	if _, err := New(Config{Kind: "selenium"}); err == nil {
		t.Error("unknown backend kind should fail")
	}
}
