package pipeline

import (
	"reflect"
	"strings"
	"testing"

	"github.com/vigil-sh/vigil/internal/memory"
)

func TestExtractOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        string
		wantReport string
		wantDeltas []memory.Delta
	}{
		{
			name:       "plain report",
			raw:        "All systems nominal.\n",
			wantReport: "All systems nominal.",
		},
		{
			name:       "memory block removed from report",
			raw:        "Hello\n---MEMORY---\nWatch disk usage\n---END MEMORY---",
			wantReport: "Hello",
			wantDeltas: []memory.Delta{{Op: memory.OpAppend, Text: "Watch disk usage"}},
		},
		{
			name:       "resolved block",
			raw:        "Report.\n---RESOLVED---\ndisk pressure on web-1\n---END RESOLVED---\nTrailer.",
			wantReport: "Report.\n\nTrailer.",
			wantDeltas: []memory.Delta{{Op: memory.OpResolve, Text: "disk pressure on web-1"}},
		},
		{
			name: "mixed blocks in document order",
			raw: "Top\n---RESOLVED---\nold issue\n---END RESOLVED---\nMiddle\n" +
				"---MEMORY---\nnew finding\n---END MEMORY---\nBottom",
			wantReport: "Top\n\nMiddle\n\nBottom",
			wantDeltas: []memory.Delta{
				{Op: memory.OpResolve, Text: "old issue"},
				{Op: memory.OpAppend, Text: "new finding"},
			},
		},
		{
			name:       "unclosed marker stays verbatim",
			raw:        "Report\n---MEMORY---\nnever closed",
			wantReport: "Report\n---MEMORY---\nnever closed",
		},
		{
			name:       "empty block produces no delta",
			raw:        "Report\n---MEMORY---\n\n---END MEMORY---",
			wantReport: "Report",
		},
		{
			name:       "markers only",
			raw:        "---MEMORY---\nremember this\n---END MEMORY---",
			wantReport: "",
			wantDeltas: []memory.Delta{{Op: memory.OpAppend, Text: "remember this"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			report, deltas := extractOutput(tt.raw)
			if report != tt.wantReport {
				t.Errorf("report = %q, want %q", report, tt.wantReport)
			}
			if !reflect.DeepEqual(deltas, tt.wantDeltas) {
				t.Errorf("deltas = %+v, want %+v", deltas, tt.wantDeltas)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	got := buildPrompt("disk-watch", "Check disks.", "", "", "nothing yet")
	for _, want := range []string{
		"# Job: disk-watch",
		"## MAIN.md instructions\nCheck disks.",
		"(no fetched data)",
		"## Recent blotter entries\n(empty)",
		"## Long-term memory\nnothing yet",
		"---MEMORY---",
		"---RESOLVED---",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
