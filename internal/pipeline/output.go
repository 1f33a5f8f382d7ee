package pipeline

import (
	"strings"

	"github.com/vigil-sh/vigil/internal/memory"
)

// Output-handler marker pairs. These are the only channels through which
// model output can request a durable state change, and both are mediated:
// the segments become memory deltas applied by the store, never executed.
const (
	memoryBegin   = "---MEMORY---"
	memoryEnd     = "---END MEMORY---"
	resolvedBegin = "---RESOLVED---"
	resolvedEnd   = "---END RESOLVED---"
)

// extractOutput splits raw model output into the report text (everything
// outside recognized marker pairs) and the ordered memory deltas the
// markers requested. A begin marker with no matching end marker is left in
// the report verbatim.
func extractOutput(raw string) (report string, deltas []memory.Delta) {
	var sb strings.Builder
	rest := raw

	for {
		memIdx := strings.Index(rest, memoryBegin)
		resIdx := strings.Index(rest, resolvedBegin)
		if memIdx < 0 && resIdx < 0 {
			sb.WriteString(rest)
			break
		}

		var begin, end string
		var op memory.Op
		idx := memIdx
		begin, end, op = memoryBegin, memoryEnd, memory.OpAppend
		if memIdx < 0 || (resIdx >= 0 && resIdx < memIdx) {
			idx = resIdx
			begin, end, op = resolvedBegin, resolvedEnd, memory.OpResolve
		}

		inner, tail, closed := strings.Cut(rest[idx+len(begin):], end)
		if !closed {
			sb.WriteString(rest)
			break
		}

		sb.WriteString(rest[:idx])
		if text := strings.TrimSpace(inner); text != "" {
			deltas = append(deltas, memory.Delta{Op: op, Text: text})
		}
		rest = tail
	}

	return strings.TrimSpace(sb.String()), deltas
}
