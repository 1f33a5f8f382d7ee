package pipeline

import (
	"fmt"
	"strings"
)

// systemPrompt fixes the inference stage's role: analysis only. Side
// effects happen exclusively through the output handler's marker grammar.
const systemPrompt = `You are a read-only analysis agent. You NEVER take destructive actions.
You analyze data, summarize findings, and produce reports. You may instruct the system to:
- Append to the blotter (append-only log)
- Append to long-term memory (for critical findings only)
- Send an email report

You must NOT: delete, modify, overwrite, or perform any destructive operation.
Output your report in the requested format.`

// taskInstructions is appended after the gathered context. It documents the
// marker grammar the output handler recognizes.
const taskInstructions = `## Your task
Follow the instructions in MAIN.md. Produce a summary report.

**System Issues**: Only report issues that appear to be ongoing (evident in the most recent execution).
Do NOT report historical issues that have been resolved. If the current run succeeded, do not list
earlier failures (e.g. missing scripts, path errors) as current system issues.

If there are critical findings that should be remembered long-term, output a block:
---MEMORY---
<content to append to long-term memory>
---END MEMORY---

If previously stored memory is no longer accurate (e.g. an issue was resolved), output:
---RESOLVED---
<brief description of what was resolved, to prune from memory>
---END RESOLVED---

Otherwise, just produce the report. The report will be emailed and appended to the blotter.`

// buildPrompt assembles the finalized user content: expanded instructions
// followed by gathered data, recent blotter entries, and long-term memory.
func buildPrompt(jobID, expandedBody, data, blotterTail, memoryText string) string {
	if data == "" {
		data = "(no fetched data)"
	}
	if blotterTail == "" {
		blotterTail = "(empty)"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Job: %s\n\n## MAIN.md instructions\n%s\n", jobID, expandedBody)
	fmt.Fprintf(&sb, "\n## Fetched data\n%s\n", data)
	fmt.Fprintf(&sb, "\n## Recent blotter entries\n%s\n", blotterTail)
	fmt.Fprintf(&sb, "\n## Long-term memory\n%s\n", memoryText)
	sb.WriteString("\n")
	sb.WriteString(taskInstructions)
	return sb.String()
}
