package tui

import (
	"strconv"
	"strings"
)

// CompactSummary trims a tool result to a single-line summary for a
// WorkUnit sub-row (testable property 5):
//   - "" -> ""
//   - whitespace-only -> ""
//   - single line, <=60 chars -> itself
//   - single line, >60 chars -> first 57 chars + "…"
//   - multi-line -> "{N} lines"
func CompactSummary(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ""
	}

	lines := strings.Split(content, "\n")
	// Trailing newline produces a spurious empty last element; a single
	// line with a trailing newline should still count as one line.
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	if len(lines) > 1 {
		return formatLineCount(len(lines))
	}

	line := lines[0]
	if len(line) <= 60 {
		return line
	}
	return line[:57] + "…"
}

func formatLineCount(n int) string {
	return strconv.Itoa(n) + " lines"
}
