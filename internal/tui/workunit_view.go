package tui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/darwin-finch/finch/internal/orchestrator"
)

// Hooks for tests.
var (
	nowFn   = time.Now
	homeDir = os.UserHomeDir
)

// activeUnit returns the in-flight query's work unit, if any.
func (m Model) activeUnit() *orchestrator.WorkUnit {
	if m.activeQueryID == "" {
		return nil
	}
	unit, ok := m.orch.WorkUnit(m.activeQueryID)
	if !ok || unit.Status() != orchestrator.WorkInProgress {
		return nil
	}
	return unit
}

// liveUnitBlock renders the animated work unit for the live area: the
// throbbing header, the streamed response tail, and one sub-row per tool
// call.
func (m Model) liveUnitBlock(unit *orchestrator.WorkUnit, width int) string {
	var b strings.Builder

	tokens := unit.Tokens()
	progress := "thinking"
	if tokens > 0 {
		progress = "↓ " + FormatTokens(tokens) + " tokens"
	}
	header := fmt.Sprintf("%s %s… (%s · %s)",
		ThrobFrame(m.spinTick),
		m.styles.Verb.Render(unit.Verb),
		FormatElapsed(unit.ElapsedSeconds(nowFn())),
		progress,
	)
	b.WriteString(clipToWidth(header, width))

	// Tail of the streamed text, so the live area stays a few rows tall
	// while the full response waits for its scrollback commit.
	if tail := lastLines(unit.Response(), 3); tail != "" {
		for _, line := range strings.Split(tail, "\n") {
			b.WriteByte('\n')
			b.WriteString(clipToWidth(m.styles.Muted.Render(line), width))
		}
	}

	for _, row := range unit.Rows() {
		b.WriteByte('\n')
		b.WriteString(clipToWidth(m.subRow(row), width))
	}
	return b.String()
}

// subRow renders "⎿ {label}" with the state glyph and compact summary.
func (m Model) subRow(row orchestrator.SubRow) string {
	switch row.Status {
	case orchestrator.RowRunning:
		return m.styles.Dim.Render("· " + row.Label)
	case orchestrator.RowFailed:
		reason := row.Reason
		if reason == "" {
			reason = "failed"
		}
		return m.styles.Error.Render("✗ "+row.Label) + m.styles.Dim.Render(" → "+reason)
	default:
		out := m.styles.Text.Render("⎿ " + row.Label)
		if row.Summary != "" {
			out += m.styles.Dim.Render(" → " + row.Summary)
		}
		return out
	}
}

// committedBlock renders a finished turn for its one-time print into
// permanent scrollback: final header, full response, sub-rows.
func (m Model) committedBlock(q *orchestrator.Query, unit *orchestrator.WorkUnit) string {
	var b strings.Builder

	glyph := m.styles.OK.Render("●")
	switch q.State {
	case orchestrator.QueryFailedState:
		glyph = m.styles.Error.Render("✗")
	case orchestrator.QueryCancelled:
		glyph = m.styles.Warning.Render("−")
	}
	b.WriteString(fmt.Sprintf("%s %s (%s · %s tokens)",
		glyph,
		m.styles.Verb.Render(unit.Verb),
		FormatElapsed(unit.ElapsedSeconds(nowFn())),
		FormatTokens(unit.Tokens()),
	))

	for _, row := range unit.Rows() {
		b.WriteByte('\n')
		b.WriteString(m.subRow(row))
	}

	switch q.State {
	case orchestrator.QueryFailedState:
		b.WriteByte('\n')
		b.WriteString(m.styles.Error.Render(q.FailReason))
	case orchestrator.QueryCancelled:
		b.WriteByte('\n')
		b.WriteString(m.styles.Dim.Render("(interrupted)"))
	default:
		if text := unit.Response(); text != "" {
			b.WriteByte('\n')
			b.WriteString(renderMarkdownThemed(text, m.styles, m.syntaxTheme))
		}
	}
	return b.String()
}

// lastLines returns up to n trailing non-empty-trimmed lines of s.
func lastLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// clipToWidth hard-truncates a styled line to the terminal width.
func clipToWidth(s string, width int) string {
	if width <= 0 || ansi.StringWidth(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "…")
}
