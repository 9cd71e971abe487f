package tui

import (
	"strings"

	tea "charm.land/bubbletea/v2"
)

// View renders the live area: optional active work unit, a separator
// embedding the tilde-abbreviated CWD, the inline dialog or the input
// editor, a thin separator, and the status line. Rendering is inline —
// committed turns live in real scrollback above this region.
func (m Model) View() tea.View {
	if m.quitting {
		v := tea.NewView("")
		v.AltScreen = false
		return v
	}
	frame := m.render.Frame(func() string { return m.renderLive() })
	v := tea.NewView(frame)
	v.AltScreen = false
	return v
}

func (m Model) renderLive() string {
	width := m.width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder

	if unit := m.activeUnit(); unit != nil {
		b.WriteString(m.liveUnitBlock(unit, width))
		b.WriteByte('\n')
	}

	b.WriteString(m.separatorLine(width))
	b.WriteByte('\n')

	if m.dialog != nil {
		b.WriteString(m.dialog.dlg.View(width))
	} else {
		b.WriteString(m.inputView())
	}
	b.WriteByte('\n')

	b.WriteString(m.styles.Border.Render(strings.Repeat("─", width)))
	b.WriteByte('\n')

	b.WriteString(m.statusBar(width))
	return b.String()
}

// separatorLine is "── ~/abbrev/cwd ──...", full width.
func (m Model) separatorLine(width int) string {
	label := " " + tildeAbbrev(m.cwd) + " "
	pad := width - len([]rune(label)) - 2
	if pad < 0 {
		pad = 0
	}
	return m.styles.Border.Render("──") + m.styles.Dim.Render(label) + m.styles.Border.Render(strings.Repeat("─", pad))
}

// inputView renders the editor plus a dim ghost-text suffix when a unique
// slash-command completion is pending (Tab accepts it).
func (m Model) inputView() string {
	view := m.input.View()
	if suffix, ok := ComputeGhostText(m.input.Value(), m.ghost); ok {
		view += m.styles.GhostText.Render(suffix)
	}
	return view
}

// statusBar composes the status line by the spec's priority: a uniquely
// matched /command's description, then the live stat, then the idle hint.
func (m Model) statusBar(width int) string {
	ghostDesc, ghostOK := "", false
	if strings.HasPrefix(m.input.Value(), "/") {
		ghostDesc, ghostOK = m.ghost.MatchedDescription(m.input.Value())
	}

	liveStat := m.notice
	if unit := m.activeUnit(); unit != nil {
		liveStat = ChannelingStatus(m.spinTick, unit.ElapsedSeconds(nowFn()), unit.Tokens())
	}

	line := EffectiveStatus(ghostDesc, ghostOK, liveStat)
	if m.statsLine != "" {
		line += m.styles.Dim.Render("  ·  " + m.statsLine)
	}
	return m.styles.Muted.Render(clipToWidth(line, width))
}

// tildeAbbrev shortens a home-relative path to ~/...
func tildeAbbrev(path string) string {
	home, err := homeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+"/") {
		return "~" + path[len(home):]
	}
	return path
}
