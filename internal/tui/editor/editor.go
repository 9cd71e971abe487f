// Package editor is the multi-line input widget at the bottom of the live
// area. It owns only text entry: a rune buffer, cursor movement, and a
// plain rendered view with a block cursor. Enter is left to the REPL (it
// submits); shift+enter inserts the newline here.
package editor

import (
	"strings"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// Model is the input editor state.
type Model struct {
	Placeholder    string
	PlaceholderSty lipgloss.Style
	CursorSty      lipgloss.Style

	lines [][]rune
	row   int
	col   int
	focus bool
}

// New returns an empty, unfocused editor.
func New() Model {
	return Model{lines: [][]rune{{}}}
}

// Focus directs key input to this editor.
func (m *Model) Focus() { m.focus = true }

// Blur stops key handling.
func (m *Model) Blur() { m.focus = false }

// Focused reports whether the editor accepts input.
func (m Model) Focused() bool { return m.focus }

// Value returns the buffer as a single string.
func (m Model) Value() string {
	parts := make([]string, len(m.lines))
	for i, l := range m.lines {
		parts[i] = string(l)
	}
	return strings.Join(parts, "\n")
}

// SetValue replaces the buffer and moves the cursor to the end.
func (m *Model) SetValue(s string) {
	m.lines = nil
	for _, line := range strings.Split(s, "\n") {
		m.lines = append(m.lines, []rune(line))
	}
	if len(m.lines) == 0 {
		m.lines = [][]rune{{}}
	}
	m.row = len(m.lines) - 1
	m.col = len(m.lines[m.row])
}

// Reset clears the buffer.
func (m *Model) Reset() {
	m.lines = [][]rune{{}}
	m.row, m.col = 0, 0
}

// CursorRow returns the cursor's buffer row, 0-indexed.
func (m *Model) CursorRow() int { return m.row }

// CursorCol returns the cursor's rune column on its row.
func (m *Model) CursorCol() int { return m.col }

// LineCount returns the number of buffer lines.
func (m *Model) LineCount() int { return len(m.lines) }

// InsertText inserts text at the cursor; newlines split the line.
func (m *Model) InsertText(text string) {
	for _, r := range text {
		if r == '\n' {
			m.insertNewline()
			continue
		}
		if r == '\r' {
			continue
		}
		m.insertRune(r)
	}
}

func (m *Model) insertRune(r rune) {
	line := m.lines[m.row]
	line = append(line[:m.col], append([]rune{r}, line[m.col:]...)...)
	m.lines[m.row] = line
	m.col++
}

func (m *Model) insertNewline() {
	line := m.lines[m.row]
	rest := append([]rune{}, line[m.col:]...)
	m.lines[m.row] = line[:m.col]
	m.lines = append(m.lines[:m.row+1], append([][]rune{rest}, m.lines[m.row+1:]...)...)
	m.row++
	m.col = 0
}

func (m *Model) deleteBackward() {
	if m.col > 0 {
		line := m.lines[m.row]
		m.lines[m.row] = append(line[:m.col-1], line[m.col:]...)
		m.col--
		return
	}
	if m.row == 0 {
		return
	}
	// Join with the previous line.
	prev := m.lines[m.row-1]
	m.col = len(prev)
	m.lines[m.row-1] = append(prev, m.lines[m.row]...)
	m.lines = append(m.lines[:m.row], m.lines[m.row+1:]...)
	m.row--
}

func (m *Model) deleteForward() {
	line := m.lines[m.row]
	if m.col < len(line) {
		m.lines[m.row] = append(line[:m.col], line[m.col+1:]...)
		return
	}
	if m.row == len(m.lines)-1 {
		return
	}
	m.lines[m.row] = append(line, m.lines[m.row+1]...)
	m.lines = append(m.lines[:m.row+1], m.lines[m.row+2:]...)
}

func (m *Model) clampCol() {
	if m.col > len(m.lines[m.row]) {
		m.col = len(m.lines[m.row])
	}
}

// Update handles key events while focused. Enter is deliberately ignored
// here; the REPL owns submit.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	key, ok := msg.(tea.KeyPressMsg)
	if !ok || !m.focus {
		return m, nil
	}

	switch key.Keystroke() {
	case "shift+enter", "ctrl+j":
		m.insertNewline()
	case "backspace":
		m.deleteBackward()
	case "delete":
		m.deleteForward()
	case "left":
		if m.col > 0 {
			m.col--
		} else if m.row > 0 {
			m.row--
			m.col = len(m.lines[m.row])
		}
	case "right":
		if m.col < len(m.lines[m.row]) {
			m.col++
		} else if m.row < len(m.lines)-1 {
			m.row++
			m.col = 0
		}
	case "up":
		if m.row > 0 {
			m.row--
			m.clampCol()
		}
	case "down":
		if m.row < len(m.lines)-1 {
			m.row++
			m.clampCol()
		}
	case "home", "ctrl+a":
		m.col = 0
	case "end", "ctrl+e":
		m.col = len(m.lines[m.row])
	case "ctrl+u":
		m.lines[m.row] = m.lines[m.row][m.col:]
		m.col = 0
	case "ctrl+k":
		m.lines[m.row] = m.lines[m.row][:m.col]
	default:
		if key.Text != "" {
			m.InsertText(key.Text)
		}
	}
	return m, nil
}

// View renders the buffer. While focused, the cursor cell is drawn with
// CursorSty; an empty unfocused buffer shows the placeholder.
func (m Model) View() string {
	if m.Value() == "" && !m.focus && m.Placeholder != "" {
		return m.PlaceholderSty.Render(m.Placeholder)
	}

	var b strings.Builder
	for i, line := range m.lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if !m.focus || i != m.row {
			b.WriteString(string(line))
			continue
		}
		b.WriteString(string(line[:m.col]))
		if m.col < len(line) {
			b.WriteString(m.CursorSty.Render(string(line[m.col])))
			b.WriteString(string(line[m.col+1:]))
		} else {
			b.WriteString(m.CursorSty.Render(" "))
		}
	}
	if m.Value() == "" && m.focus && m.Placeholder != "" {
		return m.CursorSty.Render(" ") + m.PlaceholderSty.Render(m.Placeholder)
	}
	return b.String()
}
