package editor

import (
	"testing"

	tea "charm.land/bubbletea/v2"
)

func typeKeys(m Model, keys ...string) Model {
	for _, k := range keys {
		var msg tea.KeyPressMsg
		switch k {
		case "shift+enter":
			msg = tea.KeyPressMsg{Code: tea.KeyEnter, Mod: tea.ModShift}
		case "backspace":
			msg = tea.KeyPressMsg{Code: tea.KeyBackspace}
		case "left":
			msg = tea.KeyPressMsg{Code: tea.KeyLeft}
		case "up":
			msg = tea.KeyPressMsg{Code: tea.KeyUp}
		case "home":
			msg = tea.KeyPressMsg{Code: tea.KeyHome}
		default:
			msg = tea.KeyPressMsg{Code: []rune(k)[0], Text: k}
		}
		m, _ = m.Update(msg)
	}
	return m
}

func TestTypingAndValue(t *testing.T) {
	m := New()
	m.Focus()
	m = typeKeys(m, "h", "i")
	if m.Value() != "hi" {
		t.Fatalf("value = %q", m.Value())
	}
}

func TestShiftEnterInsertsNewline(t *testing.T) {
	m := New()
	m.Focus()
	m = typeKeys(m, "a", "shift+enter", "b")
	if m.Value() != "a\nb" {
		t.Fatalf("value = %q", m.Value())
	}
	if m.LineCount() != 2 || m.CursorRow() != 1 {
		t.Fatalf("lines=%d row=%d", m.LineCount(), m.CursorRow())
	}
}

func TestBackspaceJoinsLines(t *testing.T) {
	m := New()
	m.Focus()
	m.SetValue("ab\ncd") // cursor lands at the end of "cd"
	m = typeKeys(m, "home", "backspace")
	if m.Value() != "abcd" {
		t.Fatalf("value = %q", m.Value())
	}
}

func TestBlurredEditorIgnoresKeys(t *testing.T) {
	m := New()
	m = typeKeys(m, "x")
	if m.Value() != "" {
		t.Fatalf("blurred editor accepted input: %q", m.Value())
	}
}

func TestInsertTextAndReset(t *testing.T) {
	m := New()
	m.Focus()
	m.InsertText("line one\nline two")
	if m.LineCount() != 2 || m.Value() != "line one\nline two" {
		t.Fatalf("value = %q", m.Value())
	}
	m.Reset()
	if m.Value() != "" || m.CursorRow() != 0 {
		t.Fatalf("reset left state behind")
	}
}
