package dialog

import (
	"testing"

	tea "charm.land/bubbletea/v2"
)

func key(k string) tea.KeyPressMsg {
	switch k {
	case "enter":
		return tea.KeyPressMsg{Code: tea.KeyEnter}
	case "esc":
		return tea.KeyPressMsg{Code: tea.KeyEscape}
	case "space":
		return tea.KeyPressMsg{Code: tea.KeySpace, Text: " "}
	case "up":
		return tea.KeyPressMsg{Code: tea.KeyUp}
	case "down":
		return tea.KeyPressMsg{Code: tea.KeyDown}
	case "left":
		return tea.KeyPressMsg{Code: tea.KeyLeft}
	case "right":
		return tea.KeyPressMsg{Code: tea.KeyRight}
	case "backspace":
		return tea.KeyPressMsg{Code: tea.KeyBackspace}
	default:
		return tea.KeyPressMsg{Code: []rune(k)[0], Text: k}
	}
}

func drive(d Dialog, keys ...string) (bool, Result) {
	var done bool
	var res Result
	for _, k := range keys {
		done, res = d.HandleKey(key(k))
	}
	return done, res
}

func TestSelectNavigateAndConfirm(t *testing.T) {
	d := NewSelect("Pick one", []Option{{Label: "alpha"}, {Label: "beta"}, {Label: "gamma"}}, Styles{})
	done, res := drive(d, "down", "j", "enter")
	if !done || res.Canceled || res.Option != "gamma" {
		t.Fatalf("res = %+v", res)
	}
}

func TestSelectNumberJump(t *testing.T) {
	d := NewSelect("Pick", []Option{{Label: "a"}, {Label: "b"}}, Styles{})
	done, res := drive(d, "2", "enter")
	if !done || res.Option != "b" {
		t.Fatalf("res = %+v", res)
	}
}

func TestSelectCustomEntry(t *testing.T) {
	d := NewSelect("Pick", []Option{{Label: "a"}, {Label: "b"}}, Styles{})
	done, res := drive(d, "o", "x", "y", "enter")
	if !done || res.Option != "xy" {
		t.Fatalf("res = %+v", res)
	}
}

func TestSelectEscCancels(t *testing.T) {
	d := NewSelect("Pick", []Option{{Label: "a"}}, Styles{})
	done, res := drive(d, "esc")
	if !done || !res.Canceled {
		t.Fatalf("res = %+v", res)
	}
}

func TestMultiSelectToggles(t *testing.T) {
	d := NewMultiSelect("Pick many", []Option{{Label: "a"}, {Label: "b"}, {Label: "c"}}, Styles{})
	done, res := drive(d, "space", "down", "down", "space", "enter")
	if !done {
		t.Fatalf("not done")
	}
	if len(res.Options) != 2 || res.Options[0] != "a" || res.Options[1] != "c" {
		t.Fatalf("options = %v", res.Options)
	}
}

func TestTextInputCollectsRunes(t *testing.T) {
	d := NewTextInput("Name?", Styles{})
	done, res := drive(d, "a", "b", "backspace", "c", "enter")
	if !done || res.Text != "ac" {
		t.Fatalf("res = %+v", res)
	}
}

func TestConfirmDefaultsYes(t *testing.T) {
	d := NewConfirm("Proceed?", Styles{})
	done, res := drive(d, "enter")
	if !done || res.Option != "Yes" {
		t.Fatalf("res = %+v", res)
	}
}

func TestTabbedAnswersAllTabs(t *testing.T) {
	d := NewTabbed([]TabbedQuestion{
		{Header: "Scope", Question: "Which scope?", Options: []string{"narrow", "wide"}},
		{Header: "Tests", Question: "Add tests?", Options: []string{"yes", "no", "later"}, MultiSelect: true},
	}, Styles{})

	// Tab 0 -> "wide"; tab 1 -> toggle "yes" and "later".
	drive(d, "down", "right", "space", "down", "down", "space")
	done, res := drive(d, "enter")
	if !done {
		t.Fatalf("not done")
	}
	if res.Answers["Which scope?"] != "wide" {
		t.Fatalf("answers = %v", res.Answers)
	}
	if res.Answers["Add tests?"] != "yes, later" {
		t.Fatalf("answers = %v", res.Answers)
	}
}

func TestTabbedCustomOverridesSelection(t *testing.T) {
	d := NewTabbed([]TabbedQuestion{
		{Header: "Scope", Question: "Which scope?", Options: []string{"narrow", "wide"}},
	}, Styles{})
	drive(d, "o", "m", "i", "d", "enter") // leave custom entry
	done, res := drive(d, "enter")
	if !done || res.Answers["Which scope?"] != "mid" {
		t.Fatalf("res = %+v", res)
	}
}
