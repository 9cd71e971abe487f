package dialog

import (
	"strings"

	tea "charm.land/bubbletea/v2"
)

// TabbedQuestion is one tab of a tabbed dialog.
type TabbedQuestion struct {
	Header      string
	Question    string
	Options     []string
	MultiSelect bool
}

// Tabbed presents up to four questions in one inline dialog with
// left/right tab navigation and per-tab state. Confirming resolves every
// tab at once: custom text if entered, checked labels for multi-select,
// else the cursored option.
type Tabbed struct {
	Styles Styles

	questions []TabbedQuestion
	tab       int
	cursor    []int
	selected  [][]bool

	editingCustom bool
	custom        []string
}

// NewTabbed builds a tabbed dialog over qs (the caller validates counts).
func NewTabbed(qs []TabbedQuestion, sty Styles) *Tabbed {
	t := &Tabbed{
		Styles:    sty,
		questions: qs,
		cursor:    make([]int, len(qs)),
		selected:  make([][]bool, len(qs)),
		custom:    make([]string, len(qs)),
	}
	for i, q := range qs {
		t.selected[i] = make([]bool, len(q.Options))
	}
	return t
}

func (t *Tabbed) HandleKey(key tea.KeyPressMsg) (bool, Result) {
	ks := key.Keystroke()

	if t.editingCustom {
		switch ks {
		case "esc":
			t.editingCustom = false
			t.custom[t.tab] = ""
		case "enter":
			t.editingCustom = false
		case "backspace":
			if s := t.custom[t.tab]; s != "" {
				runes := []rune(s)
				t.custom[t.tab] = string(runes[:len(runes)-1])
			}
		default:
			if key.Text != "" {
				t.custom[t.tab] += key.Text
			}
		}
		return false, Result{}
	}

	switch ks {
	case "esc":
		return true, Result{Canceled: true}
	case "left", "h":
		if t.tab > 0 {
			t.tab--
		}
	case "right", "l", "tab":
		if t.tab < len(t.questions)-1 {
			t.tab++
		}
	case "up", "k":
		if t.cursor[t.tab] > 0 {
			t.cursor[t.tab]--
		}
	case "down", "j":
		if t.cursor[t.tab] < len(t.questions[t.tab].Options)-1 {
			t.cursor[t.tab]++
		}
	case "space":
		if t.questions[t.tab].MultiSelect {
			t.selected[t.tab][t.cursor[t.tab]] = !t.selected[t.tab][t.cursor[t.tab]]
		}
	case "o", "O":
		t.editingCustom = true
	case "enter":
		return true, t.confirm()
	default:
		if n, ok := digitIndex(ks); ok && n < len(t.questions[t.tab].Options) {
			t.cursor[t.tab] = n
		}
	}
	return false, Result{}
}

func (t *Tabbed) confirm() Result {
	answers := make(map[string]string, len(t.questions))
	for i, q := range t.questions {
		switch {
		case t.custom[i] != "":
			answers[q.Question] = t.custom[i]
		case q.MultiSelect:
			var picked []string
			for j, on := range t.selected[i] {
				if on {
					picked = append(picked, q.Options[j])
				}
			}
			if len(picked) == 0 && len(q.Options) > 0 {
				picked = []string{q.Options[t.cursor[i]]}
			}
			answers[q.Question] = strings.Join(picked, ", ")
		case len(q.Options) > 0:
			answers[q.Question] = q.Options[t.cursor[i]]
		}
	}
	return Result{Answers: answers}
}

func (t *Tabbed) View(width int) string {
	var b strings.Builder

	var tabs []string
	for i, q := range t.questions {
		label := " " + q.Header + " "
		if i == t.tab {
			tabs = append(tabs, t.Styles.Selected.Render(label))
		} else {
			tabs = append(tabs, t.Styles.Dim.Render(label))
		}
	}
	b.WriteString(clip(strings.Join(tabs, "│"), width))
	b.WriteByte('\n')

	q := t.questions[t.tab]
	b.WriteString(clip(t.Styles.Title.Render(q.Question), width))
	b.WriteByte('\n')

	for j, opt := range q.Options {
		marker := "( ) "
		if q.MultiSelect {
			marker = "[ ] "
			if t.selected[t.tab][j] {
				marker = "[x] "
			}
		} else if j == t.cursor[t.tab] {
			marker = "(•) "
		}
		line := marker + opt
		if j == t.cursor[t.tab] {
			line = t.Styles.Selected.Render(line)
		}
		b.WriteString(clip(line, width))
		b.WriteByte('\n')
	}

	if t.editingCustom {
		b.WriteString("Other: " + t.custom[t.tab] + "▌")
	} else {
		b.WriteString(t.Styles.Dim.Render("←/→: tabs · space: toggle · o: other · enter: confirm · esc: cancel"))
	}
	return b.String()
}
