// Package dialog implements the inline dialogs drawn inside the live area:
// Select (radio), MultiSelect (checkbox), TextInput, Confirm, and the
// tabbed multi-question variant. Keys: arrows/jk navigate, space toggles
// multi-select, 1-9 jump, o opens a custom "Other" entry, Enter confirms,
// Esc cancels.
package dialog

import (
	"strings"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// Result is a dialog's outcome.
type Result struct {
	Canceled bool
	Option   string            // Select/Confirm: the chosen label (or custom text)
	Options  []string          // MultiSelect: every checked label
	Text     string            // TextInput: the entered text
	Answers  map[string]string // Tabbed: question -> answer
}

// Dialog is one inline dialog. HandleKey returns done=true when the dialog
// resolved (confirmed or cancelled); View renders it at the given width.
type Dialog interface {
	HandleKey(key tea.KeyPressMsg) (done bool, result Result)
	View(width int) string
}

// Styles carries the few styles dialogs need.
type Styles struct {
	Title    lipgloss.Style
	Dim      lipgloss.Style
	Selected lipgloss.Style
}

// Option is one selectable row.
type Option struct {
	Label string
	Desc  string
}

// Select is a radio-button dialog.
type Select struct {
	Title   string
	Options []Option
	Styles  Styles

	cursor        int
	editingCustom bool
	custom        []rune
}

// NewSelect builds a Select dialog.
func NewSelect(title string, options []Option, sty Styles) *Select {
	return &Select{Title: title, Options: options, Styles: sty}
}

func (d *Select) HandleKey(key tea.KeyPressMsg) (bool, Result) {
	if d.editingCustom {
		switch key.Keystroke() {
		case "esc":
			d.editingCustom = false
			d.custom = nil
		case "enter":
			if len(d.custom) > 0 {
				return true, Result{Option: string(d.custom)}
			}
			d.editingCustom = false
		case "backspace":
			if len(d.custom) > 0 {
				d.custom = d.custom[:len(d.custom)-1]
			}
		default:
			if key.Text != "" {
				d.custom = append(d.custom, []rune(key.Text)...)
			}
		}
		return false, Result{}
	}

	switch ks := key.Keystroke(); ks {
	case "esc":
		return true, Result{Canceled: true}
	case "enter":
		if len(d.Options) == 0 {
			return true, Result{Canceled: true}
		}
		return true, Result{Option: d.Options[d.cursor].Label}
	case "up", "k":
		if d.cursor > 0 {
			d.cursor--
		}
	case "down", "j":
		if d.cursor < len(d.Options)-1 {
			d.cursor++
		}
	case "o", "O":
		d.editingCustom = true
	default:
		if n, ok := digitIndex(ks); ok && n < len(d.Options) {
			d.cursor = n
		}
	}
	return false, Result{}
}

func (d *Select) View(width int) string {
	var b strings.Builder
	b.WriteString(d.Styles.Title.Render(d.Title))
	b.WriteByte('\n')
	for i, opt := range d.Options {
		marker := "( ) "
		if i == d.cursor {
			marker = "(•) "
		}
		line := marker + opt.Label
		if opt.Desc != "" {
			line += "  " + d.Styles.Dim.Render(opt.Desc)
		}
		if i == d.cursor {
			line = d.Styles.Selected.Render(marker+opt.Label) + descSuffix(opt.Desc, d.Styles)
		}
		b.WriteString(clip(line, width))
		b.WriteByte('\n')
	}
	if d.editingCustom {
		b.WriteString("Other: " + string(d.custom) + "▌")
	} else {
		b.WriteString(d.Styles.Dim.Render("enter: confirm · o: other · esc: cancel"))
	}
	return b.String()
}

// MultiSelect is a checkbox dialog.
type MultiSelect struct {
	Title   string
	Options []Option
	Styles  Styles

	cursor  int
	checked []bool
}

// NewMultiSelect builds a MultiSelect dialog.
func NewMultiSelect(title string, options []Option, sty Styles) *MultiSelect {
	return &MultiSelect{Title: title, Options: options, Styles: sty, checked: make([]bool, len(options))}
}

func (d *MultiSelect) HandleKey(key tea.KeyPressMsg) (bool, Result) {
	switch ks := key.Keystroke(); ks {
	case "esc":
		return true, Result{Canceled: true}
	case "enter":
		var picked []string
		for i, on := range d.checked {
			if on {
				picked = append(picked, d.Options[i].Label)
			}
		}
		return true, Result{Options: picked}
	case "up", "k":
		if d.cursor > 0 {
			d.cursor--
		}
	case "down", "j":
		if d.cursor < len(d.Options)-1 {
			d.cursor++
		}
	case "space":
		d.checked[d.cursor] = !d.checked[d.cursor]
	default:
		if n, ok := digitIndex(ks); ok && n < len(d.Options) {
			d.cursor = n
		}
	}
	return false, Result{}
}

func (d *MultiSelect) View(width int) string {
	var b strings.Builder
	b.WriteString(d.Styles.Title.Render(d.Title))
	b.WriteByte('\n')
	for i, opt := range d.Options {
		marker := "[ ] "
		if d.checked[i] {
			marker = "[x] "
		}
		line := marker + opt.Label
		if i == d.cursor {
			line = d.Styles.Selected.Render(line)
		}
		b.WriteString(clip(line, width))
		b.WriteByte('\n')
	}
	b.WriteString(d.Styles.Dim.Render("space: toggle · enter: confirm · esc: cancel"))
	return b.String()
}

// TextInput is a single-line free-text dialog.
type TextInput struct {
	Title  string
	Styles Styles

	value []rune
}

// NewTextInput builds a TextInput dialog.
func NewTextInput(title string, sty Styles) *TextInput {
	return &TextInput{Title: title, Styles: sty}
}

func (d *TextInput) HandleKey(key tea.KeyPressMsg) (bool, Result) {
	switch key.Keystroke() {
	case "esc":
		return true, Result{Canceled: true}
	case "enter":
		return true, Result{Text: string(d.value)}
	case "backspace":
		if len(d.value) > 0 {
			d.value = d.value[:len(d.value)-1]
		}
	default:
		if key.Text != "" {
			d.value = append(d.value, []rune(key.Text)...)
		}
	}
	return false, Result{}
}

func (d *TextInput) View(width int) string {
	return d.Styles.Title.Render(d.Title) + "\n" +
		clip("> "+string(d.value)+"▌", width) + "\n" +
		d.Styles.Dim.Render("enter: confirm · esc: cancel")
}

// NewConfirm is a yes/no Select.
func NewConfirm(title string, sty Styles) *Select {
	return NewSelect(title, []Option{{Label: "Yes"}, {Label: "No"}}, sty)
}

func digitIndex(ks string) (int, bool) {
	if len(ks) == 1 && ks[0] >= '1' && ks[0] <= '9' {
		return int(ks[0] - '1'), true
	}
	return 0, false
}

func descSuffix(desc string, sty Styles) string {
	if desc == "" {
		return ""
	}
	return "  " + sty.Dim.Render(desc)
}

func clip(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) > width {
		runes = runes[:width]
	}
	return string(runes)
}
