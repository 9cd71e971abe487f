package tui

import (
	"charm.land/lipgloss/v2"

	"github.com/darwin-finch/finch/internal/tui/dialog"
)

// Grayscale palette with a single accent, rendered against the terminal's
// own background — the live area sits above real scrollback, so no
// full-screen background fill.
var (
	ColorHighlight = lipgloss.Color("#00E5CC")
	ColorFg        = lipgloss.Color("#c8c8c8")
	ColorMuted     = lipgloss.Color("#6e6e6e")
	ColorDim       = lipgloss.Color("#4a4a4a")
	ColorBorder    = lipgloss.Color("#3a3a3a")
	ColorError     = lipgloss.Color("#ff5f5f")
	ColorWarning   = lipgloss.Color("#e0af68")
	ColorOK        = lipgloss.Color("#9ece6a")
)

// Styles is the semantic style set for the live area and committed blocks.
type Styles struct {
	Text      lipgloss.Style
	Muted     lipgloss.Style
	Dim       lipgloss.Style
	Border    lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	OK        lipgloss.Style
	Accent    lipgloss.Style
	UserEcho  lipgloss.Style
	Verb      lipgloss.Style
	GhostText lipgloss.Style
}

// DefaultStyles builds the standard style set.
func DefaultStyles() Styles {
	return Styles{
		Text:      lipgloss.NewStyle().Foreground(ColorFg),
		Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
		Dim:       lipgloss.NewStyle().Foreground(ColorDim),
		Border:    lipgloss.NewStyle().Foreground(ColorBorder),
		Error:     lipgloss.NewStyle().Foreground(ColorError),
		Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
		OK:        lipgloss.NewStyle().Foreground(ColorOK),
		Accent:    lipgloss.NewStyle().Foreground(ColorHighlight),
		UserEcho:  lipgloss.NewStyle().Foreground(ColorFg).Bold(true),
		Verb:      lipgloss.NewStyle().Foreground(ColorHighlight),
		GhostText: lipgloss.NewStyle().Foreground(ColorDim),
	}
}

// dialogStyles adapts the palette for the inline dialog package.
func (s Styles) dialogStyles() dialog.Styles {
	return dialog.Styles{
		Title:    s.Text.Bold(true),
		Dim:      s.Dim,
		Selected: s.Accent,
	}
}
