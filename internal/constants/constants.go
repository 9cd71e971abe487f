// Package constants holds cross-cutting UI constants.
package constants

// SyntaxTheme is the default Chroma syntax highlighting theme used in the
// editor and code blocks when the config names no active_theme.
const SyntaxTheme = "github-dark"

// ThemeSyntaxMap maps the config's active_theme names onto Chroma themes.
// The keys are the closed set config validation accepts.
var ThemeSyntaxMap = map[string]string{
	"dark":          "github-dark",
	"light":         "github",
	"high-contrast": "hrdark",
	"solarized":     "solarized-dark",
}

// SyntaxThemeFor resolves an active_theme name to its Chroma theme, falling
// back to SyntaxTheme for anything unrecognized.
func SyntaxThemeFor(activeTheme string) string {
	if t, ok := ThemeSyntaxMap[activeTheme]; ok {
		return t
	}
	return SyntaxTheme
}
