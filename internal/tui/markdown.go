package tui

import (
	"strings"

	"github.com/darwin-finch/finch/internal/constants"
	"github.com/darwin-finch/finch/internal/highlight"
)

// renderMarkdown styles assistant text for its scrollback commit: fenced
// code blocks go through Chroma in the configured theme, everything else
// gets the base text style.
func renderMarkdown(text string, sty Styles) string {
	return renderMarkdownThemed(text, sty, constants.SyntaxTheme)
}

func renderMarkdownThemed(text string, sty Styles, theme string) string {
	var out []string
	var code []string
	lang := ""
	inCode := false

	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "```") {
			if inCode {
				highlighted := highlight.Highlight(strings.Join(code, "\n"), lang, theme, "")
				out = append(out, highlighted)
				code, lang, inCode = nil, "", false
			} else {
				lang = strings.TrimSpace(strings.TrimPrefix(line, "```"))
				if lang == "" {
					lang = "text"
				}
				inCode = true
			}
			continue
		}
		if inCode {
			code = append(code, line)
			continue
		}
		out = append(out, sty.Text.Render(line))
	}
	// An unclosed fence still renders its collected lines.
	if inCode && len(code) > 0 {
		out = append(out, highlight.Highlight(strings.Join(code, "\n"), lang, theme, ""))
	}
	return strings.Join(out, "\n")
}
