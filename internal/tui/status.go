package tui

import "fmt"

// throbFrames cycles through a 4-symbol pulse every render tick (§4.4).
var throbFrames = [4]string{"⠋", "⠙", "⠸", "⠴"}

// ThrobFrame returns the throb glyph for tick.
func ThrobFrame(tick int) string {
	return throbFrames[tick%len(throbFrames)]
}

// FormatElapsed renders an elapsed-seconds count as "Ns" or "Nm Ms"
// (testable property 4).
func FormatElapsed(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes := seconds / 60
	rem := seconds % 60
	return fmt.Sprintf("%dm %ds", minutes, rem)
}

// FormatTokens renders a token count as "N" below 1000, or "N.Nk" at and
// above 1000 (testable property 4).
func FormatTokens(tokens int) string {
	if tokens < 1000 {
		return fmt.Sprintf("%d", tokens)
	}
	scaled := float64(tokens) / 1000
	return fmt.Sprintf("%.1fk", scaled)
}

// ChannelingStatus renders the streaming status line exactly as spec'd:
// "{frame} Channeling… ({elapsed} · ↓ {tokens} tokens)" (testable property 4).
func ChannelingStatus(tick, elapsedSeconds, tokens int) string {
	return fmt.Sprintf("%s Channeling… (%s · ↓ %s tokens)", ThrobFrame(tick), FormatElapsed(elapsedSeconds), FormatTokens(tokens))
}

// IdleHint is the idle-state status line, enumerating key bindings
// (testable property 7 requires it to mention "Ctrl+C" and "/help").
const IdleHint = "Enter submits · Ctrl+C cancels · Tab completes · /help for commands"

// EffectiveStatus implements the status-line priority from spec §4.4:
//  1. ghost text present AND a unique `/command` completion is matched
//     -> that command's description
//  2. else a non-empty live stat/operation string
//  3. else the idle hint
func EffectiveStatus(ghostMatchedDescription string, ghostMatched bool, liveStat string) string {
	if ghostMatched && ghostMatchedDescription != "" {
		return ghostMatchedDescription
	}
	if liveStat != "" {
		return liveStat
	}
	return IdleHint
}
