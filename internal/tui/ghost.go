package tui

import "strings"

// CommandRegistry holds the set of known slash commands and their one-line
// descriptions, used both for ghost-text completion and for status-line
// priority (a) in spec §4.4.
type CommandRegistry struct {
	commands []string
	descriptions map[string]string
}

// NewCommandRegistry returns a registry seeded with name->description pairs.
func NewCommandRegistry(entries map[string]string) *CommandRegistry {
	r := &CommandRegistry{descriptions: make(map[string]string, len(entries))}
	for name, desc := range entries {
		r.commands = append(r.commands, name)
		r.descriptions[name] = desc
	}
	return r
}

// DefaultCommands is the slash-command set from spec §6.
func DefaultCommands() *CommandRegistry {
	return NewCommandRegistry(map[string]string{
		"/help":     "Show available commands",
		"/quit":     "Exit Finch",
		"/exit":     "Exit Finch",
		"/metrics":  "Show session metrics",
		"/training": "Show routing/training stats",
		"/memory":   "Show conversation size and context budget left",
		"/plan":     "Start a plan-mode task",
		"/mcp":      "List registered tools",
		"/critical": "Rate the last response critical",
		"/medium":   "Rate the last response medium",
		"/good":     "Rate the last response good",
		"/provider": "List or switch the active provider",
		"/license":  "Show or activate a license",
		"/local":    "Force a query to the local generator",
	})
}

// matches returns the commands that start with input, including one equal
// to it.
func (r *CommandRegistry) matches(input string) []string {
	var out []string
	for _, c := range r.commands {
		if strings.HasPrefix(c, input) {
			out = append(out, c)
		}
	}
	return out
}

// ComputeGhostText implements spec §4.4's ghost-text rule (testable
// property 6): when input begins with "/" and has exactly one completion
// whose length exceeds the current input, return the dim suffix to render
// after the cursor. Returns ("", false) otherwise.
func ComputeGhostText(input string, registry *CommandRegistry) (suffix string, ok bool) {
	if !strings.HasPrefix(input, "/") {
		return "", false
	}
	matches := registry.matches(input)
	if len(matches) != 1 {
		return "", false
	}
	full := matches[0]
	if len(full) <= len(input) {
		return "", false
	}
	return full[len(input):], true
}

// MatchedDescription returns the unique command's description when input
// has exactly one completion (used for status-line priority (a)), or ""
// with ok=false otherwise.
func (r *CommandRegistry) MatchedDescription(input string) (desc string, ok bool) {
	matches := r.matches(input)
	if len(matches) != 1 {
		return "", false
	}
	return r.descriptions[matches[0]], true
}
