package llm

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/darwin-finch/finch/internal/treesitter"
)

// Model-family prompt docs, embedded at build time. Each describes the
// same tool surface in the register its family responds to best.
//
//go:embed anthropic.md
var anthropicPrompt string

//go:embed gemini.md
var geminiPrompt string

//go:embed qwen.md
var qwenPrompt string

//go:embed gpt.md
var gptPrompt string

// SelectPrompt picks the prompt doc for a model id, defaulting to the
// anthropic one for unrecognized families.
func SelectPrompt(modelID string) string {
	switch id := strings.ToLower(modelID); {
	case strings.Contains(id, "gemini"):
		return geminiPrompt
	case strings.Contains(id, "gpt"), strings.Contains(id, "o1"):
		return gptPrompt
	case strings.Contains(id, "qwen"):
		return qwenPrompt
	default:
		return anthropicPrompt
	}
}

// SubAgentBasePrompt returns the system prompt shared by every sub-agent,
// independent of the task it was dispatched to perform.
func SubAgentBasePrompt() string {
	return "You are a sub-agent spawned by Finch to carry out one bounded, " +
		"self-contained piece of work. You do not have access to the parent " +
		"conversation beyond the task description you were given. Work the " +
		"task to completion using the tools available to you, then reply " +
		"with a concise final answer; your last assistant message is the " +
		"only part of your run the parent agent will see."
}

// SubAgentPrompt returns additional sub-agent-specific guidance layered on
// top of SubAgentBasePrompt.
func SubAgentPrompt() string {
	return "Stay within the scope of the task you were given. Do not ask " +
		"the user questions unless AskUserQuestion is available to you; if " +
		"it is not, make the most reasonable assumption, note it in your " +
		"final answer, and proceed."
}

// LoadAgentInstructions collects AGENTS.md files from the working
// directory up to the filesystem root, plus ~/.finch/AGENTS.md, ordered
// broad-to-specific so the project-local file overrides the rest.
func LoadAgentInstructions() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	// Collected most-specific-first while walking up; the final reverse
	// emits broad files first so the project-local one gets the last word.
	var collected []string
	appendFrom := func(path string) {
		if content := readFileIfExists(path); content != "" {
			collected = append(collected, fmt.Sprintf("Instructions from: %s\n%s", path, content))
		}
	}

	for dir := cwd; ; {
		appendFrom(filepath.Join(dir, "AGENTS.md"))
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if home, err := os.UserHomeDir(); err == nil {
		appendFrom(filepath.Join(home, ".finch", "AGENTS.md"))
	}

	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return strings.Join(collected, "\n\n")
}

// BuildSystemPrompt constructs the complete system prompt by combining
// the model-specific base prompt with any AGENTS.md instructions and
// optionally a tree-sitter project symbol outline.
func BuildSystemPrompt(modelID string, idx *treesitter.Index) string {
	basePrompt := SelectPrompt(modelID)
	agentInstructions := LoadAgentInstructions()

	var parts []string
	if agentInstructions != "" {
		parts = append(parts, agentInstructions)
	}

	// Append tree-sitter project outline if available.
	if idx != nil {
		outline := treesitter.FormatOutline(idx.Snapshot())
		if outline != "" {
			parts = append(parts, outline)
		}
	}

	parts = append(parts, basePrompt)
	return strings.Join(parts, "\n\n---\n\n")
}

// readFileIfExists reads a file if it exists, returns empty string otherwise.
func readFileIfExists(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
