// Package subagent runs isolated delegate agents for the sub_agent tool:
// a bounded headless turn loop with its own history, so exploration noise
// never lands in the parent conversation. The brain (C6) is the other
// consumer of this shape, specialized to a read-only tool subset.
package subagent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/darwin-finch/finch/internal/llm"
	"github.com/darwin-finch/finch/internal/mcp"
	"github.com/darwin-finch/finch/internal/provider"
)

const (
	// MaxSubAgentDepth caps recursion: a sub-agent may not spawn another.
	MaxSubAgentDepth = 1

	// DefaultIterations is the tool-round budget when the caller names
	// none.
	DefaultIterations = 5

	// MaxAllowedIterations bounds a caller-supplied budget.
	MaxAllowedIterations = 20
)

// Options configures a sub-agent run.
type Options struct {
	Provider      provider.Provider
	Proxy         *mcp.Proxy
	Tools         []mcp.Tool
	Prompt        string
	MaxIterations int
}

// Result is a finished run: the delegate's final text plus its token
// spend, which the parent accounts against its own turn.
type Result struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Run executes one delegate task to completion.
func Run(ctx context.Context, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("sub-agent cancelled: %v", err)
	}
	if opts.Provider == nil || opts.Proxy == nil {
		return Result{}, fmt.Errorf("sub-agent needs a provider and a tool proxy")
	}
	if opts.Prompt == "" {
		return Result{}, fmt.Errorf("prompt is required")
	}

	budget := DefaultIterations
	if opts.MaxIterations > 0 {
		if opts.MaxIterations > MaxAllowedIterations {
			return Result{}, fmt.Errorf("max_iterations too large (max: %d)", MaxAllowedIterations)
		}
		budget = opts.MaxIterations
	}

	history := []provider.Message{
		{Role: "system", Content: SystemPrompt(), CreatedAt: time.Now()},
		{Role: "user", Content: opts.Prompt, CreatedAt: time.Now()},
	}

	var res Result
	err := llm.ProcessTurn(ctx, llm.ProcessTurnOptions{
		Provider: opts.Provider,
		Proxy:    opts.Proxy,
		Tools:    opts.Tools,
		History:  history,
		OnMessage: func(msg provider.Message) {
			// The last non-empty assistant text is the delegate's answer.
			if msg.Role == "assistant" && msg.Content != "" {
				res.Content = msg.Content
			}
		},
		OnUsage: func(in, out int) {
			res.InputTokens += in
			res.OutputTokens += out
		},
		MaxToolRounds: budget,
		Depth:         MaxSubAgentDepth,
	})
	if err != nil {
		return Result{}, fmt.Errorf("sub-agent failed: %v", err)
	}
	if res.Content == "" {
		return Result{}, fmt.Errorf("sub-agent produced no final response")
	}
	return res, nil
}

// FilterTools strips the sub_agent tool from the delegate's tool list,
// enforcing the depth cap at the tool surface as well as in ProcessTurn.
func FilterTools(tools []mcp.Tool) []mcp.Tool {
	filtered := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if t.Name != "sub_agent" {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// SystemPrompt assembles the delegate's system prompt from the shared base
// plus any project agent instructions.
func SystemPrompt() string {
	parts := []string{
		llm.SubAgentBasePrompt(),
		llm.SubAgentPrompt(),
	}
	if instructions := llm.LoadAgentInstructions(); instructions != "" {
		parts = append(parts, instructions)
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n---\n\n"))
}
