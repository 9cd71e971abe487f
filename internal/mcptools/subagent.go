package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/darwin-finch/finch/internal/delta"
	"github.com/darwin-finch/finch/internal/lsp"
	"github.com/darwin-finch/finch/internal/mcp"
	"github.com/darwin-finch/finch/internal/provider"
	"github.com/darwin-finch/finch/internal/shell"
	"github.com/darwin-finch/finch/internal/store"
	"github.com/darwin-finch/finch/internal/subagent"
)

// SubAgentArgs are the sub_agent tool inputs.
type SubAgentArgs struct {
	Prompt        string `json:"prompt"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// NewSubAgentTool creates the sub_agent tool definition.
func NewSubAgentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "sub_agent",
		Description: `Spawn a sub-agent to handle a focused task. The sub-agent runs with the same tools but cannot spawn further sub-agents. Use this to decompose complex tasks into smaller, manageable pieces. The sub-agent's work is returned as a summary.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prompt":         {"type": "string", "description": "Task description for the sub-agent. Be specific about what needs to be accomplished and the expected output format."},
				"max_iterations": {"type": "integer", "description": "Maximum tool rounds for the sub-agent (default: 5)"}
			},
			"required": ["prompt"]
		}`),
	}
}

// SubAgentHandler builds an isolated tool environment per delegate run —
// fresh read tracker, own scratchpad, no nested sub_agent — and hands the
// task to the subagent runner.
type SubAgentHandler struct {
	provider     provider.Provider
	lspManager   *lsp.Manager
	deltaTracker *delta.Tracker
	sh           *shell.Shell
	webCache     *store.Cache
	exaKey       string
	allTools     []mcp.Tool
}

// NewSubAgentHandler wires the handler. The provider and shell are
// required; everything else degrades gracefully when nil.
func NewSubAgentHandler(
	prov provider.Provider,
	lspManager *lsp.Manager,
	deltaTracker *delta.Tracker,
	sh *shell.Shell,
	webCache *store.Cache,
	exaKey string,
	allTools []mcp.Tool,
) *SubAgentHandler {
	if prov == nil {
		panic("SubAgentHandler: provider cannot be nil")
	}
	if sh == nil {
		panic("SubAgentHandler: shell cannot be nil")
	}
	return &SubAgentHandler{
		provider:     prov,
		lspManager:   lspManager,
		deltaTracker: deltaTracker,
		sh:           sh,
		webCache:     webCache,
		exaKey:       exaKey,
		allTools:     allTools,
	}
}

// Handle implements mcp.ToolHandler.
func (h *SubAgentHandler) Handle(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args SubAgentArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}

	tools := subagent.FilterTools(h.allTools)
	res, err := subagent.Run(ctx, subagent.Options{
		Provider:      h.provider,
		Proxy:         h.isolatedProxy(tools),
		Tools:         tools,
		Prompt:        args.Prompt,
		MaxIterations: args.MaxIterations,
	})
	if err != nil {
		return toolError("%v", err), nil
	}

	return toolText(fmt.Sprintf("Sub-agent completed.\n\n%s\n\n---\nToken usage: %d in, %d out",
		res.Content, res.InputTokens, res.OutputTokens)), nil
}

// isolatedProxy registers fresh handlers for the delegate: its own read
// tracker (it must read files itself before editing them) and its own
// scratchpad, sharing the session's shell, delta tracker, and caches.
func (h *SubAgentHandler) isolatedProxy(tools []mcp.Tool) *mcp.Proxy {
	tracker := NewFileReadTracker()
	readHandler := NewReadHandler(tracker, h.lspManager)
	editHandler := NewEditHandler(tracker, h.lspManager, h.deltaTracker)

	proxy := mcp.NewProxy(nil)
	for _, tool := range tools {
		switch tool.Name {
		case "read":
			proxy.RegisterTool(tool, readHandler.Handle)
		case "edit":
			proxy.RegisterTool(tool, editHandler.Handle)
		case "multi_edit":
			proxy.RegisterTool(tool, NewMultiEditHandler(editHandler).Handle)
		case "write":
			proxy.RegisterTool(tool, NewWriteHandler(tracker, h.lspManager, h.deltaTracker).Handle)
		case "bash":
			proxy.RegisterTool(tool, NewShellHandler(h.sh, h.deltaTracker).Handle)
		case "grep":
			proxy.RegisterTool(tool, MakeGrepHandler())
		case "glob":
			proxy.RegisterTool(tool, MakeGlobHandler())
		case "git_status":
			proxy.RegisterTool(tool, MakeGitStatusHandler())
		case "git_diff":
			proxy.RegisterTool(tool, MakeGitDiffHandler())
		case "todo_write":
			proxy.RegisterTool(tool, MakeTodoWriteHandler(&Scratchpad{}))
		case "web_fetch":
			proxy.RegisterTool(tool, MakeWebFetchHandler(h.webCache))
		case "web_search":
			proxy.RegisterTool(tool, MakeWebSearchHandler(h.webCache, h.exaKey, ""))
		}
	}
	return proxy
}
