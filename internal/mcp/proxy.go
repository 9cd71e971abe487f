package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ToolHandler executes one tool call.
type ToolHandler func(ctx context.Context, arguments json.RawMessage) (*ToolResult, error)

// Proxy is the tool surface the rest of Finch talks to: built-in handlers
// registered at startup, plus external stdio MCP servers whose tools land
// here under their mcp_<server>_ prefix (RegisterStdioServer). Immutable
// once wiring finishes.
type Proxy struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	handlers map[string]ToolHandler
}

// NewProxy returns an empty proxy. The upstream parameter is accepted for
// wiring-shape compatibility and ignored; every tool is registered
// explicitly.
func NewProxy(_ any) *Proxy {
	return &Proxy{
		tools:    make(map[string]Tool),
		handlers: make(map[string]ToolHandler),
	}
}

// Initialize is a no-op kept so startup wiring reads the same whether or
// not external servers are configured.
func (p *Proxy) Initialize(_ context.Context) error { return nil }

// RegisterTool adds a tool definition and its handler.
func (p *Proxy) RegisterTool(tool Tool, handler ToolHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tools[tool.Name] = tool
	p.handlers[tool.Name] = handler
}

// ListTools returns every registered tool, name-sorted so the model sees a
// stable order across turns (deterministic prompts cache better).
func (p *Proxy) ListTools(_ context.Context) ([]Tool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Tool, 0, len(p.tools))
	for _, t := range p.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CallTool dispatches one call to its handler.
func (p *Proxy) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolResult, error) {
	p.mu.RLock()
	handler, ok := p.handlers[name]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return handler(ctx, arguments)
}

// ToolCount reports how many tools are registered.
func (p *Proxy) ToolCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tools)
}

// Close releases nothing directly; stdio server clients are closed by
// their owner.
func (p *Proxy) Close() error { return nil }
