// Package tools implements the tool registry, JSON-schema input validation,
// the permission manager, and plan-mode gating (C2).
package tools

import (
	"context"
	"fmt"
	"sync"
)

// Definition describes one registered tool: its name, human description,
// JSON-schema input shape, and the executor invoked once input validates.
type Definition struct {
	Name        string
	Description string
	Schema      map[string]any // JSON-schema document, object-typed
	Executor    Executor
}

// Executor runs a tool call and returns its result text and error flag.
type Executor func(ctx context.Context, ectx ExecContext, input map[string]any) (content string, isError bool)

// ExecContext carries what a tool executor receives from its caller: the
// current REPL mode, the working directory, and the conversation id. It
// holds no conversation snapshot, plan storage or local-generator handle.
type ExecContext struct {
	Mode           Mode
	WorkingDir     string
	ConversationID string
}

// Mode is the REPL's current restriction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModePlanning
	ModeExecuting
)

// inspectionTools is the fixed set of tools permitted while in Planning
// mode, per spec §4.2.
var inspectionTools = map[string]bool{
	"read":            true,
	"glob":            true,
	"grep":            true,
	"web_fetch":       true,
	"AskUserQuestion": true,
	"PresentPlan":     true,
	"EnterPlanMode":   true,
}

// Registry holds the immutable-after-startup set of tool definitions plus
// the permission manager guarding their execution.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	perms *PermissionManager
}

// NewRegistry returns an empty registry backed by the given permission
// manager.
func NewRegistry(perms *PermissionManager) *Registry {
	return &Registry{defs: make(map[string]Definition), perms: perms}
}

// Register adds a tool definition. Intended to be called only during
// startup wiring, before any queries are dispatched.
func (r *Registry) Register(d Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[d.Name] = d
}

// Lookup returns the definition for name, if registered.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// All returns every registered definition, for listing (e.g. /mcp tools).
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// PlanModeBlocked reports whether name is disallowed while the REPL is in
// Planning mode (testable property 17 / E3).
func PlanModeBlocked(mode Mode, name string) bool {
	if mode != ModePlanning {
		return false
	}
	return !inspectionTools[name]
}

// Call validates input against the tool's schema, checks plan-mode gating
// and the permission manager, then executes. It never invokes Executor when
// gating or validation fails — no subprocess or filesystem access occurs.
func (r *Registry) Call(ctx context.Context, name, toolUseID string, ectx ExecContext, input map[string]any) (content string, isError bool) {
	def, ok := r.Lookup(name)
	if !ok {
		return fmt.Sprintf("unknown tool %q", name), true
	}

	if PlanModeBlocked(ectx.Mode, name) {
		return fmt.Sprintf("blocked in plan mode: %q is not an inspection tool", name), true
	}

	if def.Schema != nil {
		if err := ValidateInput(def.Schema, input); err != nil {
			return fmt.Sprintf("schema error: %v", err), true
		}
	}

	decision := r.perms.Decide(name, input, ectx.WorkingDir)
	switch decision {
	case Deny:
		return fmt.Sprintf("permission denied for tool %q", name), true
	case Ask:
		resolved, ok := r.perms.AwaitApproval(ctx, name, input)
		if !ok {
			return "[action timed out or unavailable]", true
		}
		if resolved == Deny {
			return fmt.Sprintf("permission denied for tool %q", name), true
		}
	}

	return def.Executor(ctx, ectx, input)
}
