// Package llm implements the headless tool-calling turn loop used by the
// autonomous agent and sub-agents, plus system prompt assembly. The
// interactive REPL runs through internal/orchestrator instead, which
// enforces the 100-iteration interactive cap and its failure message.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/darwin-finch/finch/internal/mcp"
	"github.com/darwin-finch/finch/internal/provider"
	"github.com/darwin-finch/finch/internal/tools"
)

// MaxDepth caps sub-agent recursion (matches subagent.MaxSubAgentDepth;
// kept local to avoid an import cycle).
const MaxDepth = 1

// headlessDefaultRounds is the per-task tool budget when the caller names
// none: 25, a quarter of the interactive cap, since no user is watching for a
// runaway loop (§4.8).
const headlessDefaultRounds = 25

// Callback types the loop reports through.
type (
	// MessageCallback receives each completed message for history.
	MessageCallback func(msg provider.Message)
	// DeltaCallback receives raw stream events.
	DeltaCallback func(evt provider.StreamEvent)
	// ToolCallCallback fires before a batch of tool calls executes.
	ToolCallCallback func()
	// UsageCallback receives token usage after each provider call.
	UsageCallback func(inputTokens, outputTokens int)
)

// ScratchpadReader exposes the agent's working plan for recitation.
type ScratchpadReader interface {
	Content() string
}

// ProcessTurnOptions configures one headless turn.
type ProcessTurnOptions struct {
	Provider      provider.Provider
	Proxy         *mcp.Proxy
	Tools         []mcp.Tool
	History       []provider.Message
	OnMessage     MessageCallback
	OnDelta       DeltaCallback
	OnToolCall    ToolCallCallback
	OnUsage       UsageCallback
	Scratchpad    ScratchpadReader
	MaxToolRounds int
	Depth         int // 0 = root, 1 = sub-agent

	// PlanMode and Perms gate tool execution. Zero values mean no gating,
	// matching the headless agent's auto-approve behavior (§4.8).
	PlanMode   tools.Mode
	Perms      *tools.PermissionManager
	WorkingDir string
}

// ProcessTurn runs one conversation turn to completion: stream, execute
// tool calls, feed results back, repeat within the round budget. On
// budget exhaustion the model gets one final text-only call to summarize
// progress — headless tasks end with a report, not a hard failure.
func ProcessTurn(ctx context.Context, opts ProcessTurnOptions) error {
	if opts.Depth > MaxDepth {
		return fmt.Errorf("max sub-agent depth exceeded: %d > %d", opts.Depth, MaxDepth)
	}
	if opts.MaxToolRounds == 0 {
		opts.MaxToolRounds = headlessDefaultRounds
	}

	providerTools := make([]provider.Tool, len(opts.Tools))
	for i, t := range opts.Tools {
		providerTools[i] = provider.Tool{Name: t.Name, Description: t.Description, Parameters: t.InputSchema}
	}

	loop := turnLoop{opts: &opts}
	for round := 0; round < opts.MaxToolRounds; round++ {
		injectRecitation(opts.History, opts.Scratchpad, round)

		resp, err := loop.streamOnce(ctx, providerTools)
		if err != nil {
			return fmt.Errorf("LLM stream failed: %w", err)
		}
		loop.appendAssistant(resp)

		if len(resp.ToolCalls) == 0 {
			return nil
		}
		if opts.OnToolCall != nil {
			opts.OnToolCall()
		}
		loop.executeCalls(ctx, resp.ToolCalls)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return loop.finalSummary(ctx)
}

// turnLoop carries the per-turn mutable state.
type turnLoop struct {
	opts   *ProcessTurnOptions
	recent []recentCall
}

type recentCall struct {
	name string
	args string
}

// streamOnce makes one provider call, retrying a single time on an empty
// response (some backends occasionally emit nothing).
func (l *turnLoop) streamOnce(ctx context.Context, providerTools []provider.Tool) (*provider.ChatResponse, error) {
	const emptyRetries = 1
	for attempt := 0; attempt <= emptyRetries; attempt++ {
		stream, err := l.opts.Provider.ChatStream(ctx, l.opts.History, providerTools)
		if err != nil {
			return nil, err
		}
		resp, err := collectStream(stream, l.opts.OnDelta)
		if err != nil {
			return nil, err
		}
		if l.opts.OnUsage != nil && (resp.InputTokens > 0 || resp.OutputTokens > 0) {
			l.opts.OnUsage(resp.InputTokens, resp.OutputTokens)
		}
		if resp.Content != "" || resp.Reasoning != "" || len(resp.ToolCalls) > 0 {
			return resp, nil
		}
		log.Warn().Str("provider", l.opts.Provider.Name()).Int("attempt", attempt+1).Msg("empty provider response")
	}
	return nil, fmt.Errorf("empty response from provider %s", l.opts.Provider.Name())
}

// appendAssistant emits and records the assistant message.
func (l *turnLoop) appendAssistant(resp *provider.ChatResponse) {
	msg := provider.Message{
		Role:         "assistant",
		Content:      resp.Content,
		Reasoning:    resp.Reasoning,
		ToolCalls:    resp.ToolCalls,
		CreatedAt:    time.Now(),
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}
	if l.opts.OnMessage != nil {
		l.opts.OnMessage(msg)
	}
	l.opts.History = append(l.opts.History, msg)
}

// executeCalls runs a turn's tool calls in order, appending their results,
// and flags exact repeats so the model breaks out of loops.
func (l *turnLoop) executeCalls(ctx context.Context, calls []provider.ToolCall) {
	var results []provider.Message
	for _, call := range calls {
		results = append(results, l.executeOne(ctx, call))
		l.recent = append(l.recent, recentCall{name: call.Name, args: string(call.Arguments)})
	}
	l.opts.History = append(l.opts.History, results...)

	if n := len(l.recent); n >= 3 && l.recent[n-1] == l.recent[n-2] && l.recent[n-2] == l.recent[n-3] {
		last := &l.opts.History[len(l.opts.History)-1]
		last.Content += "\n\n<system-reminder>WARNING: You are repeating the same tool call with the same arguments. This is wasteful. Stop and either try a different approach, summarize what you know, or ask the user for help.</system-reminder>"
	}
}

// executeOne gates and runs a single call, always producing a tool-result
// message.
func (l *turnLoop) executeOne(ctx context.Context, call provider.ToolCall) provider.Message {
	toolMsg := func(content string) provider.Message {
		msg := provider.Message{Role: "tool", Content: content, ToolCallID: call.ID, CreatedAt: time.Now()}
		if l.opts.OnMessage != nil {
			l.opts.OnMessage(msg)
		}
		return msg
	}

	if blocked, reason := l.gate(ctx, call); blocked {
		return toolMsg(reason)
	}

	result, err := l.opts.Proxy.CallTool(ctx, call.Name, call.Arguments)
	if err != nil {
		return toolMsg(fmt.Sprintf("Error: %v", err))
	}
	return toolMsg(textContent(result))
}

// gate applies plan-mode and permission checks before a call reaches the
// proxy.
func (l *turnLoop) gate(ctx context.Context, call provider.ToolCall) (blocked bool, reason string) {
	if tools.PlanModeBlocked(l.opts.PlanMode, call.Name) {
		return true, fmt.Sprintf("blocked in plan mode: %q is not an inspection tool", call.Name)
	}
	if l.opts.Perms == nil {
		return false, ""
	}

	var args map[string]any
	if len(call.Arguments) > 0 {
		_ = json.Unmarshal(call.Arguments, &args)
	}
	switch l.opts.Perms.Decide(call.Name, args, l.opts.WorkingDir) {
	case tools.Deny:
		return true, fmt.Sprintf("permission denied for tool %q", call.Name)
	case tools.Ask:
		decision, ok := l.opts.Perms.AwaitApproval(ctx, call.Name, args)
		if !ok {
			return true, "[action timed out waiting for approval]"
		}
		if decision == tools.Deny {
			return true, fmt.Sprintf("permission denied for tool %q", call.Name)
		}
	}
	return false, ""
}

// finalSummary makes one tool-free call so an exhausted turn still ends
// with a progress report.
func (l *turnLoop) finalSummary(ctx context.Context) error {
	limitMsg := provider.Message{
		Role:      "user",
		Content:   "You have exhausted your tool call limit for this turn. Respond in text only. Summarize what you accomplished and what remains.",
		CreatedAt: time.Now(),
	}
	if l.opts.OnMessage != nil {
		l.opts.OnMessage(limitMsg)
	}
	l.opts.History = append(l.opts.History, limitMsg)

	resp, err := l.streamOnce(ctx, nil)
	if err != nil {
		return fmt.Errorf("final text-only LLM stream failed: %w", err)
	}
	l.appendAssistant(resp)
	return nil
}

// collectStream assembles a full ChatResponse from a stream, forwarding
// each event to onDelta.
func collectStream(ch <-chan provider.StreamEvent, onDelta DeltaCallback) (*provider.ChatResponse, error) {
	var resp provider.ChatResponse
	byIndex := map[int]int{}
	var argBufs []strings.Builder

	for evt := range ch {
		if onDelta != nil {
			onDelta(evt)
		}
		switch evt.Type {
		case provider.EventContentDelta:
			resp.Content += evt.Content
		case provider.EventReasoningDelta:
			resp.Reasoning += evt.Content
		case provider.EventToolCallBegin:
			byIndex[evt.ToolCallIndex] = len(resp.ToolCalls)
			resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{ID: evt.ToolCallID, Name: evt.ToolCallName})
			argBufs = append(argBufs, strings.Builder{})
		case provider.EventToolCallDelta:
			if pos, ok := byIndex[evt.ToolCallIndex]; ok {
				argBufs[pos].WriteString(evt.ToolCallArgs)
			}
		case provider.EventUsage:
			if evt.InputTokens > resp.InputTokens {
				resp.InputTokens = evt.InputTokens
			}
			if evt.OutputTokens > resp.OutputTokens {
				resp.OutputTokens = evt.OutputTokens
			}
		case provider.EventError:
			return nil, evt.Err
		case provider.EventDone:
		}
	}

	for i := range resp.ToolCalls {
		resp.ToolCalls[i].Arguments = json.RawMessage(argBufs[i].String())
	}
	return &resp, nil
}

// reminderInterval is the number of tool rounds between recitations.
const reminderInterval = 10

// injectRecitation appends a <system-reminder> block to the most recent
// tool result so long loops keep the goal (or the agent's own plan) in the
// model's recent attention window. Appending to an existing message keeps
// message positions stable for provider-side prompt caching.
func injectRecitation(history []provider.Message, pad ScratchpadReader, round int) {
	if round == 0 || round%reminderInterval != 0 {
		return
	}

	var reminder string
	if pad != nil {
		reminder = pad.Content()
	}
	if reminder == "" {
		for _, m := range history {
			if m.Role == "user" {
				reminder = "The user's request: " + m.Content
				break
			}
		}
	}
	if reminder == "" {
		return
	}

	const tag = "\n\n<system-reminder>\n"
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != "tool" {
			continue
		}
		if idx := strings.Index(history[i].Content, tag); idx >= 0 {
			history[i].Content = history[i].Content[:idx]
		}
		history[i].Content += tag + reminder + "\n</system-reminder>"
		return
	}
}

// textContent flattens a tool result's text blocks.
func textContent(result *mcp.ToolResult) string {
	var text string
	for _, block := range result.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text
}
