// Package brain implements the speculative background context gatherer
// (C6): a read-only sub-agent spawned while the user is still composing a
// query, whose summary lands in a shared context slot unless the session
// was cancelled first.
package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/darwin-finch/finch/internal/orchestrator"
	"github.com/darwin-finch/finch/internal/provider"
	"github.com/darwin-finch/finch/internal/tools"
)

// MaxTurns bounds the brain's tool loop (§4.6: at most 6 tool turns).
const MaxTurns = 6

// ReplyTimeout is how long the brain waits for an ask_user_question answer
// before substituting "[no answer]".
const ReplyTimeout = 30 * time.Second

// allowedTools is the read-only subset the brain's system prompt grants.
var allowedTools = map[string]bool{
	"read":              true,
	"glob":              true,
	"grep":              true,
	"ask_user_question": true,
}

// ContextSlot is the writable slot a finished brain session deposits its
// summary into. The orchestrator reads it when building the next query's
// context; a newer session clears it before starting.
type ContextSlot struct {
	mu      sync.Mutex
	summary string
}

// Set stores a summary.
func (s *ContextSlot) Set(v string) {
	s.mu.Lock()
	s.summary = v
	s.mu.Unlock()
}

// Get returns the current summary.
func (s *ContextSlot) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Clear empties the slot.
func (s *ContextSlot) Clear() {
	s.Set("")
}

// Options wires one brain session.
type Options struct {
	Stream   orchestrator.Streamer
	Registry *tools.Registry
	// Events receives BrainQuestion when the model calls
	// ask_user_question; the REPL loop renders it as a dialog.
	Events chan<- orchestrator.Event
	Slot   *ContextSlot
	// PartialInput is whatever the user has typed so far.
	PartialInput string
	WorkingDir   string
	// ReplyTimeout overrides the ask_user_question wait; zero uses
	// ReplyTimeout.
	ReplyTimeout time.Duration
}

// Session is one cancellable speculative run.
type Session struct {
	opts      Options
	cancelled atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSession prepares a session; Start launches it.
func NewSession(opts Options) *Session {
	return &Session{opts: opts, done: make(chan struct{})}
}

// Start runs the session on a background goroutine.
func (s *Session) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		defer close(s.done)
		s.run(ctx)
	}()
}

// Cancel is idempotent. Ordering matters: the cancelled flag is set BEFORE
// the context is fired, and the write-to-slot step rechecks the flag, so a
// session finishing at the same instant as cancellation can never overwrite
// context that belongs to a newer session (§4.6, E5).
func (s *Session) Cancel() {
	s.cancelled.Store(true)
	if s.cancel != nil {
		s.cancel()
	}
}

// Done closes when the background goroutine has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// run is the bounded tool loop. On LLM finish, the summary is written into
// the shared slot — unless the session was cancelled in the meantime.
func (s *Session) run(ctx context.Context) {
	msgs := []provider.Message{
		{Role: "system", Content: systemPrompt(s.opts.WorkingDir)},
		{Role: "user", Content: "The user is composing this request: " + s.opts.PartialInput},
	}

	provTools := s.providerTools()

	for turn := 0; turn < MaxTurns; turn++ {
		if ctx.Err() != nil {
			return
		}

		resp, err := s.collect(ctx, msgs, provTools)
		if err != nil {
			log.Debug().Err(err).Msg("brain: stream failed")
			return
		}

		if len(resp.ToolCalls) == 0 {
			s.writeSummary(resp.Content)
			return
		}

		msgs = append(msgs, provider.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			result := s.execute(ctx, call)
			msgs = append(msgs, provider.Message{Role: "tool", Content: result, ToolCallID: call.ID})
		}
	}

	// Turn budget exhausted without a final text: nothing worth keeping.
}

// writeSummary deposits the summary unless cancellation won the race. The
// atomic load gives the acquire ordering the check-before-write demands.
func (s *Session) writeSummary(summary string) {
	if s.cancelled.Load() {
		return
	}
	if s.opts.Slot != nil {
		s.opts.Slot.Set(summary)
	}
}

// execute runs one tool call under the brain's restrictions.
func (s *Session) execute(ctx context.Context, call provider.ToolCall) string {
	if !allowedTools[call.Name] {
		return fmt.Sprintf("tool %q is not available to the background context agent", call.Name)
	}

	var input map[string]any
	if len(call.Arguments) > 0 {
		_ = json.Unmarshal(call.Arguments, &input)
	}

	if call.Name == "ask_user_question" {
		return s.askUser(ctx, input)
	}

	content, isErr := s.opts.Registry.Call(ctx, call.Name, call.ID, tools.ExecContext{
		Mode:       tools.ModeNormal,
		WorkingDir: s.opts.WorkingDir,
	}, input)
	if isErr {
		return "error: " + content
	}
	return content
}

// askUser raises a BrainQuestion REPL event and waits for the one-shot
// reply, up to the reply timeout.
func (s *Session) askUser(ctx context.Context, input map[string]any) string {
	question, _ := input["question"].(string)
	var options []string
	if raw, ok := input["options"].([]any); ok {
		for _, o := range raw {
			if str, ok := o.(string); ok {
				options = append(options, str)
			}
		}
	}

	reply := make(chan string, 1)
	evt := orchestrator.BrainQuestion{Question: question, Options: options, Reply: reply}
	select {
	case s.opts.Events <- evt:
	case <-ctx.Done():
		return "[no answer]"
	}

	timeout := s.opts.ReplyTimeout
	if timeout <= 0 {
		timeout = ReplyTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case answer := <-reply:
		return answer
	case <-timer.C:
		return "[no answer]"
	case <-ctx.Done():
		return "[no answer]"
	}
}

// collect consumes one provider stream into a flat response.
func (s *Session) collect(ctx context.Context, msgs []provider.Message, provTools []provider.Tool) (*provider.ChatResponse, error) {
	ch, err := s.opts.Stream.ChatStream(ctx, msgs, provTools)
	if err != nil {
		return nil, err
	}
	var resp provider.ChatResponse
	calls := map[int]*provider.ToolCall{}
	var order []int
	for evt := range ch {
		switch evt.Type {
		case provider.EventContentDelta:
			resp.Content += evt.Content
		case provider.EventToolCallBegin:
			calls[evt.ToolCallIndex] = &provider.ToolCall{ID: evt.ToolCallID, Name: evt.ToolCallName}
			order = append(order, evt.ToolCallIndex)
		case provider.EventToolCallDelta:
			if c, ok := calls[evt.ToolCallIndex]; ok {
				c.Arguments = append(c.Arguments, []byte(evt.ToolCallArgs)...)
			}
		case provider.EventError:
			return nil, evt.Err
		}
	}
	for _, idx := range order {
		c := calls[idx]
		if c.ID == "" {
			c.ID = tools.NewToolUseID()
		}
		resp.ToolCalls = append(resp.ToolCalls, *c)
	}
	return &resp, nil
}

// providerTools exposes only the allowed subset to the model.
func (s *Session) providerTools() []provider.Tool {
	var out []provider.Tool
	for _, d := range s.opts.Registry.All() {
		if !allowedTools[d.Name] {
			continue
		}
		schema, _ := json.Marshal(d.Schema)
		out = append(out, provider.Tool{Name: d.Name, Description: d.Description, Parameters: schema})
	}
	// ask_user_question is always available even without a registry entry.
	if !hasTool(out, "ask_user_question") {
		out = append(out, provider.Tool{
			Name:        "ask_user_question",
			Description: "Ask the user one clarifying question with up to four options.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"question":{"type":"string"},"options":{"type":"array","items":{"type":"string"}}},"required":["question"]}`),
		})
	}
	return out
}

func hasTool(ts []provider.Tool, name string) bool {
	for _, t := range ts {
		if t.Name == name {
			return true
		}
	}
	return false
}

func systemPrompt(cwd string) string {
	var b strings.Builder
	b.WriteString("You are a background context gatherer for a coding assistant. ")
	b.WriteString("While the user finishes typing, quietly collect context that will help answer them. ")
	b.WriteString("You may ONLY use these tools: read, glob, grep, ask_user_question. ")
	b.WriteString("Finish within a handful of tool calls and reply with a concise summary of what you found.")
	if cwd != "" {
		b.WriteString(" Working directory: ")
		b.WriteString(cwd)
	}
	return b.String()
}
