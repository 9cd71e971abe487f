package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/darwin-finch/finch/internal/conversation"
	"github.com/darwin-finch/finch/internal/provider"
	"github.com/darwin-finch/finch/internal/router"
	"github.com/darwin-finch/finch/internal/tools"
)

// MaxToolIterations caps the assistant/tool round-trips a single user
// submission may spawn (§4.5). The headless agent uses its own, lower cap.
const MaxToolIterations = 100

// Streamer is the slice of the provider surface the orchestrator needs.
// Both a single provider.Provider and a *provider.Chain satisfy it.
type Streamer interface {
	ChatStream(ctx context.Context, messages []provider.Message, tools []provider.Tool) (<-chan provider.StreamEvent, error)
}

// Persister receives every appended conversation message for durable
// session storage. Appends happen off the UI loop; implementations take
// their own locks.
type Persister interface {
	AppendConversationMessage(sessionID string, msg conversation.Message) error
}

// SessionToucher marks session activity; *session.Registry satisfies it.
type SessionToucher interface {
	Touch(id string)
}

// Options wires an Orchestrator's collaborators.
type Options struct {
	Stream       Streamer
	Registry     *tools.Registry
	Router       *router.Router
	ModelName    string
	WorkingDir   string
	SessionID    string
	SystemPrompt string
	// Local, if set, is the local generator's stream, used when the
	// router decides Local and the generator is Ready.
	Local Streamer
	// LocalReady reports local-generator readiness for routing; nil means
	// never ready (always Forward{ModelNotReady}).
	LocalReady func() bool
	// Feedback, if set, receives rated exchanges (§4.5 feedback capture).
	Feedback FeedbackSink
	// Persist, if set, receives every appended message for session
	// storage.
	Persist Persister
	// Sessions, if set, is touched on every submit so idle-timeout
	// accounting sees activity.
	Sessions SessionToucher
	// Resume seeds the conversation from a stored session.
	Resume []conversation.Message
}

// Orchestrator drives queries: it owns the conversation store, the query
// registry, and the WorkUnits, and emits events the UI loop consumes.
type Orchestrator struct {
	mu   sync.Mutex
	conv *conversation.Store
	mode tools.Mode

	opts    Options
	queries *queryRegistry
	units   map[string]*WorkUnit

	events chan Event

	activeID     string
	activeCancel context.CancelFunc

	wg sync.WaitGroup
}

// New constructs an orchestrator, seeding the conversation from
// opts.Resume when a session is being continued.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		conv:    conversation.New(),
		opts:    opts,
		queries: newQueryRegistry(),
		units:   make(map[string]*WorkUnit),
		events:  make(chan Event, 64),
	}
	for _, msg := range opts.Resume {
		if err := o.conv.Append(msg); err != nil {
			log.Warn().Err(err).Msg("skipping unloadable resumed message")
		}
	}
	return o
}

// Events is the channel the UI loop selects on.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// SetMode switches the REPL restriction mode (Normal/Planning/Executing).
func (o *Orchestrator) SetMode(m tools.Mode) {
	o.mu.Lock()
	o.mode = m
	o.mu.Unlock()
}

// Mode returns the current REPL mode.
func (o *Orchestrator) Mode() tools.Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// Conversation returns a snapshot of the message log.
func (o *Orchestrator) Conversation() []conversation.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conv.Snapshot()
}

// ReplaceConversation swaps the whole log for a single user message, used
// when an approved plan becomes the new context (§4.7 step 6).
func (o *Orchestrator) ReplaceConversation(userText string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conv = conversation.New()
	_ = o.conv.Append(conversation.Message{
		Role:    conversation.RoleUser,
		Content: []conversation.ContentBlock{conversation.TextBlock(userText)},
	})
}

// CompactionPercentRemaining exposes the conversation's remaining token
// headroom against budget, for the UI's compaction gauge.
func (o *Orchestrator) CompactionPercentRemaining(budget int) float64 {
	o.mu.Lock()
	used := conversation.EstimateConversationTokens(o.conv.Snapshot())
	o.mu.Unlock()
	return conversation.CompactionPercentRemaining(used, budget)
}

// WorkUnit returns the unit for queryID, if still retained.
func (o *Orchestrator) WorkUnit(queryID string) (*WorkUnit, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	u, ok := o.units[queryID]
	return u, ok
}

// Query returns the query record for id, if still retained.
func (o *Orchestrator) Query(id string) (*Query, bool) {
	return o.queries.get(id)
}

// Tools lists the registered tool definitions (for /mcp tools).
func (o *Orchestrator) Tools() []tools.Definition {
	return o.opts.Registry.All()
}

// Stream exposes the cloud stream for collaborators that issue their own
// plain completions (the plan loop).
func (o *Orchestrator) Stream() Streamer {
	return o.opts.Stream
}

// CleanupTick drops queries (and their units) that have been terminal for
// longer than the retention window. Wire it to the loop's 30s tick.
func (o *Orchestrator) CleanupTick(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries.mu.Lock()
	for id, q := range o.queries.queries {
		if q.State.Terminal() && now.Sub(q.finishedAt) >= queryRetention {
			delete(o.queries.queries, id)
			delete(o.units, id)
		}
	}
	o.queries.mu.Unlock()
}

// Submit starts a query for one user input line. It appends the user
// message, asks the router for a generator choice, and runs the
// stream/tool loop on a background goroutine. Inputs are processed FIFO by
// virtue of the caller (the UI loop) submitting one at a time.
func (o *Orchestrator) Submit(ctx context.Context, input string) (*Query, error) {
	return o.SubmitWith(ctx, input, nil)
}

// SubmitWith additionally attaches pasted images to the user message.
func (o *Orchestrator) SubmitWith(ctx context.Context, input string, images []conversation.ImageRef) (*Query, error) {
	msg := conversation.Message{
		Role:    conversation.RoleUser,
		Content: []conversation.ContentBlock{conversation.TextBlock(input)},
		Images:  images,
	}
	o.mu.Lock()
	err := o.conv.Append(msg)
	o.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: append user message: %w", err)
	}
	o.persist(msg)

	if o.opts.Sessions != nil {
		o.opts.Sessions.Touch(o.opts.SessionID)
	}

	// Generator choice (C9): local when the router says so and a local
	// stream is wired and Ready; everything else forwards to the cloud
	// chain.
	stream := o.opts.Stream
	usedLocal := false
	if o.opts.Router != nil {
		ready := o.opts.LocalReady != nil && o.opts.LocalReady()
		decision := o.opts.Router.RouteWithGeneratorCheck(input, ready)
		if decision.Local && o.opts.Local != nil {
			stream = o.opts.Local
			usedLocal = true
		} else {
			o.opts.Router.LearnForwarded()
		}
		log.Debug().Bool("local", decision.Local).Str("reason", string(decision.Reason)).Msg("routed query")
	}

	q := o.queries.create(input)
	unit := NewWorkUnit(q.ID)

	qctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.units[q.ID] = unit
	o.activeID = q.ID
	o.activeCancel = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.runQuery(qctx, q, unit, stream)
		if usedLocal && o.opts.Router != nil {
			o.opts.Router.LearnLocalAttempt(q.State == QueryCompleted)
		}
	}()
	return q, nil
}

// persist hands a freshly appended message to the session store, if one is
// wired.
func (o *Orchestrator) persist(msg conversation.Message) {
	if o.opts.Persist == nil {
		return
	}
	if err := o.opts.Persist.AppendConversationMessage(o.opts.SessionID, msg); err != nil {
		log.Warn().Err(err).Msg("persisting conversation message failed")
	}
}

// Cancel aborts the active query, if any. In-flight tool tasks run to
// completion but their results are discarded (§4.5 step 7).
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	id := o.activeID
	cancel := o.activeCancel
	o.activeID = ""
	o.activeCancel = nil
	o.mu.Unlock()

	if id == "" {
		return false
	}
	q, ok := o.queries.get(id)
	if ok && o.queries.setState(q, QueryCancelled, "cancelled by user") {
		if u, ok := o.WorkUnit(id); ok {
			u.Finalize(WorkFailed)
		}
	}
	if cancel != nil {
		cancel()
	}
	return true
}

// Wait blocks until all in-flight query goroutines return. Test helper and
// shutdown path.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// runQuery is the per-submission engine: stream, dispatch tools, gather,
// re-dispatch, until final text or a terminal condition.
func (o *Orchestrator) runQuery(ctx context.Context, q *Query, unit *WorkUnit, stream Streamer) {
	started := time.Now()

	for iteration := 0; iteration < MaxToolIterations; iteration++ {
		o.queries.setState(q, QueryStreaming, "")

		resp, err := o.streamOnce(ctx, unit, stream)
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled mid-stream: Cancel() already set the state.
				return
			}
			o.fail(q, unit, err.Error())
			return
		}
		if ctx.Err() != nil {
			// Cancelled while streaming: the collected text is discarded.
			return
		}

		o.appendAssistant(resp)

		if len(resp.ToolCalls) == 0 {
			if o.queries.setState(q, QueryCompleted, "") {
				unit.Finalize(WorkComplete)
				o.emit(QueryComplete{QueryID: q.ID, Text: resp.Content})
				o.emit(StatsUpdate{
					Model:        o.opts.ModelName,
					InputTokens:  resp.InputTokens,
					OutputTokens: resp.OutputTokens,
					LatencyMS:    time.Since(started).Milliseconds(),
				})
			}
			return
		}

		o.emit(StreamingComplete{QueryID: q.ID})
		o.queries.setState(q, QueryExecutingTools, "")

		results := o.dispatchTools(ctx, q, unit, resp.ToolCalls)
		if ctx.Err() != nil {
			// Cancelled while tools were in flight: results are discarded.
			return
		}

		if err := o.appendToolResults(results); err != nil {
			o.fail(q, unit, err.Error())
			return
		}
	}

	o.fail(q, unit, "Max tool iterations reached")
}

// collected is the assembled outcome of one provider stream.
type collected struct {
	Content      string
	ToolCalls    []provider.ToolCall
	InputTokens  int
	OutputTokens int
}

// streamOnce issues one provider call and consumes its stream, animating
// the WorkUnit as deltas arrive. A stream error is terminal for the query —
// fallback, if any, already happened inside the provider chain before the
// first delta.
func (o *Orchestrator) streamOnce(ctx context.Context, unit *WorkUnit, stream Streamer) (*collected, error) {
	o.mu.Lock()
	msgs := toProviderMessages(o.conv.Snapshot())
	o.mu.Unlock()
	if o.opts.SystemPrompt != "" {
		msgs = append([]provider.Message{{Role: "system", Content: o.opts.SystemPrompt}}, msgs...)
	}

	defs := o.opts.Registry.All()
	provTools := make([]provider.Tool, 0, len(defs))
	for _, d := range defs {
		schema, _ := json.Marshal(d.Schema)
		provTools = append(provTools, provider.Tool{Name: d.Name, Description: d.Description, Parameters: schema})
	}

	ch, err := stream.ChatStream(ctx, msgs, provTools)
	if err != nil {
		return nil, fmt.Errorf("stream failed: %w", err)
	}

	var out collected
	calls := map[int]*provider.ToolCall{}
	var order []int
	for evt := range ch {
		switch evt.Type {
		case provider.EventContentDelta:
			out.Content += evt.Content
			unit.AppendResponse(evt.Content, len(strings.Fields(evt.Content)))
		case provider.EventReasoningDelta:
			// Reasoning animates the throb but is not part of the response.
		case provider.EventToolCallBegin:
			calls[evt.ToolCallIndex] = &provider.ToolCall{ID: evt.ToolCallID, Name: evt.ToolCallName}
			order = append(order, evt.ToolCallIndex)
		case provider.EventToolCallDelta:
			if c, ok := calls[evt.ToolCallIndex]; ok {
				c.Arguments = append(c.Arguments, []byte(evt.ToolCallArgs)...)
			}
		case provider.EventUsage:
			if evt.InputTokens > out.InputTokens {
				out.InputTokens = evt.InputTokens
			}
			if evt.OutputTokens > out.OutputTokens {
				out.OutputTokens = evt.OutputTokens
			}
		case provider.EventError:
			return nil, evt.Err
		case provider.EventDone:
		}
	}

	sort.Ints(order)
	seen := map[int]bool{}
	for _, idx := range order {
		if seen[idx] {
			continue
		}
		seen[idx] = true
		c := calls[idx]
		if c.ID == "" {
			c.ID = tools.NewToolUseID()
		}
		out.ToolCalls = append(out.ToolCalls, *c)
	}
	return &out, nil
}

// toolOutcome pairs a ToolUse id with its execution result.
type toolOutcome struct {
	id      string
	content string
	isError bool
}

// dispatchTools runs every tool call for one assistant turn concurrently
// and gathers all results before returning (§5 ordering: results may land
// out of order, but all are collected before the next re-dispatch).
func (o *Orchestrator) dispatchTools(ctx context.Context, q *Query, unit *WorkUnit, calls []provider.ToolCall) []toolOutcome {
	mode := o.Mode()
	results := make([]toolOutcome, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		var input map[string]any
		if len(call.Arguments) > 0 {
			_ = json.Unmarshal(call.Arguments, &input)
		}

		row := unit.AddRow(toolLabel(call.Name, input))

		if tools.PlanModeBlocked(mode, call.Name) {
			reason := fmt.Sprintf("blocked in plan mode: %q is not an inspection tool", call.Name)
			unit.FailRow(row, "blocked in plan mode")
			results[i] = toolOutcome{id: call.ID, content: reason, isError: true}
			o.emit(ToolResultEvent{QueryID: q.ID, ToolUseID: call.ID, Content: reason, IsError: true})
			continue
		}

		wg.Add(1)
		go func(i, row int, call provider.ToolCall, input map[string]any) {
			defer wg.Done()
			content, isErr := o.opts.Registry.Call(ctx, call.Name, call.ID, tools.ExecContext{
				Mode:       mode,
				WorkingDir: o.opts.WorkingDir,
			}, input)
			results[i] = toolOutcome{id: call.ID, content: content, isError: isErr}
			if isErr {
				unit.FailRow(row, compactSummary(content))
			} else {
				unit.CompleteRow(row, compactSummary(content))
			}
			o.emit(ToolResultEvent{QueryID: q.ID, ToolUseID: call.ID, Content: content, IsError: isErr})
		}(i, row, call, input)
	}

	wg.Wait()
	return results
}

// appendAssistant records one assistant turn: text first, then every
// tool-use block, in the order the provider emitted them.
func (o *Orchestrator) appendAssistant(resp *collected) {
	blocks := []conversation.ContentBlock{}
	if resp.Content != "" {
		blocks = append(blocks, conversation.TextBlock(resp.Content))
	}
	for _, call := range resp.ToolCalls {
		var input any
		_ = json.Unmarshal(call.Arguments, &input)
		blocks = append(blocks, conversation.ToolUseBlock(call.ID, call.Name, input))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, conversation.TextBlock(""))
	}

	msg := conversation.Message{Role: conversation.RoleAssistant, Content: blocks}
	o.mu.Lock()
	err := o.conv.Append(msg)
	o.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Msg("append assistant message failed")
		return
	}
	o.persist(msg)
}

// appendToolResults records the synthetic user message carrying one
// ToolResult block per tool call of the previous turn.
func (o *Orchestrator) appendToolResults(results []toolOutcome) error {
	blocks := make([]conversation.ContentBlock, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, conversation.ToolResultBlock(r.id, r.content, r.isError))
	}
	msg := conversation.Message{Role: conversation.RoleUser, Content: blocks}
	o.mu.Lock()
	err := o.conv.Append(msg)
	o.mu.Unlock()
	if err != nil {
		return fmt.Errorf("append tool results: %w", err)
	}
	o.persist(msg)
	return nil
}

func (o *Orchestrator) fail(q *Query, unit *WorkUnit, reason string) {
	if o.queries.setState(q, QueryFailedState, reason) {
		unit.Finalize(WorkFailed)
		o.emit(QueryFailed{QueryID: q.ID, Reason: reason})
	}
}

// emit posts an event without ever blocking the query goroutine; if the UI
// loop has fallen 64 events behind, the oldest advisory event is dropped.
func (o *Orchestrator) emit(e Event) {
	select {
	case o.events <- e:
	default:
		select {
		case <-o.events:
		default:
		}
		select {
		case o.events <- e:
		default:
		}
	}
}

// toolLabel renders a sub-row label like `glob(**/*.rs)`: the tool name
// plus its most significant argument value.
func toolLabel(name string, input map[string]any) string {
	if len(input) == 0 {
		return name + "()"
	}
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	// Prefer the conventional primary keys before falling back to the
	// first key alphabetically.
	for _, k := range []string{"pattern", "path", "file_path", "command", "url", "query"} {
		if v, ok := input[k]; ok {
			return fmt.Sprintf("%s(%v)", name, v)
		}
	}
	return fmt.Sprintf("%s(%v)", name, input[keys[0]])
}

// compactSummary trims a tool result to a single sub-row summary: one line
// capped at 60 chars, or "N lines" for multi-line output. The UI displays
// the Summary stored here; tui.CompactSummary has the same shape but no
// caller outside its test.
func compactSummary(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 1 {
		return fmt.Sprintf("%d lines", len(lines))
	}
	if len(lines[0]) <= 60 {
		return lines[0]
	}
	return lines[0][:57] + "…"
}

// toProviderMessages flattens block-structured conversation messages into
// the wire shape providers accept: user text, assistant text with tool
// calls, and one role-"tool" message per tool result.
func toProviderMessages(msgs []conversation.Message) []provider.Message {
	var out []provider.Message
	for _, m := range msgs {
		switch m.Role {
		case conversation.RoleUser:
			var text string
			var toolMsgs []provider.Message
			for _, b := range m.Content {
				switch b.Type {
				case conversation.BlockText:
					text += b.Text
				case conversation.BlockToolResult:
					toolMsgs = append(toolMsgs, provider.Message{
						Role:       "tool",
						Content:    b.ToolResultText,
						ToolCallID: b.ToolResultForID,
					})
				}
			}
			if text != "" {
				um := provider.Message{Role: "user", Content: text}
				for _, img := range m.Images {
					um.Images = append(um.Images, provider.ImageAttachment{MediaType: img.MediaType, Data: img.Data})
				}
				out = append(out, um)
			}
			out = append(out, toolMsgs...)
		case conversation.RoleAssistant:
			msg := provider.Message{Role: "assistant"}
			for _, b := range m.Content {
				switch b.Type {
				case conversation.BlockText:
					msg.Content += b.Text
				case conversation.BlockToolUse:
					args, _ := json.Marshal(b.ToolInput)
					msg.ToolCalls = append(msg.ToolCalls, provider.ToolCall{
						ID:        b.ToolUseID,
						Name:      b.ToolName,
						Arguments: args,
					})
				}
			}
			out = append(out, msg)
		case conversation.RoleTool:
			for _, b := range m.Content {
				if b.Type == conversation.BlockToolResult {
					out = append(out, provider.Message{
						Role:       "tool",
						Content:    b.ToolResultText,
						ToolCallID: b.ToolResultForID,
					})
				}
			}
		}
	}
	return out
}
