package brain

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/darwin-finch/finch/internal/orchestrator"
	"github.com/darwin-finch/finch/internal/provider"
	"github.com/darwin-finch/finch/internal/tools"
)

// scriptedStream plays back a fixed sequence of turns, one stream per
// ChatStream call.
type scriptedStream struct {
	turns   [][]provider.StreamEvent
	call    int
	release chan struct{} // when non-nil, each stream waits here before emitting
}

func (s *scriptedStream) ChatStream(ctx context.Context, _ []provider.Message, _ []provider.Tool) (<-chan provider.StreamEvent, error) {
	var turn []provider.StreamEvent
	if s.call < len(s.turns) {
		turn = s.turns[s.call]
	}
	s.call++
	ch := make(chan provider.StreamEvent, len(turn)+1)
	release := s.release
	go func() {
		defer close(ch)
		if release != nil {
			select {
			case <-release:
			case <-ctx.Done():
				return
			}
		}
		for _, evt := range turn {
			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func textTurn(text string) []provider.StreamEvent {
	return []provider.StreamEvent{
		{Type: provider.EventContentDelta, Content: text},
		{Type: provider.EventDone},
	}
}

func toolTurn(id, name, args string) []provider.StreamEvent {
	return []provider.StreamEvent{
		{Type: provider.EventToolCallBegin, ToolCallIndex: 0, ToolCallID: id, ToolCallName: name},
		{Type: provider.EventToolCallDelta, ToolCallIndex: 0, ToolCallArgs: args},
		{Type: provider.EventDone},
	}
}

func newTestRegistry() *tools.Registry {
	reg := tools.NewRegistry(tools.NewPermissionManager(true, ""))
	reg.Register(tools.Definition{
		Name: "grep",
		Executor: func(_ context.Context, _ tools.ExecContext, _ map[string]any) (string, bool) {
			return "match: main.go:10", false
		},
	})
	reg.Register(tools.Definition{
		Name: "bash",
		Executor: func(_ context.Context, _ tools.ExecContext, _ map[string]any) (string, bool) {
			return "ran", false
		},
	})
	return reg
}

func TestSummaryLandsInSlot(t *testing.T) {
	slot := &ContextSlot{}
	s := NewSession(Options{
		Stream:       &scriptedStream{turns: [][]provider.StreamEvent{textTurn("repo uses cobra for its CLI")}},
		Registry:     newTestRegistry(),
		Events:       make(chan orchestrator.Event, 4),
		Slot:         slot,
		PartialInput: "how do I add a subcommand",
	})
	s.Start(context.Background())
	<-s.Done()

	if got := slot.Get(); got != "repo uses cobra for its CLI" {
		t.Fatalf("slot = %q", got)
	}
}

func TestCancelledSessionDiscardsSummary(t *testing.T) {
	release := make(chan struct{})
	slot := &ContextSlot{}
	s := NewSession(Options{
		Stream:       &scriptedStream{turns: [][]provider.StreamEvent{textTurn("stale summary")}, release: release},
		Registry:     newTestRegistry(),
		Events:       make(chan orchestrator.Event, 4),
		Slot:         slot,
		PartialInput: "old partial input",
	})
	s.Start(context.Background())

	// Cancel while the provider is still "thinking", then let the stream
	// finish: the write step must observe cancelled and discard.
	s.cancelled.Store(true)
	close(release)
	<-s.Done()

	if got := slot.Get(); got != "" {
		t.Fatalf("cancelled session wrote %q into slot", got)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	s := NewSession(Options{
		Stream:   &scriptedStream{turns: [][]provider.StreamEvent{textTurn("x")}},
		Registry: newTestRegistry(),
		Events:   make(chan orchestrator.Event, 4),
		Slot:     &ContextSlot{},
	})
	s.Start(context.Background())
	s.Cancel()
	s.Cancel()
	<-s.Done()
}

func TestDisallowedToolIsRefused(t *testing.T) {
	slot := &ContextSlot{}
	s := NewSession(Options{
		Stream: &scriptedStream{turns: [][]provider.StreamEvent{
			toolTurn("toolu_brain_bash_call_00000001", "bash", `{"command":"ls"}`),
			textTurn("done without shell access"),
		}},
		Registry: newTestRegistry(),
		Events:   make(chan orchestrator.Event, 4),
		Slot:     slot,
	})
	s.Start(context.Background())
	<-s.Done()

	if got := slot.Get(); got != "done without shell access" {
		t.Fatalf("slot = %q", got)
	}
}

func TestAllowedToolExecutes(t *testing.T) {
	slot := &ContextSlot{}
	s := NewSession(Options{
		Stream: &scriptedStream{turns: [][]provider.StreamEvent{
			toolTurn("toolu_brain_grep_call_0000001", "grep", `{"pattern":"main"}`),
			textTurn("found main in main.go"),
		}},
		Registry: newTestRegistry(),
		Events:   make(chan orchestrator.Event, 4),
		Slot:     slot,
	})
	s.Start(context.Background())
	<-s.Done()

	if got := slot.Get(); got != "found main in main.go" {
		t.Fatalf("slot = %q", got)
	}
}

func TestAskUserQuestionTimesOutToNoAnswer(t *testing.T) {
	events := make(chan orchestrator.Event, 4)
	slot := &ContextSlot{}
	s := NewSession(Options{
		Stream: &scriptedStream{turns: [][]provider.StreamEvent{
			toolTurn("toolu_brain_ask_call_00000001", "ask_user_question", `{"question":"which package?"}`),
			textTurn("proceeding without an answer"),
		}},
		Registry:     newTestRegistry(),
		Events:       events,
		Slot:         slot,
		ReplyTimeout: 20 * time.Millisecond,
	})
	s.Start(context.Background())

	evt := <-events
	q, ok := evt.(orchestrator.BrainQuestion)
	if !ok {
		t.Fatalf("expected BrainQuestion, got %T", evt)
	}
	if q.Question != "which package?" {
		t.Fatalf("question = %q", q.Question)
	}
	// Never reply; the session must substitute "[no answer]" and finish.
	<-s.Done()

	if got := slot.Get(); got != "proceeding without an answer" {
		t.Fatalf("slot = %q", got)
	}
}

func TestAskUserQuestionDeliversReply(t *testing.T) {
	events := make(chan orchestrator.Event, 4)
	slot := &ContextSlot{}
	answered := make(chan string, 1)
	stream := &replyCapturingStream{
		turns: [][]provider.StreamEvent{
			toolTurn("toolu_brain_ask_call_00000002", "ask_user_question", `{"question":"proceed?","options":["yes","no"]}`),
			textTurn("user said yes"),
		},
		sawToolResult: answered,
	}
	s := NewSession(Options{
		Stream:   stream,
		Registry: newTestRegistry(),
		Events:   events,
		Slot:     slot,
	})
	s.Start(context.Background())

	evt := <-events
	q := evt.(orchestrator.BrainQuestion)
	q.Reply <- "yes"
	<-s.Done()

	select {
	case result := <-answered:
		if result != "yes" {
			t.Fatalf("tool result = %q, want the user's reply", result)
		}
	default:
		t.Fatalf("second turn never saw the ask_user_question result")
	}
	if got := slot.Get(); got != "user said yes" {
		t.Fatalf("slot = %q", got)
	}
}

// replyCapturingStream records the tool-result content of the second call's
// request messages.
type replyCapturingStream struct {
	turns         [][]provider.StreamEvent
	call          int
	sawToolResult chan string
}

func (s *replyCapturingStream) ChatStream(_ context.Context, msgs []provider.Message, _ []provider.Tool) (<-chan provider.StreamEvent, error) {
	if s.call == 1 {
		for _, m := range msgs {
			if m.Role == "tool" {
				s.sawToolResult <- m.Content
			}
		}
	}
	var turn []provider.StreamEvent
	if s.call < len(s.turns) {
		turn = s.turns[s.call]
	}
	s.call++
	ch := make(chan provider.StreamEvent, len(turn))
	for _, evt := range turn {
		ch <- evt
	}
	close(ch)
	return ch, nil
}

func TestTurnBudgetBoundsLoop(t *testing.T) {
	// Every turn asks for another grep; the loop must stop at MaxTurns.
	turns := make([][]provider.StreamEvent, MaxTurns+2)
	for i := range turns {
		turns[i] = toolTurn("toolu_brain_loop_call_"+string(rune('a'+i))+"0000000", "grep", `{"pattern":"x"}`)
	}
	stream := &scriptedStream{turns: turns}
	slot := &ContextSlot{}
	s := NewSession(Options{
		Stream:   stream,
		Registry: newTestRegistry(),
		Events:   make(chan orchestrator.Event, 4),
		Slot:     slot,
	})
	s.Start(context.Background())
	<-s.Done()

	if stream.call > MaxTurns {
		t.Fatalf("made %d provider calls, budget is %d", stream.call, MaxTurns)
	}
	if slot.Get() != "" {
		t.Fatalf("budget-exhausted session must not write a summary")
	}
}

func TestToolArgumentsRoundTrip(t *testing.T) {
	// Sanity-check the accumulator reassembles split argument fragments.
	stream := &scriptedStream{turns: [][]provider.StreamEvent{
		{
			{Type: provider.EventToolCallBegin, ToolCallIndex: 0, ToolCallID: "toolu_brain_frag_call_0000001", ToolCallName: "grep"},
			{Type: provider.EventToolCallDelta, ToolCallIndex: 0, ToolCallArgs: `{"patt`},
			{Type: provider.EventToolCallDelta, ToolCallIndex: 0, ToolCallArgs: `ern":"x"}`},
			{Type: provider.EventDone},
		},
		textTurn("ok"),
	}}
	s := NewSession(Options{
		Stream:   stream,
		Registry: newTestRegistry(),
		Events:   make(chan orchestrator.Event, 4),
		Slot:     &ContextSlot{},
	})
	resp, err := s.collect(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(resp.ToolCalls[0].Arguments, &parsed); err != nil {
		t.Fatalf("arguments did not reassemble: %v", err)
	}
	if parsed["pattern"] != "x" {
		t.Fatalf("parsed = %v", parsed)
	}
}
