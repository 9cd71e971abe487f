package orchestrator_test

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/darwin-finch/finch/internal/brain"
	"github.com/darwin-finch/finch/internal/conversation"
	"github.com/darwin-finch/finch/internal/orchestrator"
	"github.com/darwin-finch/finch/internal/persona"
	"github.com/darwin-finch/finch/internal/provider"
	"github.com/darwin-finch/finch/internal/tools"
)

// scriptedStream plays back one canned event sequence per ChatStream call.
type scriptedStream struct {
	turns   [][]provider.StreamEvent
	call    int
	release chan struct{}
}

func (s *scriptedStream) ChatStream(ctx context.Context, _ []provider.Message, _ []provider.Tool) (<-chan provider.StreamEvent, error) {
	var turn []provider.StreamEvent
	if s.call < len(s.turns) {
		turn = s.turns[s.call]
	} else if len(s.turns) > 0 {
		turn = s.turns[len(s.turns)-1]
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
		{Type: provider.EventUsage, InputTokens: 12, OutputTokens: 4},
		{Type: provider.EventDone},
	}
}

func toolTurn(text, id, name, args string) []provider.StreamEvent {
	evts := []provider.StreamEvent{}
	if text != "" {
		evts = append(evts, provider.StreamEvent{Type: provider.EventContentDelta, Content: text})
	}
	evts = append(evts,
		provider.StreamEvent{Type: provider.EventToolCallBegin, ToolCallIndex: 0, ToolCallID: id, ToolCallName: name},
		provider.StreamEvent{Type: provider.EventToolCallDelta, ToolCallIndex: 0, ToolCallArgs: args},
		provider.StreamEvent{Type: provider.EventDone},
	)
	return evts
}

func newOrch(t *testing.T, stream orchestrator.Streamer, reg *tools.Registry) *orchestrator.Orchestrator {
	t.Helper()
	if reg == nil {
		reg = tools.NewRegistry(tools.NewPermissionManager(true, ""))
	}
	return orchestrator.New(orchestrator.Options{
		Stream:    stream,
		Registry:  reg,
		ModelName: "test-model",
		SessionID: "sess-e2e",
	})
}

func drainEvents(o *orchestrator.Orchestrator) []orchestrator.Event {
	var out []orchestrator.Event
	for {
		select {
		case e := <-o.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

// E1: a plain completion with no tool uses.
func TestSimpleCompletion(t *testing.T) {
	o := newOrch(t, &scriptedStream{turns: [][]provider.StreamEvent{textTurn("4")}}, nil)

	q, err := o.Submit(context.Background(), "What is 2+2?")
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	msgs := o.Conversation()
	if len(msgs) != 2 {
		t.Fatalf("conversation has %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != conversation.RoleUser || msgs[0].Content[0].Text != "What is 2+2?" {
		t.Fatalf("first message = %+v", msgs[0])
	}
	if msgs[1].Role != conversation.RoleAssistant || msgs[1].Content[0].Text != "4" {
		t.Fatalf("second message = %+v", msgs[1])
	}

	unit, ok := o.WorkUnit(q.ID)
	if !ok || unit.Status() != orchestrator.WorkComplete {
		t.Fatalf("work unit not complete")
	}
	if unit.Response() != "4" {
		t.Fatalf("unit response = %q", unit.Response())
	}

	got, _ := o.Query(q.ID)
	if got.State != orchestrator.QueryCompleted {
		t.Fatalf("query state = %v", got.State)
	}

	var sawComplete, sawStats bool
	for _, e := range drainEvents(o) {
		switch evt := e.(type) {
		case orchestrator.QueryComplete:
			sawComplete = evt.Text == "4"
		case orchestrator.StatsUpdate:
			sawStats = evt.Model == "test-model" && evt.OutputTokens == 4
		}
	}
	if !sawComplete || !sawStats {
		t.Fatalf("missing events: complete=%v stats=%v", sawComplete, sawStats)
	}
}

// E2: one tool round-trip, then a final answer.
func TestSingleToolRoundTrip(t *testing.T) {
	reg := tools.NewRegistry(tools.NewPermissionManager(true, ""))
	reg.Register(tools.Definition{
		Name: "glob",
		Executor: func(_ context.Context, _ tools.ExecContext, input map[string]any) (string, bool) {
			if input["pattern"] != "**/*.rs" {
				return "unexpected pattern", true
			}
			return "src/main.rs\nsrc/lib.rs", false
		},
	})

	stream := &scriptedStream{turns: [][]provider.StreamEvent{
		toolTurn("Listing Rust files.", "toolu_e2e2globAAAAAAAAAAAAAAAA", "glob", `{"pattern":"**/*.rs"}`),
		textTurn("There are two Rust files."),
	}}
	o := newOrch(t, stream, reg)

	q, err := o.Submit(context.Background(), "list Rust files")
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	msgs := o.Conversation()
	if len(msgs) != 4 {
		t.Fatalf("conversation has %d messages, want user/assistant/tool-results/assistant", len(msgs))
	}

	asst := msgs[1]
	if asst.Role != conversation.RoleAssistant ||
		asst.Content[0].Type != conversation.BlockText ||
		asst.Content[0].Text != "Listing Rust files." ||
		asst.Content[1].Type != conversation.BlockToolUse ||
		asst.Content[1].ToolName != "glob" {
		t.Fatalf("assistant turn = %+v", asst)
	}

	results := msgs[2]
	if results.Role != conversation.RoleUser ||
		results.Content[0].Type != conversation.BlockToolResult ||
		results.Content[0].ToolResultForID != asst.Content[1].ToolUseID ||
		results.Content[0].IsError {
		t.Fatalf("tool-result message = %+v", results)
	}
	if results.Content[0].ToolResultText != "src/main.rs\nsrc/lib.rs" {
		t.Fatalf("tool result text = %q", results.Content[0].ToolResultText)
	}

	if msgs[3].Content[0].Text != "There are two Rust files." {
		t.Fatalf("final text = %q", msgs[3].Content[0].Text)
	}

	unit, _ := o.WorkUnit(q.ID)
	rows := unit.Rows()
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].Label != "glob(**/*.rs)" {
		t.Fatalf("row label = %q", rows[0].Label)
	}
	if rows[0].Status != orchestrator.RowComplete || rows[0].Summary != "2 lines" {
		t.Fatalf("row = %+v", rows[0])
	}
}

// E3: plan mode blocks a mutating tool without ever invoking its executor.
func TestPlanModeBlock(t *testing.T) {
	executed := false
	reg := tools.NewRegistry(tools.NewPermissionManager(true, ""))
	reg.Register(tools.Definition{
		Name: "bash",
		Executor: func(_ context.Context, _ tools.ExecContext, _ map[string]any) (string, bool) {
			executed = true
			return "", false
		},
	})

	stream := &scriptedStream{turns: [][]provider.StreamEvent{
		toolTurn("", "toolu_e2e3bashAAAAAAAAAAAAAAAA", "bash", `{"command":"rm -rf /"}`),
		textTurn("I cannot run commands in plan mode."),
	}}
	o := newOrch(t, stream, reg)
	o.SetMode(tools.ModePlanning)

	q, err := o.Submit(context.Background(), "clean the disk")
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	if executed {
		t.Fatalf("bash executor ran while in plan mode")
	}

	unit, _ := o.WorkUnit(q.ID)
	rows := unit.Rows()
	if rows[0].Status != orchestrator.RowFailed || rows[0].Reason != "blocked in plan mode" {
		t.Fatalf("row = %+v", rows[0])
	}

	msgs := o.Conversation()
	result := msgs[2].Content[0]
	if !result.IsError || !strings.Contains(result.ToolResultText, "blocked in plan mode") {
		t.Fatalf("synthetic tool result = %+v", result)
	}
}

// E4: an unanswered approval dialog times out and the query continues.
func TestApprovalTimeout(t *testing.T) {
	perms := tools.NewPermissionManager(false, "")
	perms.SetApprovalTimeout(30 * time.Millisecond)
	perms.OnApprovalRequested(func(_ string, _ map[string]any, _ chan tools.Decision) {
		// Dialog is never answered.
	})
	reg := tools.NewRegistry(perms)
	executed := false
	reg.Register(tools.Definition{
		Name: "bash",
		Executor: func(_ context.Context, _ tools.ExecContext, _ map[string]any) (string, bool) {
			executed = true
			return "ok", false
		},
	})

	stream := &scriptedStream{turns: [][]provider.StreamEvent{
		toolTurn("", "toolu_e2e4bashAAAAAAAAAAAAAAAA", "bash", `{"command":"ls"}`),
		textTurn("The command could not be approved in time."),
	}}
	o := newOrch(t, stream, reg)

	q, err := o.Submit(context.Background(), "list files")
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	if executed {
		t.Fatalf("executor ran despite unresolved approval")
	}

	msgs := o.Conversation()
	result := msgs[2].Content[0]
	if !result.IsError || !strings.Contains(result.ToolResultText, "timed out") {
		t.Fatalf("tool result = %+v", result)
	}

	got, _ := o.Query(q.ID)
	if got.State != orchestrator.QueryCompleted {
		t.Fatalf("query did not continue gracefully: state=%v reason=%q", got.State, got.FailReason)
	}
}

// E5: a brain session cancelled an instant before writing its summary must
// not pollute the context slot of the query that replaced it.
func TestBrainCancellationRace(t *testing.T) {
	release := make(chan struct{})
	slot := &brain.ContextSlot{}
	session := brain.NewSession(brain.Options{
		Stream:       &scriptedStream{turns: [][]provider.StreamEvent{textTurn("speculative context")}, release: release},
		Registry:     tools.NewRegistry(tools.NewPermissionManager(true, "")),
		Events:       make(chan orchestrator.Event, 4),
		Slot:         slot,
		PartialInput: "half-typed inp",
	})
	session.Start(context.Background())

	// User hits Enter: a fresh query starts and the stale brain session is
	// cancelled. Only then does the brain's provider call come back.
	o := newOrch(t, &scriptedStream{turns: [][]provider.StreamEvent{textTurn("fresh answer")}}, nil)
	if _, err := o.Submit(context.Background(), "half-typed input, now complete"); err != nil {
		t.Fatal(err)
	}
	session.Cancel()
	close(release)
	<-session.Done()
	o.Wait()

	if got := slot.Get(); got != "" {
		t.Fatalf("stale brain summary leaked into fresh context: %q", got)
	}
}

// E6: reflection patches only behavior.system_prompt.
func TestReflectionPatch(t *testing.T) {
	path := t.TempDir() + "/persona.toml"
	original := &persona.Persona{
		PersonaInfo: persona.Identity{Name: "V", Description: "test persona"},
		Behavior: persona.Behavior{
			SystemPrompt: "A",
			Tone:         "Casual",
			Verbosity:    "low",
			Focus:        "speed",
			GitName:      "V",
			GitEmail:     "v@x",
		},
	}
	if err := persona.Save(path, original); err != nil {
		t.Fatal(err)
	}

	if err := persona.PatchSystemPrompt(path, "B"); err != nil {
		t.Fatal(err)
	}

	got, err := persona.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Behavior.SystemPrompt != "B" {
		t.Fatalf("system_prompt = %q", got.Behavior.SystemPrompt)
	}
	want := *original
	want.Behavior.SystemPrompt = "B"
	if !reflect.DeepEqual(*got, want) {
		t.Fatalf("sibling fields changed: %+v", got)
	}
}

func TestCancellationMarksQueryCancelled(t *testing.T) {
	release := make(chan struct{})
	o := newOrch(t, &scriptedStream{turns: [][]provider.StreamEvent{textTurn("never seen")}, release: release}, nil)

	q, err := o.Submit(context.Background(), "slow question")
	if err != nil {
		t.Fatal(err)
	}
	if !o.Cancel() {
		t.Fatalf("Cancel found no active query")
	}
	close(release)
	o.Wait()

	got, _ := o.Query(q.ID)
	if got.State != orchestrator.QueryCancelled {
		t.Fatalf("state = %v", got.State)
	}
	// Only the user message made it in; the cancelled stream's text did not.
	if len(o.Conversation()) != 1 {
		t.Fatalf("conversation = %d messages", len(o.Conversation()))
	}
}

func TestIterationCap(t *testing.T) {
	reg := tools.NewRegistry(tools.NewPermissionManager(true, ""))
	reg.Register(tools.Definition{
		Name: "grep",
		Executor: func(_ context.Context, _ tools.ExecContext, _ map[string]any) (string, bool) {
			return "hit", false
		},
	})
	// The provider asks for the same tool forever.
	stream := &endlessToolStream{}
	o := newOrch(t, stream, reg)

	q, err := o.Submit(context.Background(), "loop forever")
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	got, _ := o.Query(q.ID)
	if got.State != orchestrator.QueryFailedState || got.FailReason != "Max tool iterations reached" {
		t.Fatalf("state=%v reason=%q", got.State, got.FailReason)
	}
	if stream.calls != orchestrator.MaxToolIterations {
		t.Fatalf("provider called %d times, want %d", stream.calls, orchestrator.MaxToolIterations)
	}
}

type endlessToolStream struct{ calls int }

func (s *endlessToolStream) ChatStream(_ context.Context, _ []provider.Message, _ []provider.Tool) (<-chan provider.StreamEvent, error) {
	s.calls++
	id := tools.NewToolUseID()
	ch := make(chan provider.StreamEvent, 3)
	ch <- provider.StreamEvent{Type: provider.EventToolCallBegin, ToolCallIndex: 0, ToolCallID: id, ToolCallName: "grep"}
	ch <- provider.StreamEvent{Type: provider.EventToolCallDelta, ToolCallIndex: 0, ToolCallArgs: `{"pattern":"x"}`}
	ch <- provider.StreamEvent{Type: provider.EventDone}
	close(ch)
	return ch, nil
}
