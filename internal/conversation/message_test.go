package conversation

import (
	"encoding/json"
	"testing"
)

func TestToolResultRoundTrip(t *testing.T) {
	s := New()
	use := ToolUseBlock("toolu_abc123", "glob", map[string]any{"pattern": "**/*.rs"})
	if err := s.Append(Message{Role: RoleAssistant, Content: []ContentBlock{use}}); err != nil {
		t.Fatalf("append tool_use: %v", err)
	}

	result := ToolResultBlock("toolu_abc123", "src/main.rs", false)
	if err := s.Append(Message{Role: RoleUser, Content: []ContentBlock{result}}); err != nil {
		t.Fatalf("append tool_result: %v", err)
	}

	snap := s.Snapshot()
	got := snap[1].Content[0]
	if got.ToolResultForID != use.ToolUseID {
		t.Fatalf("tool_use_id mismatch: got %q want %q", got.ToolResultForID, use.ToolUseID)
	}
	if got.IsError {
		t.Fatalf("expected is_error=false")
	}

	errResult := ToolResultBlock("toolu_abc123", "boom", true)
	if err := s.Append(Message{Role: RoleUser, Content: []ContentBlock{errResult}}); err != nil {
		t.Fatalf("append error tool_result: %v", err)
	}
	if !s.Snapshot()[2].Content[0].IsError {
		t.Fatalf("expected is_error=true to match failing branch")
	}
}

func TestAppendRejectsUnknownToolResultID(t *testing.T) {
	s := New()
	err := s.Append(Message{Role: RoleUser, Content: []ContentBlock{ToolResultBlock("toolu_never_emitted", "x", false)}})
	if err == nil {
		t.Fatalf("expected error for unknown tool_use_id")
	}
	if s.Len() != 0 {
		t.Fatalf("rejected append must not mutate the log")
	}
}

func TestContentBlockSerializationStability(t *testing.T) {
	blocks := []ContentBlock{
		TextBlock("hello world"),
		ToolUseBlock("toolu_xyz", "read", map[string]any{"path": "a.go"}),
		ToolResultBlock("toolu_xyz", "package main\n", false),
	}
	for _, b := range blocks {
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var back ContentBlock
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if back.Type != b.Type || back.Text != b.Text || back.ToolUseID != b.ToolUseID ||
			back.ToolName != b.ToolName || back.ToolResultForID != b.ToolResultForID ||
			back.ToolResultText != b.ToolResultText || back.IsError != b.IsError {
			t.Fatalf("round trip mismatch: got %+v want %+v", back, b)
		}
	}
}

func TestFindLastExchange(t *testing.T) {
	if u, a := FindLastExchange(nil); u != "" || a != "" {
		t.Fatalf("expected empty pair for empty log, got (%q,%q)", u, a)
	}

	messages := []Message{
		{Role: RoleUser, Content: []ContentBlock{TextBlock("first question")}},
		{Role: RoleAssistant, Content: []ContentBlock{TextBlock("first answer")}},
		{Role: RoleUser, Content: []ContentBlock{TextBlock("   ")}}, // blank, skipped
		{Role: RoleUser, Content: []ContentBlock{TextBlock("second question")}},
		{Role: RoleAssistant, Content: []ContentBlock{TextBlock("second answer")}},
	}
	u, a := FindLastExchange(messages)
	if u != "second question" || a != "second answer" {
		t.Fatalf("got (%q,%q)", u, a)
	}
}

func TestCompactionPercentRemaining(t *testing.T) {
	if got := CompactionPercentRemaining(0, 0); got != 1 {
		t.Fatalf("zero budget should mean fully remaining, got %v", got)
	}
	if got := CompactionPercentRemaining(50, 100); got != 0.5 {
		t.Fatalf("got %v want 0.5", got)
	}
	if got := CompactionPercentRemaining(200, 100); got != 0 {
		t.Fatalf("over-budget should clamp to 0, got %v", got)
	}
}

func TestReplacePrefix(t *testing.T) {
	s := New()
	_ = s.Append(Message{Role: RoleUser, Content: []ContentBlock{TextBlock("a")}})
	_ = s.Append(Message{Role: RoleAssistant, Content: []ContentBlock{TextBlock("b")}})
	_ = s.Append(Message{Role: RoleUser, Content: []ContentBlock{TextBlock("c")}})

	if err := s.ReplacePrefix(2, "summary of a,b"); err != nil {
		t.Fatalf("replace prefix: %v", err)
	}
	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 messages after compaction, got %d", len(snap))
	}
	if snap[0].Content[0].Text != "summary of a,b" {
		t.Fatalf("unexpected summary text: %q", snap[0].Content[0].Text)
	}
	if snap[1].Content[0].Text != "c" {
		t.Fatalf("unexpected tail message: %q", snap[1].Content[0].Text)
	}
}
