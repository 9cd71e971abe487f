package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateQuestionsBounds(t *testing.T) {
	ok := Question{Header: "Scope", Question: "Which scope?", Options: []string{"a", "b"}}

	if err := ValidateQuestions(nil); err == nil {
		t.Errorf("zero questions must be rejected")
	}
	if err := ValidateQuestions([]Question{ok, ok, ok, ok, ok}); err == nil {
		t.Errorf("five questions must be rejected")
	}
	if err := ValidateQuestions([]Question{ok, ok, ok, ok}); err != nil {
		t.Errorf("four questions should validate: %v", err)
	}

	long := ok
	long.Header = "ThirteenChars"
	if err := ValidateQuestions([]Question{long}); err == nil {
		t.Errorf("13-char header must be rejected")
	}
	edge := ok
	edge.Header = "TwelveChars!"
	if err := ValidateQuestions([]Question{edge}); err != nil {
		t.Errorf("12-char header should validate: %v", err)
	}

	few := ok
	few.Options = []string{"only"}
	if err := ValidateQuestions([]Question{few}); err == nil {
		t.Errorf("single option must be rejected")
	}
	many := ok
	many.Options = []string{"a", "b", "c", "d", "e"}
	if err := ValidateQuestions([]Question{many}); err == nil {
		t.Errorf("five options must be rejected")
	}
}

func TestAskUserQuestionReturnsStructuredAnswers(t *testing.T) {
	def := NewAskUserQuestionTool(func(_ context.Context, qs []Question) (map[string]string, error) {
		answers := make(map[string]string, len(qs))
		for _, q := range qs {
			answers[q.Question] = q.Options[0]
		}
		return answers, nil
	})

	input := map[string]any{
		"questions": []any{
			map[string]any{"header": "Scope", "question": "Which scope?", "options": []any{"narrow", "wide"}},
		},
	}
	content, isErr := def.Executor(context.Background(), ExecContext{}, input)
	if isErr {
		t.Fatalf("unexpected error: %s", content)
	}
	var answers map[string]string
	if err := json.Unmarshal([]byte(content), &answers); err != nil {
		t.Fatalf("answers are not JSON: %v", err)
	}
	if answers["Which scope?"] != "narrow" {
		t.Fatalf("answers = %v", answers)
	}
}

func TestPresentPlanOnlyInPlanningMode(t *testing.T) {
	def := NewPresentPlanTool("", nil, nil)
	content, isErr := def.Executor(context.Background(), ExecContext{Mode: ModeNormal}, map[string]any{"plan": "1. do it"})
	if !isErr || !strings.Contains(content, "plan mode") {
		t.Fatalf("expected plan-mode rejection, got (%q, %v)", content, isErr)
	}
}

func TestPresentPlanApproveWritesFileAndTransitions(t *testing.T) {
	dir := t.TempDir()
	approved := false
	cleared := false
	def := NewPresentPlanTool(dir,
		func(_ context.Context, _ string) (PlanDecision, string, error) {
			return PlanApproveClearContext, "", nil
		},
		func(clear bool, plan string) {
			approved = plan == "1. write code"
			cleared = clear
		},
	)

	content, isErr := def.Executor(context.Background(), ExecContext{Mode: ModePlanning}, map[string]any{"plan": "1. write code"})
	if isErr {
		t.Fatalf("approve path errored: %s", content)
	}
	if !approved || !cleared {
		t.Fatalf("approve callback: approved=%v cleared=%v", approved, cleared)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("plan file not written: %v %d", err, len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "plan_") || !strings.HasSuffix(name, ".md") {
		t.Fatalf("plan file name = %q", name)
	}
	data, _ := os.ReadFile(filepath.Join(dir, name))
	if string(data) != "1. write code" {
		t.Fatalf("plan file content = %q", data)
	}
}

func TestPresentPlanRejectIsError(t *testing.T) {
	def := NewPresentPlanTool("", func(_ context.Context, _ string) (PlanDecision, string, error) {
		return PlanReject, "", nil
	}, nil)
	content, isErr := def.Executor(context.Background(), ExecContext{Mode: ModePlanning}, map[string]any{"plan": "x"})
	if !isErr || !strings.Contains(content, "rejected") {
		t.Fatalf("got (%q, %v)", content, isErr)
	}
}

func TestEnterPlanModeIsIdempotent(t *testing.T) {
	mode := ModeNormal
	def := NewEnterPlanModeTool(func() Mode { return mode }, func(m Mode) { mode = m })

	content, isErr := def.Executor(context.Background(), ExecContext{}, nil)
	if isErr || mode != ModePlanning {
		t.Fatalf("first call: (%q, %v), mode=%v", content, isErr, mode)
	}

	content, isErr = def.Executor(context.Background(), ExecContext{}, nil)
	if isErr || !strings.Contains(content, "already") {
		t.Fatalf("second call should be an idempotent no-op: (%q, %v)", content, isErr)
	}
}
