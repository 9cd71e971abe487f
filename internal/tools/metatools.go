package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Question is one entry of an AskUserQuestion call.
type Question struct {
	Header      string   `json:"header"`
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	MultiSelect bool     `json:"multi_select,omitempty"`
}

// maxQuestionHeader is the per-tab header budget in the tabbed dialog.
const maxQuestionHeader = 12

// ValidateQuestions enforces the AskUserQuestion input contract: between 1
// and 4 questions, each header at most 12 chars, each question carrying 2-4
// options.
func ValidateQuestions(qs []Question) error {
	if len(qs) < 1 || len(qs) > 4 {
		return fmt.Errorf("expected 1-4 questions, got %d", len(qs))
	}
	for i, q := range qs {
		if len(q.Header) > maxQuestionHeader {
			return fmt.Errorf("question %d: header %q exceeds %d chars", i+1, q.Header, maxQuestionHeader)
		}
		if q.Question == "" {
			return fmt.Errorf("question %d: question text is required", i+1)
		}
		if len(q.Options) < 2 || len(q.Options) > 4 {
			return fmt.Errorf("question %d: expected 2-4 options, got %d", i+1, len(q.Options))
		}
	}
	return nil
}

// QuestionPrompter renders a tabbed dialog for the questions and returns
// the user's answers keyed by question text: the selected label(s), or the
// custom "Other" text.
type QuestionPrompter func(ctx context.Context, qs []Question) (map[string]string, error)

// NewAskUserQuestionTool builds the AskUserQuestion meta-tool around a
// dialog callback. Available in every REPL mode, including Planning.
func NewAskUserQuestionTool(prompt QuestionPrompter) Definition {
	return Definition{
		Name:        "AskUserQuestion",
		Description: "Ask the user up to four structured questions, each with 2-4 options, in one tabbed dialog.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"questions": map[string]any{
					"type":     "array",
					"minItems": 1,
					"maxItems": 4,
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"header":       map[string]any{"type": "string", "maxLength": maxQuestionHeader},
							"question":     map[string]any{"type": "string"},
							"options":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "minItems": 2, "maxItems": 4},
							"multi_select": map[string]any{"type": "boolean"},
						},
						"required": []any{"header", "question", "options"},
					},
				},
			},
			"required": []any{"questions"},
		},
		Executor: func(ctx context.Context, _ ExecContext, input map[string]any) (string, bool) {
			raw, err := json.Marshal(input["questions"])
			if err != nil {
				return fmt.Sprintf("invalid questions: %v", err), true
			}
			var qs []Question
			if err := json.Unmarshal(raw, &qs); err != nil {
				return fmt.Sprintf("invalid questions: %v", err), true
			}
			if err := ValidateQuestions(qs); err != nil {
				return err.Error(), true
			}
			if prompt == nil {
				return "[no answer]", false
			}
			answers, err := prompt(ctx, qs)
			if err != nil {
				return "[no answer]", false
			}
			data, err := json.Marshal(answers)
			if err != nil {
				return fmt.Sprintf("encoding answers: %v", err), true
			}
			return string(data), false
		},
	}
}

// PlanDecision is the outcome of a PresentPlan approval dialog.
type PlanDecision int

const (
	PlanApprove PlanDecision = iota
	PlanApproveClearContext
	PlanRequestChanges
	PlanReject
)

// PlanPresenter renders the plan approval dialog and returns the user's
// decision plus optional change-request feedback.
type PlanPresenter func(ctx context.Context, planText string) (PlanDecision, string, error)

// NewPresentPlanTool builds the PresentPlan meta-tool. Only valid in
// Planning mode: the plan text is written to the session's plan file under
// plansDir, the approval dialog runs, and on Approve onApprove fires
// (transitioning the REPL to Executing, optionally clearing context to
// just the approved plan).
func NewPresentPlanTool(plansDir string, present PlanPresenter, onApprove func(clearContext bool, plan string)) Definition {
	return Definition{
		Name:        "PresentPlan",
		Description: "Present the drafted implementation plan for user approval.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"plan": map[string]any{"type": "string"},
			},
			"required": []any{"plan"},
		},
		Executor: func(ctx context.Context, ectx ExecContext, input map[string]any) (string, bool) {
			if ectx.Mode != ModePlanning {
				return "PresentPlan is only valid in plan mode", true
			}
			plan, _ := input["plan"].(string)
			if plan == "" {
				return "plan text is required", true
			}

			if plansDir != "" {
				if err := os.MkdirAll(plansDir, 0750); err == nil {
					name := "plan_" + time.Now().Format("20060102_150405") + ".md"
					_ = os.WriteFile(filepath.Join(plansDir, name), []byte(plan), 0600)
				}
			}

			if present == nil {
				return "plan recorded; no approval surface attached", false
			}
			decision, feedback, err := present(ctx, plan)
			if err != nil {
				return "[action timed out or unavailable]", true
			}
			switch decision {
			case PlanApprove, PlanApproveClearContext:
				if onApprove != nil {
					onApprove(decision == PlanApproveClearContext, plan)
				}
				return "plan approved — proceeding to execution", false
			case PlanRequestChanges:
				if feedback == "" {
					feedback = "(no details given)"
				}
				return "user requested changes: " + feedback, false
			default:
				return "plan rejected by user", true
			}
		},
	}
}

// NewEnterPlanModeTool builds the EnterPlanMode meta-tool: Normal ->
// Planning, idempotent when already planning.
func NewEnterPlanModeTool(current func() Mode, setMode func(Mode)) Definition {
	return Definition{
		Name:        "EnterPlanMode",
		Description: "Switch the session into plan mode (inspection tools only).",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Executor: func(_ context.Context, _ ExecContext, _ map[string]any) (string, bool) {
			if current != nil && current() == ModePlanning {
				return "already in plan mode", false
			}
			if setMode != nil {
				setMode(ModePlanning)
			}
			return "plan mode on", false
		},
	}
}
