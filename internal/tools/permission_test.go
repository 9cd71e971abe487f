package tools

import (
	"context"
	"testing"
)

func TestPlanModeGating(t *testing.T) {
	allowed := []string{"read", "glob", "grep", "web_fetch", "AskUserQuestion", "PresentPlan", "EnterPlanMode"}
	for _, name := range allowed {
		if PlanModeBlocked(ModePlanning, name) {
			t.Errorf("%q should be permitted in plan mode", name)
		}
	}

	blocked := []string{"bash", "write", "edit", "sub_agent"}
	for _, name := range blocked {
		if !PlanModeBlocked(ModePlanning, name) {
			t.Errorf("%q should be blocked in plan mode", name)
		}
	}

	// Outside plan mode nothing is gated by this check.
	for _, name := range blocked {
		if PlanModeBlocked(ModeNormal, name) {
			t.Errorf("%q should not be blocked in normal mode", name)
		}
	}
}

func TestRegistryCallBlocksInPlanModeWithoutExecuting(t *testing.T) {
	executed := false
	perms := NewPermissionManager(true, "")
	reg := NewRegistry(perms)
	reg.Register(Definition{
		Name: "bash",
		Executor: func(_ context.Context, _ ExecContext, _ map[string]any) (string, bool) {
			executed = true
			return "", false
		},
	})

	content, isError := reg.Call(context.Background(), "bash", "toolu_x", ExecContext{Mode: ModePlanning}, map[string]any{"command": "rm -rf /"})
	if !isError {
		t.Fatalf("expected blocked-in-plan-mode error")
	}
	if executed {
		t.Fatalf("executor must not run when blocked by plan mode")
	}
	if content == "" {
		t.Fatalf("expected a human-readable block message")
	}
}
