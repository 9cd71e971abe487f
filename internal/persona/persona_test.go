package persona

import (
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "reviewer.toml")
	p := &Persona{
		PersonaInfo: Identity{Name: "reviewer", Description: "terse, skeptical"},
		Behavior: Behavior{
			SystemPrompt: "A",
			Tone:         "Casual",
			Verbosity:    "low",
			Focus:        "security",
			GitName:      "V",
			GitEmail:     "v@x",
		},
	}
	if err := Save(path, p); err != nil {
		t.Fatalf("save fixture: %v", err)
	}
	return path
}

func TestPatchSystemPromptPreservesSiblings(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir)

	if err := PatchSystemPrompt(path, "B"); err != nil {
		t.Fatalf("patch: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if p.Behavior.SystemPrompt != "B" {
		t.Fatalf("system_prompt not updated: %q", p.Behavior.SystemPrompt)
	}
	if p.PersonaInfo.Name != "reviewer" || p.PersonaInfo.Description != "terse, skeptical" {
		t.Fatalf("persona identity mutated: %+v", p.PersonaInfo)
	}
	if p.Behavior.Tone != "Casual" || p.Behavior.Verbosity != "low" || p.Behavior.Focus != "security" {
		t.Fatalf("behavior siblings mutated: %+v", p.Behavior)
	}
	if p.Behavior.GitName != "V" || p.Behavior.GitEmail != "v@x" {
		t.Fatalf("git identity mutated: %+v", p.Behavior)
	}
}

func TestPatchSystemPromptIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir)

	if err := PatchSystemPrompt(path, "B"); err != nil {
		t.Fatalf("first patch: %v", err)
	}
	if err := PatchSystemPrompt(path, "B"); err != nil {
		t.Fatalf("second patch: %v", err)
	}
	p, _ := Load(path)
	if p.Behavior.SystemPrompt != "B" {
		t.Fatalf("unexpected prompt after idempotent patch: %q", p.Behavior.SystemPrompt)
	}
}

func TestPatchSystemPromptUnicode(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir)

	fancy := "Respond tersely. Flag ⚠️ risks. Use “quotes” and emoji \U0001F680."
	if err := PatchSystemPrompt(path, fancy); err != nil {
		t.Fatalf("patch: %v", err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if p.Behavior.SystemPrompt != fancy {
		t.Fatalf("unicode prompt corrupted: got %q want %q", p.Behavior.SystemPrompt, fancy)
	}
}
