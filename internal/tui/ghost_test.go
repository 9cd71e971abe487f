package tui

import "testing"

func testRegistry() *CommandRegistry {
	return NewCommandRegistry(map[string]string{
		"/help":     "Show available commands",
		"/critical": "Rate the last response critical",
	})
}

func TestComputeGhostTextDeterminism(t *testing.T) {
	r := testRegistry()

	if _, ok := ComputeGhostText("", r); ok {
		t.Fatalf("empty input should not produce ghost text")
	}
	if suffix, ok := ComputeGhostText("/hel", r); !ok || suffix != "p" {
		t.Fatalf("got (%q,%v) want (\"p\",true)", suffix, ok)
	}
	if _, ok := ComputeGhostText("/help", r); ok {
		t.Fatalf("exact match should not produce ghost text")
	}
	if _, ok := ComputeGhostText("hello", r); ok {
		t.Fatalf("non-slash input should not produce ghost text")
	}
}

func TestComputeGhostTextAmbiguousPrefix(t *testing.T) {
	r := NewCommandRegistry(map[string]string{"/plan": "a", "/provider": "b"})
	if _, ok := ComputeGhostText("/p", r); ok {
		t.Fatalf("ambiguous prefix (two completions) should not produce ghost text")
	}
}
