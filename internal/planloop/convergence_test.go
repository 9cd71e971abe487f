package planloop

import (
	"math"
	"testing"
)

func TestCharDeltaPct(t *testing.T) {
	if got := CharDeltaPct("hello", "hello"); math.Abs(got) > 1e-9 {
		t.Fatalf("identical strings: got %v want ~0", got)
	}
	if got := CharDeltaPct("ab", "abcd"); got != 100 {
		t.Fatalf("got %v want 100", got)
	}
}

func TestCheckConvergenceScopeRunaway(t *testing.T) {
	prev := "short plan"
	curr := ""
	for i := 0; i < 20; i++ {
		curr += "much longer plan text padding out "
	}
	mustAddress := []CritiqueItem{{Persona: "security", Severity: 9, Confidence: 8}}
	if got := CheckConvergence(prev, curr, mustAddress, 5); got != ScopeRunaway {
		t.Fatalf("got %v want ScopeRunaway", got)
	}
}

func TestCheckConvergenceStable(t *testing.T) {
	prev := "a plan of some length here"
	curr := "a plan of some length herex" // tiny delta
	if got := CheckConvergence(prev, curr, nil, 5); got != Stable {
		t.Fatalf("got %v want Stable", got)
	}
}

func TestCheckConvergenceContinuing(t *testing.T) {
	prev := "a plan"
	curr := "a quite different and longer plan but not runaway long"
	critiques := []CritiqueItem{{Persona: "architecture", Severity: 5, Confidence: 5}}
	got := CheckConvergence(prev, curr, critiques, 5)
	if got != Continuing {
		t.Fatalf("got %v want Continuing", got)
	}
}

func TestCheckConvergenceMustAddressBlocksStable(t *testing.T) {
	prev := "a plan"
	curr := "a plan" // zero delta
	critiques := []CritiqueItem{{Persona: "security", Severity: 8, Confidence: 7}}
	if got := CheckConvergence(prev, curr, critiques, 5); got != Continuing {
		t.Fatalf("must-address item should prevent Stable even with zero delta, got %v", got)
	}
}
