package router

import "testing"

func TestRouteWithGeneratorCheckForwardsWhenNotReady(t *testing.T) {
	r := New(0.9) // would otherwise clearly route local
	d := r.RouteWithGeneratorCheck("fix this bug", false)
	if d.Local {
		t.Fatalf("expected Forward when generator not ready, got Local")
	}
	if d.Reason != ReasonModelNotReady {
		t.Fatalf("expected ReasonModelNotReady, got %v", d.Reason)
	}
}

func TestRouteWithGeneratorCheckWhenReady(t *testing.T) {
	r := New(0.9)
	d := r.RouteWithGeneratorCheck("fix this bug", true)
	if d.Reason == ReasonModelNotReady {
		t.Fatalf("ready generator must never surface ReasonModelNotReady")
	}
}

func TestLearnAdaptsThreshold(t *testing.T) {
	r := New(0.5)
	before := r.Stats().ConfidenceThreshold
	r.LearnLocalAttempt(true)
	if r.Stats().ConfidenceThreshold >= before {
		t.Fatalf("successful local attempt should lower (more permissive) threshold")
	}

	r2 := New(0.5)
	before2 := r2.Stats().ConfidenceThreshold
	r2.LearnLocalAttempt(false)
	if r2.Stats().ConfidenceThreshold <= before2 {
		t.Fatalf("failed local attempt should raise (more conservative) threshold")
	}
}

func TestLearnForwardedOnlyIncrementsTotal(t *testing.T) {
	r := New(0.5)
	r.LearnForwarded()
	stats := r.Stats()
	if stats.TotalQueries != 1 {
		t.Fatalf("expected total_queries=1, got %d", stats.TotalQueries)
	}
	if stats.TotalLocalAttempts != 0 {
		t.Fatalf("learn_forwarded must not touch total_local_attempts")
	}
}
