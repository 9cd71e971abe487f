package tui

import "testing"

func TestRenderRecoveryFlag(t *testing.T) {
	rs := NewRenderState()

	got := rs.Frame(func() string { panic("boom") })
	if !rs.NeedsFullRefresh() {
		t.Fatalf("a failing render must set needs_full_refresh")
	}
	if got != "" {
		t.Fatalf("no prior frame to fall back to, got %q", got)
	}

	// The next tick consumes the flag exactly once — the erase-and-redraw
	// is not double-applied.
	if !rs.ConsumeFullRefresh() {
		t.Fatalf("full refresh owed after failure")
	}
	if rs.ConsumeFullRefresh() {
		t.Fatalf("full refresh applied twice")
	}
	if rs.NeedsFullRefresh() {
		t.Fatalf("flag must be cleared after the recovery tick")
	}
}

func TestFrameCachesLastGoodRender(t *testing.T) {
	rs := NewRenderState()
	if got := rs.Frame(func() string { return "live area v1" }); got != "live area v1" {
		t.Fatalf("got %q", got)
	}
	// A later failure falls back to the cached frame instead of tearing.
	if got := rs.Frame(func() string { panic("render bug") }); got != "live area v1" {
		t.Fatalf("fallback frame = %q", got)
	}
}

func TestMarkCommittedIsOnce(t *testing.T) {
	rs := NewRenderState()
	if !rs.MarkCommitted("q1") {
		t.Fatalf("first commit refused")
	}
	if rs.MarkCommitted("q1") {
		t.Fatalf("block committed twice")
	}
	rs.Forget("q1")
	if !rs.MarkCommitted("q1") {
		t.Fatalf("forgotten block should commit again")
	}
}
