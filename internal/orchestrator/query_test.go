package orchestrator

import (
	"testing"
	"time"
)

func TestQueryRegistryCreateAssignsUniqueIDs(t *testing.T) {
	r := newQueryRegistry()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		q := r.create("input")
		if seen[q.ID] {
			t.Fatalf("duplicate query id %q", q.ID)
		}
		seen[q.ID] = true
	}
	if r.len() != 100 {
		t.Fatalf("registry holds %d queries", r.len())
	}
}

func TestTerminalStateIsSticky(t *testing.T) {
	r := newQueryRegistry()
	q := r.create("x")

	if !r.setState(q, QueryCancelled, "cancelled by user") {
		t.Fatalf("first terminal transition refused")
	}
	// A late stream completion must not resurrect the query.
	if r.setState(q, QueryCompleted, "") {
		t.Fatalf("terminal state was overwritten")
	}
	if q.State != QueryCancelled {
		t.Fatalf("state = %v", q.State)
	}
}

func TestCleanupDropsOnlyExpiredTerminalQueries(t *testing.T) {
	r := newQueryRegistry()

	fresh := r.create("fresh")
	r.setState(fresh, QueryCompleted, "")

	stale := r.create("stale")
	r.setState(stale, QueryFailedState, "boom")
	stale.finishedAt = time.Now().Add(-queryRetention - time.Second)

	running := r.create("running")
	r.setState(running, QueryStreaming, "")

	dropped := r.cleanupExpired(time.Now())
	if dropped != 1 {
		t.Fatalf("dropped %d, want 1", dropped)
	}
	if _, ok := r.get(stale.ID); ok {
		t.Fatalf("stale query survived cleanup")
	}
	if _, ok := r.get(fresh.ID); !ok {
		t.Fatalf("fresh terminal query dropped too early")
	}
	if _, ok := r.get(running.ID); !ok {
		t.Fatalf("running query dropped")
	}
}
