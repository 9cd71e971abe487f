package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// QueryState is a query's lifecycle state (§3 "Query").
type QueryState int

const (
	QueryPending QueryState = iota
	QueryStreaming
	QueryExecutingTools
	QueryCompleted
	QueryFailedState
	QueryCancelled
)

// Terminal reports whether s is a terminal state.
func (s QueryState) Terminal() bool {
	switch s {
	case QueryCompleted, QueryFailedState, QueryCancelled:
		return true
	}
	return false
}

// queryRetention is how long a query lingers in the registry after reaching
// a terminal state before the cleanup tick drops it.
const queryRetention = 30 * time.Second

// Query is the ephemeral per-submission record.
type Query struct {
	ID         string
	Input      string
	State      QueryState
	FailReason string
	// pendingTools / completedTools are declared for the ExecutingTools
	// sub-state but nothing updates them; per-tool progress lives on the
	// WorkUnit's sub-rows.
	pendingTools   int
	completedTools int
	finishedAt     time.Time
}

// queryRegistry owns all live queries under a single-writer guard.
type queryRegistry struct {
	mu      sync.Mutex
	queries map[string]*Query
}

func newQueryRegistry() *queryRegistry {
	return &queryRegistry{queries: make(map[string]*Query)}
}

func (r *queryRegistry) create(input string) *Query {
	q := &Query{
		ID:    uuid.NewString(),
		Input: input,
		State: QueryPending,
	}
	r.mu.Lock()
	r.queries[q.ID] = q
	r.mu.Unlock()
	return q
}

func (r *queryRegistry) get(id string) (*Query, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queries[id]
	return q, ok
}

// setState transitions q and stamps finishedAt on terminal states. A query
// already in a terminal state never transitions again — a late stream or
// tool completion racing a cancellation must not resurrect it.
func (r *queryRegistry) setState(q *Query, state QueryState, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q.State.Terminal() {
		return false
	}
	q.State = state
	q.FailReason = reason
	if state.Terminal() {
		q.finishedAt = time.Now()
	}
	return true
}

// cleanupExpired drops queries that reached a terminal state more than
// queryRetention ago. Orchestrator.CleanupTick, which the loop's 30s tick
// calls, runs its own equivalent sweep (also dropping the work units) and
// does not call this.
func (r *queryRegistry) cleanupExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for id, q := range r.queries {
		if q.State.Terminal() && now.Sub(q.finishedAt) >= queryRetention {
			delete(r.queries, id)
			dropped++
		}
	}
	return dropped
}

func (r *queryRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}
