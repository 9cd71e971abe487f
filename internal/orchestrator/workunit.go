package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"
)

// headerVerbs is the curated pool a WorkUnit's header verb is drawn from.
// Selection is round-robin via verbCounter, never random, so repeated runs
// produce a stable sequence.
var headerVerbs = []string{
	"Channeling",
	"Conjuring",
	"Weaving",
	"Pondering",
	"Composing",
	"Tinkering",
	"Brewing",
	"Sketching",
}

var verbCounter atomic.Uint64

// nextVerb picks the next header verb from the pool.
func nextVerb() string {
	n := verbCounter.Add(1) - 1
	return headerVerbs[int(n%uint64(len(headerVerbs)))]
}

// WorkStatus is a WorkUnit's overall lifecycle state.
type WorkStatus int

const (
	WorkInProgress WorkStatus = iota
	WorkComplete
	WorkFailed
)

// RowStatus is one sub-row's state.
type RowStatus int

const (
	RowRunning RowStatus = iota
	RowComplete
	RowFailed
)

// SubRow is one tool call's line under a WorkUnit: "⎿ {label}" plus a state
// glyph and, when finished, a compact summary or failure reason.
type SubRow struct {
	Label   string
	Status  RowStatus
	Summary string
	Reason  string
}

// WorkUnit is the UI entity for one assistant turn. The orchestrator
// appends and updates rows while the renderer reads; both sides take the
// unit's lock for short, non-overlapping critical sections.
type WorkUnit struct {
	mu sync.Mutex

	QueryID   string
	Verb      string
	CreatedAt time.Time

	response string
	tokens   int
	rows     []SubRow
	status   WorkStatus
}

// NewWorkUnit creates a unit for queryID with the next round-robin verb.
func NewWorkUnit(queryID string) *WorkUnit {
	return &WorkUnit{
		QueryID:   queryID,
		Verb:      nextVerb(),
		CreatedAt: time.Now(),
	}
}

// AppendResponse accumulates streamed text and bumps the token estimate.
func (w *WorkUnit) AppendResponse(delta string, tokenDelta int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.response += delta
	w.tokens += tokenDelta
}

// Response returns the accumulated response text.
func (w *WorkUnit) Response() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.response
}

// Tokens returns the current token estimate.
func (w *WorkUnit) Tokens() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tokens
}

// AddRow appends a Running sub-row for a dispatched tool call and returns
// its index for later status updates.
func (w *WorkUnit) AddRow(label string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rows = append(w.rows, SubRow{Label: label, Status: RowRunning})
	return len(w.rows) - 1
}

// CompleteRow marks row idx finished with a compact summary.
func (w *WorkUnit) CompleteRow(idx int, summary string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if idx < 0 || idx >= len(w.rows) {
		return
	}
	w.rows[idx].Status = RowComplete
	w.rows[idx].Summary = summary
}

// FailRow marks row idx failed with a reason.
func (w *WorkUnit) FailRow(idx int, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if idx < 0 || idx >= len(w.rows) {
		return
	}
	w.rows[idx].Status = RowFailed
	w.rows[idx].Reason = reason
}

// Rows returns a snapshot of the sub-rows for rendering.
func (w *WorkUnit) Rows() []SubRow {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]SubRow, len(w.rows))
	copy(out, w.rows)
	return out
}

// Finalize transitions the unit to a terminal status. Once terminal the
// renderer commits it to scrollback on its next flush and never touches it
// again.
func (w *WorkUnit) Finalize(status WorkStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == WorkInProgress {
		w.status = status
	}
}

// Status returns the unit's current overall status.
func (w *WorkUnit) Status() WorkStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// ElapsedSeconds returns whole seconds since creation, for the header.
func (w *WorkUnit) ElapsedSeconds(now time.Time) int {
	return int(now.Sub(w.CreatedAt) / time.Second)
}
