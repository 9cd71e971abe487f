package tui

import "sync"

// RenderState is the renderer's shadow-buffer bookkeeping for the
// commit/live cycle: which blocks have already been printed to permanent
// scrollback (commit phase runs at most once per block), the last
// successfully drawn live frame, and whether the next tick must perform a
// full redraw because a render failed partway through.
type RenderState struct {
	mu               sync.Mutex
	committed        map[string]bool
	lastFrame        string
	needsFullRefresh bool
}

// NewRenderState returns empty bookkeeping.
func NewRenderState() *RenderState {
	return &RenderState{committed: make(map[string]bool)}
}

// MarkCommitted records that the block identified by id has been printed
// to scrollback. Returns true the first time, false on every later call —
// a committed block is never printed twice.
func (rs *RenderState) MarkCommitted(id string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.committed[id] {
		return false
	}
	rs.committed[id] = true
	return true
}

// Forget drops commit bookkeeping for id (query retention expiry).
func (rs *RenderState) Forget(id string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.committed, id)
}

// NeedsFullRefresh reports the current recovery flag.
func (rs *RenderState) NeedsFullRefresh() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.needsFullRefresh
}

// MarkRenderFailure sets needs_full_refresh after a render attempt fails.
func (rs *RenderState) MarkRenderFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.needsFullRefresh = true
}

// ConsumeFullRefresh reports whether a full redraw is owed and clears the
// flag, so the erase-and-redraw is applied exactly once per failure.
func (rs *RenderState) ConsumeFullRefresh() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	owed := rs.needsFullRefresh
	rs.needsFullRefresh = false
	return owed
}

// Frame runs draw under panic recovery. On success the frame is cached and
// returned; on panic the recovery flag is set and the last good frame is
// returned so the live area never tears and no panic propagates into the
// event loop.
func (rs *RenderState) Frame(draw func() string) (frame string) {
	defer func() {
		if r := recover(); r != nil {
			rs.MarkRenderFailure()
			rs.mu.Lock()
			frame = rs.lastFrame
			rs.mu.Unlock()
		}
	}()
	frame = draw()
	rs.mu.Lock()
	rs.lastFrame = frame
	rs.mu.Unlock()
	return frame
}
