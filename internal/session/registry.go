// Package session implements the session registry (§3 "Session (registry)"):
// map session-id -> {created_at, last_activity, conversation snapshot,
// metadata}, with capacity and idle-timeout enforcement.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one entry in the registry.
type Record struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
	Metadata     map[string]string
}

// Registry is the session-id -> Record map, capacity- and
// idle-timeout-enforced (§5 resource limits: default 100 sessions, default
// 30 min idle timeout).
type Registry struct {
	mu           sync.Mutex
	sessions     map[string]*Record
	maxSessions  int
	idleTimeout  time.Duration
}

// New returns a registry with the given capacity and idle timeout.
func New(maxSessions int, idleTimeout time.Duration) *Registry {
	return &Registry{
		sessions:    make(map[string]*Record),
		maxSessions: maxSessions,
		idleTimeout: idleTimeout,
	}
}

// Create allocates a new session id and registers it. Returns an error
// ("Maximum session limit...") if the registry is at capacity.
func (r *Registry) Create() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.maxSessions {
		return "", fmt.Errorf("Maximum session limit (%d) reached", r.maxSessions)
	}

	id := uuid.NewString()
	now := time.Now()
	r.sessions[id] = &Record{ID: id, CreatedAt: now, LastActivity: now, Metadata: map[string]string{}}
	return id, nil
}

// Adopt registers an externally minted session id (the REPL's persisted
// session ids come from the store, not from Create). Same capacity rule as
// Create; adopting an already-registered id just touches it.
func (r *Registry) Adopt(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if rec, ok := r.sessions[id]; ok {
		rec.LastActivity = now
		return nil
	}
	if len(r.sessions) >= r.maxSessions {
		return fmt.Errorf("Maximum session limit (%d) reached", r.maxSessions)
	}
	r.sessions[id] = &Record{ID: id, CreatedAt: now, LastActivity: now, Metadata: map[string]string{}}
	return nil
}

// Touch updates last_activity for id to now, if it exists.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.sessions[id]; ok {
		rec.LastActivity = time.Now()
	}
}

// ActiveCount returns the number of registered sessions (not filtered by
// expiry — the registry does not evict automatically, the caller prunes
// via PruneExpired, or IsExpired + Remove).
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Remove deletes a session from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// IsExpired reports whether lastActivity is at or beyond idleTimeout in the
// past relative to now (testable property 10: >=, not >).
func IsExpired(lastActivity, now time.Time, idleTimeout time.Duration) bool {
	return !now.Before(lastActivity.Add(idleTimeout))
}

// PruneExpired removes every session whose last_activity is expired per
// IsExpired, returning the removed ids.
func (r *Registry) PruneExpired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var removed []string
	for id, rec := range r.sessions {
		if IsExpired(rec.LastActivity, now, r.idleTimeout) {
			delete(r.sessions, id)
			removed = append(removed, id)
		}
	}
	return removed
}
