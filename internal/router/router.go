// Package router implements the threshold-based local/remote routing
// decision and its online learning update (C9), grounded on
// original_source/src/router/decision.rs.
package router

import (
	"encoding/json"
	"os"
	"sync"
)

// ForwardReason explains why a query was routed to the remote generator.
type ForwardReason string

const (
	ReasonNoMatch       ForwardReason = "no_match"
	ReasonLowConfidence ForwardReason = "low_confidence"
	ReasonModelNotReady ForwardReason = "model_not_ready"
)

// Decision is the outcome of a routing call: either Local (try the local
// generator) or Forward (use the remote/cloud provider).
type Decision struct {
	Local      bool
	Confidence float64
	Reason     ForwardReason
}

// GeneratorState describes local-model readiness during progressive
// bootstrap.
type GeneratorState int

const (
	Initializing GeneratorState = iota
	Downloading
	Loading
	Ready
	Failed
	NotAvailable
)

// State is the persisted ThresholdRouter state from the data model (§3).
type State struct {
	TotalQueries        int     `json:"total_queries"`
	TotalLocalAttempts   int     `json:"total_local_attempts"`
	TotalSuccesses       int     `json:"total_successes"`
	ConfidenceThreshold  float64 `json:"confidence_threshold"`
}

// defaultThreshold is the confidence threshold a fresh router is seeded
// with at startup.
const defaultThreshold = 0.5

const (
	minThreshold = 0.05
	maxThreshold = 1.0
)

// Router is the threshold-based router. should_try_local is a simple
// comparison against the current confidence threshold; the threshold
// itself is adapted by learn_local_attempt/learn_forwarded.
//
// The spec leaves the adaptation formula unspecified beyond "signal set and
// update points" (§9 Open Questions). Finch's decision: a successful local
// attempt multiplies the threshold by 0.98 (more permissive, floored at
// minThreshold); a failed attempt multiplies by 1.08 (more conservative,
// capped at maxThreshold). See DESIGN.md.
type Router struct {
	mu    sync.Mutex
	state State
}

// New returns a router seeded with defaultThreshold, or the given initial
// threshold if non-zero.
func New(initialThreshold float64) *Router {
	th := initialThreshold
	if th <= 0 {
		th = defaultThreshold
	}
	return &Router{state: State{ConfidenceThreshold: th}}
}

// Load reads persisted router state from path. Missing file is not an
// error: a fresh router is returned instead.
func Load(path string) (*Router, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(0), nil
	}
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.ConfidenceThreshold <= 0 {
		st.ConfidenceThreshold = defaultThreshold
	}
	return &Router{state: st}, nil
}

// Save persists router state to path.
func (r *Router) Save(path string) error {
	r.mu.Lock()
	data, err := json.MarshalIndent(r.state, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ShouldTryLocal reports whether the current confidence threshold favors
// trying the local generator. The query text itself is not (yet) used by
// the signal — only the global threshold — matching the source's
// data-driven-threshold-only routing layer (no per-pattern matcher kept;
// the pattern-matching layer from original_source/src/patterns was a
// separate, explicitly-superseded mechanism per decision.rs's own comment
// that the Local{pattern_id} variant is "no longer used").
func (r *Router) ShouldTryLocal(_ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.ConfidenceThreshold >= defaultThreshold
}

// Route makes a plain routing decision, ignoring generator readiness.
func (r *Router) Route(query string) Decision {
	if r.ShouldTryLocal(query) {
		r.mu.Lock()
		conf := r.state.ConfidenceThreshold
		r.mu.Unlock()
		return Decision{Local: true, Confidence: conf}
	}
	return Decision{Local: false, Reason: ReasonNoMatch}
}

// RouteWithGeneratorCheck is the progressive-bootstrap-aware entry point
// (testable property 14). When the local generator is not ready, it
// unconditionally forwards with ReasonModelNotReady so cold start stays
// responsive, regardless of what Route would otherwise decide.
func (r *Router) RouteWithGeneratorCheck(query string, generatorReady bool) Decision {
	if !generatorReady {
		return Decision{Local: false, Reason: ReasonModelNotReady}
	}
	return r.Route(query)
}

// LearnLocalAttempt records the outcome of a local-generation attempt and
// adapts the confidence threshold.
func (r *Router) LearnLocalAttempt(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.TotalQueries++
	r.state.TotalLocalAttempts++
	if success {
		r.state.TotalSuccesses++
		r.state.ConfidenceThreshold *= 0.98
		if r.state.ConfidenceThreshold < minThreshold {
			r.state.ConfidenceThreshold = minThreshold
		}
	} else {
		r.state.ConfidenceThreshold *= 1.08
		if r.state.ConfidenceThreshold > maxThreshold {
			r.state.ConfidenceThreshold = maxThreshold
		}
	}
}

// LearnForwarded records that a query was forwarded without a local
// attempt.
func (r *Router) LearnForwarded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.TotalQueries++
}

// Stats returns a snapshot of the router's current state.
func (r *Router) Stats() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
