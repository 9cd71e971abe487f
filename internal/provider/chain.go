package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
)

// Chain is the ordered fallback chain from spec §4.1: ChatStream tries each
// provider in order until one succeeds. A provider is "failed" for chain
// purposes on transport error, rate limit, or auth error; any other error
// propagates immediately without trying the rest of the chain.
//
// At-most-once completion: the chain only falls back before the first
// StreamEvent is observed from a given provider. Once a provider has
// emitted anything, failure from that point on is terminal for the call —
// the chain never re-issues a request that may have already produced
// partial, possibly billed, output.
type Chain struct {
	mu        sync.RWMutex
	providers []Provider
}

// NewChain returns a fallback chain trying providers in the given order.
// Index 0 is the active provider (spec §3 "Provider list").
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Providers returns a snapshot of the chain's ordered provider list.
func (c *Chain) Providers() []Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

// Names returns the chain's provider names in order.
func (c *Chain) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Activate moves the named provider to index 0 — the runtime provider
// switch is this one slice rotation under the write guard. Reports
// whether the name was found.
func (c *Chain) Activate(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.providers {
		if p.Name() == name {
			target := c.providers[i]
			c.providers = append(c.providers[:i], c.providers[i+1:]...)
			c.providers = append([]Provider{target}, c.providers...)
			return true
		}
	}
	return false
}

// ChatStream tries each provider in order. The returned channel carries
// events from whichever provider's stream actually starts producing output;
// once the first event from a provider other than a chain-level failure
// arrives, no further fallback occurs even if that provider later errors.
func (c *Chain) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	providers := c.Providers()
	if len(providers) == 0 {
		return nil, errors.New("provider: fallback chain is empty")
	}

	var lastErr error
	for i, p := range providers {
		out, err := p.ChatStream(ctx, messages, tools)
		if err != nil {
			if isChainFailure(err) {
				log.Warn().Str("provider", p.Name()).Err(err).Int("chain_index", i).Msg("provider failed before first delta, trying next")
				lastErr = err
				continue
			}
			return nil, err
		}
		return c.guardAtMostOnce(out), nil
	}
	return nil, errors.Join(errors.New("provider: all providers in fallback chain failed"), lastErr)
}

// guardAtMostOnce forwards events from a single provider's stream
// unmodified — the chain never swaps providers mid-stream. It exists as an
// explicit seam naming the at-most-once-completion invariant so it is
// visible at the call site rather than implicit.
func (c *Chain) guardAtMostOnce(in <-chan StreamEvent) <-chan StreamEvent {
	return in
}

// isChainFailure classifies an error as transport/rate-limit/auth, which
// the fallback chain treats as "this provider failed, try the next."
func isChainFailure(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var statusErr interface{ StatusCode() int }
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode()
		return code == http.StatusTooManyRequests || code == http.StatusUnauthorized || code == http.StatusForbidden || code >= 500
	}
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrAuth)
}

// Sentinel error classes a concrete Provider implementation can wrap its
// errors in so the chain recognizes them without depending on
// vendor-specific error types.
var (
	ErrTransport   = errors.New("provider: transport error")
	ErrRateLimited = errors.New("provider: rate limited")
	ErrAuth        = errors.New("provider: authentication error")
)
