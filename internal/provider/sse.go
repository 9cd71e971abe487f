package provider

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Shared SSE transport for every HTTP streaming provider. Retries cover
// only the initial connection — once a stream has produced output there is
// no retry here, keeping the fallback chain's at-most-once-completion
// invariant intact.

// sseRequest describes one streaming POST.
type sseRequest struct {
	client   *http.Client
	url      string
	body     []byte
	headers  map[string]string
	provider string // logging only
	model    string // logging only
}

// connectBackoff spaces the initial-connection retries.
var connectBackoff = []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}

// openSSE performs the POST and hands back the response body once a
// non-transient status arrives. The caller owns closing the reader.
func openSSE(ctx context.Context, req sseRequest) (io.ReadCloser, error) {
	var lastErr error
	for attempt := 0; attempt <= len(connectBackoff); attempt++ {
		if attempt == 0 {
			log.Info().Str("provider", req.provider).Str("model", req.model).Msg("opening stream")
		} else {
			delay := connectBackoff[attempt-1]
			log.Warn().Str("provider", req.provider).Int("attempt", attempt).Dur("delay", delay).Msg("retrying stream connection")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, fatal, transient := attemptSSE(ctx, req)
		if fatal != nil {
			return nil, fatal
		}
		if transient != nil {
			lastErr = transient
			continue
		}
		return body, nil
	}
	return nil, fmt.Errorf("stream connection failed after %d retries: %w", len(connectBackoff), lastErr)
}

// attemptSSE makes one POST. Exactly one of (body, fatal, transient) is
// non-nil.
func attemptSSE(ctx context.Context, req sseRequest) (io.ReadCloser, error, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.url, bytes.NewReader(req.body))
	if err != nil {
		return nil, err, nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := req.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err, nil
		}
		return nil, nil, err
	}

	switch {
	case transientStatus(resp.StatusCode):
		defer resp.Body.Close()
		payload, _ := io.ReadAll(resp.Body)
		return nil, nil, fmt.Errorf("stream request status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		defer resp.Body.Close()
		payload, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("stream request status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))), nil
	}
	return resp.Body, nil, nil
}

// transientStatus reports whether code is worth an initial-connection
// retry: rate limiting or a gateway hiccup.
func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// newSSEScanner builds a line scanner sized for large SSE payloads.
func newSSEScanner(reader io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	return scanner
}

// trySend delivers evt unless ctx is done. Returns false when the consumer
// is gone and the parser should stop.
func trySend(ctx context.Context, ch chan<- StreamEvent, evt StreamEvent) bool {
	select {
	case ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}
