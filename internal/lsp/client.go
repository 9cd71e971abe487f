// Package lsp attaches language-server diagnostics to the read and edit
// tools' results, via powernap-managed LSP clients.
package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	powernap "github.com/charmbracelet/x/powernap/pkg/lsp"
	"github.com/charmbracelet/x/powernap/pkg/lsp/protocol"
	"github.com/rs/zerolog/log"
)

// Severity values from the LSP spec; only these two reach tool results.
const (
	SeverityError   = 1
	SeverityWarning = 2
)

// Client is one running language server plus the diagnostics it has
// published, keyed by document URI.
type Client struct {
	inner    *powernap.Client
	serverID string

	mu          sync.Mutex
	diags       map[string][]protocol.Diagnostic
	versions    map[string]int // document versions; presence means "open"
	diagChanged chan struct{}  // pulsed on every publishDiagnostics
}

// newClient spawns the server process and installs notification handlers.
func newClient(serverID string, cfg powernap.ClientConfig) (*Client, error) {
	inner, err := powernap.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("lsp: start %s: %w", serverID, err)
	}

	c := &Client{
		inner:       inner,
		serverID:    serverID,
		diags:       make(map[string][]protocol.Diagnostic),
		versions:    make(map[string]int),
		diagChanged: make(chan struct{}, 1),
	}

	// Diagnostics handler must be in place before Initialize: some
	// servers publish immediately after the handshake.
	inner.RegisterNotificationHandler(
		"textDocument/publishDiagnostics",
		func(_ context.Context, _ string, params json.RawMessage) {
			var p protocol.PublishDiagnosticsParams
			if err := json.Unmarshal(params, &p); err != nil {
				log.Error().Err(err).Str("server", serverID).Msg("bad diagnostics payload")
				return
			}
			c.mu.Lock()
			c.diags[string(p.URI)] = p.Diagnostics
			c.mu.Unlock()
			select {
			case c.diagChanged <- struct{}{}:
			default:
			}
		},
	)

	// Quiet stubs for requests servers commonly make.
	inner.RegisterHandler("window/workDoneProgress/create",
		func(_ context.Context, _ string, _ json.RawMessage) (any, error) { return nil, nil })
	inner.RegisterHandler("client/registerCapability",
		func(_ context.Context, _ string, _ json.RawMessage) (any, error) { return nil, nil })
	inner.RegisterNotificationHandler("$/progress",
		func(_ context.Context, _ string, _ json.RawMessage) {})
	inner.RegisterNotificationHandler("window/logMessage",
		func(_ context.Context, _ string, _ json.RawMessage) {})

	return c, nil
}

// initialize runs the LSP handshake.
func (c *Client) initialize(ctx context.Context) error {
	return c.inner.Initialize(ctx, false)
}

// openFile syncs absPath to the server: didOpen on first contact, a
// whole-document didChange afterwards. Content always comes from disk —
// the tools just wrote it there.
func (c *Client) openFile(ctx context.Context, absPath string) error {
	uri := string(protocol.URIFromPath(absPath))

	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("lsp: read %s: %w", absPath, err)
	}

	c.mu.Lock()
	version, open := c.versions[uri]
	if open {
		version++
	}
	c.versions[uri] = version
	c.mu.Unlock()

	if !open {
		lang := powernap.DetectLanguage(absPath)
		return c.inner.NotifyDidOpenTextDocument(ctx, uri, string(lang), 0, string(data))
	}
	change := protocol.TextDocumentContentChangeEvent{
		Value: protocol.TextDocumentContentChangeWholeDocument{Text: string(data)},
	}
	return c.inner.NotifyDidChangeTextDocument(ctx, uri, version, []protocol.TextDocumentContentChangeEvent{change})
}

// notifyAndWait syncs the file and waits for the server's next diagnostics
// batch, debounced so multi-publish servers settle before we read.
func (c *Client) notifyAndWait(ctx context.Context, absPath string, timeout time.Duration) ([]protocol.Diagnostic, error) {
	// Drop stale pulses from earlier edits first.
	for {
		select {
		case <-c.diagChanged:
			continue
		default:
		}
		break
	}

	if err := c.openFile(ctx, absPath); err != nil {
		return nil, err
	}

	uri := string(protocol.URIFromPath(absPath))
	deadline := time.After(timeout)
	const settle = 150 * time.Millisecond
	var settled *time.Timer

	for {
		select {
		case <-c.diagChanged:
			if settled != nil {
				settled.Stop()
			}
			settled = time.NewTimer(settle)
		case <-timerChan(settled):
			return c.snapshot(uri), nil
		case <-deadline:
			return c.snapshot(uri), nil
		case <-ctx.Done():
			return c.snapshot(uri), nil
		}
	}
}

func (c *Client) snapshot(uri string) []protocol.Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diags[uri]
}

// close asks the server to shut down, killing it if that fails.
func (c *Client) close(ctx context.Context) error {
	if err := c.inner.Shutdown(ctx); err != nil {
		c.inner.Kill()
		return fmt.Errorf("lsp: shutdown %s: %w", c.serverID, err)
	}
	return c.inner.Exit()
}

// timerChan reads nil-safely from an optional timer.
func timerChan(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
