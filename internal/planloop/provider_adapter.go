package planloop

import (
	"context"
	"fmt"
	"time"

	"github.com/darwin-finch/finch/internal/provider"
)

// ChatStreamer is the minimal streaming surface the plan loop needs —
// structurally satisfied by a provider.Provider, a *provider.Chain, or the
// orchestrator's Streamer.
type ChatStreamer interface {
	ChatStream(ctx context.Context, messages []provider.Message, tools []provider.Tool) (<-chan provider.StreamEvent, error)
}

// OrchestratorGenerator adapts a streaming chat surface to the plan loop's
// text-in/text-out Generator contract. No tools are offered — IMPCPD's
// generate/critique calls are plain completions (spec §4.7).
type OrchestratorGenerator struct {
	Stream ChatStreamer
}

// Generate sends a single system+user turn and collects the full text
// response.
func (g OrchestratorGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.Stream == nil {
		return "", fmt.Errorf("planloop: no generator configured")
	}
	messages := []provider.Message{
		{Role: "system", Content: systemPrompt, CreatedAt: time.Now()},
		{Role: "user", Content: userPrompt, CreatedAt: time.Now()},
	}
	stream, err := g.Stream.ChatStream(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	var content string
	for evt := range stream {
		switch evt.Type {
		case provider.EventContentDelta:
			content += evt.Content
		case provider.EventError:
			return "", evt.Err
		}
	}
	return content, nil
}
