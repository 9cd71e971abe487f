package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/darwin-finch/finch/internal/persona"
	"github.com/darwin-finch/finch/internal/provider"
)

// Generator is the minimal text-in/text-out LLM surface the reflection
// engine needs — the same shape as planloop.Generator, kept as a separate
// local interface so this package doesn't import planloop for an
// unrelated concern.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ProviderGenerator adapts a provider.Provider to Generator by draining a
// single non-tool ChatStream call, mirroring
// internal/planloop.ProviderGenerator.
type ProviderGenerator struct {
	Provider provider.Provider
}

func (g ProviderGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.Provider == nil {
		return "", fmt.Errorf("agent: no provider configured")
	}
	messages := []provider.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}
	stream, err := g.Provider.ChatStream(ctx, messages, nil)
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

const reflectionSystemPrompt = "You update a coding persona's system prompt based on its recent task history. " +
	"Respond with a concise 2-5 sentence replacement system prompt only — no preamble, no markdown fences."

// ReflectionEngine periodically asks the LLM to rewrite a persona's
// system_prompt based on its recent task history, patching only that one
// field (spec §4.8). It never touches personaInfo or the rest of behavior.
type ReflectionEngine struct {
	gen         Generator
	personaPath string
}

// NewReflectionEngine returns an engine that patches the persona file at
// personaPath using gen for the rewrite call.
func NewReflectionEngine(gen Generator, personaPath string) *ReflectionEngine {
	return &ReflectionEngine{gen: gen, personaPath: personaPath}
}

// Reflect loads the current persona, asks the LLM for an updated
// system_prompt given recentDescriptions, and patches the file in place.
func (r *ReflectionEngine) Reflect(ctx context.Context, recentDescriptions []string) error {
	p, err := persona.Load(r.personaPath)
	if err != nil {
		return fmt.Errorf("agent: reflect: load persona: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current system prompt:\n%s\n\n", p.Behavior.SystemPrompt)
	b.WriteString("Recently completed tasks:\n")
	for _, d := range recentDescriptions {
		fmt.Fprintf(&b, "- %s\n", d)
	}

	newPrompt, err := r.gen.Generate(ctx, reflectionSystemPrompt, b.String())
	if err != nil {
		return fmt.Errorf("agent: reflect: generate: %w", err)
	}
	newPrompt = strings.TrimSpace(newPrompt)
	if newPrompt == "" {
		return nil
	}

	return persona.PatchSystemPrompt(r.personaPath, newPrompt)
}
