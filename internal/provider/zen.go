package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	zen "github.com/sacenox/go-opencode-ai-zen-sdk"
)

// ZenProvider routes the cloud provider tags (claude, openai, grok,
// gemini, mistral, groq) through the zen gateway SDK. The gateway
// normalizes requests but replays each vendor's native stream format, so
// this file carries one small emitter per wire dialect, working over
// loosely typed JSON — gateway payloads are foreign input and must never
// panic the client (§7).
type ZenProvider struct {
	name        string
	client      *zen.Client
	model       string
	temperature float64
}

const zenDefaultBaseURL = "https://opencode.ai/zen/v1"

// NewZen connects a gateway client.
func NewZen(name, apiKey, baseURL, model string, temperature float64) (*ZenProvider, error) {
	client, err := zen.NewClient(zen.Config{APIKey: apiKey, BaseURL: baseURL})
	if err != nil {
		return nil, err
	}
	return &ZenProvider{name: name, client: client, model: model, temperature: temperature}, nil
}

func (p *ZenProvider) Name() string { return p.name }

// ChatStream issues one normalized streaming request and adapts whatever
// dialect comes back.
func (p *ZenProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	system, rest := splitSystem(messages)
	req := zen.NormalizedRequest{
		Model:    p.model,
		System:   system,
		Messages: toZenMessages(rest),
		Tools:    toZenTools(tools),
		Stream:   true,
	}
	if p.temperature > 0 {
		req.Temperature = &p.temperature
	}
	maxTokens := 16000
	req.MaxTokens = &maxTokens

	events, errs, err := p.client.UnifiedStreamNormalized(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if !p.emit(ctx, ch, ev) {
					return
				}
			case err, ok := <-errs:
				if ok && err != nil {
					var apiErr *zen.APIError
					if errors.As(err, &apiErr) {
						log.Error().Int("status", apiErr.StatusCode).Str("body", string(apiErr.Body)).Msg("zen stream API error")
					}
					trySend(ctx, ch, StreamEvent{Type: EventError, Err: err})
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// emit dispatches one gateway event to the dialect it belongs to.
func (p *ZenProvider) emit(ctx context.Context, ch chan<- StreamEvent, ev zen.UnifiedEvent) bool {
	if len(ev.Data) == 0 || string(ev.Data) == "[DONE]" {
		return trySend(ctx, ch, StreamEvent{Type: EventDone})
	}

	var chunk jsonMap
	if err := json.Unmarshal(ev.Data, &chunk); err != nil {
		return true // skip garbage, keep the stream alive
	}

	switch ev.Endpoint {
	case zen.EndpointMessages:
		return emitMessagesDialect(ctx, ch, ev.Event, chunk)
	case zen.EndpointModels:
		return emitGeminiDialect(ctx, ch, chunk)
	case zen.EndpointResponses:
		return emitResponsesDialect(ctx, ch, ev.Event, chunk)
	default:
		return emitChatDialect(ctx, ch, chunk)
	}
}

// emitChatDialect handles OpenAI chat-completions chunks.
func emitChatDialect(ctx context.Context, ch chan<- StreamEvent, chunk jsonMap) bool {
	if usage := chunk.sub("usage"); usage != nil {
		if !trySend(ctx, ch, StreamEvent{Type: EventUsage, InputTokens: usage.num("prompt_tokens"), OutputTokens: usage.num("completion_tokens")}) {
			return false
		}
	}

	delta := chunk.sub("delta")
	if choices := chunk.list("choices"); len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			delta = jsonMap(choice).sub("delta")
		}
	}
	if delta == nil {
		return true
	}

	if reasoning := delta.str("reasoning") + delta.str("reasoning_content"); reasoning != "" {
		if !trySend(ctx, ch, StreamEvent{Type: EventReasoningDelta, Content: reasoning}) {
			return false
		}
	}
	if content := delta.str("content"); content != "" {
		if !trySend(ctx, ch, StreamEvent{Type: EventContentDelta, Content: content}) {
			return false
		}
	}
	for _, raw := range delta.list("tool_calls") {
		tc, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		call := jsonMap(tc)
		fn := call.sub("function")
		if fn == nil {
			continue
		}
		idx := call.num("index")
		if name := fn.str("name"); name != "" {
			if !trySend(ctx, ch, StreamEvent{Type: EventToolCallBegin, ToolCallIndex: idx, ToolCallID: call.str("id"), ToolCallName: name}) {
				return false
			}
		}
		if args := fn.str("arguments"); args != "" {
			if !trySend(ctx, ch, StreamEvent{Type: EventToolCallDelta, ToolCallIndex: idx, ToolCallArgs: args}) {
				return false
			}
		}
	}
	return true
}

// emitMessagesDialect handles Anthropic Messages chunks replayed by the
// gateway.
func emitMessagesDialect(ctx context.Context, ch chan<- StreamEvent, event string, chunk jsonMap) bool {
	switch event {
	case "content_block_start":
		cb := chunk.sub("content_block")
		if cb.str("type") != "tool_use" {
			return true
		}
		return trySend(ctx, ch, StreamEvent{
			Type:          EventToolCallBegin,
			ToolCallIndex: chunk.num("index"),
			ToolCallID:    cb.str("id"),
			ToolCallName:  cb.str("name"),
		})

	case "content_block_delta":
		delta := chunk.sub("delta")
		switch delta.str("type") {
		case "text_delta":
			if text := delta.str("text"); text != "" {
				return trySend(ctx, ch, StreamEvent{Type: EventContentDelta, Content: text})
			}
		case "thinking_delta":
			if thinking := delta.str("thinking"); thinking != "" {
				return trySend(ctx, ch, StreamEvent{Type: EventReasoningDelta, Content: thinking})
			}
		case "input_json_delta":
			if args := delta.str("partial_json"); args != "" {
				return trySend(ctx, ch, StreamEvent{Type: EventToolCallDelta, ToolCallIndex: chunk.num("index"), ToolCallArgs: args})
			}
		}

	case "message_delta":
		if usage := chunk.sub("usage"); usage != nil {
			in, out := usage.num("input_tokens"), usage.num("output_tokens")
			if in > 0 || out > 0 {
				return trySend(ctx, ch, StreamEvent{Type: EventUsage, InputTokens: in, OutputTokens: out})
			}
		}
	}
	return true
}

// emitGeminiDialect handles generateContent chunks:
// candidates[0].content.parts[].{text,functionCall}.
func emitGeminiDialect(ctx context.Context, ch chan<- StreamEvent, chunk jsonMap) bool {
	candidates := chunk.list("candidates")
	if len(candidates) > 0 {
		candidate, _ := candidates[0].(map[string]any)
		content := jsonMap(candidate).sub("content")
		for idx, raw := range content.list("parts") {
			part, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			pm := jsonMap(part)
			if text := pm.str("text"); text != "" {
				if !trySend(ctx, ch, StreamEvent{Type: EventContentDelta, Content: text}) {
					return false
				}
			}
			fc := pm.sub("functionCall")
			if fc == nil {
				continue
			}
			if name := fc.str("name"); name != "" {
				if !trySend(ctx, ch, StreamEvent{Type: EventToolCallBegin, ToolCallIndex: idx, ToolCallName: name}) {
					return false
				}
			}
			if args, ok := fc["args"]; ok {
				if argsJSON, err := json.Marshal(args); err == nil {
					if !trySend(ctx, ch, StreamEvent{Type: EventToolCallDelta, ToolCallIndex: idx, ToolCallArgs: string(argsJSON)}) {
						return false
					}
				}
			}
		}
	}

	if meta := chunk.sub("usageMetadata"); meta != nil {
		in, out := meta.num("promptTokenCount"), meta.num("candidatesTokenCount")
		if in > 0 || out > 0 {
			return trySend(ctx, ch, StreamEvent{Type: EventUsage, InputTokens: in, OutputTokens: out})
		}
	}
	return true
}

// emitResponsesDialect handles OpenAI Responses API chunks.
func emitResponsesDialect(ctx context.Context, ch chan<- StreamEvent, event string, chunk jsonMap) bool {
	switch event {
	case "response.output_text.delta":
		if delta := chunk.str("delta"); delta != "" {
			return trySend(ctx, ch, StreamEvent{Type: EventContentDelta, Content: delta})
		}
	case "response.output_item.added":
		item := chunk.sub("item")
		if item.str("type") == "function_call" {
			return trySend(ctx, ch, StreamEvent{
				Type:          EventToolCallBegin,
				ToolCallIndex: chunk.num("output_index"),
				ToolCallID:    item.str("call_id"),
				ToolCallName:  item.str("name"),
			})
		}
	case "response.function_call_arguments.delta":
		if delta := chunk.str("delta"); delta != "" {
			return trySend(ctx, ch, StreamEvent{Type: EventToolCallDelta, ToolCallIndex: chunk.num("output_index"), ToolCallArgs: delta})
		}
	case "response.completed":
		if usage := chunk.sub("response").sub("usage"); usage != nil {
			return trySend(ctx, ch, StreamEvent{Type: EventUsage, InputTokens: usage.num("input_tokens"), OutputTokens: usage.num("output_tokens")})
		}
	}
	return true
}

// ListModels enumerates the gateway's model catalog.
func (p *ZenProvider) ListModels(ctx context.Context) ([]Model, error) {
	resp, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("zen: list models: %w", err)
	}
	models := make([]Model, len(resp.Data))
	for i, m := range resp.Data {
		models[i] = Model{Name: m.ID}
	}
	return models, nil
}

// Close releases nothing; the SDK client holds no persistent connections.
func (p *ZenProvider) Close() error { return nil }

// splitSystem hoists system/developer turns into the normalized request's
// dedicated System field.
func splitSystem(messages []Message) (system string, rest []Message) {
	var parts []string
	for _, m := range messages {
		if strings.EqualFold(m.Role, roleSystem) || strings.EqualFold(m.Role, "developer") {
			if s := strings.TrimSpace(m.Content); s != "" {
				parts = append(parts, s)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}

func toZenMessages(messages []Message) []zen.NormalizedMessage {
	out := make([]zen.NormalizedMessage, len(messages))
	for i, m := range messages {
		nm := zen.NormalizedMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			nm.ToolCalls = append(nm.ToolCalls, zen.NormalizedToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		out[i] = nm
	}
	return out
}

func toZenTools(tools []Tool) []zen.NormalizedTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]zen.NormalizedTool, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out[i] = zen.NormalizedTool{Name: t.Name, Description: t.Description, Parameters: params}
	}
	return out
}

// jsonMap is loosely typed gateway JSON with nil-safe accessors: reading
// from a nil map is legal in Go, so lookups chain without any nil checks
// along the way.
type jsonMap map[string]any

// sub returns a nested object; nil when absent or not an object.
func (m jsonMap) sub(key string) jsonMap {
	v, _ := m[key].(map[string]any)
	return jsonMap(v)
}

func (m jsonMap) list(key string) []any {
	v, _ := m[key].([]any)
	return v
}

func (m jsonMap) str(key string) string {
	s, _ := m[key].(string)
	return s
}

func (m jsonMap) num(key string) int {
	switch n := m[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return 0
}

// ZenFactory builds gateway providers for the cloud tags.
type ZenFactory struct {
	name    string
	apiKey  string
	baseURL string
}

func NewZenFactory(name, apiKey, baseURL string) *ZenFactory {
	return &ZenFactory{name: name, apiKey: apiKey, baseURL: baseURL}
}

func (f *ZenFactory) Name() string { return f.name }

// Create builds the provider; a client that cannot even be constructed
// becomes a provider that fails on first use rather than a panic at
// wiring time.
func (f *ZenFactory) Create(model string, opts Options) Provider {
	baseURL := f.baseURL
	if baseURL == "" {
		baseURL = zenDefaultBaseURL
	}
	p, err := NewZen(f.name, f.apiKey, strings.TrimRight(baseURL, "/"), model, opts.Temperature)
	if err != nil {
		log.Error().Err(err).Str("factory", f.name).Msg("zen client construction failed")
		return &brokenProvider{name: f.name, err: err}
	}
	return p
}

// brokenProvider surfaces a construction failure as a call-time error.
type brokenProvider struct {
	name string
	err  error
}

func (p *brokenProvider) Name() string { return p.name }
func (p *brokenProvider) ChatStream(context.Context, []Message, []Tool) (<-chan StreamEvent, error) {
	return nil, fmt.Errorf("provider %s unavailable: %w", p.name, p.err)
}
func (p *brokenProvider) ListModels(context.Context) ([]Model, error) {
	return nil, fmt.Errorf("provider %s unavailable: %w", p.name, p.err)
}
func (p *brokenProvider) Close() error { return nil }
