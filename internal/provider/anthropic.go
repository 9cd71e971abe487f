package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Direct Anthropic Messages API transport, used when a claude entry names
// its own base_url instead of the zen gateway.

const anthropicDefaultBaseURL = "https://api.anthropic.com"

// Request shapes.

type anthropicRequest struct {
	Model       string                `json:"model"`
	Messages    []anthropicMessage    `json:"messages"`
	System      []anthropicCacheBlock `json:"system,omitempty"`
	MaxTokens   int                   `json:"max_tokens"`
	Temperature float64               `json:"temperature,omitempty"`
	Stream      bool                  `json:"stream"`
	Tools       []anthropicTool       `json:"tools,omitempty"`
}

// anthropicCacheBlock is a system content block; the trailing one carries
// cache_control so tools+system form a stable cached prefix across turns.
type anthropicCacheBlock struct {
	Type         string                 `json:"type"` // "text"
	Text         string                 `json:"text"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicCacheControl struct {
	Type string `json:"type"` // "ephemeral"
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or a block slice
}

type anthropicTool struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	InputSchema  json.RawMessage        `json:"input_schema"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

// Content block variants for assistant/tool history entries.

type anthropicTextBlock struct {
	Type string `json:"type"` // "text"
	Text string `json:"text"`
}

type anthropicToolUseBlock struct {
	Type  string          `json:"type"` // "tool_use"
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type anthropicToolResultBlock struct {
	Type      string `json:"type"` // "tool_result"
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

// toAnthropicMessages converts provider-agnostic history to Messages API
// shape: system turns hoisted out (the API takes them separately), tool
// results as user-role tool_result blocks, assistant tool calls as
// tool_use blocks.
func toAnthropicMessages(messages []Message) ([]anthropicCacheBlock, []anthropicMessage) {
	var systemParts []string
	var out []anthropicMessage

	for _, m := range messages {
		switch {
		case m.Role == roleSystem:
			systemParts = append(systemParts, m.Content)

		case m.Role == "tool":
			out = append(out, anthropicMessage{
				Role: "user",
				Content: []anthropicToolResultBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})

		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			var blocks []any
			if m.Content != "" {
				blocks = append(blocks, anthropicTextBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropicToolUseBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			out = append(out, anthropicMessage{Role: "assistant", Content: blocks})

		default:
			out = append(out, anthropicMessage{Role: m.Role, Content: m.Content})
		}
	}

	var system []anthropicCacheBlock
	for _, part := range systemParts {
		system = append(system, anthropicCacheBlock{Type: "text", Text: part})
	}
	if len(system) > 0 {
		system[len(system)-1].CacheControl = &anthropicCacheControl{Type: "ephemeral"}
	}
	return system, out
}

// toAnthropicTools converts tool definitions; schemas pass through as raw
// JSON so serialization order stays byte-stable (it participates in the
// prompt cache key). The last tool carries cache_control.
func toAnthropicTools(tools []Tool) []anthropicTool {
	if tools == nil {
		return nil
	}
	out := make([]anthropicTool, len(tools))
	for i, t := range tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out[i] = anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema}
	}
	out[len(out)-1].CacheControl = &anthropicCacheControl{Type: "ephemeral"}
	return out
}

// Streamed event payloads.

type anthropicBlockStart struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"` // "text" or "tool_use"
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"content_block"`
}

type anthropicBlockDelta struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"` // text_delta / thinking_delta / input_json_delta
		Text        string `json:"text,omitempty"`
		Thinking    string `json:"thinking,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta"`
}

type anthropicUsageEnvelope struct {
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// parseAnthropicSSEStream pumps a Messages API stream into StreamEvents.
// The API numbers content blocks; tool_use blocks are renumbered into
// sequential tool-call indices as they open.
func parseAnthropicSSEStream(ctx context.Context, reader io.Reader, ch chan<- StreamEvent) {
	scanner := newSSEScanner(reader)
	toolIdx := map[int]int{}
	toolCount := 0
	eventType := ""

	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			eventType = name
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		switch eventType {
		case "message_stop":
			trySend(ctx, ch, StreamEvent{Type: EventDone})
			return

		case "content_block_start":
			var evt anthropicBlockStart
			if !decodeAnthropicEvent(eventType, data, &evt) || evt.ContentBlock.Type != "tool_use" {
				break
			}
			toolIdx[evt.Index] = toolCount
			begin := StreamEvent{
				Type:          EventToolCallBegin,
				ToolCallIndex: toolCount,
				ToolCallID:    evt.ContentBlock.ID,
				ToolCallName:  evt.ContentBlock.Name,
			}
			toolCount++
			if !trySend(ctx, ch, begin) {
				return
			}

		case "content_block_delta":
			var evt anthropicBlockDelta
			if !decodeAnthropicEvent(eventType, data, &evt) {
				break
			}
			var out StreamEvent
			switch {
			case evt.Delta.Text != "":
				out = StreamEvent{Type: EventContentDelta, Content: evt.Delta.Text}
			case evt.Delta.Thinking != "":
				out = StreamEvent{Type: EventReasoningDelta, Content: evt.Delta.Thinking}
			case evt.Delta.PartialJSON != "":
				idx, isTool := toolIdx[evt.Index]
				if !isTool {
					continue
				}
				out = StreamEvent{Type: EventToolCallDelta, ToolCallIndex: idx, ToolCallArgs: evt.Delta.PartialJSON}
			default:
				continue
			}
			if !trySend(ctx, ch, out) {
				return
			}

		case "message_start", "message_delta":
			var evt anthropicUsageEnvelope
			if !decodeAnthropicEvent(eventType, data, &evt) {
				break
			}
			usage := evt.Message.Usage
			if usage.InputTokens == 0 && usage.OutputTokens == 0 {
				usage = evt.Usage
			}
			if usage.InputTokens > 0 || usage.OutputTokens > 0 {
				trySend(ctx, ch, StreamEvent{
					Type:         EventUsage,
					InputTokens:  usage.InputTokens,
					OutputTokens: usage.OutputTokens,
				})
			}

		case "ping", "content_block_stop":
			// Ignored.
		}
		eventType = ""
	}

	if err := scanner.Err(); err != nil {
		trySend(ctx, ch, StreamEvent{Type: EventError, Err: err})
		return
	}
	trySend(ctx, ch, StreamEvent{Type: EventDone})
}

func decodeAnthropicEvent(eventType, data string, into any) bool {
	if err := json.Unmarshal([]byte(data), into); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("unparseable anthropic event")
		return false
	}
	return true
}

// AnthropicProvider is the Provider over the direct transport.
type AnthropicProvider struct {
	name        string
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewAnthropic builds a direct provider; empty baseURL targets the vendor
// endpoint.
func NewAnthropic(name, apiKey, baseURL, model string, temperature float64) *AnthropicProvider {
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	return &AnthropicProvider{
		name:        name,
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		httpClient:  &http.Client{},
	}
}

func (p *AnthropicProvider) Name() string { return p.name }

// ChatStream issues one streaming Messages API call.
func (p *AnthropicProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	system, converted := toAnthropicMessages(messages)
	body, err := json.Marshal(anthropicRequest{
		Model:       p.model,
		Messages:    converted,
		System:      system,
		MaxTokens:   8192,
		Temperature: p.temperature,
		Stream:      true,
		Tools:       toAnthropicTools(tools),
	})
	if err != nil {
		return nil, err
	}

	reader, err := openSSE(ctx, sseRequest{
		client: p.httpClient,
		url:    p.baseURL + "/v1/messages",
		body:   body,
		headers: map[string]string{
			"x-api-key":         p.apiKey,
			"anthropic-version": "2023-06-01",
		},
		provider: p.name,
		model:    p.model,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		defer reader.Close()
		parseAnthropicSSEStream(ctx, reader, ch)
	}()
	return ch, nil
}

// ListModels reports the configured model; the Messages API has no cheap
// listing endpoint worth a key-scoped call here.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]Model, error) {
	return []Model{{Name: p.model, Family: "claude"}}, nil
}

// Close releases idle connections.
func (p *AnthropicProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// AnthropicFactory builds direct providers for claude entries with an
// explicit base_url.
type AnthropicFactory struct {
	name    string
	apiKey  string
	baseURL string
}

func NewAnthropicFactory(name, apiKey, baseURL string) *AnthropicFactory {
	return &AnthropicFactory{name: name, apiKey: apiKey, baseURL: baseURL}
}

func (f *AnthropicFactory) Name() string { return f.name }

func (f *AnthropicFactory) Create(model string, opts Options) Provider {
	return NewAnthropic(f.name, f.apiKey, f.baseURL, model, opts.Temperature)
}
