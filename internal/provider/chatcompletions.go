package provider

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// Chat Completions streaming, shared by the OpenAI-compatible transports
// (ollama, vllm/remote_daemon). Request bodies use the go-openai SDK's
// message/tool types; only the streaming chunk shapes are declared here
// because the SDK's own stream client buffers differently than our event
// channel needs.

// ccStreamOptions asks the server to append a usage chunk to the stream.
type ccStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ccChunk is one streamed chat.completion.chunk payload.
type ccChunk struct {
	Choices []ccChoice `json:"choices"`
	Usage   *ccUsage   `json:"usage,omitempty"`
}

type ccUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type ccChoice struct {
	Delta        ccDelta `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type ccDelta struct {
	Role             string       `json:"role,omitempty"`
	Content          string       `json:"content,omitempty"`
	Reasoning        string       `json:"reasoning,omitempty"`
	ReasoningContent string       `json:"reasoning_content,omitempty"`
	ToolCalls        []ccToolCall `json:"tool_calls,omitempty"`
}

type ccToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// parseChatCompletionsStream pumps one SSE body into StreamEvents until
// [DONE], a scanner error, or consumer cancellation.
func parseChatCompletionsStream(ctx context.Context, reader io.Reader, ch chan<- StreamEvent) {
	scanner := newSSEScanner(reader)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			trySend(ctx, ch, StreamEvent{Type: EventDone})
			return
		}

		var chunk ccChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Warn().Err(err).Str("data", data).Msg("unparseable stream chunk")
			continue
		}
		if chunk.Usage != nil {
			trySend(ctx, ch, StreamEvent{
				Type:         EventUsage,
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			})
		}
		if len(chunk.Choices) > 0 && !emitCCDelta(ctx, ch, chunk.Choices[0].Delta) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		trySend(ctx, ch, StreamEvent{Type: EventError, Err: err})
		return
	}
	trySend(ctx, ch, StreamEvent{Type: EventDone})
}

// emitCCDelta fans one delta out into reasoning/content/tool-call events.
func emitCCDelta(ctx context.Context, ch chan<- StreamEvent, delta ccDelta) bool {
	// Servers disagree on the reasoning field name.
	if reasoning := delta.Reasoning + delta.ReasoningContent; reasoning != "" {
		if !trySend(ctx, ch, StreamEvent{Type: EventReasoningDelta, Content: reasoning}) {
			return false
		}
	}
	if delta.Content != "" {
		if !trySend(ctx, ch, StreamEvent{Type: EventContentDelta, Content: delta.Content}) {
			return false
		}
	}
	for _, tc := range delta.ToolCalls {
		if tc.Function.Name != "" {
			if !trySend(ctx, ch, StreamEvent{Type: EventToolCallBegin, ToolCallIndex: tc.Index, ToolCallID: tc.ID, ToolCallName: tc.Function.Name}) {
				return false
			}
		}
		if tc.Function.Arguments != "" {
			if !trySend(ctx, ch, StreamEvent{Type: EventToolCallDelta, ToolCallIndex: tc.Index, ToolCallArgs: tc.Function.Arguments}) {
				return false
			}
		}
	}
	return true
}

// buildOpenAIMessages converts provider-agnostic messages into SDK
// messages, hoisting every system message into a single leading one —
// OpenAI-compatible servers reject system turns mid-conversation.
func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	var system []string
	rest := make([]openai.ChatCompletionMessage, 0, len(messages))

	for _, m := range messages {
		if m.Role == roleSystem {
			system = append(system, m.Content)
			continue
		}
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		rest = append(rest, msg)
	}

	if len(system) == 0 {
		return rest
	}
	out := make([]openai.ChatCompletionMessage, 0, len(rest)+1)
	out = append(out, openai.ChatCompletionMessage{Role: roleSystem, Content: strings.Join(system, "\n\n")})
	return append(out, rest...)
}

// buildOpenAITools converts tool definitions, passing schemas through as
// raw JSON so their serialization stays byte-stable across turns (schema
// bytes participate in the provider's prompt cache key).
func buildOpenAITools(tools []Tool) []openai.Tool {
	if tools == nil {
		return nil
	}
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return out
}
