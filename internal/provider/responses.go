package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// OpenAI Responses API support for the direct openai transport: request
// shapes, typed SSE events, and the stream parser.

// responsesRequest is the body for POST /v1/responses.
type responsesRequest struct {
	Model       string          `json:"model"`
	Input       []respInputItem `json:"input"`
	Tools       []respTool      `json:"tools,omitempty"`
	Temperature *float32        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
}

// respInputItem is the polymorphic input entry: a message, a prior
// function_call, or a function_call_output.
type respInputItem struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Content any    `json:"content,omitempty"`
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	// function_call
	Arguments string `json:"arguments,omitempty"`
	// function_call_output
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

type respTool struct {
	Type        string          `json:"type"` // always "function"
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// toResponsesInput flattens provider-agnostic history into input items.
// System turns become "developer" messages per the API's convention.
func toResponsesInput(messages []Message) []respInputItem {
	var items []respInputItem
	for _, m := range messages {
		switch m.Role {
		case "tool":
			items = append(items, respInputItem{Type: "function_call_output", CallID: m.ToolCallID, Output: m.Content})
		case "assistant":
			if m.Content != "" || len(m.ToolCalls) == 0 {
				items = append(items, respInputItem{Type: "message", Role: "assistant", Content: m.Content})
			}
			for _, tc := range m.ToolCalls {
				items = append(items, respInputItem{Type: "function_call", CallID: tc.ID, Name: tc.Name, Arguments: string(tc.Arguments)})
			}
		case roleSystem:
			items = append(items, respInputItem{Type: "message", Role: "developer", Content: m.Content})
		default:
			items = append(items, respInputItem{Type: "message", Role: m.Role, Content: m.Content})
		}
	}
	return items
}

// toResponsesTools converts tool definitions, schemas passed through raw
// for byte-stable serialization.
func toResponsesTools(tools []Tool) []respTool {
	if tools == nil {
		return nil
	}
	out := make([]respTool, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out[i] = respTool{Type: "function", Name: t.Name, Description: t.Description, Parameters: params}
	}
	return out
}

// Streamed event payloads, one struct per event type we consume.

type respTextDelta struct {
	Delta string `json:"delta"`
}

type respItemAdded struct {
	OutputIndex int `json:"output_index"`
	Item        struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Name   string `json:"name,omitempty"`
		CallID string `json:"call_id,omitempty"`
	} `json:"item"`
}

type respArgsDelta struct {
	OutputIndex int    `json:"output_index"`
	Delta       string `json:"delta"`
}

type respCompleted struct {
	Response struct {
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage,omitempty"`
	} `json:"response"`
}

type respFailed struct {
	Response struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

// parseResponsesSSEStream pumps a Responses API stream into StreamEvents.
// The API numbers output items, not tool calls, so function_call items are
// renumbered into sequential tool-call indices as they appear.
func parseResponsesSSEStream(ctx context.Context, reader io.Reader, ch chan<- StreamEvent) {
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
		case "response.output_text.delta":
			var evt respTextDelta
			if decodeRespEvent(eventType, data, &evt) && evt.Delta != "" {
				if !trySend(ctx, ch, StreamEvent{Type: EventContentDelta, Content: evt.Delta}) {
					return
				}
			}

		case "response.reasoning_summary_text.delta":
			var evt respTextDelta
			if decodeRespEvent(eventType, data, &evt) && evt.Delta != "" {
				if !trySend(ctx, ch, StreamEvent{Type: EventReasoningDelta, Content: evt.Delta}) {
					return
				}
			}

		case "response.output_item.added":
			var evt respItemAdded
			if decodeRespEvent(eventType, data, &evt) && evt.Item.Type == "function_call" {
				toolIdx[evt.OutputIndex] = toolCount
				begin := StreamEvent{
					Type:          EventToolCallBegin,
					ToolCallIndex: toolCount,
					ToolCallID:    evt.Item.CallID,
					ToolCallName:  evt.Item.Name,
				}
				toolCount++
				if !trySend(ctx, ch, begin) {
					return
				}
			}

		case "response.function_call_arguments.delta":
			var evt respArgsDelta
			if decodeRespEvent(eventType, data, &evt) && evt.Delta != "" {
				if !trySend(ctx, ch, StreamEvent{Type: EventToolCallDelta, ToolCallIndex: toolIdx[evt.OutputIndex], ToolCallArgs: evt.Delta}) {
					return
				}
			}

		case "response.completed":
			var evt respCompleted
			if decodeRespEvent(eventType, data, &evt) && evt.Response.Usage != nil {
				trySend(ctx, ch, StreamEvent{
					Type:         EventUsage,
					InputTokens:  evt.Response.Usage.InputTokens,
					OutputTokens: evt.Response.Usage.OutputTokens,
				})
			}
			trySend(ctx, ch, StreamEvent{Type: EventDone})
			return

		case "response.failed":
			var evt respFailed
			if decodeRespEvent(eventType, data, &evt) {
				trySend(ctx, ch, StreamEvent{Type: EventError, Err: fmt.Errorf("responses API error %s: %s", evt.Response.Error.Code, evt.Response.Error.Message)})
			} else {
				trySend(ctx, ch, StreamEvent{Type: EventError, Err: fmt.Errorf("responses stream failed")})
			}
			return

		case "response.incomplete":
			trySend(ctx, ch, StreamEvent{Type: EventDone})
			return
		}
		eventType = ""
	}

	if err := scanner.Err(); err != nil {
		trySend(ctx, ch, StreamEvent{Type: EventError, Err: err})
		return
	}
	trySend(ctx, ch, StreamEvent{Type: EventDone})
}

// decodeRespEvent unmarshals one event payload, logging and skipping
// malformed ones rather than killing the stream.
func decodeRespEvent(eventType, data string, into any) bool {
	if err := json.Unmarshal([]byte(data), into); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("unparseable responses event")
		return false
	}
	return true
}
