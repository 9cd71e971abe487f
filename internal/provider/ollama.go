package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const roleSystem = "system"

// OllamaProvider streams from a local Ollama daemon through its
// OpenAI-compatible /v1 surface; model listing uses the native /api/tags
// endpoint, which carries family and quantization details /v1 omits.
// Backs the "ollama" provider tag.
type OllamaProvider struct {
	name        string
	endpoint    string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewOllama builds a provider against endpoint with defaults.
func NewOllama(endpoint, model string) *OllamaProvider {
	return NewOllamaWithTemp("ollama", endpoint, model, 0.7)
}

// NewOllamaWithTemp builds a named provider with an explicit temperature.
func NewOllamaWithTemp(name, endpoint, model string, temperature float64) *OllamaProvider {
	return &OllamaProvider{
		name:        name,
		endpoint:    strings.TrimRight(endpoint, "/"),
		model:       model,
		temperature: temperature,
		httpClient:  &http.Client{},
	}
}

func (p *OllamaProvider) Name() string { return p.name }

// ollamaChatRequest is the /v1/chat/completions body; messages and tools
// reuse the go-openai SDK shapes.
type ollamaChatRequest struct {
	Model         string                         `json:"model"`
	Messages      []openai.ChatCompletionMessage `json:"messages"`
	Tools         []openai.Tool                  `json:"tools,omitempty"`
	Temperature   float32                        `json:"temperature,omitempty"`
	Stream        bool                           `json:"stream"`
	StreamOptions *ccStreamOptions               `json:"stream_options,omitempty"`
}

// ChatStream issues one streaming chat call.
func (p *OllamaProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:         p.model,
		Messages:      buildOpenAIMessages(messages),
		Tools:         buildOpenAITools(tools),
		Temperature:   float32(p.temperature),
		Stream:        true,
		StreamOptions: &ccStreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, err
	}

	reader, err := openSSE(ctx, sseRequest{
		client:   p.httpClient,
		url:      p.endpoint + "/v1/chat/completions",
		body:     body,
		provider: p.name,
		model:    p.model,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer reader.Close()
		parseChatCompletionsStream(ctx, reader, ch)
	}()
	return ch, nil
}

// Native /api/tags response shapes.
type ollamaTagList struct {
	Models []struct {
		Name       string    `json:"name"`
		Size       int64     `json:"size"`
		Digest     string    `json:"digest"`
		ModifiedAt time.Time `json:"modified_at"`
		Details    struct {
			Format     string `json:"format"`
			Family     string `json:"family"`
			ParamSize  string `json:"parameter_size"`
			QuantLevel string `json:"quantization_level"`
		} `json:"details"`
	} `json:"models"`
}

// ListModels enumerates locally pulled models.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list models status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tags ollamaTagList
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, err
	}
	models := make([]Model, len(tags.Models))
	for i, m := range tags.Models {
		models[i] = Model{
			Name:       m.Name,
			Size:       m.Size,
			Digest:     m.Digest,
			ModifiedAt: m.ModifiedAt,
			Format:     m.Details.Format,
			Family:     m.Details.Family,
			ParamSize:  m.Details.ParamSize,
			QuantLevel: m.Details.QuantLevel,
		}
	}
	return models, nil
}

// Close releases idle connections.
func (p *OllamaProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
