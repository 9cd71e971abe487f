package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// VLLMProvider speaks the OpenAI-compatible chat completions API exposed
// by vLLM servers and by a remote Finch daemon (the "remote_daemon" tag).
// Compared to ollama it adds bearer auth and the sampling knobs vLLM
// honors.
type VLLMProvider struct {
	name          string
	baseURL       string
	apiKey        string
	model         string
	temperature   float64
	topP          float64
	repeatPenalty float64
	maxTokens     int
	httpClient    *http.Client
}

// NewVLLM creates a provider with default sampling options.
func NewVLLM(endpoint, model, apiKey string) *VLLMProvider {
	return NewVLLMWithTemp("vllm", endpoint, model, apiKey, Options{Temperature: 0.7})
}

// NewVLLMWithTemp creates a named provider with explicit options.
func NewVLLMWithTemp(name, endpoint, model, apiKey string, opts Options) *VLLMProvider {
	return &VLLMProvider{
		name:          name,
		baseURL:       strings.TrimRight(endpoint, "/"),
		apiKey:        apiKey,
		model:         model,
		temperature:   opts.Temperature,
		topP:          opts.TopP,
		repeatPenalty: opts.RepeatPenalty,
		maxTokens:     opts.MaxTokens,
		httpClient:    &http.Client{},
	}
}

// Name returns the provider identifier.
func (p *VLLMProvider) Name() string { return p.name }

type vllmChatRequest struct {
	Model             string                         `json:"model"`
	Messages          []openai.ChatCompletionMessage `json:"messages"`
	Tools             []openai.Tool                  `json:"tools,omitempty"`
	Temperature       float32                        `json:"temperature,omitempty"`
	TopP              float32                        `json:"top_p,omitempty"`
	RepetitionPenalty float32                        `json:"repetition_penalty,omitempty"`
	MaxTokens         int                            `json:"max_tokens,omitempty"`
	Stream            bool                           `json:"stream"`
	StreamOptions     *ccStreamOptions               `json:"stream_options,omitempty"`
}

// ChatStream issues one streaming chat call.
func (p *VLLMProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	body, err := json.Marshal(vllmChatRequest{
		Model:             p.model,
		Messages:          buildOpenAIMessages(messages),
		Tools:             buildOpenAITools(tools),
		Temperature:       float32(p.temperature),
		TopP:              float32(p.topP),
		RepetitionPenalty: float32(p.repeatPenalty),
		MaxTokens:         p.maxTokens,
		Stream:            true,
		StreamOptions:     &ccStreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, err
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	reader, err := openSSE(ctx, sseRequest{
		client:   p.httpClient,
		url:      p.baseURL + "/chat/completions",
		body:     body,
		headers:  headers,
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

// ListModels reports the configured model; vLLM serves exactly the model
// it was launched with.
func (p *VLLMProvider) ListModels(ctx context.Context) ([]Model, error) {
	return []Model{{Name: p.model, Family: "vllm"}}, nil
}

// Close releases idle connections.
func (p *VLLMProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
