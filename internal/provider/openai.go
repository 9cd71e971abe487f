package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

const openAIDefaultBaseURL = "https://api.openai.com"

// OpenAIProvider streams from the OpenAI Responses API directly, bypassing
// the zen gateway when an openai entry names its own base_url.
type OpenAIProvider struct {
	name        string
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewOpenAI builds a direct OpenAI provider. An empty baseURL uses the
// vendor endpoint.
func NewOpenAI(name, apiKey, baseURL, model string, temperature float64) *OpenAIProvider {
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	return &OpenAIProvider{
		name:        name,
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		httpClient:  &http.Client{},
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// ChatStream issues one streaming Responses API call.
func (p *OpenAIProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	temp := float32(p.temperature)
	req := responsesRequest{
		Model:       p.model,
		Input:       toResponsesInput(messages),
		Tools:       toResponsesTools(tools),
		Temperature: &temp,
		Stream:      true,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	reader, err := openSSE(ctx, sseRequest{
		client: p.httpClient,
		url:    p.baseURL + "/v1/responses",
		body:   body,
		headers: map[string]string{
			"Authorization": "Bearer " + p.apiKey,
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
		parseResponsesSSEStream(ctx, reader, ch)
	}()
	return ch, nil
}

// ListModels reports the configured model; enumerating the account's full
// model list is not worth a key-scoped call here.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]Model, error) {
	return []Model{{Name: p.model, Family: "openai"}}, nil
}

// Close releases idle connections.
func (p *OpenAIProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// OpenAIFactory builds direct OpenAI providers for openai entries with an
// explicit base_url.
type OpenAIFactory struct {
	name    string
	apiKey  string
	baseURL string
}

func NewOpenAIFactory(name, apiKey, baseURL string) *OpenAIFactory {
	return &OpenAIFactory{name: name, apiKey: apiKey, baseURL: baseURL}
}

func (f *OpenAIFactory) Name() string { return f.name }

func (f *OpenAIFactory) Create(model string, opts Options) Provider {
	return NewOpenAI(f.name, f.apiKey, f.baseURL, model, opts.Temperature)
}
