package mcptools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"github.com/darwin-finch/finch/internal/mcp"
	"github.com/darwin-finch/finch/internal/store"
)

// The two network tools: web_fetch (URL -> cleaned text) and web_search
// (Exa AI). Both cache through the store so repeated research within a
// session doesn't refetch.

const (
	webTimeout     = 15 * time.Second
	webBodyLimit   = 1 << 20 // 1 MiB read cap per response
	fetchDefaultCap = 10000
	noSearchResults = "No results found."
)

// WebFetchArgs are the web_fetch inputs.
type WebFetchArgs struct {
	URL      string `json:"url"`
	MaxChars int    `json:"max_chars,omitempty"`
}

// NewWebFetchTool creates the web_fetch tool definition.
func NewWebFetchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "web_fetch",
		Description: "Fetch a URL and return its content as cleaned text (HTML tags, scripts, and styles stripped). Results are cached.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url":       {"type": "string", "description": "The URL to fetch."},
				"max_chars": {"type": "integer", "description": "Maximum characters to return. Default: 10000"}
			},
			"required": ["url"]
		}`),
	}
}

// MakeWebFetchHandler builds the web_fetch handler over the shared cache.
func MakeWebFetchHandler(cache *store.Cache) mcp.ToolHandler {
	client := &http.Client{Timeout: webTimeout}

	return func(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args WebFetchArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		if args.URL == "" {
			return toolError("url is required"), nil
		}
		if args.MaxChars <= 0 {
			args.MaxChars = fetchDefaultCap
		}

		if cached, ok := cache.GetFetch(args.URL); ok {
			log.Debug().Str("url", args.URL).Msg("web_fetch cache hit")
			return toolText(capRunes(cached, args.MaxChars)), nil
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
		if err != nil {
			return toolError("Bad URL: %v", err), nil
		}
		req.Header.Set("User-Agent", "Finch/1.0")
		req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.5")

		resp, err := client.Do(req)
		if err != nil {
			return toolError("Fetch failed: %v", err), nil
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return toolError("HTTP %d: %s", resp.StatusCode, resp.Status), nil
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, webBodyLimit))
		if err != nil {
			return toolError("Read failed: %v", err), nil
		}

		text := string(body)
		if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
			text = htmlToText(body)
		}

		cache.SetFetch(args.URL, text)
		return toolText(capRunes(text, args.MaxChars)), nil
	}
}

// WebSearchArgs are the web_search inputs.
type WebSearchArgs struct {
	Query          string   `json:"query"`
	NumResults     int      `json:"num_results,omitempty"`
	Type           string   `json:"type,omitempty"`
	IncludeDomains []string `json:"include_domains,omitempty"`
}

// Exa /search wire shapes.

type exaRequest struct {
	Query          string   `json:"query"`
	Type           string   `json:"type"`
	NumResults     int      `json:"numResults"`
	IncludeDomains []string `json:"includeDomains,omitempty"`
	Contents       struct {
		Text struct {
			MaxCharacters int `json:"maxCharacters"`
		} `json:"text"`
	} `json:"contents"`
}

type exaResponse struct {
	Results []struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		Text          string `json:"text"`
		PublishedDate string `json:"publishedDate,omitempty"`
	} `json:"results"`
}

// NewWebSearchTool creates the web_search tool definition.
func NewWebSearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "web_search",
		Description: "Search the web using Exa AI. Use this to look up documentation, APIs, libraries, or current information. Results are cached.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query":           {"type": "string", "description": "Search query."},
				"num_results":     {"type": "integer", "description": "Number of results to return. Default: 5"},
				"type":            {"type": "string", "description": "Search type: \"auto\" (default), \"fast\", or \"deep\".", "enum": ["auto", "fast", "deep"]},
				"include_domains": {"type": "array", "items": {"type": "string"}, "description": "Only include results from these domains."}
			},
			"required": ["query"]
		}`),
	}
}

const exaDefaultEndpoint = "https://api.exa.ai/search"

// MakeWebSearchHandler builds the web_search handler; endpoint "" uses the
// public Exa API.
func MakeWebSearchHandler(cache *store.Cache, apiKey, endpoint string) mcp.ToolHandler {
	if endpoint == "" {
		endpoint = exaDefaultEndpoint
	}
	client := &http.Client{Timeout: webTimeout}

	return func(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args WebSearchArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		if args.Query == "" {
			return toolError("query is required"), nil
		}
		if apiKey == "" {
			return toolError("Exa AI API key not configured in credentials.json (providers.exa_ai.api_key)"), nil
		}
		if args.NumResults <= 0 {
			args.NumResults = 5
		}
		if args.Type == "" {
			args.Type = "auto"
		}

		// The cache key carries every parameter so a narrower search never
		// returns a broader cached answer.
		cacheKey := fmt.Sprintf("%s|n=%d|t=%s|d=%s",
			args.Query, args.NumResults, args.Type, strings.Join(args.IncludeDomains, ","))
		if cached, ok := cache.GetSearch(cacheKey); ok {
			log.Debug().Str("query", args.Query).Msg("web_search cache hit")
			return toolText(cached), nil
		}
		// Cheaper still: the answer may already sit inside an earlier
		// cached result's text.
		if cached, ok := cache.SearchCachedContent(args.Query); ok {
			log.Debug().Str("query", args.Query).Msg("web_search content cache hit")
			return toolText(cached), nil
		}

		reqBody := exaRequest{
			Query:          args.Query,
			Type:           args.Type,
			NumResults:     args.NumResults,
			IncludeDomains: args.IncludeDomains,
		}
		reqBody.Contents.Text.MaxCharacters = 2000
		payload, err := json.Marshal(reqBody)
		if err != nil {
			return toolError("Marshal failed: %v", err), nil
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return toolError("Request failed: %v", err), nil
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", apiKey)

		resp, err := client.Do(req)
		if err != nil {
			return toolError("Search failed: %v", err), nil
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, webBodyLimit))
		if err != nil {
			return toolError("Read response failed: %v", err), nil
		}
		if resp.StatusCode >= 400 {
			return toolError("Exa API error %d: %s", resp.StatusCode, string(respBody)), nil
		}

		var parsed exaResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return toolError("Parse response failed: %v", err), nil
		}

		text := renderSearchResults(parsed)
		cache.SetSearch(cacheKey, text)
		return toolText(text), nil
	}
}

// renderSearchResults flattens Exa results into readable numbered text.
func renderSearchResults(resp exaResponse) string {
	if len(resp.Results) == 0 {
		return noSearchResults
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d result(s):\n", len(resp.Results))
	for i, r := range resp.Results {
		fmt.Fprintf(&b, "\n--- %d. %s ---\nURL: %s\n", i+1, r.Title, r.URL)
		if r.PublishedDate != "" {
			fmt.Fprintf(&b, "Published: %s\n", r.PublishedDate)
		}
		if r.Text != "" {
			b.WriteString(r.Text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// htmlToText renders HTML to visible text: script/style/noscript content
// suppressed, block elements breaking lines, whitespace collapsed.
func htmlToText(data []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(data))
	var b strings.Builder
	suppressed := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return tidyText(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			tag := tagName(tokenizer)
			if hiddenTag(tag) {
				suppressed++
			}
			if blockTag(tag) && b.Len() > 0 {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			if hiddenTag(tagName(tokenizer)) && suppressed > 0 {
				suppressed--
			}
		case html.TextToken:
			if suppressed == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

func tagName(t *html.Tokenizer) string {
	name, _ := t.TagName()
	return string(name)
}

func hiddenTag(tag string) bool {
	return tag == "script" || tag == "style" || tag == "noscript"
}

func blockTag(tag string) bool {
	switch tag {
	case "p", "div", "br", "h1", "h2", "h3", "h4", "h5", "h6",
		"li", "tr", "td", "th", "blockquote", "pre", "hr",
		"header", "footer", "section", "article", "nav", "main":
		return true
	}
	return false
}

// tidyText trims every line and collapses runs of blank lines to one.
func tidyText(s string) string {
	var out []string
	blanks := 0
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if blanks == 0 {
				out = append(out, "")
			}
			blanks++
			continue
		}
		blanks = 0
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// capRunes cuts a string to maxChars runes, marking the cut.
func capRunes(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "\n\n[Truncated]"
}
