package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/darwin-finch/finch/internal/filesearch"
	"github.com/darwin-finch/finch/internal/mcp"
)

// GrepArgs represents arguments for the Grep tool.
type GrepArgs struct {
	Pattern       string `json:"pattern"`
	Path          string `json:"path,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
}

const grepDefaultMaxResults = 200

// NewGrepTool creates the Grep tool definition.
func NewGrepTool() mcp.Tool {
	return mcp.Tool{
		Name:        "grep",
		Description: "Search file contents for a regular expression, honoring .gitignore. Returns matching path:line:content triples.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern": {"type": "string", "description": "Regular expression to search for"},
				"path": {"type": "string", "description": "Directory to search from. Defaults to the current working directory."},
				"case_sensitive": {"type": "boolean", "description": "Match case-sensitively. Default: false"},
				"max_results": {"type": "integer", "description": "Maximum number of matches to return. Default: 200"}
			},
			"required": ["pattern"]
		}`),
	}
}

// MakeGrepHandler creates a handler for the Grep tool.
func MakeGrepHandler() mcp.ToolHandler {
	return func(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args GrepArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		if args.Pattern == "" {
			return toolError("pattern cannot be empty"), nil
		}

		root := args.Path
		if root == "" {
			var err error
			root, err = os.Getwd()
			if err != nil {
				return toolError("failed to get working directory: %v", err), nil
			}
		}

		searcher, err := filesearch.NewSearcher(root)
		if err != nil {
			return toolError("failed to initialize search: %v", err), nil
		}

		maxResults := args.MaxResults
		if maxResults <= 0 {
			maxResults = grepDefaultMaxResults
		}

		results, err := searcher.Search(ctx, filesearch.Options{
			Pattern:       args.Pattern,
			ContentSearch: true,
			CaseSensitive: args.CaseSensitive,
			MaxResults:    maxResults,
			RootDir:       root,
		})
		if err != nil {
			return toolError("search failed: %v", err), nil
		}

		if len(results) == 0 {
			return toolText("No matches found."), nil
		}

		var sb strings.Builder
		for _, r := range results {
			fmt.Fprintf(&sb, "%s:%d:%s\n", r.Path, r.Line, r.Content)
		}
		return toolText(strings.TrimRight(sb.String(), "\n")), nil
	}
}
