package mcptools

import (
	"context"
	"encoding/json"
	"os"
	"regexp"
	"strings"

	"github.com/darwin-finch/finch/internal/filesearch"
	"github.com/darwin-finch/finch/internal/mcp"
)

// GlobArgs represents arguments for the Glob tool.
type GlobArgs struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

const globDefaultMaxResults = 500

// NewGlobTool creates the Glob tool definition.
func NewGlobTool() mcp.Tool {
	return mcp.Tool{
		Name:        "glob",
		Description: `Find files by glob pattern (e.g. "**/*.go", "src/*.ts"), honoring .gitignore. Returns matching relative paths, one per line.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern": {"type": "string", "description": "Glob pattern, e.g. \"**/*.go\""},
				"path": {"type": "string", "description": "Directory to search from. Defaults to the current working directory."},
				"max_results": {"type": "integer", "description": "Maximum number of paths to return. Default: 500"}
			},
			"required": ["pattern"]
		}`),
	}
}

// MakeGlobHandler creates a handler for the Glob tool.
func MakeGlobHandler() mcp.ToolHandler {
	return func(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args GlobArgs
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
			maxResults = globDefaultMaxResults
		}

		results, err := searcher.Search(ctx, filesearch.Options{
			Pattern:       globToRegex(args.Pattern),
			ContentSearch: false,
			CaseSensitive: false,
			MaxResults:    maxResults,
			RootDir:       root,
		})
		if err != nil {
			return toolError("search failed: %v", err), nil
		}

		if len(results) == 0 {
			return toolText("No files matched."), nil
		}

		var sb strings.Builder
		for _, r := range results {
			sb.WriteString(r.Path)
			sb.WriteByte('\n')
		}
		return toolText(strings.TrimRight(sb.String(), "\n")), nil
	}
}

// globToRegex translates a shell-glob pattern (supporting "**", "*", "?")
// into an anchored regular expression matching a relative path, for reuse
// of filesearch's regex-based filename search.
func globToRegex(pattern string) string {
	var sb strings.Builder
	sb.WriteString("^")
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				sb.WriteString(".*")
				i++
				// Swallow an immediately following slash so "**/*.go" also
				// matches files directly under root.
				if i+1 < len(runes) && runes[i+1] == '/' {
					i++
				}
			} else {
				sb.WriteString("[^/]*")
			}
		case '?':
			sb.WriteString("[^/]")
		case '.', '+', '(', ')', '|', '^', '$', '[', ']', '{', '}', '\\':
			sb.WriteString(regexp.QuoteMeta(string(c)))
		default:
			sb.WriteRune(c)
		}
	}
	sb.WriteString("$")
	return sb.String()
}
