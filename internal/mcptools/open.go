package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/darwin-finch/finch/internal/hashline"
	"github.com/darwin-finch/finch/internal/lsp"
	"github.com/darwin-finch/finch/internal/mcp"
	"github.com/darwin-finch/finch/internal/treesitter"
)

// ReadArgs are the read tool inputs; start/end select a 1-indexed
// inclusive line range.
type ReadArgs struct {
	File  string `json:"file"`
	Start int    `json:"start,omitempty"`
	End   int    `json:"end,omitempty"`
}

// NewReadTool creates the Read tool definition.
func NewReadTool() mcp.Tool {
	return mcp.Tool{
		Name:        "read",
		Description: `Reads a file and returns hashline-tagged content. Each line is returned as "linenum:hash|content". You MUST read a file before editing it. Use start/end for line ranges.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file":  {"type": "string", "description": "Path to the file to read"},
				"start": {"type": "integer", "description": "Optional: starting line number (1-indexed, inclusive)"},
				"end":   {"type": "integer", "description": "Optional: ending line number (1-indexed, inclusive)"}
			},
			"required": ["file"]
		}`),
	}
}

// ReadHandler serves read tool calls, marking each file in the read
// tracker (the edit tools' precondition) and nudging the LSP and symbol
// index in the background.
type ReadHandler struct {
	tracker    *FileReadTracker
	lspManager *lsp.Manager
	tsIndex    *treesitter.Index
}

// NewReadHandler creates a handler for the read tool.
func NewReadHandler(tracker *FileReadTracker, lspManager *lsp.Manager) *ReadHandler {
	return &ReadHandler{tracker: tracker, lspManager: lspManager}
}

// SetTSIndex sets the tree-sitter index for incremental updates on read.
func (h *ReadHandler) SetTSIndex(idx *treesitter.Index) { h.tsIndex = idx }

// Handle implements the mcp.ToolHandler interface.
func (h *ReadHandler) Handle(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args ReadArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}
	if args.File == "" {
		return toolError("File path cannot be empty"), nil
	}

	absPath, err := validatePath(args.File)
	if err != nil {
		return toolError("%v", err), nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return toolError("Failed to read file: %v", err), nil
	}

	h.tracker.MarkRead(absPath)
	if h.lspManager != nil {
		go h.lspManager.TouchFile(context.Background(), absPath)
	}
	if h.tsIndex != nil {
		go h.tsIndex.UpdateFile(absPath)
	}

	lines := strings.Split(string(content), "\n")
	selectedContent, startLine, err := extractRange(lines, string(content), args.Start, args.End)
	if err != nil {
		return toolError("%v", err), nil
	}

	tagged := hashline.TagLines(selectedContent, startLine)
	taggedOutput := hashline.FormatTagged(tagged)

	rangeInfo := ""
	if args.Start > 0 || args.End > 0 {
		end := args.End
		if end <= 0 || end > len(lines) {
			end = len(lines)
		}
		rangeInfo = fmt.Sprintf(" (lines %d-%d)", startLine, end)
	}

	return &mcp.ToolResult{
		Content: []mcp.ContentBlock{{Type: "text", Text: fmt.Sprintf("Read %s%s (%d lines):\n\n%s", args.File, rangeInfo, len(tagged), taggedOutput)}},
	}, nil
}

// extractRange returns the selected content and start line number for a line range.
func extractRange(lines []string, full string, start, end int) (string, int, error) {
	if start <= 0 && end <= 0 {
		return full, 1, nil
	}
	if start <= 0 {
		start = 1
	}
	if start < 1 || start > len(lines) {
		return "", 0, fmt.Errorf("start line %d out of range (file has %d lines)", start, len(lines))
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return "", 0, fmt.Errorf("invalid range: start (%d) > end (%d)", start, end)
	}
	return strings.Join(lines[start-1:end], "\n"), start, nil
}
