package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/darwin-finch/finch/internal/delta"
	"github.com/darwin-finch/finch/internal/hashline"
	"github.com/darwin-finch/finch/internal/lsp"
	"github.com/darwin-finch/finch/internal/mcp"
)

// WriteArgs are the arguments to the write tool.
type WriteArgs struct {
	File    string `json:"file"`
	Content string `json:"content"`
}

// NewWriteTool creates the write tool definition: create a new file or
// replace one wholesale. Edits to parts of an existing file belong to
// edit/multi_edit.
func NewWriteTool() mcp.Tool {
	return mcp.Tool{
		Name: "write",
		Description: "Write a file: create it, or replace its entire content. " +
			"Overwriting an existing file requires reading it first. " +
			"Prefer edit/multi_edit for partial changes.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file": {"type": "string", "description": "path to write"},
				"content": {"type": "string", "description": "full file content"}
			},
			"required": ["file", "content"]
		}`),
	}
}

// WriteHandler handles write tool calls.
type WriteHandler struct {
	tracker      *FileReadTracker
	lspManager   *lsp.Manager
	deltaTracker *delta.Tracker
}

// NewWriteHandler creates a handler for the write tool.
func NewWriteHandler(tracker *FileReadTracker, lspManager *lsp.Manager, dt *delta.Tracker) *WriteHandler {
	return &WriteHandler{tracker: tracker, lspManager: lspManager, deltaTracker: dt}
}

// Handle implements mcp.ToolHandler.
func (h *WriteHandler) Handle(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args WriteArgs
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

	old, statErr := os.ReadFile(absPath)
	exists := statErr == nil
	verb := "Created"
	if exists {
		if h.tracker != nil && !h.tracker.WasRead(absPath) {
			return toolError("%s already exists — read it before overwriting it wholesale.", args.File), nil
		}
		verb = "Wrote"
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return toolError("Failed to create directories: %v", err), nil
	}
	if h.deltaTracker != nil {
		if exists {
			h.deltaTracker.RecordModify(absPath, old)
		} else {
			h.deltaTracker.RecordCreate(absPath)
		}
	}
	if err := os.WriteFile(absPath, []byte(args.Content), 0600); err != nil {
		return toolError("Failed to write file: %v", err), nil
	}

	tagged := hashline.TagLines(strings.TrimRight(args.Content, "\n"), 1)
	text := fmt.Sprintf("%s %s (%d lines):\n\n%s", verb, args.File, len(tagged), hashline.FormatTagged(tagged))
	if exists {
		// An overwrite also reports what actually changed, as a unified
		// diff against the previous content.
		if diff := unifiedDiff(args.File, string(old), args.Content); diff != "" {
			text += "\n\nDiff against previous content:\n" + diff
		}
	}
	if h.lspManager != nil {
		diags := h.lspManager.NotifyAndWait(ctx, absPath, 5*time.Second)
		text += lsp.FormatDiagnostics(args.File, diags)
	}
	return &mcp.ToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: text}}}, nil
}

// MultiEditArgs are the arguments to the multi_edit tool: several anchored
// operations against one file, validated together against the content the
// model last read.
type MultiEditArgs struct {
	File  string    `json:"file"`
	Edits []EditArgs `json:"edits"`
}

// NewMultiEditTool creates the multi_edit tool definition.
func NewMultiEditTool() mcp.Tool {
	return mcp.Tool{
		Name: "multi_edit",
		Description: "Apply several hash-anchored edit operations to one file in a single call. " +
			"All anchors reference the file as last read; operations are applied bottom-up so " +
			"earlier lines keep their numbers. Read the file first.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file": {"type": "string"},
				"edits": {
					"type": "array",
					"minItems": 1,
					"items": {
						"type": "object",
						"properties": {
							"replace": {"type": "object"},
							"insert": {"type": "object"},
							"delete": {"type": "object"}
						}
					}
				}
			},
			"required": ["file", "edits"]
		}`),
	}
}

// MultiEditHandler applies batched edits through the same hashline
// machinery as the single edit tool.
type MultiEditHandler struct {
	edit *EditHandler
}

// NewMultiEditHandler wraps an EditHandler.
func NewMultiEditHandler(edit *EditHandler) *MultiEditHandler {
	return &MultiEditHandler{edit: edit}
}

// Handle implements mcp.ToolHandler.
func (h *MultiEditHandler) Handle(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args MultiEditArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}
	if args.File == "" {
		return toolError("File path cannot be empty"), nil
	}
	if len(args.Edits) == 0 {
		return toolError("edits must contain at least one operation"), nil
	}
	absPath, err := validatePath(args.File)
	if err != nil {
		return toolError("%v", err), nil
	}
	if h.edit.tracker != nil && !h.edit.tracker.WasRead(absPath) {
		return toolError("You must read the file before editing it. Use read on %s first.", args.File), nil
	}

	for i := range args.Edits {
		args.Edits[i].File = args.File
		if args.Edits[i].Create != nil {
			return toolError("multi_edit cannot create files — use write"), nil
		}
		if err := validateEditOps(args.Edits[i]); err != nil {
			return toolError("edit %d: %v", i+1, err), nil
		}
	}

	// Bottom-up: each operation's anchors refer to the originally read
	// file, so applying from the highest start line downward keeps the
	// earlier anchors' line numbers stable.
	order := make([]int, len(args.Edits))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return editAnchorLine(args.Edits[order[a]]) > editAnchorLine(args.Edits[order[b]])
	})

	var last *mcp.ToolResult
	for _, idx := range order {
		result, err := h.edit.applyEdit(ctx, absPath, args.Edits[idx])
		if err != nil {
			return nil, err
		}
		if result.IsError {
			return toolError("edit %d failed: %s", idx+1, firstText(result)), nil
		}
		last = result
	}

	// The final application already reports the fresh hashes; prefix it
	// with the batch size so the model knows every edit landed.
	text := fmt.Sprintf("Applied %d edits to %s.\n\n%s", len(args.Edits), args.File, firstText(last))
	return &mcp.ToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: text}}}, nil
}

// unifiedDiff renders old -> new as a unified diff, empty when identical.
func unifiedDiff(displayPath, old, new string) string {
	edits := myers.ComputeEdits(span.URIFromPath(displayPath), old, new)
	if len(edits) == 0 {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(gotextdiff.ToUnified(displayPath, displayPath, old, edits)))
}

func firstText(r *mcp.ToolResult) string {
	if r == nil {
		return ""
	}
	for _, b := range r.Content {
		if b.Type == "text" {
			return b.Text
		}
	}
	return ""
}
