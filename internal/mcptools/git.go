package mcptools

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/darwin-finch/finch/internal/mcp"
)

// Read-only git surface: git_status and git_diff shell out to the git
// binary directly — no Go git library ships in this build, and these two
// subcommands need nothing one would provide.

// GitStatusArgs are the git_status inputs.
type GitStatusArgs struct {
	Long bool `json:"long,omitempty"`
}

// GitDiffArgs are the git_diff inputs.
type GitDiffArgs struct {
	File   string `json:"file,omitempty"`
	Staged bool   `json:"staged,omitempty"`
}

// NewGitStatusTool creates the git_status tool definition.
func NewGitStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "git_status",
		Description: "Show the working tree status. Returns modified, staged, and untracked files.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"long": {"type": "boolean", "description": "Use long format output. Default: false (short format)"}
			}
		}`),
	}
}

// NewGitDiffTool creates the git_diff tool definition.
func NewGitDiffTool() mcp.Tool {
	return mcp.Tool{
		Name:        "git_diff",
		Description: "Show changes between working tree and index (unstaged), or between index and HEAD (staged). Returns unified diff output.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file":   {"type": "string", "description": "Optional: specific file path to diff. If omitted, diffs all changed files."},
				"staged": {"type": "boolean", "description": "If true, show staged (cached) changes. Default: false (unstaged changes)"}
			}
		}`),
	}
}

// runGit executes git and returns stdout, or an error ToolResult. A diff
// exiting 1 with clean stderr just means "there are differences".
func runGit(ctx context.Context, args ...string) (string, *mcp.ToolResult) {
	cmd := exec.CommandContext(ctx, "git", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cmd.ProcessState != nil && cmd.ProcessState.ExitCode() == 1 && stderr.Len() == 0 {
			return stdout.String(), nil
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", toolError("git error: %s", msg)
	}
	return stdout.String(), nil
}

// MakeGitStatusHandler builds the git_status handler.
func MakeGitStatusHandler() mcp.ToolHandler {
	return func(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args GitStatusArgs
		if len(arguments) > 0 {
			if err := json.Unmarshal(arguments, &args); err != nil {
				return toolError("Invalid arguments: %v", err), nil
			}
		}

		gitArgs := []string{"status"}
		if !args.Long {
			gitArgs = append(gitArgs, "--short")
		}
		out, errResult := runGit(ctx, gitArgs...)
		if errResult != nil {
			return errResult, nil
		}
		if strings.TrimSpace(out) == "" {
			out = "nothing to commit, working tree clean"
		}
		return toolText(out), nil
	}
}

// MakeGitDiffHandler builds the git_diff handler.
func MakeGitDiffHandler() mcp.ToolHandler {
	return func(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args GitDiffArgs
		if len(arguments) > 0 {
			if err := json.Unmarshal(arguments, &args); err != nil {
				return toolError("Invalid arguments: %v", err), nil
			}
		}

		gitArgs := []string{"diff"}
		if args.Staged {
			gitArgs = append(gitArgs, "--cached")
		}
		if args.File != "" {
			gitArgs = append(gitArgs, "--", args.File)
		}
		out, errResult := runGit(ctx, gitArgs...)
		if errResult != nil {
			return errResult, nil
		}
		if strings.TrimSpace(out) == "" {
			side := "unstaged"
			if args.Staged {
				side = "staged"
			}
			out = "no " + side + " changes"
		}
		return toolText(out), nil
	}
}
