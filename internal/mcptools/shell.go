package mcptools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/darwin-finch/finch/internal/delta"
	"github.com/darwin-finch/finch/internal/mcp"
	"github.com/darwin-finch/finch/internal/shell"
)

const (
	shellDefaultTimeout = 60 * time.Second
	shellMaxTimeout     = 10 * time.Minute
	shellOutputCap      = 30000 // runes kept of a command's combined output
)

// ShellArgs are the bash tool inputs.
type ShellArgs struct {
	Command     string `json:"command"`
	Description string `json:"description"`
	Timeout     int    `json:"timeout,omitempty"` // seconds
}

// NewShellTool creates the bash tool definition.
func NewShellTool() mcp.Tool {
	return mcp.Tool{
		Name: "bash",
		Description: `Execute a shell command in an in-process POSIX interpreter.
Commands run inside the project working directory. Shell state (cwd, env vars) persists across calls within the same session.
Dangerous commands (network, sudo, package managers, system modification) are blocked.
Use this for: running builds, tests, linters, git operations, file manipulation, and inspecting project state.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command":     {"type": "string", "description": "The shell command to execute"},
				"description": {"type": "string", "description": "Brief description of what this command does (5-10 words)"},
				"timeout":     {"type": "integer", "description": "Timeout in seconds (default 60)"}
			},
			"required": ["command", "description"]
		}`),
	}
}

// ShellHandler runs bash tool calls. Filesystem side effects are diffed
// against a pre-execution snapshot so shell mutations participate in undo
// like direct edits do.
type ShellHandler struct {
	sh           *shell.Shell
	deltaTracker *delta.Tracker
	// OnOutput receives incremental output chunks for live display. May be
	// nil.
	OnOutput func(chunk string)
}

// NewShellHandler creates a handler over the shared interpreter.
func NewShellHandler(sh *shell.Shell, dt *delta.Tracker) *ShellHandler {
	return &ShellHandler{sh: sh, deltaTracker: dt}
}

// Handle implements mcp.ToolHandler.
func (h *ShellHandler) Handle(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args ShellArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}
	if args.Command == "" {
		return toolError("command is required"), nil
	}

	timeout := shellDefaultTimeout
	if args.Timeout > 0 {
		timeout = time.Duration(args.Timeout) * time.Second
	}
	if timeout > shellMaxTimeout {
		timeout = shellMaxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Snapshot only when a turn is being tracked — read-only commands
	// shouldn't pay for a directory walk. Both snapshots use the
	// pre-execution cwd so a `cd` inside the command can't skew the diff.
	shellCwd := h.sh.Dir()
	track := h.deltaTracker != nil && h.deltaTracker.TurnID() > 0
	var before map[string]delta.FileSnapshot
	if track {
		before = delta.SnapshotDir(shellCwd)
	}

	var stdout, stderr bytes.Buffer
	var execErr error
	if h.OnOutput != nil {
		execErr = h.sh.ExecStream(ctx, args.Command, &chunkWriter{buf: &stdout, onChunk: h.OnOutput}, &stderr)
	} else {
		execErr = h.sh.ExecStream(ctx, args.Command, &stdout, &stderr)
	}

	if track {
		delta.RecordDeltas(h.deltaTracker, shellCwd, before, delta.SnapshotDir(shellCwd))
	}

	exitCode := shell.ExitCode(execErr)
	output := renderShellOutput(stdout.String(), stderr.String(), exitCode, ctx.Err())

	if exitCode != 0 {
		return &mcp.ToolResult{
			Content: []mcp.ContentBlock{{Type: "text", Text: output}},
			IsError: true,
		}, nil
	}
	return toolText(output), nil
}

// chunkWriter tees writes into a buffer and the live-output callback.
type chunkWriter struct {
	buf     *bytes.Buffer
	onChunk func(string)
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	if n > 0 && w.onChunk != nil {
		w.onChunk(string(p[:n]))
	}
	return n, err
}

// renderShellOutput combines streams with timeout/exit markers, never
// empty (some providers reject empty tool results), middle-truncated past
// the cap so both the command's start and its final lines survive.
func renderShellOutput(stdout, stderr string, exitCode int, ctxErr error) string {
	var b strings.Builder
	for _, stream := range []string{stdout, stderr} {
		if stream == "" {
			continue
		}
		b.WriteString(stream)
		if !strings.HasSuffix(stream, "\n") {
			b.WriteByte('\n')
		}
	}
	if ctxErr != nil {
		b.WriteString("[timed out]\n")
	}
	if exitCode != 0 {
		fmt.Fprintf(&b, "[exit code: %d]\n", exitCode)
	}

	output := b.String()
	if output == "" {
		output = "(no output)\n"
	}
	if runes := []rune(output); len(runes) > shellOutputCap {
		half := shellOutputCap / 2
		output = string(runes[:half]) + "\n\n... [truncated] ...\n\n" + string(runes[len(runes)-half:])
	}
	return output
}
