package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// StdioClient speaks MCP over newline-delimited JSON-RPC to an external
// tool server process spawned from a [mcp_servers] entry.
type StdioClient struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
	nextID atomic.Int64
}

// NewStdioClient spawns command with args and env and attaches to its
// stdio. The process's stderr passes through to ours for diagnostics.
func NewStdioClient(command string, args []string, env map[string]string) (*StdioClient, error) {
	cmd := exec.Command(command, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp stdio: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp stdio: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp stdio: starting %q: %w", command, err)
	}

	return &StdioClient{
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReaderSize(stdout, 1<<20),
	}, nil
}

// call sends one request and reads responses until the matching id
// arrives, skipping server-initiated notifications.
func (c *StdioClient) call(ctx context.Context, method string, params interface{}) (*Response, error) {
	id := c.nextID.Add(1)
	req, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("mcp stdio: write: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("mcp stdio: read: %w", err)
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			log.Debug().Err(err).Msg("mcp stdio: skipping unparseable line")
			continue
		}
		if respID, ok := resp.ID.(float64); ok && int64(respID) == id {
			if resp.Error != nil {
				return nil, fmt.Errorf("mcp stdio: %s (code %d)", resp.Error.Message, resp.Error.Code)
			}
			return &resp, nil
		}
		// Notification or out-of-order response: keep reading.
	}
}

// Initialize performs the MCP handshake.
func (c *StdioClient) Initialize(ctx context.Context, clientInfo map[string]interface{}) (*Response, error) {
	return c.call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"clientInfo":      clientInfo,
		"capabilities":    map[string]interface{}{},
	})
}

// ListTools fetches the server's tool definitions.
func (c *StdioClient) ListTools(ctx context.Context) ([]Tool, error) {
	resp, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("mcp stdio: tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes one tool on the server.
func (c *StdioClient) CallTool(ctx context.Context, name string, arguments interface{}) (*ToolResult, error) {
	argsJSON, err := json.Marshal(arguments)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, "tools/call", CallToolParams{Name: name, Arguments: argsJSON})
	if err != nil {
		return nil, err
	}
	var result ToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("mcp stdio: tools/call result: %w", err)
	}
	return &result, nil
}

// Close terminates the server process.
func (c *StdioClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stdin != nil {
		c.stdin.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
	}
	return nil
}

// RegisterStdioServer spawns one configured MCP server, lists its tools,
// and registers each with the proxy under the mcp_<server>_<tool> prefix.
// Returns the client so the caller can Close it at shutdown.
func RegisterStdioServer(ctx context.Context, proxy *Proxy, serverName, command string, args []string, env map[string]string) (*StdioClient, error) {
	client, err := NewStdioClient(command, args, env)
	if err != nil {
		return nil, err
	}
	if _, err := client.Initialize(ctx, map[string]interface{}{"name": "finch", "version": "1.0"}); err != nil {
		client.Close()
		return nil, fmt.Errorf("mcp server %q: initialize: %w", serverName, err)
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("mcp server %q: list tools: %w", serverName, err)
	}

	for _, tool := range tools {
		remote := tool.Name
		prefixed := tool
		prefixed.Name = fmt.Sprintf("mcp_%s_%s", serverName, remote)
		proxy.RegisterTool(prefixed, func(ctx context.Context, arguments json.RawMessage) (*ToolResult, error) {
			return client.CallTool(ctx, remote, arguments)
		})
	}
	log.Info().Str("server", serverName).Int("tools", len(tools)).Msg("registered MCP stdio server")
	return client, nil
}
