package searchclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/radutopala/simsearch/internal/lifecycle"
	simmcp "github.com/radutopala/simsearch/internal/mcp"
)

// ErrTool is returned when the server reports a tool-level failure
var ErrTool = errors.New("tool error")

// Config selects how to reach a simsearch server.
// Supports two transport types:
// - Streamable HTTP: Provide "url" field
// - Command transport (stdio): Provide "command" field
type Config struct {
	URL     string            `json:"url,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"` // stdio only
}

// Client calls the search tools of a remote simsearch server.
type Client struct {
	session *mcp.ClientSession
	logger  *slog.Logger
}

// Dial connects to a server described by config
func Dial(ctx context.Context, config Config, logger *slog.Logger) (*Client, error) {
	var transport mcp.Transport

	switch {
	case config.URL != "":
		transport = &mcp.StreamableClientTransport{
			Endpoint:   config.URL,
			MaxRetries: 5,
		}
		logger.Debug("Using Streamable HTTP transport", "endpoint", config.URL)
	case config.Command != "":
		cmd := exec.Command(config.Command, config.Args...)
		if len(config.Env) > 0 {
			env := os.Environ()
			for k, v := range config.Env {
				env = append(env, fmt.Sprintf("%s=%s", k, v))
			}
			cmd.Env = env
		}
		transport = &mcp.CommandTransport{Command: cmd}
		logger.Debug("Using stdio transport", "command", config.Command)
	default:
		return nil, fmt.Errorf("no transport configured: must provide either 'command' or 'url'")
	}

	return Connect(ctx, transport, logger)
}

// Connect opens a session over an already constructed transport
func Connect(ctx context.Context, transport mcp.Transport, logger *slog.Logger) (*Client, error) {
	client := mcp.NewClient(
		&mcp.Implementation{
			Name:    "simsearch-client",
			Version: "1.0.0",
		},
		nil,
	)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to simsearch server: %w", err)
	}

	return &Client{session: session, logger: logger}, nil
}

// Search returns ids ranked by similarity to query. limit <= 0 uses the server default.
func (c *Client) Search(ctx context.Context, query string, limit int, subset []string) ([]string, error) {
	args := map[string]any{"query": query}
	if limit > 0 {
		args["limit"] = limit
	}
	if len(subset) > 0 {
		args["subset"] = subset
	}

	var out simmcp.SearchProjectsOutput
	if err := c.call(ctx, simmcp.ToolSearchProjects, args, &out); err != nil {
		return nil, err
	}
	if out.SimilarProjectIDs == nil {
		out.SimilarProjectIDs = []string{}
	}
	return out.SimilarProjectIDs, nil
}

// Health returns the server's index health
func (c *Client) Health(ctx context.Context) (lifecycle.Health, error) {
	var h lifecycle.Health
	err := c.call(ctx, simmcp.ToolIndexHealth, map[string]any{}, &h)
	return h, err
}

// Rebuild asks the server to rebuild its index. It reports false when a rebuild was already running.
func (c *Client) Rebuild(ctx context.Context) (bool, error) {
	var out simmcp.RebuildIndexOutput
	if err := c.call(ctx, simmcp.ToolRebuildIndex, map[string]any{}, &out); err != nil {
		return false, err
	}
	return out.Status == "accepted", nil
}

func (c *Client) call(ctx context.Context, toolName string, arguments map[string]any, out any) error {
	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolName,
		Arguments: arguments,
	})
	if err != nil {
		return fmt.Errorf("tools/call %s failed: %w", toolName, err)
	}

	text := firstText(result)
	if result.IsError {
		if text == "" {
			text = "unknown error"
		}
		return fmt.Errorf("%w: %s", ErrTool, text)
	}

	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", toolName, err)
	}
	return nil
}

func firstText(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if textContent, ok := content.(*mcp.TextContent); ok {
			return textContent.Text
		}
	}
	return ""
}

// Close terminates the session
func (c *Client) Close() error {
	if err := c.session.Close(); err != nil {
		c.logger.Warn("simsearch session close error", "error", err)
		return err
	}
	return nil
}
