// Package mcp connects the tutor to the Model Context Protocol: it can
// consume tools from external MCP servers and expose its own tools as
// an MCP server over stdio.
package mcp

import (
	"context"
	"fmt"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerConfig describes one external MCP tool server.
type ServerConfig struct {
	Name      string   `json:"name" yaml:"name"`
	Transport string   `json:"transport" yaml:"transport"` // "stdio"
	Command   string   `json:"command" yaml:"command"`
	Args      []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// RemoteTool describes a tool offered by a connected MCP server.
type RemoteTool struct {
	ServerName  string                 `json:"server_name"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Client is one connection to an external MCP server.
type Client struct {
	config  ServerConfig
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
}

// NewClient creates an unconnected client for the given server.
func NewClient(config ServerConfig) *Client {
	return &Client{config: config}
}

// Connect establishes the connection. Only stdio transports are
// supported: the server binary is spawned as a child process.
func (c *Client) Connect(ctx context.Context) error {
	impl := &mcpsdk.Implementation{
		Name:    "tutor",
		Version: "0.1.0",
	}
	c.client = mcpsdk.NewClient(impl, nil)

	switch c.config.Transport {
	case "stdio", "":
		cmd := exec.CommandContext(ctx, c.config.Command, c.config.Args...)
		session, err := c.client.Connect(ctx, &mcpsdk.CommandTransport{Command: cmd}, nil)
		if err != nil {
			return fmt.Errorf("mcp connect to %s: %w", c.config.Name, err)
		}
		c.session = session
	default:
		return fmt.Errorf("unsupported MCP transport: %s", c.config.Transport)
	}

	return nil
}

// connectSession attaches an already-established session, used when the
// transport is created externally (tests, in-process servers).
func (c *Client) connectSession(session *mcpsdk.ClientSession) {
	c.session = session
}

// ListTools returns the tools this server offers.
func (c *Client) ListTools(ctx context.Context) ([]RemoteTool, error) {
	if c.session == nil {
		return nil, fmt.Errorf("mcp client not connected")
	}

	var out []RemoteTool
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("mcp list tools: %w", err)
		}
		schema := map[string]interface{}{"type": "object"}
		out = append(out, RemoteTool{
			ServerName:  c.config.Name,
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	return out, nil
}

// CallTool invokes a tool and returns its text content.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	if c.session == nil {
		return "", fmt.Errorf("mcp client not connected")
	}

	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("mcp call tool %s: %w", name, err)
	}

	text := textContent(result)
	if result.IsError {
		if text == "" {
			text = fmt.Sprintf("mcp tool %s returned an error", name)
		}
		return "", fmt.Errorf("%s", text)
	}
	return text, nil
}

func textContent(result *mcpsdk.CallToolResult) string {
	var text string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			if text != "" {
				text += "\n"
			}
			text += tc.Text
		}
	}
	return text
}

// Close shuts down the connection.
func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.config.Name
}
