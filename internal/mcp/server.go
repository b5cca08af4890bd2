package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/edulab/tutor/internal/llm"
	"github.com/edulab/tutor/internal/tools"
)

// NewServer wraps a tool registry as an MCP server, so editors and
// other MCP hosts can call the tutor's capabilities directly.
func NewServer(registry *tools.Registry) (*mcpsdk.Server, error) {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "tutor",
		Version: "0.1.0",
	}, nil)

	for _, def := range registry.Definitions() {
		schema, err := schemaFor(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", def.Name, err)
		}
		name := def.Name
		tool := &mcpsdk.Tool{
			Name:        name,
			Description: def.Description,
			InputSchema: schema,
		}
		mcpsdk.AddTool(server, tool, func(ctx context.Context, _ *mcpsdk.CallToolRequest, input map[string]any) (*mcpsdk.CallToolResult, any, error) {
			observation, err := registry.Execute(ctx, llm.ToolCall{Name: name, Input: input})
			if err != nil {
				return &mcpsdk.CallToolResult{
					IsError: true,
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
				}, nil, nil
			}
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: observation}},
			}, nil, nil
		})
	}

	return server, nil
}

// ServeStdio runs the MCP server over stdin/stdout until ctx ends.
func ServeStdio(ctx context.Context, registry *tools.Registry) error {
	server, err := NewServer(registry)
	if err != nil {
		return err
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

// schemaFor converts a map-shaped JSON schema into the SDK's schema
// type.
func schemaFor(m map[string]interface{}) (*jsonschema.Schema, error) {
	if m == nil {
		m = map[string]interface{}{"type": "object"}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
