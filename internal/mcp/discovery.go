package mcp

import (
	"context"
	"fmt"

	"github.com/edulab/tutor/internal/llm"
	"github.com/edulab/tutor/internal/tools"
)

// Discovery aggregates tools from connected MCP servers and registers
// them as capabilities the orchestration loop can call.
type Discovery struct {
	pool *Pool
}

// NewDiscovery creates a tool discovery service over a pool.
func NewDiscovery(pool *Pool) *Discovery {
	return &Discovery{pool: pool}
}

// DiscoverTools lists all tools from all connected servers.
func (d *Discovery) DiscoverTools(ctx context.Context) ([]RemoteTool, error) {
	var all []RemoteTool
	for _, client := range d.pool.All() {
		remote, err := client.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("discover tools from %s: %w", client.Name(), err)
		}
		all = append(all, remote...)
	}
	return all, nil
}

// RegisterAll discovers every remote tool and registers it into the
// registry under "<server>_<tool>". Remote names never shadow the
// built-in capabilities; colliding names are skipped with an error.
func (d *Discovery) RegisterAll(ctx context.Context, registry *tools.Registry) (int, error) {
	remote, err := d.DiscoverTools(ctx)
	if err != nil {
		return 0, err
	}

	registered := 0
	for _, rt := range remote {
		name := rt.ServerName + "_" + rt.Name
		if registry.Has(name) {
			return registered, fmt.Errorf("mcp tool name %q already registered", name)
		}
		client, err := d.pool.Get(rt.ServerName)
		if err != nil {
			return registered, err
		}
		registry.Register(name, llm.ToolDefinition{
			Name:        name,
			Description: rt.Description,
			InputSchema: rt.InputSchema,
		}, &remoteExecutor{client: client, tool: rt.Name})
		registered++
	}
	return registered, nil
}

// remoteExecutor adapts one remote MCP tool to the registry's Executor
// contract. Remote failures become error observations upstream.
type remoteExecutor struct {
	client *Client
	tool   string
}

func (e *remoteExecutor) Execute(ctx context.Context, input map[string]interface{}) (string, error) {
	return e.client.CallTool(ctx, e.tool, input)
}
