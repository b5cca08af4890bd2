package mcp

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/edulab/tutor/internal/llm"
	"github.com/edulab/tutor/internal/sandbox"
	"github.com/edulab/tutor/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry() *tools.Registry {
	runner := sandbox.NewRunner(sandbox.NewInterpBackend(), sandbox.RunnerConfig{}, discardLogger(), nil)
	return tools.NewRegistryFor(runner, nil, nil, nil, discardLogger())
}

// connectInMemory wires the tutor's MCP server to a client session over
// an in-memory transport pair.
func connectInMemory(t *testing.T, registry *tools.Registry) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	server, err := NewServer(registry)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	if _, err := server.Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-host", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestServerExposesRegistryTools(t *testing.T) {
	session := connectInMemory(t, testRegistry())

	var names []string
	for tool, err := range session.Tools(context.Background(), nil) {
		if err != nil {
			t.Fatalf("list tools: %v", err)
		}
		names = append(names, tool.Name)
	}

	for _, want := range []string{"execute", "explain", "search"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("tool %q not exposed (got %v)", want, names)
		}
	}
}

func TestServerCallTool(t *testing.T) {
	session := connectInMemory(t, testRegistry())

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "explain",
		Arguments: map[string]any{"code": "def add(a, b):\n    return a + b"},
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}
	if textContent(result) == "" {
		t.Error("explain returned no text content")
	}
}

func TestServerCallToolBadInput(t *testing.T) {
	session := connectInMemory(t, testRegistry())

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "search",
		Arguments: map[string]any{"query": "   "},
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if !result.IsError {
		t.Error("empty query should surface as a tool error")
	}
}

func TestClientWrapperRoundTrip(t *testing.T) {
	session := connectInMemory(t, testRegistry())

	c := NewClient(ServerConfig{Name: "local"})
	c.connectSession(session)

	remote, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(remote) < 3 {
		t.Fatalf("got %d remote tools", len(remote))
	}

	out, err := c.CallTool(context.Background(), "search", map[string]interface{}{
		"query": "what is a goroutine",
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if !strings.Contains(out, "goroutine") {
		t.Errorf("observation %q", out)
	}
}

func TestDiscoveryRegistersRemoteTools(t *testing.T) {
	session := connectInMemory(t, testRegistry())

	c := NewClient(ServerConfig{Name: "local"})
	c.connectSession(session)

	pool := NewPool()
	pool.clients.Store("local", c)

	registry := tools.NewRegistry()
	n, err := NewDiscovery(pool).RegisterAll(context.Background(), registry)
	if err != nil {
		t.Fatalf("register all: %v", err)
	}
	if n < 3 {
		t.Fatalf("registered %d tools", n)
	}
	if !registry.Has("local_explain") {
		t.Fatal("remote tool not registered under prefixed name")
	}

	out, err := registry.Execute(context.Background(), llm.ToolCall{
		Name:  "local_explain",
		Input: map[string]interface{}{"code": "for i in range(3):\n    print(i)"},
	})
	if err != nil {
		t.Fatalf("execute remote tool: %v", err)
	}
	if out == "" {
		t.Error("remote observation is empty")
	}
}

func TestPoolGetNonExistent(t *testing.T) {
	pool := NewPool()

	_, err := pool.Get("nonexistent-server")
	if err == nil {
		t.Fatal("expected error for unknown server")
	}
	if want := `mcp server "nonexistent-server" not connected`; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestPoolCloseIdempotent(t *testing.T) {
	pool := NewPool()
	if err := pool.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
