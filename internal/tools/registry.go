// Package tools implements the capability registry exposed to the
// orchestration loop: execute (sandbox), search, explain, and knowledge
// lookup. The registry maps names to executors with declared input
// schemas; invocation ordering is the loop's concern, never the
// registry's.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/edulab/tutor/internal/embedding"
	"github.com/edulab/tutor/internal/llm"
	"github.com/edulab/tutor/internal/sandbox"
	"github.com/edulab/tutor/internal/semantic"
)

// Executor executes a tool call and returns the observation as a string.
// Expected tool-level outcomes (denials, faults) are observations, not
// errors; an error return means the tool itself malfunctioned.
type Executor interface {
	Execute(ctx context.Context, input map[string]interface{}) (string, error)
}

// Registry manages tool executors and dispatches tool calls.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	tools     map[string]llm.ToolDefinition
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		tools:     make(map[string]llm.ToolDefinition),
	}
}

// NewRegistryFor builds a registry with the built-in capabilities wired
// to a session's stores. The knowledge tool binds to the given semantic
// partition; execute, search, and explain are session-independent.
func NewRegistryFor(runner *sandbox.Runner, searcher Searcher, embedder embedding.Embedder, partition *semantic.Partition, logger *slog.Logger) *Registry {
	r := NewRegistry()
	r.Register("execute", ExecuteDefinition(), NewExecuteTool(runner))
	r.Register("search", SearchDefinition(), NewSearchTool(searcher, logger))
	r.Register("explain", ExplainDefinition(), NewExplainTool())
	if embedder != nil && partition != nil {
		r.Register("knowledge", KnowledgeDefinition(), NewKnowledgeTool(embedder, partition))
	}
	return r
}

// Register adds a tool executor to the registry.
func (r *Registry) Register(name string, def llm.ToolDefinition, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = executor
	r.tools[name] = def
}

// Execute dispatches a tool call to its registered executor.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	r.mu.RLock()
	executor, ok := r.executors[call.Name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("tool %q not registered", call.Name)
	}
	return executor.Execute(ctx, call.Input)
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[name]
	return ok
}

// Definitions returns all registered tool definitions, sorted by name
// so provider requests are deterministic.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, d := range r.tools {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func stringInput(input map[string]interface{}, key string) string {
	if input == nil {
		return ""
	}
	s, _ := input[key].(string)
	return s
}

func intInput(input map[string]interface{}, key string, fallback int) int {
	if input == nil {
		return fallback
	}
	switch v := input[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}
