package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/edulab/tutor/internal/embedding"
	"github.com/edulab/tutor/internal/llm"
	"github.com/edulab/tutor/internal/sandbox"
	"github.com/edulab/tutor/internal/semantic"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRunner() *sandbox.Runner {
	return sandbox.NewRunner(sandbox.NewInterpBackend(), sandbox.RunnerConfig{}, discardLogger(), nil)
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	r.Register("explain", ExplainDefinition(), NewExplainTool())

	out, err := r.Execute(context.Background(), llm.ToolCall{
		Name:  "explain",
		Input: map[string]interface{}{"code": "def f():\n    return 1"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out == "" {
		t.Error("expected non-empty observation")
	}

	if _, err := r.Execute(context.Background(), llm.ToolCall{Name: "missing"}); err == nil {
		t.Error("expected error for unregistered tool")
	}
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	r := NewRegistryFor(testRunner(), nil, nil, nil, discardLogger())

	defs := r.Definitions()
	if len(defs) != 3 {
		t.Fatalf("got %d definitions, want 3 (execute, explain, search)", len(defs))
	}
	for i := 1; i < len(defs); i++ {
		if defs[i].Name < defs[i-1].Name {
			t.Errorf("definitions not sorted: %q after %q", defs[i].Name, defs[i-1].Name)
		}
	}
	if r.Has("knowledge") {
		t.Error("knowledge tool should be absent without an embedder")
	}
}

func TestExecuteToolVerdictsAreObservations(t *testing.T) {
	tool := NewExecuteTool(testRunner())
	ctx := context.Background()

	tests := []struct {
		name string
		code string
		want string
	}{
		{name: "allowed", code: `fmt.Println("ok")`, want: "ok"},
		{name: "denied", code: `import "os"` + "\n\nfunc main() { os.Exit(1) }", want: "denied"},
		{name: "faulted", code: "a := 0\nfmt.Println(1 / a)", want: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tool.Execute(ctx, map[string]interface{}{"code": tt.code})
			if err != nil {
				t.Fatalf("tool error for %s verdict: %v", tt.name, err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("observation %q should contain %q", out, tt.want)
			}
		})
	}

	if _, err := tool.Execute(ctx, map[string]interface{}{}); err == nil {
		t.Error("expected error for missing code input")
	}
}

type stubSearcher struct {
	results []SearchResult
	err     error
}

func (s *stubSearcher) Search(_ context.Context, _ string) ([]SearchResult, error) {
	return s.results, s.err
}

func TestSearchToolUsesProvider(t *testing.T) {
	tool := NewSearchTool(&stubSearcher{
		results: []SearchResult{{Title: "External hit", Snippet: "from provider"}},
	}, discardLogger())

	out, err := tool.Execute(context.Background(), map[string]interface{}{"query": "anything"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "External hit") {
		t.Errorf("observation %q should contain provider result", out)
	}
}

func TestSearchToolFallsBackWhenUnavailable(t *testing.T) {
	tool := NewSearchTool(&stubSearcher{err: errors.New("connection refused")}, discardLogger())

	out, err := tool.Execute(context.Background(), map[string]interface{}{"query": "what is a goroutine"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "Goroutines") {
		t.Errorf("observation %q should come from the built-in corpus", out)
	}
}

func TestSearchToolNoProviderNoMatch(t *testing.T) {
	tool := NewSearchTool(nil, discardLogger())

	out, err := tool.Execute(context.Background(), map[string]interface{}{"query": "zqxv unrelated topic"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "no results found" {
		t.Errorf("observation = %q, want empty-result message", out)
	}
}

func TestExplainGoSnippet(t *testing.T) {
	tool := NewExplainTool()

	out, err := tool.Execute(context.Background(), map[string]interface{}{
		"code": `
func add(a, b int) int {
	return a + b
}

type Point struct {
	X, Y int
}
`,
		"language": "go",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "Function add") {
		t.Errorf("missing function description: %q", out)
	}
	if !strings.Contains(out, "Struct Point") {
		t.Errorf("missing struct description: %q", out)
	}
}

func TestExplainPythonSnippet(t *testing.T) {
	tool := NewExplainTool()

	out, err := tool.Execute(context.Background(), map[string]interface{}{
		"code": "def greet(name):\n    return f\"hi {name}\"\n",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "python") {
		t.Errorf("language not detected: %q", out)
	}
	if !strings.Contains(out, "defines a function") {
		t.Errorf("missing line classification: %q", out)
	}
}

func TestExplainBarePythonExceptNote(t *testing.T) {
	tool := NewExplainTool()

	out, err := tool.Execute(context.Background(), map[string]interface{}{
		"code":     "try:\n    risky()\nexcept:\n    pass\n",
		"language": "python",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "bare `except:`") {
		t.Errorf("missing best-practice note: %q", out)
	}
}

func TestKnowledgeToolRoundTrip(t *testing.T) {
	store, err := semantic.Open(filepath.Join(t.TempDir(), "sem.db"), discardLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	e := embedding.NewHashEmbedder(64)
	part := store.Partition("")
	ctx := context.Background()

	text := "binary search halves the candidate range each step"
	vec, _ := e.Embed(ctx, text)
	if err := part.Ingest(ctx, "algos.txt", []semantic.Chunk{{DocumentID: "algos.txt", Content: text, Embedding: vec}}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	tool := NewKnowledgeTool(e, part)
	out, err := tool.Execute(ctx, map[string]interface{}{"query": "how does binary search work"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "binary search") {
		t.Errorf("observation %q should contain the ingested passage", out)
	}
}

func TestKnowledgeToolEmptyIndex(t *testing.T) {
	store, err := semantic.Open(filepath.Join(t.TempDir(), "sem.db"), discardLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	tool := NewKnowledgeTool(embedding.NewHashEmbedder(64), store.Partition(""))
	out, err := tool.Execute(context.Background(), map[string]interface{}{"query": "anything"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "no relevant passages") {
		t.Errorf("observation = %q", out)
	}
}

func TestFormatResultTruncationNote(t *testing.T) {
	out := FormatResult(sandbox.Result{Verdict: sandbox.VerdictAllowed, Output: "abc", Truncated: true})
	if !strings.Contains(out, "[output truncated]") {
		t.Errorf("missing truncation note: %q", out)
	}
}
