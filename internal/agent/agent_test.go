package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/edulab/tutor/internal/llm"
	"github.com/edulab/tutor/internal/memory"
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

func mustFallback(t *testing.T) *llm.FallbackResponder {
	t.Helper()
	f, err := llm.NewFallbackResponder(nil)
	if err != nil {
		t.Fatalf("fallback rules: %v", err)
	}
	return f
}

func TestDirectAnswerFinishes(t *testing.T) {
	mock := llm.NewMockClient(llm.MockResponse{Content: "a slice is a view onto an array"})
	a := New(mock, mustFallback(t), Config{}, discardLogger(), nil)

	res := a.Respond(context.Background(), "what is a slice?", memory.NewConversation(10), testRegistry())

	if res.State != StateFinished {
		t.Fatalf("state = %q, want finished", res.State)
	}
	if res.Answer != "a slice is a view onto an array" {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Records) != 0 {
		t.Errorf("unexpected tool records: %+v", res.Records)
	}
	if res.FallbackUsed {
		t.Error("fallback should not be used when the provider answers")
	}
}

func TestToolLoopRecordsInvocations(t *testing.T) {
	mock := llm.NewMockClient(
		llm.MockResponse{
			Content:   "let me analyze that",
			ToolCalls: []llm.ToolCall{{ID: "t1", Name: "explain", Input: map[string]interface{}{"code": "def f():\n    return 1"}}},
		},
		llm.MockResponse{Content: "that function returns 1"},
	)
	a := New(mock, mustFallback(t), Config{}, discardLogger(), nil)

	res := a.Respond(context.Background(), "explain this code", memory.NewConversation(10), testRegistry())

	if res.State != StateFinished {
		t.Fatalf("state = %q (answer: %s)", res.State, res.Answer)
	}
	if res.Answer != "that function returns 1" {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(res.Records))
	}
	if res.Records[0].Tool != "explain" || res.Records[0].Observation == "" {
		t.Errorf("record = %+v", res.Records[0])
	}
	if res.Records[0].Duration < 0 {
		t.Errorf("record duration = %v", res.Records[0].Duration)
	}

	// The tool observation must have flowed back to the model.
	calls := mock.Calls()
	if len(calls) != 2 {
		t.Fatalf("model called %d times, want 2", len(calls))
	}
	last := calls[1].Messages[len(calls[1].Messages)-1]
	if last.ToolResult == nil || last.ToolResult.ToolUseID != "t1" {
		t.Errorf("final message lacks the tool result: %+v", last)
	}
}

func TestStepBudgetAbortsWithPartialAnswer(t *testing.T) {
	// The model keeps asking for tools forever.
	mock := llm.NewMockClient(llm.MockResponse{
		ToolCalls: []llm.ToolCall{{ID: "t", Name: "search", Input: map[string]interface{}{"query": "what is a goroutine"}}},
	})
	a := New(mock, mustFallback(t), Config{MaxSteps: 3}, discardLogger(), nil)

	res := a.Respond(context.Background(), "tell me about goroutines", memory.NewConversation(10), testRegistry())

	if res.State != StateAborted {
		t.Fatalf("state = %q, want aborted", res.State)
	}
	if res.Steps != 3 {
		t.Errorf("steps = %d, want 3", res.Steps)
	}
	if len(res.Records) != 3 {
		t.Errorf("records = %d, want 3", len(res.Records))
	}
	// Partial answer built from the last observation, not an empty result.
	if !strings.Contains(res.Answer, "Goroutines") {
		t.Errorf("aborted answer %q should carry the last observation", res.Answer)
	}
}

func TestUnavailableWithoutFallbackStillAnswers(t *testing.T) {
	mock := llm.NewMockClient(llm.MockResponse{Error: fmt.Errorf("boom: %w", llm.ErrUnavailable)})
	a := New(mock, nil, Config{}, discardLogger(), nil)

	res := a.Respond(context.Background(), "hello", memory.NewConversation(10), testRegistry())
	if res.Answer == "" {
		t.Fatal("run returned an empty answer")
	}
}

func TestProviderUnavailableFallsBack(t *testing.T) {
	mock := llm.NewMockClient(llm.MockResponse{Error: fmt.Errorf("chat: %w", llm.ErrUnavailable)})
	a := New(mock, mustFallback(t), Config{}, discardLogger(), nil)

	res := a.Respond(context.Background(), "What is a closure in JavaScript?", memory.NewConversation(10), testRegistry())

	if res.State != StateFinished {
		t.Fatalf("state = %q, want finished", res.State)
	}
	if !res.FallbackUsed {
		t.Fatal("expected the fallback responder to serve the request")
	}
	if res.Answer == "" {
		t.Error("fallback produced an empty answer")
	}
}

func TestNilClientRunsOnFallback(t *testing.T) {
	a := New(nil, mustFallback(t), Config{}, discardLogger(), nil)

	res := a.Respond(context.Background(), "What is a closure?", memory.NewConversation(10), testRegistry())
	if !res.FallbackUsed || res.State != StateFinished {
		t.Errorf("result = %+v, want finished fallback answer", res)
	}
}

func TestFallbackNeverInvokesSandbox(t *testing.T) {
	a := New(nil, mustFallback(t), Config{}, discardLogger(), nil)

	// A run request with an embedded snippet: the fallback may explain
	// it but must never route to the execute tool.
	res := a.Respond(context.Background(),
		"run this:\n```go\nfmt.Println(1)\n```",
		memory.NewConversation(10), testRegistry())

	for _, r := range res.Records {
		if r.Tool == "execute" {
			t.Fatalf("fallback invoked the sandbox: %+v", r)
		}
	}
	if res.Answer == "" {
		t.Error("expected a deterministic answer")
	}
}

func TestConversationContextIncluded(t *testing.T) {
	mock := llm.NewMockClient(llm.MockResponse{Content: "ok"})
	a := New(mock, mustFallback(t), Config{}, discardLogger(), nil)

	conv := memory.NewConversation(10)
	conv.Append(memory.NewTurn(memory.RoleUser, "earlier question", nil))
	conv.Append(memory.NewTurn(memory.RoleAssistant, "earlier answer", nil))

	a.Respond(context.Background(), "follow-up", conv, testRegistry())

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("model called %d times", len(calls))
	}
	msgs := calls[0].Messages
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want history plus new question", len(msgs))
	}
	if msgs[0].Content != "earlier question" || msgs[2].Content != "follow-up" {
		t.Errorf("unexpected message order: %+v", msgs)
	}
}

func TestTimeBudgetAborts(t *testing.T) {
	slow := &slowClient{delay: 500 * time.Millisecond}
	a := New(slow, mustFallback(t), Config{TimeBudget: 50 * time.Millisecond}, discardLogger(), nil)

	start := time.Now()
	res := a.Respond(context.Background(), "anything", memory.NewConversation(10), testRegistry())

	if res.State != StateAborted {
		t.Fatalf("state = %q, want aborted", res.State)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("abort took far longer than the time budget")
	}
	if res.Answer == "" {
		t.Error("aborted run must still answer")
	}
}

type slowClient struct {
	delay time.Duration
}

func (s *slowClient) Chat(ctx context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
	select {
	case <-time.After(s.delay):
		return &llm.ChatResponse{Content: "late", StopReason: llm.StopEndTurn}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
