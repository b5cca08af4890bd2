package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/edulab/tutor/internal/agent"
	"github.com/edulab/tutor/internal/embedding"
	"github.com/edulab/tutor/internal/llm"
	"github.com/edulab/tutor/internal/sandbox"
	"github.com/edulab/tutor/internal/semantic"
	"github.com/edulab/tutor/internal/session"
	"github.com/edulab/tutor/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, client llm.Client, opts ...Option) (*httptest.Server, *session.Manager) {
	t.Helper()

	store, err := semantic.Open(filepath.Join(t.TempDir(), "sem.db"), discardLogger())
	if err != nil {
		t.Fatalf("open semantic store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	embedder := embedding.NewHashEmbedder(64)
	runner := sandbox.NewRunner(sandbox.NewInterpBackend(), sandbox.RunnerConfig{}, discardLogger(), nil)
	registryFn := func(p *semantic.Partition) *tools.Registry {
		return tools.NewRegistryFor(runner, nil, embedder, p, discardLogger())
	}

	sessions := session.NewManager(session.Config{}, store, registryFn, discardLogger(), nil)

	fallback, err := llm.NewFallbackResponder(nil)
	if err != nil {
		t.Fatalf("fallback rules: %v", err)
	}
	ag := agent.New(client, fallback, agent.Config{}, discardLogger(), nil)

	opts = append([]Option{
		WithLogger(discardLogger()),
		WithEmbedder(embedder, semantic.NewChunker(200, 40)),
	}, opts...)
	srv := New(ag, sessions, opts...)

	return httptest.NewServer(srv.Handler()), sessions
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockClient(llm.MockResponse{Content: "hi"}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("status %d body %v", resp.StatusCode, body)
	}
}

func TestQueryCreatesSessionAndRemembers(t *testing.T) {
	mock := llm.NewMockClient(
		llm.MockResponse{Content: "first answer"},
		llm.MockResponse{Content: "second answer"},
	)
	ts, _ := newTestServer(t, mock)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/query", map[string]string{"question": "what is a map?"})
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	if body["answer"] != "first answer" {
		t.Errorf("answer = %v", body["answer"])
	}
	sessionID, _ := body["session_id"].(string)
	if !strings.HasPrefix(sessionID, "sess_") {
		t.Fatalf("session_id = %q", sessionID)
	}

	resp = postJSON(t, ts.URL+"/v1/query", map[string]string{
		"question":   "and a slice?",
		"session_id": sessionID,
	})
	body = decodeBody(t, resp)
	if body["session_id"] != sessionID {
		t.Errorf("follow-up resolved to a different session: %v", body["session_id"])
	}

	// Prior exchange must be visible to the second model call.
	calls := mock.Calls()
	if len(calls) != 2 {
		t.Fatalf("model called %d times", len(calls))
	}
	if len(calls[1].Messages) != 3 {
		t.Errorf("second call carried %d messages, want history plus question", len(calls[1].Messages))
	}
}

func TestQueryEmptyQuestionRejected(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockClient(llm.MockResponse{Content: "x"}))
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/query", map[string]string{"question": "   "})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

// blockingClient parks the first Chat call until released, so a second
// request can race it on the same session.
type blockingClient struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingClient) Chat(ctx context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &llm.ChatResponse{Content: "done", StopReason: llm.StopEndTurn}, nil
}

func TestConcurrentQuerySameSessionRejected(t *testing.T) {
	client := &blockingClient{started: make(chan struct{}), release: make(chan struct{})}
	ts, sessions := newTestServer(t, client)
	defer ts.Close()

	sess := sessions.Resolve("")

	firstDone := make(chan int, 1)
	go func() {
		resp := postJSON(t, ts.URL+"/v1/query", map[string]string{
			"question": "slow one", "session_id": sess.ID,
		})
		_ = resp.Body.Close()
		firstDone <- resp.StatusCode
	}()

	<-client.started
	resp := postJSON(t, ts.URL+"/v1/query", map[string]string{
		"question": "impatient", "session_id": sess.ID,
	})
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("concurrent request status = %d, want 409 (%v)", resp.StatusCode, body)
	}

	close(client.release)
	if code := <-firstDone; code != http.StatusOK {
		t.Errorf("first request status = %d", code)
	}
}

func TestUploadAndDocuments(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockClient(llm.MockResponse{Content: "ok"}))
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/upload", map[string]string{
		"filename": "notes.md",
		"content":  "Goroutines are lightweight threads.\n\nChannels synchronize them.",
	})
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status %d: %v", resp.StatusCode, body)
	}
	if body["document_id"] != "notes.md" {
		t.Errorf("document_id = %v", body["document_id"])
	}
	if n, _ := body["chunks"].(float64); n < 1 {
		t.Errorf("chunks = %v", body["chunks"])
	}
	sessionID := body["session_id"].(string)

	resp, err := http.Get(ts.URL + "/v1/documents?session_id=" + sessionID)
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	body = decodeBody(t, resp)
	docs, _ := body["documents"].([]interface{})
	if len(docs) != 1 {
		t.Errorf("documents = %v", body["documents"])
	}
}

func TestUploadRejectsUnsupportedFile(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockClient(llm.MockResponse{Content: "ok"}))
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/upload", map[string]string{
		"filename": "firmware.bin",
		"content":  "whatever",
	})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestMemoryStatsAndClear(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockClient(llm.MockResponse{Content: "answer"}))
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/query", map[string]string{"question": "hello"})
	sessionID := decodeBody(t, resp)["session_id"].(string)

	resp, err := http.Get(ts.URL + "/v1/memory/stats?session_id=" + sessionID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	body := decodeBody(t, resp)
	conv, _ := body["conversational"].(map[string]interface{})
	if turns, _ := conv["turns"].(float64); turns != 2 {
		t.Errorf("turns = %v, want 2 (user + assistant)", conv["turns"])
	}
	if summary, _ := conv["summary"].(string); summary != "2 turns (1 user, 1 assistant)" {
		t.Errorf("summary = %q, want %q", summary, "2 turns (1 user, 1 assistant)")
	}

	resp = postJSON(t, ts.URL+"/v1/memory/clear", map[string]string{
		"session_id": sessionID, "target": "conversational",
	})
	if body = decodeBody(t, resp); body["cleared"] != "conversational" {
		t.Fatalf("clear response: %v", body)
	}

	resp, err = http.Get(ts.URL + "/v1/memory/stats?session_id=" + sessionID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	body = decodeBody(t, resp)
	conv, _ = body["conversational"].(map[string]interface{})
	if turns, _ := conv["turns"].(float64); turns != 0 {
		t.Errorf("turns after clear = %v", conv["turns"])
	}
}

func TestMemoryStatsUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockClient(llm.MockResponse{Content: "x"}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/memory/stats?session_id=sess_missing")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestExportConversation(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockClient(llm.MockResponse{Content: "the answer"}))
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/query", map[string]string{"question": "q"})
	sessionID := decodeBody(t, resp)["session_id"].(string)

	resp, err := http.Get(ts.URL + "/v1/sessions/" + sessionID + "/export")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	turns, _ := body["turns"].([]interface{})
	if len(turns) != 2 {
		t.Fatalf("exported %d turns, want 2", len(turns))
	}
	first, _ := turns[0].(map[string]interface{})
	if first["role"] != "user" || first["content"] != "q" {
		t.Errorf("first turn = %v", first)
	}
}

func TestDeleteSession(t *testing.T) {
	ts, sessions := newTestServer(t, llm.NewMockClient(llm.MockResponse{Content: "x"}))
	defer ts.Close()

	sess := sessions.Resolve("")
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/sessions/"+sess.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if _, ok := sessions.Get(sess.ID); ok {
		t.Error("session still resolvable after delete")
	}
}

func TestAPIKeyAuth(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockClient(llm.MockResponse{Content: "x"}), WithAPIKey("secret"))
	defer ts.Close()

	// Health stays open.
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/v1/query", map[string]string{"question": "hi"})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	data, _ := json.Marshal(map[string]string{"question": "hi"})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/query", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d", resp.StatusCode)
	}
}

func TestRateLimitEnforced(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockClient(llm.MockResponse{Content: "x"}),
		WithRateLimit(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}))
	defer ts.Close()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(ts.URL + "/v1/sessions")
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("burst requests got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third request got %d, want 429", codes[2])
	}

	// Health stays reachable even when throttled.
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}

func TestParseRateLimit(t *testing.T) {
	tests := []struct {
		in        string
		wantRate  float64
		wantBurst int
	}{
		{"", 10, 20},
		{"5:8", 5, 8},
		{"2", 2, 20},
		{"bogus:bogus", 10, 20},
		{"-1:0", 10, 20},
	}
	for _, tt := range tests {
		got := ParseRateLimit(tt.in)
		if got.RequestsPerSecond != tt.wantRate || got.Burst != tt.wantBurst {
			t.Errorf("ParseRateLimit(%q) = %+v", tt.in, got)
		}
	}
}

func TestCorrelationIDEchoed(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockClient(llm.MockResponse{Content: "x"}))
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if got := resp.Header.Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("correlation id = %q", got)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("server did not assign a correlation id")
	}
}

func TestQueryTimeout(t *testing.T) {
	slow := &blockingClient{started: make(chan struct{}), release: make(chan struct{})}
	store, _ := semantic.Open(filepath.Join(t.TempDir(), "s.db"), discardLogger())
	t.Cleanup(func() { _ = store.Close() })

	runner := sandbox.NewRunner(sandbox.NewInterpBackend(), sandbox.RunnerConfig{}, discardLogger(), nil)
	registryFn := func(p *semantic.Partition) *tools.Registry {
		return tools.NewRegistryFor(runner, nil, nil, nil, discardLogger())
	}
	sessions := session.NewManager(session.Config{}, store, registryFn, discardLogger(), nil)
	fallback, _ := llm.NewFallbackResponder(nil)
	ag := agent.New(slow, fallback, agent.Config{TimeBudget: 100 * time.Millisecond}, discardLogger(), nil)
	srv := New(ag, sessions, WithLogger(discardLogger()))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	start := time.Now()
	resp := postJSON(t, ts.URL+"/v1/query", map[string]string{"question": "hang forever"})
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %v", resp.StatusCode, body)
	}
	if body["state"] != "aborted" {
		t.Errorf("state = %v, want aborted", body["state"])
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("request took %v despite the time budget", elapsed)
	}
	if fmt.Sprint(body["answer"]) == "" {
		t.Error("aborted query returned no answer")
	}
}
