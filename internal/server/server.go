// Package server exposes the tutor over HTTP: query, document upload,
// memory inspection, and session administration.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/edulab/tutor/internal/agent"
	"github.com/edulab/tutor/internal/embedding"
	"github.com/edulab/tutor/internal/extract"
	"github.com/edulab/tutor/internal/memory"
	"github.com/edulab/tutor/internal/semantic"
	"github.com/edulab/tutor/internal/session"
	"github.com/edulab/tutor/internal/telemetry"
)

// Server is the tutor HTTP server.
type Server struct {
	agent    atomic.Pointer[agent.Agent]
	sessions *session.Manager
	embedder embedding.Embedder
	chunker  *semantic.Chunker

	mux       *http.ServeMux
	server    *http.Server
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	startTime time.Time
	apiKey    string
	limiter   *rateLimiter
}

// Option configures the Server.
type Option func(*Server)

// WithAPIKey requires the key on every endpoint except health.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRateLimit throttles clients to the given per-IP budget.
func WithRateLimit(cfg RateLimitConfig) Option {
	return func(s *Server) { s.limiter = newRateLimiter(cfg) }
}

// WithMetrics wires request metrics and mounts /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithEmbedder enables document upload using the given embedder and
// chunker. chunker may be nil for defaults.
func WithEmbedder(e embedding.Embedder, chunker *semantic.Chunker) Option {
	return func(s *Server) {
		s.embedder = e
		if chunker == nil {
			chunker = semantic.NewChunker(0, 0)
		}
		s.chunker = chunker
	}
}

// New creates the HTTP server around an agent and a session manager.
func New(ag *agent.Agent, sessions *session.Manager, opts ...Option) *Server {
	s := &Server{
		sessions:  sessions,
		logger:    slog.Default(),
		startTime: time.Now(),
	}
	s.agent.Store(ag)
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /v1/query", s.handleQuery)
	mux.HandleFunc("POST /v1/upload", s.handleUpload)
	mux.HandleFunc("GET /v1/memory/stats", s.handleMemoryStats)
	mux.HandleFunc("POST /v1/memory/clear", s.handleMemoryClear)
	mux.HandleFunc("GET /v1/documents", s.handleDocuments)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}/export", s.handleExport)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.mux = mux
	return s
}

// Handler returns the HTTP handler for use with httptest or custom
// servers.
func (s *Server) Handler() http.Handler {
	return s.correlate(s.throttle(s.auth(s.mux)))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("server starting", "addr", addr)
	return s.server.ListenAndServe()
}

// SwapAgent replaces the agent used for subsequent queries. In-flight
// requests finish on the agent they started with.
func (s *Server) SwapAgent(ag *agent.Agent) {
	s.agent.Store(ag)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// correlate assigns every request a correlation ID, honoring one the
// caller supplied, and echoes it back in the response.
func (s *Server) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = ulid.Make().String()
		}
		w.Header().Set("X-Correlation-ID", id)
		next.ServeHTTP(w, r.WithContext(telemetry.WithCorrelationID(r.Context(), id)))
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = auth[7:]
			}
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"uptime":   time.Since(s.startTime).String(),
		"sessions": s.sessions.Count(),
		"version":  "0.1.0",
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req struct {
		Question  string `json:"question"`
		SessionID string `json:"session_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "question must not be empty")
		return
	}

	sess := s.sessions.Resolve(req.SessionID)
	if err := s.sessions.Acquire(sess); err != nil {
		if errors.Is(err, session.ErrBusy) {
			s.record("busy", start)
			writeError(w, http.StatusConflict, "busy", "A request is already in flight for this session")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	defer s.sessions.Release(sess)

	logger := telemetry.RequestLogger(s.logger, r.Context(), sess.ID)
	logger.Info("query received", "question_len", len(req.Question))

	res := s.agent.Load().Respond(r.Context(), req.Question, sess.Conversation, sess.Registry)

	// Memory only advances once the exchange completes: a cancelled
	// request leaves the conversation exactly as it was.
	if r.Context().Err() == nil {
		sess.Conversation.Append(memory.NewTurn(memory.RoleUser, req.Question, nil))
		sess.Conversation.Append(memory.NewTurn(memory.RoleAssistant, res.Answer, res.Records))
	}

	toolCalls := make([]map[string]interface{}, len(res.Records))
	for i, rec := range res.Records {
		toolCalls[i] = map[string]interface{}{
			"tool":        rec.Tool,
			"input":       rec.Input,
			"observation": rec.Observation,
			"duration_ms": rec.Duration.Milliseconds(),
		}
	}

	s.record(string(res.State), start)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"answer":     res.Answer,
		"session_id": sess.ID,
		"state":      res.State,
		"fallback":   res.FallbackUsed,
		"tool_calls": toolCalls,
		"tokens": map[string]interface{}{
			"input":  res.Usage.InputTokens,
			"output": res.Usage.OutputTokens,
			"total":  res.Usage.Total(),
		},
		"steps":       res.Steps,
		"duration_ms": res.Duration.Milliseconds(),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.embedder == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "Document ingestion is not configured")
		return
	}

	var req struct {
		Filename  string `json:"filename"`
		Content   string `json:"content"`
		SessionID string `json:"session_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	sess := s.sessions.Resolve(req.SessionID)
	if sess.Partition == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "Document storage is not configured")
		return
	}

	text, err := extract.Text(req.Filename, []byte(req.Content))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_document", err.Error())
		return
	}

	pieces := s.chunker.Split(text)
	vectors, err := s.embedder.EmbedBatch(r.Context(), pieces)
	if err != nil {
		writeError(w, http.StatusBadGateway, "embedding_failed", err.Error())
		return
	}

	chunks := make([]semantic.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = semantic.Chunk{Content: p, Embedding: vectors[i]}
	}
	if err := sess.Partition.Ingest(r.Context(), req.Filename, chunks); err != nil {
		var dimErr *semantic.DimensionError
		if errors.As(err, &dimErr) {
			writeError(w, http.StatusConflict, "dimension_mismatch", dimErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	s.sessions.Touch(sess)
	telemetry.RequestLogger(s.logger, r.Context(), sess.ID).Info("document ingested",
		"document_id", req.Filename, "chunks", len(chunks))
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"document_id": req.Filename,
		"chunks":      len(chunks),
		"session_id":  sess.ID,
	})
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r.URL.Query().Get("session_id"))
	if !ok {
		return
	}

	conv := sess.Conversation.Stats()
	resp := map[string]interface{}{
		"session_id": sess.ID,
		"conversational": map[string]interface{}{
			"turns":           conv.TurnCount,
			"user_turns":      conv.UserTurns,
			"assistant_turns": conv.AssistantTurns,
			"approx_size":     conv.ApproxSize,
			"summary":         conv.Summary(),
		},
	}
	if sess.Partition != nil {
		stats, err := sess.Partition.Stats(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		resp["semantic"] = map[string]interface{}{
			"documents": stats.DocumentCount,
			"chunks":    stats.ChunkCount,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMemoryClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Target    string `json:"target,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	sess, ok := s.lookupSession(w, req.SessionID)
	if !ok {
		return
	}

	target := req.Target
	if target == "" {
		target = "all"
	}
	switch target {
	case "conversational", "semantic", "all":
	default:
		writeError(w, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("unknown target %q: want conversational, semantic, or all", target))
		return
	}

	if target == "conversational" || target == "all" {
		sess.Conversation.Clear()
	}
	if (target == "semantic" || target == "all") && sess.Partition != nil {
		if err := sess.Partition.Clear(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
	}

	s.sessions.Touch(sess)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sess.ID,
		"cleared":    target,
	})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r.URL.Query().Get("session_id"))
	if !ok {
		return
	}
	if sess.Partition == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"documents": []struct{}{}})
		return
	}

	docs, err := sess.Partition.Documents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sess.ID,
		"documents":  docs,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.sessions.List(),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sess.ID,
		"turns":      sess.Conversation.Snapshot(),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Remove(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrBusy) {
			writeError(w, http.StatusConflict, "busy", "A request is in flight for this session")
			return
		}
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// lookupSession resolves an existing session, writing 404 when the id
// is absent or unknown. Read endpoints never create sessions.
func (s *Server) lookupSession(w http.ResponseWriter, id string) (*session.Session, bool) {
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return nil, false
	}
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("Session %q not found", id))
		return nil, false
	}
	return sess, true
}

func (s *Server) record(status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordRequest(status, time.Since(start))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
