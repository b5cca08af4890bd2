// Package session manages conversation sessions: opaque server-issued
// IDs, per-session memory and document scope, single-flight request
// locking, and idle eviction.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/edulab/tutor/internal/memory"
	"github.com/edulab/tutor/internal/semantic"
	"github.com/edulab/tutor/internal/telemetry"
	"github.com/edulab/tutor/internal/tools"
)

// ErrBusy is returned when a session already has a request in flight.
var ErrBusy = errors.New("session busy: a request is already in flight")

// PartitionMode selects how document scope maps to sessions.
type PartitionMode string

const (
	// PartitionShared gives every session the same knowledge base.
	PartitionShared PartitionMode = "shared"
	// PartitionPerSession isolates uploads per session and deletes
	// them when the session is evicted.
	PartitionPerSession PartitionMode = "per_session"
)

// Session is one stateful conversation. Conversation is internally
// synchronized; the remaining fields are guarded by the manager.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time

	Conversation *memory.Conversation
	Partition    *semantic.Partition
	Registry     *tools.Registry

	busy bool
}

// Info is the externally visible summary of a session.
type Info struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	TurnCount    int       `json:"turn_count"`
}

// generateSecureID creates a cryptographically random session ID with
// at least 128 bits of entropy, prefixed "sess_" and encoded with
// URL-safe base64 (no padding).
func generateSecureID() string {
	b := make([]byte, 16) // 128 bits
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return "sess_" + base64.RawURLEncoding.EncodeToString(b)
}

// RegistryFunc builds the tool registry bound to a session's document
// partition.
type RegistryFunc func(partition *semantic.Partition) *tools.Registry

// Config tunes the manager.
type Config struct {
	MemoryCap     int
	IdleTimeout   time.Duration
	PartitionMode PartitionMode
	SweepSchedule string
}

func (c Config) withDefaults() Config {
	if c.MemoryCap <= 0 {
		c.MemoryCap = memory.DefaultCap
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.PartitionMode == "" {
		c.PartitionMode = PartitionShared
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = "@every 1m"
	}
	return c
}

// Manager owns all live sessions. semanticStore may be nil, in which
// case sessions carry no document partition.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg           Config
	semanticStore *semantic.Store
	registryFn    RegistryFunc
	logger        *slog.Logger
	metrics       *telemetry.Metrics
	cron          *cron.Cron
}

// NewManager creates the session manager. logger and metrics may be
// nil.
func NewManager(cfg Config, store *semantic.Store, registryFn RegistryFunc, logger *slog.Logger, metrics *telemetry.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:      make(map[string]*Session),
		cfg:           cfg.withDefaults(),
		semanticStore: store,
		registryFn:    registryFn,
		logger:        logger,
		metrics:       metrics,
	}
}

// Resolve returns the session for id, creating a fresh one when id is
// empty or unknown. IDs are server-issued and never adopted from the
// client, so an unknown id yields a new session under a new id.
func (m *Manager) Resolve(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if sess, ok := m.sessions[id]; ok {
			sess.LastActivity = time.Now()
			return sess
		}
	}
	return m.createLocked()
}

// Get returns the session for id without creating one.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

func (m *Manager) createLocked() *Session {
	now := time.Now()
	sess := &Session{
		ID:           generateSecureID(),
		CreatedAt:    now,
		LastActivity: now,
		Conversation: memory.NewConversation(m.cfg.MemoryCap),
	}
	if m.semanticStore != nil {
		name := ""
		if m.cfg.PartitionMode == PartitionPerSession {
			name = sess.ID
		}
		sess.Partition = m.semanticStore.Partition(name)
	}
	if m.registryFn != nil {
		sess.Registry = m.registryFn(sess.Partition)
	}
	m.sessions[sess.ID] = sess
	if m.metrics != nil {
		m.metrics.SetActiveSessions(len(m.sessions))
	}
	m.logger.Info("session created", "session_id", sess.ID)
	return sess
}

// Acquire marks the session busy for one request. A second concurrent
// request on the same session gets ErrBusy; requests on different
// sessions proceed independently.
func (m *Manager) Acquire(sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.busy {
		return ErrBusy
	}
	sess.busy = true
	sess.LastActivity = time.Now()
	return nil
}

// Release ends the session's in-flight request.
func (m *Manager) Release(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess.busy = false
	sess.LastActivity = time.Now()
}

// Touch refreshes the session's activity timestamp.
func (m *Manager) Touch(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess.LastActivity = time.Now()
}

// List returns summaries of all live sessions, newest activity first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, Info{
			ID:           sess.ID,
			CreatedAt:    sess.CreatedAt,
			LastActivity: sess.LastActivity,
			TurnCount:    sess.Conversation.Stats().TurnCount,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastActivity.After(infos[j].LastActivity)
	})
	return infos
}

// Remove deletes a session immediately, clearing its conversation and,
// in per-session mode, its document partition. Busy sessions cannot be
// removed.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session %q not found", id)
	}
	if sess.busy {
		m.mu.Unlock()
		return ErrBusy
	}
	delete(m.sessions, id)
	remaining := len(m.sessions)
	m.mu.Unlock()

	sess.Conversation.Clear()
	if sess.Partition != nil && m.cfg.PartitionMode == PartitionPerSession {
		if err := sess.Partition.Clear(ctx); err != nil {
			m.logger.Warn("removed session partition not cleared", "session_id", id, "error", err)
		}
	}
	if m.metrics != nil {
		m.metrics.SetActiveSessions(remaining)
	}
	m.logger.Info("session removed", "session_id", id)
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// EvictIdle removes every session idle longer than the configured
// timeout and returns how many were evicted. Busy sessions are never
// evicted mid-request. Per-session document partitions are cleared so
// uploads do not outlive their session.
func (m *Manager) EvictIdle(ctx context.Context) int {
	m.mu.Lock()
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)
	var victims []*Session
	for id, sess := range m.sessions {
		if sess.busy || sess.LastActivity.After(cutoff) {
			continue
		}
		delete(m.sessions, id)
		victims = append(victims, sess)
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	for _, sess := range victims {
		sess.Conversation.Clear()
		if sess.Partition != nil && m.cfg.PartitionMode == PartitionPerSession {
			if err := sess.Partition.Clear(ctx); err != nil {
				m.logger.Warn("evicted session partition not cleared", "session_id", sess.ID, "error", err)
			}
		}
		m.logger.Info("session evicted", "session_id", sess.ID)
	}

	if len(victims) > 0 && m.metrics != nil {
		m.metrics.RecordEvictions(len(victims))
		m.metrics.SetActiveSessions(remaining)
	}
	return len(victims)
}

// StartSweeper schedules periodic idle eviction on the configured
// cron spec. Call StopSweeper on shutdown.
func (m *Manager) StartSweeper() error {
	c := cron.New()
	_, err := c.AddFunc(m.cfg.SweepSchedule, func() {
		n := m.EvictIdle(context.Background())
		if n > 0 {
			m.logger.Info("idle sweep complete", "evicted", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule idle sweep: %w", err)
	}
	c.Start()
	m.cron = c
	return nil
}

// StopSweeper halts the eviction schedule and waits for a running
// sweep to finish.
func (m *Manager) StopSweeper() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}
