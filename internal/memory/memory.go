// Package memory implements the bounded conversational store for a session.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/edulab/tutor/internal/llm"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolRecord captures one tool invocation made while answering a turn.
type ToolRecord struct {
	Tool        string        `json:"tool"`
	Input       string        `json:"input"`
	Observation string        `json:"observation"`
	Duration    time.Duration `json:"duration"`
}

// Turn is one conversational exchange entry. Turns are immutable once
// appended; tool records are ordered as they were invoked.
type Turn struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	ToolRecords []ToolRecord `json:"tool_records,omitempty"`
}

// NewTurn creates a turn with a fresh ULID and the current time.
func NewTurn(role Role, content string, records []ToolRecord) Turn {
	return Turn{
		ID:          ulid.Make().String(),
		Role:        role,
		Content:     content,
		Timestamp:   time.Now().UTC(),
		ToolRecords: records,
	}
}

// Stats is a read-only projection of a conversation's size and shape.
type Stats struct {
	TurnCount      int `json:"turn_count"`
	UserTurns      int `json:"user_turns"`
	AssistantTurns int `json:"assistant_turns"`
	ApproxSize     int `json:"approx_size_bytes"`
}

// Summary renders the one-line form shown in stats responses and
// exports, e.g. "4 turns (2 user, 2 assistant)".
func (s Stats) Summary() string {
	return fmt.Sprintf("%d turns (%d user, %d assistant)", s.TurnCount, s.UserTurns, s.AssistantTurns)
}

// Conversation is an append-only ordered log of turns with a FIFO cap:
// when the cap is exceeded the oldest turns are evicted first. Snapshots
// are copies taken at call time; later appends and evictions never
// affect an already-returned snapshot.
type Conversation struct {
	mu    sync.Mutex
	cap   int
	turns []Turn
	size  int
}

// DefaultCap bounds conversations that were created without an explicit cap.
const DefaultCap = 50

// NewConversation creates a conversation bounded at cap turns.
func NewConversation(cap int) *Conversation {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Conversation{cap: cap}
}

// Append adds a turn, evicting the oldest turns when the cap is exceeded.
func (c *Conversation) Append(turn Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = append(c.turns, turn)
	c.size += approxTurnSize(turn)

	for len(c.turns) > c.cap {
		c.size -= approxTurnSize(c.turns[0])
		c.turns = c.turns[1:]
	}
}

// Snapshot returns a copy of the current turn sequence, oldest first.
func (c *Conversation) Snapshot() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Clear removes all turns immediately.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
	c.size = 0
}

// Stats reports the current turn counts by role and approximate byte size.
func (c *Conversation) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{TurnCount: len(c.turns), ApproxSize: c.size}
	for _, t := range c.turns {
		switch t.Role {
		case RoleUser:
			s.UserTurns++
		case RoleAssistant:
			s.AssistantTurns++
		}
	}
	return s
}

// Messages converts the current turns into provider messages, oldest
// first. Tool records stay attached to the Turn; only the dialogue text
// is sent upstream.
func (c *Conversation) Messages() []llm.Message {
	turns := c.Snapshot()
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	return msgs
}

func approxTurnSize(t Turn) int {
	n := len(t.Content) + len(t.ID) + 16
	for _, r := range t.ToolRecords {
		n += len(r.Tool) + len(r.Input) + len(r.Observation) + 16
	}
	return n
}
