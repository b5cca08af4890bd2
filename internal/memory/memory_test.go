package memory

import (
	"fmt"
	"sync"
	"testing"
)

func TestCapEvictsOldestFirst(t *testing.T) {
	c := NewConversation(20)

	for i := 0; i < 25; i++ {
		c.Append(NewTurn(RoleUser, fmt.Sprintf("turn %d", i), nil))
	}

	turns := c.Snapshot()
	if len(turns) != 20 {
		t.Fatalf("retained %d turns, want 20", len(turns))
	}
	// The oldest 5 are gone; order of the rest is preserved.
	for i, turn := range turns {
		want := fmt.Sprintf("turn %d", i+5)
		if turn.Content != want {
			t.Errorf("turns[%d].Content = %q, want %q", i, turn.Content, want)
		}
	}
}

func TestCapHoldsUnderConcurrentAppends(t *testing.T) {
	c := NewConversation(10)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				c.Append(NewTurn(RoleUser, fmt.Sprintf("g%d-%d", g, i), nil))
				if n := c.Stats().TurnCount; n > 10 {
					t.Errorf("turn count %d exceeds cap", n)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if n := c.Stats().TurnCount; n != 10 {
		t.Errorf("final turn count = %d, want 10", n)
	}
}

func TestSnapshotUnaffectedByLaterAppends(t *testing.T) {
	c := NewConversation(5)
	c.Append(NewTurn(RoleUser, "first", nil))

	snap := c.Snapshot()
	c.Append(NewTurn(RoleAssistant, "second", nil))

	if len(snap) != 1 {
		t.Fatalf("snapshot length changed to %d after later append", len(snap))
	}
	if snap[0].Content != "first" {
		t.Errorf("snapshot content = %q, want %q", snap[0].Content, "first")
	}
}

func TestClearVisibleToNextSnapshot(t *testing.T) {
	c := NewConversation(5)
	c.Append(NewTurn(RoleUser, "hello", nil))
	c.Append(NewTurn(RoleAssistant, "hi", nil))

	c.Clear()

	if got := c.Snapshot(); len(got) != 0 {
		t.Errorf("snapshot after clear has %d turns, want 0", len(got))
	}
	stats := c.Stats()
	if stats.TurnCount != 0 || stats.ApproxSize != 0 {
		t.Errorf("stats after clear = %+v, want zeros", stats)
	}
}

func TestStatsTracksSize(t *testing.T) {
	c := NewConversation(5)
	c.Append(NewTurn(RoleUser, "some question text", nil))

	stats := c.Stats()
	if stats.TurnCount != 1 {
		t.Errorf("turn count = %d, want 1", stats.TurnCount)
	}
	if stats.ApproxSize <= 0 {
		t.Errorf("approx size = %d, want positive", stats.ApproxSize)
	}
}

func TestStatsRoleBreakdown(t *testing.T) {
	c := NewConversation(10)
	c.Append(NewTurn(RoleUser, "first question", nil))
	c.Append(NewTurn(RoleAssistant, "first answer", nil))
	c.Append(NewTurn(RoleUser, "second question", nil))

	stats := c.Stats()
	if stats.UserTurns != 2 || stats.AssistantTurns != 1 {
		t.Errorf("role counts = %d user, %d assistant, want 2 and 1", stats.UserTurns, stats.AssistantTurns)
	}
	if got, want := stats.Summary(), "3 turns (2 user, 1 assistant)"; got != want {
		t.Errorf("summary = %q, want %q", got, want)
	}
}

func TestTurnIDsUniqueAndOrdered(t *testing.T) {
	seen := map[string]bool{}
	var prev string
	for i := 0; i < 100; i++ {
		turn := NewTurn(RoleUser, "x", nil)
		if seen[turn.ID] {
			t.Fatalf("duplicate turn ID %q", turn.ID)
		}
		seen[turn.ID] = true
		if turn.ID <= prev {
			t.Fatalf("turn IDs not monotonically increasing: %q after %q", turn.ID, prev)
		}
		prev = turn.ID
	}
}

func TestMessagesConversion(t *testing.T) {
	c := NewConversation(5)
	c.Append(NewTurn(RoleUser, "question", nil))
	c.Append(NewTurn(RoleAssistant, "answer", []ToolRecord{{Tool: "search", Input: "q", Observation: "obs"}}))

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "question" || msgs[1].Content != "answer" {
		t.Errorf("unexpected message contents: %+v", msgs)
	}
}
