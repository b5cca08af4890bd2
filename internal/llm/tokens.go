package llm

import (
	"fmt"
	"sync"
)

// TokenTracker accumulates token usage across the calls made while
// answering one question and gates further calls against an optional
// budget. A zero or negative budget disables the gate.
type TokenTracker struct {
	mu     sync.Mutex
	budget int
	in     int
	out    int
}

func NewTokenTracker(budget int) *TokenTracker {
	return &TokenTracker{budget: budget}
}

// Add folds one call's usage into the running totals.
func (t *TokenTracker) Add(u TokenUsage) {
	t.mu.Lock()
	t.in += u.InputTokens
	t.out += u.OutputTokens
	t.mu.Unlock()
}

// CheckBudget reports whether another call of up to next tokens still
// fits under the budget.
func (t *TokenTracker) CheckBudget(next int) error {
	if t.budget <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if used := t.in + t.out; used+next > t.budget {
		return fmt.Errorf("token budget exhausted: %d used of %d, next call needs up to %d", used, t.budget, next)
	}
	return nil
}

// Usage returns the totals accumulated so far.
func (t *TokenTracker) Usage() TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TokenUsage{InputTokens: t.in, OutputTokens: t.out}
}

// Remaining returns the unspent budget, or -1 when no budget is set.
func (t *TokenTracker) Remaining() int {
	if t.budget <= 0 {
		return -1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if rem := t.budget - t.in - t.out; rem > 0 {
		return rem
	}
	return 0
}
