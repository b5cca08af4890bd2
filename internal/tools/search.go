package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/edulab/tutor/internal/llm"
)

// SearchResult is one ranked hit from a search provider.
type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
}

// Searcher is the external search capability. Any error from Search is
// treated as provider unavailability and recovered via the built-in
// reference corpus.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// SearchTool answers lookups through an external provider when one is
// configured, falling back to a deterministic canned corpus otherwise.
type SearchTool struct {
	searcher Searcher
	logger   *slog.Logger
}

// NewSearchTool creates the search capability. searcher may be nil.
func NewSearchTool(searcher Searcher, logger *slog.Logger) *SearchTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchTool{searcher: searcher, logger: logger}
}

// SearchDefinition declares the search tool's input schema.
func SearchDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "search",
		Description: "Look up reference material about a programming topic.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "The topic or question to look up.",
				},
			},
			"required": []string{"query"},
		},
	}
}

// Execute runs the lookup.
func (t *SearchTool) Execute(ctx context.Context, input map[string]interface{}) (string, error) {
	query := stringInput(input, "query")
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("search: input must include a non-empty query")
	}

	if t.searcher != nil {
		results, err := t.searcher.Search(ctx, query)
		if err == nil {
			return formatSearchResults(results), nil
		}
		t.logger.Warn("search provider unavailable, using built-in corpus", "error", err)
	}

	return formatSearchResults(cannedSearch(query)), nil
}

func formatSearchResults(results []SearchResult) string {
	if len(results) == 0 {
		return "no results found"
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s\n%s", i+1, r.Title, r.Snippet)
		if r.Source != "" {
			fmt.Fprintf(&b, "\n(%s)", r.Source)
		}
	}
	return b.String()
}

// cannedEntry keys a reference snippet on trigger keywords.
type cannedEntry struct {
	keywords []string
	result   SearchResult
}

var cannedCorpus = []cannedEntry{
	{
		keywords: []string{"goroutine", "concurrency", "channel"},
		result: SearchResult{
			Title:   "Goroutines and channels",
			Snippet: "A goroutine is a lightweight thread managed by the Go runtime; start one with the go keyword. Channels carry typed values between goroutines, and by default block until both sides are ready, which is how Go synchronizes without explicit locks.",
			Source:  "built-in reference",
		},
	},
	{
		keywords: []string{"slice", "array", "append"},
		result: SearchResult{
			Title:   "Slices versus arrays",
			Snippet: "An array has a fixed length that is part of its type. A slice is a view onto an underlying array with a length and a capacity; append grows it, allocating a new array when capacity runs out. Passing a slice copies the header, not the elements.",
			Source:  "built-in reference",
		},
	},
	{
		keywords: []string{"interface", "duck typing", "polymorphism"},
		result: SearchResult{
			Title:   "Interfaces",
			Snippet: "An interface declares a method set; any type with those methods satisfies it implicitly. Keep interfaces small, accept them as parameters, and return concrete types.",
			Source:  "built-in reference",
		},
	},
	{
		keywords: []string{"error", "exception", "panic"},
		result: SearchResult{
			Title:   "Error handling",
			Snippet: "Errors are ordinary values returned alongside results; check them explicitly and wrap with fmt.Errorf and %w to preserve the cause. Reserve panic for unrecoverable programming defects, not expected failures.",
			Source:  "built-in reference",
		},
	},
	{
		keywords: []string{"closure", "javascript", "scope"},
		result: SearchResult{
			Title:   "Closures",
			Snippet: "A closure is a function value that captures variables from its enclosing scope. The captured variables are shared, not copied, so closures created in a loop see the loop variable's final value unless it is rebound per iteration.",
			Source:  "built-in reference",
		},
	},
	{
		keywords: []string{"python", "list comprehension", "generator"},
		result: SearchResult{
			Title:   "Python comprehensions and generators",
			Snippet: "A list comprehension builds a list eagerly; a generator expression produces values lazily and holds only one element at a time. Prefer generators for large or unbounded sequences.",
			Source:  "built-in reference",
		},
	},
	{
		keywords: []string{"sort", "complexity", "big o", "algorithm"},
		result: SearchResult{
			Title:   "Sorting and complexity",
			Snippet: "Comparison sorts cannot beat O(n log n) in the general case; quicksort and mergesort reach it, insertion sort is O(n^2) but wins on tiny or nearly-sorted inputs. Hash-based lookups average O(1), balanced trees give O(log n) with ordering.",
			Source:  "built-in reference",
		},
	},
	{
		keywords: []string{"recursion", "stack", "base case"},
		result: SearchResult{
			Title:   "Recursion",
			Snippet: "A recursive function calls itself on a smaller input and must have a base case that terminates the chain. Each call consumes stack space; deep recursion can be rewritten as iteration with an explicit stack.",
			Source:  "built-in reference",
		},
	},
	{
		keywords: []string{"map", "hash", "dictionary"},
		result: SearchResult{
			Title:   "Maps",
			Snippet: "A map associates keys with values using hashing; lookups, inserts, and deletes average O(1). Iteration order is unspecified in Go, and concurrent writes require external synchronization.",
			Source:  "built-in reference",
		},
	},
}

// cannedSearch scores corpus entries by keyword hits and returns the
// matches, best first. A query with no hits returns nothing rather than
// a wrong answer.
func cannedSearch(query string) []SearchResult {
	q := strings.ToLower(query)

	type scored struct {
		result SearchResult
		score  int
	}
	var hits []scored
	for _, e := range cannedCorpus {
		score := 0
		for _, kw := range e.keywords {
			if strings.Contains(q, kw) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{e.result, score})
		}
	}

	// Stable selection sort by score keeps corpus order on ties.
	for i := 0; i < len(hits); i++ {
		best := i
		for j := i + 1; j < len(hits); j++ {
			if hits[j].score > hits[best].score {
				best = j
			}
		}
		hits[i], hits[best] = hits[best], hits[i]
	}

	results := make([]SearchResult, 0, 3)
	for i, h := range hits {
		if i == 3 {
			break
		}
		results = append(results, h.result)
	}
	return results
}
