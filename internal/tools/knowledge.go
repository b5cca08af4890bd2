package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/edulab/tutor/internal/embedding"
	"github.com/edulab/tutor/internal/llm"
	"github.com/edulab/tutor/internal/semantic"
)

// KnowledgeTool retrieves relevant chunks from the session's semantic
// memory partition. Embedding failures degrade to an empty result set
// rather than failing the request.
type KnowledgeTool struct {
	embedder  embedding.Embedder
	partition *semantic.Partition
}

// NewKnowledgeTool creates the knowledge capability bound to a partition.
func NewKnowledgeTool(embedder embedding.Embedder, partition *semantic.Partition) *KnowledgeTool {
	return &KnowledgeTool{embedder: embedder, partition: partition}
}

// KnowledgeDefinition declares the knowledge tool's input schema.
func KnowledgeDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "knowledge",
		Description: "Retrieve passages from uploaded documents relevant to a query.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What to look for in the uploaded documents.",
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum passages to return (default 3).",
				},
			},
			"required": []string{"query"},
		},
	}
}

// Execute embeds the query and runs the similarity lookup.
func (t *KnowledgeTool) Execute(ctx context.Context, input map[string]interface{}) (string, error) {
	query := stringInput(input, "query")
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("knowledge: input must include a non-empty query")
	}
	k := intInput(input, "k", 3)

	vec, err := t.embedder.Embed(ctx, query)
	if err != nil {
		return "no document passages available (embedding provider unreachable)", nil
	}

	matches, err := t.partition.Query(ctx, vec, k)
	if err != nil {
		return "", fmt.Errorf("knowledge lookup: %w", err)
	}
	if len(matches) == 0 {
		return "no relevant passages found in uploaded documents", nil
	}

	var b strings.Builder
	for i, m := range matches {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s #%d, similarity %.2f]\n%s", m.Chunk.DocumentID, m.Chunk.Seq, m.Similarity, m.Chunk.Content)
	}
	return b.String(), nil
}
