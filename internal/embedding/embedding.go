// Package embedding generates vector embeddings for semantic retrieval.
//
// Backends: Google GenAI (cloud), Ollama (local), and a deterministic
// hashing embedder used when no embedding provider is reachable. All
// backends produce vectors of a fixed dimensionality; the semantic store
// rejects vectors whose dimensionality differs from the index.
package embedding

import (
	"context"
	"fmt"
	"math"
	"os"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of produced vectors.
	Dimensions() int

	// Name identifies the backend, e.g. "genai:gemini-embedding-001".
	Name() string
}

// Config selects and configures an embedding backend.
type Config struct {
	// Provider: "genai", "ollama", or "hash".
	Provider string `yaml:"provider"`

	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`

	// Dimensions for the hash embedder. Ignored by remote backends.
	Dimensions int `yaml:"dimensions"`
}

// DefaultConfig returns the default backend selection: GenAI when a key
// is present in the environment, otherwise the local hashing embedder.
func DefaultConfig() Config {
	cfg := Config{
		Provider:       "hash",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
		Dimensions:     256,
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Provider = "genai"
		cfg.GenAIAPIKey = key
	}
	return cfg
}

// New creates an embedder from configuration.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "genai":
		return NewGenAIEmbedder(cfg.GenAIAPIKey, cfg.GenAIModel)
	case "ollama":
		return NewOllamaEmbedder(cfg.OllamaEndpoint, cfg.OllamaModel), nil
	case "hash", "":
		return NewHashEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q (use genai, ollama, or hash)", cfg.Provider)
	}
}

// CosineSimilarity computes the cosine similarity of two vectors.
// Returns an error on dimension mismatch; a zero-magnitude vector
// yields similarity 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
