package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		a, b    []float32
		want    float64
		wantErr bool
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 1}, want: 0},
		{name: "dimension mismatch", a: []float32{1}, b: []float32{1, 2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("similarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(128)
	ctx := context.Background()

	a1, err := e.Embed(ctx, "goroutines and channels in go")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	a2, err := e.Embed(ctx, "goroutines and channels in go")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatalf("embedding not deterministic at index %d", i)
		}
	}
	if len(a1) != 128 {
		t.Errorf("dimensions = %d, want 128", len(a1))
	}
}

func TestHashEmbedderSimilarTextsScoreHigher(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()

	query, _ := e.Embed(ctx, "how do goroutines communicate over channels")
	related, _ := e.Embed(ctx, "goroutines communicate by sending values over channels")
	unrelated, _ := e.Embed(ctx, "the quarterly budget review meeting is on friday")

	simRelated, err := CosineSimilarity(query, related)
	if err != nil {
		t.Fatalf("similarity: %v", err)
	}
	simUnrelated, err := CosineSimilarity(query, unrelated)
	if err != nil {
		t.Fatalf("similarity: %v", err)
	}

	if simRelated <= simUnrelated {
		t.Errorf("related text scored %f, unrelated %f; want related higher", simRelated, simUnrelated)
	}
}

func TestHashEmbedderNormalized(t *testing.T) {
	e := NewHashEmbedder(64)
	vec, err := e.Embed(context.Background(), "normalization check for the embedder")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	var mag float64
	for _, v := range vec {
		mag += float64(v) * float64(v)
	}
	if math.Abs(mag-1) > 1e-5 {
		t.Errorf("vector magnitude = %f, want 1", math.Sqrt(mag))
	}
}

func TestHashEmbedderMinimumDimensions(t *testing.T) {
	e := NewHashEmbedder(4)
	if e.Dimensions() != 256 {
		t.Errorf("dimensions = %d, want default 256 for tiny request", e.Dimensions())
	}
}

func TestOllamaEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Model != "embeddinggemma" {
			t.Errorf("model = %q", req.Model)
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL, "")
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("unexpected vector %v", vec)
	}
}

func TestOllamaEmbedderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL, "missing")
	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestNewUnsupportedProvider(t *testing.T) {
	if _, err := New(Config{Provider: "quantum"}); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNewHashProvider(t *testing.T) {
	e, err := New(Config{Provider: "hash", Dimensions: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.Name() != fmt.Sprintf("hash:%d", 64) {
		t.Errorf("name = %q", e.Name())
	}
}

func TestGenAIEmbedderConstruction(t *testing.T) {
	if _, err := NewGenAIEmbedder("", "some-model"); err == nil {
		t.Fatal("expected error for missing API key")
	}

	e, err := NewGenAIEmbedder("test-key", "")
	if err != nil {
		t.Fatalf("NewGenAIEmbedder: %v", err)
	}
	if e.Name() != "genai:gemini-embedding-001" {
		t.Errorf("name = %q, want default model in the identifier", e.Name())
	}
	if e.Dimensions() != 768 {
		t.Errorf("dimensions = %d, want 768", e.Dimensions())
	}
}
