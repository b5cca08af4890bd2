package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// HashEmbedder is a deterministic, dependency-free embedder built on
// token feature hashing. It is the fallback backend when no embedding
// provider is reachable: similar texts still score above unrelated ones
// because shared tokens land in shared buckets, but quality is far below
// a learned model. Vectors are L2-normalized.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hashing embedder with the given
// dimensionality. Dimensions below 16 are raised to the default 256.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims < 16 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

// Embed produces a deterministic vector for the text.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)

	tokens := tokenize(text)
	for i, tok := range tokens {
		addFeature(vec, tok)
		if i+1 < len(tokens) {
			addFeature(vec, tok+" "+tokens[i+1])
		}
	}

	var mag float64
	for _, v := range vec {
		mag += float64(v) * float64(v)
	}
	if mag > 0 {
		norm := float32(1 / math.Sqrt(mag))
		for i := range vec {
			vec[i] *= norm
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vecs[i] = vec
	}
	return vecs, nil
}

// Dimensions returns the configured vector dimensionality.
func (e *HashEmbedder) Dimensions() int {
	return e.dims
}

// Name returns the backend identifier.
func (e *HashEmbedder) Name() string {
	return fmt.Sprintf("hash:%d", e.dims)
}

func addFeature(vec []float32, feature string) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec)))
	// The high bit chooses the sign so collisions partially cancel.
	if sum&(1<<63) != 0 {
		vec[idx]--
	} else {
		vec[idx]++
	}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
