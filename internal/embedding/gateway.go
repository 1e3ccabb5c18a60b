// Package embedding turns text into fixed-length vectors and computes
// cosine similarity between them. It is a stateless layer over the LLM
// provider's embedding endpoint.
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/quorumhq/quorum/internal/llm"
)

// Dimensions is the expected length of embedding vectors.
const Dimensions = 1536

// EmbeddingError wraps an embedding-provider failure so callers can
// distinguish "embedding service down" from "no relevant results".
type EmbeddingError struct {
	Err error
}

func (e EmbeddingError) Error() string { return fmt.Sprintf("embedding failed: %v", e.Err) }
func (e EmbeddingError) Unwrap() error { return e.Err }

// Gateway provides single and batched text embedding.
type Gateway struct {
	provider llm.Provider
}

// NewGateway wraps an already-validated provider. Credential checks
// happen at provider construction, not here.
func NewGateway(provider llm.Provider) *Gateway {
	return &Gateway{provider: provider}
}

// Embed returns the embedding vector for a single text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, EmbeddingError{Err: fmt.Errorf("expected 1 vector, got %d", len(vecs))}
	}
	return vecs[0], nil
}

// EmbedBatch returns embedding vectors for texts in one provider call.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := g.provider.Embed(ctx, texts)
	if err != nil {
		return nil, EmbeddingError{Err: err}
	}
	if len(vecs) != len(texts) {
		return nil, EmbeddingError{Err: fmt.Errorf("expected %d vectors, got %d", len(texts), len(vecs))}
	}
	return vecs, nil
}

// CosineSimilarity returns dot(a,b) / (||a|| * ||b||) in [-1,1].
// Vectors of mismatched dimensionality are a caller error.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimensions do not match: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
