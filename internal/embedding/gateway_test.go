package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/quorumhq/quorum/internal/llm"
)

type fakeProvider struct {
	vecs [][]float32
	err  error
}

func (f *fakeProvider) Complete(context.Context, string, llm.Options) (string, error) {
	return "", nil
}

func (f *fakeProvider) CompleteWithTokens(context.Context, string, llm.Options) (string, int64, int64, error) {
	return "", 0, 0, nil
}

func (f *fakeProvider) ModelFor(string) string { return "test-model" }

func (f *fakeProvider) Embed(context.Context, []string) ([][]float32, error) {
	return f.vecs, f.err
}

func TestEmbedSingle(t *testing.T) {
	g := NewGateway(&fakeProvider{vecs: [][]float32{{0.1, 0.2}}})
	vec, err := g.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.1 {
		t.Fatalf("unexpected vector: %v", vec)
	}
}

func TestEmbedWrapsProviderError(t *testing.T) {
	boom := errors.New("rate limited")
	g := NewGateway(&fakeProvider{err: boom})
	_, err := g.Embed(context.Background(), "hello")
	var embErr EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected EmbeddingError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped cause")
	}
}

func TestEmbedBatchCountMismatch(t *testing.T) {
	g := NewGateway(&fakeProvider{vecs: [][]float32{{1}}})
	_, err := g.EmbedBatch(context.Background(), []string{"a", "b"})
	var embErr EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected EmbeddingError on count mismatch, got %v", err)
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	g := NewGateway(&fakeProvider{})
	vecs, err := g.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("empty input should be a no-op, got %v / %v", vecs, err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(sim-1) > 1e-9 {
		t.Fatalf("identical vectors should score 1, got %f", sim)
	}

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(sim) > 1e-9 {
		t.Fatalf("orthogonal vectors should score 0, got %f", sim)
	}

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{-1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(sim+1) > 1e-9 {
		t.Fatalf("opposite vectors should score -1, got %f", sim)
	}
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	if _, err := CosineSimilarity([]float32{1, 0}, []float32{1}); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	sim, err := CosineSimilarity([]float32{0, 0}, []float32{1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sim != 0 {
		t.Fatalf("zero vector should score 0, got %f", sim)
	}
}
