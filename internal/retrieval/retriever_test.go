package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quorumhq/quorum/internal/embedding"
	"github.com/quorumhq/quorum/internal/policy"
	"github.com/quorumhq/quorum/internal/store"
)

type fakeSearcher struct {
	hits   []store.ChunkHit
	err    error
	params store.ChunkSearchParams
}

func (f *fakeSearcher) SearchChunks(_ context.Context, p store.ChunkSearchParams) ([]store.ChunkHit, error) {
	f.params = p
	return f.hits, f.err
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return f.vec, f.err }

func hit(id, scope, class, version string, sim float64, created time.Time) store.ChunkHit {
	return store.ChunkHit{
		ChunkRecord: store.ChunkRecord{
			ID:             id,
			DocumentID:     "doc-" + id,
			Content:        "content " + id,
			Version:        version,
			Scope:          scope,
			Classification: class,
			CreatedAt:      created,
		},
		Similarity: sim,
	}
}

func TestRetrieveOrdersAndTruncates(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{hits: []store.ChunkHit{
		hit("a", "GENERAL", "PUBLIC", "ALL", 0.75, base.Add(2*time.Minute)),
		hit("b", "GENERAL", "PUBLIC", "ALL", 0.92, base),
		hit("c", "GENERAL", "PUBLIC", "ALL", 0.80, base.Add(time.Minute)),
	}}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1, 0}}, 2, 0.7)

	res, err := r.Retrieve(context.Background(), Query{Question: "q", Role: policy.RoleReader})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Chunks) != 2 {
		t.Fatalf("expected truncation to 2 chunks, got %d", len(res.Chunks))
	}
	if res.Chunks[0].ID != "b" || res.Chunks[1].ID != "c" {
		t.Fatalf("expected b,c order, got %s,%s", res.Chunks[0].ID, res.Chunks[1].ID)
	}
}

func TestRetrieveTieBreaksByCreation(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{hits: []store.ChunkHit{
		hit("younger", "GENERAL", "PUBLIC", "ALL", 0.8, base.Add(time.Hour)),
		hit("older", "GENERAL", "PUBLIC", "ALL", 0.8, base),
	}}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}}, 0, 0)

	res, err := r.Retrieve(context.Background(), Query{Question: "q", Role: policy.RoleReader})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Chunks[0].ID != "older" {
		t.Fatalf("equal similarity should order by creation, got %s first", res.Chunks[0].ID)
	}
}

func TestRetrieveAppliesThreshold(t *testing.T) {
	searcher := &fakeSearcher{hits: []store.ChunkHit{
		hit("strong", "GENERAL", "PUBLIC", "ALL", 0.71, time.Now()),
		hit("weak", "GENERAL", "PUBLIC", "ALL", 0.69, time.Now()),
	}}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}}, 0, 0)

	res, err := r.Retrieve(context.Background(), Query{Question: "q", Role: policy.RoleReader})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Chunks) != 1 || res.Chunks[0].ID != "strong" {
		t.Fatalf("expected only the chunk at/above threshold, got %v", res.Chunks)
	}
}

func TestRetrieveQueryThresholdOverride(t *testing.T) {
	searcher := &fakeSearcher{hits: []store.ChunkHit{
		hit("a", "GENERAL", "PUBLIC", "ALL", 0.5, time.Now()),
	}}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}}, 0, 0)

	res, err := r.Retrieve(context.Background(), Query{
		Question: "q", Role: policy.RoleReader, Threshold: 0.4, HasThreshold: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Chunks) != 1 {
		t.Fatalf("explicit threshold should admit the chunk, got %d", len(res.Chunks))
	}
}

func TestRetrieveRecheckOverPermissiveStore(t *testing.T) {
	// Store ignores its filters and returns out-of-policy chunks.
	searcher := &fakeSearcher{hits: []store.ChunkHit{
		hit("ok", "GENERAL", "PUBLIC", "ALL", 0.9, time.Now()),
		hit("leak-scope", "SECURITY", "PUBLIC", "ALL", 0.95, time.Now()),
		hit("leak-class", "GENERAL", "PII", "ALL", 0.95, time.Now()),
	}}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}}, 0, 0)

	res, err := r.Retrieve(context.Background(), Query{Question: "q", Role: policy.RoleDev})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Chunks) != 1 || res.Chunks[0].ID != "ok" {
		t.Fatalf("out-of-policy chunks must be dropped client-side, got %v", res.Chunks)
	}
}

func TestRetrieveVersionRecheck(t *testing.T) {
	searcher := &fakeSearcher{hits: []store.ChunkHit{
		hit("match", "GENERAL", "PUBLIC", "v2", 0.9, time.Now()),
		hit("wildcard", "GENERAL", "PUBLIC", "ALL", 0.85, time.Now()),
		hit("other", "GENERAL", "PUBLIC", "v3", 0.95, time.Now()),
	}}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}}, 0, 0)

	res, err := r.Retrieve(context.Background(), Query{Question: "q", Role: policy.RoleReader, Version: "v2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Chunks) != 2 {
		t.Fatalf("expected v2 and ALL chunks, got %d", len(res.Chunks))
	}
	if searcher.params.Versions == nil {
		t.Fatalf("version filter should be pushed to the store")
	}
}

func TestRetrieveScopeIntersection(t *testing.T) {
	searcher := &fakeSearcher{}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}}, 0, 0)

	// dev requesting SECURITY only: intersection is empty, result is empty.
	res, err := r.Retrieve(context.Background(), Query{
		Question: "q", Role: policy.RoleDev,
		Scopes: []policy.Scope{policy.ScopeSecurity},
	})
	if err != nil {
		t.Fatalf("empty intersection should not be an error: %v", err)
	}
	if len(res.Chunks) != 0 {
		t.Fatalf("expected empty result, got %d chunks", len(res.Chunks))
	}
	if searcher.params.Vector != nil {
		t.Fatalf("store must not be queried when the allow-set is empty")
	}
}

func TestRetrieveNarrowsToRequestedScopes(t *testing.T) {
	searcher := &fakeSearcher{}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}}, 0, 0)

	_, err := r.Retrieve(context.Background(), Query{
		Question: "q", Role: policy.RoleAdmin,
		Scopes: []policy.Scope{policy.ScopeDev},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(searcher.params.Scopes) != 1 || searcher.params.Scopes[0] != "DEV" {
		t.Fatalf("expected narrowed scope filter, got %v", searcher.params.Scopes)
	}
}

func TestRetrieveRejectsNonPositiveTopK(t *testing.T) {
	searcher := &fakeSearcher{}
	embedder := &fakeEmbedder{err: errors.New("embed should not be called")}
	r := NewRetriever(searcher, embedder, 0, 0)

	_, err := r.Retrieve(context.Background(), Query{Question: "q", Role: policy.RoleReader, TopK: -1})
	var invalid ErrInvalidArgument
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestRetrieveEmbeddingFailureSurfaces(t *testing.T) {
	searcher := &fakeSearcher{}
	embedder := &fakeEmbedder{err: embedding.EmbeddingError{Err: errors.New("upstream down")}}
	r := NewRetriever(searcher, embedder, 0, 0)

	_, err := r.Retrieve(context.Background(), Query{Question: "q", Role: policy.RoleReader})
	var embErr embedding.EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected embedding error to surface, got %v", err)
	}
	if searcher.params.Vector != nil {
		t.Fatalf("store must not be queried after an embedding failure")
	}
}

func TestRetrieveSearchFailureSurfaces(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("pg down")}
	r := NewRetriever(searcher, &fakeEmbedder{vec: []float32{1}}, 0, 0)

	if _, err := r.Retrieve(context.Background(), Query{Question: "q", Role: policy.RoleReader}); err == nil {
		t.Fatalf("expected search error to surface")
	}
}
