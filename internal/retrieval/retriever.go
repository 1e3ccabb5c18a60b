// Package retrieval runs policy-filtered vector similarity search over
// stored chunks. The store applies filters server-side; this package
// re-checks them client-side so an over-permissive store can never leak
// a chunk outside the caller's allow-set.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/quorumhq/quorum/internal/policy"
	"github.com/quorumhq/quorum/internal/store"
)

const (
	// DefaultTopK caps retrieval results when the query does not.
	DefaultTopK = 12
	// DefaultSimilarityThreshold drops weak matches the store's top-K
	// may still include.
	DefaultSimilarityThreshold = 0.7
)

// ErrInvalidArgument indicates a malformed retrieval query.
type ErrInvalidArgument struct {
	Detail string
}

func (e ErrInvalidArgument) Error() string { return fmt.Sprintf("invalid argument: %s", e.Detail) }

// Query is the transient input to one retrieval call.
type Query struct {
	Question string
	Role     policy.Role
	// Version filters chunks to {Version, "ALL"}; empty means all versions.
	Version string
	// Scopes, when set, narrows retrieval below the role's allow-set.
	// Requested scopes outside the allow-set are dropped, not granted.
	Scopes []policy.Scope
	// Classifications behaves like Scopes for sensitivity levels.
	Classifications []policy.Classification
	TopK            int
	Threshold       float64
	HasThreshold    bool
}

// ScoredChunk pairs a chunk with its per-query similarity.
type ScoredChunk struct {
	ID             string
	DocumentID     string
	ChunkIndex     int
	Title          string
	Content        string
	Version        string
	Scope          policy.Scope
	Classification policy.Classification
	Similarity     float64
	CreatedAt      time.Time
}

// Result is an ordered, truncated, policy-contained retrieval outcome.
type Result struct {
	Chunks []ScoredChunk
}

// Searcher is the slice of the store retrieval depends on.
type Searcher interface {
	SearchChunks(ctx context.Context, p store.ChunkSearchParams) ([]store.ChunkHit, error)
}

// Embedder is the slice of the embedding gateway retrieval depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever executes retrieval queries.
type Retriever struct {
	searcher  Searcher
	embedder  Embedder
	topK      int
	threshold float64
}

// NewRetriever builds a retriever with configured defaults; zero values
// fall back to the package defaults.
func NewRetriever(searcher Searcher, embedder Embedder, topK int, threshold float64) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if threshold == 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Retriever{searcher: searcher, embedder: embedder, topK: topK, threshold: threshold}
}

// Retrieve embeds the question, searches the store within the caller's
// resolved allow-sets and returns at most K chunks at or above the
// similarity threshold, descending by similarity. Zero candidates is an
// empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (Result, error) {
	topK := q.TopK
	if topK == 0 {
		topK = r.topK
	}
	if topK <= 0 {
		return Result{}, ErrInvalidArgument{Detail: fmt.Sprintf("topK must be positive, got %d", topK)}
	}
	threshold := r.threshold
	if q.HasThreshold {
		threshold = q.Threshold
	}

	scopes, classes := resolveFilters(q)
	if len(scopes) == 0 || len(classes) == 0 {
		// Requested filters intersect the allow-set to nothing; by
		// contract this yields an empty result, not a rejection.
		return Result{}, nil
	}

	vector, err := r.embedder.Embed(ctx, q.Question)
	if err != nil {
		return Result{}, err
	}

	// Default is "all versions"; an explicit version also matches the
	// wildcard ALL tag.
	var versions []string
	if q.Version != "" && q.Version != store.VersionAll {
		versions = []string{q.Version, store.VersionAll}
	}

	hits, err := r.searcher.SearchChunks(ctx, store.ChunkSearchParams{
		Vector:          vector,
		TopK:            topK,
		Versions:        versions,
		Scopes:          scopeStrings(scopes),
		Classifications: classStrings(classes),
	})
	if err != nil {
		return Result{}, fmt.Errorf("chunk search: %w", err)
	}

	allowedScopes := toSet(scopeStrings(scopes))
	allowedClasses := toSet(classStrings(classes))

	chunks := make([]ScoredChunk, 0, len(hits))
	for _, h := range hits {
		if h.Similarity < threshold {
			continue
		}
		// Never trust the store's filtering.
		if _, ok := allowedScopes[h.Scope]; !ok {
			continue
		}
		if _, ok := allowedClasses[h.Classification]; !ok {
			continue
		}
		if q.Version != "" && q.Version != store.VersionAll &&
			h.Version != q.Version && h.Version != store.VersionAll {
			continue
		}
		chunks = append(chunks, ScoredChunk{
			ID:             h.ID,
			DocumentID:     h.DocumentID,
			ChunkIndex:     h.ChunkIndex,
			Title:          h.Title,
			Content:        h.Content,
			Version:        h.Version,
			Scope:          policy.Scope(h.Scope),
			Classification: policy.Classification(h.Classification),
			Similarity:     h.Similarity,
			CreatedAt:      h.CreatedAt,
		})
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Similarity != chunks[j].Similarity {
			return chunks[i].Similarity > chunks[j].Similarity
		}
		return chunks[i].CreatedAt.Before(chunks[j].CreatedAt)
	})
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	return Result{Chunks: chunks}, nil
}

// resolveFilters intersects requested scopes/classifications with the
// role's allow-sets, or takes the full allow-sets when nothing explicit
// was requested. The intersection can only narrow, never widen.
func resolveFilters(q Query) ([]policy.Scope, []policy.Classification) {
	allowedScopes := policy.AllowedScopes(q.Role)
	allowedClasses := policy.AllowedClassifications(q.Role)

	scopes := allowedScopes
	if len(q.Scopes) > 0 {
		scopes = nil
		for _, s := range q.Scopes {
			if policy.ScopeAllowed(q.Role, s) {
				scopes = append(scopes, s)
			}
		}
	}
	classes := allowedClasses
	if len(q.Classifications) > 0 {
		classes = nil
		for _, c := range q.Classifications {
			if policy.ClassificationAllowed(q.Role, c) {
				classes = append(classes, c)
			}
		}
	}
	return scopes, classes
}

func scopeStrings(scopes []policy.Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}

func classStrings(classes []policy.Classification) []string {
	out := make([]string, len(classes))
	for i, c := range classes {
		out[i] = string(c)
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}
