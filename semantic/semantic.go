// Package semantic implements the two-tier response cache's second tier:
// a similarity-thresholded vector store keyed by (tenant, endpoint, backend,
// llm_source?, model?) with one Go interface and two concrete providers
// (pgvector, OpenSearch) — no provider-specific type leaks above Provider.
package semantic

import (
	"context"
	"math"
	"time"
)

// Context narrows a semantic-cache search or insert to a tenant/endpoint/
// backend partition, with optional llm_source/model filters. A nil pointer
// means "wildcard": a query with a nil field matches any stored value for
// that field, and a stored entry with a nil field matches any query value.
type Context struct {
	TenantID  string
	Endpoint  string
	Backend   string
	LLMSource *string
	Model     *string
}

// Doc is a single stored (context, vector, response) tuple.
type Doc struct {
	TenantID     string
	Endpoint     string
	Backend      string
	LLMSource    *string
	Model        *string
	QueryText    string
	Embedding    []float32
	ResponseJSON []byte
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Provider is the polymorphic surface over the two concrete vector-store
// backends. Operations are best-effort from the caller's perspective: the
// Cache wrapper downgrades any Provider error to a Miss (read) or a silent
// drop (write) so the dispatch pipeline never fails on a semantic-cache
// outage.
type Provider interface {
	// EnsureReady idempotently creates the backing index/schema if missing.
	EnsureReady(ctx context.Context, dim int) error
	// Search returns the single nearest neighbour matching all hard filters
	// in sctx whose cosine similarity >= threshold and whose expiry has not
	// passed; ok is false on Miss.
	Search(ctx context.Context, vec []float32, sctx Context, threshold float64) (respJSON []byte, ok bool, err error)
	// IndexDoc appends a new row; existing rows for the same context are
	// never deleted or deduplicated against.
	IndexDoc(ctx context.Context, doc Doc) error
}

// CosineSimilarity computes the cosine similarity of two equal-length
// vectors, returning 0 for mismatched lengths, empty vectors, or either
// vector having zero norm.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
