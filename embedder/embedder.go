// Package embedder turns free-text queries into fixed-dimension vectors for
// the semantic cache. Embedding is CPU-bound and synchronous in its native
// form, so callers go through Pool, which bounds how many embed calls run
// at once; each call still runs on the calling goroutine.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// knownDims maps well-known embedder names to their fixed output dimension.
var knownDims = map[string]int{
	"fastembed_e5_small": 384,
	"fastembed_e5_base":  768,
	"fastembed_bge_small": 384,
}

// Embedder turns text into a unit vector of fixed dimension, or reports
// that it is disabled / the operation failed.
type Embedder interface {
	Enabled() bool
	Dim() int
	Embed(ctx context.Context, text string) ([]float32, bool)
}

// Pool bounds the number of concurrent embedding calls with a buffered-channel
// semaphore. Calls run on the caller's goroutine; no separate workers exist.
type Pool struct {
	inner Embedder
	sem   chan struct{}
}

// NewPool wraps inner with a semaphore bounding concurrent embed calls.
func NewPool(inner Embedder, concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Pool{inner: inner, sem: make(chan struct{}, concurrency)}
}

func (p *Pool) Enabled() bool { return p.inner.Enabled() }
func (p *Pool) Dim() int      { return p.inner.Dim() }

// Embed waits until a semaphore slot is free (or the context is cancelled,
// which reports failure) and then runs the inner embed call.
func (p *Pool) Embed(ctx context.Context, text string) ([]float32, bool) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, false
	}
	defer func() { <-p.sem }()

	return p.inner.Embed(ctx, text)
}

// SeededHashEmbedder is a deterministic, dependency-free stand-in for a real
// embedding model: it produces a stable, unit-normalized vector of dimension
// D for any given input text (identical text always yields the identical
// vector), sufficient to exercise the full similarity-search contract
// end-to-end. Intended for local development and testing when no embedding
// model server is configured; point SEMCACHE_EMBED_URL at a real model
// server and use HTTPEmbedder for production deployments.
type SeededHashEmbedder struct {
	dim     int
	enabled bool
}

// NewSeededHashEmbedder constructs an embedder for the named model. If name
// is a known fixed-dimension model, its dimension overrides dim.
func NewSeededHashEmbedder(name string, dim int, enabled bool) *SeededHashEmbedder {
	if known, ok := knownDims[name]; ok {
		dim = known
	}
	if dim <= 0 {
		dim = 384
	}
	return &SeededHashEmbedder{dim: dim, enabled: enabled}
}

func (e *SeededHashEmbedder) Enabled() bool { return e.enabled }
func (e *SeededHashEmbedder) Dim() int      { return e.dim }

func (e *SeededHashEmbedder) Embed(_ context.Context, text string) ([]float32, bool) {
	if !e.enabled {
		return nil, false
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := int64(h.Sum64())

	rng := rand.New(rand.NewSource(seed))
	vec := make([]float32, e.dim)
	var norm float64
	for i := range vec {
		v := rng.NormFloat64()
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec, true
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, true
}

// HTTPEmbedder calls an external embedding HTTP endpoint, for deployments
// that run a real model server. It satisfies the same Embedder interface as
// SeededHashEmbedder so the dispatch pipeline is agnostic to which is wired.
type HTTPEmbedder struct {
	url     string
	dim     int
	enabled bool
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPEmbedder constructs an embedder that POSTs {"text": ...} to url and
// expects a JSON body {"embedding": [...]}.
func NewHTTPEmbedder(url string, dim int, enabled bool, timeout time.Duration, logger zerolog.Logger) *HTTPEmbedder {
	return &HTTPEmbedder{
		url:     url,
		dim:     dim,
		enabled: enabled,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "embedder").Logger(),
	}
}

func (e *HTTPEmbedder) Enabled() bool { return e.enabled }
func (e *HTTPEmbedder) Dim() int      { return e.dim }

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, bool) {
	if !e.enabled {
		return nil, false
	}

	reqBody, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(reqBody))
	if err != nil {
		e.logger.Warn().Err(err).Msg("embed request build failed")
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Warn().Err(err).Msg("embed request failed")
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		e.logger.Warn().Int("status", resp.StatusCode).Msg("embed endpoint returned error status")
		return nil, false
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		e.logger.Warn().Err(err).Msg("embed response decode failed")
		return nil, false
	}
	if len(out.Embedding) != e.dim {
		e.logger.Warn().Int("want", e.dim).Int("got", len(out.Embedding)).Msg("embed response dimension mismatch")
		return nil, false
	}
	return out.Embedding, true
}
