package semantic

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Cache wraps a Provider with the enable flag, similarity threshold, and
// entry TTL, downgrading every Provider error to a Miss (read) or a silent
// drop (write) so the dispatch pipeline never fails on a semantic-cache
// outage.
type Cache struct {
	provider  Provider
	enabled   bool
	threshold float64
	ttl       time.Duration
	dim       int
	logger    zerolog.Logger
}

// NewCache constructs a Cache. provider may be nil when enabled is false.
func NewCache(provider Provider, enabled bool, threshold float64, ttl time.Duration, dim int, logger zerolog.Logger) *Cache {
	return &Cache{
		provider:  provider,
		enabled:   enabled,
		threshold: threshold,
		ttl:       ttl,
		dim:       dim,
		logger:    logger.With().Str("component", "semantic.cache").Logger(),
	}
}

// Enabled reports whether the semantic tier is active.
func (c *Cache) Enabled() bool { return c.enabled }

// EnsureReady idempotently prepares the backing schema/index. Failures are
// only logged: the cache stays enabled, and later Search/Store calls that
// fail against the missing schema degrade to Miss/drop, so this is not
// fatal to request handling.
func (c *Cache) EnsureReady(ctx context.Context) {
	if !c.enabled {
		return
	}
	if err := c.provider.EnsureReady(ctx, c.dim); err != nil {
		c.logger.Warn().Err(err).Msg("semantic cache schema/index setup failed")
	}
}

// Search looks up the nearest neighbour for vec under sctx. Any Provider
// error is logged and reported as a Miss.
func (c *Cache) Search(ctx context.Context, vec []float32, sctx Context) ([]byte, bool) {
	if !c.enabled {
		return nil, false
	}
	resp, ok, err := c.provider.Search(ctx, vec, sctx, c.threshold)
	if err != nil {
		c.logger.Warn().Err(err).Msg("semantic cache search failed, treating as miss")
		return nil, false
	}
	return resp, ok
}

// Store indexes a new entry with an expiry of now + ttl. Errors are logged
// and dropped silently.
func (c *Cache) Store(ctx context.Context, vec []float32, sctx Context, queryText string, response []byte) {
	if !c.enabled {
		return
	}
	now := time.Now()
	doc := Doc{
		TenantID:     sctx.TenantID,
		Endpoint:     sctx.Endpoint,
		Backend:      sctx.Backend,
		LLMSource:    sctx.LLMSource,
		Model:        sctx.Model,
		QueryText:    queryText,
		Embedding:    vec,
		ResponseJSON: response,
		CreatedAt:    now,
		ExpiresAt:    now.Add(c.ttl),
	}
	if err := c.provider.IndexDoc(ctx, doc); err != nil {
		c.logger.Warn().Err(err).Msg("semantic cache write failed, dropping")
	}
}
