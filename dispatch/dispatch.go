// Package dispatch implements the request pipeline that ties the tenant
// registry, fingerprinting, exact cache, semantic cache, embedder, and
// upstream proxy together: resolve → key → exact lookup → semantic
// lookup → upstream call → double-write → return upstream JSON verbatim.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shadabshaukat/cogneo-edge-router/embedder"
	"github.com/shadabshaukat/cogneo-edge-router/exactcache"
	"github.com/shadabshaukat/cogneo-edge-router/fingerprint"
	"github.com/shadabshaukat/cogneo-edge-router/observability"
	"github.com/shadabshaukat/cogneo-edge-router/semantic"
	"github.com/shadabshaukat/cogneo-edge-router/tenant"
	"github.com/shadabshaukat/cogneo-edge-router/upstream"
)

var validBackends = map[string]bool{"postgres": true, "oracle": true, "opensearch": true}
var validLLMSources = map[string]bool{"ollama": true, "oci_genai": true, "bedrock": true}

// Pipeline is the process-wide dispatch orchestrator. Its dependencies are
// either always-present singletons (tenants, upstream pool) or nil-able
// best-effort components (exact cache, semantic cache) that are simply
// skipped when disabled — mirroring the "caches never fail the request"
// rule from the error handling design.
type Pipeline struct {
	Tenants        *tenant.Registry
	Exact          *exactcache.Cache
	Semantic       *semantic.Cache
	Embedder       embedder.Embedder
	Upstream       *upstream.Pool
	Metrics        *observability.Metrics
	Logger         zerolog.Logger
	TenancyEnabled bool
	CacheTTL       time.Duration
	NormalizeQuery bool
}

// Result is the outcome of a successful (or upstream-passthrough) dispatch.
type Result struct {
	Status int
	Body   []byte
}

// Dispatch runs the full pipeline for one endpoint invocation. endpoint is
// the full route path (e.g. "/v1/search/vector"); payload is the decoded
// JSON request body. tenantID is the X-Tenant-Id header value, or "" when
// absent.
func (p *Pipeline) Dispatch(ctx context.Context, endpoint, tenantID string, payload map[string]interface{}) (Result, error) {
	start := time.Now()

	descriptor, err := p.resolveTenant(tenantID)
	if err != nil {
		return Result{}, err
	}
	if p.Metrics != nil {
		p.Metrics.TrackTenantLookup(true)
	}

	backend, err := p.resolveBackend(descriptor, payload)
	if err != nil {
		return Result{}, err
	}

	upstreamURL, err := descriptor.UpstreamFor(backend)
	if err != nil {
		return Result{}, backendUnavailableError(backend)
	}

	if llmSource, ok := payload["llm_source"].(string); ok && llmSource != "" && !validLLMSources[llmSource] {
		return Result{}, validationError("invalid llm_source %q", llmSource)
	}

	forward, auth := p.composeForwardBody(descriptor, payload)

	log := p.Logger.With().Str("tenant_id", tenantIDOrDefault(tenantID)).Str("endpoint", endpoint).Str("backend", backend).Logger()

	key := fingerprint.Key(endpoint, backend, payload, p.NormalizeQuery)

	if p.Exact != nil {
		if cached, hit := p.Exact.Get(ctx, key); hit {
			if p.Metrics != nil {
				p.Metrics.TrackExactCache(endpoint, true)
				p.Metrics.TrackRequest(endpoint, backend, 200, msSince(start))
			}
			return Result{Status: 200, Body: cached}, nil
		}
	}
	if p.Metrics != nil {
		p.Metrics.TrackExactCache(endpoint, false)
	}

	freeText, _ := fingerprint.FreeTextFields[endpoint]
	queryText, _ := payload[freeText].(string)

	var queryVec []float32
	semanticEnabled := p.Semantic != nil && p.Semantic.Enabled() && p.Embedder != nil && p.Embedder.Enabled() && queryText != ""
	if semanticEnabled {
		if vec, ok := p.Embedder.Embed(ctx, queryText); ok {
			queryVec = vec
			sctx := semantic.Context{
				TenantID:  tenantIDOrDefault(tenantID),
				Endpoint:  endpoint,
				Backend:   backend,
				LLMSource: stringPtrFromPayload(payload, "llm_source"),
				Model:     stringPtrFromPayload(payload, "model"),
			}
			if resp, hit := p.Semantic.Search(ctx, queryVec, sctx); hit {
				if p.Metrics != nil {
					p.Metrics.TrackSemanticCache(endpoint, true)
					p.Metrics.TrackRequest(endpoint, backend, 200, msSince(start))
				}
				return Result{Status: 200, Body: resp}, nil
			}
		} else {
			log.Warn().Msg("embedding failed, bypassing semantic cache tier")
			semanticEnabled = false
		}
	}
	if p.Metrics != nil && p.Semantic != nil && p.Semantic.Enabled() {
		p.Metrics.TrackSemanticCache(endpoint, false)
	}

	body, err := json.Marshal(forward)
	if err != nil {
		return Result{}, validationError("unable to encode request body: %s", err.Error())
	}

	upstreamPath := strings.TrimPrefix(endpoint, "/v1")
	upstreamStart := time.Now()
	status, respBody, err := p.Upstream.Post(ctx, upstreamURL, upstreamPath, body, auth)
	upstreamLatency := msSince(upstreamStart)
	if err != nil {
		if errors.Is(err, upstream.ErrUnavailable) {
			if p.Metrics != nil {
				p.Metrics.TrackUpstream(backend, status, upstreamLatency, true)
				p.Metrics.TrackRequest(endpoint, backend, 502, msSince(start))
			}
			log.Warn().Err(err).Msg("upstream unavailable")
			return Result{}, upstreamUnavailableError(backend)
		}
		return Result{}, validationError("upstream call failed: %s", err.Error())
	}
	if p.Metrics != nil {
		p.Metrics.TrackUpstream(backend, status, upstreamLatency, false)
	}

	if status >= 200 && status < 300 {
		if p.Exact != nil {
			p.Exact.Set(ctx, key, respBody, p.CacheTTL)
		}
		if semanticEnabled && queryVec != nil {
			sctx := semantic.Context{
				TenantID:  tenantIDOrDefault(tenantID),
				Endpoint:  endpoint,
				Backend:   backend,
				LLMSource: stringPtrFromPayload(payload, "llm_source"),
				Model:     stringPtrFromPayload(payload, "model"),
			}
			p.Semantic.Store(ctx, queryVec, sctx, queryText, respBody)
		}
	}

	if p.Metrics != nil {
		p.Metrics.TrackRequest(endpoint, backend, status, msSince(start))
	}

	return Result{Status: status, Body: respBody}, nil
}

func (p *Pipeline) resolveTenant(tenantID string) (tenant.Descriptor, error) {
	if !p.TenancyEnabled {
		return p.Tenants.Get("default")
	}
	if tenantID == "" {
		return tenant.Descriptor{}, tenantMissingError()
	}
	d, err := p.Tenants.Get(tenantID)
	if err != nil {
		if p.Metrics != nil {
			p.Metrics.TrackTenantLookup(false)
		}
		return tenant.Descriptor{}, tenantUnknownError(tenantID)
	}
	return d, nil
}

func (p *Pipeline) resolveBackend(d tenant.Descriptor, payload map[string]interface{}) (string, error) {
	backend := d.DefaultBackend
	if override, ok := payload["backend"].(string); ok && override != "" {
		backend = override
	}
	if !validBackends[backend] {
		return "", validationError("invalid backend %q", backend)
	}
	return backend, nil
}

// composeForwardBody returns the JSON body to forward upstream (with
// routing/auth-override keys stripped) and the basic-auth credentials to
// use, applying the reserved-key override when present.
func (p *Pipeline) composeForwardBody(d tenant.Descriptor, payload map[string]interface{}) (map[string]interface{}, *upstream.Auth) {
	forward := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if k == "backend" || k == "_upstream_user" || k == "_upstream_pass" {
			continue
		}
		forward[k] = v
	}

	auth := authFromDescriptor(d)
	user, hasUser := payload["_upstream_user"].(string)
	pass, hasPass := payload["_upstream_pass"].(string)
	if hasUser || hasPass {
		auth = &upstream.Auth{User: user, Pass: pass}
	}
	return forward, auth
}

func authFromDescriptor(d tenant.Descriptor) *upstream.Auth {
	if d.Auth == nil {
		return nil
	}
	return &upstream.Auth{User: d.Auth.User, Pass: d.Auth.Pass}
}

func stringPtrFromPayload(payload map[string]interface{}, key string) *string {
	if v, ok := payload[key].(string); ok && v != "" {
		return &v
	}
	return nil
}

func tenantIDOrDefault(id string) string {
	if id == "" {
		return "default"
	}
	return id
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
