package dispatch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/shadabshaukat/cogneo-edge-router/tenant"
	"github.com/shadabshaukat/cogneo-edge-router/upstream"
)

func newTestRegistry(t *testing.T, upstreamURL string) *tenant.Registry {
	t.Helper()
	content := `
tenants:
  acme:
    default_backend: opensearch
    default_llm: ollama
    upstreams:
      opensearch_api: ` + upstreamURL + `
    auth:
      user: tenant-user
      pass: tenant-pass
`
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	reg, err := tenant.Load(path)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return reg
}

func newTestPipeline(t *testing.T, srv *httptest.Server) *Pipeline {
	t.Helper()
	return &Pipeline{
		Tenants:        newTestRegistry(t, srv.URL),
		Upstream:       upstream.NewPool(upstream.DefaultPoolConfig(), 5*time.Second),
		Logger:         zerolog.New(io.Discard),
		TenancyEnabled: true,
		CacheTTL:       time.Minute,
	}
}

func TestDispatchSuccessPassthrough(t *testing.T) {
	var gotPath string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	p := newTestPipeline(t, srv)
	res, err := p.Dispatch(context.Background(), "/v1/search/vector", "acme", map[string]interface{}{
		"query": "hello", "top_k": float64(3),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != 200 || string(res.Body) != `{"results":[]}` {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gotPath != "/search/vector" {
		t.Fatalf("expected upstream path /search/vector, got %s", gotPath)
	}
	if gotAuth == "" {
		t.Fatalf("expected tenant auth to be applied")
	}
}

func TestDispatchAuthOverrideStripsReservedKeysAndUsesOverride(t *testing.T) {
	var gotBody, gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotUser, gotPass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	p := newTestPipeline(t, srv)
	_, err := p.Dispatch(context.Background(), "/v1/search/fts", "acme", map[string]interface{}{
		"query": "q", "top_k": float64(5), "mode": "both",
		"_upstream_user": "override-user", "_upstream_pass": "override-pass",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !containsAny(gotBody, "query") {
		t.Fatalf("expected forwarded body to retain query field: %s", gotBody)
	}
	if containsAny(gotBody, "_upstream_user", "_upstream_pass") {
		t.Fatalf("forwarded body must not contain reserved auth keys: %s", gotBody)
	}
	if gotUser != "override-user" || gotPass != "override-pass" {
		t.Fatalf("expected override credentials on upstream call, got user %q", gotUser)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) > 0 && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestDispatchMissingTenantHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newTestPipeline(t, srv)
	_, err := p.Dispatch(context.Background(), "/v1/search/vector", "", map[string]interface{}{"query": "x"})
	derr, ok := err.(*Error)
	if !ok || derr.Status != 401 {
		t.Fatalf("expected 401 tenant-missing error, got %v", err)
	}
}

func TestDispatchUnknownTenant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newTestPipeline(t, srv)
	_, err := p.Dispatch(context.Background(), "/v1/search/vector", "ghost", map[string]interface{}{"query": "x"})
	derr, ok := err.(*Error)
	if !ok || derr.Status != 401 {
		t.Fatalf("expected 401 tenant-unknown error, got %v", err)
	}
}

func TestDispatchInvalidBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newTestPipeline(t, srv)
	_, err := p.Dispatch(context.Background(), "/v1/search/vector", "acme", map[string]interface{}{
		"query": "x", "backend": "mysql",
	})
	derr, ok := err.(*Error)
	if !ok || derr.Status != 400 {
		t.Fatalf("expected 400 validation error, got %v", err)
	}
}

func TestDispatchUpstream5xxMapsTo502(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"down"}`))
	}))
	defer srv.Close()

	p := newTestPipeline(t, srv)
	_, err := p.Dispatch(context.Background(), "/v1/search/vector", "acme", map[string]interface{}{"query": "x"})
	derr, ok := err.(*Error)
	if !ok || derr.Status != 502 {
		t.Fatalf("expected 502 upstream-unavailable error, got %v", err)
	}
}

func TestDispatchUpstream4xxPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"bad query"}`))
	}))
	defer srv.Close()

	p := newTestPipeline(t, srv)
	res, err := p.Dispatch(context.Background(), "/v1/search/vector", "acme", map[string]interface{}{"query": "x"})
	if err != nil {
		t.Fatalf("expected pass-through without pipeline error, got %v", err)
	}
	if res.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected status passthrough, got %d", res.Status)
	}
}

func TestDispatchBackendWithNoUpstreamURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newTestPipeline(t, srv)
	_, err := p.Dispatch(context.Background(), "/v1/search/vector", "acme", map[string]interface{}{
		"query": "x", "backend": "postgres",
	})
	derr, ok := err.(*Error)
	if !ok || derr.Status != 400 {
		t.Fatalf("expected 400 backend-unavailable error, got %v", err)
	}
}
