package router

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/shadabshaukat/cogneo-edge-router/config"
	"github.com/shadabshaukat/cogneo-edge-router/dispatch"
	"github.com/shadabshaukat/cogneo-edge-router/handler"
	"github.com/shadabshaukat/cogneo-edge-router/tenant"
	"github.com/shadabshaukat/cogneo-edge-router/upstream"
)

func newTestRouter(t *testing.T, upstreamURL string) http.Handler {
	t.Helper()
	content := `
tenants:
  acme:
    default_backend: opensearch
    upstreams:
      opensearch_api: ` + upstreamURL + `
`
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	reg, err := tenant.Load(path)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}

	p := &dispatch.Pipeline{
		Tenants:        reg,
		Upstream:       upstream.NewPool(upstream.DefaultPoolConfig(), 5*time.Second),
		Logger:         zerolog.New(io.Discard),
		TenancyEnabled: false,
		CacheTTL:       time.Minute,
	}
	h := handler.New(zerolog.New(io.Discard), p)

	cfg := &config.Config{
		CORSEnable:       true,
		CORSAllowOrigins: []string{"*"},
		MaxBodyBytes:     1024 * 1024,
		RequestTimeout:   5 * time.Second,
	}
	return New(cfg, zerolog.New(io.Discard), h, nil)
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestRouter(t, "http://unused")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestVectorRouteDispatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	r := newTestRouter(t, srv.URL)
	req := httptest.NewRequest(http.MethodPost, "/v1/search/vector", bytes.NewBufferString(`{"query":"hi"}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	r := newTestRouter(t, "http://unused")
	req := httptest.NewRequest(http.MethodGet, "/v1/does-not-exist", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
