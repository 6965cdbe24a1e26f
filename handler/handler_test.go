package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/shadabshaukat/cogneo-edge-router/dispatch"
	"github.com/shadabshaukat/cogneo-edge-router/tenant"
	"github.com/shadabshaukat/cogneo-edge-router/upstream"
)

func newTestHandler(t *testing.T, srv *httptest.Server) *Handler {
	t.Helper()
	content := `
tenants:
  acme:
    default_backend: opensearch
    default_llm: ollama
    upstreams:
      opensearch_api: ` + srv.URL + `
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
	return New(zerolog.New(io.Discard), p)
}

func TestVectorMissingQueryReturns400(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := newTestHandler(t, srv)
	req := httptest.NewRequest(http.MethodPost, "/v1/search/vector", bytes.NewBufferString(`{"top_k":3}`))
	rr := httptest.NewRecorder()
	h.Vector(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestVectorAppliesDefaultTopK(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	h := newTestHandler(t, srv)
	req := httptest.NewRequest(http.MethodPost, "/v1/search/vector", bytes.NewBufferString(`{"query":"hi"}`))
	rr := httptest.NewRecorder()
	h.Vector(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotBody["top_k"] != float64(5) {
		t.Fatalf("expected default top_k=5 forwarded, got %v", gotBody["top_k"])
	}
}

func TestFtsRejectsInvalidMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := newTestHandler(t, srv)
	req := httptest.NewRequest(http.MethodPost, "/v1/search/fts", bytes.NewBufferString(`{"query":"hi","mode":"bogus"}`))
	rr := httptest.NewRecorder()
	h.Fts(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid mode, got %d", rr.Code)
	}
}

func TestRagRequiresQuestion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := newTestHandler(t, srv)
	req := httptest.NewRequest(http.MethodPost, "/v1/search/rag", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	h.Rag(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHealthOk(t *testing.T) {
	h := &Handler{logger: zerolog.New(io.Discard)}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.Health(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != `{"ok":true}` {
		t.Fatalf("unexpected health response: %d %s", rr.Code, rr.Body.String())
	}
}
