package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// OpenSearchProvider talks to an OpenSearch (or Elasticsearch-compatible)
// cluster's REST k-NN API directly over net/http, building the index-creation
// body and KNN query documents as plain JSON rather than through a client
// library.
type OpenSearchProvider struct {
	baseURL string
	index   string
	client  *http.Client
	logger  zerolog.Logger
}

// NewOpenSearchProvider constructs a provider against baseURL/index, with
// optional HTTP basic auth baked into the shared client via a RoundTripper.
func NewOpenSearchProvider(baseURL, index, user, pass string, timeout time.Duration, logger zerolog.Logger) *OpenSearchProvider {
	var rt http.RoundTripper = http.DefaultTransport
	if user != "" {
		rt = &basicAuthTransport{user: user, pass: pass, inner: rt}
	}
	return &OpenSearchProvider{
		baseURL: baseURL,
		index:   index,
		client:  &http.Client{Timeout: timeout, Transport: rt},
		logger:  logger.With().Str("component", "semantic.opensearch").Logger(),
	}
}

type basicAuthTransport struct {
	user, pass string
	inner      http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.user, t.pass)
	return t.inner.RoundTrip(req)
}

// EnsureReady creates the index with a knn_vector mapping (hnsw, cosine
// similarity) if it does not already exist.
func (p *OpenSearchProvider) EnsureReady(ctx context.Context, dim int) error {
	existsReq, err := http.NewRequestWithContext(ctx, http.MethodHead, p.baseURL+"/"+p.index, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(existsReq)
	if err != nil {
		return fmt.Errorf("opensearch: index exists check: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body := map[string]interface{}{
		"settings": map[string]interface{}{
			"index": map[string]interface{}{"knn": true},
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"tenant_id":  map[string]string{"type": "keyword"},
				"endpoint":   map[string]string{"type": "keyword"},
				"backend":    map[string]string{"type": "keyword"},
				"llm_source": map[string]string{"type": "keyword"},
				"model":      map[string]string{"type": "keyword"},
				"query_text": map[string]string{"type": "text"},
				"expires_at": map[string]string{"type": "date"},
				"embedding": map[string]interface{}{
					"type":      "knn_vector",
					"dimension": dim,
					"method": map[string]interface{}{
						"name":       "hnsw",
						"space_type": "cosinesimil",
						"engine":     "nmslib",
					},
				},
			},
		},
	}
	return p.doJSON(ctx, http.MethodPut, "/"+p.index, body, nil)
}

// Search issues a knn query filtered by the hard (tenant, endpoint, backend)
// filters plus the optional llm_source/model narrowing and an expires_at
// range filter, fetches the top candidate, and independently recomputes
// cosine similarity from its returned embedding before thresholding —
// because the index's own score may fall below the caller's threshold.
func (p *OpenSearchProvider) Search(ctx context.Context, vec []float32, sctx Context, threshold float64) ([]byte, bool, error) {
	filters := []map[string]interface{}{
		{"term": map[string]interface{}{"tenant_id": sctx.TenantID}},
		{"term": map[string]interface{}{"endpoint": sctx.Endpoint}},
		{"term": map[string]interface{}{"backend": sctx.Backend}},
		{"range": map[string]interface{}{"expires_at": map[string]interface{}{"gt": "now"}}},
	}
	// A stored doc with no llm_source/model matches any query value.
	optionalTerm := func(field, value string) map[string]interface{} {
		return map[string]interface{}{"bool": map[string]interface{}{
			"should": []map[string]interface{}{
				{"term": map[string]interface{}{field: value}},
				{"bool": map[string]interface{}{"must_not": map[string]interface{}{"exists": map[string]interface{}{"field": field}}}},
			},
			"minimum_should_match": 1,
		}}
	}
	if sctx.LLMSource != nil {
		filters = append(filters, optionalTerm("llm_source", *sctx.LLMSource))
	}
	if sctx.Model != nil {
		filters = append(filters, optionalTerm("model", *sctx.Model))
	}

	query := map[string]interface{}{
		"size": 1,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": filters,
				"must": map[string]interface{}{
					"knn": map[string]interface{}{
						"embedding": map[string]interface{}{
							"vector": vec,
							"k":      1,
						},
					},
				},
			},
		},
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source struct {
					ResponseJSON json.RawMessage `json:"response_json"`
					Embedding    []float32       `json:"embedding"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := p.doJSON(ctx, http.MethodPost, "/"+p.index+"/_search", query, &result); err != nil {
		return nil, false, err
	}
	if len(result.Hits.Hits) == 0 {
		return nil, false, nil
	}

	top := result.Hits.Hits[0].Source
	similarity := CosineSimilarity(vec, top.Embedding)
	if similarity < threshold {
		return nil, false, nil
	}
	return top.ResponseJSON, true, nil
}

// IndexDoc POSTs a new document to the index.
func (p *OpenSearchProvider) IndexDoc(ctx context.Context, doc Doc) error {
	body := map[string]interface{}{
		"tenant_id":     doc.TenantID,
		"endpoint":      doc.Endpoint,
		"backend":       doc.Backend,
		"llm_source":    doc.LLMSource,
		"model":         doc.Model,
		"query_text":    doc.QueryText,
		"embedding":     doc.Embedding,
		"response_json": json.RawMessage(doc.ResponseJSON),
		"created_at":    doc.CreatedAt,
		"expires_at":    doc.ExpiresAt,
	}
	return p.doJSON(ctx, http.MethodPost, "/"+p.index+"/_doc", body, nil)
}

func (p *OpenSearchProvider) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("opensearch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch: %s %s returned status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
