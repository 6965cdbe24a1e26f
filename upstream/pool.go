// Package upstream manages a per-base-URL pool of HTTP clients and exposes
// the single Post operation the dispatch pipeline uses to call upstream
// backends: a shared transport per base URL, double-checked lazy
// initialization, and a metrics-wrapping RoundTripper.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnavailable is returned on transport failure or any upstream 5xx.
var ErrUnavailable = errors.New("upstream: unavailable")

// PoolConfig holds connection pool tuning knobs.
type PoolConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	ResponseHeaderTimeout time.Duration
	ExpectContinueTimeout time.Duration
	DisableCompression    bool
	ForceHTTP2            bool
}

// DefaultPoolConfig returns production-grade pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		DialTimeout:           10 * time.Second,
		KeepAlive:             30 * time.Second,
		ResponseHeaderTimeout: 0,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    false,
		ForceHTTP2:            true,
	}
}

// PoolMetrics tracks connection pool utilization per base URL.
type PoolMetrics struct {
	ActiveRequests   sync.Map // map[string]*int64
	TotalRequests    sync.Map // map[string]*int64
	TotalErrors      sync.Map // map[string]*int64
	ConnectionReuses sync.Map // map[string]*int64
}

// Pool manages shared HTTP transports and clients keyed by base URL.
type Pool struct {
	mu         sync.RWMutex
	transports map[string]*http.Transport
	clients    map[string]*http.Client
	defaults   PoolConfig
	timeout    time.Duration
	metrics    *PoolMetrics
}

// NewPool creates a connection pool manager with a global request timeout
// and the given transport defaults, shared across all base URLs.
func NewPool(defaults PoolConfig, timeout time.Duration) *Pool {
	return &Pool{
		transports: make(map[string]*http.Transport),
		clients:    make(map[string]*http.Client),
		defaults:   defaults,
		timeout:    timeout,
		metrics:    &PoolMetrics{},
	}
}

// GetClient returns the shared HTTP client for baseURL, creating it (and its
// underlying transport) on first access. Concurrent first-use converges on a
// single instance via double-checked locking.
func (p *Pool) GetClient(baseURL string) *http.Client {
	p.mu.RLock()
	if c, ok := p.clients[baseURL]; ok {
		p.mu.RUnlock()
		return c
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[baseURL]; ok {
		return c
	}

	transport := p.createTransport()
	p.transports[baseURL] = transport

	client := &http.Client{
		Transport: &metricsRoundTripper{inner: transport, baseURL: baseURL, metrics: p.metrics},
		Timeout:   p.timeout,
	}
	p.clients[baseURL] = client
	return client
}

// Metrics returns a snapshot of per-base-URL pool counters.
func (p *Pool) Metrics() map[string]map[string]int64 {
	result := make(map[string]map[string]int64)
	collect := func(store *sync.Map, field string) {
		store.Range(func(key, value interface{}) bool {
			name := key.(string)
			if _, ok := result[name]; !ok {
				result[name] = make(map[string]int64)
			}
			result[name][field] = atomic.LoadInt64(value.(*int64))
			return true
		})
	}
	collect(&p.metrics.TotalRequests, "total_requests")
	collect(&p.metrics.TotalErrors, "total_errors")
	collect(&p.metrics.ActiveRequests, "active_requests")
	collect(&p.metrics.ConnectionReuses, "connection_reuses")
	return result
}

// Close gracefully closes all idle connections across every base URL.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.transports {
		t.CloseIdleConnections()
	}
}

func (p *Pool) createTransport() *http.Transport {
	cfg := p.defaults
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}

	t := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: cfg.ExpectContinueTimeout,
		DisableCompression:    cfg.DisableCompression,
	}
	if cfg.ForceHTTP2 {
		t.TLSClientConfig = &tls.Config{NextProtos: []string{"h2", "http/1.1"}, MinVersion: tls.VersionTLS12}
		t.ForceAttemptHTTP2 = true
	}
	return t
}

type metricsRoundTripper struct {
	inner   http.RoundTripper
	baseURL string
	metrics *PoolMetrics
}

func (m *metricsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	active := getOrCreateCounter(&m.metrics.ActiveRequests, m.baseURL)
	atomic.AddInt64(active, 1)
	defer atomic.AddInt64(active, -1)

	total := getOrCreateCounter(&m.metrics.TotalRequests, m.baseURL)
	atomic.AddInt64(total, 1)

	resp, err := m.inner.RoundTrip(req)
	if err != nil {
		errCount := getOrCreateCounter(&m.metrics.TotalErrors, m.baseURL)
		atomic.AddInt64(errCount, 1)
		return nil, err
	}
	if !resp.Close {
		reuses := getOrCreateCounter(&m.metrics.ConnectionReuses, m.baseURL)
		atomic.AddInt64(reuses, 1)
	}
	return resp, nil
}

func getOrCreateCounter(store *sync.Map, key string) *int64 {
	if val, ok := store.Load(key); ok {
		return val.(*int64)
	}
	counter := new(int64)
	actual, _ := store.LoadOrStore(key, counter)
	return actual.(*int64)
}

// Auth holds basic-auth credentials for an upstream call.
type Auth struct {
	User string
	Pass string
}

// Post forwards body to baseURL+path with optional basic auth. Any 5xx
// status or transport error returns ErrUnavailable; 4xx responses are
// passed through as (status, body, nil) for the caller to forward verbatim.
func (p *Pool) Post(ctx context.Context, baseURL, path string, body []byte, auth *Auth) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != nil {
		req.Header.Set("Authorization", "Basic "+basicAuthValue(auth.User, auth.Pass))
	}

	client := p.GetClient(baseURL)
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s", ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %s", ErrUnavailable, err.Error())
	}

	if resp.StatusCode >= 500 {
		return resp.StatusCode, respBody, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return resp.StatusCode, respBody, nil
}

func basicAuthValue(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}
