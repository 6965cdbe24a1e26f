// Package tenant loads tenant descriptors from a YAML file and resolves
// a tenant id to its upstream map, default backend/LLM source, and
// configured upstream credentials.
package tenant

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrUnknown is returned by Get when the tenant id is not registered.
var ErrUnknown = errors.New("tenant: unknown tenant id")

// ErrBackendUnavailable is returned by UpstreamFor when the descriptor
// has no base URL configured for the requested backend.
var ErrBackendUnavailable = errors.New("tenant: backend unavailable for this tenant")

const (
	defaultBackendName = "opensearch"
	defaultLLMName     = "ollama"
)

// Auth holds basic-auth credentials applied to upstream calls.
type Auth struct {
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

// Descriptor is a single tenant's configuration.
type Descriptor struct {
	DefaultBackend string            `yaml:"default_backend"`
	DefaultLLM     string            `yaml:"default_llm"`
	Upstreams      map[string]string `yaml:"upstreams"`
	Auth           *Auth             `yaml:"auth"`
}

// UpstreamFor returns the base URL configured for backend, or
// ErrBackendUnavailable if the tenant has no URL for it.
func (d Descriptor) UpstreamFor(backend string) (string, error) {
	key := backend + "_api"
	url, ok := d.Upstreams[key]
	if !ok || url == "" {
		return "", fmt.Errorf("%w: %s", ErrBackendUnavailable, backend)
	}
	return url, nil
}

func normalize(d Descriptor) Descriptor {
	if d.DefaultBackend == "" {
		d.DefaultBackend = defaultBackendName
	}
	if d.DefaultLLM == "" {
		d.DefaultLLM = defaultLLMName
	}
	if d.Upstreams == nil {
		d.Upstreams = map[string]string{}
	}
	return d
}

type document struct {
	Tenants map[string]Descriptor `yaml:"tenants"`
	Default *Descriptor            `yaml:"default"`
}

// Registry resolves tenant ids to descriptors, loaded from a YAML file.
type Registry struct {
	mu   sync.RWMutex
	path string
	data *document
}

// Load reads and parses the YAML file at path, returning a ready Registry.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the backing file and atomically swaps the in-memory
// document so concurrent readers never observe a partial update.
func (r *Registry) Reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("tenant: read %s: %w", r.path, err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("tenant: parse %s: %w", r.path, err)
	}
	if doc.Tenants == nil {
		doc.Tenants = map[string]Descriptor{}
	}
	for id, d := range doc.Tenants {
		doc.Tenants[id] = normalize(d)
	}
	if doc.Default != nil {
		norm := normalize(*doc.Default)
		doc.Default = &norm
	}

	r.mu.Lock()
	r.data = &doc
	r.mu.Unlock()
	return nil
}

// Get resolves id to a tenant descriptor. The special id "default" resolves
// to the document's top-level default block; if none is configured it falls
// back to an arbitrary single entry from tenants (development convenience),
// and finally to a built-in zero-value descriptor so the router can always
// start with tenancy disabled.
func (r *Registry) Get(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id == "default" {
		if r.data.Default != nil {
			return *r.data.Default, nil
		}
		for _, d := range r.data.Tenants {
			return d, nil
		}
		return normalize(Descriptor{}), nil
	}

	d, ok := r.data.Tenants[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	return d, nil
}
