package embedder

import (
	"context"
	"math"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestSeededHashEmbedderDeterministic(t *testing.T) {
	e := NewSeededHashEmbedder("fastembed_e5_small", 0, true)

	v1, ok1 := e.Embed(context.Background(), "how do I reset my password")
	v2, ok2 := e.Embed(context.Background(), "how do I reset my password")

	if !ok1 || !ok2 {
		t.Fatalf("expected embed to succeed when enabled")
	}
	if len(v1) != 384 {
		t.Fatalf("expected known model dim 384, got %d", len(v1))
	}
	if cosine(v1, v2) < 0.999999 {
		t.Fatalf("expected identical text to yield identical vector")
	}
}

func TestSeededHashEmbedderDisabled(t *testing.T) {
	e := NewSeededHashEmbedder("fastembed_e5_small", 0, false)
	if e.Enabled() {
		t.Fatalf("expected disabled embedder")
	}
	_, ok := e.Embed(context.Background(), "x")
	if ok {
		t.Fatalf("expected disabled embedder to report failure")
	}
}

func TestSeededHashEmbedderUnknownNameUsesRequestedDim(t *testing.T) {
	e := NewSeededHashEmbedder("some-custom-model", 128, true)
	v, ok := e.Embed(context.Background(), "x")
	if !ok || len(v) != 128 {
		t.Fatalf("expected requested dim 128, got %d (ok=%v)", len(v), ok)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	inner := NewSeededHashEmbedder("fastembed_e5_small", 0, true)
	pool := NewPool(inner, 2)

	if cap(pool.sem) != 2 {
		t.Fatalf("expected concurrency bound 2, got %d", cap(pool.sem))
	}
	if !pool.Enabled() || pool.Dim() != 384 {
		t.Fatalf("expected pool to delegate Enabled/Dim to inner embedder")
	}

	v, ok := pool.Embed(context.Background(), "hello")
	if !ok || len(v) != 384 {
		t.Fatalf("expected pool embed to succeed and delegate to inner")
	}
}
