package fingerprint

import "testing"

func TestKeyStableForIdenticalPayloads(t *testing.T) {
	p1 := map[string]interface{}{"query": "hello", "top_k": float64(3)}
	p2 := map[string]interface{}{"top_k": float64(3), "query": "hello"}

	k1 := Key("/v1/search/vector", "opensearch", p1, false)
	k2 := Key("/v1/search/vector", "opensearch", p2, false)

	if k1 != k2 {
		t.Fatalf("expected identical keys regardless of map insertion order, got %q != %q", k1, k2)
	}
}

func TestKeyIgnoresFieldsOutsideSubset(t *testing.T) {
	base := map[string]interface{}{"query": "hello", "top_k": float64(3)}
	withExtra := map[string]interface{}{"query": "hello", "top_k": float64(3), "backend": "postgres"}

	if Key("/v1/search/vector", "opensearch", base, false) != Key("/v1/search/vector", "opensearch", withExtra, false) {
		t.Fatalf("expected backend field (outside the vector-endpoint subset) to not affect the key")
	}
}

func TestKeyDiffersAcrossEndpointAndBackend(t *testing.T) {
	p := map[string]interface{}{"query": "hello", "top_k": float64(3)}

	a := Key("/v1/search/vector", "opensearch", p, false)
	b := Key("/v1/search/vector", "postgres", p, false)
	c := Key("/v1/search/hybrid", "opensearch", p, false)

	if a == b || a == c || b == c {
		t.Fatalf("expected distinct keys across backend/endpoint, got %q %q %q", a, b, c)
	}
}

func TestNormalizationChangesKeyButNotSubsetIdentity(t *testing.T) {
	p1 := map[string]interface{}{"query": "Hello, world!", "top_k": float64(3)}
	p2 := map[string]interface{}{"query": " hello   world ", "top_k": float64(3)}

	k1 := Key("/v1/search/vector", "opensearch", p1, true)
	k2 := Key("/v1/search/vector", "opensearch", p2, true)

	if k1 != k2 {
		t.Fatalf("expected normalized equivalence, got %q != %q", k1, k2)
	}

	// Without normalization the two payloads must NOT collide.
	k3 := Key("/v1/search/vector", "opensearch", p1, false)
	k4 := Key("/v1/search/vector", "opensearch", p2, false)
	if k3 == k4 {
		t.Fatalf("expected distinct keys without normalization")
	}
}

func TestNormalizeDoesNotMutateInputPayload(t *testing.T) {
	p := map[string]interface{}{"query": "Hello, World!", "top_k": float64(1)}
	_ = Key("/v1/search/vector", "opensearch", p, true)

	if p["query"] != "Hello, World!" {
		t.Fatalf("expected original payload untouched, got %v", p["query"])
	}
}

func TestRagSubsetDropsNullsAndAuthOverride(t *testing.T) {
	p := map[string]interface{}{
		"question":         "what is x",
		"region":            nil,
		"_upstream_user":    "u",
		"_upstream_pass":    "p",
		"temperature":       0.1,
	}
	subset := Subset("/v1/search/rag", p)

	if _, ok := subset["region"]; ok {
		t.Fatalf("expected null field dropped from rag subset")
	}
	if _, ok := subset["_upstream_user"]; ok {
		t.Fatalf("expected auth override field dropped from rag subset")
	}
	if subset["question"] != "what is x" {
		t.Fatalf("expected question preserved in rag subset")
	}
}

func TestNormalizeStripsPunctuationAndCollapsesWhitespace(t *testing.T) {
	got := Normalize("  Hello,   World!!  ")
	want := "hello world"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
