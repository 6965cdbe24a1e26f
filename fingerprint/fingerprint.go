// Package fingerprint derives a stable cache key from a (endpoint, backend,
// payload-subset) triple: canonical sorted-key JSON, SHA-256, lower-hex.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// FreeTextFields maps each endpoint to the name of its free-text field.
var FreeTextFields = map[string]string{
	"/v1/search/vector":     "query",
	"/v1/search/hybrid":     "query",
	"/v1/search/fts":        "query",
	"/v1/search/rag":        "question",
	"/v1/chat/conversation": "message",
	"/v1/chat/agentic":      "message",
}

// Subset selects the fingerprint-bearing fields of payload for endpoint.
// For /v1/search/rag it returns the full payload minus null fields and
// minus the reserved auth-override keys. For all other endpoints it
// returns a fixed per-endpoint field list.
func Subset(endpoint string, payload map[string]interface{}) map[string]interface{} {
	switch endpoint {
	case "/v1/search/vector":
		return pick(payload, "query", "top_k")
	case "/v1/search/hybrid":
		return pick(payload, "query", "top_k", "alpha")
	case "/v1/search/fts":
		return pick(payload, "query", "top_k", "mode")
	case "/v1/chat/conversation", "/v1/chat/agentic":
		return pick(payload, "llm_source", "model", "message", "top_k")
	case "/v1/search/rag":
		out := make(map[string]interface{}, len(payload))
		for k, v := range payload {
			if v == nil || k == "_upstream_user" || k == "_upstream_pass" {
				continue
			}
			out[k] = v
		}
		return out
	default:
		return pick(payload, "query")
	}
}

func pick(payload map[string]interface{}, keys ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Normalize lowercases text, collapses whitespace runs to a single space,
// trims, and strips ASCII punctuation. It is applied only to the cache-key
// subset's free-text field, never to the body forwarded upstream.
func Normalize(text string) string {
	lower := strings.ToLower(text)

	var collapsed strings.Builder
	prevSpace := false
	for _, r := range lower {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if !prevSpace {
				collapsed.WriteRune(' ')
			}
			prevSpace = true
			continue
		}
		prevSpace = false
		collapsed.WriteRune(r)
	}
	trimmed := strings.TrimSpace(collapsed.String())

	var stripped strings.Builder
	for _, r := range trimmed {
		if isASCIIPunct(r) {
			continue
		}
		stripped.WriteRune(r)
	}
	return stripped.String()
}

func isASCIIPunct(r rune) bool {
	switch {
	case r >= '!' && r <= '/':
		return true
	case r >= ':' && r <= '@':
		return true
	case r >= '[' && r <= '`':
		return true
	case r >= '{' && r <= '~':
		return true
	}
	return false
}

// Key builds the canonical cache key "<endpoint>:<backend>:<hex>" from the
// endpoint-specific fingerprint subset of payload. When normalize is true,
// the subset's free-text field (if present and a string) is replaced by its
// normalized form before serialization — the original payload is untouched.
func Key(endpoint, backend string, payload map[string]interface{}, normalize bool) string {
	subset := Subset(endpoint, payload)

	if normalize {
		if field, ok := FreeTextFields[endpoint]; ok {
			if v, ok := subset[field].(string); ok {
				subset[field] = Normalize(v)
			}
		}
	}

	hash := hashJSON(subset)
	return endpoint + ":" + backend + ":" + hash
}

// hashJSON serializes v as JSON with lexicographically sorted keys and no
// insignificant whitespace, then returns the lower-hex SHA-256 of the bytes.
func hashJSON(v map[string]interface{}) string {
	canonical := canonicalize(v)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// canonicalize marshals a map with sorted keys. encoding/json already sorts
// map[string]interface{} keys lexicographically when marshaling, but nested
// maps decoded from arbitrary JSON may themselves be map[string]interface{}
// and Go's encoding/json sorts those too — so a single Marshal suffices for
// the top level and all nested object values.
func canonicalize(v map[string]interface{}) []byte {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, 256)
	ordered = append(ordered, '{')
	for i, k := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		kb, _ := json.Marshal(k)
		ordered = append(ordered, kb...)
		ordered = append(ordered, ':')
		vb, _ := json.Marshal(v[k])
		ordered = append(ordered, vb...)
	}
	ordered = append(ordered, '}')
	return ordered
}
