// Package handler decodes HTTP requests for each cache-router endpoint,
// applies endpoint-specific defaults, and delegates to the dispatch
// pipeline: a thin decode → validate → dispatch → respond shape with a
// shared JSON error envelope.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/shadabshaukat/cogneo-edge-router/dispatch"
)

// Handler wires the dispatch pipeline to the HTTP surface.
type Handler struct {
	logger   zerolog.Logger
	pipeline *dispatch.Pipeline
}

// New creates a Handler bound to pipeline.
func New(logger zerolog.Logger, pipeline *dispatch.Pipeline) *Handler {
	return &Handler{logger: logger.With().Str("component", "handler").Logger(), pipeline: pipeline}
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

// Vector handles POST /v1/search/vector.
func (h *Handler) Vector(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "/v1/search/vector", func(p map[string]interface{}) error {
		if _, ok := p["query"].(string); !ok {
			return validationErr("query is required")
		}
		applyDefault(p, "top_k", float64(5))
		return nil
	})
}

// Hybrid handles POST /v1/search/hybrid.
func (h *Handler) Hybrid(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "/v1/search/hybrid", func(p map[string]interface{}) error {
		if _, ok := p["query"].(string); !ok {
			return validationErr("query is required")
		}
		applyDefault(p, "top_k", float64(5))
		applyDefault(p, "alpha", float64(0.5))
		return nil
	})
}

// Fts handles POST /v1/search/fts.
func (h *Handler) Fts(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "/v1/search/fts", func(p map[string]interface{}) error {
		if _, ok := p["query"].(string); !ok {
			return validationErr("query is required")
		}
		applyDefault(p, "top_k", float64(10))
		applyDefault(p, "mode", "both")
		if mode, _ := p["mode"].(string); mode != "documents" && mode != "metadata" && mode != "both" {
			return validationErr("mode must be one of documents, metadata, both")
		}
		return nil
	})
}

// Rag handles POST /v1/search/rag.
func (h *Handler) Rag(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "/v1/search/rag", func(p map[string]interface{}) error {
		if _, ok := p["question"].(string); !ok {
			return validationErr("question is required")
		}
		applyDefault(p, "temperature", float64(0.1))
		applyDefault(p, "top_p", float64(0.9))
		applyDefault(p, "max_tokens", float64(1024))
		applyDefault(p, "repeat_penalty", float64(1.1))
		return nil
	})
}

// ChatConversation handles POST /v1/chat/conversation.
func (h *Handler) ChatConversation(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "/v1/chat/conversation", chatDefaults)
}

// ChatAgentic handles POST /v1/chat/agentic.
func (h *Handler) ChatAgentic(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "/v1/chat/agentic", chatDefaults)
}

func chatDefaults(p map[string]interface{}) error {
	if _, ok := p["message"].(string); !ok {
		return validationErr("message is required")
	}
	applyDefault(p, "top_k", float64(10))
	applyDefault(p, "temperature", float64(0.1))
	applyDefault(p, "top_p", float64(0.9))
	applyDefault(p, "max_tokens", float64(1024))
	applyDefault(p, "repeat_penalty", float64(1.1))
	return nil
}

func applyDefault(p map[string]interface{}, key string, def interface{}) {
	if _, ok := p[key]; !ok {
		p[key] = def
	}
}

type validationErr string

func (e validationErr) Error() string { return string(e) }

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, endpoint string, applyDefaults func(map[string]interface{}) error) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body: "+err.Error())
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	if err := applyDefaults(payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	tenantID := r.Header.Get("X-Tenant-Id")
	res, err := h.pipeline.Dispatch(r.Context(), endpoint, tenantID, payload)
	if err != nil {
		if derr, ok := err.(*dispatch.Error); ok {
			h.writeError(w, derr.Status, string(derr.Kind), derr.Message)
			return
		}
		h.logger.Error().Err(err).Str("endpoint", endpoint).Msg("dispatch failed unexpectedly")
		h.writeError(w, http.StatusBadGateway, "internal_error", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"type":    errType,
			"message": message,
		},
	})
}
