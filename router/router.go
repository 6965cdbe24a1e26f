// Package router assembles the chi HTTP router: the ambient middleware
// chain (CORS when enabled, security headers, request ID, recoverer,
// structured request logging, max body size, timeout) followed by the
// cache-router's endpoint routes.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/shadabshaukat/cogneo-edge-router/config"
	"github.com/shadabshaukat/cogneo-edge-router/handler"
	gwmw "github.com/shadabshaukat/cogneo-edge-router/middleware"
	"github.com/shadabshaukat/cogneo-edge-router/observability"
)

// New returns a configured chi Router with the full middleware chain and
// every endpoint route mounted.
func New(cfg *config.Config, logger zerolog.Logger, h *handler.Handler, metrics *observability.Metrics) http.Handler {
	r := chi.NewRouter()

	if cfg.CORSEnable {
		r.Use(gwmw.CORSMiddleware(cfg.CORSAllowOrigins))
	}
	r.Use(gwmw.SecurityHeadersMiddleware)
	r.Use(gwmw.RequestIDMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(logger))
	r.Use(mwMaxBodySize(cfg.MaxBodyBytes))

	timeoutMW := gwmw.NewTimeoutMiddleware(logger, cfg.RequestTimeout)
	r.Use(timeoutMW.Handler)

	r.Get("/health", h.Health)

	if cfg.MetricsEnable && metrics != nil {
		r.Get("/metrics", metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search/vector", h.Vector)
		r.Post("/search/hybrid", h.Hybrid)
		r.Post("/search/fts", h.Fts)
		r.Post("/search/rag", h.Rag)
		r.Post("/chat/conversation", h.ChatConversation)
		r.Post("/chat/agentic", h.ChatAgentic)
	})

	return r
}

func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				http.Error(w, `{"error":"request_too_large","message":"request body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func mwRequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", r.Header.Get("X-Request-ID")).
				Int("status", rw.Status()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
