package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shadabshaukat/cogneo-edge-router/config"
	"github.com/shadabshaukat/cogneo-edge-router/dispatch"
	"github.com/shadabshaukat/cogneo-edge-router/embedder"
	"github.com/shadabshaukat/cogneo-edge-router/exactcache"
	"github.com/shadabshaukat/cogneo-edge-router/handler"
	"github.com/shadabshaukat/cogneo-edge-router/logger"
	"github.com/shadabshaukat/cogneo-edge-router/observability"
	"github.com/shadabshaukat/cogneo-edge-router/router"
	"github.com/shadabshaukat/cogneo-edge-router/semantic"
	"github.com/shadabshaukat/cogneo-edge-router/tenant"
	"github.com/shadabshaukat/cogneo-edge-router/upstream"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Str("addr", cfg.Addr).Msg("starting edge router")

	tenants, err := tenant.Load(cfg.TenantsConfigPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.TenantsConfigPath).Msg("failed to load tenant registry")
	}

	var exact *exactcache.Cache
	if cfg.CacheEnable {
		exact, err = exactcache.New(exactcache.Config{
			URL:            cfg.CacheURL,
			TLSVerify:      cfg.CacheTLSVerify,
			ConnectTimeout: cfg.CacheConnectTimeout,
			SocketTimeout:  cfg.CacheSocketTimeout,
			ClusterEnable:  cfg.CacheClusterEnable,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to configure exact cache")
		}
		if err := exact.Ping(); err != nil {
			log.Warn().Err(err).Msg("exact cache ping failed at startup, continuing in degraded mode")
		}
	}

	var semCache *semantic.Cache
	var emb embedder.Embedder
	if cfg.SemcacheEnable {
		var provider semantic.Provider
		switch cfg.SemcacheProvider {
		case "pgvector":
			provider, err = semantic.NewPgVectorProvider(cfg.SemcachePGDSN, cfg.SemcachePGTable, log)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to configure pgvector semantic provider")
			}
		default:
			provider = semantic.NewOpenSearchProvider(cfg.SemcacheOSURL, cfg.SemcacheOSIndex, cfg.SemcacheOSUser, cfg.SemcacheOSPass, cfg.UpstreamTimeout, log)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		semCache = semantic.NewCache(provider, true, cfg.SemcacheThreshold, cfg.SemcacheTTL, cfg.SemcacheDim, log)
		semCache.EnsureReady(ctx)
		cancel()

		if cfg.SemcacheEmbedURL != "" {
			emb = embedder.NewHTTPEmbedder(cfg.SemcacheEmbedURL, cfg.SemcacheDim, true, cfg.UpstreamTimeout, log)
		} else {
			emb = embedder.NewSeededHashEmbedder(cfg.SemcacheEmbedder, cfg.SemcacheDim, true)
		}
		emb = embedder.NewPool(emb, 4)
	}

	upstreamPool := upstream.NewPool(upstream.DefaultPoolConfig(), cfg.UpstreamTimeout)
	defer upstreamPool.Close()

	metrics := observability.NewMetrics(log)

	pipeline := &dispatch.Pipeline{
		Tenants:        tenants,
		Exact:          exact,
		Semantic:       semCache,
		Embedder:       emb,
		Upstream:       upstreamPool,
		Metrics:        metrics,
		Logger:         log,
		TenancyEnabled: cfg.TenancyEnable,
		CacheTTL:       cfg.CacheTTL,
		NormalizeQuery: cfg.CacheNormalizeQuery,
	}

	h := handler.New(log, pipeline)
	mux := router.New(cfg, log, h, metrics)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}
