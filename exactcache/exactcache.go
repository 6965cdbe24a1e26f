// Package exactcache wraps a Redis/Valkey client as a TTL'd, best-effort
// key/value store for opaque JSON response bytes. Any transport error is
// logged and swallowed: reads degrade to a Miss, writes are silently
// dropped. The pipeline must never fail a request because this cache is
// unavailable.
package exactcache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config configures the exact-cache Redis connection.
type Config struct {
	URL             string
	TLSVerify       bool
	ConnectTimeout  time.Duration
	SocketTimeout   time.Duration
	ClusterEnable   bool
}

// cmdable is satisfied by both *redis.Client and *redis.ClusterClient.
type cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Cache is a best-effort Redis-backed TTL cache.
type Cache struct {
	logger zerolog.Logger
	client cmdable
}

// New constructs a Cache from cfg. It does not block on connectivity —
// Ping is left to the caller (main) as a startup diagnostic only.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("exactcache: invalid CACHE_URL: %w", err)
	}
	opt.DialTimeout = cfg.ConnectTimeout
	opt.ReadTimeout = cfg.SocketTimeout
	opt.WriteTimeout = cfg.SocketTimeout
	if opt.TLSConfig != nil && !cfg.TLSVerify {
		opt.TLSConfig.InsecureSkipVerify = true
	}

	var client cmdable
	if cfg.ClusterEnable {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        []string{opt.Addr},
			Password:     opt.Password,
			DialTimeout:  opt.DialTimeout,
			ReadTimeout:  opt.ReadTimeout,
			WriteTimeout: opt.WriteTimeout,
			TLSConfig:    opt.TLSConfig,
		})
	} else {
		client = redis.NewClient(opt)
	}

	return &Cache{logger: logger.With().Str("component", "exactcache").Logger(), client: client}, nil
}

// Ping verifies connectivity with a short bounded timeout.
func (c *Cache) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Get returns the cached value and true on hit. Any I/O error is logged
// and reported as a Miss (ok=false).
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("exact cache read failed, treating as miss")
		}
		return nil, false
	}
	return val, true
}

// Set writes value under key with the given TTL. Failures are logged and
// silently dropped.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("exact cache write failed, dropping")
	}
}
