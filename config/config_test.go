package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"ROUTER_ADDR", "CACHE_TTL_SEC", "SEMCACHE_THRESHOLD", "TENANCY_ENABLE"} {
		os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.Addr != ":8080" {
		t.Fatalf("expected default addr :8080, got %q", cfg.Addr)
	}
	if cfg.CacheTTL.Seconds() != 60 {
		t.Fatalf("expected default cache ttl 60s, got %v", cfg.CacheTTL)
	}
	if cfg.SemcacheThreshold != 0.90 {
		t.Fatalf("expected default semcache threshold 0.90, got %v", cfg.SemcacheThreshold)
	}
	if cfg.TenancyEnable {
		t.Fatalf("expected tenancy disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	os.Setenv("ROUTER_ADDR", ":9999")
	os.Setenv("TENANCY_ENABLE", "true")
	defer os.Unsetenv("ROUTER_ADDR")
	defer os.Unsetenv("TENANCY_ENABLE")

	cfg := Load()

	if cfg.Addr != ":9999" {
		t.Fatalf("expected overridden addr :9999, got %q", cfg.Addr)
	}
	if !cfg.TenancyEnable {
		t.Fatalf("expected tenancy enabled from env override")
	}
}

func TestIsDevelopmentProduction(t *testing.T) {
	cfg := &Config{Env: "development"}
	if !cfg.IsDevelopment() || cfg.IsProduction() {
		t.Fatalf("expected development mode")
	}
	cfg.Env = "production"
	if cfg.IsDevelopment() || !cfg.IsProduction() {
		t.Fatalf("expected production mode")
	}
}
