package cache

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// CacheConfig holds configuration for the status response cache.
type CacheConfig struct {
	// Enabled controls whether caching is active. When false, no middleware
	// is applied and all requests pass through uncached.
	Enabled bool

	// StatusTTL is the TTL for aggregated status responses. Rollups may be
	// stale by at most this long after an escalation expires on its own;
	// explicit writes invalidate immediately.
	StatusTTL time.Duration

	// MaxSize is the maximum number of entries in the cache.
	MaxSize int
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled:   true,
		StatusTTL: 30 * time.Second,
		MaxSize:   1000,
	}
}

// CacheConfigFromEnv reads cache configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - PLANHUB_CACHE_ENABLED: "true" or "false" (default: "true")
//   - PLANHUB_CACHE_STATUS_TTL: duration in seconds (default: 30)
//   - PLANHUB_CACHE_MAX_SIZE: max entries (default: 1000)
func CacheConfigFromEnv() *CacheConfig {
	cfg := DefaultCacheConfig()

	if v := os.Getenv("PLANHUB_CACHE_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}

	if v := os.Getenv("PLANHUB_CACHE_STATUS_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.StatusTTL = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("PLANHUB_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSize = n
		}
	}

	return cfg
}
