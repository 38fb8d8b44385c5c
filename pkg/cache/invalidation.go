package cache

import "net/http"

// StatusCacheManager caches aggregated status responses keyed by tenant and
// request URL. An escalation in one scope changes the rollups of its ancestors and
// descendants, so any escalation write clears the whole cache rather than
// chasing individual keys.
type StatusCacheManager struct {
	status *LRUCache
}

// NewStatusCacheManager creates a StatusCacheManager from the given
// configuration. If cfg is nil or disabled, it returns nil.
func NewStatusCacheManager(cfg *CacheConfig) *StatusCacheManager {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &StatusCacheManager{
		status: NewLRUCache(cfg.MaxSize, cfg.StatusTTL),
	}
}

// InvalidateAll clears the status cache. Safe to call on a nil manager.
func (cm *StatusCacheManager) InvalidateAll() {
	if cm == nil {
		return
	}
	cm.status.InvalidateAll()
}

// Middleware returns HTTP middleware that caches aggregated status
// responses. On a nil manager it returns a pass-through.
func (cm *StatusCacheManager) Middleware() func(http.Handler) http.Handler {
	if cm == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return CacheMiddleware(cm.status)
}

// Stats returns the cumulative hit and miss counts of the status cache.
func (cm *StatusCacheManager) Stats() (hits, misses uint64) {
	if cm == nil {
		return 0, 0
	}
	return cm.status.Stats()
}
