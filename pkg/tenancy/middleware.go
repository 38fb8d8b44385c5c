package tenancy

import (
	"encoding/json"
	"net/http"
)

// Middleware returns HTTP middleware that resolves the tenant scope using the
// provided ScopeResolver and stores it in the request context. On resolution
// failure it responds with a 400 JSON error.
func Middleware(resolver ScopeResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc, err := resolver.Resolve(r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"error":   "bad_request",
					"message": err.Error(),
				})
				return
			}

			ctx := WithScope(r.Context(), sc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewMiddleware is a convenience function that creates middleware with the
// appropriate resolver for the given Mode.
func NewMiddleware(mode Mode) func(http.Handler) http.Handler {
	var resolver ScopeResolver
	switch mode {
	case ModeHeader:
		resolver = HeaderScopeResolver{}
	default:
		resolver = SingleTenantResolver{}
	}
	return Middleware(resolver)
}
