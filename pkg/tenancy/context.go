package tenancy

import "context"

// ctxKey is an unexported type used as the context key for Scope.
type ctxKey struct{}

// Scope carries the resolved tenant scope through request context.
// It is set once per request by the middleware and treated as immutable
// by everything downstream.
type Scope struct {
	TenantID      string
	SiteID        string
	Actor         string
	PlatformAdmin bool
}

// WithScope returns a new context with the given Scope attached.
func WithScope(ctx context.Context, sc Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, sc)
}

// ScopeFromContext retrieves the Scope from the context.
// Returns the zero value and false if no scope is set.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	sc, ok := ctx.Value(ctxKey{}).(Scope)
	return sc, ok
}

// TenantFromContext is a convenience function that returns the tenant ID
// from the context, or "" if no scope is set.
func TenantFromContext(ctx context.Context) string {
	sc, ok := ScopeFromContext(ctx)
	if !ok {
		return ""
	}
	return sc.TenantID
}

// ActorFromContext returns the acting principal from the context, or ""
// if no scope is set.
func ActorFromContext(ctx context.Context) string {
	sc, ok := ScopeFromContext(ctx)
	if !ok {
		return ""
	}
	return sc.Actor
}
