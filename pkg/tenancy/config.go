// Package tenancy provides multi-tenant scope resolution and middleware
// for the planhub server. The surrounding authorization layer decides which
// tenant a caller may act as; this package only carries that decision into
// request context as an immutable value. It supports single-tenant
// (development) and header-based multi-tenant modes.
package tenancy

// Mode controls how the request scope is resolved.
type Mode string

const (
	// ModeSingle uses the "default" tenant for all requests (dev/backward compat).
	ModeSingle Mode = "single"
	// ModeHeader requires an explicit tenant per request (multi-tenant).
	ModeHeader Mode = "header"
)
