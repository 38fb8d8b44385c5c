package tenancy

import (
	"fmt"
	"net/http"
	"regexp"
)

// maxTenantLen is the maximum length for a tenant or site slug.
const maxTenantLen = 63

// slugRe validates tenant/site slugs: lowercase alphanumeric and hyphens,
// must start and end with an alphanumeric character (DNS label convention).
var slugRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// TenantQueryParam is the query parameter name used for tenant resolution.
const TenantQueryParam = "tenant"

// TenantHeader is the HTTP header used for tenant resolution.
const TenantHeader = "X-Planhub-Tenant"

// SiteHeader is the HTTP header carrying the optional site scope.
const SiteHeader = "X-Planhub-Site"

// ActorHeader carries the acting principal, set by the authn proxy in front
// of the server.
const ActorHeader = "X-Planhub-Actor"

// PlatformAdminHeader marks the caller as a platform operator. Only the
// authorization layer in front of the server may set it.
const PlatformAdminHeader = "X-Planhub-Platform-Admin"

// ScopeResolver resolves the tenant scope from an HTTP request.
type ScopeResolver interface {
	Resolve(r *http.Request) (Scope, error)
}

// SingleTenantResolver always returns the "default" tenant. Actor and site
// headers are still honored.
type SingleTenantResolver struct{}

// Resolve returns a Scope with TenantID "default".
func (s SingleTenantResolver) Resolve(r *http.Request) (Scope, error) {
	return Scope{
		TenantID:      "default",
		SiteID:        r.Header.Get(SiteHeader),
		Actor:         r.Header.Get(ActorHeader),
		PlatformAdmin: r.Header.Get(PlatformAdminHeader) == "true",
	}, nil
}

// HeaderScopeResolver reads the tenant from the request query parameter or
// header. In multi-tenant mode the tenant is always required.
type HeaderScopeResolver struct{}

// Resolve extracts the scope from the request. It checks the query parameter
// first, then falls back to the X-Planhub-Tenant header. Returns an error if
// the tenant is missing or invalid.
func (h HeaderScopeResolver) Resolve(r *http.Request) (Scope, error) {
	tenant := r.URL.Query().Get(TenantQueryParam)
	if tenant == "" {
		tenant = r.Header.Get(TenantHeader)
	}

	if tenant == "" {
		return Scope{}, fmt.Errorf("tenant is required in multi-tenant mode (use ?tenant= query param or %s header)", TenantHeader)
	}

	if err := validateSlug("tenant", tenant); err != nil {
		return Scope{}, err
	}

	site := r.Header.Get(SiteHeader)
	if site != "" {
		if err := validateSlug("site", site); err != nil {
			return Scope{}, err
		}
	}

	return Scope{
		TenantID:      tenant,
		SiteID:        site,
		Actor:         r.Header.Get(ActorHeader),
		PlatformAdmin: r.Header.Get(PlatformAdminHeader) == "true",
	}, nil
}

// validateSlug checks that a tenant/site slug conforms to DNS label rules:
// lowercase alphanumeric and hyphens, 1-63 characters, starts and ends with
// an alphanumeric character.
func validateSlug(kind, s string) error {
	if len(s) > maxTenantLen {
		return fmt.Errorf("%s %q exceeds maximum length of %d characters", kind, s, maxTenantLen)
	}
	if !slugRe.MatchString(s) {
		return fmt.Errorf("%s %q is invalid: must consist of lowercase alphanumeric characters or hyphens, and must start and end with an alphanumeric character", kind, s)
	}
	return nil
}
