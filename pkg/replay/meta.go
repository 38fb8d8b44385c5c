package replay

import "context"

// RequestMeta carries request attributes onto security events emitted deep
// inside the nonce store, where the HTTP request is out of reach.
type RequestMeta struct {
	Path       string
	RemoteAddr string
	TenantID   string
	Source     string
}

type metaKey struct{}

// WithRequestMeta attaches request metadata to the context.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, metaKey{}, meta)
}

// MetaFromContext returns the request metadata, or a zero value when none
// was attached.
func MetaFromContext(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(metaKey{}).(RequestMeta)
	return meta
}
