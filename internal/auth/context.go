package auth

import (
	"context"

	"github.com/haasonsaas/agentgate/internal/identity"
)

type principalContextKey struct{}

// WithPrincipal attaches the authenticated principal to the context. Called
// by the signed-request interceptor after a request's signature and
// fingerprint have both checked out.
func WithPrincipal(ctx context.Context, p *identity.Principal) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext retrieves the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (*identity.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*identity.Principal)
	return p, ok
}
