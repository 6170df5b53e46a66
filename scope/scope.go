// Package scope carries multi-tenant execution identity (tenant and user)
// on a context.Context. Workers restore the identity recorded on a batch
// job before calling the processor, so processors observe the same tenant
// as the caller that created the job.
package scope

import "context"

type scopeKey struct{}

type identity struct {
	tenantID string
	userID   string
}

// Capture extracts the tenant and user identifiers from the context.
// Returns empty strings if no scope is present.
func Capture(ctx context.Context) (tenantID, userID string) {
	s, ok := ctx.Value(scopeKey{}).(identity)
	if !ok {
		return "", ""
	}
	return s.tenantID, s.userID
}

// Restore attaches the tenant and user to the context. If both are empty,
// the context is returned unchanged (no-op).
func Restore(ctx context.Context, tenantID, userID string) context.Context {
	if tenantID == "" && userID == "" {
		return ctx
	}
	return context.WithValue(ctx, scopeKey{}, identity{tenantID: tenantID, userID: userID})
}

// Present reports whether a scope is attached to the context.
func Present(ctx context.Context) bool {
	_, ok := ctx.Value(scopeKey{}).(identity)
	return ok
}
