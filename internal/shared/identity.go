// Package shared holds cross-module infrastructure: caller identity,
// audit logging and idempotency keys.
package shared

import "context"

// Identity describes the already-authenticated caller. The request layer
// resolves it before any core call; core operations always receive the store
// id as an explicit parameter and never read it from ambient state.
type Identity struct {
	StoreID int64
	UserID  int64
}

type identityContextKey struct{}

// ContextWithIdentity stores the caller identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the caller identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
