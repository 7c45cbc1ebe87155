// ABOUTME: Per-request identity/authorization context for the gateway
// ABOUTME: Provides WithIdentity/FromContext for propagating identity via context

package identity

import (
	"context"

	"github.com/2389/fanout-gateway/internal/store"
)

// Identity holds the resolved identity and per-organization policy for one
// request. Its absence disables masking and logging for that request.
type Identity struct {
	AuthMethod     string // how the caller authenticated ("jwt" in v1)
	OrganizationID string
	UserID         string
	ChildServerID  string // resolved during execution, empty until then
	MaskingMode    store.MaskingMode
	PIICategories  []string
	ToonConversion bool
	UserAgent      string
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}
