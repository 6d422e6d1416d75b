package auth

import (
	"context"
	"errors"
)

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	UserID    string
	CompanyID string
	Role      string
}

type ctxKey struct{}

var ErrNoIdentity = errors.New("auth: no identity in context")

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity set by RequireAccessToken.
func FromContext(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok || id.UserID == "" || id.CompanyID == "" {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}
