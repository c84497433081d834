// Package auth describes who is acting on the shop's resources.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// Role is the coarse permission level of a principal.
type Role string

const (
	// RoleClient is a regular shop customer.
	RoleClient Role = "client"
	// RoleAdmin may act on any user's cart and orders.
	RoleAdmin Role = "admin"
)

var (
	// ErrUnauthenticated is returned when a request carries no valid identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInsufficientPermission is returned when the principal acts on a
	// resource owned by another user without admin rights.
	ErrInsufficientPermission = errors.New("insufficient permission")
)

// Principal is the authenticated caller.
type Principal struct {
	UserID int64
	Role   Role
}

// IsAdmin reports whether the principal has administrative rights.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanAccess reports whether the principal may act on a resource owned by
// ownerID.
func (p Principal) CanAccess(ownerID int64) bool {
	return p.IsAdmin() || p.UserID == ownerID
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
