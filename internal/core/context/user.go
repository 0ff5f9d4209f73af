// Package context carries the caller identity and request correlation
// through the pipeline.
package context

import (
	"context"
	"slices"

	"stockflow/internal/core/security"
)

// SystemActor is recorded as the actor of transitions made without a caller,
// such as the worker's order reconciliation.
const SystemActor = "system"

// UserContext is the identity supplied by the authentication layer. The
// pipeline trusts it for packedBy, assignedBy and processedBy.
type UserContext struct {
	UserID  string
	Email   string
	Roles   []string
	IsAdmin bool
}

// System returns the identity background jobs run as.
func System() *UserContext {
	return &UserContext{UserID: SystemActor, Roles: []string{security.RoleAdmin}, IsAdmin: true}
}

type userContextKey struct{}

// WithUser adds UserContext to context.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// GetUser returns UserContext from context.
func GetUser(ctx context.Context) *UserContext {
	if v, ok := ctx.Value(userContextKey{}).(*UserContext); ok {
		return v
	}
	return nil
}

// GetUserID returns the caller's id, or "" without one.
func GetUserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.UserID
	}
	return ""
}

// Actor is GetUserID falling back to SystemActor, for audit attribution.
func Actor(ctx context.Context) string {
	if id := GetUserID(ctx); id != "" {
		return id
	}
	return SystemActor
}

// HasRole checks if user has specific role.
func HasRole(ctx context.Context, role string) bool {
	u := GetUser(ctx)
	if u == nil {
		return false
	}
	return slices.Contains(u.Roles, role)
}
