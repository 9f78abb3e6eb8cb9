// Package auth resolves request credentials to users and guards endpoints
// that require an authenticated caller.
package auth

import (
	"context"

	"github.com/vardalab/varda-engine/pkg/models"
)

type contextKey string

// userKey stores the authenticated *models.User in the request context.
const userKey contextKey = "user"

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// GetUser retrieves the authenticated user from the context.
func GetUser(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey).(*models.User)
	return user, ok
}
