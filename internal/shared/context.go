package shared

import (
	"context"
	"strings"
)

type userContextKey struct{}

// ContextWithUser stores the caller-supplied user identifier in context. The identifier is
// opaque and is not authenticated here.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey{}, strings.TrimSpace(userID))
}

// UserFromContext extracts the user identifier, empty when none was supplied.
func UserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userContextKey{}).(string)
	return user
}
