package middleware

import (
	"context"
	"net/http"

	"github.com/civicplus/civicplus-backend/pkg/response"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// UserIDKey is the context key for the authenticated user ID
	UserIDKey ContextKey = "user_id"
	// UserRoleKey is the context key for the authenticated user role
	UserRoleKey ContextKey = "user_role"
)

// Role values as supplied by the upstream auth gateway.
const (
	RoleCitizen   = "citizen"
	RoleAuthority = "authority"
)

// AuthContext trusts the identity headers set by the upstream auth gateway
// (credential verification is handled there, not in this service) and places
// the (userID, role) pair on the request context. Requests without an
// identity are rejected.
func AuthContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			response.Unauthorized(w, "Missing user identity")
			return
		}

		role := r.Header.Get("X-User-Role")
		if role != RoleAuthority {
			role = RoleCitizen
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		ctx = context.WithValue(ctx, UserRoleKey, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID extracts the user ID from the request context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

// GetUserRole extracts the user role from the request context
func GetUserRole(ctx context.Context) string {
	role, ok := ctx.Value(UserRoleKey).(string)
	if !ok || role == "" {
		return RoleCitizen
	}
	return role
}

// IsAuthority reports whether the request was made by an authority user
func IsAuthority(ctx context.Context) bool {
	return GetUserRole(ctx) == RoleAuthority
}

// RequireAuthority rejects requests from non-authority users
func RequireAuthority(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAuthority(r.Context()) {
			response.Forbidden(w, "Authority role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
