package middleware

import (
	"context"
	"net/http"
	"strings"

	"busline/backend/internal/auth"
)

type contextKey string

const (
	userIDKey    contextKey = "user_id"
	roleKey      contextKey = "role"
	partnerIDKey contextKey = "partner_id"
)

func UserIDFromContext(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(userIDKey).(string)
	return val, ok && val != ""
}

func RoleFromContext(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(roleKey).(string)
	return val, ok && val != ""
}

func PartnerIDFromContext(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(partnerIDKey).(string)
	return val, ok && val != ""
}

// WithIdentity stores the caller identity on ctx.
func WithIdentity(ctx context.Context, userID, role, partnerID string) context.Context {
	if identity, ok := ctx.Value(identityKey).(*requestIdentity); ok {
		identity.userID = userID
		identity.role = role
	}
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, roleKey, role)
	return context.WithValue(ctx, partnerIDKey, partnerID)
}

func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing Authorization")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeError(w, http.StatusUnauthorized, "invalid Authorization")
				return
			}
			claims, err := auth.ParseAccessToken(secret, strings.TrimSpace(parts[1]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := WithIdentity(r.Context(), claims.UserID, claims.Role, claims.PartnerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
