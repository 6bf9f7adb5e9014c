package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"bankrecon/internal/shared/auth"
	"bankrecon/internal/shared/logger"
)

type ContextKey string

const (
	TenantIDKey ContextKey = "tenant_id"
	ActorKey    ContextKey = "actor"
)

// Auth requires a bearer token and scopes the request to its tenant.
func Auth(jwt *auth.JWT) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "Authentication required")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				unauthorized(w, "Invalid authorization header format")
				return
			}

			claims, err := jwt.Validate(parts[1])
			if err != nil {
				unauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), TenantIDKey, claims.TenantID)
			ctx = context.WithValue(ctx, ActorKey, claims.Subject)

			log := logger.FromContext(ctx).With().
				Str("tenant_id", claims.TenantID).
				Str("actor", claims.Subject).
				Logger()
			ctx = logger.WithContext(ctx, log)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantID returns the authenticated tenant, or "" outside Auth.
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(TenantIDKey).(string)
	return v
}

// Actor returns the authenticated subject, or "" outside Auth.
func Actor(ctx context.Context) string {
	v, _ := ctx.Value(ActorKey).(string)
	return v
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="bankrecon"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": msg})
}
