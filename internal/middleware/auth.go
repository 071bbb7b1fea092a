package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Paparusi/labo-sub000/internal/contextkeys"
	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/handler"
)

// TokenVerifier turns a bearer token into claims.
type TokenVerifier interface {
	VerifyToken(token string) (*domain.JWTClaims, error)
}

// Auth creates a JWT authentication middleware.
func Auth(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				handler.Error(w, domain.ErrUnauthorized("no token provided"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				handler.Error(w, domain.ErrUnauthorized("invalid authorization header"))
				return
			}

			claims, err := verifier.VerifyToken(parts[1])
			if err != nil {
				handler.Error(w, domain.ErrUnauthorized("invalid or expired token"))
				return
			}

			ctx := context.WithValue(r.Context(), contextkeys.AccountID, claims.Sub)
			ctx = context.WithValue(ctx, contextkeys.AccountEmail, claims.Email)
			ctx = context.WithValue(ctx, contextkeys.AccountRole, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose account role is not role.
// Must be used after Auth.
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := r.Context().Value(contextkeys.AccountRole).(string)
			if !ok || got != role {
				handler.Error(w, domain.ErrForbidden("forbidden: "+role+" access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminOnly ensures the account has the admin role.
func AdminOnly(next http.Handler) http.Handler {
	return RequireRole(domain.RoleAdmin)(next)
}

// FactoryOnly ensures the account has the factory role.
func FactoryOnly(next http.Handler) http.Handler {
	return RequireRole(domain.RoleFactory)(next)
}
