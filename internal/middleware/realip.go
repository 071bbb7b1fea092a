package middleware

import (
	"net/http"

	"github.com/Paparusi/labo-sub000/internal/handler"
)

// RealIP resolves the client address once per request. Proxy headers are
// honoured only when the peer is in trusted.
func RealIP(trusted handler.TrustedProxies) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := handler.WithClientIP(r.Context(), trusted.Resolve(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
