package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/Paparusi/labo-sub000/internal/handler"
	"github.com/Paparusi/labo-sub000/internal/logging"
	"github.com/rs/zerolog"
)

// Recovery catches panics and returns a 500 error instead of crashing the server.
func Recovery(base *zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logging.With(r.Context(), base).Error().
						Interface("panic", err).
						Bytes("stack", debug.Stack()).
						Str("path", r.URL.Path).
						Msg("panic recovered")
					handler.JSON(w, http.StatusInternalServerError, map[string]string{
						"error": "internal server error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
