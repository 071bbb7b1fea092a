package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Paparusi/labo-sub000/internal/contextkeys"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New creates a zerolog logger for the given level ("debug", "info", ...)
// and format ("json" or "console") and installs it as the global logger.
func New(level, format string) *zerolog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter is New with an explicit output.
func NewWithWriter(w io.Writer, level, format string) *zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	out := w
	if strings.ToLower(format) == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	base := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = base
	return &base
}

// Nop returns a logger that discards everything.
func Nop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// With attaches the request id and authenticated account from ctx.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	l := base.With()
	if id := chimw.GetReqID(ctx); id != "" {
		l = l.Str("request_id", id)
	}
	if v, ok := ctx.Value(contextkeys.AccountID).(string); ok && v != "" {
		l = l.Str("account_id", v)
	}
	logger := l.Logger()
	return &logger
}

// Redact keeps a short preview of an identifier or secret for logs.
func Redact(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-2:]
}
