package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/Paparusi/labo-sub000/internal/contextkeys"
	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/handler"
	"github.com/Paparusi/labo-sub000/internal/logging"
	"github.com/go-chi/chi/v5"
)

var noContent = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

type fakeVerifier map[string]*domain.JWTClaims

func (f fakeVerifier) VerifyToken(token string) (*domain.JWTClaims, error) {
	if c, found := f[token]; found {
		return c, nil
	}
	return nil, errors.New("bad token")
}

func TestAuth(t *testing.T) {
	verifier := fakeVerifier{"good": {Sub: "f1", Email: "f@example.com", Role: domain.RoleFactory}}
	var gotID, gotRole string
	h := Auth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = r.Context().Value(contextkeys.AccountID).(string)
		gotRole, _ = r.Context().Value(contextkeys.AccountRole).(string)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer good", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if gotID != "f1" || gotRole != domain.RoleFactory {
		t.Fatalf("context = %q/%q", gotID, gotRole)
	}
}

func TestRequireRole(t *testing.T) {
	for _, tt := range []struct {
		role string
		mw   func(http.Handler) http.Handler
		want int
	}{
		{domain.RoleAdmin, AdminOnly, http.StatusNoContent},
		{domain.RoleFactory, AdminOnly, http.StatusForbidden},
		{domain.RoleFactory, FactoryOnly, http.StatusNoContent},
		{domain.RoleAdmin, FactoryOnly, http.StatusForbidden},
		{"", AdminOnly, http.StatusForbidden},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.role != "" {
			req = req.WithContext(context.WithValue(req.Context(), contextkeys.AccountRole, tt.role))
		}
		rec := httptest.NewRecorder()
		tt.mw(noContent).ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("role %q: status = %d, want %d", tt.role, rec.Code, tt.want)
		}
	}
}

func TestKeyedLimiter_WindowAndKeys(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewWindowLimiter(3, time.Minute)
	l.now = func() time.Time { return now }
	ctx := t.Context()

	for i := 0; i < 3; i++ {
		if allowed, _, _ := l.Allow(ctx, "a"); !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	allowed, retry, err := l.Allow(ctx, "a")
	if err != nil || allowed {
		t.Fatalf("fourth request allowed=%v err=%v", allowed, err)
	}
	if retry <= 0 || retry > 20*time.Second {
		t.Fatalf("retry = %v, want about one refill interval", retry)
	}
	if allowed, _, _ := l.Allow(ctx, "b"); !allowed {
		t.Fatal("other keys have their own budget")
	}

	now = now.Add(21 * time.Second)
	if allowed, _, _ := l.Allow(ctx, "a"); !allowed {
		t.Fatal("a token should have refilled")
	}
}

type stubLimiter struct {
	allow bool
	retry time.Duration
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.retry, s.err
}

func TestRateLimit(t *testing.T) {
	t.Run("rejects with retry-after", func(t *testing.T) {
		l := &stubLimiter{retry: 2500 * time.Millisecond}
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(context.WithValue(req.Context(), contextkeys.AccountID, "f1"))
		rec := httptest.NewRecorder()
		RateLimit(l, ByAccount, "checkout")(noContent).ServeHTTP(rec, req)

		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d", rec.Code)
		}
		if got := rec.Header().Get("Retry-After"); got != "3" {
			t.Errorf("Retry-After = %q, want 3", got)
		}
		if len(l.keys) != 1 || l.keys[0] != "checkout:account:f1" {
			t.Errorf("keys = %v", l.keys)
		}
	})

	t.Run("limiter failure lets requests through", func(t *testing.T) {
		l := &stubLimiter{err: errors.New("redis down")}
		rec := httptest.NewRecorder()
		RateLimit(l, ByClientIP, "checkout")(noContent).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("falls back to client ip", func(t *testing.T) {
		l := &stubLimiter{allow: true}
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		h := RealIP(handler.TrustedProxies{netip.MustParsePrefix("10.0.0.0/8")})(RateLimit(l, ByAccount, "x")(noContent))
		h.ServeHTTP(httptest.NewRecorder(), req)
		if l.keys[0] != "x:ip:203.0.113.7" {
			t.Errorf("key = %q", l.keys[0])
		}
	})

	t.Run("spoofed forwarding header does not pick the bucket", func(t *testing.T) {
		l := &stubLimiter{allow: true}
		h := RealIP(handler.TrustedProxies{netip.MustParsePrefix("10.0.0.0/8")})(RateLimit(l, ByClientIP, "checkout")(noContent))
		for _, spoof := range []string{"198.51.100.1", "198.51.100.2"} {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.RemoteAddr = "192.0.2.50:6000"
			req.Header.Set("X-Forwarded-For", spoof)
			req.Header.Set("X-Real-IP", spoof)
			h.ServeHTTP(httptest.NewRecorder(), req)
		}
		for _, k := range l.keys {
			if k != "checkout:ip:192.0.2.50" {
				t.Errorf("key = %q, want the direct peer", k)
			}
		}
	})
}

func TestErrorBodies(t *testing.T) {
	decode := func(t *testing.T, rec *httptest.ResponseRecorder) string {
		t.Helper()
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("Content-Type = %q", ct)
		}
		var body map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return body["error"]
	}

	t.Run("forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(context.WithValue(req.Context(), contextkeys.AccountRole, domain.RoleFactory))
		rec := httptest.NewRecorder()
		AdminOnly(noContent).ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d", rec.Code)
		}
		if msg := decode(t, rec); msg != "forbidden: admin access required" {
			t.Errorf("error = %q", msg)
		}
	})

	t.Run("too many requests", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RateLimit(&stubLimiter{retry: time.Second}, ByClientIP, "global")(noContent).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d", rec.Code)
		}
		if msg := decode(t, rec); !strings.Contains(msg, "rate limit exceeded") {
			t.Errorf("error = %q", msg)
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Auth(fakeVerifier{})(noContent).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
		if msg := decode(t, rec); msg != "no token provided" {
			t.Errorf("error = %q", msg)
		}
	})
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info", "json")
	h := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("panic not logged: %s", buf.String())
	}
}

func TestLogger_RecordsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info", "json")

	r := chi.NewRouter()
	r.Use(Logger(logger))
	r.Get("/api/admin/payments/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/admin/payments/abc", nil))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", buf.String())
	}
	if entry["status"] != float64(http.StatusAccepted) || entry["path"] != "/api/admin/payments/abc" {
		t.Fatalf("entry = %v", entry)
	}
}
