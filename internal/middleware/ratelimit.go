package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Paparusi/labo-sub000/internal/contextkeys"
	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/handler"
	"github.com/Paparusi/labo-sub000/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more request for key fits in its budget. When
// it does not, retry says how long until it would.
type Limiter interface {
	Allow(ctx context.Context, key string) (ok bool, retry time.Duration, err error)
}

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(r *http.Request) string

// ByClientIP buckets requests by client IP.
func ByClientIP(r *http.Request) string {
	return "ip:" + handler.ClientIP(r)
}

// ByAccount buckets requests by authenticated account, falling back to the
// client IP. Must be used after Auth to take effect.
func ByAccount(r *http.Request) string {
	if id, ok := r.Context().Value(contextkeys.AccountID).(string); ok && id != "" {
		return "account:" + id
	}
	return ByClientIP(r)
}

// RateLimit rejects requests over the limiter's budget with 429. Limiter
// errors let the request through.
func RateLimit(l Limiter, key KeyFunc, name string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := name + ":" + key(r)
			ok, retry, err := l.Allow(r.Context(), k)
			if err != nil {
				log.Warn().Err(err).Str("limiter", name).Msg("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				metrics.IncRateLimited(name)
				w.Header().Set("Retry-After", retryAfter(retry))
				handler.Error(w, domain.ErrTooManyRequests("rate limit exceeded, try again later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// KeyedLimiter is an in-process token bucket per key.
type KeyedLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var _ Limiter = (*KeyedLimiter)(nil)

// NewRateLimiter creates a keyed limiter with the given requests per second
// and burst size.
func NewRateLimiter(rps float64, burst int) *KeyedLimiter {
	rl := &KeyedLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
	// Cleanup stale entries every minute
	go rl.cleanup()
	return rl
}

// NewWindowLimiter allows limit requests per window for each key.
func NewWindowLimiter(limit int, window time.Duration) *KeyedLimiter {
	return NewRateLimiter(float64(limit)/window.Seconds(), limit)
}

func (rl *KeyedLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := rl.now()

	rl.mu.Lock()
	v, exists := rl.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	rl.mu.Unlock()

	res := v.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second, nil
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d, nil
	}
	return true, 0, nil
}

// StrictRateLimiter returns a stricter rate limiter (for login endpoints).
func StrictRateLimiter() func(next http.Handler) http.Handler {
	rl := NewRateLimiter(1, 5) // 1 req/sec, burst of 5
	return RateLimit(rl, ByClientIP, "login")
}

func (rl *KeyedLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for key, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, key)
			}
		}
		rl.mu.Unlock()
	}
}

// RedisLimiter is a fixed-window counter shared by every API instance.
type RedisLimiter struct {
	cli    *redis.Client
	prefix string
	limit  int
	window time.Duration
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(cli *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{cli: cli, prefix: prefix, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := l.prefix + "rate_limit:" + key
	count, err := l.cli.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("incr %s: %w", k, err)
	}
	if count == 1 {
		if err := l.cli.PExpire(ctx, k, l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("expire %s: %w", k, err)
		}
	}
	if count <= int64(l.limit) {
		return true, 0, nil
	}

	ttl, err := l.cli.PTTL(ctx, k).Result()
	if err != nil || ttl <= 0 {
		// A key left without expiry would block forever.
		_ = l.cli.PExpire(ctx, k, l.window).Err()
		ttl = l.window
	}
	return false, ttl, nil
}
