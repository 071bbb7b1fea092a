package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrCacheMiss is returned by KV.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// KV is the small slice of a key/value cache the plan cache needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// NewRedisClient connects to redis and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return cli, nil
}

// RedisKV adapts a go-redis client to KV.
type RedisKV struct {
	cli    *redis.Client
	prefix string
}

// NewRedisKV wraps cli; every key is stored under prefix.
func NewRedisKV(cli *redis.Client, prefix string) *RedisKV {
	return &RedisKV{cli: cli, prefix: prefix}
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.cli.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.cli.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *RedisKV) Del(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	return r.cli.Del(ctx, full...).Err()
}

// Ping checks the redis connection.
func (r *RedisKV) Ping(ctx context.Context) error {
	return r.cli.Ping(ctx).Err()
}

const planListKey = "plans:all"

// planCacheStore decorates a Store with a read-through cache for plans.
// Plans are reference data, so a stale entry only lives until the TTL or the
// next UpsertPlan.
type planCacheStore struct {
	Store
	cache KV
	ttl   time.Duration
}

// WithPlanCache returns store with plan reads served from cache. Cache
// failures fall through to the underlying store.
func WithPlanCache(store Store, cache KV, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &planCacheStore{Store: store, cache: cache, ttl: ttl}
}

func (d *planCacheStore) ListPlans(ctx context.Context) ([]*domain.Plan, error) {
	var plans []*domain.Plan
	if d.load(ctx, planListKey, &plans) {
		metrics.IncCacheRequest("plan_list", "hit")
		return plans, nil
	}
	metrics.IncCacheRequest("plan_list", "miss")

	plans, err := d.Store.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	if len(plans) > 0 {
		d.store(ctx, planListKey, plans)
	}
	return plans, nil
}

func (d *planCacheStore) FindPlan(ctx context.Context, id string) (*domain.Plan, error) {
	return d.findPlan(ctx, "plan:"+id, func() (*domain.Plan, error) { return d.Store.FindPlan(ctx, id) })
}

func (d *planCacheStore) FindPlanBySlug(ctx context.Context, slug string) (*domain.Plan, error) {
	return d.findPlan(ctx, "plan:slug:"+slug, func() (*domain.Plan, error) { return d.Store.FindPlanBySlug(ctx, slug) })
}

func (d *planCacheStore) UpsertPlan(ctx context.Context, p *domain.Plan) error {
	if err := d.Store.UpsertPlan(ctx, p); err != nil {
		return err
	}
	if err := d.cache.Del(ctx, "plan:"+p.ID, "plan:slug:"+p.Slug, planListKey); err != nil {
		log.Warn().Err(err).Str("plan", p.ID).Msg("failed to invalidate plan cache")
	}
	return nil
}

func (d *planCacheStore) findPlan(ctx context.Context, key string, load func() (*domain.Plan, error)) (*domain.Plan, error) {
	var plan domain.Plan
	if d.load(ctx, key, &plan) {
		metrics.IncCacheRequest("plan", "hit")
		return &plan, nil
	}
	metrics.IncCacheRequest("plan", "miss")

	p, err := load()
	if err != nil {
		return nil, err
	}
	if p != nil {
		d.store(ctx, key, p)
	}
	return p, nil
}

func (d *planCacheStore) load(ctx context.Context, key string, dst any) bool {
	raw, err := d.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			log.Warn().Err(err).Str("key", key).Msg("plan cache read failed")
		}
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (d *planCacheStore) store(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("plan cache write failed")
	}
}
