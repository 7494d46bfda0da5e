package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/risk-engine/internal/model"
)

// KV is the cache seam CachedStore talks to.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// RedisKV adapts a go-redis client to KV.
type RedisKV struct {
	rdb *redis.Client
}

// NewRedisKV wraps rdb.
func NewRedisKV(rdb *redis.Client) *RedisKV { return &RedisKV{rdb: rdb} }

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	return r.rdb.Get(ctx, key).Bytes()
}

func (r *RedisKV) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, val, ttl).Err()
}

func (r *RedisKV) Del(ctx context.Context, keys ...string) error {
	return r.rdb.Del(ctx, keys...).Err()
}

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the latest VaR and stress results of each portfolio. Writes go
// to the primary store and invalidate the cache; reads check Redis first then
// fall back to the primary. Cache failures never fail a call.
type CachedStore struct {
	primary Store
	kv      KV
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, kv KV, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		kv:      kv,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveVaRCalculation(ctx context.Context, c *model.VaRCalculation) error {
	if err := s.primary.SaveVaRCalculation(ctx, c); err != nil {
		return err
	}
	s.invalidate(ctx, latestVaRKey(c.PortfolioID))
	return nil
}

func (s *CachedStore) SaveStressResult(ctx context.Context, r *model.StressTestResult) error {
	if err := s.primary.SaveStressResult(ctx, r); err != nil {
		return err
	}
	s.invalidate(ctx, stressKey(r.PortfolioID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LatestVaR(ctx context.Context, portfolioID string) (*model.VaRCalculation, error) {
	var c model.VaRCalculation
	if s.lookup(ctx, latestVaRKey(portfolioID), &c) {
		return &c, nil
	}

	latest, err := s.primary.LatestVaR(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, latestVaRKey(portfolioID), latest)
	return latest, nil
}

func (s *CachedStore) ListStressResults(ctx context.Context, portfolioID string) ([]model.StressTestResult, error) {
	var out []model.StressTestResult
	if s.lookup(ctx, stressKey(portfolioID), &out) {
		return out, nil
	}

	out, err := s.primary.ListStressResults(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, stressKey(portfolioID), out)
	return out, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListVaRCalculations(ctx context.Context, portfolioID string) ([]model.VaRCalculation, error) {
	return s.primary.ListVaRCalculations(ctx, portfolioID)
}

func (s *CachedStore) SaveBacktest(ctx context.Context, b *model.VaRBacktest) error {
	return s.primary.SaveBacktest(ctx, b)
}

func (s *CachedStore) ListBacktests(ctx context.Context, portfolioID string) ([]model.VaRBacktest, error) {
	return s.primary.ListBacktests(ctx, portfolioID)
}

func (s *CachedStore) SaveDailyPnL(ctx context.Context, p *model.DailyPnL) error {
	return s.primary.SaveDailyPnL(ctx, p)
}

func (s *CachedStore) ListDailyPnL(ctx context.Context, portfolioID string) ([]model.DailyPnL, error) {
	return s.primary.ListDailyPnL(ctx, portfolioID)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) fill(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.kv.Set(ctx, key, data, s.ttl); err != nil {
		slog.Warn("cache fill failed", "key", key, "error", err)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, key string) {
	if err := s.kv.Del(ctx, key); err != nil {
		slog.Warn("cache invalidation failed", "key", key, "error", err)
	}
}

func latestVaRKey(portfolioID string) string { return fmt.Sprintf("risk:var:latest:%s", portfolioID) }
func stressKey(portfolioID string) string    { return fmt.Sprintf("risk:stress:%s", portfolioID) }
