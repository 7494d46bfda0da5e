package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/risk-engine/internal/apperrors"
)

// Provider serves market data snapshots.
type Provider interface {
	// GetMarketData returns the latest snapshot at or before asOf.
	GetMarketData(ctx context.Context, asOf time.Time) (*Snapshot, error)
}

// StaticProvider serves snapshots loaded in memory. Used for tests,
// development and hosts that push market data in.
type StaticProvider struct {
	mu    sync.RWMutex
	snaps []*Snapshot // sorted by AsOf
}

// NewStaticProvider creates a provider seeded with snaps.
func NewStaticProvider(snaps ...*Snapshot) *StaticProvider {
	p := &StaticProvider{}
	for _, s := range snaps {
		p.Put(s)
	}
	return p
}

// Put stores a snapshot, replacing any snapshot with the same AsOf.
func (p *StaticProvider) Put(s *Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := sort.Search(len(p.snaps), func(i int) bool { return !p.snaps[i].AsOf.Before(s.AsOf) })
	if i < len(p.snaps) && p.snaps[i].AsOf.Equal(s.AsOf) {
		p.snaps[i] = s
		return
	}
	p.snaps = append(p.snaps, nil)
	copy(p.snaps[i+1:], p.snaps[i:])
	p.snaps[i] = s
}

func (p *StaticProvider) GetMarketData(_ context.Context, asOf time.Time) (*Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	i := sort.Search(len(p.snaps), func(i int) bool { return p.snaps[i].AsOf.After(asOf) })
	if i == 0 {
		return nil, apperrors.NotFound("market_data", asOf.Format(time.DateOnly))
	}
	return p.snaps[i-1], nil
}

// CachedProvider wraps a Provider with a Redis read-through cache keyed by
// as-of date.
type CachedProvider struct {
	primary Provider
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedProvider creates a cached wrapper around a primary provider.
func NewCachedProvider(primary Provider, rdb *redis.Client, ttl time.Duration) *CachedProvider {
	return &CachedProvider{primary: primary, rdb: rdb, ttl: ttl}
}

func (p *CachedProvider) GetMarketData(ctx context.Context, asOf time.Time) (*Snapshot, error) {
	key := snapshotKey(asOf)
	data, err := p.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var s Snapshot
		if json.Unmarshal(data, &s) == nil {
			return &s, nil
		}
	}

	s, err := p.primary.GetMarketData(ctx, asOf)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(s); err == nil {
		if err := p.rdb.Set(ctx, key, data, p.ttl).Err(); err != nil {
			slog.Warn("market data cache write failed", "key", key, "err", err)
		}
	}
	return s, nil
}

func snapshotKey(asOf time.Time) string {
	return fmt.Sprintf("marketdata:%s", asOf.UTC().Format("20060102"))
}

// Put forwards s to the primary provider when it accepts pushes and drops
// the cached entry for s's date. Entries cached for later dates expire on
// their TTL.
func (p *CachedProvider) Put(s *Snapshot) {
	sink, ok := p.primary.(interface{ Put(*Snapshot) })
	if !ok {
		return
	}
	sink.Put(s)
	if err := p.rdb.Del(context.Background(), snapshotKey(s.AsOf)).Err(); err != nil {
		slog.Warn("market data cache invalidation failed", "as_of", s.AsOf, "err", err)
	}
}
