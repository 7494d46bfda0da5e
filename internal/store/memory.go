package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atmx/risk-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	vars      map[string][]model.VaRCalculation
	backtests map[string][]model.VaRBacktest
	stress    map[string][]model.StressTestResult
	pnl       map[string][]model.DailyPnL
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vars:      make(map[string][]model.VaRCalculation),
		backtests: make(map[string][]model.VaRBacktest),
		stress:    make(map[string][]model.StressTestResult),
		pnl:       make(map[string][]model.DailyPnL),
	}
}

func (s *MemoryStore) SaveVaRCalculation(_ context.Context, c *model.VaRCalculation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.vars[c.PortfolioID]
	for i := range list {
		if list[i].ID == c.ID {
			list[i] = *c
			return nil
		}
	}
	s.vars[c.PortfolioID] = append(list, *c)
	return nil
}

func (s *MemoryStore) LatestVaR(_ context.Context, portfolioID string) (*model.VaRCalculation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.VaRCalculation
	for i := range s.vars[portfolioID] {
		c := s.vars[portfolioID][i]
		if latest == nil || c.CalculatedAt.After(latest.CalculatedAt) {
			copy := c
			latest = &copy
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (s *MemoryStore) ListVaRCalculations(_ context.Context, portfolioID string) ([]model.VaRCalculation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]model.VaRCalculation(nil), s.vars[portfolioID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CalculatedAt.After(out[j].CalculatedAt) })
	return out, nil
}

func (s *MemoryStore) SaveBacktest(_ context.Context, b *model.VaRBacktest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backtests[b.PortfolioID] = append(s.backtests[b.PortfolioID], *b)
	return nil
}

func (s *MemoryStore) ListBacktests(_ context.Context, portfolioID string) ([]model.VaRBacktest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]model.VaRBacktest(nil), s.backtests[portfolioID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SaveStressResult(_ context.Context, r *model.StressTestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := truncateDay(r.TestDate)
	list := s.stress[r.PortfolioID]
	for i := range list {
		if list[i].ScenarioID == r.ScenarioID && truncateDay(list[i].TestDate).Equal(day) {
			list[i] = *r
			return nil
		}
	}
	s.stress[r.PortfolioID] = append(list, *r)
	return nil
}

func (s *MemoryStore) ListStressResults(_ context.Context, portfolioID string) ([]model.StressTestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]model.StressTestResult(nil), s.stress[portfolioID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TestDate.After(out[j].TestDate) })
	return out, nil
}

func (s *MemoryStore) SaveDailyPnL(_ context.Context, p *model.DailyPnL) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := truncateDay(p.Date)
	list := s.pnl[p.PortfolioID]
	for i := range list {
		if truncateDay(list[i].Date).Equal(day) {
			list[i] = *p
			return nil
		}
	}
	s.pnl[p.PortfolioID] = append(list, *p)
	return nil
}

func (s *MemoryStore) ListDailyPnL(_ context.Context, portfolioID string) ([]model.DailyPnL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]model.DailyPnL(nil), s.pnl[portfolioID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func truncateDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
