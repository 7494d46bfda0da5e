package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var day1 = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

func TestMemoryStore_LatestVaR(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.LatestVaR(ctx, "P1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	old := &model.VaRCalculation{ID: "a", PortfolioID: "P1", VaRAmount: d(100), CalculatedAt: day1}
	newer := &model.VaRCalculation{ID: "b", PortfolioID: "P1", VaRAmount: d(200), CalculatedAt: day1.Add(time.Hour)}
	for _, c := range []*model.VaRCalculation{newer, old} {
		if err := s.SaveVaRCalculation(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.LatestVaR(ctx, "P1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "b" {
		t.Errorf("latest = %s, want b", got.ID)
	}

	// Re-saving the same id replaces it.
	old.State = model.StateBacktested
	if err := s.SaveVaRCalculation(ctx, old); err != nil {
		t.Fatal(err)
	}
	list, _ := s.ListVaRCalculations(ctx, "P1")
	if len(list) != 2 || list[1].State != model.StateBacktested {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestMemoryStore_StressSupersedesSameDay(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.SaveStressResult(ctx, &model.StressTestResult{ID: "1", PortfolioID: "P1", ScenarioID: "gfc", TestDate: day1})
	_ = s.SaveStressResult(ctx, &model.StressTestResult{ID: "2", PortfolioID: "P1", ScenarioID: "gfc", TestDate: day1.Add(3 * time.Hour)})
	_ = s.SaveStressResult(ctx, &model.StressTestResult{ID: "3", PortfolioID: "P1", ScenarioID: "gfc", TestDate: day1.Add(24 * time.Hour)})

	list, _ := s.ListStressResults(ctx, "P1")
	if len(list) != 2 {
		t.Fatalf("got %d results, want 2", len(list))
	}
	if list[0].ID != "3" || list[1].ID != "2" {
		t.Errorf("order = %s,%s want 3,2", list[0].ID, list[1].ID)
	}
}

func TestMemoryStore_DailyPnLOrderedAndSuperseded(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.SaveDailyPnL(ctx, &model.DailyPnL{PortfolioID: "P1", Date: day1.Add(24 * time.Hour), PnL: d(5)})
	_ = s.SaveDailyPnL(ctx, &model.DailyPnL{PortfolioID: "P1", Date: day1, PnL: d(1)})
	_ = s.SaveDailyPnL(ctx, &model.DailyPnL{PortfolioID: "P1", Date: day1, PnL: d(2)})

	list, _ := s.ListDailyPnL(ctx, "P1")
	if len(list) != 2 {
		t.Fatalf("got %d entries, want 2", len(list))
	}
	if !list[0].PnL.Equal(d(2)) || !list[1].PnL.Equal(d(5)) {
		t.Errorf("unexpected series %+v", list)
	}
}

// mapKV is an in-process KV that counts hits.
type mapKV struct {
	data map[string][]byte
	hits int
}

func newMapKV() *mapKV { return &mapKV{data: map[string][]byte{}} }

func (m *mapKV) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, errors.New("miss")
	}
	m.hits++
	return v, nil
}

func (m *mapKV) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.data[key] = val
	return nil
}

func (m *mapKV) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func TestCachedStore_ReadThroughAndInvalidate(t *testing.T) {
	primary := NewMemoryStore()
	kv := newMapKV()
	s := NewCachedStore(primary, kv, time.Minute)
	ctx := context.Background()

	if err := s.SaveVaRCalculation(ctx, &model.VaRCalculation{ID: "a", PortfolioID: "P1", VaRAmount: d(100), CalculatedAt: day1}); err != nil {
		t.Fatal(err)
	}

	first, err := s.LatestVaR(ctx, "P1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.LatestVaR(ctx, "P1")
	if err != nil {
		t.Fatal(err)
	}
	if kv.hits != 1 {
		t.Errorf("cache hits = %d, want 1", kv.hits)
	}
	if !first.VaRAmount.Equal(second.VaRAmount) {
		t.Errorf("cached value %s differs from primary %s", second.VaRAmount, first.VaRAmount)
	}

	if err := s.SaveVaRCalculation(ctx, &model.VaRCalculation{ID: "b", PortfolioID: "P1", VaRAmount: d(300), CalculatedAt: day1.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.LatestVaR(ctx, "P1")
	if got.ID != "b" {
		t.Errorf("stale cache: latest = %s, want b", got.ID)
	}
}

func TestCachedStore_MissPropagatesNotFound(t *testing.T) {
	s := NewCachedStore(NewMemoryStore(), newMapKV(), time.Minute)
	if _, err := s.LatestVaR(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
