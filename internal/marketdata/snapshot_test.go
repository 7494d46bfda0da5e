package marketdata

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/apperrors"
)

func TestCurveRate_InterpolatesAndExtrapolatesFlat(t *testing.T) {
	c := Curve{Tenors: []float64{1, 2, 5}, Rates: []float64{0.02, 0.03, 0.04}}

	cases := []struct {
		t, want float64
	}{
		{0.5, 0.02},
		{1, 0.02},
		{1.5, 0.025},
		{3.5, 0.035},
		{10, 0.04},
	}
	for _, tc := range cases {
		got, ok := c.Rate(tc.t)
		if !ok || math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("Rate(%v) = %v, %v; want %v", tc.t, got, ok, tc.want)
		}
	}

	if _, ok := (Curve{}).Rate(1); ok {
		t.Error("empty curve should report no rate")
	}
}

func TestSnapshot_CorrelationIsSymmetricWithDefault(t *testing.T) {
	s := &Snapshot{Correlations: map[string]float64{PairKey("SPY", "QQQ"): 0.9}}

	if got := s.Correlation("QQQ", "SPY", 0.3); got != 0.9 {
		t.Errorf("got %v, want 0.9", got)
	}
	if got := s.Correlation("SPY", "GLD", 0.3); got != 0.3 {
		t.Errorf("got %v, want default 0.3", got)
	}
	if got := s.Correlation("GLD", "GLD", 0.3); got != 1 {
		t.Errorf("self-correlation = %v, want 1", got)
	}
}

func TestSnapshot_RateFallsBackToRiskFree(t *testing.T) {
	s := &Snapshot{
		RiskFreeRate: 0.05,
		Curves:       map[string]Curve{"EUR": {Tenors: []float64{1}, Rates: []float64{0.03}}},
	}
	if got := s.Rate("EUR", 2); got != 0.03 {
		t.Errorf("EUR rate = %v", got)
	}
	if got := s.Rate("USD", 2); got != 0.05 {
		t.Errorf("USD rate = %v, want risk-free", got)
	}
}

func TestSnapshot_DailyVol(t *testing.T) {
	s := &Snapshot{Vols: map[string]float64{"SPY": 0.252}}
	got, ok := s.DailyVol("SPY")
	if !ok || math.Abs(got-0.252/math.Sqrt(252)) > 1e-15 {
		t.Errorf("DailyVol = %v", got)
	}
}

func TestSnapshot_CloneIsIndependent(t *testing.T) {
	s := &Snapshot{
		Spots:   map[string]decimal.Decimal{"SPY": decimal.NewFromInt(500)},
		Returns: map[string][]float64{"SPY": {0.01, -0.02}},
	}
	c := s.Clone()
	c.Spots["SPY"] = decimal.NewFromInt(1)
	c.Returns["SPY"][0] = 99

	if !s.Spots["SPY"].Equal(decimal.NewFromInt(500)) {
		t.Error("clone shares spots")
	}
	if s.Returns["SPY"][0] != 0.01 {
		t.Error("clone shares return series")
	}
}

func TestStaticProvider_LatestAtOrBefore(t *testing.T) {
	d1 := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	p := NewStaticProvider(&Snapshot{AsOf: d2}, &Snapshot{AsOf: d1})

	ctx := context.Background()
	got, err := p.GetMarketData(ctx, d1.Add(12*time.Hour))
	if err != nil || !got.AsOf.Equal(d1) {
		t.Fatalf("got %v, %v; want snapshot at %v", got, err, d1)
	}
	got, err = p.GetMarketData(ctx, d2.AddDate(0, 1, 0))
	if err != nil || !got.AsOf.Equal(d2) {
		t.Fatalf("got %v, %v; want snapshot at %v", got, err, d2)
	}

	_, err = p.GetMarketData(ctx, d1.Add(-time.Hour))
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected NotFound before first snapshot, got %v", err)
	}
}

func TestStaticProvider_PutReplacesSameDate(t *testing.T) {
	d1 := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	p := NewStaticProvider(&Snapshot{AsOf: d1, RiskFreeRate: 0.01})
	p.Put(&Snapshot{AsOf: d1, RiskFreeRate: 0.02})

	got, _ := p.GetMarketData(context.Background(), d1)
	if got.RiskFreeRate != 0.02 {
		t.Errorf("expected replaced snapshot, got rate %v", got.RiskFreeRate)
	}
	if len(p.snaps) != 1 {
		t.Errorf("expected 1 snapshot, got %d", len(p.snaps))
	}
}
