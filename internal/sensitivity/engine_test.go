package sensitivity

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/arena"
	"github.com/atmx/risk-engine/internal/marketdata"
	"github.com/atmx/risk-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var asOf = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

func testSnapshot() *marketdata.Snapshot {
	return &marketdata.Snapshot{
		AsOf:         asOf,
		RiskFreeRate: 0.05,
		Spots:        map[string]decimal.Decimal{"SPY": d(100), "WTI": d(80)},
		Vols:         map[string]float64{"SPY": 0.2},
	}
}

func optionPosition(idx uint32, qty float64, dir model.Direction, typ model.OptionType, strike float64, expiry time.Time) model.Position {
	return model.Position{
		ID:           arena.ID{Index: idx, Generation: 1},
		InstrumentID: "OPT-SPY",
		AssetClass:   model.AssetDerivative,
		PortfolioID:  "P1",
		Quantity:     d(qty),
		Direction:    dir,
		CurrentPrice: d(10),
		MarketValue:  d(qty * 10),
		Currency:     "USD",
		Status:       model.StatusOpen,
		Instrument: model.Option{
			Underlying: "SPY", Type: typ, Strike: d(strike), Expiry: expiry, ImpliedVol: 0.2,
		},
	}
}

func TestBlackScholes_ReferenceValues(t *testing.T) {
	call := BlackScholes(BSInputs{Spot: 100, Strike: 100, T: 1, Rate: 0.05, Vol: 0.2, Type: model.Call})
	assert.InDelta(t, 10.4506, call.Price, 1e-4)
	assert.InDelta(t, 0.6368, call.Delta, 1e-4)
	assert.InDelta(t, 0.018762, call.Gamma, 1e-6)
	assert.InDelta(t, 0.37524, call.Vega, 1e-5)
	assert.InDelta(t, -6.4140/365, call.Theta, 1e-5)
	assert.InDelta(t, 0.532325, call.Rho, 1e-5)

	put := BlackScholes(BSInputs{Spot: 100, Strike: 100, T: 1, Rate: 0.05, Vol: 0.2, Type: model.Put})
	assert.InDelta(t, 5.5735, put.Price, 1e-4)
	assert.InDelta(t, call.Delta-1, put.Delta, 1e-12)
	assert.InDelta(t, call.Gamma, put.Gamma, 1e-12)
	assert.InDelta(t, call.Vega, put.Vega, 1e-12)
}

func TestBlackScholes_FlooredTimeIsFinite(t *testing.T) {
	g := BlackScholes(BSInputs{Spot: 100, Strike: 100, T: 0, Rate: 0.01, Vol: 0.3, Type: model.Call})
	for _, v := range []float64{g.Price, g.Delta, g.Gamma, g.Vega, g.Theta, g.Rho} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "non-finite greek at expiry")
	}
}

func TestCalculateGreeks_ScalesBySignedQuantity(t *testing.T) {
	e := New(WithClock(func() time.Time { return asOf }))
	expiry := asOf.AddDate(1, 0, 0)
	long := optionPosition(1, 10, model.Long, model.Call, 100, expiry)
	short := optionPosition(2, 10, model.Short, model.Call, 100, expiry)

	lc, err := e.CalculateGreeks(context.Background(), long, testSnapshot())
	require.NoError(t, err)
	sc, err := e.CalculateGreeks(context.Background(), short, testSnapshot())
	require.NoError(t, err)

	assert.InDelta(t, 6.37, lc.Delta.InexactFloat64(), 0.01)
	assert.True(t, lc.Delta.Neg().Equal(sc.Delta), "short delta should mirror long")
	assert.True(t, lc.Gamma.IsPositive() && sc.Gamma.IsNegative())
	assert.InDelta(t, lc.Delta.InexactFloat64()*100, lc.DollarDelta.InexactFloat64(), 1e-4)
	assert.Len(t, e.GreeksHistory(long.ID), 1)

	_, err = e.CalculateGreeks(context.Background(), long, testSnapshot())
	require.NoError(t, err)
	assert.Len(t, e.GreeksHistory(long.ID), 1, "same-day recalculation supersedes")
}

func TestCalculateGreeks_ValidationErrors(t *testing.T) {
	e := New()
	snap := testSnapshot()

	zeroVol := optionPosition(1, 1, model.Long, model.Call, 100, asOf.AddDate(0, 3, 0))
	o := zeroVol.Instrument.(model.Option)
	o.ImpliedVol = -0.1
	zeroVol.Instrument = o

	expired := optionPosition(2, 1, model.Long, model.Put, 100, asOf.AddDate(0, 0, -1))

	noSpot := optionPosition(3, 1, model.Long, model.Call, 100, asOf.AddDate(0, 3, 0))
	o = noSpot.Instrument.(model.Option)
	o.Underlying = "QQQ"
	noSpot.Instrument = o

	equity := model.Position{AssetClass: model.AssetEquity, Instrument: model.Equity{}}

	cases := map[string]struct {
		p     model.Position
		field string
	}{
		"negative vol": {zeroVol, "implied_vol"},
		"expired":      {expired, "time_to_expiry"},
		"missing spot": {noSpot, "spot"},
		"not option":   {equity, "asset_class"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.CalculateGreeks(context.Background(), tc.p, snap)
			require.True(t, errors.Is(err, apperrors.ErrValidation), "got %v", err)
			var ae *apperrors.Error
			require.True(t, errors.As(err, &ae))
			assert.Equal(t, tc.field, ae.Field)
		})
	}
}

func TestAggregatePortfolioGreeks_TotalDeltaEqualsSum(t *testing.T) {
	e := New(WithClock(func() time.Time { return asOf }))
	rng := rand.New(rand.NewPCG(1, 2))
	snap := testSnapshot()

	var positions []model.Position
	for i := 0; i < 25; i++ {
		dir := model.Long
		if rng.IntN(2) == 0 {
			dir = model.Short
		}
		typ := model.Call
		if rng.IntN(2) == 0 {
			typ = model.Put
		}
		expiry := asOf.AddDate(0, 0, rng.IntN(800)-20)
		positions = append(positions, optionPosition(uint32(i), float64(rng.IntN(50)+1), dir, typ, float64(80+rng.IntN(40)), expiry))
	}
	positions = append(positions, model.Position{AssetClass: model.AssetEquity, Instrument: model.Equity{}})

	pg, err := e.PortfolioGreeks(context.Background(), "P1", positions, snap)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, c := range pg.Calculations {
		sum = sum.Add(c.Delta)
	}
	assert.True(t, pg.TotalDelta.Equal(sum), "total %s != sum %s", pg.TotalDelta, sum)
	assert.Equal(t, 25, pg.PositionCount)

	bucketDelta, bucketCount := decimal.Zero, 0
	for _, b := range pg.ByExpiry {
		bucketDelta = bucketDelta.Add(b.Delta)
		bucketCount += b.PositionCount
	}
	assert.True(t, bucketDelta.Equal(pg.TotalDelta))
	assert.Equal(t, 25, bucketCount)
}

func TestExpiryBucket(t *testing.T) {
	cases := map[int]string{
		-1: BucketExpired, 0: Bucket0To1M, 30: Bucket0To1M, 31: Bucket1To3M,
		91: Bucket1To3M, 120: Bucket3To6M, 200: Bucket6To12M, 365: Bucket6To12M, 366: BucketOver1Y,
	}
	for days, want := range cases {
		assert.Equal(t, want, ExpiryBucket(asOf, asOf.AddDate(0, 0, days)), "days=%d", days)
	}
}

func TestScalarSensitivities(t *testing.T) {
	bond := model.Position{
		Quantity: d(1000), MarketValue: d(100000), Direction: model.Long,
		Instrument: model.FixedIncome{ModifiedDuration: d(5)},
	}
	assert.True(t, DV01(bond).Equal(d(-50)), "dv01 = %s", DV01(bond))

	fx := model.Position{MarketValue: d(110000), Direction: model.Short, Instrument: model.FX{Notional: d(100000)}}
	assert.True(t, FXDelta(fx).Equal(d(-100000)))

	eq := model.Position{MarketValue: d(10000), Direction: model.Long, Instrument: model.Equity{Beta: d(1.5)}}
	f, v := ScalarSensitivity(eq)
	assert.Equal(t, model.FactorEquity, f)
	assert.True(t, v.Equal(d(15000)))
}

func TestPortfolioGreeks_ScalarTotals(t *testing.T) {
	e := New(WithClock(func() time.Time { return asOf }))
	positions := []model.Position{
		{ID: arena.ID{Index: 1, Generation: 1}, InstrumentID: "UST10", MarketValue: d(100000), Direction: model.Long,
			Instrument: model.FixedIncome{ModifiedDuration: d(5)}},
		{ID: arena.ID{Index: 2, Generation: 1}, InstrumentID: "EURUSD", MarketValue: d(110000), Direction: model.Short,
			Instrument: model.FX{Notional: d(100000)}},
		{ID: arena.ID{Index: 3, Generation: 1}, InstrumentID: "AAPL", MarketValue: d(10000), Direction: model.Long,
			Instrument: model.Equity{Beta: d(1.5)}},
		{ID: arena.ID{Index: 4, Generation: 1}, InstrumentID: "WTI", MarketValue: d(8000), Direction: model.Short,
			Instrument: model.Commodity{Underlying: "WTI"}},
		optionPosition(5, 10, model.Long, model.Call, 100, asOf.AddDate(1, 0, 0)),
	}

	pg, err := e.PortfolioGreeks(context.Background(), "P1", positions, testSnapshot())
	require.NoError(t, err)

	assert.True(t, pg.TotalDV01.Equal(d(-50)), "dv01 = %s", pg.TotalDV01)
	assert.True(t, pg.TotalFXDelta.Equal(d(-100000)), "fx delta = %s", pg.TotalFXDelta)
	assert.True(t, pg.TotalBetaExposure.Equal(d(15000)), "beta exposure = %s", pg.TotalBetaExposure)
	assert.True(t, pg.TotalCommodityDelta.Equal(d(-8000)), "commodity delta = %s", pg.TotalCommodityDelta)
	require.Len(t, pg.Scalars, 4)
	assert.Equal(t, "UST10", pg.Scalars[0].InstrumentID)
	assert.Equal(t, model.FactorRates, pg.Scalars[0].Factor)
	assert.Equal(t, 1, pg.PositionCount)
}

func TestRunSensitivityAnalysis_RecoversDeltaAndConvexity(t *testing.T) {
	e := New()
	bond := model.Position{
		AssetClass: model.AssetFixedIncome, Quantity: d(1000), CurrentPrice: d(100),
		MarketValue: d(100000), Direction: model.Long, Currency: "USD",
		Instrument: model.FixedIncome{ModifiedDuration: d(5), Convexity: d(40)},
	}
	shocks := []decimal.Decimal{d(0.02), d(-0.01), d(0)}

	sa, err := e.RunSensitivityAnalysis(context.Background(), "P1", model.FactorRates, shocks, []model.Position{bond}, testSnapshot())
	require.NoError(t, err)
	require.Len(t, sa.Points, 3)
	assert.True(t, sa.Points[0].ShockSize.Equal(d(-0.01)), "points must be sorted")
	assert.False(t, sa.Degenerate)
	assert.InDelta(t, 5200, sa.Points[0].PnLImpact.InexactFloat64(), 1e-6)
	assert.InDelta(t, 4_000_000, sa.Convexity.InexactFloat64(), 1e-2)
	// nearest pair is (-0.01, 0): Delta + ½Γ(-0.01)
	assert.InDelta(t, -500000-20000, sa.Sensitivity.InexactFloat64(), 1e-3)
}

func TestRunSensitivityAnalysis_DegenerateCases(t *testing.T) {
	e := New()
	eq := model.Position{
		AssetClass: model.AssetEquity, MarketValue: d(100000), Direction: model.Long,
		Currency: "USD", Instrument: model.Equity{Beta: d(1)},
	}
	positions := []model.Position{eq}

	one, err := e.RunSensitivityAnalysis(context.Background(), "P1", model.FactorEquity, []decimal.Decimal{d(0.1), d(0.1)}, positions, testSnapshot())
	require.NoError(t, err)
	assert.True(t, one.Degenerate)
	assert.True(t, one.Sensitivity.IsZero() && one.Convexity.IsZero())

	two, err := e.RunSensitivityAnalysis(context.Background(), "P1", model.FactorEquity, []decimal.Decimal{d(-0.1), d(0.1)}, positions, testSnapshot())
	require.NoError(t, err)
	assert.True(t, two.Degenerate)
	assert.InDelta(t, 100000, two.Sensitivity.InexactFloat64(), 1e-6)
	assert.True(t, two.Convexity.IsZero())

	_, err = e.RunSensitivityAnalysis(context.Background(), "P1", "weather", nil, positions, testSnapshot())
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestExposureProfile_OptionAndForeignCurrency(t *testing.T) {
	e := New()
	snap := testSnapshot()
	opt := optionPosition(1, 10, model.Long, model.Call, 100, asOf.AddDate(1, 0, 0))
	eur := model.Position{
		AssetClass: model.AssetEquity, MarketValue: d(5000), Direction: model.Long,
		Currency: "EUR", Instrument: model.Equity{Beta: d(1)},
	}

	prof := e.ExposureProfile([]model.Position{opt, eur}, snap)
	assert.InDelta(t, 6.368*100+5000, prof[model.FactorEquity].Delta, 1)
	assert.Greater(t, prof[model.FactorEquity].Gamma, 0.0)
	assert.Greater(t, prof[model.FactorVol].Delta, 0.0)
	assert.InDelta(t, 5000, prof[model.FactorFX].Delta, 1e-9)
}
