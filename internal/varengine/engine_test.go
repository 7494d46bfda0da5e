package varengine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/arena"
	"github.com/atmx/risk-engine/internal/ledger"
	"github.com/atmx/risk-engine/internal/marketdata"
	"github.com/atmx/risk-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var asOf = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

func equity(idx uint32, key, book string, mv float64, dir model.Direction) model.Position {
	return model.Position{
		ID:           arena.ID{Index: idx, Generation: 1},
		InstrumentID: key,
		AssetClass:   model.AssetEquity,
		PortfolioID:  "P1",
		BookID:       book,
		Quantity:     d(mv / 100),
		Direction:    dir,
		CurrentPrice: d(100),
		MarketValue:  d(mv),
		Currency:     "USD",
		Status:       model.StatusOpen,
		Instrument:   model.Equity{},
	}
}

func snapshotOf(ps ...model.Position) ledger.PositionSnapshot {
	return ledger.PositionSnapshot{PortfolioID: "P1", TakenAt: asOf, Positions: ps}
}

// dailyVolMarket quotes every key at a 1% daily vol.
func dailyVolMarket(keys ...string) *marketdata.Snapshot {
	m := &marketdata.Snapshot{AsOf: asOf, Vols: map[string]float64{}, Returns: map[string][]float64{}}
	for _, k := range keys {
		m.Vols[k] = 0.01 * math.Sqrt(marketdata.TradingDaysPerYear)
	}
	return m
}

func randomReturns(rng *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64() * 0.01
	}
	return out
}

func TestTailLoss_RankFiveOfHundred(t *testing.T) {
	pnl := make([]float64, 100)
	for i := range pnl {
		pnl[i] = float64(i) - 50
	}
	rng := rand.New(rand.NewPCG(1, 2))
	rng.Shuffle(len(pnl), func(i, j int) { pnl[i], pnl[j] = pnl[j], pnl[i] })

	v, es, rank := TailLoss(pnl, 0.95)
	assert.Equal(t, 5, rank)
	assert.Equal(t, 45.0, v)
	assert.InDelta(t, 47.5, es, 1e-12)
}

func TestTailLoss_GainsFloorAtZero(t *testing.T) {
	v, es, _ := TailLoss([]float64{5, 3, 8, 1}, 0.95)
	assert.Zero(t, v)
	assert.Zero(t, es)
}

func TestZScore(t *testing.T) {
	for c, want := range map[float64]float64{0.95: 1.645, 0.99: 2.326, 0.995: 2.576} {
		z, ok := ZScore(c)
		require.True(t, ok)
		assert.Equal(t, want, z)
	}
	_, ok := ZScore(0.9)
	assert.False(t, ok)
}

func TestCalculateVaR_ParametricSinglePosition(t *testing.T) {
	e := New(WithClock(func() time.Time { return asOf }))
	req := Request{
		PortfolioID:     "P1",
		Method:          model.VaRParametric,
		ConfidenceLevel: 0.95,
		HorizonDays:     4,
		Positions:       snapshotOf(equity(1, "AAA", "", 1_000_000, model.Long)),
		Market:          dailyVolMarket("AAA"),
	}
	calc, err := e.CalculateVaR(context.Background(), req)
	require.NoError(t, err)

	sigma := 10_000.0
	assert.InDelta(t, 1.645*sigma*2, calc.VaRAmount.InexactFloat64(), 1e-4)
	wantES := sigma * 2 * distuv.UnitNormal.Prob(1.645) / 0.05
	assert.InDelta(t, wantES, calc.ExpectedShortfall.InexactFloat64(), 1e-4)
	assert.True(t, calc.ExpectedShortfall.GreaterThan(calc.VaRAmount))
	assert.True(t, calc.PortfolioValue.Equal(d(1_000_000)))
	assert.InDelta(t, 3.29, calc.VaRPercentage.InexactFloat64(), 1e-4)
	assert.Equal(t, model.StateComputed, calc.State)
	assert.InDelta(t, 0, calc.DiversificationBenefit.InexactFloat64(), 1e-6)
	assert.InDelta(t, calc.VaRAmount.InexactFloat64(), calc.UndiversifiedVaR.InexactFloat64(), 1e-6)
}

func TestCalculateVaR_UndiversifiedSumsPositions(t *testing.T) {
	mkt := dailyVolMarket("AAA", "BBB")
	mkt.Correlations = map[string]float64{marketdata.PairKey("AAA", "BBB"): 0}
	e := New()
	calc, err := e.CalculateVaR(context.Background(), Request{
		PortfolioID: "P1", Method: model.VaRParametric, ConfidenceLevel: 0.95, HorizonDays: 1,
		Positions: snapshotOf(
			equity(1, "AAA", "", 300_000, model.Long),
			equity(2, "BBB", "", 400_000, model.Long),
		),
		Market: mkt,
	})
	require.NoError(t, err)

	assert.InDelta(t, 1.645*5000, calc.VaRAmount.InexactFloat64(), 1e-4)
	assert.InDelta(t, 1.645*3000+1.645*4000, calc.UndiversifiedVaR.InexactFloat64(), 1e-4)
	assert.InDelta(t, 1.645*2000, calc.DiversificationBenefit.InexactFloat64(), 1e-4)
}

func TestCalculateVaR_HistoricalUndiversifiedAcrossBooks(t *testing.T) {
	aaa := make([]float64, 20)
	bbb := make([]float64, 20)
	aaa[0] = -0.10
	bbb[1] = -0.10
	e := New()
	calc, err := e.CalculateVaR(context.Background(), Request{
		PortfolioID: "P1", Method: model.VaRHistorical, ConfidenceLevel: 0.95, HorizonDays: 1,
		Positions: snapshotOf(
			equity(1, "AAA", "B1", 100_000, model.Long),
			equity(2, "BBB", "B2", 100_000, model.Long),
		),
		Market:            dailyVolMarket(),
		HistoricalReturns: map[string][]float64{"AAA": aaa, "BBB": bbb},
	})
	require.NoError(t, err)

	// Each book alone never reaches its rank-1 loss; their standalone
	// shortfalls of 5000 still cover the combined 10000.
	assert.InDelta(t, 10_000, calc.VaRAmount.InexactFloat64(), 1e-6)
	assert.InDelta(t, 10_000, calc.UndiversifiedVaR.InexactFloat64(), 1e-6)
	assert.False(t, calc.DiversificationBenefit.IsNegative())
}

func TestCalculateVaR_HistoricalGainsOnlyReportsZero(t *testing.T) {
	returns := make([]float64, 20)
	for i := range returns {
		returns[i] = 0.01 + float64(i)/1000
	}
	e := New()
	calc, err := e.CalculateVaR(context.Background(), Request{
		PortfolioID: "P1", Method: model.VaRHistorical, ConfidenceLevel: 0.99, HorizonDays: 1,
		Positions:         snapshotOf(equity(1, "AAA", "", 100_000, model.Long)),
		Market:            dailyVolMarket(),
		HistoricalReturns: map[string][]float64{"AAA": returns},
	})
	require.NoError(t, err)
	assert.True(t, calc.VaRAmount.IsZero(), "var = %s", calc.VaRAmount)
	assert.True(t, calc.ExpectedShortfall.IsZero(), "es = %s", calc.ExpectedShortfall)
	assert.True(t, calc.VaRPercentage.IsZero())
	for b, c := range calc.ComponentVaR {
		assert.True(t, c.IsZero(), "component %s = %s", b, c)
	}
}

func TestCalculateVaR_ParametricSymmetricInDirection(t *testing.T) {
	e := New()
	long, err := e.CalculateVaR(context.Background(), Request{
		PortfolioID: "P1", Method: model.VaRParametric, ConfidenceLevel: 0.99, HorizonDays: 1,
		Positions: snapshotOf(equity(1, "AAA", "", 500_000, model.Long)), Market: dailyVolMarket("AAA"),
	})
	require.NoError(t, err)
	short, err := e.CalculateVaR(context.Background(), Request{
		PortfolioID: "P1", Method: model.VaRParametric, ConfidenceLevel: 0.99, HorizonDays: 1,
		Positions: snapshotOf(equity(1, "AAA", "", 500_000, model.Short)), Market: dailyVolMarket("AAA"),
	})
	require.NoError(t, err)
	assert.True(t, long.VaRAmount.Equal(short.VaRAmount))
}

func TestCalculateVaR_ConfidenceMonotonic(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	mkt := dailyVolMarket("AAA", "BBB")
	mkt.Returns["AAA"] = randomReturns(rng, 250)
	mkt.Returns["BBB"] = randomReturns(rng, 250)
	snap := snapshotOf(
		equity(1, "AAA", "B1", 1_000_000, model.Long),
		equity(2, "BBB", "B1", 400_000, model.Short),
	)

	for _, m := range []model.VaRMethod{model.VaRParametric, model.VaRHistorical, model.VaRMonteCarlo} {
		t.Run(string(m), func(t *testing.T) {
			e := New()
			var prev decimal.Decimal
			for _, c := range []float64{0.95, 0.99, 0.995} {
				calc, err := e.CalculateVaR(context.Background(), Request{
					PortfolioID: "P1", Method: m, ConfidenceLevel: c, HorizonDays: 1,
					Positions: snap, Market: mkt, Simulations: 5000, Seed: 42,
				})
				require.NoError(t, err)
				assert.True(t, calc.VaRAmount.GreaterThanOrEqual(prev), "VaR at %g = %s below %s", c, calc.VaRAmount, prev)
				assert.True(t, calc.ExpectedShortfall.GreaterThanOrEqual(calc.VaRAmount))
				prev = calc.VaRAmount
			}
		})
	}
}

func TestCalculateVaR_HistoricalInsufficientData(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	mkt := dailyVolMarket()
	mkt.Returns["AAA"] = randomReturns(rng, 19)

	e := New()
	_, err := e.CalculateVaR(context.Background(), Request{
		PortfolioID: "P1", Method: model.VaRHistorical, ConfidenceLevel: 0.95, HorizonDays: 1,
		Positions: snapshotOf(equity(1, "AAA", "", 100_000, model.Long)), Market: mkt,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientData))

	_, err = e.LatestCalculation("P1")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound), "failed calculation must not be recorded")
}

func TestCalculateVaR_HistoricalOverrideAndScaling(t *testing.T) {
	returns := make([]float64, 100)
	for i := range returns {
		returns[i] = (float64(i) - 50) / 1000
	}
	e := New()
	base := Request{
		PortfolioID: "P1", Method: model.VaRHistorical, ConfidenceLevel: 0.95, HorizonDays: 1,
		Positions:         snapshotOf(equity(1, "AAA", "", 100_000, model.Long)),
		Market:            dailyVolMarket(),
		HistoricalReturns: map[string][]float64{"AAA": returns},
	}
	one, err := e.CalculateVaR(context.Background(), base)
	require.NoError(t, err)
	// rank 5 return is -0.045
	assert.InDelta(t, 4500, one.VaRAmount.InexactFloat64(), 1e-6)
	assert.Equal(t, 100, one.Observations)

	base.HorizonDays = 9
	nine, err := e.CalculateVaR(context.Background(), base)
	require.NoError(t, err)
	assert.InDelta(t, 13500, nine.VaRAmount.InexactFloat64(), 1e-6)
}

func TestCalculateVaR_MonteCarloSeedReproducible(t *testing.T) {
	mkt := dailyVolMarket("AAA", "BBB")
	mkt.Correlations = map[string]float64{marketdata.PairKey("AAA", "BBB"): 0.5}
	req := Request{
		PortfolioID: "P1", Method: model.VaRMonteCarlo, ConfidenceLevel: 0.99, HorizonDays: 1,
		Positions: snapshotOf(
			equity(1, "AAA", "B1", 1_000_000, model.Long),
			equity(2, "BBB", "B1", 750_000, model.Long),
		),
		Market: mkt, Simulations: 2000, Seed: 1234,
	}
	e := New()
	a, err := e.CalculateVaR(context.Background(), req)
	require.NoError(t, err)
	b, err := e.CalculateVaR(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, uint64(1234), a.Seed)
	assert.Equal(t, 2000, a.Simulations)
	assert.True(t, a.VaRAmount.Equal(b.VaRAmount))
	assert.True(t, a.ExpectedShortfall.Equal(b.ExpectedShortfall))
	assert.NotEqual(t, a.ID, b.ID)

	latest, err := e.LatestCalculation("P1")
	require.NoError(t, err)
	assert.Equal(t, b.ID, latest.ID)
}

func TestCalculateVaR_MonteCarloRandomSeedRecorded(t *testing.T) {
	e := New()
	calc, err := e.CalculateVaR(context.Background(), Request{
		PortfolioID: "P1", Method: model.VaRMonteCarlo, ConfidenceLevel: 0.95, HorizonDays: 1,
		Positions: snapshotOf(equity(1, "AAA", "", 100_000, model.Long)), Market: dailyVolMarket("AAA"),
		Simulations: 500,
	})
	require.NoError(t, err)
	assert.NotZero(t, calc.Seed)
}

func TestCalculateVaR_MonteCarloCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New()
	_, err := e.CalculateVaR(ctx, Request{
		PortfolioID: "P1", Method: model.VaRMonteCarlo, ConfidenceLevel: 0.99, HorizonDays: 1,
		Positions: snapshotOf(equity(1, "AAA", "", 100_000, model.Long)), Market: dailyVolMarket("AAA"),
		Seed: 1,
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, e.Count())
}

type fixedSimulator struct{ m *mat.Dense }

func (f fixedSimulator) Simulate(context.Context, *mat.SymDense, int, uint64) (*mat.Dense, error) {
	return f.m, nil
}

func TestCalculateVaR_PluggableSimulator(t *testing.T) {
	data := make([]float64, 100)
	for i := range data {
		data[i] = (float64(i) - 50) / 1000
	}
	e := New(WithSimulator(fixedSimulator{m: mat.NewDense(100, 1, data)}))
	calc, err := e.CalculateVaR(context.Background(), Request{
		PortfolioID: "P1", Method: model.VaRMonteCarlo, ConfidenceLevel: 0.95, HorizonDays: 1,
		Positions: snapshotOf(equity(1, "AAA", "", 100_000, model.Long)), Market: dailyVolMarket("AAA"),
		Simulations: 100, Seed: 9,
	})
	require.NoError(t, err)
	assert.InDelta(t, 4500, calc.VaRAmount.InexactFloat64(), 1e-6)
}

func TestCalculateVaR_SimulatorShapeMismatch(t *testing.T) {
	e := New(WithSimulator(fixedSimulator{m: mat.NewDense(10, 1, nil)}))
	_, err := e.CalculateVaR(context.Background(), Request{
		PortfolioID: "P1", Method: model.VaRMonteCarlo, ConfidenceLevel: 0.95, HorizonDays: 1,
		Positions: snapshotOf(equity(1, "AAA", "", 100_000, model.Long)), Market: dailyVolMarket("AAA"),
		Simulations: 100,
	})
	assert.ErrorIs(t, err, apperrors.ErrInvariant)
}

func TestCalculateVaR_DiversificationNonNegativeRandomized(t *testing.T) {
	for _, m := range []model.VaRMethod{model.VaRParametric, model.VaRHistorical, model.VaRMonteCarlo} {
		t.Run(string(m), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(2024, 11))
			for trial := 0; trial < 100; trial++ {
				nKeys := 2 + rng.IntN(4)
				nBooks := 1 + rng.IntN(3)
				keys := make([]string, nKeys)
				for i := range keys {
					keys[i] = fmt.Sprintf("K%d", i)
				}
				var ps []model.Position
				for i := 0; i < 3+rng.IntN(8); i++ {
					dir := model.Long
					if rng.IntN(2) == 0 {
						dir = model.Short
					}
					book := fmt.Sprintf("B%d", rng.IntN(nBooks))
					if rng.IntN(4) == 0 {
						book = ""
					}
					ps = append(ps, equity(uint32(i+1), keys[rng.IntN(nKeys)], book,
						float64(1000+rng.IntN(1_000_000)), dir))
				}
				mkt := dailyVolMarket()
				for _, k := range keys {
					mkt.Vols[k] = 0.05 + rng.Float64()*0.6
					mkt.Returns[k] = randomReturns(rng, 60)
				}

				e := New(WithDefaultCorrelation(rng.Float64() * 0.95))
				calc, err := e.CalculateVaR(context.Background(), Request{
					PortfolioID: "P1", Method: m, ConfidenceLevel: 0.99, HorizonDays: 1 + rng.IntN(10),
					Positions: snapshotOf(ps...), Market: mkt, Simulations: 500, Seed: uint64(trial + 1),
				})
				require.NoError(t, err, "trial %d", trial)
				assert.False(t, calc.DiversificationBenefit.IsNegative(), "trial %d benefit %s", trial, calc.DiversificationBenefit)
				assert.False(t, calc.VaRAmount.IsNegative(), "trial %d var %s", trial, calc.VaRAmount)

				sum := decimal.Zero
				for _, c := range calc.ComponentVaR {
					sum = sum.Add(c)
				}
				assert.InDelta(t, calc.VaRAmount.InexactFloat64(), sum.InexactFloat64(), 1e-4*math.Max(1, calc.VaRAmount.InexactFloat64()))
			}
		})
	}
}

func TestCalculateVaR_BookBreakdown(t *testing.T) {
	mkt := dailyVolMarket("AAA", "BBB")
	mkt.Correlations = map[string]float64{marketdata.PairKey("AAA", "BBB"): 0}
	e := New()
	calc, err := e.CalculateVaR(context.Background(), Request{
		PortfolioID: "P1", Method: model.VaRParametric, ConfidenceLevel: 0.95, HorizonDays: 1,
		Positions: snapshotOf(
			equity(1, "AAA", "B1", 300_000, model.Long),
			equity(2, "BBB", "B2", 400_000, model.Long),
		),
		Market: mkt,
	})
	require.NoError(t, err)

	// Independent 3000 and 4000 daily sigmas combine to 5000.
	assert.InDelta(t, 1.645*5000, calc.VaRAmount.InexactFloat64(), 1e-4)
	assert.InDelta(t, 1.645*7000, calc.UndiversifiedVaR.InexactFloat64(), 1e-4)
	assert.InDelta(t, 1.645*3000*3000/5000, calc.ComponentVaR["B1"].InexactFloat64(), 1e-4)
	assert.InDelta(t, 1.645*(5000-4000), calc.IncrementalVaR["B1"].InexactFloat64(), 1e-4)
	assert.InDelta(t, calc.ComponentVaR["B2"].InexactFloat64()/400_000, calc.MarginalVaR["B2"].InexactFloat64(), 1e-8)
}

func TestCalculateVaR_NonPSDCorrelations(t *testing.T) {
	mkt := dailyVolMarket("A", "B", "C")
	mkt.Correlations = map[string]float64{
		marketdata.PairKey("A", "B"): 0.99,
		marketdata.PairKey("B", "C"): 0.99,
		marketdata.PairKey("A", "C"): -0.99,
	}
	e := New()
	_, err := e.CalculateVaR(context.Background(), Request{
		PortfolioID: "P1", Method: model.VaRMonteCarlo, ConfidenceLevel: 0.95, HorizonDays: 1,
		Positions: snapshotOf(
			equity(1, "A", "", 100_000, model.Long),
			equity(2, "B", "", 100_000, model.Long),
			equity(3, "C", "", 100_000, model.Long),
		),
		Market: mkt, Simulations: 200, Seed: 3,
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestCalculateVaR_Validation(t *testing.T) {
	good := Request{
		PortfolioID: "P1", Method: model.VaRParametric, ConfidenceLevel: 0.95, HorizonDays: 1,
		Market: dailyVolMarket(),
	}
	cases := map[string]func(*Request){
		"portfolio_id":     func(r *Request) { r.PortfolioID = "" },
		"method":           func(r *Request) { r.Method = "garch" },
		"confidence_level": func(r *Request) { r.ConfidenceLevel = 0.9 },
		"horizon_days":     func(r *Request) { r.HorizonDays = 0 },
		"market_data":      func(r *Request) { r.Market = nil },
		"simulations":      func(r *Request) { r.Simulations = 5 },
	}
	e := New()
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			r := good
			mutate(&r)
			_, err := e.CalculateVaR(context.Background(), r)
			var ae *apperrors.Error
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, apperrors.ErrValidation, ae.Kind)
			assert.Equal(t, field, ae.Field)
		})
	}
}

func TestCalculateVaR_EmptyPortfolio(t *testing.T) {
	e := New()
	calc, err := e.CalculateVaR(context.Background(), Request{
		PortfolioID: "P1", Method: model.VaRHistorical, ConfidenceLevel: 0.99, HorizonDays: 1,
		Market: dailyVolMarket(),
	})
	require.NoError(t, err)
	assert.True(t, calc.VaRAmount.IsZero())
	assert.True(t, calc.DiversificationBenefit.IsZero())
}
