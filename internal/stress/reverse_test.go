package stress

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/model"
)

func TestRepresentativeShock(t *testing.T) {
	s, ok := RepresentativeShock(model.ShockMap{"default": d(-0.3), "XLF": d(-0.7)})
	require.True(t, ok)
	assert.InDelta(t, -0.3, s, 1e-12)

	s, ok = RepresentativeShock(model.ShockMap{"JPY": d(0.1), "CHF": d(0.3)})
	require.True(t, ok)
	assert.InDelta(t, 0.2, s, 1e-12)

	_, ok = RepresentativeShock(nil)
	assert.False(t, ok)
}

func TestReverseStress_ZeroTargetQualifiesEveryScenario(t *testing.T) {
	e := newEngine()
	snap := snapshotOf(position(1, "AAPL", 100000, model.Long, model.Equity{}))

	rst, err := e.RunReverseStressTest(context.Background(), decimal.Zero, nil, snap, nil)
	require.NoError(t, err)
	assert.True(t, rst.BestEffort)
	assert.Len(t, rst.Candidates, len(Catalog()))
	assert.Equal(t, model.RiskFactors, rst.CandidateFactors)
	// Severity weight alone ranks candidates; the mildest catalog entry is moderate.
	assert.Equal(t, 0.75, rst.PlausibilityScore)
}

func TestReverseStress_RanksByPlausibility(t *testing.T) {
	e := newEngine()
	snap := snapshotOf(position(1, "AAPL", 100000, model.Long, model.Equity{}))

	rst, err := e.RunReverseStressTest(context.Background(), d(40000), []model.RiskFactor{model.FactorEquity}, snap, nil)
	require.NoError(t, err)

	ids := make([]string, len(rst.Candidates))
	for i, c := range rst.Candidates {
		ids[i] = c.ScenarioID
	}
	assert.Equal(t, []string{ScenarioCOVID2020, ScenarioDotCom2000, ScenarioGFC2008}, ids)
	assert.Equal(t, 0.5, rst.Candidates[0].Plausibility)
	assert.Equal(t, 0.4082, rst.Candidates[1].Plausibility)
	assert.Equal(t, 0.2222, rst.Candidates[2].Plausibility)
	assert.Equal(t, 0.5, rst.PlausibilityScore)
	assert.InDelta(t, -34000, rst.Candidates[0].EstimatedImpact.InexactFloat64(), 1e-6)
}

func TestReverseStress_UnreachableTarget(t *testing.T) {
	e := newEngine()
	snap := snapshotOf(position(1, "AAPL", 100000, model.Long, model.Equity{}))

	rst, err := e.RunReverseStressTest(context.Background(), d(10_000_000), nil, snap, nil)
	require.NoError(t, err)
	assert.Empty(t, rst.Candidates)
	assert.Zero(t, rst.PlausibilityScore)
	assert.InDelta(t, 49000, rst.MaxEstimatedImpact.InexactFloat64(), 1e-6)
}

func TestReverseStress_Validation(t *testing.T) {
	e := newEngine()
	snap := snapshotOf()

	_, err := e.RunReverseStressTest(context.Background(), d(-1), nil, snap, nil)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = e.RunReverseStressTest(context.Background(), d(100), []model.RiskFactor{"weather"}, snap, nil)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
