package stress

import (
	"context"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/ledger"
	"github.com/atmx/risk-engine/internal/marketdata"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/sensitivity"
)

const entityReverse = "reverse_stress_test"

// qualifyingRatio is the share of the target loss a scenario must reach.
const qualifyingRatio = 0.8

var severityWeight = map[model.Severity]float64{
	model.SeverityMild:     1.0,
	model.SeverityModerate: 0.75,
	model.SeveritySevere:   0.5,
	model.SeverityExtreme:  0.25,
}

// RepresentativeShock collapses a shock map to one number: the default shock
// when present, otherwise the mean of its entries.
func RepresentativeShock(m model.ShockMap) (float64, bool) {
	if s, ok := m[model.DefaultShockKey]; ok {
		return s.InexactFloat64(), true
	}
	if len(m) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, s := range m {
		sum += s.InexactFloat64()
	}
	return sum / float64(len(m)), true
}

// EstimateImpact applies a scenario's representative shocks for the given
// factors to an exposure profile.
func EstimateImpact(prof sensitivity.Profile, sc model.StressScenario, factors []model.RiskFactor) float64 {
	impact := 0.0
	for _, f := range factors {
		if s, ok := RepresentativeShock(sc.Shocks(f)); ok {
			impact += prof[f].PnL(s)
		}
	}
	return impact
}

// RunReverseStressTest searches known scenarios for those whose estimated
// impact reaches at least 80% of targetLoss. It is a heuristic screen over the
// registry, not an optimizer, so the result is always flagged best-effort. A
// zero target lets every scenario qualify.
func (e *Engine) RunReverseStressTest(ctx context.Context, targetLoss decimal.Decimal, factors []model.RiskFactor,
	snap ledger.PositionSnapshot, mkt *marketdata.Snapshot,
) (model.ReverseStressTest, error) {
	pid := snap.PortfolioID
	if targetLoss.IsNegative() {
		return model.ReverseStressTest{}, apperrors.Validation(entityReverse, pid, "target_loss", "target loss must not be negative")
	}
	if len(factors) == 0 {
		factors = model.RiskFactors
	}
	for _, f := range factors {
		if !f.Valid() {
			return model.ReverseStressTest{}, apperrors.Validation(entityReverse, pid, "candidate_factors", "unknown risk factor %q", f)
		}
	}
	if mkt == nil {
		mkt = &marketdata.Snapshot{AsOf: e.now()}
	}

	prof := e.sens.ExposureProfile(snap.Positions, mkt)
	target := targetLoss.InexactFloat64()

	rst := model.ReverseStressTest{
		ID:               uuid.New().String(),
		PortfolioID:      pid,
		TargetLoss:       targetLoss,
		CandidateFactors: factors,
		Candidates:       []model.ReverseCandidate{},
		BestEffort:       true,
		CalculatedAt:     e.now(),
	}

	maxImpact := 0.0
	for _, sc := range e.reg.Scenarios(false) {
		if err := ctx.Err(); err != nil {
			return model.ReverseStressTest{}, err
		}
		impact := EstimateImpact(prof, sc, factors)
		maxImpact = math.Max(maxImpact, math.Abs(impact))
		if math.Abs(impact) < qualifyingRatio*target {
			continue
		}
		rst.Candidates = append(rst.Candidates, model.ReverseCandidate{
			ScenarioID:      sc.ID,
			ScenarioName:    sc.Name,
			Severity:        sc.Severity,
			EstimatedImpact: model.Amount(impact),
			Plausibility:    plausibility(sc.Severity, impact, target),
		})
	}

	sort.SliceStable(rst.Candidates, func(i, j int) bool {
		return rst.Candidates[i].Plausibility > rst.Candidates[j].Plausibility
	})
	rst.MaxEstimatedImpact = model.Amount(maxImpact)
	if len(rst.Candidates) > 0 {
		rst.PlausibilityScore = rst.Candidates[0].Plausibility
	}

	e.log.Info("reverse stress test completed",
		"portfolio", pid,
		"target", targetLoss.String(),
		"candidates", len(rst.Candidates),
	)
	return rst, nil
}

// plausibility favours milder scenarios whose impact lands close to the
// target rather than far beyond it.
func plausibility(sev model.Severity, impact, target float64) float64 {
	w, ok := severityWeight[sev]
	if !ok {
		w = 0.5
	}
	closeness := 1.0
	if a := math.Abs(impact); target > 0 && a > target {
		closeness = target / a
	}
	return math.Round(w*closeness*10000) / 10000
}
