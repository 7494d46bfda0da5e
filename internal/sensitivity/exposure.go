package sensitivity

import (
	"context"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/marketdata"
	"github.com/atmx/risk-engine/internal/model"
)

// FactorExposure is the P&L response to a factor shock s:
// P&L(s) = Delta·s + ½·Gamma·s². Equity, FX, commodity and vol shocks are
// relative moves; ir and credit shocks are absolute rate changes.
type FactorExposure struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
}

// PnL returns the second-order P&L for shock s.
func (f FactorExposure) PnL(s float64) float64 {
	return f.Delta*s + 0.5*f.Gamma*s*s
}

// Profile is a set of factor exposures.
type Profile map[model.RiskFactor]FactorExposure

func (p Profile) add(f model.RiskFactor, delta, gamma float64) {
	x := p[f]
	x.Delta += delta
	x.Gamma += gamma
	p[f] = x
}

// PnL returns the P&L of applying shocks factor by factor.
func (p Profile) PnL(shocks map[model.RiskFactor]float64) float64 {
	total := 0.0
	for f, s := range shocks {
		total += p[f].PnL(s)
	}
	return total
}

// PositionExposure returns the factor exposures of one position, including
// the FX translation exposure of positions held outside the base currency.
func (e *Engine) PositionExposure(p model.Position, snap *marketdata.Snapshot) Profile {
	prof := e.InstrumentExposure(p, snap)
	if _, isFX := p.Instrument.(model.FX); !isFX && p.Currency != "" && p.Currency != e.baseCurrency {
		prof.add(model.FactorFX, p.SignedMarketValue().InexactFloat64(), 0)
	}
	return prof
}

// InstrumentExposure returns the exposures a position carries through its
// instrument alone. Options use Black-Scholes delta, gamma, vega and rho; when
// the option cannot be priced from snap its market value is treated as a
// delta-one exposure to the underlying.
func (e *Engine) InstrumentExposure(p model.Position, snap *marketdata.Snapshot) Profile {
	prof := make(Profile)
	smv := p.SignedMarketValue().InexactFloat64()

	in := p.Instrument
	if in == nil {
		in, _ = model.DefaultInstrument(p.AssetClass)
	}

	switch v := in.(type) {
	case model.Equity:
		prof.add(model.FactorEquity, smv*betaOrOne(v.Beta), 0)
	case model.Alternative:
		prof.add(model.FactorEquity, smv*betaOrOne(v.Beta), 0)
	case model.FixedIncome:
		dur := v.ModifiedDuration.InexactFloat64()
		prof.add(model.FactorRates, -dur*smv, v.Convexity.InexactFloat64()*smv)
		csd := v.CreditSpreadDuration.InexactFloat64()
		if csd == 0 {
			csd = dur
		}
		prof.add(model.FactorCredit, -csd*smv, 0)
	case model.FX:
		prof.add(model.FactorFX, smv, 0)
	case model.Commodity:
		prof.add(model.FactorCommodity, smv, 0)
	case model.Option:
		factor := UnderlyingFactor(v)
		c, err := e.compute(p, snap)
		if err != nil {
			prof.add(factor, smv, 0)
			break
		}
		S := c.Spot.InexactFloat64()
		vol := v.ImpliedVol
		if vol == 0 {
			vol, _ = snap.Vol(p.InstrumentID)
		}
		prof.add(factor, c.Delta.InexactFloat64()*S, c.Gamma.InexactFloat64()*S*S)
		prof.add(model.FactorVol, c.Vega.InexactFloat64()*100*vol, 0)
		prof.add(model.FactorRates, c.Rho.InexactFloat64()*100, 0)
	}
	return prof
}

// ExposureProfile sums the factor exposures of positions.
func (e *Engine) ExposureProfile(positions []model.Position, snap *marketdata.Snapshot) Profile {
	total := make(Profile)
	for _, p := range positions {
		for f, x := range e.PositionExposure(p, snap) {
			total.add(f, x.Delta, x.Gamma)
		}
	}
	return total
}

// DeltaEquivalent returns the signed first-order exposure of p to its own
// underlying, in the position currency: Δ·q·S for a priceable option and the
// signed market value otherwise.
func (e *Engine) DeltaEquivalent(p model.Position, snap *marketdata.Snapshot) float64 {
	if _, ok := p.Instrument.(model.Option); ok {
		if c, err := e.compute(p, snap); err == nil {
			return c.Delta.InexactFloat64() * c.Spot.InexactFloat64()
		}
	}
	return p.SignedMarketValue().InexactFloat64()
}

// UnderlyingFactor maps an option's underlying class to its risk factor.
func UnderlyingFactor(o model.Option) model.RiskFactor {
	switch o.UnderlyingClass {
	case model.AssetCommodity:
		return model.FactorCommodity
	case model.AssetFX:
		return model.FactorFX
	case model.AssetFixedIncome:
		return model.FactorRates
	}
	return model.FactorEquity
}

func betaOrOne(b decimal.Decimal) float64 {
	if b.IsZero() {
		return 1
	}
	return b.InexactFloat64()
}

var tenThousand = decimal.NewFromInt(10000)

// DV01 is the P&L of a one basis point rate rise: -duration × MV / 10,000,
// signed by direction. Non rate instruments return zero.
func DV01(p model.Position) decimal.Decimal {
	fi, ok := p.Instrument.(model.FixedIncome)
	if !ok {
		return decimal.Zero
	}
	return fi.ModifiedDuration.Mul(p.SignedMarketValue()).Div(tenThousand).Neg()
}

// FXDelta is the signed base-currency notional of an FX position.
func FXDelta(p model.Position) decimal.Decimal {
	fx, ok := p.Instrument.(model.FX)
	if !ok {
		return decimal.Zero
	}
	if !fx.Notional.IsZero() {
		return fx.Notional.Mul(p.Direction.Sign())
	}
	return p.SignedMarketValue()
}

// BetaExposure is the signed market value scaled by beta.
func BetaExposure(p model.Position) decimal.Decimal {
	var beta decimal.Decimal
	switch v := p.Instrument.(type) {
	case model.Equity:
		beta = v.Beta
	case model.Alternative:
		beta = v.Beta
	default:
		return decimal.Zero
	}
	if beta.IsZero() {
		beta = decimal.NewFromInt(1)
	}
	return p.SignedMarketValue().Mul(beta)
}

// ScalarSensitivity returns the headline sensitivity of a non-option position
// and the factor it loads on. Options report their signed market value as a
// delta-one placeholder; use CalculateGreeks for their true delta.
func ScalarSensitivity(p model.Position) (model.RiskFactor, decimal.Decimal) {
	switch v := p.Instrument.(type) {
	case model.Equity, model.Alternative:
		return model.FactorEquity, BetaExposure(p)
	case model.FixedIncome:
		return model.FactorRates, DV01(p)
	case model.FX:
		return model.FactorFX, FXDelta(p)
	case model.Commodity:
		return model.FactorCommodity, p.SignedMarketValue()
	case model.Option:
		return UnderlyingFactor(v), p.SignedMarketValue()
	}
	return model.FactorEquity, p.SignedMarketValue()
}

// RunSensitivityAnalysis computes the portfolio P&L at each shock size for one
// factor using the delta-gamma expansion. Sensitivity is the first difference
// across the two shocks nearest zero and convexity the second difference over
// the three consecutive shocks centred nearest zero. Fewer than two distinct
// shocks yield zero sensitivity and fewer than three zero convexity, flagged
// Degenerate.
func (e *Engine) RunSensitivityAnalysis(ctx context.Context, portfolioID string, factor model.RiskFactor,
	shocks []decimal.Decimal, positions []model.Position, snap *marketdata.Snapshot,
) (model.SensitivityAnalysis, error) {
	if !factor.Valid() {
		return model.SensitivityAnalysis{}, apperrors.Validation("sensitivity_analysis", portfolioID, "risk_factor", "unknown risk factor %q", factor)
	}
	if err := ctx.Err(); err != nil {
		return model.SensitivityAnalysis{}, err
	}

	exp := e.ExposureProfile(positions, snap)[factor]

	sizes := dedupeSorted(shocks)
	points := make([]model.SensitivityPoint, len(sizes))
	for i, s := range sizes {
		points[i] = model.SensitivityPoint{ShockSize: s, PnLImpact: model.Amount(exp.PnL(s.InexactFloat64()))}
	}

	sa := model.SensitivityAnalysis{
		ID:           uuid.New().String(),
		PortfolioID:  portfolioID,
		RiskFactor:   factor,
		Points:       points,
		Sensitivity:  decimal.Zero,
		Convexity:    decimal.Zero,
		CalculatedAt: e.now(),
	}
	switch {
	case len(points) < 2:
		sa.Degenerate = true
		sa.DegenerateReason = "need at least 2 distinct shock sizes for sensitivity"
		return sa, nil
	case len(points) == 2:
		sa.Degenerate = true
		sa.DegenerateReason = "need at least 3 distinct shock sizes for convexity"
	}

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.ShockSize.InexactFloat64()
		ys[i] = p.PnLImpact.InexactFloat64()
	}

	i, j := nearestZeroPair(xs)
	sa.Sensitivity = model.Amount((ys[j] - ys[i]) / (xs[j] - xs[i]))

	if len(points) >= 3 {
		c := nearestZeroCentre(xs)
		x0, x1, x2 := xs[c-1], xs[c], xs[c+1]
		y0, y1, y2 := ys[c-1], ys[c], ys[c+1]
		sa.Convexity = model.Amount(2 * ((y2-y1)/(x2-x1) - (y1-y0)/(x1-x0)) / (x2 - x0))
	}
	return sa, nil
}

func dedupeSorted(in []decimal.Decimal) []decimal.Decimal {
	out := append([]decimal.Decimal(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })
	n := 0
	for i, s := range out {
		if i > 0 && s.Equal(out[n-1]) {
			continue
		}
		out[n] = s
		n++
	}
	return out[:n]
}

// nearestZeroPair returns the indices, ascending, of the two shocks with the
// smallest magnitude.
func nearestZeroPair(xs []float64) (int, int) {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return math.Abs(xs[idx[a]]) < math.Abs(xs[idx[b]]) })
	i, j := idx[0], idx[1]
	if i > j {
		i, j = j, i
	}
	return i, j
}

// nearestZeroCentre returns the interior index whose shock is closest to zero.
func nearestZeroCentre(xs []float64) int {
	best := 1
	for i := 2; i < len(xs)-1; i++ {
		if math.Abs(xs[i]) < math.Abs(xs[best]) {
			best = i
		}
	}
	return best
}
