// Package sensitivity computes per-position risk-factor sensitivities (option
// greeks, DV01, FX and equity deltas) and folds them to portfolio level.
package sensitivity

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/arena"
	"github.com/atmx/risk-engine/internal/marketdata"
	"github.com/atmx/risk-engine/internal/model"
)

const entityGreeks = "greeks"

// Engine computes greeks and keeps the latest calculation per position and
// date.
type Engine struct {
	mu      sync.RWMutex
	history map[arena.ID][]model.GreeksCalculation

	baseCurrency string
	now          func() time.Time
	log          *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithBaseCurrency sets the reporting currency used for FX exposure.
func WithBaseCurrency(ccy string) Option { return func(e *Engine) { e.baseCurrency = ccy } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		history:      make(map[arena.ID][]model.GreeksCalculation),
		baseCurrency: "USD",
		now:          func() time.Time { return time.Now().UTC() },
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// BaseCurrency returns the reporting currency.
func (e *Engine) BaseCurrency() string { return e.baseCurrency }

// CalculateGreeks computes position-level Black-Scholes greeks for an option
// position as of snap.AsOf and records the result, superseding any earlier
// calculation for the same position and date.
func (e *Engine) CalculateGreeks(_ context.Context, p model.Position, snap *marketdata.Snapshot) (model.GreeksCalculation, error) {
	calc, err := e.compute(p, snap)
	if err != nil {
		return model.GreeksCalculation{}, err
	}
	e.record(calc)
	return calc, nil
}

func (e *Engine) compute(p model.Position, snap *marketdata.Snapshot) (model.GreeksCalculation, error) {
	id := p.ID.String()
	opt, ok := p.Instrument.(model.Option)
	if !ok {
		return model.GreeksCalculation{}, apperrors.Validation(entityGreeks, id, "asset_class", "greeks require an option position, got %s", p.AssetClass)
	}

	vol := opt.ImpliedVol
	if vol == 0 {
		vol, _ = snap.Vol(p.InstrumentID)
	}
	if vol <= 0 {
		return model.GreeksCalculation{}, apperrors.Validation(entityGreeks, id, "implied_vol", "implied volatility must be positive, got %g", vol)
	}

	T := yearsBetween(snap.AsOf, opt.Expiry)
	if T < 0 {
		return model.GreeksCalculation{}, apperrors.Validation(entityGreeks, id, "time_to_expiry", "option expired %s before as-of %s",
			opt.Expiry.Format(time.DateOnly), snap.AsOf.Format(time.DateOnly))
	}
	T = math.Max(T, MinTimeToExpiry)

	spotD, ok := snap.Spot(opt.Underlying)
	if !ok || !spotD.IsPositive() {
		return model.GreeksCalculation{}, apperrors.Validation(entityGreeks, id, "spot", "no positive spot for underlying %q", opt.Underlying)
	}
	spot := spotD.InexactFloat64()

	g := BlackScholes(BSInputs{
		Spot:   spot,
		Strike: opt.Strike.InexactFloat64(),
		T:      T,
		Rate:   snap.Rate(p.Currency, T),
		Vol:    vol,
		Type:   opt.Type,
	})

	q := p.SignedQuantity().Mul(opt.ContractMultiplier()).InexactFloat64()
	return model.GreeksCalculation{
		ID:           uuid.New().String(),
		PositionID:   p.ID,
		PortfolioID:  p.PortfolioID,
		Underlying:   opt.Underlying,
		Expiry:       opt.Expiry,
		AsOf:         snap.AsOf,
		Spot:         spotD,
		TimeToExpiry: T,
		Delta:        model.Amount(g.Delta * q),
		Gamma:        model.Amount(g.Gamma * q),
		Theta:        model.Amount(g.Theta * q),
		Vega:         model.Amount(g.Vega * q),
		Rho:          model.Amount(g.Rho * q),
		DollarDelta:  model.Amount(g.Delta * q * spot),
		DollarGamma:  model.Amount(0.5 * g.Gamma * q * spot * spot * 0.0001),
		DollarVega:   model.Amount(g.Vega * q),
		DollarTheta:  model.Amount(g.Theta * q),
		CalculatedAt: e.now(),
	}, nil
}

func (e *Engine) record(c model.GreeksCalculation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.history[c.PositionID]
	day := c.AsOf.Truncate(24 * time.Hour)
	for i := range h {
		if h[i].AsOf.Truncate(24 * time.Hour).Equal(day) {
			h[i] = c
			return
		}
	}
	e.history[c.PositionID] = append(h, c)
}

// GreeksHistory returns the recorded calculations of a position, oldest
// first.
func (e *Engine) GreeksHistory(positionID arena.ID) []model.GreeksCalculation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	h := append([]model.GreeksCalculation(nil), e.history[positionID]...)
	sort.Slice(h, func(i, j int) bool { return h[i].AsOf.Before(h[j].AsOf) })
	return h
}

// PortfolioGreeks computes greeks for every option in positions and folds
// them. Options already expired at snap.AsOf contribute zero greeks to the
// "expired" bucket. Other positions contribute their scalar sensitivity.
func (e *Engine) PortfolioGreeks(ctx context.Context, portfolioID string, positions []model.Position, snap *marketdata.Snapshot) (model.PortfolioGreeks, error) {
	calcs := make([]model.GreeksCalculation, 0, len(positions))
	var scalars []model.ScalarSensitivity
	for _, p := range positions {
		if err := ctx.Err(); err != nil {
			return model.PortfolioGreeks{}, err
		}
		opt, ok := p.Instrument.(model.Option)
		if !ok {
			f, v := ScalarSensitivity(p)
			scalars = append(scalars, model.ScalarSensitivity{
				PositionID: p.ID, InstrumentID: p.InstrumentID, Factor: f, Value: v,
			})
			continue
		}
		if opt.Expiry.Before(snap.AsOf) {
			calcs = append(calcs, model.GreeksCalculation{
				PositionID: p.ID, PortfolioID: p.PortfolioID, Underlying: opt.Underlying,
				Expiry: opt.Expiry, AsOf: snap.AsOf, CalculatedAt: e.now(),
			})
			continue
		}
		c, err := e.compute(p, snap)
		if err != nil {
			return model.PortfolioGreeks{}, err
		}
		calcs = append(calcs, c)
	}
	for _, c := range calcs {
		if c.ID != "" {
			e.record(c)
		}
	}
	pg := AggregatePortfolioGreeks(portfolioID, snap.AsOf, calcs)
	AddScalars(&pg, scalars)
	return pg, nil
}

// AddScalars folds scalar sensitivities into the per-factor totals.
func AddScalars(pg *model.PortfolioGreeks, scalars []model.ScalarSensitivity) {
	for _, s := range scalars {
		switch s.Factor {
		case model.FactorRates:
			pg.TotalDV01 = pg.TotalDV01.Add(s.Value)
		case model.FactorFX:
			pg.TotalFXDelta = pg.TotalFXDelta.Add(s.Value)
		case model.FactorCommodity:
			pg.TotalCommodityDelta = pg.TotalCommodityDelta.Add(s.Value)
		default:
			pg.TotalBetaExposure = pg.TotalBetaExposure.Add(s.Value)
		}
	}
	pg.Scalars = append(pg.Scalars, scalars...)
}

// AggregatePortfolioGreeks sums calcs into portfolio totals with breakdowns by
// underlying and expiry bucket. It is a pure fold over calcs.
func AggregatePortfolioGreeks(portfolioID string, asOf time.Time, calcs []model.GreeksCalculation) model.PortfolioGreeks {
	pg := model.PortfolioGreeks{
		PortfolioID:   portfolioID,
		AsOf:          asOf,
		PositionCount: len(calcs),
		ByUnderlying:  make(map[string]model.GreeksBucket),
		ByExpiry:      make(map[string]model.GreeksBucket),
		Calculations:  calcs,
	}
	for _, c := range calcs {
		pg.TotalDelta = pg.TotalDelta.Add(c.Delta)
		pg.TotalGamma = pg.TotalGamma.Add(c.Gamma)
		pg.TotalTheta = pg.TotalTheta.Add(c.Theta)
		pg.TotalVega = pg.TotalVega.Add(c.Vega)
		pg.TotalRho = pg.TotalRho.Add(c.Rho)
		pg.NetDollarDelta = pg.NetDollarDelta.Add(c.DollarDelta)
		pg.GrossDollarDelta = pg.GrossDollarDelta.Add(c.DollarDelta.Abs())
		pg.NetDollarGamma = pg.NetDollarGamma.Add(c.DollarGamma)
		pg.NetDollarVega = pg.NetDollarVega.Add(c.DollarVega)
		pg.NetDollarTheta = pg.NetDollarTheta.Add(c.DollarTheta)

		pg.ByUnderlying[c.Underlying] = addGreeks(pg.ByUnderlying[c.Underlying], c)
		b := ExpiryBucket(asOf, c.Expiry)
		pg.ByExpiry[b] = addGreeks(pg.ByExpiry[b], c)
	}
	return pg
}

func addGreeks(b model.GreeksBucket, c model.GreeksCalculation) model.GreeksBucket {
	b.PositionCount++
	b.Delta = b.Delta.Add(c.Delta)
	b.Gamma = b.Gamma.Add(c.Gamma)
	b.Theta = b.Theta.Add(c.Theta)
	b.Vega = b.Vega.Add(c.Vega)
	b.Rho = b.Rho.Add(c.Rho)
	b.DollarDelta = b.DollarDelta.Add(c.DollarDelta)
	return b
}

// Expiry bucket labels.
const (
	BucketExpired = "expired"
	Bucket0To1M   = "0-1M"
	Bucket1To3M   = "1-3M"
	Bucket3To6M   = "3-6M"
	Bucket6To12M  = "6-12M"
	BucketOver1Y  = "1Y+"
)

// ExpiryBucket classifies an expiry by calendar days remaining: up to 30,
// 91, 182 and 365 days, then 1Y+.
func ExpiryBucket(asOf, expiry time.Time) string {
	days := expiry.Sub(asOf).Hours() / 24
	switch {
	case days < 0:
		return BucketExpired
	case days <= 30:
		return Bucket0To1M
	case days <= 91:
		return Bucket1To3M
	case days <= 182:
		return Bucket3To6M
	case days <= 365:
		return Bucket6To12M
	}
	return BucketOver1Y
}

func yearsBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24 / 365
}

