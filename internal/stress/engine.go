// Package stress applies shock scenarios to position snapshots, replays
// historical events and searches for scenarios that reach a target loss.
package stress

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/ledger"
	"github.com/atmx/risk-engine/internal/marketdata"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/sensitivity"
	"github.com/atmx/risk-engine/internal/varengine"
	"github.com/atmx/risk-engine/internal/workpool"
)

const entityStress = "stress_test"

// approxVaRChangeRatio estimates the VaR change as a share of |P&L| when no
// full revaluation is requested.
var approxVaRChangeRatio = decimal.RequireFromString("0.1")

// VaRCalculator prices VaR for a snapshot without recording it.
type VaRCalculator interface {
	Compute(ctx context.Context, req varengine.Request) (model.VaRCalculation, error)
}

// LimitChecker reports the limits a stressed result would breach.
type LimitChecker interface {
	StressBreaches(result model.StressTestResult) []model.LimitBreach
}

// RunOptions tunes a stress run.
type RunOptions struct {
	// FullRevaluation recomputes parametric VaR under the shocked snapshot
	// instead of approximating the change from the P&L impact.
	FullRevaluation bool    `json:"full_revaluation"`
	ConfidenceLevel float64 `json:"confidence_level,omitempty"`

	// CurrentVaR seeds VaRBefore for approximate runs.
	CurrentVaR decimal.Decimal `json:"current_var"`
}

// Engine runs stress tests against scenarios held in its Registry.
type Engine struct {
	reg    *Registry
	sens   *sensitivity.Engine
	vars   VaRCalculator
	limits LimitChecker
	pool   *workpool.Pool

	mu      sync.RWMutex
	results map[string][]model.StressTestResult

	now func() time.Time
	log *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithVaRCalculator enables full revaluation.
func WithVaRCalculator(v VaRCalculator) Option { return func(e *Engine) { e.vars = v } }

// WithLimitChecker reports limit breaches on each result.
func WithLimitChecker(l LimitChecker) Option { return func(e *Engine) { e.limits = l } }

// WithPool sets the worker pool used by RunAllScenarios.
func WithPool(p *workpool.Pool) Option { return func(e *Engine) { e.pool = p } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// New creates an Engine over reg.
func New(reg *Registry, sens *sensitivity.Engine, opts ...Option) *Engine {
	e := &Engine{
		reg:     reg,
		sens:    sens,
		results: make(map[string][]model.StressTestResult),
		now:     func() time.Time { return time.Now().UTC() },
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.pool == nil {
		e.pool = workpool.New(0)
	}
	return e
}

// Registry returns the scenario registry.
func (e *Engine) Registry() *Registry { return e.reg }

// RunStressTest applies an active scenario to a position snapshot and records
// the result, superseding any earlier result for the same scenario and day.
func (e *Engine) RunStressTest(ctx context.Context, scenarioID string, snap ledger.PositionSnapshot,
	mkt *marketdata.Snapshot, opts RunOptions,
) (model.StressTestResult, error) {
	sc, err := e.reg.activeScenario(scenarioID)
	if err != nil {
		return model.StressTestResult{}, err
	}
	res, err := e.run(ctx, sc, snap, mkt, opts)
	if err != nil {
		return model.StressTestResult{}, err
	}
	e.store(res)
	return res, nil
}

// ReplayHistoricalScenario runs a historical scenario from the catalog. Non
// historical scenarios are rejected.
func (e *Engine) ReplayHistoricalScenario(ctx context.Context, scenarioID string, snap ledger.PositionSnapshot,
	mkt *marketdata.Snapshot,
) (model.StressTestResult, error) {
	sc, err := e.reg.activeScenario(scenarioID)
	if err != nil {
		return model.StressTestResult{}, err
	}
	if sc.Type != model.ScenarioHistorical {
		return model.StressTestResult{}, apperrors.Validation(entityScenario, scenarioID, "type", "scenario type %q is not historical", sc.Type)
	}
	res, err := e.run(ctx, sc, snap, mkt, RunOptions{})
	if err != nil {
		return model.StressTestResult{}, err
	}
	e.store(res)
	return res, nil
}

// ScenarioOutcome is one scenario's slot in a batch run.
type ScenarioOutcome struct {
	ScenarioID string                  `json:"scenario_id"`
	Result     *model.StressTestResult `json:"result,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Err        error                   `json:"-"`
}

// RunAllScenarios runs every active scenario on the worker pool. A failing
// scenario is reported in its outcome without stopping the batch. If ctx is
// cancelled nothing is recorded and only ctx.Err() is returned.
func (e *Engine) RunAllScenarios(ctx context.Context, snap ledger.PositionSnapshot, mkt *marketdata.Snapshot,
	opts RunOptions,
) ([]ScenarioOutcome, error) {
	scenarios := e.reg.Scenarios(true)
	results, err := workpool.Map(ctx, e.pool, scenarios, func(ctx context.Context, sc model.StressScenario) (model.StressTestResult, error) {
		return e.run(ctx, sc, snap, mkt, opts)
	})
	if err != nil {
		return nil, err
	}

	out := make([]ScenarioOutcome, len(scenarios))
	for i, r := range results {
		out[i].ScenarioID = scenarios[i].ID
		if r.Err != nil {
			out[i].Err = r.Err
			out[i].Error = r.Err.Error()
			e.log.Warn("stress scenario failed", "scenario", scenarios[i].ID, "portfolio", snap.PortfolioID, "error", r.Err)
			continue
		}
		res := r.Value
		out[i].Result = &res
		e.store(res)
	}
	return out, nil
}

func (e *Engine) run(ctx context.Context, sc model.StressScenario, snap ledger.PositionSnapshot,
	mkt *marketdata.Snapshot, opts RunOptions,
) (model.StressTestResult, error) {
	if mkt == nil {
		mkt = &marketdata.Snapshot{AsOf: e.now()}
	}

	res := model.StressTestResult{
		ID:                  uuid.New().String(),
		ScenarioID:          sc.ID,
		ScenarioName:        sc.Name,
		PortfolioID:         snap.PortfolioID,
		TestDate:            e.now(),
		FullRevaluation:     opts.FullRevaluation,
		FactorContributions: make(map[model.RiskFactor]decimal.Decimal),
		PositionImpacts:     make([]model.PositionImpact, 0, len(snap.Positions)),
		BreachedLimits:      []model.LimitBreach{},
	}

	for _, p := range snap.Positions {
		if err := ctx.Err(); err != nil {
			return model.StressTestResult{}, err
		}
		contrib := e.positionImpact(p, sc, mkt)
		impact := decimal.Zero
		for _, f := range model.RiskFactors {
			c, ok := contrib[f]
			if !ok {
				continue
			}
			impact = impact.Add(c)
			res.FactorContributions[f] = res.FactorContributions[f].Add(c)
		}
		mv := mkt.ToBase(p.SignedMarketValue(), p.Currency)
		res.PortfolioValueBefore = res.PortfolioValueBefore.Add(mv)
		res.PnLImpact = res.PnLImpact.Add(impact)
		res.PositionImpacts = append(res.PositionImpacts, model.PositionImpact{
			PositionID:   p.ID,
			InstrumentID: p.InstrumentID,
			BookID:       p.BookID,
			MarketValue:  mv,
			PnLImpact:    impact,
		})
	}
	res.PortfolioValueAfter = res.PortfolioValueBefore.Add(res.PnLImpact)
	if !res.PortfolioValueBefore.IsZero() {
		res.PnLImpactPercent = res.PnLImpact.Div(res.PortfolioValueBefore.Abs()).Mul(decimal.NewFromInt(100)).Round(4)
	}

	if opts.FullRevaluation {
		if err := e.revalue(ctx, &res, sc, snap, mkt, opts); err != nil {
			return model.StressTestResult{}, err
		}
	} else {
		res.VaRBefore = opts.CurrentVaR
		res.VaRChange = res.PnLImpact.Abs().Mul(approxVaRChangeRatio)
		res.VaRAfter = res.VaRBefore.Add(res.VaRChange)
	}

	if e.limits != nil {
		res.BreachedLimits = append(res.BreachedLimits, e.limits.StressBreaches(res)...)
	}
	return res, nil
}

// positionImpact returns a position's P&L contribution per factor, in the
// base currency. The type switch is exhaustive over instrument variants.
func (e *Engine) positionImpact(p model.Position, sc model.StressScenario, mkt *marketdata.Snapshot) map[model.RiskFactor]decimal.Decimal {
	out := make(map[model.RiskFactor]decimal.Decimal)
	smv := mkt.ToBase(p.SignedMarketValue(), p.Currency)
	add := func(f model.RiskFactor, v decimal.Decimal) {
		out[f] = out[f].Add(v)
	}
	linear := func(f model.RiskFactor, keys ...string) {
		if s, ok := sc.Shocks(f).Lookup(keys...); ok {
			add(f, smv.Mul(s))
		}
	}

	in := p.Instrument
	if in == nil {
		in, _ = model.DefaultInstrument(p.AssetClass)
	}

	switch v := in.(type) {
	case model.Equity:
		linear(model.FactorEquity, p.InstrumentID, p.Currency)
	case model.Alternative:
		linear(model.FactorEquity, p.InstrumentID, v.Strategy, p.Currency)
	case model.Commodity:
		linear(model.FactorCommodity, p.InstrumentID, v.Underlying)
	case model.FX:
		linear(model.FactorFX, p.InstrumentID, v.Pair(), v.BaseCurrency, p.Currency)
	case model.FixedIncome:
		if dr, ok := sc.RateShocks.Lookup(p.InstrumentID, p.Currency); ok {
			add(model.FactorRates, smv.Mul(v.ModifiedDuration).Mul(dr).Neg())
		}
		if ds, ok := sc.CreditShocks.Lookup(p.InstrumentID, p.Currency); ok {
			csd := v.CreditSpreadDuration
			if csd.IsZero() {
				csd = v.ModifiedDuration
			}
			add(model.FactorCredit, smv.Mul(csd).Mul(ds).Neg())
		}
	case model.Option:
		f := sensitivity.UnderlyingFactor(v)
		prof := e.sens.InstrumentExposure(p, mkt)
		fx := mkt.ToBase(decimal.NewFromInt(1), p.Currency).InexactFloat64()
		if s, ok := sc.Shocks(f).Lookup(p.InstrumentID, v.Underlying, p.Currency); ok {
			add(f, model.Amount(prof[f].PnL(s.InexactFloat64())*fx))
		}
		if s, ok := sc.VolShocks.Lookup(p.InstrumentID, v.Underlying); ok {
			add(model.FactorVol, model.Amount(prof[model.FactorVol].PnL(s.InexactFloat64())*fx))
		}
	}

	if _, isFX := in.(model.FX); !isFX && p.Currency != "" && p.Currency != e.sens.BaseCurrency() {
		if s, ok := sc.FXShocks.Lookup(p.Currency); ok {
			add(model.FactorFX, smv.Mul(s))
		}
	}
	return out
}

// revalue prices parametric VaR before and after the scenario. The shocked
// snapshot moves each position's market value by its impact and scales spots
// and vols by the scenario's relative shocks.
func (e *Engine) revalue(ctx context.Context, res *model.StressTestResult, sc model.StressScenario,
	snap ledger.PositionSnapshot, mkt *marketdata.Snapshot, opts RunOptions,
) error {
	if e.vars == nil {
		return apperrors.Validation(entityStress, sc.ID, "full_revaluation", "full revaluation is not configured")
	}
	conf := opts.ConfidenceLevel
	if conf == 0 {
		conf = 0.99
	}
	req := varengine.Request{
		PortfolioID:     snap.PortfolioID,
		Method:          model.VaRParametric,
		ConfidenceLevel: conf,
		HorizonDays:     1,
		Positions:       snap,
		Market:          mkt,
	}
	before, err := e.vars.Compute(ctx, req)
	if err != nil {
		return err
	}

	req.Positions = shockPositions(snap, res.PositionImpacts, mkt)
	req.Market = shockMarket(mkt, sc, snap)
	after, err := e.vars.Compute(ctx, req)
	if err != nil {
		return err
	}

	res.VaRBefore = before.VaRAmount
	res.VaRAfter = after.VaRAmount
	res.VaRChange = after.VaRAmount.Sub(before.VaRAmount)
	return nil
}

func shockPositions(snap ledger.PositionSnapshot, impacts []model.PositionImpact, mkt *marketdata.Snapshot) ledger.PositionSnapshot {
	out := snap
	out.Positions = make([]model.Position, len(snap.Positions))
	for i, p := range snap.Positions {
		fx := mkt.ToBase(decimal.NewFromInt(1), p.Currency)
		move := impacts[i].PnLImpact.Div(fx).Mul(p.Direction.Sign())
		p.MarketValue = p.MarketValue.Add(move)
		if p.MarketValue.IsNegative() {
			p.MarketValue = decimal.Zero
		}
		if !p.Quantity.IsZero() {
			p.CurrentPrice = p.MarketValue.Div(p.Quantity)
		}
		out.Positions[i] = p
	}
	return out
}

func shockMarket(mkt *marketdata.Snapshot, sc model.StressScenario, snap ledger.PositionSnapshot) *marketdata.Snapshot {
	m := mkt.Clone()
	one := decimal.NewFromInt(1)
	factors := make(map[string]model.RiskFactor)
	for _, p := range snap.Positions {
		switch v := p.Instrument.(type) {
		case model.Option:
			factors[v.Underlying] = sensitivity.UnderlyingFactor(v)
		case model.Commodity:
			factors[p.Underlying()] = model.FactorCommodity
		case model.FX:
			factors[p.InstrumentID] = model.FactorFX
		case model.Equity, model.Alternative:
			factors[p.InstrumentID] = model.FactorEquity
		}
	}
	for k, f := range factors {
		spot, ok := m.Spots[k]
		if !ok {
			continue
		}
		if s, ok := sc.Shocks(f).Lookup(k); ok {
			m.Spots[k] = spot.Mul(one.Add(s))
		}
	}
	for k, v := range m.Vols {
		if s, ok := sc.VolShocks.Lookup(k); ok {
			m.Vols[k] = v * (1 + s.InexactFloat64())
		}
	}
	return m
}

func (e *Engine) store(res model.StressTestResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	day := res.TestDate.Truncate(24 * time.Hour)
	list := e.results[res.PortfolioID]
	for i, r := range list {
		if r.ScenarioID == res.ScenarioID && r.TestDate.Truncate(24*time.Hour).Equal(day) {
			list[i] = res
			return
		}
	}
	e.results[res.PortfolioID] = append(list, res)
	e.log.Info("stress test recorded",
		"scenario", res.ScenarioID,
		"portfolio", res.PortfolioID,
		"pnl_impact", res.PnLImpact.String(),
	)
}

// Results returns a portfolio's recorded stress results, newest first.
func (e *Engine) Results(portfolioID string) []model.StressTestResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := append([]model.StressTestResult(nil), e.results[portfolioID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TestDate.After(out[j].TestDate) })
	return out
}

// Count returns the number of recorded results.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, l := range e.results {
		n += len(l)
	}
	return n
}

