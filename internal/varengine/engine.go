// Package varengine computes portfolio Value-at-Risk under parametric,
// historical and Monte Carlo methodologies, and backtests VaR forecasts
// against realized P&L.
package varengine

import (
	"context"
	"log/slog"
	"math"
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
)

const (
	entityVaR       = "var_calculation"
	entityBacktest  = "var_backtest"
	entityException = "var_exception"
)

// Defaults applied when a request leaves the corresponding field empty.
const (
	DefaultMinObservations   = 20
	DefaultSimulations       = 10000
	DefaultCorrelation       = 0.3
	MinSimulations           = 100
	invariantRelativeEpsilon = 1e-9
)

var zTable = []struct{ confidence, z float64 }{
	{0.95, 1.645},
	{0.99, 2.326},
	{0.995, 2.576},
}

// ZScore returns the one-sided normal quantile for a supported confidence
// level.
func ZScore(confidence float64) (float64, bool) {
	for _, e := range zTable {
		if math.Abs(confidence-e.confidence) < 1e-9 {
			return e.z, true
		}
	}
	return 0, false
}

// Request describes one VaR calculation.
type Request struct {
	PortfolioID     string                  `json:"portfolio_id"`
	Method          model.VaRMethod         `json:"method"`
	ConfidenceLevel float64                 `json:"confidence_level"`
	HorizonDays     int                     `json:"horizon_days"`
	Positions       ledger.PositionSnapshot `json:"-"`
	Market          *marketdata.Snapshot    `json:"-"`

	// HistoricalReturns overrides the snapshot return history per risk key
	// (instrument id or underlying), oldest first.
	HistoricalReturns map[string][]float64 `json:"historical_returns,omitempty"`

	// Simulations and Seed apply to Monte Carlo. Zero selects the engine
	// default and a random seed respectively.
	Simulations int    `json:"simulations,omitempty"`
	Seed        uint64 `json:"seed,omitempty"`
}

// Engine computes VaR and keeps its calculations, exceptions and backtests.
type Engine struct {
	mu         sync.RWMutex
	calcs      map[string]model.VaRCalculation
	latest     map[string]string
	exceptions map[string][]model.VaRException
	backtests  map[string][]model.VaRBacktest

	sens            *sensitivity.Engine
	sim             Simulator
	defaultCorr     float64
	minObservations int
	simulations     int
	now             func() time.Time
	log             *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSensitivity sets the engine used to delta-adjust option exposures.
func WithSensitivity(s *sensitivity.Engine) Option { return func(e *Engine) { e.sens = s } }

// WithSimulator replaces the Monte Carlo simulator.
func WithSimulator(s Simulator) Option { return func(e *Engine) { e.sim = s } }

// WithDefaultCorrelation sets the correlation assumed for unquoted pairs.
func WithDefaultCorrelation(c float64) Option { return func(e *Engine) { e.defaultCorr = c } }

// WithMinObservations sets the minimum history length for historical VaR.
func WithMinObservations(n int) Option { return func(e *Engine) { e.minObservations = n } }

// WithSimulations sets the default Monte Carlo path count.
func WithSimulations(n int) Option { return func(e *Engine) { e.simulations = n } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		calcs:           make(map[string]model.VaRCalculation),
		latest:          make(map[string]string),
		exceptions:      make(map[string][]model.VaRException),
		backtests:       make(map[string][]model.VaRBacktest),
		sim:             GaussianSimulator{},
		defaultCorr:     DefaultCorrelation,
		minObservations: DefaultMinObservations,
		simulations:     DefaultSimulations,
		now:             func() time.Time { return time.Now().UTC() },
		log:             slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.sens == nil {
		e.sens = sensitivity.New()
	}
	return e
}

func (e *Engine) validate(req Request) error {
	id := req.PortfolioID
	if id == "" {
		return apperrors.Validation(entityVaR, "", "portfolio_id", "portfolio_id is required")
	}
	switch req.Method {
	case model.VaRParametric, model.VaRHistorical, model.VaRMonteCarlo:
	default:
		return apperrors.Validation(entityVaR, id, "method", "unknown VaR method %q", req.Method)
	}
	if _, ok := ZScore(req.ConfidenceLevel); !ok {
		return apperrors.Validation(entityVaR, id, "confidence_level", "unsupported confidence %g (use 0.95, 0.99 or 0.995)", req.ConfidenceLevel)
	}
	if req.HorizonDays < 1 {
		return apperrors.Validation(entityVaR, id, "horizon_days", "horizon must be at least 1 day, got %d", req.HorizonDays)
	}
	if req.Market == nil {
		return apperrors.Validation(entityVaR, id, "market_data", "market data snapshot is required")
	}
	if req.Simulations < 0 || (req.Simulations > 0 && req.Simulations < MinSimulations) {
		return apperrors.Validation(entityVaR, id, "simulations", "simulations must be at least %d, got %d", MinSimulations, req.Simulations)
	}
	return nil
}

// CalculateVaR computes a fresh VaR for the request's position snapshot. The
// result is recorded and becomes the portfolio's latest calculation; a failed
// or cancelled calculation leaves earlier results untouched.
func (e *Engine) CalculateVaR(ctx context.Context, req Request) (model.VaRCalculation, error) {
	calc, err := e.Compute(ctx, req)
	if err != nil {
		e.log.Warn("var calculation failed", "portfolio", req.PortfolioID, "method", req.Method, "error", err)
		return model.VaRCalculation{}, err
	}

	e.mu.Lock()
	e.calcs[calc.ID] = calc
	e.latest[calc.PortfolioID] = calc.ID
	e.mu.Unlock()

	e.log.Info("var calculated",
		"portfolio", calc.PortfolioID,
		"method", calc.Method,
		"confidence", calc.ConfidenceLevel,
		"var", calc.VaRAmount.String(),
	)
	return calc, nil
}

// Compute runs a VaR calculation without recording it. Stress revaluation
// uses it to price shocked snapshots.
func (e *Engine) Compute(ctx context.Context, req Request) (model.VaRCalculation, error) {
	if err := e.validate(req); err != nil {
		return model.VaRCalculation{}, err
	}

	calc := model.VaRCalculation{
		ID:              uuid.New().String(),
		PortfolioID:     req.PortfolioID,
		Method:          req.Method,
		ConfidenceLevel: req.ConfidenceLevel,
		HorizonDays:     req.HorizonDays,
		State:           model.StateRequested,
	}

	fs := e.buildFactors(req.Positions, req.Market)
	calc.PortfolioValue = fs.value

	var (
		r   riskResult
		err error
	)
	if len(fs.keys) > 0 {
		switch req.Method {
		case model.VaRParametric:
			r, err = e.parametric(calc.ID, req, fs)
		case model.VaRHistorical:
			r, err = e.historical(calc.ID, req, fs)
		case model.VaRMonteCarlo:
			r, err = e.monteCarlo(ctx, calc.ID, req, fs)
		}
		if err != nil {
			return model.VaRCalculation{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return model.VaRCalculation{}, err
	}

	scale := math.Sqrt(float64(req.HorizonDays))
	r.scale(scale)

	undiversified := r.undiversified
	benefit := undiversified - r.varAmount
	if benefit < -invariantRelativeEpsilon*math.Max(1, math.Abs(undiversified)) {
		return model.VaRCalculation{}, apperrors.Invariant(entityVaR, calc.ID, "diversification_benefit",
			"undiversified VaR %.6f is below diversified VaR %.6f", undiversified, r.varAmount)
	}

	calc.VaRAmount = model.Amount(r.varAmount)
	calc.ExpectedShortfall = model.Amount(r.es)
	if !fs.value.IsZero() {
		calc.VaRPercentage = calc.VaRAmount.Div(fs.value.Abs()).Mul(decimal.NewFromInt(100)).Round(4)
	}
	calc.UndiversifiedVaR = model.Amount(undiversified)
	calc.DiversificationBenefit = model.Amount(benefit)
	calc.ComponentVaR = decMap(r.component)
	calc.MarginalVaR = decMap(r.marginal)
	calc.IncrementalVaR = decMap(r.incremental)
	calc.Observations = r.observations
	calc.Simulations = r.simulations
	calc.Seed = r.seed
	calc.State = model.StateComputed
	calc.CalculatedAt = e.now()
	return calc, nil
}

// Calculation returns a recorded calculation.
func (e *Engine) Calculation(id string) (model.VaRCalculation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.calcs[id]
	if !ok {
		return model.VaRCalculation{}, apperrors.NotFound(entityVaR, id)
	}
	return c, nil
}

// LatestCalculation returns the most recent calculation for a portfolio.
func (e *Engine) LatestCalculation(portfolioID string) (model.VaRCalculation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.latest[portfolioID]
	if !ok {
		return model.VaRCalculation{}, apperrors.NotFound(entityVaR, portfolioID)
	}
	return e.calcs[id], nil
}

// Calculations returns a portfolio's calculations, newest first.
func (e *Engine) Calculations(portfolioID string) []model.VaRCalculation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []model.VaRCalculation
	for _, c := range e.calcs {
		if c.PortfolioID == portfolioID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CalculatedAt.After(out[j].CalculatedAt) })
	return out
}

// Count returns the number of recorded calculations.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.calcs)
}

// factorSet is a portfolio's delta-equivalent exposure per risk key, split by
// book. legs keeps each position's own exposure for standalone figures.
type factorSet struct {
	keys  []string
	books []string
	x     map[string][]float64
	legs  []leg
	value decimal.Decimal
}

type leg struct {
	key int
	x   float64
}

func (fs factorSet) total() []float64 {
	t := make([]float64, len(fs.keys))
	for _, b := range fs.books {
		for i, v := range fs.x[b] {
			t[i] += v
		}
	}
	return t
}

func (fs factorSet) without(book string) []float64 {
	t := make([]float64, len(fs.keys))
	for _, b := range fs.books {
		if b == book {
			continue
		}
		for i, v := range fs.x[b] {
			t[i] += v
		}
	}
	return t
}

func gross(x []float64) float64 {
	g := 0.0
	for _, v := range x {
		g += math.Abs(v)
	}
	return g
}

func (e *Engine) buildFactors(snap ledger.PositionSnapshot, mkt *marketdata.Snapshot) factorSet {
	fs := factorSet{x: make(map[string][]float64)}
	index := make(map[string]int)
	for _, p := range snap.Positions {
		k := p.Underlying()
		if _, ok := index[k]; !ok {
			index[k] = len(fs.keys)
			fs.keys = append(fs.keys, k)
		}
	}
	sort.Strings(fs.keys)
	for i, k := range fs.keys {
		index[k] = i
	}

	for book, ps := range snap.ByBook() {
		fs.books = append(fs.books, book)
		x := make([]float64, len(fs.keys))
		for _, p := range ps {
			fx := mkt.ToBase(decimal.NewFromInt(1), p.Currency).InexactFloat64()
			l := leg{key: index[p.Underlying()], x: e.sens.DeltaEquivalent(p, mkt) * fx}
			x[l.key] += l.x
			fs.legs = append(fs.legs, l)
			fs.value = fs.value.Add(mkt.ToBase(p.SignedMarketValue(), p.Currency))
		}
		fs.x[book] = x
	}
	sort.Strings(fs.books)
	sort.Slice(fs.legs, func(i, j int) bool {
		if fs.legs[i].key != fs.legs[j].key {
			return fs.legs[i].key < fs.legs[j].key
		}
		return fs.legs[i].x < fs.legs[j].x
	})
	return fs
}


func decMap(m map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = model.Amount(v)
	}
	return out
}
