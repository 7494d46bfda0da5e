package varengine

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/marketdata"
)

// riskResult holds one-day figures before horizon scaling. All amounts are
// positive losses.
type riskResult struct {
	varAmount     float64
	es            float64
	undiversified float64
	component     map[string]float64
	marginal     map[string]float64
	incremental  map[string]float64
	observations int
	simulations  int
	seed         uint64
}

func newRiskResult() riskResult {
	return riskResult{
		component:   make(map[string]float64),
		marginal:    make(map[string]float64),
		incremental: make(map[string]float64),
	}
}

func (r *riskResult) scale(k float64) {
	r.varAmount *= k
	r.es *= k
	r.undiversified *= k
	for _, m := range []map[string]float64{r.component, r.marginal, r.incremental} {
		for b := range m {
			m[b] *= k
		}
	}
}

// TailLoss returns the historical VaR and expected shortfall of a P&L series
// at confidence c, as positive losses. The series is sorted ascending and VaR
// is the observation at rank floor(n·(1-c)), index 0 being the worst loss;
// ES is the mean of the observations at and beyond that rank. A tail made of
// gains reports zero loss.
func TailLoss(pnl []float64, c float64) (varLoss, es float64, rank int) {
	if len(pnl) == 0 {
		return 0, 0, 0
	}
	sorted := append([]float64(nil), pnl...)
	sort.Float64s(sorted)
	rank = tailRank(len(sorted), c)
	sum := 0.0
	for _, v := range sorted[:rank+1] {
		sum += v
	}
	return math.Max(0, -sorted[rank]), math.Max(0, -sum/float64(rank+1)), rank
}

func tailRank(n int, c float64) int {
	k := int(math.Floor(float64(n)*(1-c) + 1e-9))
	if k >= n {
		k = n - 1
	}
	return k
}

// dailyVols returns the one-day volatility of each key: the quoted vol when
// the snapshot has one, otherwise the sample deviation of its return history.
func (e *Engine) dailyVols(calcID string, keys []string, mkt *marketdata.Snapshot, override map[string][]float64) ([]float64, error) {
	vols := make([]float64, len(keys))
	for i, k := range keys {
		if v, ok := mkt.DailyVol(k); ok && v > 0 {
			vols[i] = v
			continue
		}
		series := returnSeries(k, mkt, override)
		if len(series) < 2 {
			return nil, apperrors.Validation(entityVaR, calcID, "vol", "no volatility or return history for %q", k)
		}
		vols[i] = stat.StdDev(series, nil)
	}
	return vols, nil
}

func returnSeries(key string, mkt *marketdata.Snapshot, override map[string][]float64) []float64 {
	if s, ok := override[key]; ok {
		return s
	}
	return mkt.ReturnSeries(key)
}

func (e *Engine) covariance(keys []string, vols []float64, mkt *marketdata.Snapshot) *mat.SymDense {
	n := len(keys)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			rho := mkt.Correlation(keys[i], keys[j], e.defaultCorr)
			cov.SetSym(i, j, vols[i]*vols[j]*rho)
		}
	}
	return cov
}

// sigma returns sqrt(x'Σx). A materially negative quadratic form means the
// correlation matrix is not positive semi-definite.
func sigma(calcID string, x []float64, cov *mat.SymDense) (float64, error) {
	v := mat.NewVecDense(len(x), append([]float64(nil), x...))
	q := mat.Inner(v, cov, v)
	if q < 0 {
		scale := 0.0
		for i, xi := range x {
			scale += xi * xi * cov.At(i, i)
		}
		if q < -invariantRelativeEpsilon*math.Max(1, scale) {
			return 0, apperrors.Invariant(entityVaR, calcID, "covariance_psd", "portfolio variance %g is negative", q)
		}
		q = 0
	}
	return math.Sqrt(q), nil
}

func (e *Engine) parametric(calcID string, req Request, fs factorSet) (riskResult, error) {
	vols, err := e.dailyVols(calcID, fs.keys, req.Market, req.HistoricalReturns)
	if err != nil {
		return riskResult{}, err
	}
	cov := e.covariance(fs.keys, vols, req.Market)
	z, _ := ZScore(req.ConfidenceLevel)

	total := fs.total()
	sp, err := sigma(calcID, total, cov)
	if err != nil {
		return riskResult{}, err
	}

	r := newRiskResult()
	r.varAmount = z * sp
	r.es = sp * distuv.UnitNormal.Prob(z) / (1 - req.ConfidenceLevel)

	// Each position held alone loses z·σ·|x|.
	for _, l := range fs.legs {
		r.undiversified += z * vols[l.key] * math.Abs(l.x)
	}

	tv := mat.NewVecDense(len(total), total)
	var covX mat.VecDense
	covX.MulVec(cov, tv)

	for _, b := range fs.books {
		xb := fs.x[b]
		if sp > 0 {
			r.component[b] = z * mat.Dot(mat.NewVecDense(len(xb), xb), &covX) / sp
		}
		if g := gross(xb); g > 0 {
			r.marginal[b] = r.component[b] / g
		}
		sw, err := sigma(calcID, fs.without(b), cov)
		if err != nil {
			return riskResult{}, err
		}
		r.incremental[b] = r.varAmount - z*sw
	}
	return r, nil
}

func (e *Engine) historical(calcID string, req Request, fs factorSet) (riskResult, error) {
	n := -1
	series := make([][]float64, len(fs.keys))
	for i, k := range fs.keys {
		series[i] = returnSeries(k, req.Market, req.HistoricalReturns)
		if n < 0 || len(series[i]) < n {
			n = len(series[i])
		}
	}
	if n < e.minObservations {
		return riskResult{}, apperrors.InsufficientData(entityVaR, calcID, "historical_returns", n, e.minObservations)
	}

	// Align on the most recent n observations.
	R := mat.NewDense(n, len(fs.keys), nil)
	for j, s := range series {
		tail := s[len(s)-n:]
		for t, v := range tail {
			R.Set(t, j, v)
		}
	}
	r := scenarioRisk(R, fs, req.ConfidenceLevel)
	r.observations = n
	return r, nil
}

func (e *Engine) monteCarlo(ctx context.Context, calcID string, req Request, fs factorSet) (riskResult, error) {
	vols, err := e.dailyVols(calcID, fs.keys, req.Market, req.HistoricalReturns)
	if err != nil {
		return riskResult{}, err
	}
	cov := e.covariance(fs.keys, vols, req.Market)

	paths := req.Simulations
	if paths == 0 {
		paths = e.simulations
	}
	seed := req.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	R, err := e.sim.Simulate(ctx, cov, paths, seed)
	if err != nil {
		if errors.Is(err, ErrNotPositiveSemidefinite) {
			return riskResult{}, apperrors.Validation(entityVaR, calcID, "correlations", "%v", err)
		}
		return riskResult{}, err
	}
	if rows, cols := R.Dims(); rows != paths || cols != len(fs.keys) {
		return riskResult{}, apperrors.Invariant(entityVaR, calcID, "simulation_shape",
			"simulator returned %dx%d, want %dx%d", rows, cols, paths, len(fs.keys))
	}

	r := scenarioRisk(R, fs, req.ConfidenceLevel)
	r.simulations = paths
	r.seed = seed
	return r, nil
}

// scenarioRisk derives VaR figures from a scenario matrix of factor returns
// (one row per scenario). Component VaR is each book's loss in the scenario
// that sets the portfolio VaR, so components sum to VaR.
//
// Undiversified VaR is the sum of each position's standalone expected
// shortfall. The mean of the k worst outcomes is subadditive and never below
// the k-th worst, so the sum bounds the portfolio VaR from above; a sum of
// standalone quantiles would not.
func scenarioRisk(R *mat.Dense, fs factorSet, c float64) riskResult {
	rows, _ := R.Dims()
	bookPnL := make(map[string][]float64, len(fs.books))
	total := make([]float64, rows)
	for _, b := range fs.books {
		var v mat.VecDense
		v.MulVec(R, mat.NewVecDense(len(fs.x[b]), fs.x[b]))
		pnl := make([]float64, rows)
		for t := range pnl {
			pnl[t] = v.AtVec(t)
			total[t] += pnl[t]
		}
		bookPnL[b] = pnl
	}

	order := make([]int, rows)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return total[order[a]] < total[order[b]] })
	k := tailRank(rows, c)
	at := order[k]

	r := newRiskResult()
	r.varAmount, r.es, _ = TailLoss(total, c)

	alone := make([]float64, rows)
	for _, l := range fs.legs {
		for t := range alone {
			alone[t] = R.At(t, l.key) * l.x
		}
		_, es, _ := TailLoss(alone, c)
		r.undiversified += es
	}

	for _, b := range fs.books {
		pnl := bookPnL[b]
		if r.varAmount > 0 {
			r.component[b] = -pnl[at]
		}
		if g := gross(fs.x[b]); g > 0 {
			r.marginal[b] = r.component[b] / g
		}
		rest := make([]float64, rows)
		for t := range rest {
			rest[t] = total[t] - pnl[t]
		}
		without, _, _ := TailLoss(rest, c)
		r.incremental[b] = r.varAmount - without
	}
	return r
}
