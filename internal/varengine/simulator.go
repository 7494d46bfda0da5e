package varengine

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// ErrNotPositiveSemidefinite is returned when a covariance matrix has a
// materially negative eigenvalue.
var ErrNotPositiveSemidefinite = errors.New("covariance matrix is not positive semi-definite")

// Simulator draws one-day factor return scenarios. Implementations must be
// deterministic for a given seed and should check ctx between batches.
type Simulator interface {
	Simulate(ctx context.Context, cov *mat.SymDense, paths int, seed uint64) (*mat.Dense, error)
}

// GaussianSimulator draws correlated normal shocks through the Cholesky
// factor of the covariance matrix, falling back to an eigen decomposition
// when the matrix is only semi-definite.
type GaussianSimulator struct {
	BatchSize int
}

const defaultBatchSize = 1000

// Simulate returns a paths×n matrix of factor returns.
func (g GaussianSimulator) Simulate(ctx context.Context, cov *mat.SymDense, paths int, seed uint64) (*mat.Dense, error) {
	n := cov.SymmetricDim()
	L, err := factor(cov)
	if err != nil {
		return nil, err
	}

	batch := g.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := mat.NewDense(paths, n, nil)
	z := mat.NewVecDense(n, nil)
	var shock mat.VecDense
	for i := 0; i < paths; i++ {
		if i%batch == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for j := 0; j < n; j++ {
			z.SetVec(j, rng.NormFloat64())
		}
		shock.MulVec(L, z)
		for j := 0; j < n; j++ {
			out.Set(i, j, shock.AtVec(j))
		}
	}
	return out, nil
}

// factor returns A with A·Aᵀ = cov.
func factor(cov *mat.SymDense) (mat.Matrix, error) {
	var chol mat.Cholesky
	if chol.Factorize(cov) {
		var L mat.TriDense
		chol.LTo(&L)
		return &L, nil
	}

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return nil, ErrNotPositiveSemidefinite
	}
	vals := eig.Values(nil)
	maxVal := 0.0
	for _, v := range vals {
		maxVal = math.Max(maxVal, math.Abs(v))
	}
	for i, v := range vals {
		if v < -invariantRelativeEpsilon*math.Max(1, maxVal) {
			return nil, ErrNotPositiveSemidefinite
		}
		vals[i] = math.Sqrt(math.Max(v, 0))
	}
	var V mat.Dense
	eig.VectorsTo(&V)
	var A mat.Dense
	A.Mul(&V, mat.NewDiagDense(len(vals), vals))
	return &A, nil
}
