package sensitivity

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/atmx/risk-engine/internal/model"
)

// MinTimeToExpiry floors T (in years) to keep d1 finite at expiry.
const MinTimeToExpiry = 1e-6

// BSInputs are the Black-Scholes model inputs for one option.
type BSInputs struct {
	Spot   float64
	Strike float64
	T      float64 // years
	Rate   float64 // continuously compounded
	Vol    float64 // annualized
	Type   model.OptionType
}

// Greeks are per-unit Black-Scholes outputs. Vega is per 1 vol point, Theta
// per calendar day and Rho per 1% rate move.
type Greeks struct {
	Price float64
	Delta float64
	Gamma float64
	Vega  float64
	Theta float64
	Rho   float64
}

// BlackScholes prices a European option and its greeks. T is floored at
// MinTimeToExpiry.
func BlackScholes(in BSInputs) Greeks {
	T := math.Max(in.T, MinTimeToExpiry)
	S, K, r, sigma := in.Spot, in.Strike, in.Rate, in.Vol

	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	n := distuv.UnitNormal
	pdf := n.Prob(d1)
	disc := K * math.Exp(-r*T)

	g := Greeks{
		Gamma: pdf / (S * sigma * sqrtT),
		Vega:  S * pdf * sqrtT / 100,
	}
	decay := -S * pdf * sigma / (2 * sqrtT)

	if in.Type == model.Put {
		g.Price = disc*n.CDF(-d2) - S*n.CDF(-d1)
		g.Delta = n.CDF(d1) - 1
		g.Theta = (decay + r*disc*n.CDF(-d2)) / 365
		g.Rho = -T * disc * n.CDF(-d2) / 100
	} else {
		g.Price = S*n.CDF(d1) - disc*n.CDF(d2)
		g.Delta = n.CDF(d1)
		g.Theta = (decay - r*disc*n.CDF(d2)) / 365
		g.Rho = T * disc * n.CDF(d2) / 100
	}
	return g
}
