// Package marketdata provides immutable point-in-time market data views and the
// providers that serve them.
package marketdata

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// TradingDaysPerYear converts annualized volatility to daily.
const TradingDaysPerYear = 252

// Curve is a zero-rate curve. Tenors are in years, ascending, and parallel to
// Rates (continuously compounded, decimal: 0.05 = 5%).
type Curve struct {
	Tenors []float64 `json:"tenors"`
	Rates  []float64 `json:"rates"`
}

// Rate returns the linearly interpolated rate at tenor t with flat
// extrapolation beyond the curve ends.
func (c Curve) Rate(t float64) (float64, bool) {
	n := len(c.Tenors)
	if n == 0 || n != len(c.Rates) {
		return 0, false
	}
	if t <= c.Tenors[0] {
		return c.Rates[0], true
	}
	if t >= c.Tenors[n-1] {
		return c.Rates[n-1], true
	}
	i := sort.SearchFloat64s(c.Tenors, t)
	t0, t1 := c.Tenors[i-1], c.Tenors[i]
	r0, r1 := c.Rates[i-1], c.Rates[i]
	return r0 + (r1-r0)*(t-t0)/(t1-t0), true
}

// Snapshot is a market data view at AsOf. A Snapshot is never mutated after
// it is handed out; derive variants with Clone.
type Snapshot struct {
	AsOf time.Time `json:"as_of"`

	// Spots maps instrument id or underlying to price.
	Spots map[string]decimal.Decimal `json:"spots"`

	// Vols maps instrument id or underlying to annualized volatility.
	Vols map[string]float64 `json:"vols"`

	// Curves maps currency to its zero curve.
	Curves map[string]Curve `json:"curves,omitempty"`

	// RiskFreeRate is used when no curve covers a currency.
	RiskFreeRate float64 `json:"risk_free_rate"`

	// Correlations maps PairKey(a, b) to the return correlation of a and b.
	Correlations map[string]float64 `json:"correlations,omitempty"`

	// FXRates maps currency to its value in the base currency.
	FXRates map[string]decimal.Decimal `json:"fx_rates,omitempty"`

	// Returns holds daily return history per instrument id, oldest first.
	Returns map[string][]float64 `json:"returns,omitempty"`
}

// PairKey returns the canonical key of an unordered pair.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Spot returns the spot price for key.
func (s *Snapshot) Spot(key string) (decimal.Decimal, bool) {
	p, ok := s.Spots[key]
	return p, ok
}

// Vol returns the annualized volatility for key.
func (s *Snapshot) Vol(key string) (float64, bool) {
	v, ok := s.Vols[key]
	return v, ok
}

// DailyVol returns the one-day volatility for key.
func (s *Snapshot) DailyVol(key string) (float64, bool) {
	v, ok := s.Vols[key]
	if !ok {
		return 0, false
	}
	return v / math.Sqrt(TradingDaysPerYear), true
}

// Rate returns the rate for currency at tenor t years, falling back to the
// flat risk-free rate.
func (s *Snapshot) Rate(currency string, t float64) float64 {
	if c, ok := s.Curves[currency]; ok {
		if r, ok := c.Rate(t); ok {
			return r
		}
	}
	return s.RiskFreeRate
}

// Correlation returns the correlation of a and b, or def when the pair is not
// quoted. The correlation of a key with itself is 1.
func (s *Snapshot) Correlation(a, b string, def float64) float64 {
	if a == b {
		return 1
	}
	if c, ok := s.Correlations[PairKey(a, b)]; ok {
		return c
	}
	return def
}

// ToBase converts amount in currency to the base currency. Unknown
// currencies convert at 1.
func (s *Snapshot) ToBase(amount decimal.Decimal, currency string) decimal.Decimal {
	if r, ok := s.FXRates[currency]; ok && r.IsPositive() {
		return amount.Mul(r)
	}
	return amount
}

// ReturnSeries returns the history for key.
func (s *Snapshot) ReturnSeries(key string) []float64 {
	return s.Returns[key]
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		AsOf:         s.AsOf,
		RiskFreeRate: s.RiskFreeRate,
		Spots:        make(map[string]decimal.Decimal, len(s.Spots)),
		Vols:         make(map[string]float64, len(s.Vols)),
		Curves:       make(map[string]Curve, len(s.Curves)),
		Correlations: make(map[string]float64, len(s.Correlations)),
		FXRates:      make(map[string]decimal.Decimal, len(s.FXRates)),
		Returns:      make(map[string][]float64, len(s.Returns)),
	}
	for k, v := range s.Spots {
		c.Spots[k] = v
	}
	for k, v := range s.Vols {
		c.Vols[k] = v
	}
	for k, v := range s.Curves {
		c.Curves[k] = Curve{
			Tenors: append([]float64(nil), v.Tenors...),
			Rates:  append([]float64(nil), v.Rates...),
		}
	}
	for k, v := range s.Correlations {
		c.Correlations[k] = v
	}
	for k, v := range s.FXRates {
		c.FXRates[k] = v
	}
	for k, v := range s.Returns {
		c.Returns[k] = append([]float64(nil), v...)
	}
	return c
}
