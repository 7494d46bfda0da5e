package limits

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/model"
)

var (
	// ErrInstrumentLimitExceeded is returned when a trade would push the gross
	// exposure to a single instrument beyond the per-instrument maximum.
	ErrInstrumentLimitExceeded = errors.New("limits: per-instrument exposure limit exceeded")

	// ErrGroupLimitExceeded is returned when a trade would push the gross
	// exposure across a correlated group beyond the group maximum.
	ErrGroupLimitExceeded = errors.New("limits: correlated group exposure limit exceeded")
)

// ConcentrationLimiter caps gross exposure per instrument and per correlated
// group. It implements ledger.PreTradeCheck.
//
// Positions fall in the same group when their group keys share the first
// PrefixLen characters. The group key is the bond issuer for fixed income and
// the underlying for everything else, so options and the stock they reference
// are grouped together, as are "CL" and "CLZ5".
type ConcentrationLimiter struct {
	// MaxPerInstrument is the maximum gross exposure to one instrument id.
	// Zero disables the check.
	MaxPerInstrument decimal.Decimal

	// MaxPerGroup is the maximum gross exposure across a correlated group.
	// Zero disables the check.
	MaxPerGroup decimal.Decimal

	// PrefixLen is how many leading characters of the group key must match.
	// Zero compares whole keys.
	PrefixLen int
}

// NewConcentrationLimiter creates a limiter with the given caps.
func NewConcentrationLimiter(maxPerInstrument, maxPerGroup decimal.Decimal, prefixLen int) *ConcentrationLimiter {
	if prefixLen < 0 {
		prefixLen = 0
	}
	return &ConcentrationLimiter{
		MaxPerInstrument: maxPerInstrument,
		MaxPerGroup:      maxPerGroup,
		PrefixLen:        prefixLen,
	}
}

// Check validates a candidate position against the portfolio's open
// positions.
func (l *ConcentrationLimiter) Check(candidate model.Position, open []model.Position) error {
	gross := candidate.MarketValue.Abs()

	if l.MaxPerInstrument.IsPositive() {
		inInstrument := gross
		for _, p := range open {
			if p.InstrumentID == candidate.InstrumentID {
				inInstrument = inInstrument.Add(p.MarketValue.Abs())
			}
		}
		if inInstrument.GreaterThan(l.MaxPerInstrument) {
			return ErrInstrumentLimitExceeded
		}
	}

	if l.MaxPerGroup.IsPositive() {
		group := l.prefix(GroupKey(candidate))
		inGroup := gross
		for _, p := range open {
			if l.prefix(GroupKey(p)) == group {
				inGroup = inGroup.Add(p.MarketValue.Abs())
			}
		}
		if inGroup.GreaterThan(l.MaxPerGroup) {
			return ErrGroupLimitExceeded
		}
	}
	return nil
}

// GroupKey returns the correlation key of a position.
func GroupKey(p model.Position) string {
	if fi, ok := p.Instrument.(model.FixedIncome); ok && fi.Issuer != "" {
		return fi.Issuer
	}
	return p.Underlying()
}

func (l *ConcentrationLimiter) prefix(key string) string {
	if l.PrefixLen == 0 || l.PrefixLen >= len(key) {
		return key
	}
	return key[:l.PrefixLen]
}
