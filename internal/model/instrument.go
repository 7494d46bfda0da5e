package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is the per-asset-class variant carried by a Position. The set of
// variants is closed: only types in this package implement it, and code that
// needs per-class behaviour switches over all of them.
type Instrument interface {
	Class() AssetClass
	isInstrument()
}

// Equity is a cash equity holding.
type Equity struct {
	Beta   decimal.Decimal `json:"beta"`
	Sector string          `json:"sector,omitempty"`
}

// FixedIncome is a rate instrument (bond, note, swap leg).
type FixedIncome struct {
	ModifiedDuration     decimal.Decimal `json:"modified_duration"`
	Convexity            decimal.Decimal `json:"convexity"`
	CouponRate           decimal.Decimal `json:"coupon_rate"`
	Maturity             time.Time       `json:"maturity"`
	CreditSpreadDuration decimal.Decimal `json:"credit_spread_duration"`
	Issuer               string          `json:"issuer,omitempty"`
}

// FX is a currency position expressed in the base currency.
type FX struct {
	BaseCurrency  string          `json:"base_currency"`
	QuoteCurrency string          `json:"quote_currency"`
	Notional      decimal.Decimal `json:"notional"`
}

// Pair returns the currency pair key, e.g. "EURUSD".
func (f FX) Pair() string {
	return f.BaseCurrency + f.QuoteCurrency
}

// Commodity is a physical or futures commodity holding.
type Commodity struct {
	Underlying   string          `json:"underlying"`
	ContractSize decimal.Decimal `json:"contract_size"`
}

// OptionType is call or put.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// ExerciseStyle of an option. Only European exercise is priced exactly; the
// other styles are approximated with the European closed form.
type ExerciseStyle string

const (
	European ExerciseStyle = "european"
	American ExerciseStyle = "american"
	Bermudan ExerciseStyle = "bermudan"
	Asian    ExerciseStyle = "asian"
)

// Option is a listed or OTC option. Premium = IntrinsicValue + TimeValue and
// IntrinsicValue >= 0.
type Option struct {
	Underlying      string          `json:"underlying"`
	UnderlyingClass AssetClass      `json:"underlying_class"`
	Type            OptionType      `json:"option_type"`
	Style           ExerciseStyle   `json:"style"`
	Strike          decimal.Decimal `json:"strike"`
	Expiry          time.Time       `json:"expiry"`
	ImpliedVol      float64         `json:"implied_vol"`
	Premium         decimal.Decimal `json:"premium"`
	IntrinsicValue  decimal.Decimal `json:"intrinsic_value"`
	TimeValue       decimal.Decimal `json:"time_value"`
	Multiplier      decimal.Decimal `json:"multiplier"`
}

// Intrinsic returns max(S-K, 0) for calls and max(K-S, 0) for puts.
func (o Option) Intrinsic(spot decimal.Decimal) decimal.Decimal {
	var v decimal.Decimal
	if o.Type == Put {
		v = o.Strike.Sub(spot)
	} else {
		v = spot.Sub(o.Strike)
	}
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// WithPremium returns a copy with Premium split into intrinsic and time value
// against spot. Time value absorbs any premium below intrinsic so the
// Premium = IntrinsicValue + TimeValue identity always holds.
func (o Option) WithPremium(premium, spot decimal.Decimal) Option {
	o.Premium = premium
	o.IntrinsicValue = o.Intrinsic(spot)
	o.TimeValue = premium.Sub(o.IntrinsicValue)
	return o
}

// ContractMultiplier returns Multiplier, defaulting to 1.
func (o Option) ContractMultiplier() decimal.Decimal {
	if o.Multiplier.IsPositive() {
		return o.Multiplier
	}
	return decimal.NewFromInt(1)
}

// Alternative is a fund, private or hedge-fund style holding.
type Alternative struct {
	Strategy string          `json:"strategy,omitempty"`
	Beta     decimal.Decimal `json:"beta"`
}

func (Equity) Class() AssetClass      { return AssetEquity }
func (FixedIncome) Class() AssetClass { return AssetFixedIncome }
func (FX) Class() AssetClass          { return AssetFX }
func (Commodity) Class() AssetClass   { return AssetCommodity }
func (Option) Class() AssetClass      { return AssetDerivative }
func (Alternative) Class() AssetClass { return AssetAlternative }

func (Equity) isInstrument()      {}
func (FixedIncome) isInstrument() {}
func (FX) isInstrument()          {}
func (Commodity) isInstrument()   {}
func (Option) isInstrument()      {}
func (Alternative) isInstrument() {}

// DefaultInstrument returns the zero-parameter variant for a class. Equity and
// alternative betas default to 1; option type is left for the ticker to fill.
func DefaultInstrument(class AssetClass) (Instrument, error) {
	one := decimal.NewFromInt(1)
	switch class {
	case AssetEquity:
		return Equity{Beta: one}, nil
	case AssetFixedIncome:
		return FixedIncome{}, nil
	case AssetFX:
		return FX{}, nil
	case AssetCommodity:
		return Commodity{}, nil
	case AssetDerivative:
		return Option{Style: European, Multiplier: one}, nil
	case AssetAlternative:
		return Alternative{Beta: one}, nil
	}
	return nil, fmt.Errorf("model: unknown asset class %q", class)
}

// DecodeInstrument decodes raw JSON into the variant matching class.
func DecodeInstrument(class AssetClass, raw json.RawMessage) (Instrument, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return DefaultInstrument(class)
	}
	var (
		in  Instrument
		err error
	)
	switch class {
	case AssetEquity:
		var v Equity
		err = json.Unmarshal(raw, &v)
		in = v
	case AssetFixedIncome:
		var v FixedIncome
		err = json.Unmarshal(raw, &v)
		in = v
	case AssetFX:
		var v FX
		err = json.Unmarshal(raw, &v)
		in = v
	case AssetCommodity:
		var v Commodity
		err = json.Unmarshal(raw, &v)
		in = v
	case AssetDerivative:
		var v Option
		err = json.Unmarshal(raw, &v)
		in = v
	case AssetAlternative:
		var v Alternative
		err = json.Unmarshal(raw, &v)
		in = v
	default:
		return nil, fmt.Errorf("model: unknown asset class %q", class)
	}
	if err != nil {
		return nil, fmt.Errorf("model: decode %s instrument: %w", class, err)
	}
	return in, nil
}

// UnmarshalJSON decodes a Position, resolving the Instrument variant from
// the asset class.
func (p *Position) UnmarshalJSON(data []byte) error {
	type alias Position
	var aux struct {
		alias
		Instrument json.RawMessage `json:"instrument"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = Position(aux.alias)
	if !p.AssetClass.Valid() {
		p.Instrument = nil
		return nil
	}
	in, err := DecodeInstrument(p.AssetClass, aux.Instrument)
	if err != nil {
		return err
	}
	p.Instrument = in
	return nil
}
