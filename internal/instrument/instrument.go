// Package instrument handles instrument identifier parsing and reference-data
// validation: ISO-4217 currency codes and listed option tickers.
package instrument

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/model"
)

// optionTickerRegex matches: OPT-{UNDERLYING}-{C|P}-{STRIKE}-{YYYYMMDD}
// Example: OPT-AAPL-C-150-20251219
var optionTickerRegex = regexp.MustCompile(
	`^OPT-([A-Z0-9.]+)-([CP])-([0-9]+(?:\.[0-9]+)?)-(\d{8})$`,
)

var (
	ErrInvalidTicker   = errors.New("instrument: invalid option ticker format")
	ErrUnknownCurrency = errors.New("instrument: unrecognized currency")
	ErrClassMismatch   = errors.New("instrument: variant does not match asset class")
)

// currencies is the ISO-4217 subset accepted for positions.
var currencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true,
	"CAD": true, "AUD": true, "NZD": true, "CNY": true, "HKD": true,
	"SGD": true, "SEK": true, "NOK": true, "DKK": true, "KRW": true,
	"INR": true, "BRL": true, "MXN": true, "ZAR": true, "TRY": true,
	"PLN": true, "CZK": true, "HUF": true, "ILS": true, "TWD": true,
	"THB": true, "IDR": true, "MYR": true, "PHP": true, "SAR": true,
	"AED": true, "RUB": true, "CLP": true, "COP": true, "PEN": true,
}

// ValidCurrency reports whether code is a recognized three-letter ISO-4217
// code. Matching is case-sensitive.
func ValidCurrency(code string) bool {
	return len(code) == 3 && currencies[code]
}

// CheckCurrency returns ErrUnknownCurrency for unrecognized codes.
func CheckCurrency(code string) error {
	if !ValidCurrency(code) {
		return fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return nil
}

// OptionTicker is a parsed option ticker.
type OptionTicker struct {
	Ticker     string           `json:"ticker"`
	Underlying string           `json:"underlying"`
	Type       model.OptionType `json:"type"`
	Strike     decimal.Decimal  `json:"strike"`
	Expiry     time.Time        `json:"expiry"`
}

// ParseOptionTicker parses and validates an option ticker.
// Format: OPT-{UNDERLYING}-{C|P}-{STRIKE}-{YYYYMMDD}
func ParseOptionTicker(ticker string) (*OptionTicker, error) {
	m := optionTickerRegex.FindStringSubmatch(ticker)
	if m == nil {
		return nil, fmt.Errorf("%w: %s (expected OPT-{underlying}-{C|P}-{strike}-{YYYYMMDD})",
			ErrInvalidTicker, ticker)
	}

	strike, err := decimal.NewFromString(m[3])
	if err != nil || !strike.IsPositive() {
		return nil, fmt.Errorf("%w: invalid strike %s", ErrInvalidTicker, m[3])
	}

	expiry, err := time.Parse("20060102", m[4])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidTicker, m[4])
	}

	typ := model.Call
	if m[2] == "P" {
		typ = model.Put
	}

	return &OptionTicker{
		Ticker:     ticker,
		Underlying: m[1],
		Type:       typ,
		Strike:     strike,
		Expiry:     expiry,
	}, nil
}

// IsOptionTicker reports whether id looks like an option ticker.
func IsOptionTicker(id string) bool {
	return strings.HasPrefix(id, "OPT-")
}

// Resolve fills in an option variant from its ticker when the caller did not
// supply underlying, strike or expiry. Explicit fields win over the ticker.
func Resolve(instrumentID string, in model.Option) (model.Option, error) {
	if !IsOptionTicker(instrumentID) {
		return in, nil
	}
	t, err := ParseOptionTicker(instrumentID)
	if err != nil {
		return in, err
	}
	if in.Underlying == "" {
		in.Underlying = t.Underlying
	}
	if in.Type == "" {
		in.Type = t.Type
	}
	if in.Strike.IsZero() {
		in.Strike = t.Strike
	}
	if in.Expiry.IsZero() {
		in.Expiry = t.Expiry
	}
	return in, nil
}

// CheckVariant verifies that in is the variant for class.
func CheckVariant(class model.AssetClass, in model.Instrument) error {
	if in == nil {
		return nil
	}
	if in.Class() != class {
		return fmt.Errorf("%w: %s variant for %s position", ErrClassMismatch, in.Class(), class)
	}
	return nil
}
