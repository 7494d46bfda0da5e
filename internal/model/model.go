// Package model defines the core domain types shared across the risk engine.
// Monetary values use shopspring/decimal.
// Volatilities, correlations and rates are plain float64.
package model

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/arena"
)

// AssetClass discriminates the instrument variants.
type AssetClass string

const (
	AssetEquity      AssetClass = "equity"
	AssetFixedIncome AssetClass = "fixed_income"
	AssetFX          AssetClass = "fx"
	AssetCommodity   AssetClass = "commodity"
	AssetDerivative  AssetClass = "derivative"
	AssetAlternative AssetClass = "alternative"
)

// AssetClasses lists every supported class in a stable order.
var AssetClasses = []AssetClass{
	AssetEquity, AssetFixedIncome, AssetFX, AssetCommodity, AssetDerivative, AssetAlternative,
}

// Valid reports whether c is a known asset class.
func (c AssetClass) Valid() bool {
	for _, k := range AssetClasses {
		if c == k {
			return true
		}
	}
	return false
}

// Direction is the side of a position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() decimal.Decimal {
	if d == Short {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	StatusPending PositionStatus = "pending"
	StatusOpen    PositionStatus = "open"
	StatusClosed  PositionStatus = "closed"
)

// Position is one holding in a portfolio. Positions are never deleted;
// closing moves them to StatusClosed.
//
// Invariants: MarketValue = Quantity * CurrentPrice (Quantity is stored as an
// absolute amount, Direction carries the sign); TotalPnL = RealizedPnL +
// UnrealizedPnL.
type Position struct {
	ID            arena.ID        `json:"id"`
	InstrumentID  string          `json:"instrument_id"`
	AssetClass    AssetClass      `json:"asset_class"`
	PortfolioID   string          `json:"portfolio_id"`
	BookID        string          `json:"book_id,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	Direction     Direction       `json:"direction"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	Currency      string          `json:"currency"`
	Status        PositionStatus  `json:"status"`
	Instrument    Instrument      `json:"instrument,omitempty"`
	OpenedAt      time.Time       `json:"opened_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
	ClosePrice    decimal.Decimal `json:"close_price"`
}

// SignedQuantity returns Quantity negated for short positions.
func (p Position) SignedQuantity() decimal.Decimal {
	return p.Quantity.Mul(p.Direction.Sign())
}

// SignedMarketValue returns MarketValue negated for short positions.
func (p Position) SignedMarketValue() decimal.Decimal {
	return p.MarketValue.Mul(p.Direction.Sign())
}

// Underlying returns the risk-factor key of the position: the option or
// commodity underlying where one exists, otherwise the instrument id.
func (p Position) Underlying() string {
	switch in := p.Instrument.(type) {
	case Option:
		if in.Underlying != "" {
			return in.Underlying
		}
	case Commodity:
		if in.Underlying != "" {
			return in.Underlying
		}
	}
	return p.InstrumentID
}

// Book groups positions by trader/desk and carries the book-level limits.
// Books are immutable once created except for limit edits.
type Book struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Trader     string          `json:"trader"`
	Desk       string          `json:"desk"`
	Currency   string          `json:"currency"`
	VaRLimit   decimal.Decimal `json:"var_limit"`
	PnLLimit   decimal.Decimal `json:"pnl_limit"`
	GrossLimit decimal.Decimal `json:"gross_limit"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ValuationBucket aggregates positions sharing an asset class or currency.
type ValuationBucket struct {
	PositionCount int             `json:"position_count"`
	MarketValue   decimal.Decimal `json:"market_value"`
	NetExposure   decimal.Decimal `json:"net_exposure"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// PortfolioValuation is a point-in-time valuation of a portfolio's open
// positions. RealizedPnL includes positions closed before AsOf.
type PortfolioValuation struct {
	PortfolioID   string                         `json:"portfolio_id"`
	AsOf          time.Time                      `json:"as_of"`
	PositionCount int                            `json:"position_count"`
	MarketValue   decimal.Decimal                `json:"market_value"` // Σ |MV|
	NetExposure   decimal.Decimal                `json:"net_exposure"` // Σ signed MV
	CostBasis     decimal.Decimal                `json:"cost_basis"`
	UnrealizedPnL decimal.Decimal                `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal                `json:"realized_pnl"`
	TotalPnL      decimal.Decimal                `json:"total_pnl"`
	ByAssetClass  map[AssetClass]ValuationBucket `json:"by_asset_class"`
	ByCurrency    map[string]ValuationBucket     `json:"by_currency"`
}

// PnLAttribution decomposes one day's P&L.
type PnLAttribution struct {
	Trading  decimal.Decimal `json:"trading"`
	Carry    decimal.Decimal `json:"carry"`
	FX       decimal.Decimal `json:"fx"`
	Delta    decimal.Decimal `json:"delta"`
	Gamma    decimal.Decimal `json:"gamma"`
	Theta    decimal.Decimal `json:"theta"`
	Vega     decimal.Decimal `json:"vega"`
	Residual decimal.Decimal `json:"residual"`
	Total    decimal.Decimal `json:"total"`
}

// DailyPnL is one append-only entry of a portfolio's daily P&L series.
type DailyPnL struct {
	PortfolioID   string          `json:"portfolio_id"`
	Date          time.Time       `json:"date"`
	OpeningValue  decimal.Decimal `json:"opening_value"`
	ClosingValue  decimal.Decimal `json:"closing_value"`
	PnL           decimal.Decimal `json:"pnl"`
	CumulativePnL decimal.Decimal `json:"cumulative_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Attribution   PnLAttribution  `json:"attribution"`
}

// Amount converts a computed float to an 8dp decimal. NaN and ±Inf become
// zero.
func Amount(x float64) decimal.Decimal {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(x).Round(8)
}
