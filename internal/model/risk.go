package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/arena"
)

// GreeksCalculation is an immutable per-position greeks snapshot. Values are
// position-level (scaled by signed quantity and contract multiplier).
type GreeksCalculation struct {
	ID           string          `json:"id"`
	PositionID   arena.ID        `json:"position_id"`
	PortfolioID  string          `json:"portfolio_id"`
	Underlying   string          `json:"underlying"`
	Expiry       time.Time       `json:"expiry"`
	AsOf         time.Time       `json:"as_of"`
	Spot         decimal.Decimal `json:"spot"`
	TimeToExpiry float64         `json:"time_to_expiry"` // years, after flooring
	Delta        decimal.Decimal `json:"delta"`
	Gamma        decimal.Decimal `json:"gamma"`
	Theta        decimal.Decimal `json:"theta"` // per calendar day
	Vega         decimal.Decimal `json:"vega"`  // per 1 vol point
	Rho          decimal.Decimal `json:"rho"`   // per 1% rate move
	DollarDelta  decimal.Decimal `json:"dollar_delta"`
	DollarGamma  decimal.Decimal `json:"dollar_gamma"` // P&L of a 1% spot move from gamma
	DollarVega   decimal.Decimal `json:"dollar_vega"`
	DollarTheta  decimal.Decimal `json:"dollar_theta"`
	CalculatedAt time.Time       `json:"calculated_at"`
}

// GreeksBucket aggregates greeks over a group of positions.
type GreeksBucket struct {
	PositionCount int             `json:"position_count"`
	Delta         decimal.Decimal `json:"delta"`
	Gamma         decimal.Decimal `json:"gamma"`
	Theta         decimal.Decimal `json:"theta"`
	Vega          decimal.Decimal `json:"vega"`
	Rho           decimal.Decimal `json:"rho"`
	DollarDelta   decimal.Decimal `json:"dollar_delta"`
}

// PortfolioGreeks is derived from a set of GreeksCalculation records and is
// never mutated independently.
type PortfolioGreeks struct {
	PortfolioID      string                  `json:"portfolio_id"`
	AsOf             time.Time               `json:"as_of"`
	PositionCount    int                     `json:"position_count"`
	TotalDelta       decimal.Decimal         `json:"total_delta"`
	TotalGamma       decimal.Decimal         `json:"total_gamma"`
	TotalTheta       decimal.Decimal         `json:"total_theta"`
	TotalVega        decimal.Decimal         `json:"total_vega"`
	TotalRho         decimal.Decimal         `json:"total_rho"`
	NetDollarDelta   decimal.Decimal         `json:"net_dollar_delta"`
	GrossDollarDelta decimal.Decimal         `json:"gross_dollar_delta"`
	NetDollarGamma   decimal.Decimal         `json:"net_dollar_gamma"`
	NetDollarVega    decimal.Decimal         `json:"net_dollar_vega"`
	NetDollarTheta   decimal.Decimal         `json:"net_dollar_theta"`
	ByUnderlying     map[string]GreeksBucket `json:"by_underlying"`
	ByExpiry         map[string]GreeksBucket `json:"by_expiry"`
	Calculations     []GreeksCalculation     `json:"calculations,omitempty"`

	// Linear positions report one scalar sensitivity each.
	TotalDV01           decimal.Decimal     `json:"total_dv01"`
	TotalFXDelta        decimal.Decimal     `json:"total_fx_delta"`
	TotalBetaExposure   decimal.Decimal     `json:"total_beta_exposure"`
	TotalCommodityDelta decimal.Decimal     `json:"total_commodity_delta"`
	Scalars             []ScalarSensitivity `json:"scalar_sensitivities,omitempty"`
}

// ScalarSensitivity is the headline sensitivity of a non-option position:
// DV01 for rates, signed notional for FX, beta exposure for equities and
// signed market value for commodities.
type ScalarSensitivity struct {
	PositionID   arena.ID        `json:"position_id"`
	InstrumentID string          `json:"instrument_id"`
	Factor       RiskFactor      `json:"risk_factor"`
	Value        decimal.Decimal `json:"value"`
}

// VaRMethod selects the VaR methodology.
type VaRMethod string

const (
	VaRHistorical VaRMethod = "historical"
	VaRParametric VaRMethod = "parametric"
	VaRMonteCarlo VaRMethod = "monte_carlo"
)

// CalculationState tracks a VaR calculation through
// requested -> computed -> backtested.
type CalculationState string

const (
	StateRequested  CalculationState = "requested"
	StateComputed   CalculationState = "computed"
	StateBacktested CalculationState = "backtested"
)

// VaRCalculation is an immutable VaR result. VaR and ES are positive loss
// amounts in the portfolio currency.
type VaRCalculation struct {
	ID                     string                     `json:"id"`
	PortfolioID            string                     `json:"portfolio_id"`
	Method                 VaRMethod                  `json:"method"`
	ConfidenceLevel        float64                    `json:"confidence_level"`
	HorizonDays            int                        `json:"horizon_days"`
	PortfolioValue         decimal.Decimal            `json:"portfolio_value"`
	VaRAmount              decimal.Decimal            `json:"var_amount"`
	VaRPercentage          decimal.Decimal            `json:"var_percentage"`
	ExpectedShortfall      decimal.Decimal            `json:"expected_shortfall"`
	ComponentVaR           map[string]decimal.Decimal `json:"component_var"`
	MarginalVaR            map[string]decimal.Decimal `json:"marginal_var"`
	IncrementalVaR         map[string]decimal.Decimal `json:"incremental_var"`
	UndiversifiedVaR       decimal.Decimal            `json:"undiversified_var"`
	DiversificationBenefit decimal.Decimal            `json:"diversification_benefit"`
	Observations           int                        `json:"observations,omitempty"`
	Simulations            int                        `json:"simulations,omitempty"`
	Seed                   uint64                     `json:"seed,omitempty"`
	State                  CalculationState           `json:"state"`
	CalculatedAt           time.Time                  `json:"calculated_at"`
}

// TrafficLight is the backtest classification zone.
type TrafficLight string

const (
	ZoneGreen  TrafficLight = "green"
	ZoneYellow TrafficLight = "yellow"
	ZoneRed    TrafficLight = "red"
)

// VaRException is a day where the realized loss exceeded the predicted VaR.
type VaRException struct {
	ID                  string          `json:"id"`
	PortfolioID         string          `json:"portfolio_id"`
	Date                time.Time       `json:"date"`
	PredictedVaR        decimal.Decimal `json:"predicted_var"`
	ActualLoss          decimal.Decimal `json:"actual_loss"`
	ExceptionMultiplier decimal.Decimal `json:"exception_multiplier"`
}

// VaRBacktest is derived from a series of (predicted VaR, realized P&L) pairs.
type VaRBacktest struct {
	ID                string          `json:"id"`
	PortfolioID       string          `json:"portfolio_id"`
	CalculationID     string          `json:"calculation_id,omitempty"`
	StartDate         time.Time       `json:"start_date"`
	EndDate           time.Time       `json:"end_date"`
	Method            VaRMethod       `json:"method"`
	ConfidenceLevel   float64         `json:"confidence_level"`
	Observations      int             `json:"observations"`
	Exceptions        int             `json:"exceptions"`
	ExceptionRate     float64         `json:"exception_rate"`
	ExpectedRate      float64         `json:"expected_rate"`
	KupiecStatistic   float64         `json:"kupiec_statistic"`
	KupiecPValue      float64         `json:"kupiec_p_value"`
	TrafficLightZone  TrafficLight    `json:"traffic_light_zone"`
	PassFail          string          `json:"pass_fail"`
	ExceptionDetails  []VaRException  `json:"exception_details,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	MaxExceptionRatio decimal.Decimal `json:"max_exception_ratio"`
}

// VaRLimit is a portfolio VaR limit. Utilization and Breached are refreshed
// whenever a new VaR is checked against it.
type VaRLimit struct {
	ID               string          `json:"id"`
	PortfolioID      string          `json:"portfolio_id"`
	LimitAmount      decimal.Decimal `json:"limit_amount"`
	WarningThreshold decimal.Decimal `json:"warning_threshold"` // percent
	CurrentVaR       decimal.Decimal `json:"current_var"`
	Utilization      decimal.Decimal `json:"utilization"` // percent
	Breached         bool            `json:"breached"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ScenarioType classifies stress scenarios.
type ScenarioType string

const (
	ScenarioHistorical   ScenarioType = "historical"
	ScenarioHypothetical ScenarioType = "hypothetical"
	ScenarioReverse      ScenarioType = "reverse"
	ScenarioSensitivity  ScenarioType = "sensitivity"
)

// Severity grades a scenario.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityExtreme  Severity = "extreme"
)

// RiskFactor names a shock dimension.
type RiskFactor string

const (
	FactorEquity    RiskFactor = "equity"
	FactorFX        RiskFactor = "fx"
	FactorRates     RiskFactor = "ir"
	FactorCredit    RiskFactor = "credit"
	FactorCommodity RiskFactor = "commodity"
	FactorVol       RiskFactor = "vol"
)

// RiskFactors lists the factors in a stable order.
var RiskFactors = []RiskFactor{FactorEquity, FactorFX, FactorRates, FactorCredit, FactorCommodity, FactorVol}

// Valid reports whether f is a known factor.
func (f RiskFactor) Valid() bool {
	for _, k := range RiskFactors {
		if f == k {
			return true
		}
	}
	return false
}

// DefaultShockKey is the scenario-level fallback key in every shock map.
const DefaultShockKey = "default"

// ShockMap maps an instrument/underlying/currency key to a relative shock.
// Equity, FX, commodity and vol shocks are relative moves (-0.2 = -20%); ir
// and credit shocks are absolute rate changes (0.01 = +100bp).
type ShockMap map[string]decimal.Decimal

// Lookup returns the shock for the first key present, falling back to
// DefaultShockKey.
func (m ShockMap) Lookup(keys ...string) (decimal.Decimal, bool) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if s, ok := m[k]; ok {
			return s, true
		}
	}
	s, ok := m[DefaultShockKey]
	return s, ok
}

// StressScenario is an immutable scenario definition; only Active changes.
type StressScenario struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Description     string       `json:"description"`
	Type            ScenarioType `json:"type"`
	Severity        Severity     `json:"severity"`
	EquityShocks    ShockMap     `json:"equity_shocks,omitempty"`
	FXShocks        ShockMap     `json:"fx_shocks,omitempty"`
	RateShocks      ShockMap     `json:"ir_shocks,omitempty"`
	CreditShocks    ShockMap     `json:"credit_shocks,omitempty"`
	CommodityShocks ShockMap     `json:"commodity_shocks,omitempty"`
	VolShocks       ShockMap     `json:"vol_shocks,omitempty"`
	Active          bool         `json:"active"`
	EventStart      *time.Time   `json:"event_start,omitempty"`
	EventEnd        *time.Time   `json:"event_end,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Shocks returns the shock map for factor.
func (s StressScenario) Shocks(f RiskFactor) ShockMap {
	switch f {
	case FactorEquity:
		return s.EquityShocks
	case FactorFX:
		return s.FXShocks
	case FactorRates:
		return s.RateShocks
	case FactorCredit:
		return s.CreditShocks
	case FactorCommodity:
		return s.CommodityShocks
	case FactorVol:
		return s.VolShocks
	}
	return nil
}

// PositionImpact is one position's contribution to a stress result.
type PositionImpact struct {
	PositionID   arena.ID        `json:"position_id"`
	InstrumentID string          `json:"instrument_id"`
	BookID       string          `json:"book_id,omitempty"`
	MarketValue  decimal.Decimal `json:"market_value"`
	PnLImpact    decimal.Decimal `json:"pnl_impact"`
}

// LimitBreach describes one breached limit.
type LimitBreach struct {
	LimitType   string          `json:"limit_type"` // var, pnl, gross, var_limit
	LimitID     string          `json:"limit_id"`
	Limit       decimal.Decimal `json:"limit"`
	Value       decimal.Decimal `json:"value"`
	Utilization decimal.Decimal `json:"utilization"`
}

// StressTestResult is immutable, one per (scenario, portfolio, date).
type StressTestResult struct {
	ID                   string                         `json:"id"`
	ScenarioID           string                         `json:"scenario_id"`
	ScenarioName         string                         `json:"scenario_name"`
	PortfolioID          string                         `json:"portfolio_id"`
	TestDate             time.Time                      `json:"test_date"`
	PortfolioValueBefore decimal.Decimal                `json:"portfolio_value_before"`
	PortfolioValueAfter  decimal.Decimal                `json:"portfolio_value_after"`
	PnLImpact            decimal.Decimal                `json:"pnl_impact"`
	PnLImpactPercent     decimal.Decimal                `json:"pnl_impact_percent"`
	VaRBefore            decimal.Decimal                `json:"var_before"`
	VaRAfter             decimal.Decimal                `json:"var_after"`
	VaRChange            decimal.Decimal                `json:"var_change"`
	FullRevaluation      bool                           `json:"full_revaluation"`
	FactorContributions  map[RiskFactor]decimal.Decimal `json:"factor_contributions"`
	PositionImpacts      []PositionImpact               `json:"position_impacts"`
	BreachedLimits       []LimitBreach                  `json:"breached_limits"`
}

// SensitivityPoint is one (shock size, P&L impact) pair.
type SensitivityPoint struct {
	ShockSize decimal.Decimal `json:"shock_size"`
	PnLImpact decimal.Decimal `json:"pnl_impact"`
}

// SensitivityAnalysis is the shock-response curve of a portfolio to one
// factor. Degenerate is set when too few points were supplied to derive
// sensitivity (<2) or convexity (<3).
type SensitivityAnalysis struct {
	ID               string             `json:"id"`
	PortfolioID      string             `json:"portfolio_id"`
	RiskFactor       RiskFactor         `json:"risk_factor"`
	Points           []SensitivityPoint `json:"points"`
	Sensitivity      decimal.Decimal    `json:"sensitivity"`
	Convexity        decimal.Decimal    `json:"convexity"`
	Degenerate       bool               `json:"degenerate"`
	DegenerateReason string             `json:"degenerate_reason,omitempty"`
	CalculatedAt     time.Time          `json:"calculated_at"`
}

// ReverseCandidate is a scenario whose estimated impact reaches the target.
type ReverseCandidate struct {
	ScenarioID      string          `json:"scenario_id"`
	ScenarioName    string          `json:"scenario_name"`
	Severity        Severity        `json:"severity"`
	EstimatedImpact decimal.Decimal `json:"estimated_impact"`
	Plausibility    float64         `json:"plausibility"`
}

// ReverseStressTest is the outcome of a best-effort reverse stress search.
type ReverseStressTest struct {
	ID                 string             `json:"id"`
	PortfolioID        string             `json:"portfolio_id"`
	TargetLoss         decimal.Decimal    `json:"target_loss"`
	CandidateFactors   []RiskFactor       `json:"candidate_factors"`
	Candidates         []ReverseCandidate `json:"candidates"`
	MaxEstimatedImpact decimal.Decimal    `json:"max_estimated_impact"`
	PlausibilityScore  float64            `json:"plausibility_score"`
	BestEffort         bool               `json:"best_effort"`
	CalculatedAt       time.Time          `json:"calculated_at"`
}
