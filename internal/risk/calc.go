package risk

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/arena"
	"github.com/atmx/risk-engine/internal/events"
	"github.com/atmx/risk-engine/internal/limits"
	"github.com/atmx/risk-engine/internal/metrics"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/store"
	"github.com/atmx/risk-engine/internal/varengine"
	"github.com/atmx/risk-engine/internal/workpool"
)

// VaRRequest asks for a VaR of a portfolio's current open positions.
type VaRRequest struct {
	PortfolioID       string               `json:"portfolio_id"`
	Method            model.VaRMethod      `json:"method"`
	ConfidenceLevel   float64              `json:"confidence_level"`
	HorizonDays       int                  `json:"horizon_days"`
	HistoricalReturns map[string][]float64 `json:"historical_returns,omitempty"`
	Simulations       int                  `json:"simulations,omitempty"`
	Seed              uint64               `json:"seed,omitempty"`
}

// VaRResult is a calculation plus the limits it was checked against.
type VaRResult struct {
	Calculation model.VaRCalculation `json:"calculation"`
	Limits      []limits.LimitStatus `json:"limits"`
}

func (s *Service) withDefaults(req VaRRequest) VaRRequest {
	if req.Method == "" {
		req.Method = model.VaRParametric
	}
	if req.ConfidenceLevel == 0 {
		req.ConfidenceLevel = s.def.ConfidenceLevel
	}
	if req.HorizonDays == 0 {
		req.HorizonDays = s.def.HorizonDays
	}
	return req
}

// CalculateVaR snapshots the portfolio, computes VaR on the worker pool,
// archives the result and refreshes the portfolio's VaR limits.
func (s *Service) CalculateVaR(ctx context.Context, req VaRRequest) (VaRResult, error) {
	req = s.withDefaults(req)
	start := time.Now()

	mkt, err := s.marketData(ctx, s.now())
	if err != nil {
		return VaRResult{}, err
	}
	vreq := varengine.Request{
		PortfolioID:       req.PortfolioID,
		Method:            req.Method,
		ConfidenceLevel:   req.ConfidenceLevel,
		HorizonDays:       req.HorizonDays,
		Positions:         s.ledger.Snapshot(req.PortfolioID),
		Market:            mkt,
		HistoricalReturns: req.HistoricalReturns,
		Simulations:       req.Simulations,
		Seed:              req.Seed,
	}
	calc, err := workpool.Submit(ctx, s.pool, func(ctx context.Context) (model.VaRCalculation, error) {
		return s.vars.CalculateVaR(ctx, vreq)
	}).Await(ctx)
	metrics.ObserveCalculation("var", string(req.Method), start, err)
	if err != nil {
		return VaRResult{}, err
	}

	if err := s.store.SaveVaRCalculation(ctx, &calc); err != nil {
		s.log.Error("var calculation not archived", "id", calc.ID, "portfolio", calc.PortfolioID, "error", err)
	}
	s.publish(ctx, events.VaRCalculated, calc.PortfolioID, calc)

	statuses := s.limits.OnVaRCalculated(calc)
	s.reportLimits(ctx, statuses)
	return VaRResult{Calculation: calc, Limits: statuses}, nil
}

func (s *Service) reportLimits(ctx context.Context, statuses []limits.LimitStatus) {
	for _, st := range statuses {
		switch st.Status {
		case limits.StatusBreach:
			metrics.LimitBreaches.WithLabelValues(limits.TypeVaRLimit).Inc()
			s.publish(ctx, events.LimitBreached, st.Limit.PortfolioID, st.Limit)
		case limits.StatusWarning:
			s.publish(ctx, events.LimitWarning, st.Limit.PortfolioID, st.Limit)
		}
	}
}

// LatestVaR returns a portfolio's most recent calculation, preferring the
// engine's in-memory record and falling back to the archive.
func (s *Service) LatestVaR(ctx context.Context, portfolioID string) (model.VaRCalculation, error) {
	calc, err := s.vars.LatestCalculation(portfolioID)
	if err == nil {
		return calc, nil
	}
	stored, serr := s.store.LatestVaR(ctx, portfolioID)
	if serr != nil {
		if errors.Is(serr, store.ErrNotFound) {
			return model.VaRCalculation{}, err
		}
		return model.VaRCalculation{}, serr
	}
	return *stored, nil
}

// VaRCalculation returns a calculation by id.
func (s *Service) VaRCalculation(id string) (model.VaRCalculation, error) {
	return s.vars.Calculation(id)
}

// VaRHistory returns a portfolio's archived calculations, newest first.
func (s *Service) VaRHistory(ctx context.Context, portfolioID string) ([]model.VaRCalculation, error) {
	return s.store.ListVaRCalculations(ctx, portfolioID)
}

// RunBacktest backtests a VaR series and archives the result. A backtested
// calculation is re-archived in its new state.
func (s *Service) RunBacktest(ctx context.Context, req varengine.BacktestRequest) (model.VaRBacktest, error) {
	start := time.Now()
	bt, err := s.vars.RunBacktest(ctx, req)
	metrics.ObserveCalculation("backtest", string(req.Method), start, err)
	if err != nil {
		return model.VaRBacktest{}, err
	}
	if err := s.store.SaveBacktest(ctx, &bt); err != nil {
		s.log.Error("backtest not archived", "id", bt.ID, "portfolio", bt.PortfolioID, "error", err)
	}
	if bt.CalculationID != "" {
		if calc, err := s.vars.Calculation(bt.CalculationID); err == nil {
			if err := s.store.SaveVaRCalculation(ctx, &calc); err != nil {
				s.log.Error("backtested calculation not archived", "id", calc.ID, "error", err)
			}
		}
	}
	if bt.PassFail == "fail" {
		s.publish(ctx, events.BacktestFailed, bt.PortfolioID, bt)
	}
	return bt, nil
}

// Backtests returns a portfolio's archived backtests, newest first.
func (s *Service) Backtests(ctx context.Context, portfolioID string) ([]model.VaRBacktest, error) {
	return s.store.ListBacktests(ctx, portfolioID)
}

// RecordException logs a realized loss against a predicted VaR.
func (s *Service) RecordException(ctx context.Context, portfolioID string, date time.Time, predicted, actualLoss decimal.Decimal) (model.VaRException, error) {
	return s.vars.RecordException(ctx, portfolioID, date, predicted, actualLoss)
}

// Exceptions returns a portfolio's recorded exceptions.
func (s *Service) Exceptions(portfolioID string) []model.VaRException {
	return s.vars.Exceptions(portfolioID)
}

// --- Greeks ---

// CalculateGreeks prices one position's greeks.
func (s *Service) CalculateGreeks(ctx context.Context, id arena.ID) (model.GreeksCalculation, error) {
	p, err := s.ledger.Position(id)
	if err != nil {
		return model.GreeksCalculation{}, err
	}
	mkt, err := s.marketData(ctx, s.now())
	if err != nil {
		return model.GreeksCalculation{}, err
	}
	start := time.Now()
	g, err := s.sens.CalculateGreeks(ctx, p, mkt)
	metrics.ObserveCalculation("greeks", "black_scholes", start, err)
	return g, err
}

// GreeksHistory returns a position's greeks calculations.
func (s *Service) GreeksHistory(id arena.ID) []model.GreeksCalculation {
	return s.sens.GreeksHistory(id)
}

// PortfolioGreeks aggregates greeks over a portfolio's open positions.
func (s *Service) PortfolioGreeks(ctx context.Context, portfolioID string) (model.PortfolioGreeks, error) {
	mkt, err := s.marketData(ctx, s.now())
	if err != nil {
		return model.PortfolioGreeks{}, err
	}
	start := time.Now()
	g, err := s.sens.PortfolioGreeks(ctx, portfolioID, s.ledger.Snapshot(portfolioID).Positions, mkt)
	metrics.ObserveCalculation("portfolio_greeks", "black_scholes", start, err)
	return g, err
}

// RunSensitivityAnalysis computes a portfolio's shock-response curve to one
// risk factor.
func (s *Service) RunSensitivityAnalysis(ctx context.Context, portfolioID string, factor model.RiskFactor, shocks []decimal.Decimal) (model.SensitivityAnalysis, error) {
	mkt, err := s.marketData(ctx, s.now())
	if err != nil {
		return model.SensitivityAnalysis{}, err
	}
	start := time.Now()
	res, err := s.sens.RunSensitivityAnalysis(ctx, portfolioID, factor, shocks, s.ledger.Snapshot(portfolioID).Positions, mkt)
	metrics.ObserveCalculation("sensitivity", string(factor), start, err)
	return res, err
}
