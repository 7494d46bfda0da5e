package varengine

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/model"
)

// BacktestRequest pairs predicted VaR with the realized P&L of the same day.
// Predicted values are positive loss amounts; realized losses are negative.
type BacktestRequest struct {
	PortfolioID     string            `json:"portfolio_id"`
	CalculationID   string            `json:"calculation_id,omitempty"`
	Method          model.VaRMethod   `json:"method"`
	ConfidenceLevel float64           `json:"confidence_level"`
	StartDate       time.Time         `json:"start_date"`
	Dates           []time.Time       `json:"dates,omitempty"`
	Predicted       []decimal.Decimal `json:"predicted_var"`
	Actual          []decimal.Decimal `json:"actual_pnl"`
}

func (r BacktestRequest) date(i int) time.Time {
	if i < len(r.Dates) {
		return r.Dates[i]
	}
	return r.StartDate.AddDate(0, 0, i)
}

// Kupiec returns the proportion-of-failures likelihood ratio for x exceptions
// in n observations at expected rate p, and its χ²(1) p-value. The x=0 and
// x=n cases use the limits of x·ln(x/n).
func Kupiec(n, x int, p float64) (lr, pValue float64) {
	N, X := float64(n), float64(x)
	phat := X / N
	null := xlogy(N-X, 1-p) + xlogy(X, p)
	alt := xlogy(N-X, 1-phat) + xlogy(X, phat)
	lr = -2 * (null - alt)
	if lr < 0 {
		lr = 0
	}
	pValue = 1 - distuv.ChiSquared{K: 1}.CDF(lr)
	return lr, pValue
}

func xlogy(x, y float64) float64 {
	if x == 0 {
		return 0
	}
	return x * math.Log(y)
}

// TrafficLightZone classifies an exception rate against the expected rate.
func TrafficLightZone(rate, expected float64) model.TrafficLight {
	switch {
	case rate <= 1.5*expected:
		return model.ZoneGreen
	case rate <= 2*expected:
		return model.ZoneYellow
	}
	return model.ZoneRed
}

// RunBacktest counts days where the realized loss exceeded the predicted VaR
// and scores them with the Kupiec test and traffic-light zones. When the
// request names a calculation it is marked backtested.
func (e *Engine) RunBacktest(_ context.Context, req BacktestRequest) (model.VaRBacktest, error) {
	id := req.PortfolioID
	if id == "" {
		return model.VaRBacktest{}, apperrors.Validation(entityBacktest, "", "portfolio_id", "portfolio_id is required")
	}
	if len(req.Predicted) == 0 || len(req.Actual) == 0 {
		return model.VaRBacktest{}, apperrors.Validation(entityBacktest, id, "predicted_var", "predicted and actual series must be non-empty")
	}
	if len(req.Predicted) != len(req.Actual) {
		return model.VaRBacktest{}, apperrors.Validation(entityBacktest, id, "actual_pnl",
			"series length mismatch: %d predicted, %d actual", len(req.Predicted), len(req.Actual))
	}
	if _, ok := ZScore(req.ConfidenceLevel); !ok {
		return model.VaRBacktest{}, apperrors.Validation(entityBacktest, id, "confidence_level", "unsupported confidence %g", req.ConfidenceLevel)
	}
	for i, p := range req.Predicted {
		if p.IsNegative() {
			return model.VaRBacktest{}, apperrors.Validation(entityBacktest, id, "predicted_var", "predicted VaR at index %d is negative", i)
		}
	}

	var calc model.VaRCalculation
	if req.CalculationID != "" {
		c, err := e.Calculation(req.CalculationID)
		if err != nil {
			return model.VaRBacktest{}, err
		}
		calc = c
		if req.Method == "" {
			req.Method = c.Method
		}
	}

	bt := model.VaRBacktest{
		ID:              uuid.New().String(),
		PortfolioID:     id,
		CalculationID:   req.CalculationID,
		StartDate:       req.date(0),
		EndDate:         req.date(len(req.Actual) - 1),
		Method:          req.Method,
		ConfidenceLevel: req.ConfidenceLevel,
		Observations:    len(req.Actual),
		ExpectedRate:    1 - req.ConfidenceLevel,
		CreatedAt:       e.now(),
	}

	for i, actual := range req.Actual {
		if !actual.IsNegative() {
			continue
		}
		loss := actual.Abs()
		if !loss.GreaterThan(req.Predicted[i]) {
			continue
		}
		ex := newException(id, req.date(i), req.Predicted[i], loss)
		bt.ExceptionDetails = append(bt.ExceptionDetails, ex)
		if ex.ExceptionMultiplier.GreaterThan(bt.MaxExceptionRatio) {
			bt.MaxExceptionRatio = ex.ExceptionMultiplier
		}
	}
	bt.Exceptions = len(bt.ExceptionDetails)
	bt.ExceptionRate = float64(bt.Exceptions) / float64(bt.Observations)
	bt.KupiecStatistic, bt.KupiecPValue = Kupiec(bt.Observations, bt.Exceptions, bt.ExpectedRate)
	bt.TrafficLightZone = TrafficLightZone(bt.ExceptionRate, bt.ExpectedRate)
	bt.PassFail = "pass"
	if bt.TrafficLightZone == model.ZoneRed {
		bt.PassFail = "fail"
	}

	e.mu.Lock()
	e.backtests[id] = append(e.backtests[id], bt)
	if calc.ID != "" {
		calc.State = model.StateBacktested
		e.calcs[calc.ID] = calc
	}
	e.mu.Unlock()

	e.log.Info("var backtest completed",
		"portfolio", id,
		"observations", bt.Observations,
		"exceptions", bt.Exceptions,
		"zone", bt.TrafficLightZone,
	)
	return bt, nil
}

// Backtests returns a portfolio's backtests in run order.
func (e *Engine) Backtests(portfolioID string) []model.VaRBacktest {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.VaRBacktest(nil), e.backtests[portfolioID]...)
}

func newException(portfolioID string, date time.Time, predicted, loss decimal.Decimal) model.VaRException {
	mult := decimal.Zero
	if !predicted.IsZero() {
		mult = loss.Div(predicted).Round(8)
	}
	return model.VaRException{
		ID:                  uuid.New().String(),
		PortfolioID:         portfolioID,
		Date:                date,
		PredictedVaR:        predicted,
		ActualLoss:          loss,
		ExceptionMultiplier: mult,
	}
}

// RecordException appends a VaR exception to the portfolio's log. actualLoss
// is a positive loss amount.
func (e *Engine) RecordException(_ context.Context, portfolioID string, date time.Time, predicted, actualLoss decimal.Decimal) (model.VaRException, error) {
	if portfolioID == "" {
		return model.VaRException{}, apperrors.Validation(entityException, "", "portfolio_id", "portfolio_id is required")
	}
	if predicted.IsNegative() {
		return model.VaRException{}, apperrors.Validation(entityException, portfolioID, "predicted_var", "predicted VaR must not be negative")
	}
	if date.IsZero() {
		date = e.now()
	}
	ex := newException(portfolioID, date, predicted, actualLoss.Abs())

	e.mu.Lock()
	e.exceptions[portfolioID] = append(e.exceptions[portfolioID], ex)
	e.mu.Unlock()

	e.log.Warn("var exception recorded", "portfolio", portfolioID, "predicted", predicted.String(), "loss", ex.ActualLoss.String())
	return ex, nil
}

// Exceptions returns a portfolio's exception log, oldest first.
func (e *Engine) Exceptions(portfolioID string) []model.VaRException {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.VaRException(nil), e.exceptions[portfolioID]...)
}
