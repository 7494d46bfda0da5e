package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atmx/risk-engine/internal/events"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/stress"
)

// RecordDailyPnL appends a portfolio's P&L for date and archives it.
func (s *Service) RecordDailyPnL(ctx context.Context, portfolioID string, date time.Time, explained model.PnLAttribution) (model.DailyPnL, error) {
	entry, err := s.ledger.RecordDailyPnL(ctx, portfolioID, date, explained)
	if err != nil {
		return model.DailyPnL{}, err
	}
	if err := s.store.SaveDailyPnL(ctx, &entry); err != nil {
		s.log.Error("daily pnl not archived", "portfolio", portfolioID, "date", entry.Date.Format(time.DateOnly), "error", err)
	}
	return entry, nil
}

// DailyPnL returns a portfolio's P&L entries within [from, to]. Zero bounds
// are open.
func (s *Service) DailyPnL(portfolioID string, from, to time.Time) []model.DailyPnL {
	return s.ledger.DailyPnL(portfolioID, from, to)
}

// EODReport summarizes one portfolio's end-of-day run.
type EODReport struct {
	PortfolioID string                `json:"portfolio_id"`
	Date        time.Time             `json:"date"`
	Marked      int                   `json:"marked"`
	PnL         *model.DailyPnL       `json:"pnl,omitempty"`
	VaR         *model.VaRCalculation `json:"var,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// RunEOD marks every portfolio to market, records its daily P&L and computes
// its default VaR. A failing portfolio is reported and does not stop the run;
// the joined errors are returned alongside the reports.
func (s *Service) RunEOD(ctx context.Context, date time.Time) ([]EODReport, error) {
	var (
		reports []EODReport
		errs    []error
	)
	for _, pid := range s.ledger.Portfolios() {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := s.runPortfolioEOD(ctx, pid, date)
		if err != nil {
			rep.Error = err.Error()
			errs = append(errs, fmt.Errorf("portfolio %s: %w", pid, err))
			s.log.Error("eod failed", "portfolio", pid, "date", date.Format(time.DateOnly), "error", err)
		}
		reports = append(reports, rep)
	}
	s.log.Info("eod completed", "date", date.Format(time.DateOnly), "portfolios", len(reports), "failed", len(errs))
	return reports, errors.Join(errs...)
}

func (s *Service) runPortfolioEOD(ctx context.Context, pid string, date time.Time) (EODReport, error) {
	rep := EODReport{PortfolioID: pid, Date: date}

	marked, err := s.MarkToMarket(ctx, pid, date)
	if err != nil {
		return rep, err
	}
	rep.Marked = marked

	entry, err := s.RecordDailyPnL(ctx, pid, date, model.PnLAttribution{})
	if err != nil {
		return rep, err
	}
	rep.PnL = &entry

	res, err := s.CalculateVaR(ctx, VaRRequest{PortfolioID: pid})
	if err != nil {
		return rep, err
	}
	rep.VaR = &res.Calculation

	s.publish(ctx, events.EODCompleted, pid, rep)
	return rep, nil
}

// RunNightlyStress runs every active scenario against every portfolio.
func (s *Service) RunNightlyStress(ctx context.Context) (map[string][]stress.ScenarioOutcome, error) {
	out := make(map[string][]stress.ScenarioOutcome)
	for _, pid := range s.ledger.Portfolios() {
		res, err := s.RunAllScenarios(ctx, pid, stress.RunOptions{})
		if err != nil {
			return out, err
		}
		out[pid] = res
	}
	return out, nil
}

// Statistics are aggregate counters across the engine.
type Statistics struct {
	OpenPositions     int   `json:"open_positions"`
	ClosedPositions   int   `json:"closed_positions"`
	Portfolios        int   `json:"portfolios"`
	Books             int   `json:"books"`
	VaRCalculations   int   `json:"var_calculations"`
	StressRuns        int   `json:"stress_runs"`
	Scenarios         int   `json:"scenarios"`
	ActiveScenarios   int   `json:"active_scenarios"`
	VaRLimits         int   `json:"var_limits"`
	BreachedLimits    int   `json:"breached_limits"`
	WorkersInFlight   int64 `json:"workers_in_flight"`
	WorkerConcurrency int   `json:"worker_concurrency"`
}

// Statistics returns the engine's counters.
func (s *Service) Statistics() Statistics {
	open, closed := s.ledger.Counts()
	return Statistics{
		OpenPositions:     open,
		ClosedPositions:   closed,
		Portfolios:        len(s.ledger.Portfolios()),
		Books:             len(s.ledger.Books()),
		VaRCalculations:   s.vars.Count(),
		StressRuns:        s.stress.Count(),
		Scenarios:         len(s.stress.Registry().Scenarios(false)),
		ActiveScenarios:   len(s.stress.Registry().Scenarios(true)),
		VaRLimits:         len(s.limits.Limits("")),
		BreachedLimits:    s.limits.Breaches(),
		WorkersInFlight:   s.pool.InFlight(),
		WorkerConcurrency: s.pool.Size(),
	}
}
