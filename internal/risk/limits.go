package risk

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/events"
	"github.com/atmx/risk-engine/internal/limits"
	"github.com/atmx/risk-engine/internal/metrics"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/varengine"
)

// CreateVaRLimit registers a VaR limit on a portfolio.
func (s *Service) CreateVaRLimit(ctx context.Context, req limits.VaRLimitRequest) (model.VaRLimit, error) {
	return s.limits.CreateVaRLimit(ctx, req)
}

// CheckLimit compares a VaR figure against a limit and reports the zone.
func (s *Service) CheckLimit(ctx context.Context, limitID string, currentVaR decimal.Decimal) (limits.LimitStatus, error) {
	st, err := s.limits.CheckLimit(ctx, limitID, currentVaR)
	if err != nil {
		return limits.LimitStatus{}, err
	}
	s.reportLimits(ctx, []limits.LimitStatus{st})
	return st, nil
}

// VaRLimit returns a limit by id.
func (s *Service) VaRLimit(id string) (model.VaRLimit, error) { return s.limits.Limit(id) }

// VaRLimits lists a portfolio's limits, or all limits for an empty id.
func (s *Service) VaRLimits(portfolioID string) []model.VaRLimit { return s.limits.Limits(portfolioID) }

// BookEvaluation is one book's metrics and the limits they breach.
type BookEvaluation struct {
	Book     model.Book          `json:"book"`
	Metrics  limits.BookMetrics  `json:"metrics"`
	Breaches []model.LimitBreach `json:"breaches"`
}

// EvaluateBooks checks every book holding positions in the portfolio against
// its VaR, P&L and gross limits. Book VaR uses the default method and is left
// at zero when it cannot be computed.
func (s *Service) EvaluateBooks(ctx context.Context, portfolioID string) ([]BookEvaluation, error) {
	mkt, err := s.marketData(ctx, s.now())
	if err != nil {
		return nil, err
	}
	snap := s.ledger.Snapshot(portfolioID)

	var out []BookEvaluation
	for _, book := range s.ledger.Books() {
		held := snap.Filter(func(p model.Position) bool { return p.BookID == book.ID })
		if held.Len() == 0 {
			continue
		}
		mt := limits.BookMetrics{GrossExposure: held.GrossExposure()}
		for _, p := range held.Positions {
			mt.DailyPnL = mt.DailyPnL.Add(p.UnrealizedPnL)
		}
		calc, err := s.vars.Compute(ctx, varengine.Request{
			PortfolioID:     portfolioID,
			Method:          model.VaRParametric,
			ConfidenceLevel: s.def.ConfidenceLevel,
			HorizonDays:     s.def.HorizonDays,
			Positions:       held,
			Market:          mkt,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warn("book var not computed", "book", book.ID, "error", err)
		} else {
			mt.VaR = calc.VaRAmount
		}

		ev := BookEvaluation{Book: book, Metrics: mt, Breaches: limits.EvaluateBook(book, mt)}
		if ev.Breaches == nil {
			ev.Breaches = []model.LimitBreach{}
		}
		for _, b := range ev.Breaches {
			metrics.LimitBreaches.WithLabelValues(b.LimitType).Inc()
			s.publish(ctx, events.LimitBreached, portfolioID, b)
		}
		out = append(out, ev)
	}
	return out, nil
}
