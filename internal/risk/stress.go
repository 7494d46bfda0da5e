package risk

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/events"
	"github.com/atmx/risk-engine/internal/metrics"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/stress"
)

// --- Scenarios ---

// CreateScenario registers a custom scenario.
func (s *Service) CreateScenario(ctx context.Context, req stress.ScenarioRequest) (model.StressScenario, error) {
	return s.stress.Registry().CreateScenario(ctx, req)
}

// Scenario returns a scenario by id.
func (s *Service) Scenario(id string) (model.StressScenario, error) {
	return s.stress.Registry().Scenario(id)
}

// Scenarios lists scenarios in registration order.
func (s *Service) Scenarios(activeOnly bool) []model.StressScenario {
	return s.stress.Registry().Scenarios(activeOnly)
}

// SetScenarioActive activates or deactivates a scenario.
func (s *Service) SetScenarioActive(ctx context.Context, id string, active bool) (model.StressScenario, error) {
	return s.stress.Registry().SetActive(ctx, id, active)
}

// --- Stress runs ---

// seed fills CurrentVaR from the portfolio's latest calculation when the
// caller left it unset.
func (s *Service) seed(ctx context.Context, portfolioID string, opts stress.RunOptions) stress.RunOptions {
	if !opts.CurrentVaR.IsZero() {
		return opts
	}
	if calc, err := s.LatestVaR(ctx, portfolioID); err == nil {
		opts.CurrentVaR = calc.VaRAmount
		if opts.ConfidenceLevel == 0 {
			opts.ConfidenceLevel = calc.ConfidenceLevel
		}
	}
	if opts.ConfidenceLevel == 0 {
		opts.ConfidenceLevel = s.def.ConfidenceLevel
	}
	return opts
}

// RunStressTest applies one active scenario to a portfolio.
func (s *Service) RunStressTest(ctx context.Context, portfolioID, scenarioID string, opts stress.RunOptions) (model.StressTestResult, error) {
	mkt, err := s.marketData(ctx, s.now())
	if err != nil {
		return model.StressTestResult{}, err
	}
	start := time.Now()
	res, err := s.stress.RunStressTest(ctx, scenarioID, s.ledger.Snapshot(portfolioID), mkt, s.seed(ctx, portfolioID, opts))
	metrics.ObserveCalculation("stress", "scenario", start, err)
	if err != nil {
		return model.StressTestResult{}, err
	}
	s.recordStress(ctx, res)
	return res, nil
}

// ReplayHistoricalScenario replays a historical catalog scenario.
func (s *Service) ReplayHistoricalScenario(ctx context.Context, portfolioID, scenarioID string) (model.StressTestResult, error) {
	mkt, err := s.marketData(ctx, s.now())
	if err != nil {
		return model.StressTestResult{}, err
	}
	start := time.Now()
	res, err := s.stress.ReplayHistoricalScenario(ctx, scenarioID, s.ledger.Snapshot(portfolioID), mkt)
	metrics.ObserveCalculation("stress", "historical_replay", start, err)
	if err != nil {
		return model.StressTestResult{}, err
	}
	s.recordStress(ctx, res)
	return res, nil
}

// RunAllScenarios runs every active scenario against a portfolio.
func (s *Service) RunAllScenarios(ctx context.Context, portfolioID string, opts stress.RunOptions) ([]stress.ScenarioOutcome, error) {
	mkt, err := s.marketData(ctx, s.now())
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := s.stress.RunAllScenarios(ctx, s.ledger.Snapshot(portfolioID), mkt, s.seed(ctx, portfolioID, opts))
	metrics.ObserveCalculation("stress", "all", start, err)
	if err != nil {
		return nil, err
	}
	for _, o := range out {
		if o.Result != nil {
			s.recordStress(ctx, *o.Result)
		}
	}
	return out, nil
}

func (s *Service) recordStress(ctx context.Context, res model.StressTestResult) {
	metrics.StressRuns.WithLabelValues(res.ScenarioID).Inc()
	if err := s.store.SaveStressResult(ctx, &res); err != nil {
		s.log.Error("stress result not archived", "id", res.ID, "scenario", res.ScenarioID, "error", err)
	}
	for _, b := range res.BreachedLimits {
		metrics.LimitBreaches.WithLabelValues(b.LimitType).Inc()
	}
	s.publish(ctx, events.StressCompleted, res.PortfolioID, res)
}

// StressResults returns a portfolio's archived stress results, newest first.
func (s *Service) StressResults(ctx context.Context, portfolioID string) ([]model.StressTestResult, error) {
	return s.store.ListStressResults(ctx, portfolioID)
}

// RunReverseStressTest screens the registry for scenarios that would produce
// at least targetLoss on the portfolio.
func (s *Service) RunReverseStressTest(ctx context.Context, portfolioID string, targetLoss decimal.Decimal, factors []model.RiskFactor) (model.ReverseStressTest, error) {
	mkt, err := s.marketData(ctx, s.now())
	if err != nil {
		return model.ReverseStressTest{}, err
	}
	start := time.Now()
	res, err := s.stress.RunReverseStressTest(ctx, targetLoss, factors, s.ledger.Snapshot(portfolioID), mkt)
	metrics.ObserveCalculation("stress", "reverse", start, err)
	return res, err
}
