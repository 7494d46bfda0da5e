// Package store defines the persistence interface for risk results.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/risk-engine/internal/model"
)

// ErrNotFound is returned when no stored result matches.
var ErrNotFound = errors.New("store: not found")

// Store archives calculation outputs. PostgreSQL is the source of truth;
// Redis caches the latest VaR per portfolio.
type Store interface {
	// --- VaR ---

	// SaveVaRCalculation persists a calculation, replacing one with the same id.
	SaveVaRCalculation(ctx context.Context, c *model.VaRCalculation) error

	// LatestVaR returns the most recent calculation of a portfolio.
	LatestVaR(ctx context.Context, portfolioID string) (*model.VaRCalculation, error)

	// ListVaRCalculations returns a portfolio's calculations, newest first.
	ListVaRCalculations(ctx context.Context, portfolioID string) ([]model.VaRCalculation, error)

	// SaveBacktest persists a backtest.
	SaveBacktest(ctx context.Context, b *model.VaRBacktest) error

	// ListBacktests returns a portfolio's backtests, newest first.
	ListBacktests(ctx context.Context, portfolioID string) ([]model.VaRBacktest, error)

	// --- Stress ---

	// SaveStressResult persists a result, superseding the same scenario on
	// the same day.
	SaveStressResult(ctx context.Context, r *model.StressTestResult) error

	// ListStressResults returns a portfolio's stress results, newest first.
	ListStressResults(ctx context.Context, portfolioID string) ([]model.StressTestResult, error)

	// --- P&L ---

	// SaveDailyPnL persists a daily P&L entry, superseding the same date.
	SaveDailyPnL(ctx context.Context, p *model.DailyPnL) error

	// ListDailyPnL returns a portfolio's P&L series, oldest first.
	ListDailyPnL(ctx context.Context, portfolioID string) ([]model.DailyPnL, error)
}
