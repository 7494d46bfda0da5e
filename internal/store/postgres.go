package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/model"
)

//go:embed schema.sql
var schema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary headline values are stored as NUMERIC for exact decimal precision;
// breakdowns live in a JSONB detail column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveVaRCalculation(ctx context.Context, c *model.VaRCalculation) error {
	detail, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode var calculation %s: %w", c.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO var_calculations (id, portfolio_id, method, confidence_level, horizon_days,
		        portfolio_value, var_amount, expected_shortfall, state, calculated_at, detail)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11::JSONB)
		 ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, detail = EXCLUDED.detail`,
		c.ID, c.PortfolioID, c.Method, c.ConfidenceLevel, c.HorizonDays,
		c.PortfolioValue.String(), c.VaRAmount.String(), c.ExpectedShortfall.String(),
		c.State, c.CalculatedAt, string(detail),
	)
	return err
}

const varColumns = `portfolio_value::TEXT, var_amount::TEXT, expected_shortfall::TEXT, detail`

func (s *PostgresStore) LatestVaR(ctx context.Context, portfolioID string) (*model.VaRCalculation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+varColumns+` FROM var_calculations
		 WHERE portfolio_id = $1 ORDER BY calculated_at DESC LIMIT 1`, portfolioID)
	c, err := scanVaR(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest var %s: %w", portfolioID, err)
	}
	return &c, nil
}

func (s *PostgresStore) ListVaRCalculations(ctx context.Context, portfolioID string) ([]model.VaRCalculation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+varColumns+` FROM var_calculations
		 WHERE portfolio_id = $1 ORDER BY calculated_at DESC`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.VaRCalculation
	for rows.Next() {
		c, err := scanVaR(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanVaR(row pgx.Row) (model.VaRCalculation, error) {
	var c model.VaRCalculation
	var valueS, varS, esS string
	var detail []byte
	if err := row.Scan(&valueS, &varS, &esS, &detail); err != nil {
		return c, err
	}
	if err := json.Unmarshal(detail, &c); err != nil {
		return c, fmt.Errorf("decode var detail: %w", err)
	}
	c.PortfolioValue, _ = decimal.NewFromString(valueS)
	c.VaRAmount, _ = decimal.NewFromString(varS)
	c.ExpectedShortfall, _ = decimal.NewFromString(esS)
	return c, nil
}

func (s *PostgresStore) SaveBacktest(ctx context.Context, b *model.VaRBacktest) error {
	detail, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode backtest %s: %w", b.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO var_backtests (id, portfolio_id, calculation_id, traffic_light_zone,
		        exceptions, observations, created_at, detail)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8::JSONB)`,
		b.ID, b.PortfolioID, b.CalculationID, b.TrafficLightZone,
		b.Exceptions, b.Observations, b.CreatedAt, string(detail),
	)
	return err
}

func (s *PostgresStore) ListBacktests(ctx context.Context, portfolioID string) ([]model.VaRBacktest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT detail FROM var_backtests WHERE portfolio_id = $1 ORDER BY created_at DESC`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDetail[model.VaRBacktest](rows)
}

func (s *PostgresStore) SaveStressResult(ctx context.Context, r *model.StressTestResult) error {
	detail, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode stress result %s: %w", r.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO stress_results (id, portfolio_id, scenario_id, test_day, test_date, pnl_impact, detail)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::JSONB)
		 ON CONFLICT (portfolio_id, scenario_id, test_day) DO UPDATE
		 SET id = EXCLUDED.id, test_date = EXCLUDED.test_date,
		     pnl_impact = EXCLUDED.pnl_impact, detail = EXCLUDED.detail`,
		r.ID, r.PortfolioID, r.ScenarioID, truncateDay(r.TestDate), r.TestDate,
		r.PnLImpact.String(), string(detail),
	)
	return err
}

func (s *PostgresStore) ListStressResults(ctx context.Context, portfolioID string) ([]model.StressTestResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT detail FROM stress_results WHERE portfolio_id = $1 ORDER BY test_date DESC`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDetail[model.StressTestResult](rows)
}

func (s *PostgresStore) SaveDailyPnL(ctx context.Context, p *model.DailyPnL) error {
	attr, err := json.Marshal(p.Attribution)
	if err != nil {
		return fmt.Errorf("encode attribution: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO daily_pnl (portfolio_id, date, opening_value, closing_value, pnl,
		        cumulative_pnl, realized_pnl, unrealized_pnl, attribution)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::JSONB)
		 ON CONFLICT (portfolio_id, date) DO UPDATE
		 SET opening_value = EXCLUDED.opening_value, closing_value = EXCLUDED.closing_value,
		     pnl = EXCLUDED.pnl, cumulative_pnl = EXCLUDED.cumulative_pnl,
		     realized_pnl = EXCLUDED.realized_pnl, unrealized_pnl = EXCLUDED.unrealized_pnl,
		     attribution = EXCLUDED.attribution`,
		p.PortfolioID, truncateDay(p.Date),
		p.OpeningValue.String(), p.ClosingValue.String(), p.PnL.String(),
		p.CumulativePnL.String(), p.RealizedPnL.String(), p.UnrealizedPnL.String(),
		string(attr),
	)
	return err
}

func (s *PostgresStore) ListDailyPnL(ctx context.Context, portfolioID string) ([]model.DailyPnL, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT date, opening_value::TEXT, closing_value::TEXT, pnl::TEXT,
		        cumulative_pnl::TEXT, realized_pnl::TEXT, unrealized_pnl::TEXT, attribution
		 FROM daily_pnl WHERE portfolio_id = $1 ORDER BY date`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DailyPnL
	for rows.Next() {
		p := model.DailyPnL{PortfolioID: portfolioID}
		var openS, closeS, pnlS, cumS, realS, unrealS string
		var attr []byte
		if err := rows.Scan(&p.Date, &openS, &closeS, &pnlS, &cumS, &realS, &unrealS, &attr); err != nil {
			return nil, err
		}
		p.OpeningValue, _ = decimal.NewFromString(openS)
		p.ClosingValue, _ = decimal.NewFromString(closeS)
		p.PnL, _ = decimal.NewFromString(pnlS)
		p.CumulativePnL, _ = decimal.NewFromString(cumS)
		p.RealizedPnL, _ = decimal.NewFromString(realS)
		p.UnrealizedPnL, _ = decimal.NewFromString(unrealS)
		if err := json.Unmarshal(attr, &p.Attribution); err != nil {
			return nil, fmt.Errorf("decode attribution: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// pgxRows is the subset of pgx.Rows the scanners need.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanDetail[T any](rows pgxRows) ([]T, error) {
	var out []T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode detail: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
