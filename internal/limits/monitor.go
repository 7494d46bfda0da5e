// Package limits evaluates VaR limits, book limits and pre-trade
// concentration caps.
package limits

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/model"
)

const entityLimit = "var_limit"

// Limit types reported in model.LimitBreach.
const (
	TypeVaRLimit = "var_limit"
	TypeBookVaR  = "var"
	TypeBookPnL  = "pnl"
	TypeGross    = "gross"
)

var (
	hundred                 = decimal.NewFromInt(100)
	DefaultWarningThreshold = decimal.NewFromInt(80)
)

// Status is the outcome of a limit check.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusBreach  Status = "breach"
)

// LimitStatus is a checked VaR limit.
type LimitStatus struct {
	Limit  model.VaRLimit `json:"limit"`
	Status Status         `json:"status"`
}

// Breached reports whether utilization reached 100%.
func (s LimitStatus) Breached() bool { return s.Status == StatusBreach }

// Breach converts a breached status to a model.LimitBreach.
func (s LimitStatus) Breach() model.LimitBreach {
	return model.LimitBreach{
		LimitType:   TypeVaRLimit,
		LimitID:     s.Limit.ID,
		Limit:       s.Limit.LimitAmount,
		Value:       s.Limit.CurrentVaR,
		Utilization: s.Limit.Utilization,
	}
}

// VaRLimitRequest defines a new VaR limit. A zero warning threshold means
// DefaultWarningThreshold.
type VaRLimitRequest struct {
	PortfolioID      string          `json:"portfolio_id"`
	LimitAmount      decimal.Decimal `json:"limit_amount"`
	WarningThreshold decimal.Decimal `json:"warning_threshold"`
}

// BookSource resolves book definitions. *ledger.Ledger satisfies it.
type BookSource interface {
	Book(id string) (model.Book, error)
}

// BookMetrics are the figures a book's limits are evaluated against.
type BookMetrics struct {
	VaR           decimal.Decimal `json:"var"`
	DailyPnL      decimal.Decimal `json:"daily_pnl"`
	GrossExposure decimal.Decimal `json:"gross_exposure"`
}

// Monitor holds VaR limits and evaluates them as VaR figures arrive.
type Monitor struct {
	mu          sync.RWMutex
	limits      map[string]model.VaRLimit
	byPortfolio map[string][]string

	books BookSource
	now   func() time.Time
	log   *slog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithBooks enables book-level checks on stress results.
func WithBooks(b BookSource) Option { return func(m *Monitor) { m.books = b } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Monitor) { m.log = l } }

// NewMonitor creates an empty Monitor.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		limits:      make(map[string]model.VaRLimit),
		byPortfolio: make(map[string][]string),
		now:         func() time.Time { return time.Now().UTC() },
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CreateVaRLimit registers a VaR limit for a portfolio.
func (m *Monitor) CreateVaRLimit(_ context.Context, req VaRLimitRequest) (model.VaRLimit, error) {
	if req.PortfolioID == "" {
		return model.VaRLimit{}, apperrors.Validation(entityLimit, "", "portfolio_id", "portfolio id is required")
	}
	if !req.LimitAmount.IsPositive() {
		return model.VaRLimit{}, apperrors.Validation(entityLimit, "", "limit_amount", "limit must be positive, got %s", req.LimitAmount)
	}
	th := req.WarningThreshold
	if th.IsZero() {
		th = DefaultWarningThreshold
	}
	if th.IsNegative() || th.GreaterThan(hundred) {
		return model.VaRLimit{}, apperrors.Validation(entityLimit, "", "warning_threshold", "threshold must be within 0-100, got %s", th)
	}

	lim := model.VaRLimit{
		ID:               uuid.New().String(),
		PortfolioID:      req.PortfolioID,
		LimitAmount:      req.LimitAmount,
		WarningThreshold: th,
		UpdatedAt:        m.now(),
	}

	m.mu.Lock()
	m.limits[lim.ID] = lim
	m.byPortfolio[lim.PortfolioID] = append(m.byPortfolio[lim.PortfolioID], lim.ID)
	m.mu.Unlock()

	m.log.Info("var limit created", "id", lim.ID, "portfolio", lim.PortfolioID, "limit", lim.LimitAmount.String())
	return lim, nil
}

// CheckLimit evaluates currentVaR against a limit and stores the refreshed
// utilization and breach flag.
func (m *Monitor) CheckLimit(_ context.Context, limitID string, currentVaR decimal.Decimal) (LimitStatus, error) {
	if currentVaR.IsNegative() {
		return LimitStatus{}, apperrors.Validation(entityLimit, limitID, "current_var", "VaR must not be negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.limits[limitID]
	if !ok {
		return LimitStatus{}, apperrors.NotFound(entityLimit, limitID)
	}
	st := m.applyLocked(lim, currentVaR)
	return st, nil
}

func (m *Monitor) applyLocked(lim model.VaRLimit, v decimal.Decimal) LimitStatus {
	util := v.Div(lim.LimitAmount).Mul(hundred).Round(4)
	lim.CurrentVaR = v
	lim.Utilization = util
	lim.Breached = util.GreaterThanOrEqual(hundred)
	lim.UpdatedAt = m.now()
	m.limits[lim.ID] = lim

	st := LimitStatus{Limit: lim, Status: StatusOK}
	switch {
	case lim.Breached:
		st.Status = StatusBreach
		m.log.Warn("var limit breached", "id", lim.ID, "portfolio", lim.PortfolioID,
			"var", v.String(), "limit", lim.LimitAmount.String(), "utilization", util.String())
	case util.GreaterThanOrEqual(lim.WarningThreshold):
		st.Status = StatusWarning
		m.log.Info("var limit warning", "id", lim.ID, "portfolio", lim.PortfolioID, "utilization", util.String())
	}
	return st
}

// OnVaRCalculated refreshes every VaR limit of the calculation's portfolio.
func (m *Monitor) OnVaRCalculated(calc model.VaRCalculation) []LimitStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byPortfolio[calc.PortfolioID]
	out := make([]LimitStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.applyLocked(m.limits[id], calc.VaRAmount))
	}
	return out
}

// Limit returns a limit by id.
func (m *Monitor) Limit(id string) (model.VaRLimit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lim, ok := m.limits[id]
	if !ok {
		return model.VaRLimit{}, apperrors.NotFound(entityLimit, id)
	}
	return lim, nil
}

// Limits returns a portfolio's limits, or all limits for an empty id.
func (m *Monitor) Limits(portfolioID string) []model.VaRLimit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.VaRLimit, 0, len(m.limits))
	for _, lim := range m.limits {
		if portfolioID == "" || lim.PortfolioID == portfolioID {
			out = append(out, lim)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PortfolioID != out[j].PortfolioID {
			return out[i].PortfolioID < out[j].PortfolioID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Breaches returns the number of currently breached limits.
func (m *Monitor) Breaches() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, lim := range m.limits {
		if lim.Breached {
			n++
		}
	}
	return n
}

// EvaluateBook checks a book's VaR, P&L and gross exposure limits. A zero
// limit is not enforced. P&L breaches when the loss exceeds the limit.
func EvaluateBook(book model.Book, mt BookMetrics) []model.LimitBreach {
	var out []model.LimitBreach
	if book.VaRLimit.IsPositive() && mt.VaR.GreaterThan(book.VaRLimit) {
		out = append(out, breach(TypeBookVaR, book.ID, book.VaRLimit, mt.VaR))
	}
	if loss := mt.DailyPnL.Neg(); book.PnLLimit.IsPositive() && loss.GreaterThan(book.PnLLimit) {
		out = append(out, breach(TypeBookPnL, book.ID, book.PnLLimit, loss))
	}
	if book.GrossLimit.IsPositive() && mt.GrossExposure.GreaterThan(book.GrossLimit) {
		out = append(out, breach(TypeGross, book.ID, book.GrossLimit, mt.GrossExposure))
	}
	return out
}

func breach(typ, id string, limit, value decimal.Decimal) model.LimitBreach {
	return model.LimitBreach{
		LimitType:   typ,
		LimitID:     id,
		Limit:       limit,
		Value:       value,
		Utilization: value.Div(limit).Mul(hundred).Round(4),
	}
}

// StressBreaches reports the limits a stressed portfolio would breach: its
// VaR limits against the post-stress VaR, and each book's P&L and gross
// limits against the stressed book. Stored limits are not modified.
func (m *Monitor) StressBreaches(res model.StressTestResult) []model.LimitBreach {
	var out []model.LimitBreach

	m.mu.RLock()
	for _, id := range m.byPortfolio[res.PortfolioID] {
		lim := m.limits[id]
		if res.VaRAfter.GreaterThanOrEqual(lim.LimitAmount) {
			out = append(out, breach(TypeVaRLimit, lim.ID, lim.LimitAmount, res.VaRAfter))
		}
	}
	m.mu.RUnlock()

	if m.books == nil {
		return out
	}
	type agg struct{ pnl, gross decimal.Decimal }
	byBook := make(map[string]agg)
	var order []string
	for _, pi := range res.PositionImpacts {
		if pi.BookID == "" {
			continue
		}
		a, seen := byBook[pi.BookID]
		if !seen {
			order = append(order, pi.BookID)
		}
		a.pnl = a.pnl.Add(pi.PnLImpact)
		a.gross = a.gross.Add(pi.MarketValue.Add(pi.PnLImpact).Abs())
		byBook[pi.BookID] = a
	}
	for _, id := range order {
		book, err := m.books.Book(id)
		if err != nil {
			continue
		}
		a := byBook[id]
		out = append(out, EvaluateBook(book, BookMetrics{DailyPnL: a.pnl, GrossExposure: a.gross})...)
	}
	return out
}
