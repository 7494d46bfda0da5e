package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/model"
)

const entityDailyPnL = "daily_pnl"

// RecordDailyPnL appends the end-of-day P&L entry for date. The day's P&L is
// the change in cumulative total P&L since the previous entry. The market
// factor terms of explained (carry, fx, delta, gamma, theta, vega) come from
// the caller; trading is the realized P&L booked since the previous entry and
// residual is whatever the named terms leave unexplained.
//
// Recording the same date again supersedes that entry; recording a date
// earlier than the latest entry fails with InvalidState.
func (l *Ledger) RecordDailyPnL(_ context.Context, portfolioID string, date time.Time, explained model.PnLAttribution) (model.DailyPnL, error) {
	if portfolioID == "" {
		return model.DailyPnL{}, apperrors.Validation(entityDailyPnL, "", "portfolio_id", "portfolio_id is required")
	}
	day := truncateDay(date)

	l.mu.Lock()
	defer l.mu.Unlock()

	series := l.daily[portfolioID]
	var prev *model.DailyPnL
	replace := false
	if n := len(series); n > 0 {
		last := series[n-1]
		switch {
		case day.Before(last.Date):
			return model.DailyPnL{}, apperrors.InvalidState(entityDailyPnL, portfolioID, "date",
				"%s is before latest entry %s", day.Format(time.DateOnly), last.Date.Format(time.DateOnly))
		case day.Equal(last.Date):
			replace = true
			if n > 1 {
				prev = &series[n-2]
			}
		default:
			prev = &series[n-1]
		}
	}

	v := l.valuationLocked(portfolioID)
	entry := model.DailyPnL{
		PortfolioID:   portfolioID,
		Date:          day,
		OpeningValue:  v.CostBasis,
		ClosingValue:  v.NetExposure,
		CumulativePnL: v.TotalPnL,
		PnL:           v.TotalPnL,
		RealizedPnL:   v.RealizedPnL,
		UnrealizedPnL: v.UnrealizedPnL,
	}
	trading := v.RealizedPnL
	if prev != nil {
		entry.OpeningValue = prev.ClosingValue
		entry.PnL = v.TotalPnL.Sub(prev.CumulativePnL)
		trading = v.RealizedPnL.Sub(prev.RealizedPnL)
	}
	entry.Attribution = attribute(entry.PnL, trading, explained)

	if replace {
		series[len(series)-1] = entry
	} else {
		l.daily[portfolioID] = append(series, entry)
	}
	l.log.Info("daily pnl recorded",
		"portfolio", portfolioID,
		"date", day.Format(time.DateOnly),
		"pnl", entry.PnL.String(),
		"residual", entry.Attribution.Residual.String(),
	)
	return entry, nil
}

func attribute(total, trading decimal.Decimal, explained model.PnLAttribution) model.PnLAttribution {
	a := explained
	a.Trading = trading
	a.Total = total
	named := a.Trading.Add(a.Carry).Add(a.FX).Add(a.Delta).Add(a.Gamma).Add(a.Theta).Add(a.Vega)
	a.Residual = total.Sub(named)
	return a
}

// DailyPnL returns the entries of a portfolio with from <= date <= to. Zero
// bounds are open.
func (l *Ledger) DailyPnL(portfolioID string, from, to time.Time) []model.DailyPnL {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.DailyPnL
	for _, e := range l.daily[portfolioID] {
		if !from.IsZero() && e.Date.Before(truncateDay(from)) {
			continue
		}
		if !to.IsZero() && e.Date.After(truncateDay(to)) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
