package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/model"
)

// PositionSnapshot is an immutable copy of a portfolio's open positions taken
// under a single lock acquisition.
type PositionSnapshot struct {
	PortfolioID string           `json:"portfolio_id"`
	TakenAt     time.Time        `json:"taken_at"`
	Version     uint64           `json:"version"`
	Positions   []model.Position `json:"positions"`
}

// Len returns the number of positions.
func (s PositionSnapshot) Len() int { return len(s.Positions) }

// ByBook groups positions by book id. Positions without a book are keyed by
// their portfolio id.
func (s PositionSnapshot) ByBook() map[string][]model.Position {
	out := make(map[string][]model.Position)
	for _, p := range s.Positions {
		key := p.BookID
		if key == "" {
			key = p.PortfolioID
		}
		out[key] = append(out[key], p)
	}
	return out
}

// Filter returns a snapshot holding only positions for which keep is true.
func (s PositionSnapshot) Filter(keep func(model.Position) bool) PositionSnapshot {
	out := s
	out.Positions = make([]model.Position, 0, len(s.Positions))
	for _, p := range s.Positions {
		if keep(p) {
			out.Positions = append(out.Positions, p)
		}
	}
	return out
}

// GrossExposure returns Σ |market value|.
func (s PositionSnapshot) GrossExposure() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Positions {
		total = total.Add(p.MarketValue.Abs())
	}
	return total
}

// Snapshot returns the open positions of a portfolio.
func (l *Ledger) Snapshot(portfolioID string) PositionSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return PositionSnapshot{
		PortfolioID: portfolioID,
		TakenAt:     l.now(),
		Version:     l.version,
		Positions:   l.openLocked(portfolioID),
	}
}

// ComputeValuation values a portfolio's open positions, grouped by asset class
// and currency. Realized P&L includes closed positions.
func (l *Ledger) ComputeValuation(portfolioID string) model.PortfolioValuation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.valuationLocked(portfolioID)
}

func (l *Ledger) valuationLocked(portfolioID string) model.PortfolioValuation {
	v := model.PortfolioValuation{
		PortfolioID:  portfolioID,
		AsOf:         l.now(),
		ByAssetClass: make(map[model.AssetClass]model.ValuationBucket),
		ByCurrency:   make(map[string]model.ValuationBucket),
	}
	for _, id := range l.byPortfolio[portfolioID] {
		p, ok := l.positions.Get(id)
		if !ok {
			continue
		}
		switch p.Status {
		case model.StatusClosed:
			v.RealizedPnL = v.RealizedPnL.Add(p.RealizedPnL)
			continue
		case model.StatusPending:
			continue
		}

		v.PositionCount++
		v.MarketValue = v.MarketValue.Add(p.MarketValue.Abs())
		v.NetExposure = v.NetExposure.Add(p.SignedMarketValue())
		v.CostBasis = v.CostBasis.Add(p.CostBasis)
		v.UnrealizedPnL = v.UnrealizedPnL.Add(p.UnrealizedPnL)
		v.RealizedPnL = v.RealizedPnL.Add(p.RealizedPnL)

		v.ByAssetClass[p.AssetClass] = addToBucket(v.ByAssetClass[p.AssetClass], p)
		v.ByCurrency[p.Currency] = addToBucket(v.ByCurrency[p.Currency], p)
	}
	v.TotalPnL = v.RealizedPnL.Add(v.UnrealizedPnL)
	return v
}

func addToBucket(b model.ValuationBucket, p model.Position) model.ValuationBucket {
	b.PositionCount++
	b.MarketValue = b.MarketValue.Add(p.MarketValue.Abs())
	b.NetExposure = b.NetExposure.Add(p.SignedMarketValue())
	b.CostBasis = b.CostBasis.Add(p.CostBasis)
	b.UnrealizedPnL = b.UnrealizedPnL.Add(p.UnrealizedPnL)
	return b
}
