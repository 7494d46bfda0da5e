package risk

import (
	"context"
	"time"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/marketdata"
)

// MarketSink accepts pushed market data. *marketdata.StaticProvider
// satisfies it.
type MarketSink interface {
	Put(*marketdata.Snapshot)
}

// PutMarketData stores a snapshot for later calculations.
func (s *Service) PutMarketData(_ context.Context, snap *marketdata.Snapshot) error {
	if s.sink == nil {
		return apperrors.InvalidState("market_data", "", "", "market data is read-only")
	}
	if snap == nil || snap.AsOf.IsZero() {
		return apperrors.Validation("market_data", "", "as_of", "is required")
	}
	for k, v := range snap.Vols {
		if v < 0 {
			return apperrors.Validation("market_data", k, "vols", "must be non-negative, got %g", v)
		}
	}
	for k, c := range snap.Correlations {
		if c < -1 || c > 1 {
			return apperrors.Validation("market_data", k, "correlations", "must be in [-1, 1], got %g", c)
		}
	}
	snap.AsOf = snap.AsOf.UTC()
	s.sink.Put(snap)
	s.log.Info("market data stored", "as_of", snap.AsOf, "spots", len(snap.Spots), "vols", len(snap.Vols))
	return nil
}

// MarketData returns the snapshot in effect at asOf.
func (s *Service) MarketData(ctx context.Context, asOf time.Time) (*marketdata.Snapshot, error) {
	if s.market == nil {
		return nil, apperrors.NotFound("market_data", asOf.Format(time.DateOnly))
	}
	return s.market.GetMarketData(ctx, asOf)
}
