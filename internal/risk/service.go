// Package risk wires the ledger, market data and calculation engines into the
// service the HTTP layer and scheduler call. It persists results, evaluates
// limits after each calculation and publishes risk events.
package risk

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/arena"
	"github.com/atmx/risk-engine/internal/events"
	"github.com/atmx/risk-engine/internal/ledger"
	"github.com/atmx/risk-engine/internal/limits"
	"github.com/atmx/risk-engine/internal/marketdata"
	"github.com/atmx/risk-engine/internal/metrics"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/sensitivity"
	"github.com/atmx/risk-engine/internal/store"
	"github.com/atmx/risk-engine/internal/stress"
	"github.com/atmx/risk-engine/internal/varengine"
	"github.com/atmx/risk-engine/internal/workpool"
)

// Defaults are applied to requests that leave a parameter unset.
type Defaults struct {
	ConfidenceLevel float64
	HorizonDays     int
}

// Deps are the components a Service orchestrates. Store, Events and Pool are
// optional.
type Deps struct {
	Ledger      *ledger.Ledger
	Market      marketdata.Provider
	MarketSink  MarketSink
	Sensitivity *sensitivity.Engine
	VaR         *varengine.Engine
	Stress      *stress.Engine
	Limits      *limits.Monitor
	Store       store.Store
	Events      events.Publisher
	Pool        *workpool.Pool
	Defaults    Defaults
	Now         func() time.Time
	Log         *slog.Logger
}

// Service is the risk engine's application layer.
type Service struct {
	ledger *ledger.Ledger
	market marketdata.Provider
	sink   MarketSink
	sens   *sensitivity.Engine
	vars   *varengine.Engine
	stress *stress.Engine
	limits *limits.Monitor
	store  store.Store
	events events.Publisher
	pool   *workpool.Pool
	def    Defaults
	now    func() time.Time
	log    *slog.Logger
}

// NewService creates a Service. Missing optional dependencies get in-memory
// or no-op stand-ins.
func NewService(d Deps) *Service {
	s := &Service{
		ledger: d.Ledger,
		market: d.Market,
		sink:   d.MarketSink,
		sens:   d.Sensitivity,
		vars:   d.VaR,
		stress: d.Stress,
		limits: d.Limits,
		store:  d.Store,
		events: d.Events,
		pool:   d.Pool,
		def:    d.Defaults,
		now:    d.Now,
		log:    d.Log,
	}
	if s.store == nil {
		s.store = store.NewMemoryStore()
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.pool == nil {
		s.pool = workpool.New(0)
	}
	if s.def.ConfidenceLevel == 0 {
		s.def.ConfidenceLevel = 0.99
	}
	if s.def.HorizonDays == 0 {
		s.def.HorizonDays = 1
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// marketData returns the snapshot at or before asOf. A missing snapshot
// yields an empty one so calculations that need no quotes still run.
func (s *Service) marketData(ctx context.Context, asOf time.Time) (*marketdata.Snapshot, error) {
	if s.market == nil {
		return &marketdata.Snapshot{AsOf: asOf}, nil
	}
	snap, err := s.market.GetMarketData(ctx, asOf)
	if errors.Is(err, apperrors.ErrNotFound) {
		return &marketdata.Snapshot{AsOf: asOf}, nil
	}
	return snap, err
}

func (s *Service) publish(ctx context.Context, typ events.Type, portfolioID string, payload any) {
	if err := s.events.Publish(ctx, events.New(typ, portfolioID, payload)); err != nil {
		s.log.Warn("risk event not delivered", "type", typ, "portfolio", portfolioID, "error", err)
	}
}

func (s *Service) refreshOpenGauge() {
	open, _ := s.ledger.Counts()
	metrics.OpenPositions.Set(float64(open))
}

// --- Positions ---

// OpenPosition books a position through the ledger's pre-trade checks.
func (s *Service) OpenPosition(ctx context.Context, req ledger.OpenRequest) (model.Position, error) {
	p, err := s.ledger.OpenPosition(ctx, req)
	if err != nil {
		if errors.Is(err, limits.ErrInstrumentLimitExceeded) || errors.Is(err, limits.ErrGroupLimitExceeded) {
			metrics.PreTradeRejections.Inc()
		}
		return model.Position{}, err
	}
	s.refreshOpenGauge()
	s.publish(ctx, events.PositionBooked, p.PortfolioID, p)
	return p, nil
}

// ConfirmPosition opens a pending position.
func (s *Service) ConfirmPosition(ctx context.Context, id arena.ID) (model.Position, error) {
	p, err := s.ledger.ConfirmPosition(ctx, id)
	if err != nil {
		if errors.Is(err, limits.ErrInstrumentLimitExceeded) || errors.Is(err, limits.ErrGroupLimitExceeded) {
			metrics.PreTradeRejections.Inc()
		}
		return model.Position{}, err
	}
	s.refreshOpenGauge()
	s.publish(ctx, events.PositionBooked, p.PortfolioID, p)
	return p, nil
}

// CancelPending discards a pending position.
func (s *Service) CancelPending(ctx context.Context, id arena.ID) error {
	return s.ledger.CancelPending(ctx, id)
}

// UpdatePrice marks a position to a new price.
func (s *Service) UpdatePrice(ctx context.Context, id arena.ID, price decimal.Decimal) (model.Position, error) {
	return s.ledger.UpdatePrice(ctx, id, price)
}

// ClosePosition closes a position at price.
func (s *Service) ClosePosition(ctx context.Context, id arena.ID, price decimal.Decimal) (model.Position, error) {
	p, err := s.ledger.ClosePosition(ctx, id, price)
	if err != nil {
		return model.Position{}, err
	}
	s.refreshOpenGauge()
	s.publish(ctx, events.PositionClosed, p.PortfolioID, p)
	return p, nil
}

// Position returns a position by id.
func (s *Service) Position(id arena.ID) (model.Position, error) {
	return s.ledger.Position(id)
}

// Positions returns a portfolio's positions.
func (s *Service) Positions(portfolioID string) []model.Position {
	return s.ledger.Positions(portfolioID)
}

// MarkToMarket reprices a portfolio from the market snapshot at asOf.
func (s *Service) MarkToMarket(ctx context.Context, portfolioID string, asOf time.Time) (int, error) {
	mkt, err := s.marketData(ctx, asOf)
	if err != nil {
		return 0, err
	}
	return s.ledger.MarkToMarket(ctx, portfolioID, mkt)
}

// Valuation aggregates a portfolio's open positions.
func (s *Service) Valuation(portfolioID string) model.PortfolioValuation {
	return s.ledger.ComputeValuation(portfolioID)
}

// --- Books ---

// CreateBook registers a book.
func (s *Service) CreateBook(ctx context.Context, req ledger.BookRequest) (model.Book, error) {
	return s.ledger.CreateBook(ctx, req)
}

// UpdateBookLimits edits a book's limits.
func (s *Service) UpdateBookLimits(ctx context.Context, id string, lim ledger.BookLimits) (model.Book, error) {
	return s.ledger.UpdateBookLimits(ctx, id, lim)
}

// Book returns a book by id.
func (s *Service) Book(id string) (model.Book, error) { return s.ledger.Book(id) }

// Books lists all books.
func (s *Service) Books() []model.Book { return s.ledger.Books() }
