// Package ledger owns position, book and valuation state. It is the only
// component that mutates positions; risk engines read it through immutable
// snapshots.
//
// All monetary values use shopspring/decimal.
package ledger

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/arena"
	"github.com/atmx/risk-engine/internal/instrument"
	"github.com/atmx/risk-engine/internal/marketdata"
	"github.com/atmx/risk-engine/internal/model"
)

const entityPosition = "position"

// PreTradeCheck vets a candidate position against the portfolio's open
// positions before it is booked.
type PreTradeCheck interface {
	Check(candidate model.Position, open []model.Position) error
}

// Ledger stores positions in a generational arena guarded by a RWMutex.
// Writers hold the lock for a single position update only.
type Ledger struct {
	mu          sync.RWMutex
	positions   *arena.Arena[model.Position]
	byPortfolio map[string][]arena.ID
	books       map[string]model.Book
	daily       map[string][]model.DailyPnL
	version     uint64

	check PreTradeCheck // optional
	now   func() time.Time
	log   *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPreTradeCheck installs a pre-trade limit check on OpenPosition.
func WithPreTradeCheck(c PreTradeCheck) Option {
	return func(l *Ledger) { l.check = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		positions:   arena.New[model.Position](),
		byPortfolio: make(map[string][]arena.ID),
		books:       make(map[string]model.Book),
		daily:       make(map[string][]model.DailyPnL),
		now:         func() time.Time { return time.Now().UTC() },
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// OpenRequest books a new position.
type OpenRequest struct {
	AssetClass   model.AssetClass `json:"asset_class"`
	InstrumentID string           `json:"instrument_id"`
	PortfolioID  string           `json:"portfolio_id"`
	BookID       string           `json:"book_id,omitempty"`
	Quantity     decimal.Decimal  `json:"quantity"` // negative with no direction books a short
	Direction    model.Direction  `json:"direction,omitempty"`
	Price        decimal.Decimal  `json:"price"`
	Currency     string           `json:"currency"`
	Instrument   model.Instrument `json:"-"`

	// UnderlyingPrice splits an option premium into intrinsic and time value.
	UnderlyingPrice decimal.Decimal `json:"underlying_price,omitempty"`

	// Pending books the position without opening it. Pending positions are
	// excluded from snapshots until confirmed.
	Pending bool `json:"pending,omitempty"`
}

// OpenPosition validates and books a position.
func (l *Ledger) OpenPosition(_ context.Context, req OpenRequest) (model.Position, error) {
	p, err := l.buildPosition(req)
	if err != nil {
		return model.Position{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if req.BookID != "" && len(l.books) > 0 {
		if _, ok := l.books[req.BookID]; !ok {
			return model.Position{}, apperrors.Validation(entityPosition, "", "book_id", "unknown book %q", req.BookID)
		}
	}

	if l.check != nil && !req.Pending {
		if err := l.check.Check(p, l.openLocked(p.PortfolioID)); err != nil {
			return model.Position{}, &apperrors.Error{
				Kind: apperrors.ErrValidation, Entity: entityPosition, Field: "limit",
				Msg: "pre-trade limit breach", Err: err,
			}
		}
	}

	p.ID = l.positions.Insert(p)
	l.positions.Set(p.ID, p)
	l.byPortfolio[p.PortfolioID] = append(l.byPortfolio[p.PortfolioID], p.ID)
	l.version++

	l.log.Info("position booked",
		"id", p.ID.String(),
		"portfolio", p.PortfolioID,
		"instrument", p.InstrumentID,
		"class", string(p.AssetClass),
		"direction", string(p.Direction),
		"qty", p.Quantity.String(),
		"price", p.EntryPrice.String(),
		"status", string(p.Status),
	)
	return p, nil
}

func (l *Ledger) buildPosition(req OpenRequest) (model.Position, error) {
	if !req.AssetClass.Valid() {
		return model.Position{}, apperrors.Validation(entityPosition, "", "asset_class", "unknown asset class %q", req.AssetClass)
	}
	if req.InstrumentID == "" {
		return model.Position{}, apperrors.Validation(entityPosition, "", "instrument_id", "instrument_id is required")
	}
	if req.PortfolioID == "" {
		return model.Position{}, apperrors.Validation(entityPosition, "", "portfolio_id", "portfolio_id is required")
	}
	if req.Quantity.IsZero() {
		return model.Position{}, apperrors.Validation(entityPosition, "", "quantity", "quantity must be non-zero")
	}
	if !req.Price.IsPositive() {
		return model.Position{}, apperrors.Validation(entityPosition, "", "price", "price must be positive, got %s", req.Price)
	}
	if err := instrument.CheckCurrency(req.Currency); err != nil {
		return model.Position{}, apperrors.Validation(entityPosition, "", "currency", "unrecognized currency %q", req.Currency)
	}

	dir := req.Direction
	qty := req.Quantity
	switch {
	case dir == "" && qty.IsNegative():
		dir, qty = model.Short, qty.Abs()
	case dir == "":
		dir = model.Long
	case dir != model.Long && dir != model.Short:
		return model.Position{}, apperrors.Validation(entityPosition, "", "direction", "unknown direction %q", dir)
	case qty.IsNegative():
		return model.Position{}, apperrors.Validation(entityPosition, "", "quantity", "quantity must be positive when direction is given")
	}

	in := req.Instrument
	if in == nil {
		var err error
		if in, err = model.DefaultInstrument(req.AssetClass); err != nil {
			return model.Position{}, apperrors.Validation(entityPosition, "", "asset_class", "%v", err)
		}
	}
	if err := instrument.CheckVariant(req.AssetClass, in); err != nil {
		return model.Position{}, apperrors.Validation(entityPosition, "", "instrument", "%v", err)
	}
	if raw, ok := in.(model.Option); ok {
		opt, err := instrument.Resolve(req.InstrumentID, raw)
		if err != nil {
			return model.Position{}, apperrors.Validation(entityPosition, "", "instrument_id", "%v", err)
		}
		if opt.Type == "" {
			opt.Type = model.Call
		}
		if opt.Type != model.Call && opt.Type != model.Put {
			return model.Position{}, apperrors.Validation(entityPosition, "", "option_type", "unknown option type %q", opt.Type)
		}
		if !opt.Strike.IsPositive() {
			return model.Position{}, apperrors.Validation(entityPosition, "", "strike", "strike must be positive")
		}
		if opt.Expiry.IsZero() {
			return model.Position{}, apperrors.Validation(entityPosition, "", "expiry", "expiry is required")
		}
		if opt.Underlying == "" {
			return model.Position{}, apperrors.Validation(entityPosition, "", "underlying", "underlying is required")
		}
		if req.UnderlyingPrice.IsPositive() {
			opt = opt.WithPremium(req.Price, req.UnderlyingPrice)
		} else {
			opt.Premium, opt.IntrinsicValue, opt.TimeValue = req.Price, decimal.Zero, req.Price
		}
		in = opt
	}

	now := l.now()
	status := model.StatusOpen
	if req.Pending {
		status = model.StatusPending
	}
	mv := qty.Mul(req.Price)
	return model.Position{
		InstrumentID:  req.InstrumentID,
		AssetClass:    req.AssetClass,
		PortfolioID:   req.PortfolioID,
		BookID:        req.BookID,
		Quantity:      qty,
		Direction:     dir,
		EntryPrice:    req.Price,
		CurrentPrice:  req.Price,
		MarketValue:   mv,
		CostBasis:     mv,
		RealizedPnL:   decimal.Zero,
		UnrealizedPnL: decimal.Zero,
		TotalPnL:      decimal.Zero,
		Currency:      req.Currency,
		Status:        status,
		Instrument:    in,
		OpenedAt:      now,
		UpdatedAt:     now,
	}, nil
}

// ConfirmPosition opens a pending position, running the pre-trade check.
func (l *Ledger) ConfirmPosition(_ context.Context, id arena.ID) (model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions.Get(id)
	if !ok {
		return model.Position{}, apperrors.NotFound(entityPosition, id.String())
	}
	if p.Status != model.StatusPending {
		return model.Position{}, apperrors.InvalidState(entityPosition, id.String(), "status", "position is %s, not pending", p.Status)
	}
	if l.check != nil {
		if err := l.check.Check(p, l.openLocked(p.PortfolioID)); err != nil {
			return model.Position{}, &apperrors.Error{
				Kind: apperrors.ErrValidation, Entity: entityPosition, ID: id.String(), Field: "limit",
				Msg: "pre-trade limit breach", Err: err,
			}
		}
	}
	p.Status = model.StatusOpen
	p.UpdatedAt = l.now()
	l.positions.Set(id, p)
	l.version++
	return p, nil
}

// CancelPending discards a pending position that was never filled. Its id
// becomes stale and will not resolve even if the slot is reused.
func (l *Ledger) CancelPending(_ context.Context, id arena.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions.Get(id)
	if !ok {
		return apperrors.NotFound(entityPosition, id.String())
	}
	if p.Status != model.StatusPending {
		return apperrors.InvalidState(entityPosition, id.String(), "status", "only pending positions can be cancelled, position is %s", p.Status)
	}
	l.positions.Remove(id)
	ids := l.byPortfolio[p.PortfolioID]
	for i, pid := range ids {
		if pid == id {
			l.byPortfolio[p.PortfolioID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	l.version++
	return nil
}

// UpdatePrice marks a position to newPrice.
func (l *Ledger) UpdatePrice(_ context.Context, id arena.ID, newPrice decimal.Decimal) (model.Position, error) {
	if newPrice.IsNegative() {
		return model.Position{}, apperrors.Validation(entityPosition, id.String(), "price", "price must not be negative, got %s", newPrice)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions.Get(id)
	if !ok || p.Status == model.StatusClosed {
		return model.Position{}, apperrors.NotFound(entityPosition, id.String())
	}
	p = mark(p, newPrice, l.now())
	l.positions.Set(id, p)
	l.version++
	return p, nil
}

// mark reprices p. For options the time value absorbs the premium change.
func mark(p model.Position, price decimal.Decimal, now time.Time) model.Position {
	p.CurrentPrice = price
	p.MarketValue = p.Quantity.Mul(price)
	p.UnrealizedPnL = price.Sub(p.EntryPrice).Mul(p.Quantity).Mul(p.Direction.Sign())
	p.TotalPnL = p.RealizedPnL.Add(p.UnrealizedPnL)
	p.UpdatedAt = now
	if opt, ok := p.Instrument.(model.Option); ok {
		opt.Premium = price
		opt.TimeValue = price.Sub(opt.IntrinsicValue)
		p.Instrument = opt
	}
	return p
}

// MarkToMarket reprices every open position of a portfolio that has a spot in
// snap. Options also refresh their intrinsic value from the underlying spot.
// Each position is repriced under its own lock acquisition, so a position
// closed meanwhile is skipped. It returns the number of positions repriced.
func (l *Ledger) MarkToMarket(ctx context.Context, portfolioID string, snap *marketdata.Snapshot) (int, error) {
	l.mu.RLock()
	ids := append([]arena.ID(nil), l.byPortfolio[portfolioID]...)
	l.mu.RUnlock()

	now := l.now()
	n := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if l.markOne(id, snap, now) {
			n++
		}
	}
	return n, nil
}

func (l *Ledger) markOne(id arena.ID, snap *marketdata.Snapshot, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions.Get(id)
	if !ok || p.Status != model.StatusOpen {
		return false
	}
	price, ok := snap.Spot(p.InstrumentID)
	if !ok || price.IsNegative() {
		return false
	}
	if opt, isOpt := p.Instrument.(model.Option); isOpt {
		if spot, ok := snap.Spot(opt.Underlying); ok {
			opt.IntrinsicValue = opt.Intrinsic(spot)
			p.Instrument = opt
		}
	}
	l.positions.Set(id, mark(p, price, now))
	l.version++
	return true
}

// ClosePosition realizes P&L at closePrice. Closing twice fails with
// InvalidState and leaves the realized P&L untouched.
func (l *Ledger) ClosePosition(_ context.Context, id arena.ID, closePrice decimal.Decimal) (model.Position, error) {
	if closePrice.IsNegative() {
		return model.Position{}, apperrors.Validation(entityPosition, id.String(), "close_price", "price must not be negative, got %s", closePrice)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions.Get(id)
	if !ok {
		return model.Position{}, apperrors.NotFound(entityPosition, id.String())
	}
	switch p.Status {
	case model.StatusClosed:
		return model.Position{}, apperrors.InvalidState(entityPosition, id.String(), "status", "position already closed")
	case model.StatusPending:
		return model.Position{}, apperrors.InvalidState(entityPosition, id.String(), "status", "pending position cannot be closed")
	}

	now := l.now()
	realized := closePrice.Sub(p.EntryPrice).Mul(p.Quantity).Mul(p.Direction.Sign())
	p.RealizedPnL = p.RealizedPnL.Add(realized)
	p.UnrealizedPnL = decimal.Zero
	p.TotalPnL = p.RealizedPnL
	p.CurrentPrice = closePrice
	p.ClosePrice = closePrice
	p.MarketValue = p.Quantity.Mul(closePrice)
	p.Status = model.StatusClosed
	p.UpdatedAt = now
	p.ClosedAt = &now
	l.positions.Set(id, p)
	l.version++

	l.log.Info("position closed",
		"id", id.String(),
		"portfolio", p.PortfolioID,
		"close_price", closePrice.String(),
		"realized_pnl", p.RealizedPnL.String(),
	)
	return p, nil
}

// Position returns a position by id in any status.
func (l *Ledger) Position(id arena.ID) (model.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.positions.Get(id)
	if !ok {
		return model.Position{}, apperrors.NotFound(entityPosition, id.String())
	}
	return p, nil
}

// Positions returns every position of a portfolio in any status, in booking
// order.
func (l *Ledger) Positions(portfolioID string) []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := l.byPortfolio[portfolioID]
	out := make([]model.Position, 0, len(ids))
	for _, id := range ids {
		if p, ok := l.positions.Get(id); ok {
			out = append(out, p)
		}
	}
	return out
}

// Portfolios returns the ids of every portfolio with at least one position.
func (l *Ledger) Portfolios() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.byPortfolio))
	for id, ids := range l.byPortfolio {
		if len(ids) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Counts returns the number of open and closed positions across portfolios.
func (l *Ledger) Counts() (open, closed int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	l.positions.Range(func(_ arena.ID, p model.Position) bool {
		switch p.Status {
		case model.StatusOpen:
			open++
		case model.StatusClosed:
			closed++
		}
		return true
	})
	return open, closed
}

// openLocked returns the open positions of a portfolio. Caller holds mu.
func (l *Ledger) openLocked(portfolioID string) []model.Position {
	ids := l.byPortfolio[portfolioID]
	out := make([]model.Position, 0, len(ids))
	for _, id := range ids {
		if p, ok := l.positions.Get(id); ok && p.Status == model.StatusOpen {
			out = append(out, p)
		}
	}
	return out
}
