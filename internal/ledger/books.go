package ledger

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/instrument"
	"github.com/atmx/risk-engine/internal/model"
)

const entityBook = "book"

// BookRequest creates a book.
type BookRequest struct {
	ID         string          `json:"id,omitempty"` // generated when empty
	Name       string          `json:"name"`
	Trader     string          `json:"trader"`
	Desk       string          `json:"desk"`
	Currency   string          `json:"currency"`
	VaRLimit   decimal.Decimal `json:"var_limit"`
	PnLLimit   decimal.Decimal `json:"pnl_limit"`
	GrossLimit decimal.Decimal `json:"gross_limit"`
}

// BookLimits is a limit edit. Nil fields are left unchanged.
type BookLimits struct {
	VaRLimit   *decimal.Decimal `json:"var_limit,omitempty"`
	PnLLimit   *decimal.Decimal `json:"pnl_limit,omitempty"`
	GrossLimit *decimal.Decimal `json:"gross_limit,omitempty"`
}

// CreateBook registers a book. Once any book exists, positions booked with a
// book id must reference a registered book.
func (l *Ledger) CreateBook(_ context.Context, req BookRequest) (model.Book, error) {
	if req.Name == "" {
		return model.Book{}, apperrors.Validation(entityBook, req.ID, "name", "name is required")
	}
	if err := instrument.CheckCurrency(req.Currency); err != nil {
		return model.Book{}, apperrors.Validation(entityBook, req.ID, "currency", "unrecognized currency %q", req.Currency)
	}
	for field, v := range map[string]decimal.Decimal{"var_limit": req.VaRLimit, "pnl_limit": req.PnLLimit, "gross_limit": req.GrossLimit} {
		if v.IsNegative() {
			return model.Book{}, apperrors.Validation(entityBook, req.ID, field, "limit must not be negative")
		}
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.books[id]; exists {
		return model.Book{}, apperrors.Validation(entityBook, id, "id", "book already exists")
	}
	now := l.now()
	b := model.Book{
		ID:         id,
		Name:       req.Name,
		Trader:     req.Trader,
		Desk:       req.Desk,
		Currency:   req.Currency,
		VaRLimit:   req.VaRLimit,
		PnLLimit:   req.PnLLimit,
		GrossLimit: req.GrossLimit,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	l.books[id] = b
	l.log.Info("book created", "id", id, "name", b.Name, "desk", b.Desk)
	return b, nil
}

// UpdateBookLimits edits a book's limits, the only mutation books allow.
func (l *Ledger) UpdateBookLimits(_ context.Context, id string, lim BookLimits) (model.Book, error) {
	for field, v := range map[string]*decimal.Decimal{"var_limit": lim.VaRLimit, "pnl_limit": lim.PnLLimit, "gross_limit": lim.GrossLimit} {
		if v != nil && v.IsNegative() {
			return model.Book{}, apperrors.Validation(entityBook, id, field, "limit must not be negative")
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.books[id]
	if !ok {
		return model.Book{}, apperrors.NotFound(entityBook, id)
	}
	if lim.VaRLimit != nil {
		b.VaRLimit = *lim.VaRLimit
	}
	if lim.PnLLimit != nil {
		b.PnLLimit = *lim.PnLLimit
	}
	if lim.GrossLimit != nil {
		b.GrossLimit = *lim.GrossLimit
	}
	b.UpdatedAt = l.now()
	l.books[id] = b
	return b, nil
}

// Book returns a book by id.
func (l *Ledger) Book(id string) (model.Book, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	b, ok := l.books[id]
	if !ok {
		return model.Book{}, apperrors.NotFound(entityBook, id)
	}
	return b, nil
}

// Books returns every book ordered by id.
func (l *Ledger) Books() []model.Book {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Book, 0, len(l.books))
	for _, b := range l.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
