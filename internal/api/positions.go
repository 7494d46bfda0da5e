package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/ledger"
	"github.com/atmx/risk-engine/internal/model"
)

// OpenPositionRequest is the JSON body for POST /positions. Instrument holds
// the variant matching asset_class; omitted fields take class defaults.
type OpenPositionRequest struct {
	ledger.OpenRequest
	Instrument json.RawMessage `json:"instrument,omitempty"`
}

// PriceRequest is the JSON body for price updates and closes.
type PriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// OpenPosition handles POST /api/v1/positions.
func (h *Handler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.AssetClass.Valid() {
		in, err := model.DecodeInstrument(req.AssetClass, req.Instrument)
		if err != nil {
			writeErr(w, r, apperrors.Validation("position", "", "instrument", "%v", err))
			return
		}
		req.OpenRequest.Instrument = in
	}
	p, err := h.svc.OpenPosition(r.Context(), req.OpenRequest)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GetPosition handles GET /api/v1/positions/{id}.
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Position(id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ConfirmPosition handles POST /api/v1/positions/{id}/confirm.
func (h *Handler) ConfirmPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.ConfirmPosition(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CancelPending handles DELETE /api/v1/positions/{id}.
func (h *Handler) CancelPending(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	if err := h.svc.CancelPending(r.Context(), id); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdatePrice handles PUT /api/v1/positions/{id}/price.
func (h *Handler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	var req PriceRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.svc.UpdatePrice(r.Context(), id, req.Price)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ClosePosition handles POST /api/v1/positions/{id}/close.
func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	var req PriceRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.svc.ClosePosition(r.Context(), id, req.Price)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CalculateGreeks handles POST /api/v1/positions/{id}/greeks.
func (h *Handler) CalculateGreeks(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	g, err := h.svc.CalculateGreeks(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// GreeksHistory handles GET /api/v1/positions/{id}/greeks.
func (h *Handler) GreeksHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	hist := h.svc.GreeksHistory(id)
	if hist == nil {
		hist = []model.GreeksCalculation{}
	}
	writeJSON(w, http.StatusOK, hist)
}

// ListPositions handles GET /api/v1/portfolios/{id}/positions.
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	ps := h.svc.Positions(chi.URLParam(r, "id"))
	if ps == nil {
		ps = []model.Position{}
	}
	writeJSON(w, http.StatusOK, ps)
}

// Valuation handles GET /api/v1/portfolios/{id}/valuation.
func (h *Handler) Valuation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Valuation(chi.URLParam(r, "id")))
}

// MarkToMarket handles POST /api/v1/portfolios/{id}/mark?as_of=YYYY-MM-DD.
func (h *Handler) MarkToMarket(w http.ResponseWriter, r *http.Request) {
	asOf, ok := dateParam(w, r, "as_of")
	if !ok {
		return
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	n, err := h.svc.MarkToMarket(r.Context(), chi.URLParam(r, "id"), asOf)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

// PortfolioGreeks handles GET /api/v1/portfolios/{id}/greeks.
func (h *Handler) PortfolioGreeks(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.PortfolioGreeks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// --- Books ---

// CreateBook handles POST /api/v1/books.
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req ledger.BookRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.svc.CreateBook(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// ListBooks handles GET /api/v1/books.
func (h *Handler) ListBooks(w http.ResponseWriter, _ *http.Request) {
	books := h.svc.Books()
	if books == nil {
		books = []model.Book{}
	}
	writeJSON(w, http.StatusOK, books)
}

// GetBook handles GET /api/v1/books/{id}.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Book(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// UpdateBookLimits handles PUT /api/v1/books/{id}/limits.
func (h *Handler) UpdateBookLimits(w http.ResponseWriter, r *http.Request) {
	var req ledger.BookLimits
	if !decode(w, r, &req) {
		return
	}
	b, err := h.svc.UpdateBookLimits(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// EvaluateBooks handles GET /api/v1/portfolios/{id}/books.
func (h *Handler) EvaluateBooks(w http.ResponseWriter, r *http.Request) {
	evals, err := h.svc.EvaluateBooks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if evals == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, evals)
}
