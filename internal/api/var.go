package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/risk"
	"github.com/atmx/risk-engine/internal/varengine"
)

// CalculateVaR handles POST /api/v1/portfolios/{id}/var. An empty body uses
// the service defaults.
func (h *Handler) CalculateVaR(w http.ResponseWriter, r *http.Request) {
	var req risk.VaRRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	req.PortfolioID = chi.URLParam(r, "id")
	res, err := h.svc.CalculateVaR(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// LatestVaR handles GET /api/v1/portfolios/{id}/var.
func (h *Handler) LatestVaR(w http.ResponseWriter, r *http.Request) {
	calc, err := h.svc.LatestVaR(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, calc)
}

// VaRHistory handles GET /api/v1/portfolios/{id}/var/history.
func (h *Handler) VaRHistory(w http.ResponseWriter, r *http.Request) {
	calcs, err := h.svc.VaRHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if calcs == nil {
		calcs = []model.VaRCalculation{}
	}
	writeJSON(w, http.StatusOK, calcs)
}

// RunBacktest handles POST /api/v1/portfolios/{id}/backtests.
func (h *Handler) RunBacktest(w http.ResponseWriter, r *http.Request) {
	var req varengine.BacktestRequest
	if !decode(w, r, &req) {
		return
	}
	req.PortfolioID = chi.URLParam(r, "id")
	bt, err := h.svc.RunBacktest(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bt)
}

// ListBacktests handles GET /api/v1/portfolios/{id}/backtests.
func (h *Handler) ListBacktests(w http.ResponseWriter, r *http.Request) {
	bts, err := h.svc.Backtests(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if bts == nil {
		bts = []model.VaRBacktest{}
	}
	writeJSON(w, http.StatusOK, bts)
}

// ExceptionRequest is the JSON body for POST /portfolios/{id}/exceptions.
type ExceptionRequest struct {
	Date       time.Time       `json:"date"`
	Predicted  decimal.Decimal `json:"predicted_var"`
	ActualLoss decimal.Decimal `json:"actual_loss"`
}

// RecordException handles POST /api/v1/portfolios/{id}/exceptions.
func (h *Handler) RecordException(w http.ResponseWriter, r *http.Request) {
	var req ExceptionRequest
	if !decode(w, r, &req) {
		return
	}
	ex, err := h.svc.RecordException(r.Context(), chi.URLParam(r, "id"), req.Date, req.Predicted, req.ActualLoss)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ex)
}

// ListExceptions handles GET /api/v1/portfolios/{id}/exceptions.
func (h *Handler) ListExceptions(w http.ResponseWriter, r *http.Request) {
	ex := h.svc.Exceptions(chi.URLParam(r, "id"))
	if ex == nil {
		ex = []model.VaRException{}
	}
	writeJSON(w, http.StatusOK, ex)
}

// SensitivityRequest is the JSON body for POST /portfolios/{id}/sensitivity.
type SensitivityRequest struct {
	RiskFactor model.RiskFactor  `json:"risk_factor"`
	Shocks     []decimal.Decimal `json:"shocks"`
}

// RunSensitivityAnalysis handles POST /api/v1/portfolios/{id}/sensitivity.
func (h *Handler) RunSensitivityAnalysis(w http.ResponseWriter, r *http.Request) {
	var req SensitivityRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.RunSensitivityAnalysis(r.Context(), chi.URLParam(r, "id"), req.RiskFactor, req.Shocks)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Daily P&L ---

// PnLRequest is the JSON body for POST /portfolios/{id}/pnl. Attribution
// carries the explained components; trading, residual and total are derived.
type PnLRequest struct {
	Date        time.Time            `json:"date"`
	Attribution model.PnLAttribution `json:"attribution"`
}

// RecordDailyPnL handles POST /api/v1/portfolios/{id}/pnl.
func (h *Handler) RecordDailyPnL(w http.ResponseWriter, r *http.Request) {
	var req PnLRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Date.IsZero() {
		req.Date = time.Now().UTC()
	}
	entry, err := h.svc.RecordDailyPnL(r.Context(), chi.URLParam(r, "id"), req.Date, req.Attribution)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// ListDailyPnL handles GET /api/v1/portfolios/{id}/pnl?from=&to=.
func (h *Handler) ListDailyPnL(w http.ResponseWriter, r *http.Request) {
	from, ok := dateParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := dateParam(w, r, "to")
	if !ok {
		return
	}
	series := h.svc.DailyPnL(chi.URLParam(r, "id"), from, to)
	if series == nil {
		series = []model.DailyPnL{}
	}
	writeJSON(w, http.StatusOK, series)
}

// RunEOD handles POST /api/v1/eod?date=YYYY-MM-DD.
func (h *Handler) RunEOD(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r, "date")
	if !ok {
		return
	}
	if date.IsZero() {
		date = time.Now().UTC()
	}
	reports, err := h.svc.RunEOD(r.Context(), date)
	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
	}
	if reports == nil {
		reports = []risk.EODReport{}
	}
	writeJSON(w, status, reports)
}

// Statistics handles GET /api/v1/statistics.
func (h *Handler) Statistics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Statistics())
}
