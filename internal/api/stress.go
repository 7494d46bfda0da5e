package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/limits"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/stress"
)

// ListScenarios handles GET /api/v1/scenarios?active=true.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Scenarios(boolParam(r, "active")))
}

// CreateScenario handles POST /api/v1/scenarios.
func (h *Handler) CreateScenario(w http.ResponseWriter, r *http.Request) {
	var req stress.ScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	sc, err := h.svc.CreateScenario(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

// GetScenario handles GET /api/v1/scenarios/{id}.
func (h *Handler) GetScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := h.svc.Scenario(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// ActiveRequest toggles a scenario.
type ActiveRequest struct {
	Active bool `json:"active"`
}

// SetScenarioActive handles PUT /api/v1/scenarios/{id}/active.
func (h *Handler) SetScenarioActive(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if !decode(w, r, &req) {
		return
	}
	sc, err := h.svc.SetScenarioActive(r.Context(), chi.URLParam(r, "id"), req.Active)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// StressRequest is the JSON body for scenario runs.
type StressRequest struct {
	PortfolioID string `json:"portfolio_id"`
	stress.RunOptions
}

// RunStressTest handles POST /api/v1/scenarios/{id}/run.
func (h *Handler) RunStressTest(w http.ResponseWriter, r *http.Request) {
	var req StressRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PortfolioID == "" {
		writeError(w, "portfolio_id is required", http.StatusBadRequest)
		return
	}
	res, err := h.svc.RunStressTest(r.Context(), req.PortfolioID, chi.URLParam(r, "id"), req.RunOptions)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ReplayHistoricalScenario handles POST /api/v1/scenarios/{id}/replay.
func (h *Handler) ReplayHistoricalScenario(w http.ResponseWriter, r *http.Request) {
	var req StressRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PortfolioID == "" {
		writeError(w, "portfolio_id is required", http.StatusBadRequest)
		return
	}
	res, err := h.svc.ReplayHistoricalScenario(r.Context(), req.PortfolioID, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RunAllScenarios handles POST /api/v1/portfolios/{id}/stress.
func (h *Handler) RunAllScenarios(w http.ResponseWriter, r *http.Request) {
	var opts stress.RunOptions
	if r.ContentLength != 0 && !decode(w, r, &opts) {
		return
	}
	out, err := h.svc.RunAllScenarios(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ListStressResults handles GET /api/v1/portfolios/{id}/stress.
func (h *Handler) ListStressResults(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.StressResults(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if res == nil {
		res = []model.StressTestResult{}
	}
	writeJSON(w, http.StatusOK, res)
}

// ReverseStressRequest is the JSON body for reverse stress tests.
type ReverseStressRequest struct {
	TargetLoss       decimal.Decimal    `json:"target_loss"`
	CandidateFactors []model.RiskFactor `json:"candidate_factors,omitempty"`
}

// RunReverseStressTest handles POST /api/v1/portfolios/{id}/stress/reverse.
func (h *Handler) RunReverseStressTest(w http.ResponseWriter, r *http.Request) {
	var req ReverseStressRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.RunReverseStressTest(r.Context(), chi.URLParam(r, "id"), req.TargetLoss, req.CandidateFactors)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- VaR limits ---

// CreateVaRLimit handles POST /api/v1/limits.
func (h *Handler) CreateVaRLimit(w http.ResponseWriter, r *http.Request) {
	var req limits.VaRLimitRequest
	if !decode(w, r, &req) {
		return
	}
	lim, err := h.svc.CreateVaRLimit(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lim)
}

// ListLimits handles GET /api/v1/limits and GET /api/v1/portfolios/{id}/limits.
func (h *Handler) ListLimits(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "id")
	if pid == "" {
		pid = r.URL.Query().Get("portfolio")
	}
	writeJSON(w, http.StatusOK, h.svc.VaRLimits(pid))
}

// GetLimit handles GET /api/v1/limits/{id}.
func (h *Handler) GetLimit(w http.ResponseWriter, r *http.Request) {
	lim, err := h.svc.VaRLimit(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lim)
}

// CheckLimitRequest is the JSON body for POST /limits/{id}/check.
type CheckLimitRequest struct {
	CurrentVaR decimal.Decimal `json:"current_var"`
}

// CheckLimit handles POST /api/v1/limits/{id}/check.
func (h *Handler) CheckLimit(w http.ResponseWriter, r *http.Request) {
	var req CheckLimitRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := h.svc.CheckLimit(r.Context(), chi.URLParam(r, "id"), req.CurrentVaR)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
