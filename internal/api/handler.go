// Package api exposes the risk service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/arena"
	"github.com/atmx/risk-engine/internal/metrics"
	"github.com/atmx/risk-engine/internal/risk"
)

// Handler serves the risk API.
type Handler struct {
	svc *risk.Service
	ws  http.HandlerFunc // optional WebSocket endpoint
}

// NewHandler creates a Handler. ws may be nil.
func NewHandler(svc *risk.Service, ws http.HandlerFunc) *Handler {
	return &Handler{svc: svc, ws: ws}
}

// RouterConfig tunes the middleware stack.
type RouterConfig struct {
	AllowedOrigins []string
	Timeout        time.Duration
}

// Router builds the chi router with the full middleware stack.
func (h *Handler) Router(cfg RouterConfig) chi.Router {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "risk-engine"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", h.Routes)
	return r
}

// Routes mounts the API under r.
func (h *Handler) Routes(r chi.Router) {
	if h.ws != nil {
		r.Get("/ws", h.ws)
	}

	r.Post("/positions", h.OpenPosition)
	r.Get("/positions/{id}", h.GetPosition)
	r.Post("/positions/{id}/confirm", h.ConfirmPosition)
	r.Delete("/positions/{id}", h.CancelPending)
	r.Put("/positions/{id}/price", h.UpdatePrice)
	r.Post("/positions/{id}/close", h.ClosePosition)
	r.Post("/positions/{id}/greeks", h.CalculateGreeks)
	r.Get("/positions/{id}/greeks", h.GreeksHistory)

	r.Route("/portfolios/{id}", func(r chi.Router) {
		r.Get("/positions", h.ListPositions)
		r.Get("/valuation", h.Valuation)
		r.Post("/mark", h.MarkToMarket)
		r.Get("/greeks", h.PortfolioGreeks)
		r.Post("/var", h.CalculateVaR)
		r.Get("/var", h.LatestVaR)
		r.Get("/var/history", h.VaRHistory)
		r.Post("/backtests", h.RunBacktest)
		r.Get("/backtests", h.ListBacktests)
		r.Post("/exceptions", h.RecordException)
		r.Get("/exceptions", h.ListExceptions)
		r.Post("/stress", h.RunAllScenarios)
		r.Get("/stress", h.ListStressResults)
		r.Post("/stress/reverse", h.RunReverseStressTest)
		r.Post("/sensitivity", h.RunSensitivityAnalysis)
		r.Get("/limits", h.ListLimits)
		r.Get("/books", h.EvaluateBooks)
		r.Post("/pnl", h.RecordDailyPnL)
		r.Get("/pnl", h.ListDailyPnL)
	})

	r.Get("/scenarios", h.ListScenarios)
	r.Post("/scenarios", h.CreateScenario)
	r.Get("/scenarios/{id}", h.GetScenario)
	r.Put("/scenarios/{id}/active", h.SetScenarioActive)
	r.Post("/scenarios/{id}/run", h.RunStressTest)
	r.Post("/scenarios/{id}/replay", h.ReplayHistoricalScenario)

	r.Post("/limits", h.CreateVaRLimit)
	r.Get("/limits", h.ListLimits)
	r.Get("/limits/{id}", h.GetLimit)
	r.Post("/limits/{id}/check", h.CheckLimit)

	r.Post("/books", h.CreateBook)
	r.Get("/books", h.ListBooks)
	r.Get("/books/{id}", h.GetBook)
	r.Put("/books/{id}/limits", h.UpdateBookLimits)

	r.Post("/eod", h.RunEOD)
	r.Get("/statistics", h.Statistics)

	r.Put("/marketdata", h.PutMarketData)
	r.Get("/marketdata", h.GetMarketData)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// errorBody carries the structured fields of an apperrors.Error.
type errorBody struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Entity string `json:"entity,omitempty"`
	ID     string `json:"id,omitempty"`
	Field  string `json:"field,omitempty"`
}

// writeErr maps an error's kind to a status code.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	var ae *apperrors.Error
	if !errors.As(err, &ae) {
		writeError(w, err.Error(), status)
		return
	}
	writeJSON(w, status, errorBody{
		Error:  ae.Error(),
		Kind:   ae.Kind.Error(),
		Entity: ae.Entity,
		ID:     ae.ID,
		Field:  ae.Field,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrInvariant):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func positionID(w http.ResponseWriter, r *http.Request) (arena.ID, bool) {
	id, err := arena.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "invalid position id", http.StatusBadRequest)
		return arena.ID{}, false
	}
	return id, true
}

// dateParam parses an optional YYYY-MM-DD query parameter.
func dateParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		writeError(w, "invalid "+name+": want YYYY-MM-DD", http.StatusBadRequest)
		return time.Time{}, false
	}
	return t, true
}

func boolParam(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}
