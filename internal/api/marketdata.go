package api

import (
	"net/http"
	"time"

	"github.com/atmx/risk-engine/internal/marketdata"
)

// PutMarketData handles PUT /api/v1/marketdata.
func (h *Handler) PutMarketData(w http.ResponseWriter, r *http.Request) {
	var snap marketdata.Snapshot
	if !decode(w, r, &snap) {
		return
	}
	if err := h.svc.PutMarketData(r.Context(), &snap); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetMarketData handles GET /api/v1/marketdata?as_of=YYYY-MM-DD. Without
// as_of the latest snapshot is returned.
func (h *Handler) GetMarketData(w http.ResponseWriter, r *http.Request) {
	asOf, ok := dateParam(w, r, "as_of")
	if !ok {
		return
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	} else {
		asOf = asOf.Add(24*time.Hour - time.Nanosecond)
	}
	snap, err := h.svc.MarketData(r.Context(), asOf)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
