package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// ListRideEvents handles GET /admin/rides/{id}/events, requires the
// admin role. Surfaces the audit trail a support engineer diffs against
// a passenger's complaint; not exercised by ordinary ride flow.
func (h *Handler) ListRideEvents(w http.ResponseWriter, r *http.Request) {
	if h.EventLogger == nil {
		respondError(w, http.StatusNotImplemented, "event log unavailable in this deployment")
		return
	}
	rideID := chi.URLParam(r, "rideID")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	events, err := h.EventLogger.ListRideEvents(r.Context(), rideID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, events)
}
