// Package api exposes the Ride Store and Event Router over HTTP: a
// small REST surface for request/cancel/inspect plus the websocket
// upgrade endpoint, health/readiness, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ridedispatch/internal/auth"
	"ridedispatch/internal/config"
	"ridedispatch/internal/dispatch"
	"ridedispatch/internal/fare"
	"ridedispatch/internal/metrics"
	"ridedispatch/internal/ride"
	"ridedispatch/internal/router"
	"ridedispatch/internal/storage"
)

// Handler holds everything the HTTP surface needs to serve requests.
// Construction happens once in cmd/server/main.go; every field is safe
// for concurrent use.
type Handler struct {
	Store       ride.Store
	Machine     *ride.Machine
	Dispatcher  *dispatch.Dispatcher
	Router      *router.Router
	IdemCache   *dispatch.IdempotencyCache
	IdemStore   *storage.IdempotencyStore // nil in memory-store dev mode
	EventLogger storage.EventLogger       // nil in memory-store dev mode
	FareCfg     func() config.FareConfig
	StartTime   time.Time
}

type requestRidePayload struct {
	Origin         pointPayload `json:"origin"`
	Destination    pointPayload `json:"destination"`
	DistanceKM     float64      `json:"distance"`
	DurationMin    float64      `json:"duration"`
	FareAmount     float64      `json:"fareAmount,omitempty"`
	Currency       string       `json:"currency,omitempty"`
	PaymentMethod  string       `json:"paymentMethod,omitempty"`
	IdempotencyKey string       `json:"idempotencyKey,omitempty"`
}

type pointPayload struct {
	Lon       float64 `json:"lon"`
	Lat       float64 `json:"lat"`
	PlaceName string  `json:"placeName,omitempty"`
}

// RequestRide handles POST /ride/request. Rate-limited per client IP by
// the httprate middleware in routes.go so a retrying mobile client can't
// flood the Dispatcher; protected against duplicate submission by the
// idempotency key, same as the teacher's requestRide path.
func (h *Handler) RequestRide(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var payload requestRidePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if payload.IdempotencyKey != "" {
		if existingID, ok := h.lookupIdempotent(r.Context(), payload.IdempotencyKey); ok {
			if existing, err := h.Store.Get(r.Context(), existingID); err == nil {
				metrics.RideRequestsTotal.WithLabelValues("idempotent_replay").Inc()
				respondJSON(w, http.StatusOK, existing)
				return
			}
		}
	}

	n := ride.NewRide{
		PassengerID: identity.ID,
		Pickup:      ride.Point{Lon: payload.Origin.Lon, Lat: payload.Origin.Lat, PlaceName: payload.Origin.PlaceName},
		Dropoff:     ride.Point{Lon: payload.Destination.Lon, Lat: payload.Destination.Lat, PlaceName: payload.Destination.PlaceName},
		DistanceKM:  payload.DistanceKM,
		DurationMin: payload.DurationMin,
		FareAmount:  payload.FareAmount,
		Currency:    payload.Currency,
	}
	if payload.PaymentMethod != "" {
		n.PaymentMethod = ride.PaymentMethod(payload.PaymentMethod)
	} else {
		n.PaymentMethod = ride.PaymentCash
	}

	created, err := h.Router.RequestRide(r.Context(), identity, n)
	if err != nil {
		writeRideErr(w, err)
		return
	}

	if payload.IdempotencyKey != "" {
		h.rememberIdempotent(r.Context(), payload.IdempotencyKey, created.ID)
	}
	h.logRideEvent(r.Context(), created, "ride_requested", identity)

	respondJSON(w, http.StatusAccepted, created)
}

// GetRide handles GET /ride/{id}, a polling fallback for clients that
// lost their websocket connection and haven't reconnected yet.
func (h *Handler) GetRide(w http.ResponseWriter, r *http.Request) {
	rideID := chi.URLParam(r, "rideID")
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	current, err := h.Store.Get(r.Context(), rideID)
	if err != nil {
		writeRideErr(w, err)
		return
	}
	if !canAccess(identity, current) {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	respondJSON(w, http.StatusOK, current)
}

type cancelRidePayload struct {
	Reason string `json:"reason,omitempty"`
}

// CancelRide handles POST /ride/{id}/cancel, the HTTP equivalent of the
// websocket cancelRide message, for clients that prefer a plain REST
// call over holding a live socket while deciding to cancel.
func (h *Handler) CancelRide(w http.ResponseWriter, r *http.Request) {
	rideID := chi.URLParam(r, "rideID")
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var payload cancelRidePayload
	_ = json.NewDecoder(r.Body).Decode(&payload)

	current, err := h.Store.Get(r.Context(), rideID)
	if err != nil {
		writeRideErr(w, err)
		return
	}
	if !canAccess(identity, current) {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	var updated *ride.Ride
	if identity.Role == auth.RoleCaptain && current.CaptainID == identity.ID {
		updated, err = h.Machine.CancelByCaptain(r.Context(), rideID, current.Status, payload.Reason)
		if err == nil && h.Dispatcher != nil {
			h.Dispatcher.RestartAfterCaptainCancel(r.Context(), rideID, identity.ID)
		}
	} else {
		var fee float64
		if h.FareCfg != nil {
			fee = fare.CancellationFee(h.FareCfg(), current.CreatedAt, time.Now())
		}
		updated, err = h.Machine.CancelByPassenger(r.Context(), rideID, current.Status, payload.Reason, fee)
		if err == nil && h.Dispatcher != nil {
			h.Dispatcher.Cancel(rideID)
		}
	}
	if err != nil {
		writeRideErr(w, err)
		return
	}

	h.logRideEvent(r.Context(), updated, "ride_canceled", identity)
	if updated.Status == ride.StatusRequested {
		h.Router.Notify(updated.PassengerID, router.NewRidePending(updated))
	} else if current.CaptainID != "" {
		h.Router.Notify(current.CaptainID, router.NewRideCanceled(updated))
	}
	respondJSON(w, http.StatusOK, updated)
}

// Websocket handles GET /ws, upgrading the connection and delegating the
// whole duplex session to the Event Router.
func (h *Handler) Websocket(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.Router.ServeWS(w, r, identity)
}

func canAccess(identity auth.Identity, r *ride.Ride) bool {
	if identity.Role == auth.RoleAdmin {
		return true
	}
	return r.PassengerID == identity.ID || r.CaptainID == identity.ID
}

// lookupIdempotent checks the in-process cache first (the hot path for a
// retried request on the same server process), falling back to the
// durable store so a retry landing on a different node still finds the
// original ride.
func (h *Handler) lookupIdempotent(ctx context.Context, key string) (string, bool) {
	if rideID, ok := h.IdemCache.Lookup(key); ok {
		return rideID, true
	}
	if h.IdemStore == nil {
		return "", false
	}
	rideID, ok, err := h.IdemStore.Lookup(ctx, key)
	if err != nil || !ok {
		return "", false
	}
	h.IdemCache.Remember(key, rideID)
	return rideID, true
}

func (h *Handler) rememberIdempotent(ctx context.Context, key, rideID string) {
	h.IdemCache.Remember(key, rideID)
	if h.IdemStore != nil {
		_ = h.IdemStore.Remember(ctx, key, rideID)
	}
}

func (h *Handler) logRideEvent(ctx context.Context, r *ride.Ride, eventType string, identity auth.Identity) {
	if h.EventLogger == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{"status": r.Status, "rideId": r.ID})
	_ = h.EventLogger.AppendRideEvent(ctx, storage.RideEvent{
		RideID:    r.ID,
		Type:      eventType,
		Payload:   payload,
		ActorID:   identity.ID,
		ActorRole: string(identity.Role),
		CreatedAt: time.Now(),
	})
}

// writeRideErr maps a ride.Error's Kind onto the HTTP status a client
// should react to, per the error handling design's "how to react
// dominates over the message" rule.
func writeRideErr(w http.ResponseWriter, err error) {
	kind := ride.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case "invalid_request":
		status = http.StatusBadRequest
	case "auth_failed":
		status = http.StatusForbidden
	case "not_eligible":
		status = http.StatusForbidden
	case "conflict":
		status = http.StatusConflict
	case "not_found":
		status = http.StatusNotFound
	case "transient":
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
}
