package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ridedispatch/internal/auth"
)

// AttachRoutes wires the HTTP and websocket surface onto r. verifier
// authenticates every request under /ride and /ws; health, readiness,
// and metrics stay open for the orchestrator and scrapers.
func AttachRoutes(r chi.Router, h *Handler, verifier auth.Verifier, issuer *IdentityIssuer) {
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(zerologRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", promhttp.Handler())

	if issuer != nil {
		r.With(httprate.LimitByIP(20, time.Minute)).Post("/auth/register", issuer.Register)
	}

	r.Group(func(pr chi.Router) {
		pr.Use(auth.Middleware(verifier))
		pr.With(httprate.LimitByIP(100, time.Minute)).Post("/ride/request", h.RequestRide)
		pr.Get("/ride/{rideID}", h.GetRide)
		pr.Post("/ride/{rideID}/cancel", h.CancelRide)
		pr.Get("/ws", h.Websocket)

		pr.Group(func(ar chi.Router) {
			ar.Use(requireRole(auth.RoleAdmin))
			ar.Get("/admin/rides/{rideID}/events", h.ListRideEvents)
		})
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
