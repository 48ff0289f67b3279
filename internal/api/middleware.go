package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"ridedispatch/internal/auth"
)

// requireRole rejects any request whose identity's role isn't among
// allowed. Must run after auth.Middleware has populated the context.
func requireRole(allowed ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.FromContext(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range allowed {
				if identity.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			respondError(w, http.StatusForbidden, "forbidden")
		})
	}
}

// zerologRequests emits one structured log line per request, replacing
// the teacher's log.Printf-built JSON with the equivalent zerolog call
// site: same fields, same terse register.
func zerologRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(rec, r)

		role := ""
		if id, ok := auth.FromContext(r.Context()); ok {
			role = string(id.Role)
		}
		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.Status()).
			Dur("latency", time.Since(start)).
			Str("role", role).
			Msg("http request")
	})
}
