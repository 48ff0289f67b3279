package api

import (
	"encoding/json"
	"net/http"
	"time"

	"ridedispatch/internal/auth"
	"ridedispatch/internal/storage"
)

// IdentityIssuer is the dev/local convenience path kept from the
// teacher: mint an opaque bearer token for a role with no external
// identity provider involved. Real deployments verify JWTs issued
// elsewhere and never call this.
type IdentityIssuer struct {
	Store      *auth.InMemoryStore
	DurableDB  *storage.IdentityStore
	DefaultTTL time.Duration
}

type registerIdentityPayload struct {
	Role string `json:"role"`
}

// Register handles POST /auth/register.
func (ii *IdentityIssuer) Register(w http.ResponseWriter, r *http.Request) {
	var payload registerIdentityPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	role := auth.Role(payload.Role)
	switch role {
	case auth.RolePassenger, auth.RoleCaptain, auth.RoleAdmin:
	default:
		respondError(w, http.StatusBadRequest, "role must be passenger, captain, or admin")
		return
	}

	identity, err := ii.Store.Register(role, ii.DefaultTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ii.DurableDB != nil {
		if saved, err := ii.DurableDB.Save(r.Context(), identity, ii.DefaultTTL); err == nil {
			identity = saved
		}
	}
	respondJSON(w, http.StatusCreated, identity)
}
