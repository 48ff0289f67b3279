// Package auth issues and verifies the principal identities that connect
// to the Event Router: passengers and captains, each carrying a role and
// a bearer token checked on every HTTP and websocket-upgrade request.
package auth

import "time"

// Role is the principal's kind, used for authorization. Only captains'
// location updates enter the Geo-Index.
type Role string

const (
	RolePassenger Role = "passenger"
	RoleCaptain   Role = "captain"
	RoleAdmin     Role = "admin"
)

// Identity is one authenticated principal: a passenger, captain, or
// admin, identified by a stable ID and holding a bearer token.
type Identity struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (i Identity) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}
