package dispatch

import (
	"sync"
	"time"
)

// CooldownTracker remembers, per ride, which captains recently cancelled
// out of it and should be excluded from offers for a short window after a
// fresh DispatchProcess starts over.
type CooldownTracker struct {
	mu    sync.Mutex
	until map[string]map[string]time.Time // rideID -> captainID -> expiry
}

func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{until: make(map[string]map[string]time.Time)}
}

// Exclude marks captainID as excluded from offers on rideID until duration
// from now has elapsed.
func (c *CooldownTracker) Exclude(rideID, captainID string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.until[rideID] == nil {
		c.until[rideID] = make(map[string]time.Time)
	}
	c.until[rideID][captainID] = time.Now().Add(duration)
}

// InCooldown reports whether captainID is currently excluded from rideID's
// offers. Expired entries are pruned lazily on read.
func (c *CooldownTracker) InCooldown(rideID, captainID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	byCapt, ok := c.until[rideID]
	if !ok {
		return false
	}
	expiry, ok := byCapt[captainID]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(byCapt, captainID)
		return false
	}
	return true
}

// Clear drops all cooldown bookkeeping for a ride, e.g. once it reaches a
// terminal state.
func (c *CooldownTracker) Clear(rideID string) {
	c.mu.Lock()
	delete(c.until, rideID)
	c.mu.Unlock()
}
