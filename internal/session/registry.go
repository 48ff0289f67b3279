// Package session tracks which connection currently represents each
// principal (passenger or captain), enforcing a single live connection
// per principal.
package session

import "sync"

// Conn is the minimal surface the Session Registry needs from a live
// connection; internal/router.Connection implements it.
type Conn interface {
	// Close terminates the connection. Called on the displaced side of a
	// duplicate attach so the old socket's read loop unwinds on its own.
	Close() error
}

// Registry is the Session Registry component: attach/detach/lookup of the
// single live connection per principal. Attaching a second connection for
// a principal already present displaces the first and hands it back to
// the caller to close.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Conn)}
}

// Attach registers conn as the live connection for principalID. If a
// connection was already attached for that principal, it is returned so
// the caller can close it; the caller is expected to do so after
// unlocking any of its own state, since Close may block on I/O.
func (r *Registry) Attach(principalID string, conn Conn) (previous Conn) {
	r.mu.Lock()
	previous = r.byID[principalID]
	r.byID[principalID] = conn
	r.mu.Unlock()
	return previous
}

// Detach removes the connection for principalID, but only if it is still
// the one passed in — this prevents a slow-closing old connection from
// detaching the new one that displaced it.
func (r *Registry) Detach(principalID string, conn Conn) {
	r.mu.Lock()
	if cur, ok := r.byID[principalID]; ok && cur == conn {
		delete(r.byID, principalID)
	}
	r.mu.Unlock()
}

// Lookup returns the live connection for principalID, if any.
func (r *Registry) Lookup(principalID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byID[principalID]
	return conn, ok
}

// Online reports whether principalID currently has a live connection.
func (r *Registry) Online(principalID string) bool {
	_, ok := r.Lookup(principalID)
	return ok
}

// Count returns the number of principals with a live connection.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
