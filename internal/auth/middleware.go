package auth

import (
	"context"
	"net/http"
)

// IdentityDB is the durable identity lookup, implemented by
// storage.IdentityStore. Kept as a narrow interface here so auth never
// imports the storage package.
type IdentityDB interface {
	Lookup(ctx context.Context, token string) (Identity, bool, error)
}

// Verifier resolves a bearer token to an Identity, satisfied by both
// *Issuer (signed tokens) and *InMemoryStore wrapped in VerifierFunc.
type Verifier interface {
	Verify(token string) (Identity, error)
}

type VerifierFunc func(token string) (Identity, error)

func (f VerifierFunc) Verify(token string) (Identity, error) { return f(token) }

// FromInMemoryStore adapts the dev-mode opaque-token store to Verifier.
func FromInMemoryStore(store *InMemoryStore) Verifier {
	return VerifierFunc(func(token string) (Identity, error) {
		id, ok := store.Lookup(token)
		if !ok {
			return Identity{}, ErrInvalidToken
		}
		return id, nil
	})
}

type identityCtxKey struct{}

// Middleware authenticates every request through verifier, rejecting
// requests without a valid token, and stashes the resolved Identity in
// the request context for handlers to read via FromContext.
func Middleware(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				http.Error(w, "missing token", http.StatusUnauthorized)
				return
			}
			identity, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, "invalid token", http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), identityCtxKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}
