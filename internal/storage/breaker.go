package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"ridedispatch/internal/metrics"
	"ridedispatch/internal/ride"
)

// BreakerStore wraps a ride.Store with a circuit breaker so a struggling
// Postgres instance fails fast for the Dispatcher's poll loop instead of
// piling up blocked goroutines behind a stalled connection pool.
type BreakerStore struct {
	inner   ride.Store
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerStore(inner ride.Store) *BreakerStore {
	settings := gobreaker.Settings{
		Name:        "ride-store",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("ride store circuit breaker state change")
			metrics.StoreBreakerStateGauge.Set(breakerStateValue(to))
		},
	}
	return &BreakerStore{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerStore) Create(ctx context.Context, n ride.NewRide) (*ride.Ride, error) {
	return run(b.breaker, func() (*ride.Ride, error) { return b.inner.Create(ctx, n) })
}

func (b *BreakerStore) Get(ctx context.Context, id string) (*ride.Ride, error) {
	return run(b.breaker, func() (*ride.Ride, error) { return b.inner.Get(ctx, id) })
}

func (b *BreakerStore) FindActiveForPassenger(ctx context.Context, passengerID string) (*ride.Ride, error) {
	return run(b.breaker, func() (*ride.Ride, error) { return b.inner.FindActiveForPassenger(ctx, passengerID) })
}

func (b *BreakerStore) FindActiveForCaptain(ctx context.Context, captainID string) (*ride.Ride, error) {
	return run(b.breaker, func() (*ride.Ride, error) { return b.inner.FindActiveForCaptain(ctx, captainID) })
}

func (b *BreakerStore) FindRecentCompletedForPassenger(ctx context.Context, passengerID string, since time.Time) (*ride.Ride, error) {
	return run(b.breaker, func() (*ride.Ride, error) { return b.inner.FindRecentCompletedForPassenger(ctx, passengerID, since) })
}

func (b *BreakerStore) CompareAndSet(ctx context.Context, id string, expected ride.Status, patch ride.Patch) (*ride.Ride, error) {
	return run(b.breaker, func() (*ride.Ride, error) { return b.inner.CompareAndSet(ctx, id, expected, patch) })
}

func (b *BreakerStore) ListRequestedWithoutDispatcher(ctx context.Context, excludeIDs []string) ([]*ride.Ride, error) {
	rides, err := runSlice(b.breaker, func() ([]*ride.Ride, error) { return b.inner.ListRequestedWithoutDispatcher(ctx, excludeIDs) })
	return rides, err
}

// run adapts gobreaker's interface{}-returning Execute to a typed result,
// translating an open breaker into the Transient error kind so callers
// see it the same way as any other storage hiccup.
func run(b *gobreaker.CircuitBreaker, op func() (*ride.Ride, error)) (*ride.Ride, error) {
	result, err := b.Execute(func() (any, error) { return op() })
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, ride.Transient("ride store circuit open", err)
		}
		return nil, err
	}
	r, _ := result.(*ride.Ride)
	return r, nil
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 0.5
	case gobreaker.StateOpen:
		return 1
	default:
		return -1
	}
}

func runSlice(b *gobreaker.CircuitBreaker, op func() ([]*ride.Ride, error)) ([]*ride.Ride, error) {
	result, err := b.Execute(func() (any, error) { return op() })
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, ride.Transient("ride store circuit open", err)
		}
		return nil, err
	}
	r, _ := result.([]*ride.Ride)
	return r, nil
}
