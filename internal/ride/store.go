package ride

import (
	"context"
	"time"
)

// NewRide is the caller-supplied payload for Create; the Store assigns ID,
// Code, timestamps, and the initial Requested status.
type NewRide struct {
	PassengerID   string
	Pickup        Point
	Dropoff       Point
	FareAmount    float64
	Currency      string
	DistanceKM    float64
	DurationMin   float64
	PaymentMethod PaymentMethod
}

// Store is the Ride Store component. CompareAndSet is the sole mutation
// primitive: every status transition, in every caller, goes through it.
// No method here hands back a way to write a Ride's fields directly.
type Store interface {
	Create(ctx context.Context, n NewRide) (*Ride, error)
	Get(ctx context.Context, id string) (*Ride, error)
	FindActiveForPassenger(ctx context.Context, passengerID string) (*Ride, error)
	FindActiveForCaptain(ctx context.Context, captainID string) (*Ride, error)

	// FindRecentCompletedForPassenger returns passengerID's most recently
	// completed, unrated ride that ended at or after since, or nil if
	// there is none. Backs the Event Router's second rehydration case.
	FindRecentCompletedForPassenger(ctx context.Context, passengerID string, since time.Time) (*Ride, error)

	// CompareAndSet applies patch to the ride identified by id only if its
	// current status equals expected. Returns the post-image ride on
	// success, or a *Error{Kind: KindConflict} if the precondition failed,
	// or *Error{Kind: KindNotFound} if no such ride exists.
	CompareAndSet(ctx context.Context, id string, expected Status, patch Patch) (*Ride, error)

	// ListRequestedWithoutDispatcher returns requested rides whose id is
	// not in excludeIDs, for the Background Sweeper to pick up.
	ListRequestedWithoutDispatcher(ctx context.Context, excludeIDs []string) ([]*Ride, error)
}
