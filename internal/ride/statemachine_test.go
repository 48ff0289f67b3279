package ride

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRide(t *testing.T, store Store) *Ride {
	t.Helper()
	r, err := store.Create(context.Background(), NewRide{
		PassengerID:   "passenger-1",
		Pickup:        Point{Lon: -122.4194, Lat: 37.7749},
		Dropoff:       Point{Lon: -122.2712, Lat: 37.8044},
		FareAmount:    12.5,
		Currency:      "USD",
		DistanceKM:    5.2,
		DurationMin:   14,
		PaymentMethod: PaymentCard,
	})
	require.NoError(t, err)
	return r
}

func TestCreateAssignsRequestedStatusAndNilCaptain(t *testing.T) {
	store := NewMemoryStore()
	r := newTestRide(t, store)
	assert.Equal(t, StatusRequested, r.Status)
	assert.Empty(t, r.CaptainID)
	assert.Len(t, r.Code, 6)
}

func TestAcceptBindsCaptainAndStopsDispatching(t *testing.T) {
	store := NewMemoryStore()
	m := NewMachine(store)
	r := newTestRide(t, store)

	updated, err := m.Accept(context.Background(), r.ID, "captain-1")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, updated.Status)
	assert.Equal(t, "captain-1", updated.CaptainID)
	assert.False(t, updated.IsDispatching)
	assert.NotNil(t, updated.AcceptedAt)
}

func TestDoubleAcceptOnlyOneWinner(t *testing.T) {
	store := NewMemoryStore()
	m := NewMachine(store)
	r := newTestRide(t, store)

	_, err1 := m.Accept(context.Background(), r.ID, "captain-1")
	_, err2 := m.Accept(context.Background(), r.ID, "captain-2")

	require.NoError(t, err1)
	require.Error(t, err2)
	assert.True(t, IsKind(err2, KindConflict))

	final, err := store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, "captain-1", final.CaptainID)
}

func TestFullLifecycleToCompleted(t *testing.T) {
	store := NewMemoryStore()
	m := NewMachine(store)
	r := newTestRide(t, store)
	ctx := context.Background()

	_, err := m.Accept(ctx, r.ID, "captain-1")
	require.NoError(t, err)
	_, err = m.Arrive(ctx, r.ID)
	require.NoError(t, err)
	_, err = m.Start(ctx, r.ID)
	require.NoError(t, err)
	final, err := m.Complete(ctx, r.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, final.Status)
	assert.NotNil(t, final.EndedAt)
}

func TestTerminalStateIsImmutable(t *testing.T) {
	store := NewMemoryStore()
	m := NewMachine(store)
	r := newTestRide(t, store)
	ctx := context.Background()

	_, err := m.CancelByPassenger(ctx, r.ID, StatusRequested, "changed_mind", 0)
	require.NoError(t, err)

	_, err = m.CancelByPassenger(ctx, r.ID, StatusCancelled, "changed_mind_again", 0)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConflict))
}

func TestAcceptRejectsCaptainWithAnotherActiveRide(t *testing.T) {
	store := NewMemoryStore()
	m := NewMachine(store)
	ctx := context.Background()

	r1 := newTestRide(t, store)
	r2, err := store.Create(ctx, NewRide{
		PassengerID:   "passenger-2",
		Pickup:        Point{Lon: -122.41, Lat: 37.77},
		Dropoff:       Point{Lon: -122.27, Lat: 37.80},
		PaymentMethod: PaymentCash,
	})
	require.NoError(t, err)

	_, err = m.Accept(ctx, r1.ID, "captain-1")
	require.NoError(t, err)

	_, err = m.Accept(ctx, r2.ID, "captain-1")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConflict))

	final, err := store.Get(ctx, r2.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, final.Status)
	assert.Empty(t, final.CaptainID)
}

func TestCancelByPassengerRecordsFee(t *testing.T) {
	store := NewMemoryStore()
	m := NewMachine(store)
	r := newTestRide(t, store)
	ctx := context.Background()

	updated, err := m.CancelByPassenger(ctx, r.ID, StatusRequested, "changed_mind", 2.0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, updated.CancellationFee)
}

func TestCaptainCancelReDispatches(t *testing.T) {
	store := NewMemoryStore()
	m := NewMachine(store)
	r := newTestRide(t, store)
	ctx := context.Background()

	_, err := m.Accept(ctx, r.ID, "captain-1")
	require.NoError(t, err)

	updated, err := m.CancelByCaptain(ctx, r.ID, StatusAccepted, "captain_canceled")
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, updated.Status)
	assert.Empty(t, updated.CaptainID)
	assert.True(t, updated.IsDispatching)
	assert.Equal(t, "captain_canceled", updated.CancellationReason)
}

func TestFindActiveForPassengerAndCaptain(t *testing.T) {
	store := NewMemoryStore()
	m := NewMachine(store)
	r := newTestRide(t, store)
	ctx := context.Background()

	active, err := store.FindActiveForPassenger(ctx, "passenger-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, r.ID, active.ID)

	_, err = m.Accept(ctx, r.ID, "captain-1")
	require.NoError(t, err)

	activeCaptain, err := store.FindActiveForCaptain(ctx, "captain-1")
	require.NoError(t, err)
	require.NotNil(t, activeCaptain)
	assert.Equal(t, r.ID, activeCaptain.ID)

	_, err = m.Complete(ctx, r.ID)
	require.Error(t, err) // must arrive/start first
}
