package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridedispatch/internal/config"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/ride"
)

type alwaysOnline struct{}

func (alwaysOnline) Online(string) bool { return true }

type recordingSender struct {
	mu          sync.Mutex
	offers      []string
	notApproved int
}

func (s *recordingSender) SendOffer(_ context.Context, captainID string, _ *ride.Ride) error {
	s.mu.Lock()
	s.offers = append(s.offers, captainID)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) NotifyNotApproved(_ context.Context, _ *ride.Ride) {
	s.mu.Lock()
	s.notApproved++
	s.mu.Unlock()
}

func (s *recordingSender) offerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offers)
}

func testConfig() config.DispatchConfig {
	return config.DispatchConfig{
		InitialRadiusKM:     2,
		MaxRadiusKM:         4,
		RadiusIncrementKM:   1,
		OfferTimeout:        30 * time.Millisecond,
		InterRadiusPause:    10 * time.Millisecond,
		MaxDispatchTime:     500 * time.Millisecond,
		GraceAfterMaxRadius: 40 * time.Millisecond,
		CaptainCooldown:     200 * time.Millisecond,
		MaxCandidates:       10,
	}
}

func TestDispatcherOffersOnlineCaptainWithinRadius(t *testing.T) {
	store := ride.NewMemoryStore()
	geoIdx := geo.NewMemoryIndex()
	sender := &recordingSender{}
	ctx := context.Background()

	require.NoError(t, geoIdx.Upsert(ctx, "captain-1", 37.7749, -122.4194, time.Now()))

	r, err := store.Create(ctx, ride.NewRide{PassengerID: "p1", Pickup: ride.Point{Lat: 37.7749, Lon: -122.4194}})
	require.NoError(t, err)

	d := New(store, geoIdx, sender, alwaysOnline{}, testConfig)
	d.Start(ctx, r.ID)

	require.Eventually(t, func() bool { return sender.offerCount() > 0 }, 500*time.Millisecond, 5*time.Millisecond)
	assert.Contains(t, sender.offers, "captain-1")
}

func TestDispatcherGivesUpWithNoCaptains(t *testing.T) {
	store := ride.NewMemoryStore()
	geoIdx := geo.NewMemoryIndex()
	sender := &recordingSender{}
	ctx := context.Background()

	r, err := store.Create(ctx, ride.NewRide{PassengerID: "p1", Pickup: ride.Point{Lat: 1, Lon: 1}})
	require.NoError(t, err)

	d := New(store, geoIdx, sender, alwaysOnline{}, testConfig)
	d.Start(ctx, r.ID)

	require.Eventually(t, func() bool {
		got, err := store.Get(ctx, r.ID)
		return err == nil && got.Status == ride.StatusNotApprove
	}, 2*time.Second, 10*time.Millisecond)

	assert.False(t, d.Active(r.ID))
}

func TestDispatcherStopsWhenRideAccepted(t *testing.T) {
	store := ride.NewMemoryStore()
	geoIdx := geo.NewMemoryIndex()
	sender := &recordingSender{}
	ctx := context.Background()
	require.NoError(t, geoIdx.Upsert(ctx, "captain-1", 1, 1, time.Now()))

	r, err := store.Create(ctx, ride.NewRide{PassengerID: "p1", Pickup: ride.Point{Lat: 1, Lon: 1}})
	require.NoError(t, err)

	d := New(store, geoIdx, sender, alwaysOnline{}, testConfig)
	d.Start(ctx, r.ID)

	machine := ride.NewMachine(store)
	require.Eventually(t, func() bool { return sender.offerCount() > 0 }, 500*time.Millisecond, 5*time.Millisecond)

	_, err = machine.Accept(ctx, r.ID, "captain-1")
	require.NoError(t, err)
	d.Cancel(r.ID)

	require.Eventually(t, func() bool { return !d.Active(r.ID) }, 500*time.Millisecond, 5*time.Millisecond)
}

func TestCooldownExcludesCaptainAfterCancel(t *testing.T) {
	tr := NewCooldownTracker()
	tr.Exclude("ride-1", "captain-1", 20*time.Millisecond)
	assert.True(t, tr.InCooldown("ride-1", "captain-1"))
	time.Sleep(30 * time.Millisecond)
	assert.False(t, tr.InCooldown("ride-1", "captain-1"))
}
