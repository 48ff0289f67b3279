package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridedispatch/internal/auth"
	"ridedispatch/internal/config"
	"ridedispatch/internal/dispatch"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/ride"
	"ridedispatch/internal/router"
	"ridedispatch/internal/session"
)

func newCtx() context.Context { return context.Background() }

func chiRouteCtx(key, value string) context.Context {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return context.WithValue(context.Background(), chi.RouteCtxKey, rctx)
}

func newTestHandler() *Handler {
	store := ride.NewMemoryStore()
	registry := session.NewRegistry()
	geoIndex := geo.NewMemoryIndex()
	fareCfg := func() config.FareConfig {
		return config.FareConfig{BaseFare: 200, PerKM: 100, PerMinute: 20, Currency: "USD", CancelFreeWindow: 120 * time.Second, CancellationFee: 2}
	}
	dispatchCfg := func() config.DispatchConfig { return config.DispatchConfig{RestoreWindow: 30 * time.Minute} }
	rt := router.New(registry, store, geoIndex, fareCfg, dispatchCfg)

	return &Handler{
		Store:     store,
		Machine:   ride.NewMachine(store),
		Router:    rt,
		IdemCache: dispatch.NewIdempotencyCache(30 * time.Minute),
		FareCfg:   fareCfg,
		StartTime: time.Now(),
	}
}

func withIdentity(identity auth.Identity, handler http.HandlerFunc) http.Handler {
	verifier := auth.VerifierFunc(func(string) (auth.Identity, error) { return identity, nil })
	return auth.Middleware(verifier)(handler)
}

func TestRequestRideCreatesPendingRide(t *testing.T) {
	h := newTestHandler()
	passenger := auth.Identity{ID: "p1", Role: auth.RolePassenger}

	body, _ := json.Marshal(map[string]any{
		"origin":      map[string]float64{"lon": 33.315, "lat": 44.366},
		"destination": map[string]float64{"lon": 33.310, "lat": 44.400},
		"distance":    5.0,
		"duration":    15.0,
	})
	req := httptest.NewRequest(http.MethodPost, "/ride/request", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()

	withIdentity(passenger, h.RequestRide).ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var created ride.Ride
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, ride.StatusRequested, created.Status)
	assert.Equal(t, "p1", created.PassengerID)
	assert.Equal(t, 200+100*5.0+20*15.0, created.FareAmount)
}

func TestRequestRideRejectsSecondActiveRide(t *testing.T) {
	h := newTestHandler()
	passenger := auth.Identity{ID: "p1", Role: auth.RolePassenger}
	body, _ := json.Marshal(map[string]any{
		"origin":      map[string]float64{"lon": 1, "lat": 1},
		"destination": map[string]float64{"lon": 2, "lat": 2},
		"distance":    1.0,
		"duration":    1.0,
	})

	first := httptest.NewRequest(http.MethodPost, "/ride/request", bytes.NewReader(body))
	first.Header.Set("Authorization", "Bearer x")
	rec1 := httptest.NewRecorder()
	withIdentity(passenger, h.RequestRide).ServeHTTP(rec1, first)
	require.Equal(t, http.StatusAccepted, rec1.Code)

	second := httptest.NewRequest(http.MethodPost, "/ride/request", bytes.NewReader(body))
	second.Header.Set("Authorization", "Bearer x")
	rec2 := httptest.NewRecorder()
	withIdentity(passenger, h.RequestRide).ServeHTTP(rec2, second)

	assert.Equal(t, http.StatusConflict, rec2.Code)
}

func TestRequestRideRejectsCaptainRole(t *testing.T) {
	h := newTestHandler()
	captain := auth.Identity{ID: "c1", Role: auth.RoleCaptain}
	body, _ := json.Marshal(map[string]any{
		"origin":      map[string]float64{"lon": 1, "lat": 1},
		"destination": map[string]float64{"lon": 2, "lat": 2},
		"distance":    1.0,
		"duration":    1.0,
	})
	req := httptest.NewRequest(http.MethodPost, "/ride/request", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()

	withIdentity(captain, h.RequestRide).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCancelRideIsIdempotentOnTerminalRide(t *testing.T) {
	h := newTestHandler()
	passenger := auth.Identity{ID: "p1", Role: auth.RolePassenger}

	created, err := h.Store.Create(newCtx(), ride.NewRide{
		PassengerID: "p1",
		Pickup:      ride.Point{Lon: 1, Lat: 1},
		Dropoff:     ride.Point{Lon: 2, Lat: 2},
		DistanceKM:  1,
		DurationMin: 1,
		FareAmount:  500,
	})
	require.NoError(t, err)

	_, err = h.Store.CompareAndSet(newCtx(), created.ID, ride.StatusRequested, ride.Patch{Status: ride.StatusCancelled})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/ride/"+created.ID+"/cancel", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer x")
	req = req.WithContext(chiRouteCtx("rideID", created.ID))
	rec := httptest.NewRecorder()
	withIdentity(passenger, h.CancelRide).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWriteRideErrMapsKindsToStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeRideErr(rec, ride.NotFound("no such ride"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	writeRideErr(rec, ride.Conflict("already accepted"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}
