package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"ridedispatch/internal/auth"
	"ridedispatch/internal/config"
	"ridedispatch/internal/dispatch"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/ride"
	"ridedispatch/internal/session"
)

func testDispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		InitialRadiusKM:     5,
		MaxRadiusKM:         10,
		RadiusIncrementKM:   5,
		OfferTimeout:        50 * time.Millisecond,
		InterRadiusPause:    10 * time.Millisecond,
		MaxDispatchTime:     500 * time.Millisecond,
		GraceAfterMaxRadius: 50 * time.Millisecond,
		CaptainCooldown:     200 * time.Millisecond,
		MaxCandidates:       10,
		RestoreWindow:       30 * time.Minute,
	}
}

// newTestServer wires a Router and Dispatcher behind a websocket upgrade
// endpoint that authenticates by a trivial "?token=" query param, the
// same fallback auth.TokenFromRequest supports for the real JWT path.
func newTestServer(t *testing.T) (*httptest.Server, *Router, map[string]auth.Identity) {
	t.Helper()
	store := ride.NewMemoryStore()
	geoIdx := geo.NewMemoryIndex()
	registry := session.NewRegistry()
	fareCfg := func() config.FareConfig { return config.FareConfig{BaseFare: 200, PerKM: 100, PerMinute: 20} }

	dispatchCfg := func() config.DispatchConfig { return testDispatchConfig() }
	rt := New(registry, store, geoIdx, fareCfg, dispatchCfg)
	d := dispatch.New(store, geoIdx, rt, registry, testDispatchConfig)
	rt.SetDispatcher(d)

	identities := map[string]auth.Identity{
		"passenger-token": {ID: "passenger-1", Role: auth.RolePassenger},
		"captain-token":   {ID: "captain-1", Role: auth.RoleCaptain},
		"captain2-token":  {ID: "captain-2", Role: auth.RoleCaptain},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		identity, ok := identities[r.URL.Query().Get("token")]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		rt.ServeWS(w, r, identity)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, rt, identities
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, eventType string, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		require.False(t, time.Now().After(deadline), "timed out waiting for %q", eventType)
		_ = conn.SetReadDeadline(deadline)
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == eventType {
			return msg
		}
	}
}

func TestHappyPathDispatchAndAccept(t *testing.T) {
	srv, rt, _ := newTestServer(t)

	captainConn := dial(t, srv, "captain-token")
	passengerConn := dial(t, srv, "passenger-token")

	require.NoError(t, captainConn.WriteJSON(map[string]any{
		"type": "updateLocation", "lat": 44.360, "lon": 33.315,
	}))
	time.Sleep(20 * time.Millisecond) // let the geo upsert land before dispatch starts

	require.NoError(t, passengerConn.WriteJSON(map[string]any{
		"type":        "requestRide",
		"origin":      map[string]float64{"lon": 33.315, "lat": 44.366},
		"destination": map[string]float64{"lon": 33.310, "lat": 44.400},
		"distance":    5.0,
		"duration":    15.0,
		"fareAmount":  6000.0,
	}))

	readUntil(t, passengerConn, "ridePending", 2*time.Second)
	offer := readUntil(t, captainConn, "newRide", 2*time.Second)
	rideObj, _ := offer["ride"].(map[string]any)
	rideID, _ := rideObj["id"].(string)
	require.NotEmpty(t, rideID)

	require.NoError(t, captainConn.WriteJSON(map[string]string{"type": "acceptRide", "rideId": rideID}))

	readUntil(t, passengerConn, "rideAccepted", 2*time.Second)
	readUntil(t, captainConn, "rideAcceptedConfirmation", 2*time.Second)

	require.Eventually(t, func() bool { return !rt.dispatcher.Active(rideID) }, time.Second, 10*time.Millisecond)
}

func TestPassengerCannotAcceptOwnRide(t *testing.T) {
	srv, _, _ := newTestServer(t)

	captainConn := dial(t, srv, "captain-token")
	passengerConn := dial(t, srv, "passenger-token")

	require.NoError(t, captainConn.WriteJSON(map[string]any{"type": "updateLocation", "lat": 44.360, "lon": 33.315}))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, passengerConn.WriteJSON(map[string]any{
		"type":        "requestRide",
		"origin":      map[string]float64{"lon": 33.315, "lat": 44.366},
		"destination": map[string]float64{"lon": 33.310, "lat": 44.400},
		"distance":    5.0,
		"duration":    15.0,
	}))

	readUntil(t, passengerConn, "ridePending", 2*time.Second)
	offer := readUntil(t, captainConn, "newRide", 2*time.Second)
	rideID, _ := offer["ride"].(map[string]any)["id"].(string)
	require.NotEmpty(t, rideID)

	require.NoError(t, passengerConn.WriteJSON(map[string]string{"type": "acceptRide", "rideId": rideID}))

	errMsg := readUntil(t, passengerConn, "rideError", 2*time.Second)
	require.Equal(t, "auth_failed", errMsg["kind"])
}

func TestCaptainCannotStartAnotherCaptainsRide(t *testing.T) {
	srv, _, _ := newTestServer(t)

	captainConn := dial(t, srv, "captain-token")
	otherCaptainConn := dial(t, srv, "captain2-token")
	passengerConn := dial(t, srv, "passenger-token")

	require.NoError(t, captainConn.WriteJSON(map[string]any{"type": "updateLocation", "lat": 44.360, "lon": 33.315}))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, passengerConn.WriteJSON(map[string]any{
		"type":        "requestRide",
		"origin":      map[string]float64{"lon": 33.315, "lat": 44.366},
		"destination": map[string]float64{"lon": 33.310, "lat": 44.400},
		"distance":    5.0,
		"duration":    15.0,
	}))

	readUntil(t, passengerConn, "ridePending", 2*time.Second)
	offer := readUntil(t, captainConn, "newRide", 2*time.Second)
	rideID, _ := offer["ride"].(map[string]any)["id"].(string)

	require.NoError(t, captainConn.WriteJSON(map[string]string{"type": "acceptRide", "rideId": rideID}))
	readUntil(t, captainConn, "rideAcceptedConfirmation", 2*time.Second)

	require.NoError(t, otherCaptainConn.WriteJSON(map[string]string{"type": "startRide", "rideId": rideID}))
	errMsg := readUntil(t, otherCaptainConn, "rideError", 2*time.Second)
	require.Equal(t, "auth_failed", errMsg["kind"])
}

func TestReconnectRehydratesActiveRideWithFollowup(t *testing.T) {
	srv, rt, _ := newTestServer(t)
	ctx := context.Background()

	created, err := rt.store.Create(ctx, ride.NewRide{
		PassengerID:   "passenger-1",
		Pickup:        ride.Point{Lon: 1, Lat: 1},
		Dropoff:       ride.Point{Lon: 2, Lat: 2},
		PaymentMethod: ride.PaymentCash,
	})
	require.NoError(t, err)
	updated, err := rt.machine.Accept(ctx, created.ID, "captain-1")
	require.NoError(t, err)
	require.Equal(t, ride.StatusAccepted, updated.Status)

	captainConn := dial(t, srv, "captain-token")
	restore := readUntil(t, captainConn, "restoreRide", 2*time.Second)
	require.Equal(t, created.ID, restore["ride"].(map[string]any)["id"])
	followup := readUntil(t, captainConn, "rideAcceptedConfirmation", 2*time.Second)
	require.Equal(t, created.ID, followup["ride"].(map[string]any)["id"])

	passengerConn := dial(t, srv, "passenger-token")
	prestore := readUntil(t, passengerConn, "rideRestored", 2*time.Second)
	require.Equal(t, created.ID, prestore["ride"].(map[string]any)["id"])
	readUntil(t, passengerConn, "rideAccepted", 2*time.Second)
}

func TestReconnectRehydratesRecentCompletedRide(t *testing.T) {
	srv, rt, _ := newTestServer(t)
	ctx := context.Background()

	created, err := rt.store.Create(ctx, ride.NewRide{
		PassengerID:   "passenger-1",
		Pickup:        ride.Point{Lon: 1, Lat: 1},
		Dropoff:       ride.Point{Lon: 2, Lat: 2},
		PaymentMethod: ride.PaymentCash,
	})
	require.NoError(t, err)
	_, err = rt.machine.Accept(ctx, created.ID, "captain-1")
	require.NoError(t, err)
	_, err = rt.machine.Arrive(ctx, created.ID)
	require.NoError(t, err)
	_, err = rt.machine.Start(ctx, created.ID)
	require.NoError(t, err)
	_, err = rt.machine.Complete(ctx, created.ID)
	require.NoError(t, err)

	passengerConn := dial(t, srv, "passenger-token")
	restore := readUntil(t, passengerConn, "rideRestored", 2*time.Second)
	require.Equal(t, created.ID, restore["ride"].(map[string]any)["id"])
	readUntil(t, passengerConn, "rideCompleted", 2*time.Second)
}

func TestConcurrentAcceptOnlyOneWinner(t *testing.T) {
	srv, rt, _ := newTestServer(t)

	captain1 := dial(t, srv, "captain-token")
	captain2 := dial(t, srv, "captain2-token")
	passengerConn := dial(t, srv, "passenger-token")

	require.NoError(t, captain1.WriteJSON(map[string]any{"type": "updateLocation", "lat": 44.360, "lon": 33.315}))
	require.NoError(t, captain2.WriteJSON(map[string]any{"type": "updateLocation", "lat": 44.361, "lon": 33.316}))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, passengerConn.WriteJSON(map[string]any{
		"type":        "requestRide",
		"origin":      map[string]float64{"lon": 33.315, "lat": 44.366},
		"destination": map[string]float64{"lon": 33.310, "lat": 44.400},
		"distance":    5.0,
		"duration":    15.0,
	}))

	readUntil(t, passengerConn, "ridePending", 2*time.Second)
	offer1 := readUntil(t, captain1, "newRide", 2*time.Second)
	offer2 := readUntil(t, captain2, "newRide", 2*time.Second)
	rideID, _ := offer1["ride"].(map[string]any)["id"].(string)
	require.Equal(t, rideID, offer2["ride"].(map[string]any)["id"])

	require.NoError(t, captain1.WriteJSON(map[string]string{"type": "acceptRide", "rideId": rideID}))
	require.NoError(t, captain2.WriteJSON(map[string]string{"type": "acceptRide", "rideId": rideID}))

	accepted := readUntil(t, passengerConn, "rideAccepted", 2*time.Second)
	winnerID, _ := accepted["ride"].(map[string]any)["captainId"].(string)
	require.Contains(t, []string{"captain-1", "captain-2"}, winnerID)

	loserConn, winnerConn := captain2, captain1
	if winnerID == "captain-2" {
		loserConn, winnerConn = captain1, captain2
	}
	readUntil(t, winnerConn, "rideAcceptedConfirmation", 2*time.Second)
	errMsg := readUntil(t, loserConn, "rideError", 2*time.Second)
	require.Equal(t, "conflict", errMsg["kind"])

	require.Eventually(t, func() bool { return !rt.dispatcher.Active(rideID) }, time.Second, 10*time.Millisecond)
}
