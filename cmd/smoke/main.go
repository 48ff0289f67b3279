package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// smoke drives the happy-path end-to-end scenario against a running
// core: a captain goes online, a passenger requests a ride, the captain
// is offered it within the dispatch window, accepts, and both sides see
// the matching confirmation events.
func main() {
	api := envOrDefault("API_BASE", "http://localhost:8080")

	fmt.Println("Registering passenger and captain identities...")
	passengerToken, err := register(api, "passenger")
	if err != nil {
		log.Fatalf("passenger register failed: %v", err)
	}
	captainToken, err := register(api, "captain")
	if err != nil {
		log.Fatalf("captain register failed: %v", err)
	}

	fmt.Println("Connecting captain and bringing it online at (44.360, 33.315)...")
	captainConn, err := dialWS(api, captainToken)
	if err != nil {
		log.Fatalf("captain websocket connect failed: %v", err)
	}
	defer captainConn.Close()
	if err := captainConn.WriteJSON(map[string]any{"type": "updateLocation", "lon": 44.360, "lat": 33.315}); err != nil {
		log.Fatalf("captain location update failed: %v", err)
	}

	fmt.Println("Connecting passenger...")
	passengerConn, err := dialWS(api, passengerToken)
	if err != nil {
		log.Fatalf("passenger websocket connect failed: %v", err)
	}
	defer passengerConn.Close()

	fmt.Println("Requesting ride (44.366, 33.315) -> (44.400, 33.310)...")
	rideID, err := requestRide(api, passengerToken, map[string]any{
		"origin":      map[string]float64{"lon": 44.366, "lat": 33.315},
		"destination": map[string]float64{"lon": 44.400, "lat": 33.310},
		"distance":    5.0,
		"duration":    15.0,
		"fareAmount":  6000.0,
	})
	if err != nil {
		log.Fatalf("ride request failed: %v", err)
	}
	fmt.Printf("Ride requested: %s\n", rideID)

	if err := expectEvent(passengerConn, "ridePending", rideID, 5*time.Second); err != nil {
		log.Fatalf("passenger did not receive ridePending: %v", err)
	}
	fmt.Println("Passenger received ridePending.")

	if err := expectEvent(captainConn, "newRide", rideID, 15*time.Second); err != nil {
		log.Fatalf("captain did not receive newRide within offer window: %v", err)
	}
	fmt.Println("Captain received newRide offer, accepting...")

	if err := captainConn.WriteJSON(map[string]string{"type": "acceptRide", "rideId": rideID}); err != nil {
		log.Fatalf("accept send failed: %v", err)
	}

	if err := expectEvent(passengerConn, "rideAccepted", rideID, 5*time.Second); err != nil {
		log.Fatalf("passenger did not receive rideAccepted: %v", err)
	}
	fmt.Println("Passenger received rideAccepted.")

	if err := expectEvent(captainConn, "rideAcceptedConfirmation", rideID, 5*time.Second); err != nil {
		log.Fatalf("captain did not receive rideAcceptedConfirmation: %v", err)
	}
	fmt.Println("Captain received rideAcceptedConfirmation.")

	fmt.Println("Smoke test complete.")
}

func register(api, role string) (string, error) {
	body, _ := json.Marshal(map[string]string{"role": role})
	resp, err := http.Post(api+"/auth/register", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("register status %s", resp.Status)
	}
	var identity struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return "", err
	}
	return identity.Token, nil
}

func requestRide(api, token string, payload map[string]any) (string, error) {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest("POST", api+"/ride/request", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %s", resp.Status)
	}
	var res map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", err
	}
	id, _ := res["id"].(string)
	if id == "" {
		return "", fmt.Errorf("ride id missing")
	}
	return id, nil
}

func dialWS(api, token string) (*websocket.Conn, error) {
	wsURL := strings.Replace(api, "http", "ws", 1) + "/ws"
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	return conn, err
}

func expectEvent(conn *websocket.Conn, eventType, rideID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("timed out waiting for %q", eventType)
		}
		_ = conn.SetReadDeadline(deadline)
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg["type"] != eventType {
			continue
		}
		r, ok := msg["ride"].(map[string]any)
		if !ok {
			continue
		}
		if id, _ := r["id"].(string); id == rideID {
			return nil
		}
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
