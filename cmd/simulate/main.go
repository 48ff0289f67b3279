package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

type requestRidePayload struct {
	Origin      point   `json:"origin"`
	Destination point   `json:"destination"`
	DistanceKM  float64 `json:"distance"`
	DurationMin float64 `json:"duration"`
	FareAmount  float64 `json:"fareAmount"`
}

// simulate drives one end-to-end ride: a passenger requests a ride over
// HTTP, a captain connects over the websocket, waits for the offer, and
// accepts it.
func main() {
	api := flag.String("api", "http://localhost:8080", "API base URL")
	passengerToken := flag.String("passenger-token", "", "passenger bearer token")
	captainToken := flag.String("captain-token", "", "captain bearer token")
	originLat := flag.Float64("origin-lat", 44.366, "origin latitude")
	originLon := flag.Float64("origin-lon", 33.315, "origin longitude")
	destLat := flag.Float64("dest-lat", 44.400, "destination latitude")
	destLon := flag.Float64("dest-lon", 33.310, "destination longitude")
	distanceKM := flag.Float64("distance", 5.0, "ride distance in km")
	durationMin := flag.Float64("duration", 15.0, "ride duration in minutes")
	fareAmount := flag.Float64("fare", 6000, "fare amount in minor currency units")
	flag.Parse()

	if *passengerToken == "" || *captainToken == "" {
		log.Fatal("both -passenger-token and -captain-token are required")
	}

	captainConn, err := dialCaptain(*api, *captainToken)
	if err != nil {
		log.Fatalf("captain websocket connect failed: %v", err)
	}
	defer captainConn.Close()
	if err := captainConn.WriteJSON(map[string]any{"type": "updateLocation", "lat": *originLat, "lon": *originLon}); err != nil {
		log.Fatalf("captain location update failed: %v", err)
	}

	rideID, err := requestRide(*api, *passengerToken, requestRidePayload{
		Origin:      point{Lon: *originLon, Lat: *originLat},
		Destination: point{Lon: *destLon, Lat: *destLat},
		DistanceKM:  *distanceKM,
		DurationMin: *durationMin,
		FareAmount:  *fareAmount,
	})
	if err != nil {
		log.Fatalf("ride request failed: %v", err)
	}
	log.Printf("ride requested: %s", rideID)

	if err := waitForOffer(captainConn, rideID); err != nil {
		log.Fatalf("timed out waiting for dispatch offer: %v", err)
	}
	log.Printf("captain received offer for %s, accepting", rideID)

	if err := captainConn.WriteJSON(map[string]string{"type": "acceptRide", "rideId": rideID}); err != nil {
		log.Fatalf("accept send failed: %v", err)
	}
	log.Printf("ride accepted")
}

func requestRide(api, token string, payload requestRidePayload) (string, error) {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest("POST", fmt.Sprintf("%s/ride/request", api), bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("request ride status: %s", resp.Status)
	}
	var res map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", err
	}
	if id, ok := res["id"].(string); ok {
		return id, nil
	}
	return "", fmt.Errorf("ride id missing in response")
}

func dialCaptain(api, token string) (*websocket.Conn, error) {
	wsURL := strings.Replace(api, "http", "ws", 1) + "/ws"
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	return conn, err
}

func waitForOffer(conn *websocket.Conn, rideID string) error {
	_ = conn.SetReadDeadline(time.Now().Add(20 * time.Second))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg["type"] != "newRide" {
			continue
		}
		ride, ok := msg["ride"].(map[string]any)
		if !ok {
			continue
		}
		if id, ok := ride["id"].(string); ok && id == rideID {
			return nil
		}
	}
}

func init() {
	log.SetOutput(os.Stdout)
}
