package main

import (
	"flag"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// heartbeat keeps one captain's websocket session open and streams
// updateLocation frames on an interval, mimicking a mobile client's
// background location tracking.
func main() {
	api := flag.String("api", "http://localhost:8080", "API base URL")
	token := flag.String("token", "", "bearer token (captain identity)")
	lat := flag.Float64("lat", 44.366, "starting latitude")
	lon := flag.Float64("lon", 33.315, "starting longitude")
	interval := flag.Duration("interval", 15*time.Second, "heartbeat interval")
	count := flag.Int("count", 20, "number of heartbeats to send")
	stepLat := flag.Float64("delta-lat", 0.0001, "increment lat per heartbeat")
	stepLon := flag.Float64("delta-lon", 0.0001, "increment lon per heartbeat")
	flag.Parse()

	if *token == "" {
		log.Fatal("-token is required")
	}

	conn, err := dialCaptain(*api, *token)
	if err != nil {
		log.Fatalf("websocket connect failed: %v", err)
	}
	defer conn.Close()

	for i := 0; i < *count; i++ {
		msg := map[string]any{
			"type": "updateLocation",
			"lat":  *lat + float64(i)*(*stepLat),
			"lon":  *lon + float64(i)*(*stepLon),
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("heartbeat %d failed: %v", i+1, err)
		} else {
			log.Printf("heartbeat %d sent", i+1)
		}
		time.Sleep(*interval)
	}
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

func init() {
	log.SetOutput(os.Stdout)
}
