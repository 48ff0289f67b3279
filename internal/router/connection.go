package router

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"ridedispatch/internal/auth"
)

// Connection is one principal's live websocket session, registered in
// the Session Registry under its principal ID. gorilla/websocket
// forbids concurrent writes from multiple goroutines, hence writeMu.
type Connection struct {
	Identity auth.Identity

	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newConnection(identity auth.Identity, conn *websocket.Conn) *Connection {
	return &Connection{Identity: identity, conn: conn}
}

// Send serializes an Event and writes it as a single text frame.
func (c *Connection) Send(evt Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(evt)
}

// Close satisfies session.Conn; displacing a stale connection on
// re-attach closes it the same way a read-loop error would.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// inbound is the envelope shape for client-originated messages: accept,
// cancel, arrive, start, complete, location pings, and resync requests.
type inbound struct {
	Type   string  `json:"type"`
	RideID string  `json:"rideId"`
	Reason string  `json:"reason,omitempty"`
	Lon    float64 `json:"lon,omitempty"`
	Lat    float64 `json:"lat,omitempty"`

	Origin        inboundPoint `json:"origin,omitempty"`
	Destination   inboundPoint `json:"destination,omitempty"`
	DistanceKM    float64      `json:"distance,omitempty"`
	DurationMin   float64      `json:"duration,omitempty"`
	FareAmount    float64      `json:"fareAmount,omitempty"`
	Currency      string       `json:"currency,omitempty"`
	PaymentMethod string       `json:"paymentMethod,omitempty"`
}

type inboundPoint struct {
	Lon       float64 `json:"lon"`
	Lat       float64 `json:"lat"`
	PlaceName string  `json:"placeName,omitempty"`
}

const (
	inRequestRide    = "requestRide"
	inAcceptRide     = "acceptRide"
	inCancelRide     = "cancelRide"
	inArrivedPickup  = "arrivedAtPickup"
	inStartRide      = "startRide"
	inCompleteRide   = "completeRide"
	inUpdateLocation = "updateLocation"
	inResyncRide     = "resyncRide"
)

// readLoop blocks reading frames from conn until the client disconnects
// or sends an unparseable frame, dispatching each to handle.
func (c *Connection) readLoop(handle func(inbound)) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Str("principal", c.Identity.ID).Msg("dropped unparseable websocket frame")
			continue
		}
		handle(msg)
	}
}
