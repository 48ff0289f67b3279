package router

import "ridedispatch/internal/ride"

// EventType names an outbound message pushed down a websocket connection.
// This set is closed and wire-normative: renaming one breaks every
// connected client.
type EventType string

const (
	EventRidePending             EventType = "ridePending"
	EventRideAccepted            EventType = "rideAccepted"
	EventRideAcceptedConfirm     EventType = "rideAcceptedConfirmation"
	EventDriverArrived           EventType = "driverArrived"
	EventRideStarted             EventType = "rideStarted"
	EventRideCompleted           EventType = "rideCompleted"
	EventRideCanceled            EventType = "rideCanceled"
	EventRideNotApproved         EventType = "rideNotApproved"
	EventDriverLocationUpdate    EventType = "driverLocationUpdate"
	EventNewRide                 EventType = "newRide"
	EventRideError               EventType = "rideError"
	EventRestoreRide             EventType = "restoreRide"
	EventRideRestored            EventType = "rideRestored"
)

// Event is implemented by every outbound message struct. The marker
// method keeps the set closed to what this package declares.
type Event interface {
	eventType() EventType
}

type envelope struct {
	Type EventType `json:"type"`
}

// RidePending tells the passenger their request was accepted for
// dispatch and is now searching for a captain.
type RidePending struct {
	envelope
	Ride *ride.Ride `json:"ride"`
}

func NewRidePending(r *ride.Ride) RidePending {
	return RidePending{envelope{EventRidePending}, r}
}
func (RidePending) eventType() EventType { return EventRidePending }

// RideAccepted tells the passenger a captain has taken the ride.
type RideAccepted struct {
	envelope
	Ride *ride.Ride `json:"ride"`
}

func NewRideAccepted(r *ride.Ride) RideAccepted {
	return RideAccepted{envelope{EventRideAccepted}, r}
}
func (RideAccepted) eventType() EventType { return EventRideAccepted }

// RideAcceptedConfirmation is sent back to the captain who just accepted,
// confirming the bind before any other event reaches them.
type RideAcceptedConfirmation struct {
	envelope
	Ride *ride.Ride `json:"ride"`
}

func NewRideAcceptedConfirmation(r *ride.Ride) RideAcceptedConfirmation {
	return RideAcceptedConfirmation{envelope{EventRideAcceptedConfirm}, r}
}
func (RideAcceptedConfirmation) eventType() EventType { return EventRideAcceptedConfirm }

// DriverArrived tells the passenger their captain reached the pickup.
type DriverArrived struct {
	envelope
	Ride *ride.Ride `json:"ride"`
}

func NewDriverArrived(r *ride.Ride) DriverArrived {
	return DriverArrived{envelope{EventDriverArrived}, r}
}
func (DriverArrived) eventType() EventType { return EventDriverArrived }

// RideStarted tells both parties the trip is underway.
type RideStarted struct {
	envelope
	Ride *ride.Ride `json:"ride"`
}

func NewRideStarted(r *ride.Ride) RideStarted {
	return RideStarted{envelope{EventRideStarted}, r}
}
func (RideStarted) eventType() EventType { return EventRideStarted }

// RideCompleted tells both parties the trip ended normally.
type RideCompleted struct {
	envelope
	Ride *ride.Ride `json:"ride"`
}

func NewRideCompleted(r *ride.Ride) RideCompleted {
	return RideCompleted{envelope{EventRideCompleted}, r}
}
func (RideCompleted) eventType() EventType { return EventRideCompleted }

// RideCanceled tells the other party a ride was canceled, with the
// recorded reason.
type RideCanceled struct {
	envelope
	Ride *ride.Ride `json:"ride"`
}

func NewRideCanceled(r *ride.Ride) RideCanceled {
	return RideCanceled{envelope{EventRideCanceled}, r}
}
func (RideCanceled) eventType() EventType { return EventRideCanceled }

// RideNotApproved tells the passenger the Dispatcher gave up: no captain
// accepted before the grace deadline.
type RideNotApproved struct {
	envelope
	Ride *ride.Ride `json:"ride"`
}

func NewRideNotApproved(r *ride.Ride) RideNotApproved {
	return RideNotApproved{envelope{EventRideNotApproved}, r}
}
func (RideNotApproved) eventType() EventType { return EventRideNotApproved }

// DriverLocationUpdate relays a captain's latest position to their
// currently bound passenger.
type DriverLocationUpdate struct {
	envelope
	CaptainID string  `json:"captainId"`
	Lon       float64 `json:"lon"`
	Lat       float64 `json:"lat"`
}

func NewDriverLocationUpdate(captainID string, lon, lat float64) DriverLocationUpdate {
	return DriverLocationUpdate{envelope{EventDriverLocationUpdate}, captainID, lon, lat}
}
func (DriverLocationUpdate) eventType() EventType { return EventDriverLocationUpdate }

// NewRideOffer is the dispatch offer sent to a candidate captain.
type NewRideOffer struct {
	envelope
	Ride *ride.Ride `json:"ride"`
}

func NewRideOfferEvent(r *ride.Ride) NewRideOffer {
	return NewRideOffer{envelope{EventNewRide}, r}
}
func (NewRideOffer) eventType() EventType { return EventNewRide }

// RideError reports a rejected action back to the connection that
// attempted it (e.g. accepting a ride someone else already took).
type RideError struct {
	envelope
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

func NewRideErrorEvent(kind, message string) RideError {
	return RideError{envelope{EventRideError}, message, kind}
}
func (RideError) eventType() EventType { return EventRideError }

// RestoreRide is pushed on attach when a reconnecting captain has an
// active ride to resync state for.
type RestoreRide struct {
	envelope
	Ride *ride.Ride `json:"ride"`
}

func NewRestoreRide(r *ride.Ride) RestoreRide {
	return RestoreRide{envelope{EventRestoreRide}, r}
}
func (RestoreRide) eventType() EventType { return EventRestoreRide }

// RideRestored is the passenger-facing rehydration event: pushed on
// attach when a reconnecting passenger has an active or recently
// completed-but-unrated ride, and also sent in answer to a client's
// explicit resync request.
type RideRestored struct {
	envelope
	Ride *ride.Ride `json:"ride"`
}

func NewRideRestored(r *ride.Ride) RideRestored {
	return RideRestored{envelope{EventRideRestored}, r}
}
func (RideRestored) eventType() EventType { return EventRideRestored }
