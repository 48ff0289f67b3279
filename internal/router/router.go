// Package router implements the Event Router: the principal-keyed
// websocket hub that turns ride state machine transitions into outbound
// events and client messages into state machine calls. It generalizes a
// ride-keyed connection hub into one keyed by principal ID, since a
// captain or passenger's session spans many rides over its lifetime.
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"ridedispatch/internal/auth"
	"ridedispatch/internal/config"
	"ridedispatch/internal/dispatch"
	"ridedispatch/internal/fare"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/metrics"
	"ridedispatch/internal/ride"
	"ridedispatch/internal/session"
)

// Router owns the Session Registry and wires inbound client messages to
// the Ride State Machine, and outbound state transitions to connected
// principals. It implements dispatch.OfferSender.
type Router struct {
	registry    *session.Registry
	store       ride.Store
	machine     *ride.Machine
	geoIndex    geo.Index
	dispatcher  *dispatch.Dispatcher
	upgrader    websocket.Upgrader
	fareCfg     func() config.FareConfig
	dispatchCfg func() config.DispatchConfig
}

func New(registry *session.Registry, store ride.Store, geoIndex geo.Index, fareCfg func() config.FareConfig, dispatchCfg func() config.DispatchConfig) *Router {
	return &Router{
		registry:    registry,
		store:       store,
		machine:     ride.NewMachine(store),
		geoIndex:    geoIndex,
		fareCfg:     fareCfg,
		dispatchCfg: dispatchCfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetDispatcher wires the Dispatcher after construction, breaking the
// Router<->Dispatcher initialization cycle (the Dispatcher needs a
// Router as its OfferSender; the Router needs the Dispatcher to cancel
// and restart dispatch processes on accept/cancel).
func (rt *Router) SetDispatcher(d *dispatch.Dispatcher) {
	rt.dispatcher = d
}

// ServeWS upgrades the request to a websocket, attaches the connection
// under identity's principal ID (displacing any prior connection for
// the same principal), rehydrates recent ride state, and blocks reading
// client frames until disconnect.
func (rt *Router) ServeWS(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	wsConn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := newConnection(identity, wsConn)
	if previous := rt.registry.Attach(identity.ID, conn); previous != nil {
		_ = previous.Close()
	}
	metrics.WebsocketConnectionsGauge.Inc()
	defer func() {
		rt.registry.Detach(identity.ID, conn)
		metrics.WebsocketConnectionsGauge.Dec()
	}()

	rt.rehydrate(r.Context(), identity, conn)
	conn.readLoop(func(msg inbound) {
		rt.handleInbound(r.Context(), identity, conn, msg)
	})
}

// rehydrate implements the reconnect/rehydration contract: a principal who
// reconnects gets pushed whatever active ride the Ride Store has for them,
// rather than relying on the Router to have remembered anything about
// their prior connection. Captains get the role-specific restoreRide
// event, passengers get rideRestored; either case is followed by the
// status-specific event so the client's state machine sees the same
// transition it would have on a live connection. A passenger with no
// active ride but a just-finished, not-yet-rated one still gets restored,
// so a dropped connection during rating can't strand them.
func (rt *Router) rehydrate(ctx context.Context, identity auth.Identity, conn *Connection) {
	var active *ride.Ride
	var err error
	switch identity.Role {
	case auth.RolePassenger:
		active, err = rt.store.FindActiveForPassenger(ctx, identity.ID)
		if err == nil && active == nil && rt.dispatchCfg != nil {
			since := time.Now().Add(-rt.dispatchCfg().RestoreWindow)
			active, err = rt.store.FindRecentCompletedForPassenger(ctx, identity.ID, since)
		}
	case auth.RoleCaptain:
		active, err = rt.store.FindActiveForCaptain(ctx, identity.ID)
	}
	if err != nil || active == nil {
		return
	}

	if identity.Role == auth.RoleCaptain {
		_ = conn.Send(NewRestoreRide(active))
	} else {
		_ = conn.Send(NewRideRestored(active))
	}
	if follow := eventForStatus(active, identity.Role); follow != nil {
		_ = conn.Send(follow)
	}
}

// eventForStatus maps a ride's current status to the same event a live
// transition through that status would have produced, role-specific
// where the wire contract distinguishes captain and passenger events.
// Used as rehydrate's follow-up to the restoration event.
func eventForStatus(r *ride.Ride, role auth.Role) Event {
	switch r.Status {
	case ride.StatusRequested:
		return NewRidePending(r)
	case ride.StatusAccepted:
		if role == auth.RoleCaptain {
			return NewRideAcceptedConfirmation(r)
		}
		return NewRideAccepted(r)
	case ride.StatusArrived:
		return NewDriverArrived(r)
	case ride.StatusOnRide:
		return NewRideStarted(r)
	case ride.StatusCompleted:
		return NewRideCompleted(r)
	case ride.StatusCancelled:
		return NewRideCanceled(r)
	case ride.StatusNotApprove:
		return NewRideNotApproved(r)
	default:
		return nil
	}
}

func (rt *Router) handleInbound(ctx context.Context, identity auth.Identity, conn *Connection, msg inbound) {
	switch msg.Type {
	case inRequestRide:
		rt.handleRequestRide(ctx, identity, conn, msg)
	case inAcceptRide:
		rt.handleAccept(ctx, identity, conn, msg.RideID)
	case inCancelRide:
		rt.handleCancel(ctx, identity, conn, msg.RideID, msg.Reason)
	case inArrivedPickup:
		rt.handleArrive(ctx, identity, conn, msg.RideID)
	case inStartRide:
		rt.handleStart(ctx, identity, conn, msg.RideID)
	case inCompleteRide:
		rt.handleComplete(ctx, identity, conn, msg.RideID)
	case inUpdateLocation:
		rt.handleLocationUpdate(ctx, identity, msg)
	case inResyncRide:
		rt.handleResync(ctx, conn, msg.RideID)
	default:
		_ = conn.Send(NewRideErrorEvent("", "unknown message type"))
	}
}

// sendErr reports a ride.Error to conn and records it, so every rejected
// client action shows up in ride_errors_total by kind.
func (rt *Router) sendErr(conn *Connection, err error) {
	metrics.RideErrorsTotal.WithLabelValues(ride.KindOf(err)).Inc()
	_ = conn.Send(NewRideErrorEvent(ride.KindOf(err), err.Error()))
}

func (rt *Router) handleRequestRide(ctx context.Context, identity auth.Identity, conn *Connection, msg inbound) {
	n := ride.NewRide{
		PassengerID:   identity.ID,
		Pickup:        ride.Point{Lon: msg.Origin.Lon, Lat: msg.Origin.Lat, PlaceName: msg.Origin.PlaceName},
		Dropoff:       ride.Point{Lon: msg.Destination.Lon, Lat: msg.Destination.Lat, PlaceName: msg.Destination.PlaceName},
		DistanceKM:    msg.DistanceKM,
		DurationMin:   msg.DurationMin,
		FareAmount:    msg.FareAmount,
		Currency:      msg.Currency,
		PaymentMethod: ride.PaymentMethod(msg.PaymentMethod),
	}
	if _, err := rt.RequestRide(ctx, identity, n); err != nil {
		rt.sendErr(conn, err)
	}
}

// RequestRide implements the passenger-initiated half of requestRide:
// reject if an active ride already exists, otherwise create it, apply
// the fare policy when the caller omitted an amount, start dispatch, and
// push ridePending to the requesting passenger's own session.
func (rt *Router) RequestRide(ctx context.Context, identity auth.Identity, n ride.NewRide) (*ride.Ride, error) {
	if identity.Role != auth.RolePassenger {
		return nil, ride.AuthFailed("only passengers may request rides")
	}
	n.PassengerID = identity.ID

	active, err := rt.store.FindActiveForPassenger(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, ride.ErrActiveRideExists
	}

	if n.FareAmount == 0 && rt.fareCfg != nil {
		cfg := rt.fareCfg()
		n.FareAmount = fare.Estimate(cfg, n.DistanceKM, n.DurationMin, time.Now())
		if n.Currency == "" {
			n.Currency = cfg.Currency
		}
	}

	created, err := rt.store.Create(ctx, n)
	if err != nil {
		return nil, err
	}
	metrics.RideRequestsTotal.WithLabelValues("created").Inc()
	if rt.dispatcher != nil {
		rt.dispatcher.Start(ctx, created.ID)
	}
	rt.notify(created.PassengerID, NewRidePending(created))
	return created, nil
}

// Notify pushes evt to principalID's live connection, if any. Exported
// so the HTTP surface can raise the same events the websocket handlers do
// (e.g. ridePending or rideCanceled after a POST /ride/{id}/cancel).
func (rt *Router) Notify(principalID string, evt Event) {
	rt.notify(principalID, evt)
}

func (rt *Router) handleAccept(ctx context.Context, identity auth.Identity, conn *Connection, rideID string) {
	if identity.Role != auth.RoleCaptain {
		rt.sendErr(conn, ride.AuthFailed("only captains may accept rides"))
		return
	}
	updated, err := rt.machine.Accept(ctx, rideID, identity.ID)
	if err != nil {
		rt.sendErr(conn, err)
		return
	}
	if rt.dispatcher != nil {
		rt.dispatcher.Cancel(rideID)
	}
	metrics.RideTransitionsTotal.WithLabelValues(string(updated.Status)).Inc()
	metrics.ObserveDispatchAccept(updated.CreatedAt)
	_ = conn.Send(NewRideAcceptedConfirmation(updated))
	rt.notify(updated.PassengerID, NewRideAccepted(updated))
}

func (rt *Router) handleCancel(ctx context.Context, identity auth.Identity, conn *Connection, rideID, reason string) {
	current, err := rt.store.Get(ctx, rideID)
	if err != nil {
		rt.sendErr(conn, err)
		return
	}

	if identity.Role == auth.RoleCaptain && current.CaptainID == identity.ID {
		updated, err := rt.machine.CancelByCaptain(ctx, rideID, current.Status, reason)
		if err != nil {
			rt.sendErr(conn, err)
			return
		}
		if rt.dispatcher != nil {
			rt.dispatcher.RestartAfterCaptainCancel(ctx, rideID, identity.ID)
		}
		metrics.RideTransitionsTotal.WithLabelValues(string(updated.Status)).Inc()
		rt.notify(updated.PassengerID, NewRidePending(updated))
		return
	}

	if identity.Role != auth.RolePassenger || current.PassengerID != identity.ID {
		rt.sendErr(conn, ride.AuthFailed("not a party to this ride"))
		return
	}

	var fee float64
	if rt.fareCfg != nil {
		fee = fare.CancellationFee(rt.fareCfg(), current.CreatedAt, time.Now())
	}
	updated, err := rt.machine.CancelByPassenger(ctx, rideID, current.Status, reason, fee)
	if err != nil {
		rt.sendErr(conn, err)
		return
	}
	if rt.dispatcher != nil {
		rt.dispatcher.Cancel(rideID)
	}
	metrics.RideTransitionsTotal.WithLabelValues(string(updated.Status)).Inc()
	if current.CaptainID != "" {
		rt.notify(current.CaptainID, NewRideCanceled(updated))
	}
}

// ownsAsCaptain fetches rideID and confirms identity is the captain bound
// to it, the same ownership check api.Handler's canAccess applies on the
// HTTP surface. Every captain-only transition below calls into the state
// machine only once this check passes.
func (rt *Router) ownsAsCaptain(ctx context.Context, identity auth.Identity, rideID string) (*ride.Ride, error) {
	current, err := rt.store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if identity.Role != auth.RoleCaptain || current.CaptainID != identity.ID {
		return nil, ride.AuthFailed("not the captain assigned to this ride")
	}
	return current, nil
}

func (rt *Router) handleArrive(ctx context.Context, identity auth.Identity, conn *Connection, rideID string) {
	if _, err := rt.ownsAsCaptain(ctx, identity, rideID); err != nil {
		rt.sendErr(conn, err)
		return
	}
	updated, err := rt.machine.Arrive(ctx, rideID)
	if err != nil {
		rt.sendErr(conn, err)
		return
	}
	metrics.RideTransitionsTotal.WithLabelValues(string(updated.Status)).Inc()
	rt.notify(updated.PassengerID, NewDriverArrived(updated))
}

func (rt *Router) handleStart(ctx context.Context, identity auth.Identity, conn *Connection, rideID string) {
	if _, err := rt.ownsAsCaptain(ctx, identity, rideID); err != nil {
		rt.sendErr(conn, err)
		return
	}
	updated, err := rt.machine.Start(ctx, rideID)
	if err != nil {
		rt.sendErr(conn, err)
		return
	}
	metrics.RideTransitionsTotal.WithLabelValues(string(updated.Status)).Inc()
	rt.notify(updated.PassengerID, NewRideStarted(updated))
	rt.notify(updated.CaptainID, NewRideStarted(updated))
}

func (rt *Router) handleComplete(ctx context.Context, identity auth.Identity, conn *Connection, rideID string) {
	if _, err := rt.ownsAsCaptain(ctx, identity, rideID); err != nil {
		rt.sendErr(conn, err)
		return
	}
	updated, err := rt.machine.Complete(ctx, rideID)
	if err != nil {
		rt.sendErr(conn, err)
		return
	}
	metrics.RideTransitionsTotal.WithLabelValues(string(updated.Status)).Inc()
	rt.notify(updated.PassengerID, NewRideCompleted(updated))
	rt.notify(updated.CaptainID, NewRideCompleted(updated))
}

func (rt *Router) handleLocationUpdate(ctx context.Context, identity auth.Identity, msg inbound) {
	if identity.Role != auth.RoleCaptain {
		return
	}
	if err := rt.geoIndex.Upsert(ctx, identity.ID, msg.Lat, msg.Lon, time.Now()); err != nil {
		log.Debug().Err(err).Str("captain", identity.ID).Msg("failed to update geo index")
	}
	active, err := rt.store.FindActiveForCaptain(ctx, identity.ID)
	if err != nil || active == nil {
		return
	}
	rt.notify(active.PassengerID, NewDriverLocationUpdate(identity.ID, msg.Lon, msg.Lat))
}

func (rt *Router) handleResync(ctx context.Context, conn *Connection, rideID string) {
	r, err := rt.store.Get(ctx, rideID)
	if err != nil {
		rt.sendErr(conn, err)
		return
	}
	_ = conn.Send(NewRideRestored(r))
}

// notify delivers evt to principalID's live connection, if any. Absence
// is not an error: the principal may simply be offline, in which case
// RestoreRide on their next reconnect is the recovery path.
func (rt *Router) notify(principalID string, evt Event) {
	if principalID == "" {
		return
	}
	c, ok := rt.registry.Lookup(principalID)
	if !ok {
		return
	}
	conn, ok := c.(*Connection)
	if !ok {
		return
	}
	_ = conn.Send(evt)
}

// SendOffer implements dispatch.OfferSender: delivers a newRide offer to
// a candidate captain's live connection.
func (rt *Router) SendOffer(_ context.Context, captainID string, r *ride.Ride) error {
	c, ok := rt.registry.Lookup(captainID)
	if !ok {
		return dispatchOfferErr{captainID: captainID}
	}
	conn, ok := c.(*Connection)
	if !ok {
		return dispatchOfferErr{captainID: captainID}
	}
	return conn.Send(NewRideOfferEvent(r))
}

// NotifyNotApproved implements dispatch.OfferSender: tells the
// passenger the Dispatcher gave up.
func (rt *Router) NotifyNotApproved(_ context.Context, r *ride.Ride) {
	rt.notify(r.PassengerID, NewRideNotApproved(r))
}

type dispatchOfferErr struct{ captainID string }

func (e dispatchOfferErr) Error() string { return "captain " + e.captainID + " has no live connection" }
