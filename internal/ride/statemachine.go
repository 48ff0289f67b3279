package ride

import (
	"context"
	"time"
)

// Actor identifies who may trigger a transition.
type Actor int

const (
	ActorDispatcher Actor = iota
	ActorPassenger
	ActorCaptain
)

// Transition is one legal edge in the lifecycle table: a precondition
// status, the actor allowed to trigger it, and a function computing the
// patch to apply. Keeping this table-driven (rather than one method per
// edge copying a check-then-set) means every edge goes through the same
// CompareAndSet call. The Machine emits no events; its callers (the Event
// Router and the HTTP handlers) raise them from the returned ride.
type Transition struct {
	Name    string
	From    Status
	Who     Actor
	Build   func(now time.Time, args TransitionArgs) Patch
}

// TransitionArgs carries the optional data a transition's patch builder
// may need (new captain on accept, cancellation reason on cancel).
type TransitionArgs struct {
	CaptainID          string
	CancellationReason string
	CancellationFee    float64
}

var (
	transitionAccept = Transition{
		Name: "accept",
		From: StatusRequested,
		Who:  ActorDispatcher,
		Build: func(now time.Time, args TransitionArgs) Patch {
			captainID := args.CaptainID
			dispatching := false
			return Patch{
				Status:        StatusAccepted,
				CaptainID:     &captainID,
				IsDispatching: &dispatching,
				AcceptedAt:    &now,
			}
		},
	}

	transitionArrive = Transition{
		Name: "arrive",
		From: StatusAccepted,
		Who:  ActorCaptain,
		Build: func(now time.Time, _ TransitionArgs) Patch {
			return Patch{Status: StatusArrived, ArrivedAt: &now}
		},
	}

	transitionStart = Transition{
		Name: "start",
		From: StatusArrived,
		Who:  ActorCaptain,
		Build: func(now time.Time, _ TransitionArgs) Patch {
			return Patch{Status: StatusOnRide, StartedAt: &now}
		},
	}

	transitionComplete = Transition{
		Name: "complete",
		From: StatusOnRide,
		Who:  ActorCaptain,
		Build: func(now time.Time, _ TransitionArgs) Patch {
			return Patch{Status: StatusCompleted, EndedAt: &now}
		},
	}

	transitionCancelRequested = Transition{
		Name: "cancel_requested",
		From: StatusRequested,
		Who:  ActorPassenger,
		Build: func(_ time.Time, args TransitionArgs) Patch {
			reason := args.CancellationReason
			dispatching := false
			fee := args.CancellationFee
			return Patch{Status: StatusCancelled, IsDispatching: &dispatching, CancellationReason: &reason, CancellationFee: &fee}
		},
	}

	transitionNotApprove = Transition{
		Name: "not_approve",
		From: StatusRequested,
		Who:  ActorDispatcher,
		Build: func(_ time.Time, _ TransitionArgs) Patch {
			dispatching := false
			return Patch{Status: StatusNotApprove, IsDispatching: &dispatching}
		},
	}
)

// cancelByPassenger covers accepted|arrived -> cancelled, unbinding the
// captain with no re-dispatch.
func cancelByPassengerPatch(args TransitionArgs) Patch {
	reason := args.CancellationReason
	dispatching := false
	fee := args.CancellationFee
	return Patch{
		Status:             StatusCancelled,
		ClearCaptain:       true,
		IsDispatching:      &dispatching,
		CancellationReason: &reason,
		CancellationFee:    &fee,
	}
}

// captainCancelPatch covers accepted|arrived -> requested (re-dispatch),
// clearing the captain and recording why.
func captainCancelPatch(args TransitionArgs) Patch {
	reason := args.CancellationReason
	dispatching := true
	return Patch{
		Status:             StatusRequested,
		ClearCaptain:       true,
		IsDispatching:      &dispatching,
		CancellationReason: &reason,
	}
}

// Machine applies the Ride State Machine's transitions against a Store,
// one CompareAndSet per edge.
type Machine struct {
	Store Store
}

func NewMachine(store Store) *Machine {
	return &Machine{Store: store}
}

// Accept performs requested -> accepted, binding captainID. This is the
// single path by which a captainId is ever installed on a ride. Rejects
// a captain who already has a different non-terminal ride: CompareAndSet
// alone only protects the one ride being accepted, which isn't enough
// when two independent DispatchProcesses offer the same captain two
// different rides concurrently.
func (m *Machine) Accept(ctx context.Context, rideID, captainID string) (*Ride, error) {
	active, err := m.Store.FindActiveForCaptain(ctx, captainID)
	if err != nil {
		return nil, err
	}
	if active != nil && active.ID != rideID {
		return nil, Conflict("captain already has a non-terminal ride")
	}
	return m.apply(ctx, rideID, transitionAccept, TransitionArgs{CaptainID: captainID})
}

// Arrive performs accepted -> arrived.
func (m *Machine) Arrive(ctx context.Context, rideID string) (*Ride, error) {
	return m.apply(ctx, rideID, transitionArrive, TransitionArgs{})
}

// Start performs arrived -> onRide.
func (m *Machine) Start(ctx context.Context, rideID string) (*Ride, error) {
	return m.apply(ctx, rideID, transitionStart, TransitionArgs{})
}

// Complete performs onRide -> completed.
func (m *Machine) Complete(ctx context.Context, rideID string) (*Ride, error) {
	return m.apply(ctx, rideID, transitionComplete, TransitionArgs{})
}

// NotApprove performs requested -> notApprove, called by the Dispatcher on
// exhausted search.
func (m *Machine) NotApprove(ctx context.Context, rideID string) (*Ride, error) {
	return m.apply(ctx, rideID, transitionNotApprove, TransitionArgs{})
}

// CancelByPassenger cancels a ride on behalf of its passenger. from must be
// the ride's current status (requested, accepted, or arrived); any other
// value is rejected as a Conflict. fee is
// the cancellation fee to record, computed by the caller (see
// internal/fare.CancellationFee) against the Config Provider's free-window
// and cancellation-fee knobs.
func (m *Machine) CancelByPassenger(ctx context.Context, rideID string, from Status, reason string, fee float64) (*Ride, error) {
	if from.Terminal() {
		return nil, Conflict("ride is already " + string(from))
	}
	args := TransitionArgs{CancellationReason: reason, CancellationFee: fee}
	if from == StatusRequested {
		return m.apply(ctx, rideID, transitionCancelRequested, args)
	}
	if from != StatusAccepted && from != StatusArrived {
		return nil, Conflict("passenger cannot cancel a ride that is " + string(from))
	}
	patch := cancelByPassengerPatch(args)
	return m.Store.CompareAndSet(ctx, rideID, from, patch)
}

// CancelByCaptain performs accepted|arrived -> requested: the captain
// unbinds, the ride re-enters dispatch, and the cancelling captain should
// be excluded from new offers for a cooldown window (the Dispatcher's
// responsibility, not the state machine's).
func (m *Machine) CancelByCaptain(ctx context.Context, rideID string, from Status, reason string) (*Ride, error) {
	if from.Terminal() {
		return nil, Conflict("ride is already " + string(from))
	}
	if from != StatusAccepted && from != StatusArrived {
		return nil, Conflict("captain cannot cancel a ride that is " + string(from))
	}
	patch := captainCancelPatch(TransitionArgs{CancellationReason: reason})
	return m.Store.CompareAndSet(ctx, rideID, from, patch)
}

func (m *Machine) apply(ctx context.Context, rideID string, t Transition, args TransitionArgs) (*Ride, error) {
	patch := t.Build(time.Now(), args)
	return m.Store.CompareAndSet(ctx, rideID, t.From, patch)
}
