// Package dispatch implements the Dispatcher: the per-ride expanding
// radius scheduler that finds a captain for a requested ride.
package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ridedispatch/internal/config"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/metrics"
	"ridedispatch/internal/ride"
)

// OfferSender delivers a newRide offer to a candidate captain. Implemented
// by the Event Router.
type OfferSender interface {
	SendOffer(ctx context.Context, captainID string, r *ride.Ride) error
	NotifyNotApproved(ctx context.Context, r *ride.Ride)
}

// OnlineChecker reports whether a captain currently has a live session.
// Implemented by the Session Registry.
type OnlineChecker interface {
	Online(principalID string) bool
}

// Process is the DispatchProcess handle: one per in-flight dispatch
// attempt for a ride, carrying its cancel token and offer bookkeeping.
type Process struct {
	RideID    string
	StartedAt time.Time

	cancel context.CancelFunc

	mu         sync.Mutex
	radius     float64
	offered    map[string]struct{}
	expansions int
	matched    bool
}

func newProcess(rideID string, initialRadius float64, cancel context.CancelFunc) *Process {
	return &Process{
		RideID:    rideID,
		StartedAt: time.Now(),
		cancel:    cancel,
		radius:    initialRadius,
		offered:   make(map[string]struct{}),
	}
}

// Cancel fires the process's cancel token. Idempotent: a second call is a
// no-op since context.CancelFunc already is.
func (p *Process) Cancel() { p.cancel() }

func (p *Process) hasOffered(captainID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.offered[captainID]
	return ok
}

func (p *Process) markOffered(captainID string) {
	p.mu.Lock()
	p.offered[captainID] = struct{}{}
	p.mu.Unlock()
}

func (p *Process) currentRadius() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.radius
}

func (p *Process) setRadius(r float64) {
	p.mu.Lock()
	p.radius = r
	p.expansions++
	p.mu.Unlock()
}

func (p *Process) markMatched() {
	p.mu.Lock()
	already := p.matched
	p.matched = true
	p.mu.Unlock()
	if !already {
		metrics.ObserveDispatchMatch(p.StartedAt)
	}
}

// Dispatcher runs one scheduler loop per ride that needs a captain. It is
// the sole writer of the requested->accepted/notApprove transition's
// trigger path (the actual compareAndSet lives in ride.Machine; the
// Dispatcher decides when to call it).
type Dispatcher struct {
	store    ride.Store
	machine  *ride.Machine
	geoIndex geo.Index
	sender   OfferSender
	online   OnlineChecker
	cooldown *CooldownTracker
	cfg      func() config.DispatchConfig

	mu        sync.Mutex
	processes map[string]*Process
}

// New builds a Dispatcher. cfg is called at the start of every loop
// iteration so config changes take effect without restart, per the
// Config Provider's hot-reload contract.
func New(store ride.Store, geoIndex geo.Index, sender OfferSender, online OnlineChecker, cfg func() config.DispatchConfig) *Dispatcher {
	return &Dispatcher{
		store:     store,
		machine:   ride.NewMachine(store),
		geoIndex:  geoIndex,
		sender:    sender,
		online:    online,
		cooldown:  NewCooldownTracker(),
		cfg:       cfg,
		processes: make(map[string]*Process),
	}
}

// Start launches a fresh DispatchProcess for rideID if one is not already
// running. Safe to call more than once for the same ride; the second call
// is a no-op, which is what lets the Background Sweeper call it
// unconditionally.
func (d *Dispatcher) Start(ctx context.Context, rideID string) {
	d.mu.Lock()
	if _, exists := d.processes[rideID]; exists {
		d.mu.Unlock()
		return
	}
	c := d.cfg()
	runCtx, cancel := context.WithCancel(context.Background())
	proc := newProcess(rideID, c.InitialRadiusKM, cancel)
	d.processes[rideID] = proc
	d.mu.Unlock()
	metrics.ActiveDispatchesGauge.Set(float64(len(d.ActiveIDs())))

	go d.run(runCtx, proc)
}

// RestartAfterCaptainCancel excludes captainID from rideID's offers for
// the configured cooldown window, then starts a fresh DispatchProcess.
// The prior process's offered-set is intentionally discarded by Start
// creating a brand new Process, so every other captain may be re-offered.
func (d *Dispatcher) RestartAfterCaptainCancel(ctx context.Context, rideID, captainID string) {
	c := d.cfg()
	d.cooldown.Exclude(rideID, captainID, c.CaptainCooldown)
	d.Start(ctx, rideID)
}

// Cancel stops the DispatchProcess for rideID, if any. Called when a
// passenger cancels or a captain accepts out of band.
func (d *Dispatcher) Cancel(rideID string) {
	d.mu.Lock()
	proc, exists := d.processes[rideID]
	d.mu.Unlock()
	if exists {
		proc.Cancel()
	}
}

// Active reports whether rideID currently has a running DispatchProcess,
// used by the Background Sweeper to find orphans.
func (d *Dispatcher) Active(rideID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.processes[rideID]
	return ok
}

// ActiveIDs returns the ride ids with a live DispatchProcess.
func (d *Dispatcher) ActiveIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.processes))
	for id := range d.processes {
		ids = append(ids, id)
	}
	return ids
}

// remove deletes proc from the process map only if it is still the entry
// registered for its ride — a Start() that replaced it with a fresh
// Process (e.g. re-dispatch after captain cancel) must not be deleted by
// the superseded process's own exit.
func (d *Dispatcher) remove(proc *Process) {
	d.mu.Lock()
	if cur, ok := d.processes[proc.RideID]; ok && cur == proc {
		delete(d.processes, proc.RideID)
	}
	d.mu.Unlock()
	metrics.ActiveDispatchesGauge.Set(float64(len(d.ActiveIDs())))
}

// run is the per-ride scheduler loop of the design: verify, query,
// offer, wait, expand, and eventually grace-then-giveup.
func (d *Dispatcher) run(ctx context.Context, proc *Process) {
	defer d.remove(proc)

	for {
		c := d.cfg()

		r, err := d.store.Get(ctx, proc.RideID)
		if err != nil || r.Status != ride.StatusRequested {
			return
		}
		if time.Since(proc.StartedAt) >= c.MaxDispatchTime {
			d.grace(ctx, proc, c)
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		candidates, err := d.geoIndex.Nearby(ctx, r.Pickup.Lat, r.Pickup.Lon, proc.currentRadius(), c.MaxCandidates)
		if err == nil && len(candidates) > 0 {
			d.offerRadius(ctx, proc, r, candidates)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.OfferTimeout):
		}

		r, err = d.store.Get(ctx, proc.RideID)
		if err != nil || r.Status != ride.StatusRequested {
			return
		}

		radius := proc.currentRadius()
		if radius < c.MaxRadiusKM {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.InterRadiusPause):
			}
			next := radius + c.RadiusIncrementKM
			if next > c.MaxRadiusKM {
				next = c.MaxRadiusKM
			}
			proc.setRadius(next)
			continue
		}

		d.grace(ctx, proc, c)
		return
	}
}

// offerRadius sends newRide to every eligible candidate in this radius
// band concurrently, all before waiting on any response — the
// concurrent-offer semantics the design mandates in place of a
// sequential per-candidate wait.
func (d *Dispatcher) offerRadius(ctx context.Context, proc *Process, r *ride.Ride, candidates []geo.Candidate) {
	eligible := make([]geo.Candidate, 0, len(candidates))
	for _, cand := range candidates {
		if proc.hasOffered(cand.PrincipalID) {
			continue
		}
		if d.cooldown.InCooldown(proc.RideID, cand.PrincipalID) {
			continue
		}
		if !d.online.Online(cand.PrincipalID) {
			continue
		}
		active, err := d.store.FindActiveForCaptain(ctx, cand.PrincipalID)
		if err != nil || active != nil {
			continue
		}
		eligible = append(eligible, cand)
	}
	if len(eligible) == 0 {
		return
	}

	proc.markMatched()

	g, gctx := errgroup.WithContext(ctx)
	for _, cand := range eligible {
		cand := cand
		proc.markOffered(cand.PrincipalID)
		g.Go(func() error {
			return d.sender.SendOffer(gctx, cand.PrincipalID, r)
		})
	}
	_ = g.Wait()
}

// grace is the final hold at max radius: poll for a ride-moved-on exit
// at a cadence scaled to the grace window itself, then give up.
func (d *Dispatcher) grace(ctx context.Context, proc *Process, c config.DispatchConfig) {
	deadline := time.Now().Add(c.GraceAfterMaxRadius)
	pollEvery := c.GraceAfterMaxRadius / 6
	if pollEvery > 5*time.Second {
		pollEvery = 5 * time.Second
	}
	if pollEvery < time.Millisecond {
		pollEvery = time.Millisecond
	}
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		r, err := d.store.Get(ctx, proc.RideID)
		if err != nil || r.Status != ride.StatusRequested {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	r, err := d.store.Get(ctx, proc.RideID)
	if err != nil || r.Status != ride.StatusRequested {
		return
	}
	updated, err := d.machine.NotApprove(ctx, proc.RideID)
	if err != nil {
		return
	}
	metrics.DispatchRadiusExpansions.Observe(float64(proc.expansions))
	metrics.DispatchNotApprovedTotal.Inc()
	d.sender.NotifyNotApproved(ctx, updated)
}
