// Package sweeper implements the Background Sweeper: a periodic goroutine
// that picks up requested rides whose DispatchProcess has no live
// instance in this process (lost on restart or crash), and prunes stale
// Geo-Index entries for captains who stopped sending heartbeats.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"ridedispatch/internal/geo"
	"ridedispatch/internal/metrics"
	"ridedispatch/internal/ride"
)

// DispatchStarter is the subset of *dispatch.Dispatcher the sweeper
// needs: find orphans and start them.
type DispatchStarter interface {
	Start(ctx context.Context, rideID string)
	ActiveIDs() []string
}

// Sweeper runs the periodic reconciliation pass.
type Sweeper struct {
	store      ride.Store
	dispatcher DispatchStarter
	geoIndex   geo.Index
	interval   func() time.Duration
	staleAfter func() time.Duration
}

func New(store ride.Store, dispatcher DispatchStarter, geoIndex geo.Index, interval, staleAfter func() time.Duration) *Sweeper {
	return &Sweeper{store: store, dispatcher: dispatcher, geoIndex: geoIndex, interval: interval, staleAfter: staleAfter}
}

// Run blocks, sweeping at the configured interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
			ticker.Reset(s.interval())
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	s.reclaimOrphanedDispatches(ctx)
	s.pruneStaleLocations(ctx)
}

// reclaimOrphanedDispatches starts a fresh DispatchProcess for every
// requested ride this process has no running dispatcher for — the path
// that recovers in-flight dispatches after a crash or deploy.
func (s *Sweeper) reclaimOrphanedDispatches(ctx context.Context) {
	orphans, err := s.store.ListRequestedWithoutDispatcher(ctx, s.dispatcher.ActiveIDs())
	if err != nil {
		log.Warn().Err(err).Msg("sweeper: failed to list orphaned requested rides")
		return
	}
	for _, r := range orphans {
		log.Info().Str("ride", r.ID).Msg("sweeper: reclaiming orphaned dispatch")
		s.dispatcher.Start(ctx, r.ID)
		metrics.SweeperReclaimedTotal.Inc()
	}
}

// pruneStaleLocations evicts captains whose last heartbeat predates the
// configured staleness window, backing the CaptainLocation TTL
// invariant: a captain who stopped sending updates must stop being
// offered new rides.
func (s *Sweeper) pruneStaleLocations(ctx context.Context) {
	cutoff := time.Now().Add(-s.staleAfter())
	n, err := s.geoIndex.PruneOlderThan(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("sweeper: failed to prune stale geo entries")
		return
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("sweeper: pruned stale captain locations")
		metrics.SweeperPrunedLocationsTotal.Add(float64(n))
	}
}
