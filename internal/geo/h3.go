package geo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/uber/h3-go/v4"
)

// H3 resolution used for dispatch-radius candidate search. Resolution 8
// cells have a ~460m edge, close enough to the smallest configured
// dispatch radius (the initial 2km band) without over-fragmenting sparse
// areas into too many cells to k-ring over.
const h3Resolution = 8

// H3Index buckets captains by H3 cell so Nearby avoids a full table scan:
// it walks out from the query's cell in expanding k-rings instead of
// computing haversine distance against every captain. PruneOlderThan
// still checks every indexed captain.
type H3Index struct {
	mu    sync.RWMutex
	cells map[h3.Cell]map[string]point
	owner map[string]h3.Cell
}

func NewH3Index() *H3Index {
	return &H3Index{
		cells: make(map[h3.Cell]map[string]point),
		owner: make(map[string]h3.Cell),
	}
}

func (h *H3Index) Upsert(_ context.Context, principalID string, lat, lon float64, at time.Time) error {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), h3Resolution)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.owner[principalID]; ok && prev != cell {
		delete(h.cells[prev], principalID)
	}
	if h.cells[cell] == nil {
		h.cells[cell] = make(map[string]point)
	}
	h.cells[cell][principalID] = point{lat: lat, lon: lon, updatedAt: at}
	h.owner[principalID] = cell
	return nil
}

func (h *H3Index) Remove(_ context.Context, principalID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cell, ok := h.owner[principalID]
	if !ok {
		return nil
	}
	delete(h.cells[cell], principalID)
	delete(h.owner, principalID)
	return nil
}

func (h *H3Index) Nearby(_ context.Context, lat, lon, radiusKM float64, limit int) ([]Candidate, error) {
	origin, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), h3Resolution)
	if err != nil {
		return nil, err
	}
	// k=0 covers the cell itself (~0.46km edge); grow the ring until it
	// comfortably covers radiusKM, erring generous since GridDisk returns
	// hexagons, not a true circle.
	k := 1
	for float64(k)*0.5 < radiusKM {
		k++
	}
	ring, err := origin.GridDisk(k)
	if err != nil {
		ring = []h3.Cell{origin}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Candidate, 0)
	for _, cell := range ring {
		for id, p := range h.cells[cell] {
			dist := haversineKM(lat, lon, p.lat, p.lon)
			if dist <= radiusKM {
				out = append(out, Candidate{PrincipalID: id, DistanceKM: dist, UpdatedAt: p.updatedAt})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKM < out[j].DistanceKM })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (h *H3Index) PruneOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pruned := 0
	for id, cell := range h.owner {
		p, ok := h.cells[cell][id]
		if !ok {
			continue
		}
		if p.updatedAt.Before(cutoff) {
			delete(h.cells[cell], id)
			delete(h.owner, id)
			pruned++
		}
	}
	return pruned, nil
}
