package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

type point struct {
	lat, lon  float64
	updatedAt time.Time
}

// MemoryIndex is a mutex-guarded haversine scan, used in dev/test or as a
// fallback when Redis and H3 backends aren't configured.
type MemoryIndex struct {
	mu     sync.RWMutex
	points map[string]point
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[string]point)}
}

func (m *MemoryIndex) Upsert(_ context.Context, principalID string, lat, lon float64, at time.Time) error {
	m.mu.Lock()
	m.points[principalID] = point{lat: lat, lon: lon, updatedAt: at}
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Remove(_ context.Context, principalID string) error {
	m.mu.Lock()
	delete(m.points, principalID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Nearby(_ context.Context, lat, lon, radiusKM float64, limit int) ([]Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Candidate, 0, len(m.points))
	for id, p := range m.points {
		dist := haversineKM(lat, lon, p.lat, p.lon)
		if dist <= radiusKM {
			out = append(out, Candidate{PrincipalID: id, DistanceKM: dist, UpdatedAt: p.updatedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKM < out[j].DistanceKM })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryIndex) PruneOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pruned := 0
	for id, p := range m.points {
		if p.updatedAt.Before(cutoff) {
			delete(m.points, id)
			pruned++
		}
	}
	return pruned, nil
}

func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKM = 6371
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	lat1Rad := toRadians(lat1)
	lat2Rad := toRadians(lat2)
	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	calc := sinLat*sinLat + math.Cos(lat1Rad)*math.Cos(lat2Rad)*sinLon*sinLon
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(calc))
}
