package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIndex wraps a Redis GEO set plus a parallel hash of last-seen
// timestamps, since GEOADD itself carries no heartbeat time.
type RedisIndex struct {
	client  *redis.Client
	geoKey  string
	seenKey string
}

func NewRedisIndex(client *redis.Client) *RedisIndex {
	return &RedisIndex{client: client, geoKey: "captains:geo", seenKey: "captains:geo:seen"}
}

func (r *RedisIndex) Upsert(ctx context.Context, principalID string, lat, lon float64, at time.Time) error {
	if err := r.client.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{
		Name:      principalID,
		Longitude: lon,
		Latitude:  lat,
	}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, r.seenKey, principalID, at.UnixMilli()).Err()
}

func (r *RedisIndex) Remove(ctx context.Context, principalID string) error {
	if err := r.client.ZRem(ctx, r.geoKey, principalID).Err(); err != nil {
		return err
	}
	return r.client.HDel(ctx, r.seenKey, principalID).Err()
}

// Nearby returns every captain within radiusKM, nearest first. limit <= 0
// means unbounded.
func (r *RedisIndex) Nearby(ctx context.Context, lat, lon, radiusKM float64, limit int) ([]Candidate, error) {
	query := &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lon,
			Latitude:   lat,
			Radius:     radiusKM,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithDist: true,
	}
	if limit > 0 {
		query.Count = limit
	}
	results, err := r.client.GeoSearchLocation(ctx, r.geoKey, query).Result()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	names := make([]string, len(results))
	for i, res := range results {
		names[i] = res.Name
	}
	seenVals, err := r.client.HMGet(ctx, r.seenKey, names...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, len(results))
	for i, res := range results {
		var updatedAt time.Time
		if s, ok := seenVals[i].(string); ok {
			if ms, err := parseUnixMillis(s); err == nil {
				updatedAt = time.UnixMilli(ms)
			}
		}
		out[i] = Candidate{PrincipalID: res.Name, DistanceKM: res.Dist, UpdatedAt: updatedAt}
	}
	return out, nil
}

// PruneOlderThan scans the seen-hash and evicts stale entries from both
// structures. Redis GEO sets carry no native TTL per member, so the
// Background Sweeper drives this explicitly.
func (r *RedisIndex) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	seen, err := r.client.HGetAll(ctx, r.seenKey).Result()
	if err != nil {
		return 0, err
	}
	pruned := 0
	for id, v := range seen {
		ms, err := parseUnixMillis(v)
		if err != nil {
			continue
		}
		if time.UnixMilli(ms).Before(cutoff) {
			if err := r.Remove(ctx, id); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}

func parseUnixMillis(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
