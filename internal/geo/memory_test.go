package geo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndexNearbyOrdersByDistance(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, idx.Upsert(ctx, "near", 37.7750, -122.4195, now))
	require.NoError(t, idx.Upsert(ctx, "far", 37.8044, -122.2712, now))
	require.NoError(t, idx.Upsert(ctx, "outside", 40.7128, -74.0060, now))

	candidates, err := idx.Nearby(ctx, 37.7749, -122.4194, 15, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "near", candidates[0].PrincipalID)
	assert.Equal(t, "far", candidates[1].PrincipalID)
	assert.Less(t, candidates[0].DistanceKM, candidates[1].DistanceKM)
}

func TestMemoryIndexPruneOlderThan(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	stale := time.Now().Add(-5 * time.Minute)
	fresh := time.Now()

	require.NoError(t, idx.Upsert(ctx, "stale-captain", 1, 1, stale))
	require.NoError(t, idx.Upsert(ctx, "fresh-captain", 1, 1, fresh))

	pruned, err := idx.PruneOlderThan(ctx, time.Now().Add(-1*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	candidates, err := idx.Nearby(ctx, 1, 1, 1, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "fresh-captain", candidates[0].PrincipalID)
}

func TestMemoryIndexRespectsLimit(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		require.NoError(t, idx.Upsert(ctx, id, 37.77+float64(i)*0.001, -122.41, now))
	}
	candidates, err := idx.Nearby(ctx, 37.77, -122.41, 50, 2)
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}
