package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderDefaults(t *testing.T) {
	p, err := NewProvider()
	require.NoError(t, err)

	snap := p.Snapshot()
	assert.Equal(t, 2.0, snap.Dispatch.InitialRadiusKM)
	assert.Equal(t, 10.0, snap.Dispatch.MaxRadiusKM)
	assert.Equal(t, 1.0, snap.Dispatch.RadiusIncrementKM)
	assert.Equal(t, "memory", snap.Dispatch.GeoBackend)
	assert.Equal(t, "USD", snap.Fare.Currency)
	assert.True(t, snap.Auth.DevIssuerAllow)
}
