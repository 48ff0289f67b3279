package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleCount reads a histogram's observation count.
func sampleCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, h.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestObserveDispatchMatchRecordsSample(t *testing.T) {
	before := sampleCount(t, DispatchMatchSeconds)
	ObserveDispatchMatch(time.Now().Add(-50 * time.Millisecond))
	assert.Equal(t, before+1, sampleCount(t, DispatchMatchSeconds))
}

func TestObserveDispatchAcceptRecordsSample(t *testing.T) {
	before := sampleCount(t, DispatchAcceptSeconds)
	ObserveDispatchAccept(time.Now().Add(-time.Second))
	assert.Equal(t, before+1, sampleCount(t, DispatchAcceptSeconds))
}

func TestRideErrorsTotalTracksKind(t *testing.T) {
	RideErrorsTotal.WithLabelValues("conflict").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(RideErrorsTotal.WithLabelValues("conflict")))
}
