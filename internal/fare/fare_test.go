package fare

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ridedispatch/internal/config"
)

// a weekday daytime reference point so night/weekend multipliers never
// fire unless a test is specifically exercising them.
var weekdayNoon = time.Date(2026, time.July, 29, 12, 0, 0, 0, time.UTC)

func TestEstimateAppliesLinearFormula(t *testing.T) {
	cfg := config.FareConfig{BaseFare: 200, PerKM: 100, PerMinute: 20}
	got := Estimate(cfg, 5.0, 15.0, weekdayNoon)
	assert.Equal(t, 200+100*5.0+20*15.0, got)
}

func TestEstimateRoundsToCents(t *testing.T) {
	cfg := config.FareConfig{BaseFare: 0, PerKM: 0.333, PerMinute: 0}
	got := Estimate(cfg, 1.0, 0, weekdayNoon)
	assert.Equal(t, 0.33, got)
}

func TestEstimateNeverNegative(t *testing.T) {
	cfg := config.FareConfig{BaseFare: -50, PerKM: 0, PerMinute: 0}
	got := Estimate(cfg, 0, 0, weekdayNoon)
	assert.Equal(t, 0.0, got)
}

func TestEstimateAppliesNightMultiplier(t *testing.T) {
	cfg := config.FareConfig{BaseFare: 100, NightMultiplier: 1.5}
	lateNight := time.Date(2026, time.July, 29, 23, 0, 0, 0, time.UTC)
	got := Estimate(cfg, 0, 0, lateNight)
	assert.Equal(t, 150.0, got)
}

func TestEstimateAppliesWeekendMultiplier(t *testing.T) {
	cfg := config.FareConfig{BaseFare: 100, WeekendMultiplier: 1.2}
	saturday := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
	got := Estimate(cfg, 0, 0, saturday)
	assert.Equal(t, 120.0, got)
}

func TestEstimateClampsToMinAndMax(t *testing.T) {
	cfg := config.FareConfig{BaseFare: 1, MinFare: 5, MaxFare: 10}
	assert.Equal(t, 5.0, Estimate(cfg, 0, 0, weekdayNoon))

	cfg = config.FareConfig{BaseFare: 1000, MinFare: 5, MaxFare: 10}
	assert.Equal(t, 10.0, Estimate(cfg, 0, 0, weekdayNoon))
}

func TestCancellationFeeWaivedInsideFreeWindow(t *testing.T) {
	cfg := config.FareConfig{CancelFreeWindow: 120 * time.Second, CancellationFee: 200}
	requestedAt := weekdayNoon
	got := CancellationFee(cfg, requestedAt, requestedAt.Add(30*time.Second))
	assert.Equal(t, 0.0, got)
}

func TestCancellationFeeChargedPastFreeWindow(t *testing.T) {
	cfg := config.FareConfig{CancelFreeWindow: 120 * time.Second, CancellationFee: 200}
	requestedAt := weekdayNoon
	got := CancellationFee(cfg, requestedAt, requestedAt.Add(5*time.Minute))
	assert.Equal(t, 200.0, got)
}
