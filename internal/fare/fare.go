// Package fare applies the Config Provider's fare-policy knobs to a
// client-supplied distance and duration, plus the cancellation-fee policy
// applied when a passenger cancels outside the free window. Designing the
// policy itself (surge curves, zone pricing) is out of scope; this package
// only evaluates the linear base+per-km+per-minute formula, clamps it, and
// applies whatever night/weekend multiplier the Config Provider supplies.
package fare

import (
	"time"

	"ridedispatch/internal/config"
)

// Estimate returns the fare for distanceKM/durationMin under cfg at at,
// rounded to cents. Used only when the request omits an explicit
// fareAmount. at decides whether the night/weekend multiplier applies;
// it does not invent a multiplier value, only applies the supplied one.
func Estimate(cfg config.FareConfig, distanceKM, durationMin float64, at time.Time) float64 {
	amount := cfg.BaseFare + cfg.PerKM*distanceKM + cfg.PerMinute*durationMin
	if amount < 0 {
		amount = 0
	}
	amount *= multiplierFor(cfg, at)
	if cfg.MinFare > 0 && amount < cfg.MinFare {
		amount = cfg.MinFare
	}
	if cfg.MaxFare > 0 && amount > cfg.MaxFare {
		amount = cfg.MaxFare
	}
	return roundCents(amount)
}

// multiplierFor applies cfg's configured night/weekend multipliers when
// at falls in that window. A zero-value multiplier leaves the fare
// unaffected rather than zeroing it out.
func multiplierFor(cfg config.FareConfig, at time.Time) float64 {
	mult := 1.0
	hour := at.Hour()
	if cfg.NightMultiplier > 0 && (hour >= 22 || hour < 6) {
		mult *= cfg.NightMultiplier
	}
	if cfg.WeekendMultiplier > 0 && (at.Weekday() == time.Saturday || at.Weekday() == time.Sunday) {
		mult *= cfg.WeekendMultiplier
	}
	return mult
}

// CancellationFee returns what a passenger owes for cancelling a ride
// requested at requestedAt, evaluated at now: free inside
// cfg.CancelFreeWindow, cfg.CancellationFee past it.
func CancellationFee(cfg config.FareConfig, requestedAt, now time.Time) float64 {
	if now.Sub(requestedAt) <= cfg.CancelFreeWindow {
		return 0
	}
	return cfg.CancellationFee
}

func roundCents(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
