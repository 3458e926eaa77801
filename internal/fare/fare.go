// Package fare computes the amount charged for a passenger leg from the
// board stop's pricing rules, the straight-line distance to the exit stop,
// and the time of day.
package fare

import (
	"errors"
	"math"
	"time"

	"github.com/transitpay/transitpay/internal/geo"
	"github.com/transitpay/transitpay/internal/transit"
)

// ErrInvalidInputs is returned when the board stop, exit stop, or route is
// missing. Callers must not deduct a fare without a valid result.
var ErrInvalidInputs = errors.New("missing board stop, exit stop, or route for fare calculation")

// DefaultFlatFare applies when the board stop carries no per-km rule.
const DefaultFlatFare = 50.0

// Peak window boundaries (local hour, inclusive).
const (
	morningPeakStart = 6
	morningPeakEnd   = 9
	eveningPeakStart = 16
	eveningPeakEnd   = 19
)

// IsPeakHour reports whether t falls in the morning or evening peak window.
func IsPeakHour(t time.Time) bool {
	h := t.Hour()
	return (h >= morningPeakStart && h <= morningPeakEnd) ||
		(h >= eveningPeakStart && h <= eveningPeakEnd)
}

// Calculate computes the fare for a leg from boardStop to exitStop on route
// at the given time.
//
// The board stop's pricing rules drive the amount: a per-km rate replaces
// the default flat fare using the straight-line distance between the stops
// (not route-following distance), a flat-fare override raises the result to
// at least that value, and the peak or off-peak multiplier scales it. The
// result is rounded half-up to two decimal places.
func Calculate(boardStop, exitStop *transit.Stop, route *transit.Route, at time.Time) (float64, error) {
	if boardStop == nil || exitStop == nil || route == nil {
		return 0, ErrInvalidInputs
	}

	amount := DefaultFlatFare

	rules := boardStop.Pricing
	if rules != nil && rules.PerKm != nil {
		distanceKm := geo.Distance(boardStop.Coordinate, exitStop.Coordinate) / 1000
		amount = distanceKm * *rules.PerKm
	}

	if rules != nil && rules.BaseFareOverride != nil {
		amount = math.Max(amount, *rules.BaseFareOverride)
	}

	if rules != nil {
		if IsPeakHour(at) {
			if rules.PeakMultiplier != nil {
				amount *= *rules.PeakMultiplier
			}
		} else if rules.OffPeakMultiplier != nil {
			amount *= *rules.OffPeakMultiplier
		}
	}

	return round2(amount), nil
}

// round2 rounds to two decimal places, half-up.
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
