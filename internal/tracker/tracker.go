// Package tracker keeps the live position of each vehicle, fed by taps and
// driver telemetry, and answers nearby queries for riders.
package tracker

import (
	"context"
	"time"

	"github.com/transitpay/transitpay/internal/geo"
)

// DefaultNearbyRadiusMeters bounds nearby queries without an explicit radius.
const DefaultNearbyRadiusMeters = 5000

// Position is a vehicle's last reported location.
type Position struct {
	VehicleID string         `json:"vehicle_id"`
	Location  geo.Coordinate `json:"location"`
	SeenAt    time.Time      `json:"seen_at"`

	// DistanceMeters is set on nearby query results.
	DistanceMeters float64 `json:"distance_meters,omitempty"`
}

// Tracker stores and queries live vehicle positions.
type Tracker interface {
	// Record stores a vehicle's position.
	Record(ctx context.Context, vehicleID string, loc geo.Coordinate, at time.Time) error

	// Get returns a vehicle's last position, or false if never seen.
	Get(ctx context.Context, vehicleID string) (Position, bool, error)

	// Nearby returns up to limit vehicles within radiusMeters of p,
	// closest first.
	Nearby(ctx context.Context, p geo.Coordinate, radiusMeters float64, limit int) ([]Position, error)

	// Active returns vehicles seen at or after since, ordered by vehicle ID.
	Active(ctx context.Context, since time.Time) ([]Position, error)
}
