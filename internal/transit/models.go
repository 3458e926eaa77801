// Package transit provides the route, stop, and vehicle read model consumed
// by the trip matcher. Data is seeded by an external loading tool and only
// read at tap time.
package transit

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/transitpay/transitpay/internal/geo"
)

// Repository errors.
var (
	ErrRouteNotFound   = errors.New("route not found")
	ErrStopNotFound    = errors.New("stop not found")
	ErrVehicleNotFound = errors.New("vehicle not found")
)

// DefaultStopRadiusMeters is the nearby tolerance applied to a stop that
// does not carry its own override.
const DefaultStopRadiusMeters = 50

// PricingRules are optional per-stop fare overrides. All fields are
// pointers; a nil field means the default pricing applies.
type PricingRules struct {
	ZoneID            string   `json:"zone_id,omitempty"`
	PerKm             *float64 `json:"per_km,omitempty"`
	BaseFareOverride  *float64 `json:"base_fare_override,omitempty"`
	PeakMultiplier    *float64 `json:"peak_multiplier,omitempty"`
	OffPeakMultiplier *float64 `json:"off_peak_multiplier,omitempty"`
}

// Stop is a named boarding point on one or more routes.
type Stop struct {
	ID                 string         `json:"id"`
	Code               string         `json:"code"`
	Name               string         `json:"name"`
	Coordinate         geo.Coordinate `json:"coordinate"`
	Pricing            *PricingRules  `json:"pricing,omitempty"`
	NearbyRadiusMeters float64        `json:"nearby_radius_meters,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// RouteStop pairs a stop with its dense order along the route. Order values
// are strictly increasing in the route's intended direction.
type RouteStop struct {
	Stop  *Stop `json:"stop"`
	Order int   `json:"order"`
}

// ServiceHours is the route's daily service window in local HH:MM.
type ServiceHours struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Route is a scheduled bus line: ordered stops plus the expected path.
// The path always has at least one point.
type Route struct {
	ID           string           `json:"id"`
	Code         string           `json:"code"`
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	Stops        []RouteStop      `json:"stops"`
	Path         []geo.Coordinate `json:"path"`
	ServiceHours ServiceHours     `json:"service_hours"`
	Active       bool             `json:"active"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// OnPath reports whether p lies within toleranceMeters of the route's path.
func (r *Route) OnPath(p geo.Coordinate, toleranceMeters float64) bool {
	return geo.OnPath(r.Path, p, toleranceMeters)
}

// NearestStop scans the route's stops and returns the one closest to p, if
// it is within maxDistanceMeters. The scan is stable: on an exact tie the
// stop encountered first in route order wins.
func (r *Route) NearestStop(p geo.Coordinate, maxDistanceMeters float64) (*Stop, float64, bool) {
	var (
		best     *Stop
		bestDist float64
	)
	for _, rs := range r.Stops {
		if rs.Stop == nil {
			continue
		}
		d := geo.Distance(p, rs.Stop.Coordinate)
		if best == nil || d < bestDist {
			best = rs.Stop
			bestDist = d
		}
	}
	if best == nil || bestDist > maxDistanceMeters {
		return nil, 0, false
	}
	return best, bestDist, true
}

// StopByID returns the route's stop with the given id.
func (r *Route) StopByID(id string) (*Stop, bool) {
	for _, rs := range r.Stops {
		if rs.Stop != nil && rs.Stop.ID == id {
			return rs.Stop, true
		}
	}
	return nil, false
}

// Vehicle is a bus assigned to a route.
type Vehicle struct {
	ID        string    `json:"id"`
	Number    string    `json:"number"`
	RouteID   string    `json:"route_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewStopID returns a fresh stop identifier.
func NewStopID() string {
	return "stp_" + uuid.New().String()[:22]
}

// NewRouteID returns a fresh route identifier.
func NewRouteID() string {
	return "rte_" + uuid.New().String()[:22]
}

// NewVehicleID returns a fresh vehicle identifier.
func NewVehicleID() string {
	return "veh_" + uuid.New().String()[:22]
}
