// Package trip matches taps to vehicle trips and passenger legs. A trip is
// one vehicle running one route; a leg is one passenger's board-to-exit
// span on that trip, settled against their wallet on exit.
package trip

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/transitpay/transitpay/internal/geo"
)

var (
	// ErrTripNotFound is returned when no matching trip exists.
	ErrTripNotFound = errors.New("trip not found")

	// ErrLegNotFound is returned when a passenger leg does not exist.
	ErrLegNotFound = errors.New("passenger leg not found")

	// ErrAlreadyBoarded is returned when a passenger boards while they
	// still have an open leg on the trip.
	ErrAlreadyBoarded = errors.New("passenger already boarded on an active trip")

	// ErrNotBoarded is returned when a passenger exits without an open leg.
	ErrNotBoarded = errors.New("passenger has no open leg on this trip")

	// ErrNotOnRoute is returned when the tap location is too far from the
	// route path.
	ErrNotOnRoute = errors.New("vehicle is not on the assigned route")

	// ErrNotAtStop is returned when the tap location is not near any stop
	// on the route.
	ErrNotAtStop = errors.New("vehicle is not at a valid stop on this route")
)

// Geofence tolerances, in meters.
const (
	// RouteToleranceMeters is how far a tap may sit from the route path.
	RouteToleranceMeters = 50

	// StopSearchRadiusMeters bounds the nearest-stop search.
	StopSearchRadiusMeters = 100

	// StopToleranceMeters is how close to the matched stop a tap must be.
	StopToleranceMeters = 50
)

// Status is the lifecycle state of a trip.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Trip is one vehicle's active run along a route.
type Trip struct {
	ID        string `json:"id"`
	VehicleID string `json:"vehicle_id"`
	RouteID   string `json:"route_id"`
	Status    Status `json:"status"`

	// CurrentLocation is the last tap or telemetry position.
	CurrentLocation geo.Coordinate `json:"current_location"`

	StartedAt time.Time  `json:"started_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Leg records one passenger's presence on a trip. Exit fields stay empty
// until the passenger taps off.
type Leg struct {
	ID          string    `json:"id"`
	TripID      string    `json:"trip_id"`
	UserID      string    `json:"user_id"`
	BoardStopID string    `json:"board_stop_id"`
	BoardTime   time.Time `json:"board_time"`

	ExitStopID string     `json:"exit_stop_id,omitempty"`
	ExitTime   *time.Time `json:"exit_time,omitempty"`
	Fare       *float64   `json:"fare,omitempty"`

	// TransactionID links the leg to the ledger transaction that settled it.
	TransactionID string `json:"transaction_id,omitempty"`
}

// Open reports whether the passenger has not exited yet.
func (l *Leg) Open() bool {
	return l.ExitTime == nil
}

// NewTripID returns a fresh trip identifier.
func NewTripID() string {
	return "trp_" + uuid.New().String()[:22]
}

// NewLegID returns a fresh leg identifier.
func NewLegID() string {
	return "leg_" + uuid.New().String()[:22]
}

// FareKey derives the idempotency key for settling a leg. It is a function
// of the leg's identity only, so retries of a failed exit reuse the same
// key and the ledger deducts at most once.
func FareKey(tripID, userID string, boardTime time.Time) string {
	seed := tripID + "|" + userID + "|" + boardTime.UTC().Format(time.RFC3339Nano)
	return "fare_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}
