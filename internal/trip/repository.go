package trip

import (
	"context"
	"time"

	"github.com/transitpay/transitpay/internal/geo"
)

// LegClose carries the fields written when a passenger exits.
type LegClose struct {
	ExitStopID    string
	ExitTime      time.Time
	Fare          float64
	TransactionID string
}

// Repository persists trips and passenger legs.
type Repository interface {
	// CreateTrip inserts a new trip. At most one in-progress trip may
	// exist per (vehicle, route).
	CreateTrip(ctx context.Context, t *Trip) error

	// GetTrip returns a trip by ID, or ErrTripNotFound.
	GetTrip(ctx context.Context, id string) (*Trip, error)

	// GetActiveTrip returns the in-progress trip for a vehicle on a
	// route, or ErrTripNotFound.
	GetActiveTrip(ctx context.Context, vehicleID, routeID string) (*Trip, error)

	// EndTrip marks a trip completed.
	EndTrip(ctx context.Context, id string, at time.Time) error

	// SetLocation updates a trip's last known position.
	SetLocation(ctx context.Context, id string, loc geo.Coordinate, at time.Time) error

	// OpenLeg inserts a new open leg. A passenger may hold at most one
	// open leg per trip.
	OpenLeg(ctx context.Context, l *Leg) error

	// GetOpenLeg returns the passenger's open leg on a trip, or
	// ErrLegNotFound.
	GetOpenLeg(ctx context.Context, tripID, userID string) (*Leg, error)

	// GetLeg returns a leg by ID, or ErrLegNotFound.
	GetLeg(ctx context.Context, id string) (*Leg, error)

	// CloseLeg writes the exit fields of an open leg.
	CloseLeg(ctx context.Context, legID string, close LegClose) error

	// ListLegs returns all legs of a trip, oldest first.
	ListLegs(ctx context.Context, tripID string) ([]*Leg, error)

	// ListLegsForUser returns a passenger's legs, newest first.
	ListLegsForUser(ctx context.Context, userID string, limit, offset int) ([]*Leg, error)
}
