package transit

import "context"

// Repository defines access to the route/stop/vehicle read model. Writes
// exist for the seeding tool; the tap path only reads.
type Repository interface {
	// GetRoute retrieves a route with its ordered, populated stops.
	// Returns ErrRouteNotFound if the route doesn't exist.
	GetRoute(ctx context.Context, id string) (*Route, error)

	// ListRoutes retrieves all routes, populated, ordered by code.
	ListRoutes(ctx context.Context) ([]*Route, error)

	// GetStop retrieves a stop by ID.
	GetStop(ctx context.Context, id string) (*Stop, error)

	// GetVehicle retrieves a vehicle by ID.
	GetVehicle(ctx context.Context, id string) (*Vehicle, error)

	// CreateStop inserts a stop.
	CreateStop(ctx context.Context, stop *Stop) error

	// CreateRoute inserts a route and its stop ordering. Referenced stops
	// must already exist.
	CreateRoute(ctx context.Context, route *Route) error

	// CreateVehicle inserts a vehicle.
	CreateVehicle(ctx context.Context, vehicle *Vehicle) error
}
