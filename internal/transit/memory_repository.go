package transit

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository is an in-memory implementation of Repository.
// This is intended for testing. Production should use PostgresRepository.
type MemoryRepository struct {
	mu       sync.RWMutex
	routes   map[string]*Route
	stops    map[string]*Stop
	vehicles map[string]*Vehicle
}

// NewMemoryRepository creates a new in-memory transit repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		routes:   make(map[string]*Route),
		stops:    make(map[string]*Stop),
		vehicles: make(map[string]*Vehicle),
	}
}

// GetRoute retrieves a route with its ordered stops.
func (r *MemoryRepository) GetRoute(_ context.Context, id string) (*Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	route, ok := r.routes[id]
	if !ok {
		return nil, ErrRouteNotFound
	}
	cpy := *route
	return &cpy, nil
}

// ListRoutes retrieves all routes ordered by code.
func (r *MemoryRepository) ListRoutes(_ context.Context) ([]*Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make([]*Route, 0, len(r.routes))
	for _, route := range r.routes {
		cpy := *route
		routes = append(routes, &cpy)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Code < routes[j].Code })
	return routes, nil
}

// GetStop retrieves a stop by ID.
func (r *MemoryRepository) GetStop(_ context.Context, id string) (*Stop, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stop, ok := r.stops[id]
	if !ok {
		return nil, ErrStopNotFound
	}
	cpy := *stop
	return &cpy, nil
}

// GetVehicle retrieves a vehicle by ID.
func (r *MemoryRepository) GetVehicle(_ context.Context, id string) (*Vehicle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.vehicles[id]
	if !ok {
		return nil, ErrVehicleNotFound
	}
	cpy := *v
	return &cpy, nil
}

// CreateStop inserts a stop.
func (r *MemoryRepository) CreateStop(_ context.Context, stop *Stop) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpy := *stop
	r.stops[stop.ID] = &cpy
	return nil
}

// CreateRoute inserts a route.
func (r *MemoryRepository) CreateRoute(_ context.Context, route *Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpy := *route
	r.routes[route.ID] = &cpy
	return nil
}

// CreateVehicle inserts a vehicle.
func (r *MemoryRepository) CreateVehicle(_ context.Context, vehicle *Vehicle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpy := *vehicle
	r.vehicles[vehicle.ID] = &cpy
	return nil
}

// Ensure MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)
