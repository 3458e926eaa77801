package trip

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/transitpay/transitpay/internal/geo"
)

// MemoryRepository is an in-memory Repository for tests and local
// development.
type MemoryRepository struct {
	mu    sync.RWMutex
	trips map[string]*Trip
	legs  map[string]*Leg
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		trips: make(map[string]*Trip),
		legs:  make(map[string]*Leg),
	}
}

var _ Repository = (*MemoryRepository)(nil)

// CreateTrip implements Repository.
func (r *MemoryRepository) CreateTrip(_ context.Context, t *Trip) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *t
	r.trips[t.ID] = &stored
	return nil
}

// GetTrip implements Repository.
func (r *MemoryRepository) GetTrip(_ context.Context, id string) (*Trip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.trips[id]
	if !ok {
		return nil, ErrTripNotFound
	}
	out := *t
	return &out, nil
}

// GetActiveTrip implements Repository.
func (r *MemoryRepository) GetActiveTrip(_ context.Context, vehicleID, routeID string) (*Trip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.trips {
		if t.VehicleID == vehicleID && t.RouteID == routeID && t.Status == StatusInProgress {
			out := *t
			return &out, nil
		}
	}
	return nil, ErrTripNotFound
}

// EndTrip implements Repository.
func (r *MemoryRepository) EndTrip(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trips[id]
	if !ok {
		return ErrTripNotFound
	}
	t.Status = StatusCompleted
	ended := at
	t.EndedAt = &ended
	t.UpdatedAt = at
	return nil
}

// SetLocation implements Repository.
func (r *MemoryRepository) SetLocation(_ context.Context, id string, loc geo.Coordinate, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trips[id]
	if !ok {
		return ErrTripNotFound
	}
	t.CurrentLocation = loc
	t.UpdatedAt = at
	return nil
}

// OpenLeg implements Repository.
func (r *MemoryRepository) OpenLeg(_ context.Context, l *Leg) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.legs {
		if existing.TripID == l.TripID && existing.UserID == l.UserID && existing.Open() {
			return ErrAlreadyBoarded
		}
	}

	stored := *l
	r.legs[l.ID] = &stored
	return nil
}

// GetOpenLeg implements Repository.
func (r *MemoryRepository) GetOpenLeg(_ context.Context, tripID, userID string) (*Leg, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, l := range r.legs {
		if l.TripID == tripID && l.UserID == userID && l.Open() {
			out := *l
			return &out, nil
		}
	}
	return nil, ErrLegNotFound
}

// GetLeg implements Repository.
func (r *MemoryRepository) GetLeg(_ context.Context, id string) (*Leg, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.legs[id]
	if !ok {
		return nil, ErrLegNotFound
	}
	out := *l
	return &out, nil
}

// CloseLeg implements Repository.
func (r *MemoryRepository) CloseLeg(_ context.Context, legID string, close LegClose) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.legs[legID]
	if !ok {
		return ErrLegNotFound
	}
	l.ExitStopID = close.ExitStopID
	exitTime := close.ExitTime
	l.ExitTime = &exitTime
	fare := close.Fare
	l.Fare = &fare
	l.TransactionID = close.TransactionID
	return nil
}

// ListLegs implements Repository.
func (r *MemoryRepository) ListLegs(_ context.Context, tripID string) ([]*Leg, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var legs []*Leg
	for _, l := range r.legs {
		if l.TripID == tripID {
			out := *l
			legs = append(legs, &out)
		}
	}
	sort.Slice(legs, func(i, j int) bool {
		return legs[i].BoardTime.Before(legs[j].BoardTime)
	})
	return legs, nil
}

// ListLegsForUser implements Repository.
func (r *MemoryRepository) ListLegsForUser(_ context.Context, userID string, limit, offset int) ([]*Leg, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var legs []*Leg
	for _, l := range r.legs {
		if l.UserID == userID {
			out := *l
			legs = append(legs, &out)
		}
	}
	sort.Slice(legs, func(i, j int) bool {
		return legs[i].BoardTime.After(legs[j].BoardTime)
	})

	if offset >= len(legs) {
		return nil, nil
	}
	legs = legs[offset:]
	if limit > 0 && limit < len(legs) {
		legs = legs[:limit]
	}
	return legs, nil
}
