package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/transitpay/transitpay/internal/geo"
)

// MemoryTracker is an in-memory Tracker for tests and local development.
type MemoryTracker struct {
	mu        sync.RWMutex
	positions map[string]Position
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{positions: make(map[string]Position)}
}

var _ Tracker = (*MemoryTracker)(nil)

// Record implements Tracker.
func (t *MemoryTracker) Record(_ context.Context, vehicleID string, loc geo.Coordinate, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions[vehicleID] = Position{VehicleID: vehicleID, Location: loc, SeenAt: at.UTC()}
	return nil
}

// Get implements Tracker.
func (t *MemoryTracker) Get(_ context.Context, vehicleID string) (Position, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[vehicleID]
	return pos, ok, nil
}

// Nearby implements Tracker.
func (t *MemoryTracker) Nearby(_ context.Context, p geo.Coordinate, radiusMeters float64, limit int) ([]Position, error) {
	if radiusMeters <= 0 {
		radiusMeters = DefaultNearbyRadiusMeters
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Position
	for _, pos := range t.positions {
		d := geo.Distance(p, pos.Location)
		if d <= radiusMeters {
			pos.DistanceMeters = d
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DistanceMeters < out[j].DistanceMeters
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Active implements Tracker.
func (t *MemoryTracker) Active(_ context.Context, since time.Time) ([]Position, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Position
	for _, pos := range t.positions {
		if !pos.SeenAt.Before(since) {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].VehicleID < out[j].VehicleID
	})
	return out, nil
}
