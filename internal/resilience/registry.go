package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerStats exposes the observable state of a circuit breaker. Every
// gobreaker.CircuitBreaker instantiation satisfies it.
type BreakerStats interface {
	State() gobreaker.State
	Counts() gobreaker.Counts
}

// Health is the reported status of one external dependency.
type Health struct {
	// Name is the dependency identifier.
	Name string

	// CircuitState is the current circuit breaker state.
	CircuitState gobreaker.State

	// Counts contains circuit breaker statistics.
	Counts gobreaker.Counts

	// LastSuccessAt is the timestamp of the last successful call.
	LastSuccessAt *time.Time

	// LastFailureAt is the timestamp of the last failed call.
	LastFailureAt *time.Time

	// LastError is the most recent error message, if any.
	LastError string
}

// IsHealthy returns true if the dependency is considered healthy.
func (h *Health) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded returns true if the dependency is half-open.
func (h *Health) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy returns true if the circuit is open.
func (h *Health) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// Registry tracks external dependencies and their breaker health.
type Registry struct {
	mu   sync.RWMutex
	deps map[string]*registeredDep
}

type registeredDep struct {
	stats         BreakerStats
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewRegistry creates a new dependency registry.
func NewRegistry() *Registry {
	return &Registry{
		deps: make(map[string]*registeredDep),
	}
}

// Register adds a dependency's breaker to the registry.
func (r *Registry) Register(name string, stats BreakerStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deps[name] = &registeredDep{stats: stats}
}

// Unregister removes a dependency from the registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.deps, name)
}

// RecordSuccess records a successful call for a dependency.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.deps[name]; ok {
		now := time.Now()
		d.lastSuccessAt = &now
	}
}

// RecordFailure records a failed call for a dependency.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.deps[name]; ok {
		now := time.Now()
		d.lastFailureAt = &now
		if err != nil {
			d.lastError = err.Error()
		}
	}
}

// GetHealth returns the health of a specific dependency, or nil if unknown.
func (r *Registry) GetHealth(name string) *Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.deps[name]
	if !ok {
		return nil
	}
	return d.health(name)
}

// GetAllHealth returns the health of all registered dependencies.
func (r *Registry) GetAllHealth() []*Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	health := make([]*Health, 0, len(r.deps))
	for name, d := range r.deps {
		health = append(health, d.health(name))
	}
	return health
}

func (d *registeredDep) health(name string) *Health {
	return &Health{
		Name:          name,
		CircuitState:  d.stats.State(),
		Counts:        d.stats.Counts(),
		LastSuccessAt: d.lastSuccessAt,
		LastFailureAt: d.lastFailureAt,
		LastError:     d.lastError,
	}
}
