// Package handler provides HTTP handlers for the TransitPay API.
package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/transitpay/transitpay/internal/api/models"
	"github.com/transitpay/transitpay/internal/api/response"
	"github.com/transitpay/transitpay/internal/resilience"
)

// readinessTimeout bounds each dependency ping during readiness checks.
const readinessTimeout = 2 * time.Second

// DependencyCheck pings an internal subsystem such as the database.
type DependencyCheck func(ctx context.Context) error

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	checks    map[string]DependencyCheck
	registry  *resilience.Registry
}

// NewOpsHandler creates a new OpsHandler. The registry may be nil when no
// external providers are wired.
func NewOpsHandler(version, buildTime string, registry *resilience.Registry) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		checks:    make(map[string]DependencyCheck),
		registry:  registry,
	}
}

// AddCheck registers a named subsystem check used by readiness and status.
func (h *OpsHandler) AddCheck(name string, check DependencyCheck) {
	h.checks[name] = check
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check.
// Fails when any registered subsystem cannot be reached.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	details := make(map[string]interface{}, len(h.checks))
	status := models.HealthStatusOK
	httpStatus := http.StatusOK

	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			details[name] = err.Error()
			status = models.HealthStatusFail
			httpStatus = http.StatusServiceUnavailable
			continue
		}
		details[name] = "ok"
	}

	health := models.Health{
		Status:  status,
		Time:    models.Timestamp(time.Now()),
		Details: details,
	}
	response.JSON(w, r, httpStatus, health)
}

// SystemStatus handles GET /v1/ops/status - provider and subsystem status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	now := models.Timestamp(time.Now())
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       now,
		Subsystems: h.subsystemStatuses(r.Context()),
		Providers:  h.providerStatuses(),
	}

	for _, s := range status.Subsystems {
		if s.Status == models.HealthStatusFail {
			status.Status = models.HealthStatusFail
		}
	}
	if status.Status == models.HealthStatusOK {
		for _, p := range status.Providers {
			if p.Status != models.HealthStatusOK {
				status.Status = models.HealthStatusDegraded
				break
			}
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) subsystemStatuses(ctx context.Context) []models.SubsystemStatus {
	statuses := make([]models.SubsystemStatus, 0, len(h.checks))
	for name, check := range h.checks {
		checkCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
		err := check(checkCtx)
		cancel()

		s := models.SubsystemStatus{Name: name, Status: models.HealthStatusOK}
		if err != nil {
			detail := err.Error()
			s.Status = models.HealthStatusFail
			s.Detail = &detail
		}
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

func (h *OpsHandler) providerStatuses() []models.ProviderStatus {
	if h.registry == nil {
		return []models.ProviderStatus{}
	}

	all := h.registry.GetAllHealth()
	statuses := make([]models.ProviderStatus, 0, len(all))
	for _, dep := range all {
		p := models.ProviderStatus{
			Provider:     dep.Name,
			Status:       models.HealthStatusOK,
			CircuitState: dep.CircuitState.String(),
		}
		switch {
		case dep.IsUnhealthy():
			p.Status = models.HealthStatusFail
		case dep.IsDegraded():
			p.Status = models.HealthStatusDegraded
		}
		if dep.LastSuccessAt != nil {
			ts := models.Timestamp(*dep.LastSuccessAt)
			p.LastSuccessAt = &ts
		}
		if dep.LastFailureAt != nil {
			ts := models.Timestamp(*dep.LastFailureAt)
			p.LastFailureAt = &ts
		}
		statuses = append(statuses, p)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Provider < statuses[j].Provider })
	return statuses
}
