package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/transitpay/transitpay/internal/api/response"
	"github.com/transitpay/transitpay/internal/transit"
)

// RouteHandler handles route and stop read endpoints.
type RouteHandler struct {
	transit transit.Repository
	logger  zerolog.Logger
}

// NewRouteHandler creates a new RouteHandler.
func NewRouteHandler(repo transit.Repository, logger zerolog.Logger) *RouteHandler {
	return &RouteHandler{
		transit: repo,
		logger:  logger.With().Str("component", "route_handler").Logger(),
	}
}

// ListRoutes handles GET /v1/routes.
func (h *RouteHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.transit.ListRoutes(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list routes failed")
		response.InternalError(w, r, "failed to load routes")
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]interface{}{"routes": routes})
}

// GetRoute handles GET /v1/routes/{routeId}.
func (h *RouteHandler) GetRoute(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeId")

	route, err := h.transit.GetRoute(r.Context(), routeID)
	if err != nil {
		if errors.Is(err, transit.ErrRouteNotFound) {
			response.NotFound(w, r, "route not found")
			return
		}
		h.logger.Error().Err(err).Str("route_id", routeID).Msg("get route failed")
		response.InternalError(w, r, "failed to load route")
		return
	}
	response.JSON(w, r, http.StatusOK, route)
}

// GetStop handles GET /v1/stops/{stopId}.
func (h *RouteHandler) GetStop(w http.ResponseWriter, r *http.Request) {
	stopID := chi.URLParam(r, "stopId")

	stop, err := h.transit.GetStop(r.Context(), stopID)
	if err != nil {
		if errors.Is(err, transit.ErrStopNotFound) {
			response.NotFound(w, r, "stop not found")
			return
		}
		h.logger.Error().Err(err).Str("stop_id", stopID).Msg("get stop failed")
		response.InternalError(w, r, "failed to load stop")
		return
	}
	response.JSON(w, r, http.StatusOK, stop)
}
