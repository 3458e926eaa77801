package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/transitpay/transitpay/internal/api/models"
	"github.com/transitpay/transitpay/internal/api/response"
	"github.com/transitpay/transitpay/internal/events"
	"github.com/transitpay/transitpay/internal/geo"
	"github.com/transitpay/transitpay/internal/tracker"
	"github.com/transitpay/transitpay/internal/transit"
)

// maxNearbyResults caps nearby queries regardless of the requested limit.
const maxNearbyResults = 100

// defaultActiveWindow is how recently a vehicle must have reported a
// position to count as active.
const defaultActiveWindow = 5 * time.Minute

// LocationHandler handles live vehicle position endpoints.
type LocationHandler struct {
	tracker tracker.Tracker
	transit transit.Repository
	sink    events.Sink
	logger  zerolog.Logger
}

// NewLocationHandler creates a new LocationHandler.
func NewLocationHandler(trk tracker.Tracker, repo transit.Repository, sink events.Sink, logger zerolog.Logger) *LocationHandler {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &LocationHandler{
		tracker: trk,
		transit: repo,
		sink:    sink,
		logger:  logger.With().Str("component", "location_handler").Logger(),
	}
}

// SetVehicleLocation handles PUT /v1/vehicles/{vehicleId}/location.
func (h *LocationHandler) SetVehicleLocation(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleId")

	if _, err := h.transit.GetVehicle(r.Context(), vehicleID); err != nil {
		if errors.Is(err, transit.ErrVehicleNotFound) {
			response.NotFound(w, r, "vehicle not found")
			return
		}
		h.logger.Error().Err(err).Str("vehicle_id", vehicleID).Msg("load vehicle failed")
		response.InternalError(w, r, "failed to load vehicle")
		return
	}

	var req models.SetVehicleLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid request body", nil)
		return
	}

	loc := geo.Coordinate{Lon: req.Location.Lon, Lat: req.Location.Lat}
	now := time.Now()
	if err := h.tracker.Record(r.Context(), vehicleID, loc, now); err != nil {
		h.logger.Error().Err(err).Str("vehicle_id", vehicleID).Msg("record location failed")
		response.InternalError(w, r, "failed to record location")
		return
	}

	pos := tracker.Position{VehicleID: vehicleID, Location: loc, SeenAt: now}
	h.sink.Publish(r.Context(), events.Event{Name: events.VehicleLocationSet, Payload: pos})
	response.JSON(w, r, http.StatusOK, pos)
}

// GetVehicleLocation handles GET /v1/vehicles/{vehicleId}/location.
func (h *LocationHandler) GetVehicleLocation(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleId")

	pos, found, err := h.tracker.Get(r.Context(), vehicleID)
	if err != nil {
		h.logger.Error().Err(err).Str("vehicle_id", vehicleID).Msg("get location failed")
		response.InternalError(w, r, "failed to load location")
		return
	}
	if !found {
		response.NotFound(w, r, "no position recorded for this vehicle")
		return
	}
	response.JSON(w, r, http.StatusOK, pos)
}

// NearbyVehicles handles GET /v1/vehicles/nearby.
func (h *LocationHandler) NearbyVehicles(w http.ResponseWriter, r *http.Request) {
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		response.BadRequest(w, r, "validation failed", []models.FieldError{
			{Field: "lat", Message: "lat and lon query parameters are required", Code: "required"},
		})
		return
	}

	radius := float64(tracker.DefaultNearbyRadiusMeters)
	if v := r.URL.Query().Get("radius"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			radius = parsed
		}
	}

	limit := maxNearbyResults
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed < maxNearbyResults {
			limit = parsed
		}
	}

	positions, err := h.tracker.Nearby(r.Context(), geo.Coordinate{Lon: lon, Lat: lat}, radius, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("nearby query failed")
		response.InternalError(w, r, "failed to query nearby vehicles")
		return
	}

	response.JSON(w, r, http.StatusOK, map[string]interface{}{
		"vehicles": positions,
		"meta":     models.PagedResponseMeta{Limit: limit, Offset: 0, Count: len(positions)},
	})
}

// ActiveVehicles handles GET /v1/vehicles/active. The window query
// parameter is a duration in minutes.
func (h *LocationHandler) ActiveVehicles(w http.ResponseWriter, r *http.Request) {
	window := defaultActiveWindow
	if v := r.URL.Query().Get("window"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			window = time.Duration(minutes) * time.Minute
		}
	}

	positions, err := h.tracker.Active(r.Context(), time.Now().Add(-window))
	if err != nil {
		h.logger.Error().Err(err).Msg("active query failed")
		response.InternalError(w, r, "failed to query active vehicles")
		return
	}

	response.JSON(w, r, http.StatusOK, map[string]interface{}{
		"vehicles": positions,
		"meta":     models.PagedResponseMeta{Limit: 0, Offset: 0, Count: len(positions)},
	})
}
