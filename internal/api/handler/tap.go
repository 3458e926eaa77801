package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/transitpay/transitpay/internal/api/models"
	"github.com/transitpay/transitpay/internal/api/response"
	"github.com/transitpay/transitpay/internal/geo"
	"github.com/transitpay/transitpay/internal/ledger"
	"github.com/transitpay/transitpay/internal/transit"
	"github.com/transitpay/transitpay/internal/trip"
)

// TapHandler handles passenger tap and trip endpoints.
type TapHandler struct {
	trips  *trip.Service
	logger zerolog.Logger
}

// NewTapHandler creates a new TapHandler.
func NewTapHandler(trips *trip.Service, logger zerolog.Logger) *TapHandler {
	return &TapHandler{
		trips:  trips,
		logger: logger.With().Str("component", "tap_handler").Logger(),
	}
}

// Tap handles POST /v1/taps. The server decides whether the tap is a
// board or an exit based on the rider's open leg.
func (h *TapHandler) Tap(w http.ResponseWriter, r *http.Request) {
	h.handleTap(w, r, h.trips.Tap)
}

// Board handles POST /v1/taps/board.
func (h *TapHandler) Board(w http.ResponseWriter, r *http.Request) {
	h.handleTap(w, r, h.trips.Board)
}

// Exit handles POST /v1/taps/exit.
func (h *TapHandler) Exit(w http.ResponseWriter, r *http.Request) {
	h.handleTap(w, r, h.trips.Exit)
}

// GetTrip handles GET /v1/trips/{tripId}.
func (h *TapHandler) GetTrip(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripId")

	t, legs, err := h.trips.GetTrip(r.Context(), tripID)
	if err != nil {
		if errors.Is(err, trip.ErrTripNotFound) {
			response.NotFound(w, r, "trip not found")
			return
		}
		h.logger.Error().Err(err).Str("trip_id", tripID).Msg("get trip failed")
		response.InternalError(w, r, "failed to load trip")
		return
	}

	response.JSON(w, r, http.StatusOK, map[string]interface{}{
		"trip": t,
		"legs": legs,
	})
}

// ListMyLegs handles GET /v1/me/legs - the rider's travel history.
func (h *TapHandler) ListMyLegs(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())
	limit, offset := pagination(r)

	legs, err := h.trips.ListLegsForUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("list legs failed")
		response.InternalError(w, r, "failed to load travel history")
		return
	}

	response.JSON(w, r, http.StatusOK, map[string]interface{}{
		"legs": legs,
		"meta": models.PagedResponseMeta{Limit: limit, Offset: offset, Count: len(legs)},
	})
}

type tapFunc func(ctx context.Context, in trip.TapInput) (*trip.TapResult, error)

func (h *TapHandler) handleTap(w http.ResponseWriter, r *http.Request, tap tapFunc) {
	var req models.TapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid request body", nil)
		return
	}
	if req.VehicleID == "" {
		response.BadRequest(w, r, "validation failed", []models.FieldError{
			{Field: "vehicle_id", Message: "vehicle_id is required", Code: "required"},
		})
		return
	}

	result, err := tap(r.Context(), trip.TapInput{
		UserID:    GetUserID(r.Context()),
		VehicleID: req.VehicleID,
		RouteID:   req.RouteID,
		Location:  geo.Coordinate{Lon: req.Location.Lon, Lat: req.Location.Lat},
	})
	if err != nil {
		h.writeTapError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, result)
}

func (h *TapHandler) writeTapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, transit.ErrVehicleNotFound):
		response.NotFound(w, r, "vehicle not found")
	case errors.Is(err, transit.ErrRouteNotFound):
		response.NotFound(w, r, "route not found")
	case errors.Is(err, trip.ErrNotOnRoute):
		response.BadRequest(w, r, "location is not on the route path", nil)
	case errors.Is(err, trip.ErrNotAtStop):
		response.BadRequest(w, r, "location is not near a stop on this route", nil)
	case errors.Is(err, trip.ErrAlreadyBoarded):
		response.Conflict(w, r, "an open leg already exists for this trip")
	case errors.Is(err, trip.ErrNotBoarded):
		response.Conflict(w, r, "no open leg to exit")
	case errors.Is(err, ledger.ErrWalletNotFound):
		response.PaymentRequired(w, r, "no wallet found for this rider")
	case errors.Is(err, ledger.ErrInsufficientFunds):
		response.PaymentRequired(w, r, "insufficient wallet balance for this fare")
	default:
		h.logger.Error().Err(err).Msg("tap failed")
		response.InternalError(w, r, "tap could not be processed")
	}
}
