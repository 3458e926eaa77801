package models

// TapRequest is the request body for a passenger tap.
// RouteID is optional; when omitted the vehicle's assigned route is used.
type TapRequest struct {
	VehicleID string `json:"vehicle_id" validate:"required"`
	RouteID   string `json:"route_id,omitempty"`
	Location  Point  `json:"location" validate:"required"`
}

// SetVehicleLocationRequest is the request body for reporting a vehicle position.
type SetVehicleLocationRequest struct {
	Location Point `json:"location" validate:"required"`
}
