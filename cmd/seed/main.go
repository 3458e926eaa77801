// Package main provides the seed tool. It loads routes, stops, and
// vehicles from a JSON file into Postgres so the tap matcher has a
// network to work against.
//
// Usage:
//
//	seed -file network.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/transitpay/transitpay/internal/database"
	"github.com/transitpay/transitpay/internal/geo"
	"github.com/transitpay/transitpay/internal/transit"
)

// seedFile is the on-disk network description. Stops are referenced by
// code from routes and routes by code from vehicles, so the file needs
// no pre-assigned identifiers.
type seedFile struct {
	Stops    []seedStop    `json:"stops"`
	Routes   []seedRoute   `json:"routes"`
	Vehicles []seedVehicle `json:"vehicles"`
}

type seedStop struct {
	Code               string   `json:"code"`
	Name               string   `json:"name"`
	Lat                float64  `json:"lat"`
	Lon                float64  `json:"lon"`
	ZoneID             string   `json:"zoneId,omitempty"`
	PerKm              *float64 `json:"perKm,omitempty"`
	BaseFareOverride   *float64 `json:"baseFareOverride,omitempty"`
	PeakMultiplier     *float64 `json:"peakMultiplier,omitempty"`
	OffPeakMultiplier  *float64 `json:"offPeakMultiplier,omitempty"`
	NearbyRadiusMeters float64  `json:"nearbyRadiusMeters,omitempty"`
}

type seedRoute struct {
	Code         string      `json:"code"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Path         []seedPoint `json:"path"`
	ServiceStart string      `json:"serviceStart,omitempty"`
	ServiceEnd   string      `json:"serviceEnd,omitempty"`
	StopCodes    []string    `json:"stops"`
}

type seedPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type seedVehicle struct {
	Number    string `json:"number"`
	RouteCode string `json:"route"`
}

func main() {
	file := flag.String("file", "network.json", "path to the network JSON file")
	flag.Parse()

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "transitpay-seed").
		Logger()

	if err := run(context.Background(), *file, log); err != nil {
		log.Fatal().Err(err).Msg("seed failed")
	}
}

func run(ctx context.Context, path string, log zerolog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	pool, err := database.Connect(ctx, database.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	repo := transit.NewPostgresRepository(pool)
	now := time.Now()

	// Stops first so routes and vehicles can reference them.
	stopsByCode := make(map[string]*transit.Stop, len(seed.Stops))
	for _, s := range seed.Stops {
		stop := &transit.Stop{
			ID:         transit.NewStopID(),
			Code:       s.Code,
			Name:       s.Name,
			Coordinate: geo.Coordinate{Lon: s.Lon, Lat: s.Lat},
			Pricing: &transit.PricingRules{
				ZoneID:            s.ZoneID,
				PerKm:             s.PerKm,
				BaseFareOverride:  s.BaseFareOverride,
				PeakMultiplier:    s.PeakMultiplier,
				OffPeakMultiplier: s.OffPeakMultiplier,
			},
			NearbyRadiusMeters: s.NearbyRadiusMeters,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := repo.CreateStop(ctx, stop); err != nil {
			return fmt.Errorf("create stop %q: %w", s.Code, err)
		}
		stopsByCode[s.Code] = stop
		log.Info().Str("stop_id", stop.ID).Str("code", stop.Code).Msg("stop created")
	}

	routesByCode := make(map[string]*transit.Route, len(seed.Routes))
	for _, r := range seed.Routes {
		route := &transit.Route{
			ID:          transit.NewRouteID(),
			Code:        r.Code,
			Name:        r.Name,
			Description: r.Description,
			ServiceHours: transit.ServiceHours{
				Start: r.ServiceStart,
				End:   r.ServiceEnd,
			},
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		for _, p := range r.Path {
			route.Path = append(route.Path, geo.Coordinate{Lon: p.Lon, Lat: p.Lat})
		}
		for i, code := range r.StopCodes {
			stop, ok := stopsByCode[code]
			if !ok {
				return fmt.Errorf("route %q references unknown stop %q", r.Code, code)
			}
			route.Stops = append(route.Stops, transit.RouteStop{Stop: stop, Order: i})
		}
		if err := repo.CreateRoute(ctx, route); err != nil {
			return fmt.Errorf("create route %q: %w", r.Code, err)
		}
		routesByCode[r.Code] = route
		log.Info().
			Str("route_id", route.ID).
			Str("code", route.Code).
			Int("stops", len(route.Stops)).
			Msg("route created")
	}

	for _, v := range seed.Vehicles {
		route, ok := routesByCode[v.RouteCode]
		if !ok {
			return fmt.Errorf("vehicle %q references unknown route %q", v.Number, v.RouteCode)
		}
		vehicle := &transit.Vehicle{
			ID:        transit.NewVehicleID(),
			Number:    v.Number,
			RouteID:   route.ID,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.CreateVehicle(ctx, vehicle); err != nil {
			return fmt.Errorf("create vehicle %q: %w", v.Number, err)
		}
		log.Info().Str("vehicle_id", vehicle.ID).Str("number", vehicle.Number).Msg("vehicle created")
	}

	log.Info().
		Int("stops", len(seed.Stops)).
		Int("routes", len(seed.Routes)).
		Int("vehicles", len(seed.Vehicles)).
		Msg("seed complete")
	return nil
}
