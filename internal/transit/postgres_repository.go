package transit

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/transitpay/transitpay/internal/geo"
	"github.com/transitpay/transitpay/pkg/polyline"
)

// PostgresRepository is a PostgreSQL implementation of Repository. Route
// paths are stored as encoded polylines.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL transit repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const stopColumns = `
	id, code, name, lon, lat,
	zone_id, per_km, base_fare_override, peak_multiplier, off_peak_multiplier,
	nearby_radius_meters, created_at, updated_at
`

// GetStop retrieves a stop by ID.
func (r *PostgresRepository) GetStop(ctx context.Context, id string) (*Stop, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+stopColumns+` FROM stops WHERE id = $1`, id)
	return scanStop(row)
}

// GetRoute retrieves a route with its ordered stops.
func (r *PostgresRepository) GetRoute(ctx context.Context, id string) (*Route, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, code, name, description, path, service_start, service_end, active, created_at, updated_at
		FROM routes
		WHERE id = $1
	`, id)

	route, err := scanRoute(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadStops(ctx, route); err != nil {
		return nil, err
	}
	return route, nil
}

// ListRoutes retrieves all routes with their stops, ordered by code.
func (r *PostgresRepository) ListRoutes(ctx context.Context) ([]*Route, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, code, name, description, path, service_start, service_end, active, created_at, updated_at
		FROM routes
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []*Route
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, route := range routes {
		if err := r.loadStops(ctx, route); err != nil {
			return nil, err
		}
	}
	return routes, nil
}

func (r *PostgresRepository) loadStops(ctx context.Context, route *Route) error {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.code, s.name, s.lon, s.lat,
			s.zone_id, s.per_km, s.base_fare_override, s.peak_multiplier, s.off_peak_multiplier,
			s.nearby_radius_meters, s.created_at, s.updated_at,
			rs.stop_order
		FROM route_stops rs
		JOIN stops s ON s.id = rs.stop_id
		WHERE rs.route_id = $1
		ORDER BY rs.stop_order
	`, route.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			stop  Stop
			rules PricingRules
			order int
		)
		err := rows.Scan(
			&stop.ID, &stop.Code, &stop.Name, &stop.Coordinate.Lon, &stop.Coordinate.Lat,
			&rules.ZoneID, &rules.PerKm, &rules.BaseFareOverride, &rules.PeakMultiplier, &rules.OffPeakMultiplier,
			&stop.NearbyRadiusMeters, &stop.CreatedAt, &stop.UpdatedAt,
			&order,
		)
		if err != nil {
			return err
		}
		if rules != (PricingRules{}) {
			stop.Pricing = &rules
		}
		route.Stops = append(route.Stops, RouteStop{Stop: &stop, Order: order})
	}
	return rows.Err()
}

// GetVehicle retrieves a vehicle by ID.
func (r *PostgresRepository) GetVehicle(ctx context.Context, id string) (*Vehicle, error) {
	var v Vehicle
	err := r.pool.QueryRow(ctx, `
		SELECT id, number, route_id, active, created_at, updated_at
		FROM vehicles
		WHERE id = $1
	`, id).Scan(&v.ID, &v.Number, &v.RouteID, &v.Active, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVehicleNotFound
		}
		return nil, err
	}
	return &v, nil
}

// CreateStop inserts a stop.
func (r *PostgresRepository) CreateStop(ctx context.Context, stop *Stop) error {
	rules := stop.Pricing
	if rules == nil {
		rules = &PricingRules{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stops (
			id, code, name, lon, lat,
			zone_id, per_km, base_fare_override, peak_multiplier, off_peak_multiplier,
			nearby_radius_meters, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		stop.ID, stop.Code, stop.Name, stop.Coordinate.Lon, stop.Coordinate.Lat,
		rules.ZoneID, rules.PerKm, rules.BaseFareOverride, rules.PeakMultiplier, rules.OffPeakMultiplier,
		stop.NearbyRadiusMeters, stop.CreatedAt, stop.UpdatedAt,
	)
	return err
}

// CreateRoute inserts a route and its stop ordering.
func (r *PostgresRepository) CreateRoute(ctx context.Context, route *Route) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO routes (
				id, code, name, description, path,
				service_start, service_end, active, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			route.ID, route.Code, route.Name, route.Description, encodePath(route.Path),
			route.ServiceHours.Start, route.ServiceHours.End, route.Active, route.CreatedAt, route.UpdatedAt,
		)
		if err != nil {
			return err
		}

		for _, rs := range route.Stops {
			_, err := tx.Exec(ctx, `
				INSERT INTO route_stops (route_id, stop_id, stop_order)
				VALUES ($1, $2, $3)
			`, route.ID, rs.Stop.ID, rs.Order)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateVehicle inserts a vehicle.
func (r *PostgresRepository) CreateVehicle(ctx context.Context, vehicle *Vehicle) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO vehicles (id, number, route_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, vehicle.ID, vehicle.Number, vehicle.RouteID, vehicle.Active, vehicle.CreatedAt, vehicle.UpdatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStop(row rowScanner) (*Stop, error) {
	var (
		stop  Stop
		rules PricingRules
	)
	err := row.Scan(
		&stop.ID, &stop.Code, &stop.Name, &stop.Coordinate.Lon, &stop.Coordinate.Lat,
		&rules.ZoneID, &rules.PerKm, &rules.BaseFareOverride, &rules.PeakMultiplier, &rules.OffPeakMultiplier,
		&stop.NearbyRadiusMeters, &stop.CreatedAt, &stop.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStopNotFound
		}
		return nil, err
	}
	if rules != (PricingRules{}) {
		stop.Pricing = &rules
	}
	return &stop, nil
}

func scanRoute(row rowScanner) (*Route, error) {
	var (
		route   Route
		encoded string
	)
	err := row.Scan(
		&route.ID, &route.Code, &route.Name, &route.Description, &encoded,
		&route.ServiceHours.Start, &route.ServiceHours.End, &route.Active,
		&route.CreatedAt, &route.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRouteNotFound
		}
		return nil, err
	}
	route.Path = decodePath(encoded)
	return &route, nil
}

func encodePath(path []geo.Coordinate) string {
	coords := make([]polyline.Coordinate, len(path))
	for i, c := range path {
		coords[i] = polyline.Coordinate{Lat: c.Lat, Lon: c.Lon}
	}
	return polyline.Encode(coords)
}

func decodePath(encoded string) []geo.Coordinate {
	coords := polyline.Decode(encoded)
	path := make([]geo.Coordinate, len(coords))
	for i, c := range coords {
		path[i] = geo.Coordinate{Lon: c.Lon, Lat: c.Lat}
	}
	return path
}

// Ensure PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)
