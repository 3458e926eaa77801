package trip

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/transitpay/transitpay/internal/geo"
)

// PostgresRepository is a PostgreSQL implementation of Repository. Partial
// unique indexes enforce one in-progress trip per (vehicle, route) and one
// open leg per (trip, passenger).
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL trip repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

const tripColumns = `id, vehicle_id, route_id, status, lon, lat, started_at, updated_at, ended_at`

const legColumns = `
	id, trip_id, user_id, board_stop_id, board_time,
	exit_stop_id, exit_time, fare, transaction_id
`

// CreateTrip implements Repository.
func (r *PostgresRepository) CreateTrip(ctx context.Context, t *Trip) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO trips (id, vehicle_id, route_id, status, lon, lat, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.VehicleID, t.RouteID, t.Status, t.CurrentLocation.Lon, t.CurrentLocation.Lat, t.StartedAt, t.UpdatedAt)
	return err
}

// GetTrip implements Repository.
func (r *PostgresRepository) GetTrip(ctx context.Context, id string) (*Trip, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	return scanTrip(row)
}

// GetActiveTrip implements Repository.
func (r *PostgresRepository) GetActiveTrip(ctx context.Context, vehicleID, routeID string) (*Trip, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE vehicle_id = $1 AND route_id = $2 AND status = $3
	`, vehicleID, routeID, StatusInProgress)
	return scanTrip(row)
}

// EndTrip implements Repository.
func (r *PostgresRepository) EndTrip(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE trips SET status = $2, ended_at = $3, updated_at = $3 WHERE id = $1
	`, id, StatusCompleted, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTripNotFound
	}
	return nil
}

// SetLocation implements Repository.
func (r *PostgresRepository) SetLocation(ctx context.Context, id string, loc geo.Coordinate, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE trips SET lon = $2, lat = $3, updated_at = $4 WHERE id = $1
	`, id, loc.Lon, loc.Lat, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTripNotFound
	}
	return nil
}

// OpenLeg implements Repository.
func (r *PostgresRepository) OpenLeg(ctx context.Context, l *Leg) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO passenger_legs (id, trip_id, user_id, board_stop_id, board_time)
		VALUES ($1, $2, $3, $4, $5)
	`, l.ID, l.TripID, l.UserID, l.BoardStopID, l.BoardTime)
	if isUniqueViolation(err) {
		return ErrAlreadyBoarded
	}
	return err
}

// GetOpenLeg implements Repository.
func (r *PostgresRepository) GetOpenLeg(ctx context.Context, tripID, userID string) (*Leg, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+legColumns+` FROM passenger_legs
		WHERE trip_id = $1 AND user_id = $2 AND exit_time IS NULL
	`, tripID, userID)
	return scanLeg(row)
}

// GetLeg implements Repository.
func (r *PostgresRepository) GetLeg(ctx context.Context, id string) (*Leg, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+legColumns+` FROM passenger_legs WHERE id = $1`, id)
	return scanLeg(row)
}

// CloseLeg implements Repository.
func (r *PostgresRepository) CloseLeg(ctx context.Context, legID string, close LegClose) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE passenger_legs
		SET exit_stop_id = $2, exit_time = $3, fare = $4, transaction_id = $5
		WHERE id = $1 AND exit_time IS NULL
	`, legID, close.ExitStopID, close.ExitTime, close.Fare, close.TransactionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLegNotFound
	}
	return nil
}

// ListLegs implements Repository.
func (r *PostgresRepository) ListLegs(ctx context.Context, tripID string) ([]*Leg, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+legColumns+` FROM passenger_legs
		WHERE trip_id = $1
		ORDER BY board_time
	`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLegs(rows)
}

// ListLegsForUser implements Repository.
func (r *PostgresRepository) ListLegsForUser(ctx context.Context, userID string, limit, offset int) ([]*Leg, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+legColumns+` FROM passenger_legs
		WHERE user_id = $1
		ORDER BY board_time DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLegs(rows)
}

func collectLegs(rows pgx.Rows) ([]*Leg, error) {
	var legs []*Leg
	for rows.Next() {
		l, err := scanLeg(rows)
		if err != nil {
			return nil, err
		}
		legs = append(legs, l)
	}
	return legs, rows.Err()
}

func scanTrip(row pgx.Row) (*Trip, error) {
	var t Trip
	err := row.Scan(
		&t.ID, &t.VehicleID, &t.RouteID, &t.Status,
		&t.CurrentLocation.Lon, &t.CurrentLocation.Lat,
		&t.StartedAt, &t.UpdatedAt, &t.EndedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTripNotFound
		}
		return nil, err
	}
	return &t, nil
}

func scanLeg(row pgx.Row) (*Leg, error) {
	var (
		l          Leg
		exitStopID *string
		txnID      *string
	)
	err := row.Scan(
		&l.ID, &l.TripID, &l.UserID, &l.BoardStopID, &l.BoardTime,
		&exitStopID, &l.ExitTime, &l.Fare, &txnID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLegNotFound
		}
		return nil, err
	}
	if exitStopID != nil {
		l.ExitStopID = *exitStopID
	}
	if txnID != nil {
		l.TransactionID = *txnID
	}
	return &l, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
