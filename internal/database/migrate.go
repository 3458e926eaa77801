package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the idempotent DDL for all tables, applied in order.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
		id          TEXT PRIMARY KEY,
		owner_id    TEXT NOT NULL,
		owner_kind  TEXT NOT NULL,
		balance     DOUBLE PRECISION NOT NULL DEFAULT 0,
		held        DOUBLE PRECISION NOT NULL DEFAULT 0,
		currency    TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		CONSTRAINT wallets_balance_nonnegative CHECK (balance >= 0),
		CONSTRAINT wallets_held_nonnegative CHECK (held >= 0)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS wallets_owner_idx
		ON wallets (owner_id, owner_kind)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id                 TEXT PRIMARY KEY,
		wallet_id          TEXT NOT NULL REFERENCES wallets (id),
		type               TEXT NOT NULL,
		status             TEXT NOT NULL,
		amount             DOUBLE PRECISION NOT NULL,
		currency           TEXT NOT NULL,
		idempotency_key    TEXT,
		description        TEXT NOT NULL DEFAULT '',
		payment_intent_id  TEXT,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS transactions_idempotency_idx
		ON transactions (wallet_id, idempotency_key)
		WHERE idempotency_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS transactions_wallet_idx
		ON transactions (wallet_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS wallet_history (
		id              TEXT PRIMARY KEY,
		wallet_id       TEXT NOT NULL REFERENCES wallets (id),
		transaction_id  TEXT NOT NULL,
		delta           DOUBLE PRECISION NOT NULL,
		balance         DOUBLE PRECISION NOT NULL,
		held            DOUBLE PRECISION NOT NULL,
		reason          TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS wallet_history_wallet_idx
		ON wallet_history (wallet_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS stops (
		id                    TEXT PRIMARY KEY,
		code                  TEXT NOT NULL,
		name                  TEXT NOT NULL,
		lon                   DOUBLE PRECISION NOT NULL,
		lat                   DOUBLE PRECISION NOT NULL,
		zone_id               TEXT NOT NULL DEFAULT '',
		per_km                DOUBLE PRECISION,
		base_fare_override    DOUBLE PRECISION,
		peak_multiplier       DOUBLE PRECISION,
		off_peak_multiplier   DOUBLE PRECISION,
		nearby_radius_meters  DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at            TIMESTAMPTZ NOT NULL,
		updated_at            TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS routes (
		id             TEXT PRIMARY KEY,
		code           TEXT NOT NULL,
		name           TEXT NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		path           TEXT NOT NULL DEFAULT '',
		service_start  TEXT NOT NULL DEFAULT '',
		service_end    TEXT NOT NULL DEFAULT '',
		active         BOOLEAN NOT NULL DEFAULT TRUE,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS route_stops (
		route_id    TEXT NOT NULL REFERENCES routes (id),
		stop_id     TEXT NOT NULL REFERENCES stops (id),
		stop_order  INTEGER NOT NULL,
		PRIMARY KEY (route_id, stop_id)
	)`,

	`CREATE TABLE IF NOT EXISTS vehicles (
		id          TEXT PRIMARY KEY,
		number      TEXT NOT NULL,
		route_id    TEXT NOT NULL REFERENCES routes (id),
		active      BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS trips (
		id          TEXT PRIMARY KEY,
		vehicle_id  TEXT NOT NULL REFERENCES vehicles (id),
		route_id    TEXT NOT NULL REFERENCES routes (id),
		status      TEXT NOT NULL,
		lon         DOUBLE PRECISION NOT NULL,
		lat         DOUBLE PRECISION NOT NULL,
		started_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		ended_at    TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS trips_active_idx
		ON trips (vehicle_id, route_id)
		WHERE status = 'in_progress'`,

	`CREATE TABLE IF NOT EXISTS passenger_legs (
		id              TEXT PRIMARY KEY,
		trip_id         TEXT NOT NULL REFERENCES trips (id),
		user_id         TEXT NOT NULL,
		board_stop_id   TEXT NOT NULL REFERENCES stops (id),
		board_time      TIMESTAMPTZ NOT NULL,
		exit_stop_id    TEXT,
		exit_time       TIMESTAMPTZ,
		fare            DOUBLE PRECISION,
		transaction_id  TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS passenger_legs_open_idx
		ON passenger_legs (trip_id, user_id)
		WHERE exit_time IS NULL`,
	`CREATE INDEX IF NOT EXISTS passenger_legs_user_idx
		ON passenger_legs (user_id, board_time DESC)`,
}

// Migrate applies the schema. All statements are idempotent, so running
// it on every startup is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
