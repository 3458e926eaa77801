package tracker

import (
	"context"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/transitpay/transitpay/internal/geo"
)

// RedisTracker implements Tracker on Redis GEO commands. Positions live in
// one GEO set; last-seen timestamps in a companion hash.
type RedisTracker struct {
	client *redis.Client
	key    string
}

// NewRedisTracker creates a tracker using the given client. key names the
// GEO set, e.g. "vehicles:locations".
func NewRedisTracker(client *redis.Client, key string) *RedisTracker {
	return &RedisTracker{client: client, key: key}
}

var _ Tracker = (*RedisTracker)(nil)

func (t *RedisTracker) seenKey() string {
	return t.key + ":seen"
}

// Record implements Tracker.
func (t *RedisTracker) Record(ctx context.Context, vehicleID string, loc geo.Coordinate, at time.Time) error {
	err := t.client.GeoAdd(ctx, t.key, &redis.GeoLocation{
		Name:      vehicleID,
		Longitude: loc.Lon,
		Latitude:  loc.Lat,
	}).Err()
	if err != nil {
		return err
	}
	return t.client.HSet(ctx, t.seenKey(), vehicleID, at.UTC().Format(time.RFC3339Nano)).Err()
}

// Get implements Tracker.
func (t *RedisTracker) Get(ctx context.Context, vehicleID string) (Position, bool, error) {
	positions, err := t.client.GeoPos(ctx, t.key, vehicleID).Result()
	if err != nil {
		return Position{}, false, err
	}
	if len(positions) == 0 || positions[0] == nil {
		return Position{}, false, nil
	}

	pos := Position{
		VehicleID: vehicleID,
		Location:  geo.Coordinate{Lon: positions[0].Longitude, Lat: positions[0].Latitude},
	}
	if seen, err := t.client.HGet(ctx, t.seenKey(), vehicleID).Result(); err == nil {
		if at, err := time.Parse(time.RFC3339Nano, seen); err == nil {
			pos.SeenAt = at
		}
	}
	return pos, true, nil
}

// Nearby implements Tracker.
func (t *RedisTracker) Nearby(ctx context.Context, p geo.Coordinate, radiusMeters float64, limit int) ([]Position, error) {
	if radiusMeters <= 0 {
		radiusMeters = DefaultNearbyRadiusMeters
	}

	res, err := t.client.GeoRadius(ctx, t.key, p.Lon, p.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Position, 0, len(res))
	for _, g := range res {
		pos := Position{
			VehicleID:      g.Name,
			Location:       geo.Coordinate{Lon: g.Longitude, Lat: g.Latitude},
			DistanceMeters: g.Dist,
		}
		if seen, err := t.client.HGet(ctx, t.seenKey(), g.Name).Result(); err == nil {
			if at, err := time.Parse(time.RFC3339Nano, seen); err == nil {
				pos.SeenAt = at
			}
		}
		out = append(out, pos)
	}
	return out, nil
}

// Active implements Tracker.
func (t *RedisTracker) Active(ctx context.Context, since time.Time) ([]Position, error) {
	seen, err := t.client.HGetAll(ctx, t.seenKey()).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(seen))
	seenAt := make(map[string]time.Time, len(seen))
	for id, raw := range seen {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil || at.Before(since) {
			continue
		}
		ids = append(ids, id)
		seenAt[id] = at
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	positions, err := t.client.GeoPos(ctx, t.key, ids...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Position, 0, len(ids))
	for i, p := range positions {
		if p == nil {
			continue
		}
		out = append(out, Position{
			VehicleID: ids[i],
			Location:  geo.Coordinate{Lon: p.Longitude, Lat: p.Latitude},
			SeenAt:    seenAt[ids[i]],
		})
	}
	return out, nil
}
