package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-engine/internal/models"
)

// RedisGeo backs the matcher with Redis GEO commands plus a metadata hash
// per driver (seats, online, vehicle) under driver:meta:<id>. The location
// consumer and the HTTP location endpoint both write through Upsert.
type RedisGeo struct {
	client   *redis.Client
	key      string
	radiusKm float64
}

func NewRedisGeo(client *redis.Client, key string, radiusKm float64) *RedisGeo {
	if radiusKm <= 0 {
		radiusKm = 10
	}
	return &RedisGeo{client: client, key: key, radiusKm: radiusKm}
}

func (r *RedisGeo) Upsert(ctx context.Context, d models.Driver) error {
	if d.Loc != nil {
		if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
			Longitude: d.Loc.Lon,
			Latitude:  d.Loc.Lat,
			Name:      d.ID,
		}).Err(); err != nil {
			return err
		}
	}
	return r.client.HSet(ctx, metaKey(d.ID), map[string]interface{}{
		"seats":   strconv.Itoa(d.Seats),
		"online":  strconv.FormatBool(d.Online),
		"vehicle": d.Vehicle,
		"updated": time.Now().UTC().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) FindCandidates(ctx context.Context, pickup models.Coord, requiredSeats int) ([]Candidate, error) {
	res, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  pickup.Lon,
			Latitude:   pickup.Lat,
			Radius:     r.radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(res))
	for _, g := range res {
		d := models.Driver{ID: g.Name, Loc: &models.Coord{Lat: g.Latitude, Lon: g.Longitude}}
		meta, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result()
		if err != nil {
			continue
		}
		if v, ok := meta["seats"]; ok {
			d.Seats, _ = strconv.Atoi(v)
		}
		d.Online = meta["online"] == "true"
		d.Vehicle = meta["vehicle"]
		if !d.Online || d.Seats < requiredSeats {
			continue
		}
		// GEOSEARCH with a km unit reports distance in km
		out = append(out, Candidate{Driver: d, DistanceM: g.Dist * 1000})
	}
	return out, nil
}

func metaKey(id string) string { return "driver:meta:" + id }
