package geo

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-coordination/internal/models"
)

// RedisIndex mirrors the driver index into Redis GEO commands so read
// replicas can serve nearest queries without the in-process map. It is fed
// by the Kafka location consumer.
type RedisIndex struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key, ctx: context.Background()}
}

func (r *RedisIndex) Register(d models.Driver) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{
		Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: d.ID,
	}).Result()
	_ = r.client.HSet(r.ctx, metaKey(d.ID), map[string]interface{}{
		"name":      d.Name,
		"email":     d.Email,
		"vehicle":   d.VehicleNumber,
		"online":    strconv.FormatBool(d.Online),
		"available": strconv.FormatBool(d.Available),
		"updated":   time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisIndex) SetAvailability(driverID string, available bool) {
	_ = r.client.HSet(r.ctx, metaKey(driverID), "available", strconv.FormatBool(available)).Err()
}

func (r *RedisIndex) Nearest(origin models.Coord, limit int) []Candidate {
	// Over-fetch: GEORADIUS cannot filter on the availability hash, so
	// unavailable drivers are dropped after the lookup.
	res, err := r.client.GeoRadius(r.ctx, r.key, origin.Lon, origin.Lat, &redis.GeoRadiusQuery{
		Radius: 50, Unit: "km", WithCoord: true, WithDist: true, Count: limit * 4, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]Candidate, 0, limit)
	for _, g := range res {
		m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result()
		if err != nil || m["online"] != "true" || m["available"] != "true" {
			continue
		}
		d := models.Driver{
			ID:            g.Name,
			Name:          m["name"],
			Email:         m["email"],
			VehicleNumber: m["vehicle"],
			Online:        true,
			Available:     true,
		}
		d.Loc.Lat = g.Latitude
		d.Loc.Lon = g.Longitude
		out = append(out, Candidate{Driver: d, DistanceKm: g.Dist})
	}
	// GEORADIUS sorts by distance only; apply the same deterministic
	// tie-break as the in-memory index.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Driver.ID < out[j].Driver.ID
	})
	if limit < len(out) {
		out = out[:limit]
	}
	return out
}

func metaKey(id string) string { return "driver:meta:" + id }
