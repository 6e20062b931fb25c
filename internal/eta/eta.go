package eta

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-coordination/internal/geo"
	"github.com/example/ride-coordination/internal/models"
)

// Client is the interface the matcher uses to estimate pickup ETAs.
type Client interface {
	EstimateSeconds(from, to models.Coord) (float64, error)
}

// EstimateSeconds is the routing-free fallback: straight-line distance over
// an assumed city speed.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h city default
	}
	meters := geo.HaversineKm(from.Lat, from.Lon, to.Lat, to.Lon) * 1000
	return meters / speedMps
}

// Cache is a small TTL cache for ETA lookups keyed by the coordinate pair,
// so repeated quotes against the same driver don't hammer the router.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func (c *Cache) Get(from, to models.Coord) (float64, bool) {
	k := pairKey(from, to)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(from, to models.Coord, v float64) {
	k := pairKey(from, to)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

func pairKey(a, b models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", a.Lat, a.Lon, b.Lat, b.Lon)
}
