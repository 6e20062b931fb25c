package geo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-coordination/internal/models"
)

// Candidate is a driver returned from a nearest query together with the
// great-circle distance to the query point.
type Candidate struct {
	Driver     models.Driver
	DistanceKm float64
}

// Index is the read side of driver placement: who is where, and who is
// available. Nearest answers are a snapshot; the lifecycle re-validates
// availability under its own lock before binding a driver.
type Index interface {
	Register(d models.Driver)
	SetAvailability(driverID string, available bool)
	Nearest(origin models.Coord, limit int) []Candidate
}

// MemIndex is the in-process implementation: a guarded map and a linear
// haversine scan. Fine for a single node; the Redis mirror covers scale-out.
type MemIndex struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

func NewMemIndex() *MemIndex {
	return &MemIndex{drivers: make(map[string]models.Driver)}
}

func (g *MemIndex) Register(d models.Driver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	g.drivers[d.ID] = d
}

func (g *MemIndex) SetAvailability(driverID string, available bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.drivers[driverID]
	if !ok {
		return
	}
	d.Available = available
	d.Updated = time.Now()
	g.drivers[driverID] = d
}

// Nearest returns up to limit available drivers ordered closest first.
// Ties are broken by driver ID ascending so results are reproducible.
// An empty slice means no one is available; that is not an error.
func (g *MemIndex) Nearest(origin models.Coord, limit int) []Candidate {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cands := make([]Candidate, 0, len(g.drivers))
	for _, d := range g.drivers {
		if !d.Online || !d.Available {
			continue
		}
		cands = append(cands, Candidate{
			Driver:     d,
			DistanceKm: HaversineKm(origin.Lat, origin.Lon, d.Loc.Lat, d.Loc.Lon),
		})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].DistanceKm != cands[j].DistanceKm {
			return cands[i].DistanceKm < cands[j].DistanceKm
		}
		return cands[i].Driver.ID < cands[j].Driver.ID
	})
	if limit < len(cands) {
		cands = cands[:limit]
	}
	return cands
}

// HaversineKm is the great-circle distance between two points in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
