package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-engine/internal/models"
)

// Candidate is a qualifying driver ranked by distance from a pickup point.
type Candidate struct {
	Driver    models.Driver
	DistanceM float64
}

// Matcher is the minimal interface the offer coordinator needs.
type Matcher interface {
	// FindCandidates returns online drivers with seat capacity >= requiredSeats,
	// sorted ascending by great-circle distance from pickup. Every returned
	// candidate carries a non-nil location. An empty slice is a legitimate
	// result, not an error; the caller decides what "no drivers" means to the
	// user.
	FindCandidates(ctx context.Context, pickup models.Coord, requiredSeats int) ([]Candidate, error)
	Upsert(ctx context.Context, d models.Driver) error
}

// Index is the in-memory driver pool. Production runs RedisGeo; the index
// backs local runs and tests.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.Driver)}
}

func (g *Index) Upsert(ctx context.Context, d models.Driver) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	g.drivers[d.ID] = d
	return nil
}

func (g *Index) FindCandidates(ctx context.Context, pickup models.Coord, requiredSeats int) ([]Candidate, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Candidate, 0, len(g.drivers))
	for _, d := range g.drivers {
		if !d.Online || d.Seats < requiredSeats {
			continue
		}
		// a driver who never reported a position is excluded, not distance-zero
		if d.Loc == nil {
			continue
		}
		out = append(out, Candidate{
			Driver:    d,
			DistanceM: Haversine(pickup.Lat, pickup.Lon, d.Loc.Lat, d.Loc.Lon),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceM < out[j].DistanceM })
	return out, nil
}

// Haversine is the great-circle distance in meters (Earth radius 6371 km).
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
