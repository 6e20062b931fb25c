package match

import (
	"log/slog"
	"time"

	"github.com/example/ride-coordination/internal/apperrors"
	"github.com/example/ride-coordination/internal/eta"
	"github.com/example/ride-coordination/internal/geo"
	"github.com/example/ride-coordination/internal/models"
	"github.com/example/ride-coordination/internal/observability"
)

// Geo is the slice of the index the engine needs.
type Geo interface {
	Nearest(origin models.Coord, limit int) []geo.Candidate
}

// OfferPusher notifies a connected driver about a quote, best-effort.
type OfferPusher interface {
	PushOffer(driverID string, offer models.MatchOffer) error
}

// Engine answers the quote phase: "who is the nearest available driver?".
// A match reserves nothing: the driver stays available until the rider
// actually books and the lifecycle binds them. Two riders quoting the same
// lone driver both see that driver; only one accept will win later.
type Engine struct {
	Geo             Geo
	Offers          OfferPusher // optional
	ETAClient       eta.Client  // optional routing client
	ETACache        *eta.Cache  // optional
	DefaultSpeedMps float64
	Logger          *slog.Logger
}

func NewEngine(g Geo, logger *slog.Logger) *Engine {
	return &Engine{Geo: g, DefaultSpeedMps: 10, Logger: logger}
}

// Match returns the nearest available driver, or NoDriverAvailable, which
// is a recoverable condition the client may retry, not a fault.
func (e *Engine) Match(pickup models.Coord) (models.MatchOffer, error) {
	start := time.Now()
	defer func() {
		observability.MatchLatency.Observe(time.Since(start).Seconds())
	}()

	cands := e.Geo.Nearest(pickup, 1)
	if len(cands) == 0 {
		observability.NoDriverTotal.Inc()
		return models.MatchOffer{}, apperrors.NoDriverAvailable()
	}

	best := cands[0]
	offer := models.MatchOffer{
		Driver:     best.Driver,
		DistanceKm: best.DistanceKm,
		ETASeconds: e.estimateETA(best.Driver.Loc, pickup),
	}
	observability.MatchesTotal.Inc()

	if e.Offers != nil {
		if err := e.Offers.PushOffer(best.Driver.ID, offer); err != nil && e.Logger != nil {
			e.Logger.Debug("offer push skipped", "driver_id", best.Driver.ID, "error", err)
		}
	}
	return offer, nil
}

func (e *Engine) estimateETA(from, to models.Coord) float64 {
	if e.ETACache != nil {
		if v, ok := e.ETACache.Get(from, to); ok {
			return v
		}
	}
	if e.ETAClient != nil {
		if v, err := e.ETAClient.EstimateSeconds(from, to); err == nil {
			if e.ETACache != nil {
				e.ETACache.Set(from, to, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(from, to, e.DefaultSpeedMps)
}
