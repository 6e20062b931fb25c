package fare

import (
	"math"

	"github.com/example/ride-coordination/internal/apperrors"
	"github.com/example/ride-coordination/internal/geo"
	"github.com/example/ride-coordination/internal/models"
)

// Estimator is a pure fare calculator: no I/O, no clock, no state beyond
// the configured rates. The same pickup/drop pair always yields the same
// quote, which is what lets the lifecycle re-validate client quotes.
type Estimator struct {
	BaseFare  float64
	PerKmRate float64
	MinFare   float64
}

// Defaults match the original pricing: 50 base + 10 per km, floored at 60.
func NewEstimator() *Estimator {
	return &Estimator{BaseFare: 50, PerKmRate: 10, MinFare: 60}
}

// Estimate computes distance and fare for a pickup/drop pair.
// Distance is rounded to 1 decimal place and the fare is derived from the
// rounded distance so the quote is consistent with what the rider sees,
// then rounded to 2 decimal places. Both use round-half-up.
func (e *Estimator) Estimate(pickup, drop models.Coord) (models.Quote, error) {
	if err := validateCoord(pickup); err != nil {
		return models.Quote{}, err
	}
	if err := validateCoord(drop); err != nil {
		return models.Quote{}, err
	}
	dist := roundHalfUp(geo.HaversineKm(pickup.Lat, pickup.Lon, drop.Lat, drop.Lon), 1)
	fare := e.BaseFare + e.PerKmRate*dist
	if fare < e.MinFare {
		fare = e.MinFare
	}
	return models.Quote{DistanceKm: dist, Fare: roundHalfUp(fare, 2)}, nil
}

func validateCoord(c models.Coord) error {
	if math.Abs(c.Lat) > 90 {
		return apperrors.InvalidCoordinates("latitude %v out of range [-90,90]", c.Lat)
	}
	if math.Abs(c.Lon) > 180 {
		return apperrors.InvalidCoordinates("longitude %v out of range [-180,180]", c.Lon)
	}
	return nil
}

// roundHalfUp rounds to the given number of decimal places with ties going
// away from zero toward positive infinity (currency-style .5 -> up).
func roundHalfUp(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Floor(v*p+0.5) / p
}
