package lifecycle

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-coordination/internal/apperrors"
	"github.com/example/ride-coordination/internal/fare"
	"github.com/example/ride-coordination/internal/models"
	"github.com/example/ride-coordination/internal/notify"
	"github.com/example/ride-coordination/internal/observability"
	"github.com/example/ride-coordination/internal/storage"
)

// AvailabilitySink receives availability flips so the quote-phase geo index
// eventually reflects commit-time truth. The driver store remains the
// authoritative record checked under the lock.
type AvailabilitySink interface {
	SetAvailability(driverID string, available bool)
}

// Payments is the optional hold/capture/release hook. Every call is
// best-effort: a payment error is logged, never turned into a lifecycle
// failure.
type Payments interface {
	Hold(ctx context.Context, amount int64, currency, customer string) (string, error)
	Capture(ctx context.Context, ref string) error
	Release(ctx context.Context, ref string) error
}

// Service is the sole owner of ride status transitions. Matcher, handlers
// and consumers all go through here; nothing mutates a ride or a driver
// binding behind its back.
//
// Per-ride and per-driver keyed mutexes serialize mutation; guards run
// before any write so a rejected call leaves state untouched.
type Service struct {
	Rides     storage.RideStore
	Drivers   storage.DriverStore
	Estimator *fare.Estimator
	Geo       AvailabilitySink
	Notifier  *notify.Dispatcher
	Payments  Payments
	Logger    *slog.Logger
	Currency  string

	rideLocks   keyedMutex
	driverLocks keyedMutex

	now func() time.Time
}

func New(rides storage.RideStore, drivers storage.DriverStore, est *fare.Estimator, geo AvailabilitySink, logger *slog.Logger) *Service {
	return &Service{
		Rides:     rides,
		Drivers:   drivers,
		Estimator: est,
		Geo:       geo,
		Logger:    logger,
		Currency:  "inr",
		now:       time.Now,
	}
}

// Create books a ride in pending state. The fare is always recomputed
// server-side from the coordinates; the client's quote is only checked for
// plausibility, never trusted.
func (s *Service) Create(riderID string, pickup, drop models.Point, quotedFare float64) (*models.Ride, error) {
	if riderID == "" {
		return nil, apperrors.InvalidRequest("rider_id is required")
	}
	if pickup.Address == "" || drop.Address == "" {
		return nil, apperrors.InvalidRequest("pickup and drop are required")
	}
	if quotedFare <= 0 {
		return nil, apperrors.InvalidRequest("fare must be positive, got %v", quotedFare)
	}
	quote, err := s.Estimator.Estimate(pickup.Coord, drop.Coord)
	if err != nil {
		return nil, err
	}
	// A stale or forged quote is a caller error, not something to silently
	// repair: the rider confirmed a price we no longer agree with.
	if math.Abs(quote.Fare-quotedFare) > 0.01 {
		return nil, apperrors.InvalidRequest("quoted fare %v does not match current estimate %v", quotedFare, quote.Fare)
	}

	r := &models.Ride{
		ID:         uuid.NewString(),
		RiderID:    riderID,
		Pickup:     pickup,
		Drop:       drop,
		DistanceKm: quote.DistanceKm,
		Fare:       quote.Fare,
		Status:     models.StatusPending,
		CreatedAt:  s.now(),
	}

	if s.Payments != nil {
		ref, err := s.Payments.Hold(context.Background(), toMinorUnits(r.Fare), s.Currency, riderID)
		if err != nil {
			s.logWarn("payment hold failed", "ride_id", r.ID, "error", err)
		} else {
			r.PaymentRef = ref
		}
	}

	if err := s.Rides.SaveRide(r); err != nil {
		return nil, err
	}
	observability.RidesCreated.Inc()
	s.logInfo("ride created", "ride_id", r.ID, "rider_id", riderID, "fare", r.Fare, "distance_km", r.DistanceKm)
	s.Notifier.Dispatch(notify.Event{Kind: "ride_booked", Ride: *r, RiderEmail: riderID})
	return r, nil
}

// Accept binds a driver to a pending ride. The availability check and the
// binding happen under the driver lock, so two racing accepts on the same
// driver resolve to exactly one winner.
func (s *Service) Accept(rideID, driverID string) (*models.Ride, error) {
	unlockRide := s.rideLocks.lock(rideID)
	defer unlockRide()

	r, err := s.Rides.GetRide(rideID)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return nil, s.reject(apperrors.InvalidTransition(rideID, string(r.Status), string(models.StatusOngoing)))
	}
	if r.Status != models.StatusPending {
		return nil, s.reject(apperrors.AlreadyAssigned(rideID))
	}

	unlockDriver := s.driverLocks.lock(driverID)
	defer unlockDriver()

	d, err := s.Drivers.GetDriver(driverID)
	if err != nil {
		return nil, err
	}
	if !d.Available {
		return nil, s.reject(apperrors.DriverUnavailable(driverID))
	}

	r.Status = models.StatusOngoing
	r.DriverID = driverID
	d.Available = false
	if err := s.Rides.UpdateRide(r); err != nil {
		return nil, err
	}
	if err := s.Drivers.UpdateDriver(d); err != nil {
		// roll the ride back so no observer sees ongoing with a free driver
		r.Status = models.StatusPending
		r.DriverID = ""
		_ = s.Rides.UpdateRide(r)
		return nil, err
	}
	s.Geo.SetAvailability(driverID, false)

	observability.Transitions.WithLabelValues(string(models.StatusOngoing)).Inc()
	s.logInfo("ride accepted", "ride_id", rideID, "driver_id", driverID)
	s.Notifier.Dispatch(notify.Event{Kind: "ride_accepted", Ride: *r, RiderEmail: r.RiderID, DriverEmail: d.Email})
	return r, nil
}

// Complete finishes an ongoing ride. Only the bound driver may complete;
// the driver is released and their earnings aggregate advances.
func (s *Service) Complete(rideID, driverID string) (*models.Ride, error) {
	unlockRide := s.rideLocks.lock(rideID)
	defer unlockRide()

	r, err := s.Rides.GetRide(rideID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusOngoing {
		return nil, s.reject(apperrors.InvalidTransition(rideID, string(r.Status), string(models.StatusCompleted)))
	}
	if r.DriverID != driverID {
		return nil, s.reject(apperrors.NotBound(rideID, driverID))
	}

	unlockDriver := s.driverLocks.lock(driverID)
	defer unlockDriver()

	d, err := s.Drivers.GetDriver(driverID)
	if err != nil {
		return nil, err
	}

	done := s.now()
	r.Status = models.StatusCompleted
	r.CompletedAt = &done
	d.Available = true
	d.Earnings.Total += r.Fare
	d.Earnings.RideCount++
	if err := s.Rides.UpdateRide(r); err != nil {
		return nil, err
	}
	if err := s.Drivers.UpdateDriver(d); err != nil {
		return nil, err
	}
	s.Geo.SetAvailability(driverID, true)

	if s.Payments != nil && r.PaymentRef != "" {
		if err := s.Payments.Capture(context.Background(), r.PaymentRef); err != nil {
			s.logWarn("payment capture failed", "ride_id", rideID, "ref", r.PaymentRef, "error", err)
		}
	}

	observability.Transitions.WithLabelValues(string(models.StatusCompleted)).Inc()
	s.logInfo("ride completed", "ride_id", rideID, "driver_id", driverID, "fare", r.Fare)
	s.Notifier.Dispatch(notify.Event{Kind: "ride_completed", Ride: *r, RiderEmail: r.RiderID, DriverEmail: d.Email})
	return r, nil
}

// Cancel aborts a pending or ongoing ride. Deliberately not idempotent: a
// second cancel fails so double-cancel bugs surface at the caller instead
// of silently succeeding.
func (s *Service) Cancel(rideID, actorID string) (*models.Ride, error) {
	unlockRide := s.rideLocks.lock(rideID)
	defer unlockRide()

	r, err := s.Rides.GetRide(rideID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusPending && r.Status != models.StatusOngoing {
		return nil, s.reject(apperrors.InvalidTransition(rideID, string(r.Status), string(models.StatusCancelled)))
	}

	wasOngoing := r.Status == models.StatusOngoing
	boundDriver := r.DriverID

	if wasOngoing {
		unlockDriver := s.driverLocks.lock(boundDriver)
		defer unlockDriver()
	}

	r.Status = models.StatusCancelled
	if err := s.Rides.UpdateRide(r); err != nil {
		return nil, err
	}
	if wasOngoing {
		if d, err := s.Drivers.GetDriver(boundDriver); err == nil {
			d.Available = true
			if err := s.Drivers.UpdateDriver(d); err != nil {
				s.logWarn("driver release failed", "ride_id", rideID, "driver_id", boundDriver, "error", err)
			}
			s.Geo.SetAvailability(boundDriver, true)
		}
	}

	if s.Payments != nil && r.PaymentRef != "" {
		if err := s.Payments.Release(context.Background(), r.PaymentRef); err != nil {
			s.logWarn("payment release failed", "ride_id", rideID, "ref", r.PaymentRef, "error", err)
		}
	}

	observability.Transitions.WithLabelValues(string(models.StatusCancelled)).Inc()
	s.logInfo("ride cancelled", "ride_id", rideID, "actor_id", actorID, "was_ongoing", wasOngoing)
	s.Notifier.Dispatch(notify.Event{Kind: "ride_cancelled", Ride: *r, RiderEmail: r.RiderID})
	return r, nil
}

// Rate records the rider's rating for a completed ride. Write-once: the
// ride rating and the driver's running mean advance together or not at all.
func (s *Service) Rate(rideID string, rating int) (*models.Ride, error) {
	if rating < 1 || rating > 5 {
		return nil, s.reject(apperrors.InvalidRating(rating))
	}

	unlockRide := s.rideLocks.lock(rideID)
	defer unlockRide()

	r, err := s.Rides.GetRide(rideID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusCompleted {
		return nil, s.reject(apperrors.InvalidTransition(rideID, string(r.Status), "rated"))
	}
	if r.Rating != 0 {
		return nil, s.reject(apperrors.AlreadyRated(rideID))
	}

	unlockDriver := s.driverLocks.lock(r.DriverID)
	defer unlockDriver()

	d, err := s.Drivers.GetDriver(r.DriverID)
	if err != nil {
		return nil, err
	}

	r.Rating = rating
	d.Rating.Add(rating)
	if err := s.Rides.UpdateRide(r); err != nil {
		return nil, err
	}
	if err := s.Drivers.UpdateDriver(d); err != nil {
		return nil, err
	}

	s.logInfo("ride rated", "ride_id", rideID, "rating", rating, "driver_avg", d.Rating.Average)
	return r, nil
}

func (s *Service) reject(err *apperrors.Error) error {
	observability.TransitionRejected.WithLabelValues(string(err.Kind)).Inc()
	return err
}

func (s *Service) logInfo(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Info(msg, args...)
	}
}

func (s *Service) logWarn(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Warn(msg, args...)
	}
}

// toMinorUnits converts a currency amount to its smallest unit.
func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
