package lifecycle

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/example/ride-coordination/internal/apperrors"
	"github.com/example/ride-coordination/internal/fare"
	"github.com/example/ride-coordination/internal/geo"
	"github.com/example/ride-coordination/internal/models"
	"github.com/example/ride-coordination/internal/storage"
)

var (
	pickup = models.Point{Address: "MG Road", Coord: models.Coord{Lat: 12.9716, Lon: 77.5946}}
	drop   = models.Point{Address: "Koramangala", Coord: models.Coord{Lat: 12.9279, Lon: 77.6271}}
)

type fixture struct {
	svc   *Service
	store *storage.MemoryStore
	geo   *geo.MemIndex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	idx := geo.NewMemIndex()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(store, store, fare.NewEstimator(), idx, logger)
	return &fixture{svc: svc, store: store, geo: idx}
}

func (f *fixture) addDriver(t *testing.T, id string) *models.Driver {
	t.Helper()
	d := &models.Driver{
		ID:        id,
		Email:     id + "@drivers.test",
		Loc:       models.Coord{Lat: 12.98, Lon: 77.60},
		Online:    true,
		Available: true,
	}
	if err := f.store.SaveDriver(d); err != nil {
		t.Fatalf("save driver: %v", err)
	}
	f.geo.Register(*d)
	return d
}

func (f *fixture) book(t *testing.T, rider string) *models.Ride {
	t.Helper()
	quote, err := f.svc.Estimator.Estimate(pickup.Coord, drop.Coord)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	r, err := f.svc.Create(rider, pickup, drop, quote.Fare)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return r
}

func wantKind(t *testing.T, err error, kind apperrors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", kind)
	}
	if got := apperrors.KindOf(err); got != kind {
		t.Fatalf("expected %s, got %s (%v)", kind, got, err)
	}
}

func TestCreatePendingWithServerSideQuote(t *testing.T) {
	f := newFixture(t)
	r := f.book(t, "rider@test")

	if r.Status != models.StatusPending {
		t.Fatalf("status = %s, want pending", r.Status)
	}
	if r.DriverID != "" {
		t.Fatalf("new ride must not have a driver, got %s", r.DriverID)
	}
	if r.DistanceKm != 6.0 || r.Fare != 110.00 {
		t.Fatalf("quote = (%v, %v), want (6.0, 110.00)", r.DistanceKm, r.Fare)
	}
	if r.CreatedAt.IsZero() {
		t.Fatal("created_at not set")
	}
}

func TestCreateValidations(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create("", pickup, drop, 110)
	wantKind(t, err, apperrors.KindInvalidRequest)

	_, err = f.svc.Create("rider@test", models.Point{}, drop, 110)
	wantKind(t, err, apperrors.KindInvalidRequest)

	_, err = f.svc.Create("rider@test", pickup, drop, 0)
	wantKind(t, err, apperrors.KindInvalidRequest)

	_, err = f.svc.Create("rider@test", pickup, drop, -10)
	wantKind(t, err, apperrors.KindInvalidRequest)

	// stale quote: the client confirmed a price the server no longer agrees with
	_, err = f.svc.Create("rider@test", pickup, drop, 95.00)
	wantKind(t, err, apperrors.KindInvalidRequest)

	bad := models.Point{Address: "nowhere", Coord: models.Coord{Lat: 91, Lon: 0}}
	_, err = f.svc.Create("rider@test", bad, drop, 110)
	wantKind(t, err, apperrors.KindInvalidCoordinates)
}

func TestAcceptBindsDriverAtomically(t *testing.T) {
	f := newFixture(t)
	d := f.addDriver(t, "d1")
	r := f.book(t, "rider@test")

	got, err := f.svc.Accept(r.ID, d.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != models.StatusOngoing || got.DriverID != d.ID {
		t.Fatalf("ride = %s/%s, want ongoing/%s", got.Status, got.DriverID, d.ID)
	}

	stored, err := f.store.GetDriver(d.ID)
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	if stored.Available {
		t.Fatal("driver still available after accept")
	}
	if cands := f.geo.Nearest(pickup.Coord, 1); len(cands) != 0 {
		t.Fatalf("geo still offers bound driver: %+v", cands)
	}
}

func TestAcceptSecondRideRejected(t *testing.T) {
	f := newFixture(t)
	d := f.addDriver(t, "d1")
	r1 := f.book(t, "r1@test")
	r2 := f.book(t, "r2@test")

	if _, err := f.svc.Accept(r1.ID, d.ID); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	_, err := f.svc.Accept(r2.ID, d.ID)
	wantKind(t, err, apperrors.KindDriverUnavailable)
}

func TestAcceptNonPendingRide(t *testing.T) {
	f := newFixture(t)
	d := f.addDriver(t, "d1")
	d2 := f.addDriver(t, "d2")
	r := f.book(t, "rider@test")

	if _, err := f.svc.Accept(r.ID, d.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, err := f.svc.Accept(r.ID, d2.ID)
	wantKind(t, err, apperrors.KindAlreadyAssigned)
}

func TestAcceptRaceSingleWinner(t *testing.T) {
	f := newFixture(t)
	d := f.addDriver(t, "d1")

	const riders = 8
	rides := make([]*models.Ride, riders)
	for i := range rides {
		rides[i] = f.book(t, "rider@test")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, unavailable := 0, 0
	for _, r := range rides {
		wg.Add(1)
		go func(rideID string) {
			defer wg.Done()
			_, err := f.svc.Accept(rideID, d.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperrors.KindOf(err) == apperrors.KindDriverUnavailable:
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(r.ID)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
	if unavailable != riders-1 {
		t.Fatalf("driver_unavailable = %d, want %d", unavailable, riders-1)
	}
}

func TestCompleteHappyPath(t *testing.T) {
	f := newFixture(t)
	d := f.addDriver(t, "d1")
	r := f.book(t, "rider@test")
	if _, err := f.svc.Accept(r.ID, d.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	done, err := f.svc.Complete(r.ID, d.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}
	if done.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}

	stored, _ := f.store.GetDriver(d.ID)
	if !stored.Available {
		t.Fatal("driver not released after completion")
	}
	if stored.Earnings.RideCount != 1 || stored.Earnings.Total != done.Fare {
		t.Fatalf("earnings = %+v, want 1 ride of %v", stored.Earnings, done.Fare)
	}
	if cands := f.geo.Nearest(pickup.Coord, 1); len(cands) != 1 {
		t.Fatal("geo did not restore driver availability")
	}
}

func TestCompleteGuards(t *testing.T) {
	f := newFixture(t)
	d := f.addDriver(t, "d1")
	f.addDriver(t, "intruder")
	r := f.book(t, "rider@test")

	// not ongoing yet
	_, err := f.svc.Complete(r.ID, d.ID)
	wantKind(t, err, apperrors.KindInvalidTransition)

	if _, err := f.svc.Accept(r.ID, d.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// only the bound driver may complete
	_, err = f.svc.Complete(r.ID, "intruder")
	wantKind(t, err, apperrors.KindNotBound)
}

func TestCancelPendingAndOngoing(t *testing.T) {
	f := newFixture(t)
	d := f.addDriver(t, "d1")

	// pending cancel: no driver involved
	r1 := f.book(t, "rider@test")
	got, err := f.svc.Cancel(r1.ID, "rider@test")
	if err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if got.Status != models.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	// ongoing cancel: driver released
	r2 := f.book(t, "rider@test")
	if _, err := f.svc.Accept(r2.ID, d.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Cancel(r2.ID, "rider@test"); err != nil {
		t.Fatalf("cancel ongoing: %v", err)
	}
	stored, _ := f.store.GetDriver(d.ID)
	if !stored.Available {
		t.Fatal("driver not released after cancel")
	}
}

func TestCancelNotIdempotent(t *testing.T) {
	f := newFixture(t)
	r := f.book(t, "rider@test")
	if _, err := f.svc.Cancel(r.ID, "rider@test"); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	_, err := f.svc.Cancel(r.ID, "rider@test")
	wantKind(t, err, apperrors.KindInvalidTransition)
}

func TestTerminalStatesImmutable(t *testing.T) {
	f := newFixture(t)
	d := f.addDriver(t, "d1")

	r := f.book(t, "rider@test")
	if _, err := f.svc.Accept(r.ID, d.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Complete(r.ID, d.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := f.svc.Accept(r.ID, d.ID)
	wantKind(t, err, apperrors.KindInvalidTransition)
	_, err = f.svc.Complete(r.ID, d.ID)
	wantKind(t, err, apperrors.KindInvalidTransition)
	_, err = f.svc.Cancel(r.ID, "rider@test")
	wantKind(t, err, apperrors.KindInvalidTransition)
}

func TestRateWriteOnce(t *testing.T) {
	f := newFixture(t)
	d := f.addDriver(t, "d1")
	r := f.book(t, "rider@test")
	if _, err := f.svc.Accept(r.ID, d.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// rating before completion is a transition violation
	_, err := f.svc.Rate(r.ID, 5)
	wantKind(t, err, apperrors.KindInvalidTransition)

	if _, err := f.svc.Complete(r.ID, d.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err = f.svc.Rate(r.ID, 0)
	wantKind(t, err, apperrors.KindInvalidRating)
	_, err = f.svc.Rate(r.ID, 6)
	wantKind(t, err, apperrors.KindInvalidRating)

	rated, err := f.svc.Rate(r.ID, 5)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if rated.Rating != 5 {
		t.Fatalf("rating = %d, want 5", rated.Rating)
	}

	_, err = f.svc.Rate(r.ID, 4)
	wantKind(t, err, apperrors.KindAlreadyRated)

	stored, _ := f.store.GetDriver(d.ID)
	if stored.Rating.Count != 1 || stored.Rating.Average != 5.0 {
		t.Fatalf("aggregate = %+v, want count=1 avg=5", stored.Rating)
	}
}

func TestRatingRunningMean(t *testing.T) {
	f := newFixture(t)
	d := f.addDriver(t, "d1")
	// driver already has two 4-star rides behind them
	d.Rating = models.RatingAggregate{Average: 4.0, Count: 2}
	if err := f.store.UpdateDriver(d); err != nil {
		t.Fatalf("update driver: %v", err)
	}

	r := f.book(t, "rider@test")
	if _, err := f.svc.Accept(r.ID, d.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Complete(r.ID, d.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.svc.Rate(r.ID, 5); err != nil {
		t.Fatalf("rate: %v", err)
	}

	stored, _ := f.store.GetDriver(d.ID)
	if stored.Rating.Count != 3 {
		t.Fatalf("count = %d, want 3", stored.Rating.Count)
	}
	want := (4.0*2 + 5) / 3
	if stored.Rating.Average != want {
		t.Fatalf("average = %v, want %v", stored.Rating.Average, want)
	}
}

func TestGuardFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	d := f.addDriver(t, "d1")
	r := f.book(t, "rider@test")
	if _, err := f.svc.Accept(r.ID, d.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// a rejected complete by the wrong driver must not mutate anything
	if _, err := f.svc.Complete(r.ID, "someone-else"); err == nil {
		t.Fatal("expected rejection")
	}
	ride, _ := f.store.GetRide(r.ID)
	if ride.Status != models.StatusOngoing || ride.CompletedAt != nil {
		t.Fatalf("ride mutated by rejected call: %+v", ride)
	}
	stored, _ := f.store.GetDriver(d.ID)
	if stored.Available || stored.Earnings.RideCount != 0 {
		t.Fatalf("driver mutated by rejected call: %+v", stored)
	}
}
