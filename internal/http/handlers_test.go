package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/ride-coordination/internal/config"
	"github.com/example/ride-coordination/internal/geo"
	"github.com/example/ride-coordination/internal/models"
)

func testServer(t *testing.T, autoAssign bool) *Server {
	t.Helper()
	cfg := config.ServerConfig{
		BaseFare:        50,
		PerKmRate:       10,
		MinFare:         60,
		AutoAssign:      autoAssign,
		DefaultSpeedMps: 10,
	}
	s, err := NewServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func seedDriver(t *testing.T, s *Server, id, email string, lat, lon float64) {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/internal/driver/locations", map[string]any{
		"id":     id,
		"email":  email,
		"loc":    map[string]float64{"lat": lat, "lon": lon},
		"online": true,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("seed driver: status %d body %s", rec.Code, rec.Body.String())
	}
}

func bookBody(riderEmail string) map[string]any {
	return map[string]any{
		"rider_email": riderEmail,
		"pickup": map[string]any{
			"address":     "MG Road",
			"coordinates": map[string]float64{"lat": 12.9716, "lon": 77.5946},
		},
		"drop": map[string]any{
			"address":     "Koramangala",
			"coordinates": map[string]float64{"lat": 12.9279, "lon": 77.6271},
		},
		"fare": 110.00,
	}
}

func TestServerSelectsGeoBackend(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := NewServer(config.ServerConfig{PerKmRate: 10}, logger)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if _, ok := s.geoIndex.(*geo.MemIndex); !ok {
		t.Fatalf("without redis the index should be in-memory, got %T", s.geoIndex)
	}

	s, err = NewServer(config.ServerConfig{PerKmRate: 10, RedisAddr: "localhost:6379", RedisGeoKey: "drivers_geo"}, logger)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if _, ok := s.geoIndex.(*geo.RedisIndex); !ok {
		t.Fatalf("with a redis address the index should be the redis mirror, got %T", s.geoIndex)
	}
}

func TestCalculateFare(t *testing.T) {
	s := testServer(t, false)
	rec := doJSON(t, s, http.MethodPost, "/calculate-fare", map[string]any{
		"pickup": map[string]float64{"lat": 12.9716, "lon": 77.5946},
		"drop":   map[string]float64{"lat": 12.9279, "lon": 77.6271},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	var got struct {
		DistanceKm float64 `json:"distance_km"`
		Fare       float64 `json:"fare"`
	}
	decodeBody(t, rec, &got)
	if got.DistanceKm != 6.0 || got.Fare != 110.00 {
		t.Fatalf("quote = %+v, want 6.0 km / 110.00", got)
	}
}

func TestCalculateFareRejectsBadCoords(t *testing.T) {
	s := testServer(t, false)
	rec := doJSON(t, s, http.MethodPost, "/calculate-fare", map[string]any{
		"pickup": map[string]float64{"lat": 95, "lon": 77.59},
		"drop":   map[string]float64{"lat": 12.92, "lon": 77.62},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestMatchDriverEmptyPool(t *testing.T) {
	s := testServer(t, false)
	rec := doJSON(t, s, http.MethodPost, "/match-driver", map[string]float64{"lat": 12.97, "lon": 77.59})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rec.Code)
	}
	var got struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &got)
	if got.Error != "no_driver_available" {
		t.Fatalf("error kind = %q", got.Error)
	}
}

func TestBookRideAutoAssigns(t *testing.T) {
	s := testServer(t, true)
	seedDriver(t, s, "d1", "d1@drivers.test", 12.98, 77.60)

	rec := doJSON(t, s, http.MethodPost, "/book-ride", bookBody("rider@test"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Ride models.Ride `json:"ride"`
	}
	decodeBody(t, rec, &got)
	if got.Ride.Status != models.StatusOngoing || got.Ride.DriverID != "d1" {
		t.Fatalf("ride = %s/%s, want ongoing/d1", got.Ride.Status, got.Ride.DriverID)
	}
	s.Close()
}

func TestBookRideStaysPendingWithoutDrivers(t *testing.T) {
	s := testServer(t, true)

	rec := doJSON(t, s, http.MethodPost, "/book-ride", bookBody("rider@test"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Ride models.Ride `json:"ride"`
	}
	decodeBody(t, rec, &got)
	if got.Ride.Status != models.StatusPending {
		t.Fatalf("status = %s, want pending", got.Ride.Status)
	}

	// a pending ride shows up on the driver board
	list := doJSON(t, s, http.MethodGet, "/driver/available-rides", nil)
	var rides []models.Ride
	decodeBody(t, list, &rides)
	if len(rides) != 1 || rides[0].ID != got.Ride.ID {
		t.Fatalf("available rides = %+v", rides)
	}
	s.Close()
}

func TestBookRideBlockedRider(t *testing.T) {
	s := testServer(t, false)
	if rec := doJSON(t, s, http.MethodPost, "/user/status/bad@test", map[string]string{"status": "blocked"}); rec.Code != http.StatusOK {
		t.Fatalf("block: status %d", rec.Code)
	}

	rec := doJSON(t, s, http.MethodPost, "/book-ride", bookBody("bad@test"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d, want 403", rec.Code)
	}
	s.Close()
}

func TestDriverTransitionFlow(t *testing.T) {
	s := testServer(t, false)
	seedDriver(t, s, "d1", "d1@drivers.test", 12.98, 77.60)

	rec := doJSON(t, s, http.MethodPost, "/book-ride", bookBody("rider@test"))
	var booked struct {
		Ride models.Ride `json:"ride"`
	}
	decodeBody(t, rec, &booked)
	rideID := booked.Ride.ID

	action := map[string]string{"ride_id": rideID, "driver_email": "d1@drivers.test"}
	if rec := doJSON(t, s, http.MethodPost, "/driver/accept-ride", action); rec.Code != http.StatusOK {
		t.Fatalf("accept: status %d body %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, s, http.MethodPost, "/driver/complete-ride", action); rec.Code != http.StatusOK {
		t.Fatalf("complete: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/rate-ride/"+rideID, map[string]int{"rating": 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("rate: status %d body %s", rec.Code, rec.Body.String())
	}
	var rated models.Ride
	decodeBody(t, rec, &rated)
	if rated.Rating != 5 {
		t.Fatalf("rating = %d, want 5", rated.Rating)
	}

	// write-once: a second rating conflicts
	if rec := doJSON(t, s, http.MethodPost, "/rate-ride/"+rideID, map[string]int{"rating": 4}); rec.Code != http.StatusConflict {
		t.Fatalf("second rate: status %d, want 409", rec.Code)
	}

	// the ride lands in both party histories
	byRider := doJSON(t, s, http.MethodGet, "/rides/user/rider@test", nil)
	var riderRides []models.Ride
	decodeBody(t, byRider, &riderRides)
	if len(riderRides) != 1 {
		t.Fatalf("rider rides = %d, want 1", len(riderRides))
	}
	byDriver := doJSON(t, s, http.MethodGet, "/driver/my-rides/d1@drivers.test", nil)
	var driverRides []models.Ride
	decodeBody(t, byDriver, &driverRides)
	if len(driverRides) != 1 {
		t.Fatalf("driver rides = %d, want 1", len(driverRides))
	}
	s.Close()
}

func TestRateUnknownRide(t *testing.T) {
	s := testServer(t, false)
	rec := doJSON(t, s, http.MethodPost, "/rate-ride/nope", map[string]int{"rating": 5})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
}

func TestNotifyEndpointsUnconfigured(t *testing.T) {
	s := testServer(t, false)
	rec := doJSON(t, s, http.MethodPost, "/notify/email", map[string]string{
		"email": "rider@test", "subject": "hi", "message": "there",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("email: status %d, want 400", rec.Code)
	}
	rec = doJSON(t, s, http.MethodPost, "/notify/sms", map[string]string{
		"phone": "+911234567890", "message": "hi",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("sms: status %d, want 400", rec.Code)
	}
}

func TestMalformedBody(t *testing.T) {
	s := testServer(t, false)
	req := httptest.NewRequest(http.MethodPost, "/book-ride", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}
