package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-coordination/internal/apperrors"
	"github.com/example/ride-coordination/internal/models"
	"github.com/example/ride-coordination/internal/observability"
)

func (s *Server) routes() {
	s.mux.HandleFunc("/calculate-fare", s.handleCalculateFare).Methods("POST")
	s.mux.HandleFunc("/match-driver", s.handleMatchDriver).Methods("POST")
	s.mux.HandleFunc("/book-ride", s.handleBookRide).Methods("POST")

	s.mux.HandleFunc("/driver/accept-ride", s.handleDriverTransition(s.accept)).Methods("POST")
	s.mux.HandleFunc("/driver/complete-ride", s.handleDriverTransition(s.complete)).Methods("POST")
	s.mux.HandleFunc("/driver/cancel-ride", s.handleDriverTransition(s.cancel)).Methods("POST")
	s.mux.HandleFunc("/rate-ride/{ride_id}", s.handleRateRide).Methods("POST")

	s.mux.HandleFunc("/rides", s.handleListRides).Methods("GET")
	s.mux.HandleFunc("/rides/user/{id}", s.handleRidesForUser).Methods("GET")
	s.mux.HandleFunc("/driver/available-rides", s.handleAvailableRides).Methods("GET")
	s.mux.HandleFunc("/driver/my-rides/{email}", s.handleDriverRides).Methods("GET")

	s.mux.HandleFunc("/user/status/{email}", s.handleUserStatus).Methods("POST")

	s.mux.HandleFunc("/notify/email", s.handleNotifyEmail).Methods("POST")
	s.mux.HandleFunc("/notify/sms", s.handleNotifySMS).Methods("POST")

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type coordDTO struct {
	Lat float64 `json:"lat" validate:"min=-90,max=90"`
	Lon float64 `json:"lon" validate:"min=-180,max=180"`
}

func (c coordDTO) coord() models.Coord { return models.Coord{Lat: c.Lat, Lon: c.Lon} }

type pointDTO struct {
	Address string   `json:"address" validate:"required"`
	Coord   coordDTO `json:"coordinates"`
}

func (p pointDTO) point() models.Point {
	return models.Point{Address: p.Address, Coord: p.Coord.coord()}
}

type fareRequest struct {
	Pickup coordDTO `json:"pickup"`
	Drop   coordDTO `json:"drop"`
}

func (s *Server) handleCalculateFare(w http.ResponseWriter, r *http.Request) {
	var req fareRequest
	if !s.decode(w, r, &req) {
		return
	}
	// range errors come back as invalid_coordinates from the estimator
	quote, err := s.estimator.Estimate(req.Pickup.coord(), req.Drop.coord())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"distance_km": quote.DistanceKm,
		"fare":        quote.Fare,
	})
}

func (s *Server) handleMatchDriver(w http.ResponseWriter, r *http.Request) {
	var req coordDTO
	if !s.decode(w, r, &req) {
		return
	}
	offer, err := s.matcher.Match(req.coord())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, offer)
}

type bookRideRequest struct {
	RiderEmail string   `json:"rider_email" validate:"required,email"`
	Pickup     pointDTO `json:"pickup"`
	Drop       pointDTO `json:"drop"`
	Fare       float64  `json:"fare" validate:"required"`
}

func (s *Server) handleBookRide(w http.ResponseWriter, r *http.Request) {
	var req bookRideRequest
	if !s.decode(w, r, &req) {
		return
	}
	if u, err := s.users.GetUser(req.RiderEmail); err == nil && u.Status == models.UserBlocked {
		s.writeError(w, apperrors.Blocked(req.RiderEmail))
		return
	}

	ride, err := s.life.Create(req.RiderEmail, req.Pickup.point(), req.Drop.point(), req.Fare)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Auto-assign mirrors the original backend: find the nearest driver and
	// accept on their behalf. If no one is free the ride stays pending and
	// the driver pool picks it up from /driver/available-rides.
	if s.cfg.AutoAssign {
		if offer, err := s.matcher.Match(ride.Pickup.Coord); err == nil {
			if bound, err := s.life.Accept(ride.ID, offer.Driver.ID); err == nil {
				ride = bound
				_ = s.hub.PushAssignment(offer.Driver.ID, *bound)
			}
		}
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Ride booked successfully",
		"ride":    ride,
	})
}

type driverActionRequest struct {
	RideID      string `json:"ride_id" validate:"required"`
	DriverEmail string `json:"driver_email" validate:"required,email"`
}

type transition func(rideID, driverID string) (*models.Ride, error)

func (s *Server) accept(rideID, driverID string) (*models.Ride, error) {
	ride, err := s.life.Accept(rideID, driverID)
	if err == nil {
		_ = s.hub.PushAssignment(driverID, *ride)
	}
	return ride, err
}

func (s *Server) complete(rideID, driverID string) (*models.Ride, error) {
	return s.life.Complete(rideID, driverID)
}

func (s *Server) cancel(rideID, driverID string) (*models.Ride, error) {
	return s.life.Cancel(rideID, driverID)
}

func (s *Server) handleDriverTransition(apply transition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req driverActionRequest
		if !s.decode(w, r, &req) {
			return
		}
		d, err := s.drivers.GetDriverByEmail(req.DriverEmail)
		if err != nil {
			s.writeError(w, err)
			return
		}
		ride, err := apply(req.RideID, d.ID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, ride)
	}
}

type rateRequest struct {
	Rating int `json:"rating"`
}

func (s *Server) handleRateRide(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var req rateRequest
	if !s.decode(w, r, &req) {
		return
	}
	ride, err := s.life.Rate(rideID, req.Rating)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	rides, err := s.rides.ListRides()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rides)
}

func (s *Server) handleRidesForUser(w http.ResponseWriter, r *http.Request) {
	rides, err := s.rides.ListByRider(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rides)
}

func (s *Server) handleAvailableRides(w http.ResponseWriter, r *http.Request) {
	rides, err := s.rides.ListByStatus(models.StatusPending)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rides)
}

func (s *Server) handleDriverRides(w http.ResponseWriter, r *http.Request) {
	d, err := s.drivers.GetDriverByEmail(mux.Vars(r)["email"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	rides, err := s.rides.ListByDriver(d.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rides)
}

type userStatusRequest struct {
	Status models.UserStatus `json:"status" validate:"required,oneof=active blocked"`
}

func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	email := mux.Vars(r)["email"]
	var req userStatusRequest
	if !s.decode(w, r, &req) {
		return
	}
	u, err := s.users.SetUserStatus(email, req.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

type emailRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Subject string `json:"subject" validate:"required"`
	Message string `json:"message" validate:"required"`
}

func (s *Server) handleNotifyEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !s.decode(w, r, &req) {
		return
	}
	if s.email == nil {
		s.writeError(w, apperrors.InvalidRequest("email channel is not configured"))
		return
	}
	if err := s.email.SendMail(r.Context(), req.Email, req.Subject, req.Message); err != nil {
		// notification failure is non-fatal by contract; report, don't 500
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "failed", "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

type smsRequest struct {
	Phone   string `json:"phone" validate:"required"`
	Message string `json:"message" validate:"required"`
}

func (s *Server) handleNotifySMS(w http.ResponseWriter, r *http.Request) {
	var req smsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if s.sms == nil {
		s.writeError(w, apperrors.InvalidRequest("sms channel is not configured"))
		return
	}
	if err := s.sms.SendSMS(r.Context(), req.Phone, req.Message); err != nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "failed", "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

type driverLocationRequest struct {
	ID            string   `json:"id" validate:"required"`
	Name          string   `json:"name"`
	Email         string   `json:"email" validate:"omitempty,email"`
	VehicleNumber string   `json:"vehicle_number"`
	Loc           coordDTO `json:"loc"`
	Online        bool     `json:"online"`
}

// handleDriverLocation is the HTTP side of the live-tracking channel:
// driver apps without a WebSocket post here instead.
func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var req driverLocationRequest
	if !s.decode(w, r, &req) {
		return
	}
	update := models.LocationUpdate{
		DriverID: req.ID,
		Loc:      req.Loc.coord(),
		Online:   req.Online,
		At:       time.Now(),
	}
	s.applyLocation(update, req)
	w.WriteHeader(http.StatusNoContent)
}

// applyLocation registers unknown drivers, refreshes the geo index and
// fans the update out to Kafka.
func (s *Server) applyLocation(u models.LocationUpdate, reg driverLocationRequest) {
	d, err := s.drivers.GetDriver(u.DriverID)
	if err != nil {
		if apperrors.KindOf(err) != apperrors.KindNotFound {
			return
		}
		d = &models.Driver{
			ID:            u.DriverID,
			Name:          reg.Name,
			Email:         reg.Email,
			VehicleNumber: reg.VehicleNumber,
		}
		_ = s.drivers.SaveDriver(d)
	}
	d.Loc = u.Loc
	wasOnline := d.Online
	d.Online = u.Online
	if u.Online && !wasOnline {
		// coming online restores availability unless an ongoing ride still
		// binds the driver (e.g. a reconnect mid-ride)
		busy := false
		if rides, err := s.rides.ListByDriver(d.ID); err == nil {
			for _, ride := range rides {
				if ride.Status == models.StatusOngoing {
					busy = true
					break
				}
			}
		}
		d.Available = !busy
		observability.DriversOnline.Inc()
	}
	if !u.Online {
		d.Available = false
		if wasOnline {
			observability.DriversOnline.Dec()
		}
	}
	_ = s.drivers.UpdateDriver(d)
	s.geoIndex.Register(*d)
	if s.kafka != nil {
		if err := s.kafka.PublishLocation(u); err != nil {
			s.logger.Warn("kafka publish failed", "driver_id", u.DriverID, "error", err)
		}
	}
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.hub.Add(driverID, conn)
	go s.hub.ReadLoop(driverID, conn, func(u models.LocationUpdate) {
		s.applyLocation(u, driverLocationRequest{ID: u.DriverID})
	})
}

// decode parses and validates a JSON body, writing the error response
// itself when the input is bad.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, apperrors.InvalidRequest("malformed JSON body: %v", err))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, apperrors.InvalidRequest("%v", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	var ae *apperrors.Error
	if !errors.As(err, &ae) {
		ae = apperrors.New(apperrors.KindInternal, "internal error")
		s.logger.Error("unexpected error", "error", err)
	}
	s.writeJSON(w, status, ae)
}
