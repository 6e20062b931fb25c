package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point is a named location: a human-readable address plus its coordinates.
type Point struct {
	Address string `json:"address"`
	Coord   Coord  `json:"coordinates"`
}

// RideStatus values. Completed and cancelled are terminal.
type RideStatus string

const (
	StatusPending   RideStatus = "pending"
	StatusOngoing   RideStatus = "ongoing"
	StatusCompleted RideStatus = "completed"
	StatusCancelled RideStatus = "cancelled"
)

func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Ride struct {
	ID          string     `json:"id"`
	RiderID     string     `json:"rider_id"`
	DriverID    string     `json:"driver_id,omitempty"` // empty until accepted
	Pickup      Point      `json:"pickup"`
	Drop        Point      `json:"drop"`
	DistanceKm  float64    `json:"distance_km"`
	Fare        float64    `json:"fare"`
	Status      RideStatus `json:"status"`
	Rating      int        `json:"rating,omitempty"` // 0 = unrated
	PaymentRef  string     `json:"-"`                // payment hold reference, if any
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RatingAggregate is a running mean over rated rides.
type RatingAggregate struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// Add folds one rating into the running mean.
func (a *RatingAggregate) Add(rating int) {
	total := a.Average*float64(a.Count) + float64(rating)
	a.Count++
	a.Average = total / float64(a.Count)
}

type EarningsAggregate struct {
	Total     float64 `json:"total"`
	RideCount int     `json:"ride_count"`
}

type Driver struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Email         string            `json:"email"`
	VehicleNumber string            `json:"vehicle_number"`
	Loc           Coord             `json:"loc"`
	Online        bool              `json:"online"`
	Available     bool              `json:"available"` // online and not bound to an ongoing ride
	Rating        RatingAggregate   `json:"rating"`
	Earnings      EarningsAggregate `json:"earnings"`
	Updated       time.Time         `json:"updated"`
}

// UserStatus is the admin-facing account toggle; it is not part of the
// ride state machine.
type UserStatus string

const (
	UserActive  UserStatus = "active"
	UserBlocked UserStatus = "blocked"
)

type User struct {
	Email  string     `json:"email"`
	Name   string     `json:"name,omitempty"`
	Status UserStatus `json:"status"`
}

// Quote is a fare estimate for a pickup/drop pair. Immutable once attached
// to a ride; a re-quote requires a fresh estimate.
type Quote struct {
	DistanceKm float64 `json:"distance_km"`
	Fare       float64 `json:"fare"`
}

// MatchOffer is the non-binding quote-phase answer: a nearby driver and how
// far away they are. It reserves nothing.
type MatchOffer struct {
	Driver     Driver  `json:"driver"`
	DistanceKm float64 `json:"distance_km"`
	ETASeconds float64 `json:"eta_seconds"`
}

// LocationUpdate is what drivers push over the live-tracking channel and
// what flows through the Kafka topic.
type LocationUpdate struct {
	DriverID string    `json:"driver_id"`
	Loc      Coord     `json:"loc"`
	Online   bool      `json:"online"`
	At       time.Time `json:"at"`
}
