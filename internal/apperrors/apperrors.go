package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, machine-readable error category. Clients branch on the
// kind, never on the message text.
type Kind string

const (
	KindInvalidRequest     Kind = "invalid_request"
	KindInvalidCoordinates Kind = "invalid_coordinates"
	KindNoDriverAvailable  Kind = "no_driver_available"
	KindDriverUnavailable  Kind = "driver_unavailable"
	KindAlreadyAssigned    Kind = "already_assigned"
	KindNotBound           Kind = "not_bound"
	KindInvalidTransition  Kind = "invalid_transition"
	KindInvalidRating      Kind = "invalid_rating"
	KindAlreadyRated       Kind = "already_rated"
	KindNotFound           Kind = "not_found"
	KindBlocked            Kind = "blocked"
	KindInternal           Kind = "internal_error"
)

type Error struct {
	Kind    Kind   `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

// Is lets errors.Is match two *Error values by kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from any error, defaulting to internal_error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to the status code the API returns.
// Guard violations are the caller's fault and map to 4xx; only
// no_driver_available is a capacity signal worth retrying.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidRequest, KindInvalidCoordinates, KindInvalidRating, KindInvalidTransition:
		return http.StatusBadRequest
	case KindNoDriverAvailable:
		return http.StatusServiceUnavailable
	case KindDriverUnavailable, KindAlreadyAssigned, KindAlreadyRated:
		return http.StatusConflict
	case KindNotBound, KindBlocked:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Common constructors keep handler and service code terse.

func InvalidRequest(format string, args ...any) *Error {
	return New(KindInvalidRequest, format, args...)
}

func InvalidCoordinates(format string, args ...any) *Error {
	return New(KindInvalidCoordinates, format, args...)
}

func NoDriverAvailable() *Error {
	return New(KindNoDriverAvailable, "no drivers available near pickup")
}

func DriverUnavailable(driverID string) *Error {
	return New(KindDriverUnavailable, "driver %s is not available", driverID)
}

func AlreadyAssigned(rideID string) *Error {
	return New(KindAlreadyAssigned, "ride %s is already assigned", rideID)
}

func NotBound(rideID, driverID string) *Error {
	return New(KindNotBound, "driver %s is not bound to ride %s", driverID, rideID)
}

func InvalidTransition(rideID string, from, to string) *Error {
	return New(KindInvalidTransition, "ride %s: cannot transition from %s to %s", rideID, from, to)
}

func InvalidRating(rating int) *Error {
	return New(KindInvalidRating, "rating must be an integer in [1,5], got %d", rating)
}

func AlreadyRated(rideID string) *Error {
	return New(KindAlreadyRated, "ride %s is already rated", rideID)
}

func NotFound(resource, id string) *Error {
	return New(KindNotFound, "%s %s not found", resource, id)
}

func Blocked(email string) *Error {
	return New(KindBlocked, "account %s is blocked", email)
}
