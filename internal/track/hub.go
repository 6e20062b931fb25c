package track

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-coordination/internal/models"
)

// ErrNoSession means the driver has no live connection right now. Callers
// treat this as "skip", not as a failure.
var ErrNoSession = errors.New("driver has no live session")

// Session is one connected driver. Writes are serialized per connection.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Event is the outbound frame pushed to driver apps.
type Event struct {
	Type  string             `json:"type"` // ride_offer, ride_assigned
	Offer *models.MatchOffer `json:"offer,omitempty"`
	Ride  *models.Ride       `json:"ride,omitempty"`
}

// Hub tracks live driver WebSocket sessions. Inbound frames are location
// updates feeding the geo index; outbound frames are match offers and
// assignment events.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	Logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{sessions: make(map[string]*Session), Logger: logger}
}

func (h *Hub) Add(driverID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.sessions[driverID]; ok {
		_ = old.conn.Close()
	}
	h.sessions[driverID] = &Session{conn: conn}
}

func (h *Hub) Remove(driverID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[driverID]; ok {
		_ = s.conn.Close()
		delete(h.sessions, driverID)
	}
}

func (h *Hub) get(driverID string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[driverID]
	return s, ok
}

// PushOffer implements the matcher's OfferPusher.
func (h *Hub) PushOffer(driverID string, offer models.MatchOffer) error {
	s, ok := h.get(driverID)
	if !ok {
		return ErrNoSession
	}
	if err := s.send(Event{Type: "ride_offer", Offer: &offer}); err != nil {
		if h.Logger != nil {
			h.Logger.Debug("ws offer send failed", "driver_id", driverID, "error", err)
		}
		return err
	}
	return nil
}

// PushAssignment tells a driver a ride was bound to them.
func (h *Hub) PushAssignment(driverID string, ride models.Ride) error {
	s, ok := h.get(driverID)
	if !ok {
		return ErrNoSession
	}
	return s.send(Event{Type: "ride_assigned", Ride: &ride})
}

// ReadLoop consumes inbound location frames until the connection drops,
// forwarding each to onUpdate. Blocks; run per connection.
func (h *Hub) ReadLoop(driverID string, conn *websocket.Conn, onUpdate func(models.LocationUpdate)) {
	defer h.Remove(driverID)
	for {
		var u models.LocationUpdate
		if err := conn.ReadJSON(&u); err != nil {
			if h.Logger != nil {
				h.Logger.Debug("ws session closed", "driver_id", driverID, "error", err)
			}
			return
		}
		u.DriverID = driverID
		if u.At.IsZero() {
			u.At = time.Now()
		}
		onUpdate(u)
	}
}
