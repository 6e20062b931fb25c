package storage

import (
	"sort"
	"sync"

	"github.com/example/ride-coordination/internal/apperrors"
	"github.com/example/ride-coordination/internal/models"
)

// RideStore persists ride records and serves the read projections the
// dashboards consume. Implementations must be safe for concurrent use; the
// lifecycle provides transition ordering on top.
type RideStore interface {
	SaveRide(r *models.Ride) error
	UpdateRide(r *models.Ride) error
	GetRide(id string) (*models.Ride, error)
	ListRides() ([]*models.Ride, error)
	ListByRider(riderID string) ([]*models.Ride, error)
	ListByDriver(driverID string) ([]*models.Ride, error)
	ListByStatus(status models.RideStatus) ([]*models.Ride, error)
}

// DriverStore is the authoritative record of driver identity, availability
// and aggregates. Availability read here is the commit-time truth; the geo
// index only serves the quote phase.
type DriverStore interface {
	SaveDriver(d *models.Driver) error
	UpdateDriver(d *models.Driver) error
	GetDriver(id string) (*models.Driver, error)
	GetDriverByEmail(email string) (*models.Driver, error)
}

// UserStore backs the admin block/unblock toggle.
type UserStore interface {
	SaveUser(u *models.User) error
	GetUser(email string) (*models.User, error)
	SetUserStatus(email string, status models.UserStatus) (*models.User, error)
}

// MemoryStore implements all three stores with guarded maps. It is the
// default when no Postgres DSN is configured, and what the tests run on.
type MemoryStore struct {
	mu      sync.RWMutex
	rides   map[string]models.Ride
	drivers map[string]models.Driver
	byEmail map[string]string // driver email -> id
	users   map[string]models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:   make(map[string]models.Ride),
		drivers: make(map[string]models.Driver),
		byEmail: make(map[string]string),
		users:   make(map[string]models.User),
	}
}

func (m *MemoryStore) SaveRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryStore) UpdateRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		return apperrors.NotFound("ride", r.ID)
	}
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryStore) GetRide(id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, apperrors.NotFound("ride", id)
	}
	return &r, nil
}

func (m *MemoryStore) ListRides() ([]*models.Ride, error) {
	return m.list(func(models.Ride) bool { return true })
}

func (m *MemoryStore) ListByRider(riderID string) ([]*models.Ride, error) {
	return m.list(func(r models.Ride) bool { return r.RiderID == riderID })
}

func (m *MemoryStore) ListByDriver(driverID string) ([]*models.Ride, error) {
	return m.list(func(r models.Ride) bool { return r.DriverID == driverID })
}

func (m *MemoryStore) ListByStatus(status models.RideStatus) ([]*models.Ride, error) {
	return m.list(func(r models.Ride) bool { return r.Status == status })
}

func (m *MemoryStore) list(keep func(models.Ride) bool) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Ride, 0)
	for _, r := range m.rides {
		if keep(r) {
			cp := r
			out = append(out, &cp)
		}
	}
	// newest first, stable for equal timestamps
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) SaveDriver(d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = *d
	if d.Email != "" {
		m.byEmail[d.Email] = d.ID
	}
	return nil
}

func (m *MemoryStore) UpdateDriver(d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[d.ID]; !ok {
		return apperrors.NotFound("driver", d.ID)
	}
	m.drivers[d.ID] = *d
	if d.Email != "" {
		m.byEmail[d.Email] = d.ID
	}
	return nil
}

func (m *MemoryStore) GetDriver(id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, apperrors.NotFound("driver", id)
	}
	return &d, nil
}

func (m *MemoryStore) GetDriverByEmail(email string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, apperrors.NotFound("driver", email)
	}
	d := m.drivers[id]
	return &d, nil
}

func (m *MemoryStore) SaveUser(u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.Email] = *u
	return nil
}

func (m *MemoryStore) GetUser(email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[email]
	if !ok {
		return nil, apperrors.NotFound("user", email)
	}
	return &u, nil
}

func (m *MemoryStore) SetUserStatus(email string, status models.UserStatus) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		// toggling an unknown account creates it, mirroring the admin UI
		u = models.User{Email: email}
	}
	u.Status = status
	m.users[email] = u
	return &u, nil
}
