package storage

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-coordination/internal/apperrors"
	"github.com/example/ride-coordination/internal/models"
)

// PostgresStore implements RideStore, DriverStore and UserStore on a single
// database/sql pool.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const rideCols = `id, rider_id, driver_id, pickup_address, pickup_lat, pickup_lon,
	drop_address, drop_lat, drop_lon, distance_km, fare, status, rating,
	payment_ref, created_at, completed_at`

func (p *PostgresStore) SaveRide(r *models.Ride) error {
	_, err := p.db.Exec(`INSERT INTO rides(`+rideCols+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		r.ID, r.RiderID, nullStr(r.DriverID), r.Pickup.Address, r.Pickup.Coord.Lat, r.Pickup.Coord.Lon,
		r.Drop.Address, r.Drop.Coord.Lat, r.Drop.Coord.Lon, r.DistanceKm, r.Fare, r.Status,
		nullInt(r.Rating), nullStr(r.PaymentRef), r.CreatedAt, r.CompletedAt)
	return err
}

func (p *PostgresStore) UpdateRide(r *models.Ride) error {
	res, err := p.db.Exec(`UPDATE rides SET driver_id=$1, status=$2, rating=$3,
		payment_ref=$4, completed_at=$5, updated_at=$6 WHERE id=$7`,
		nullStr(r.DriverID), r.Status, nullInt(r.Rating), nullStr(r.PaymentRef),
		r.CompletedAt, time.Now(), r.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NotFound("ride", r.ID)
	}
	return nil
}

func (p *PostgresStore) GetRide(id string) (*models.Ride, error) {
	row := p.db.QueryRow(`SELECT `+rideCols+` FROM rides WHERE id=$1`, id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("ride", id)
	}
	return r, err
}

func (p *PostgresStore) ListRides() ([]*models.Ride, error) {
	return p.queryRides(`SELECT ` + rideCols + ` FROM rides ORDER BY created_at DESC`)
}

func (p *PostgresStore) ListByRider(riderID string) ([]*models.Ride, error) {
	return p.queryRides(`SELECT `+rideCols+` FROM rides WHERE rider_id=$1 ORDER BY created_at DESC`, riderID)
}

func (p *PostgresStore) ListByDriver(driverID string) ([]*models.Ride, error) {
	return p.queryRides(`SELECT `+rideCols+` FROM rides WHERE driver_id=$1 ORDER BY created_at DESC`, driverID)
}

func (p *PostgresStore) ListByStatus(status models.RideStatus) ([]*models.Ride, error) {
	return p.queryRides(`SELECT `+rideCols+` FROM rides WHERE status=$1 ORDER BY created_at DESC`, status)
}

func (p *PostgresStore) queryRides(q string, args ...any) ([]*models.Ride, error) {
	rows, err := p.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRide(s scanner) (*models.Ride, error) {
	var r models.Ride
	var driverID, paymentRef sql.NullString
	var rating sql.NullInt64
	var completedAt sql.NullTime
	err := s.Scan(&r.ID, &r.RiderID, &driverID, &r.Pickup.Address, &r.Pickup.Coord.Lat, &r.Pickup.Coord.Lon,
		&r.Drop.Address, &r.Drop.Coord.Lat, &r.Drop.Coord.Lon, &r.DistanceKm, &r.Fare, &r.Status,
		&rating, &paymentRef, &r.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	r.DriverID = driverID.String
	r.PaymentRef = paymentRef.String
	r.Rating = int(rating.Int64)
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

const driverCols = `id, name, email, vehicle_number, lat, lon, online, available,
	rating_avg, rating_count, earnings_total, earnings_rides, updated_at`

func (p *PostgresStore) SaveDriver(d *models.Driver) error {
	_, err := p.db.Exec(`INSERT INTO drivers(`+driverCols+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name, email=EXCLUDED.email, vehicle_number=EXCLUDED.vehicle_number,
			lat=EXCLUDED.lat, lon=EXCLUDED.lon, online=EXCLUDED.online,
			available=EXCLUDED.available, updated_at=EXCLUDED.updated_at`,
		d.ID, d.Name, d.Email, d.VehicleNumber, d.Loc.Lat, d.Loc.Lon, d.Online, d.Available,
		d.Rating.Average, d.Rating.Count, d.Earnings.Total, d.Earnings.RideCount, time.Now())
	return err
}

func (p *PostgresStore) UpdateDriver(d *models.Driver) error {
	res, err := p.db.Exec(`UPDATE drivers SET name=$1, email=$2, vehicle_number=$3,
		lat=$4, lon=$5, online=$6, available=$7, rating_avg=$8, rating_count=$9,
		earnings_total=$10, earnings_rides=$11, updated_at=$12 WHERE id=$13`,
		d.Name, d.Email, d.VehicleNumber, d.Loc.Lat, d.Loc.Lon, d.Online, d.Available,
		d.Rating.Average, d.Rating.Count, d.Earnings.Total, d.Earnings.RideCount, time.Now(), d.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NotFound("driver", d.ID)
	}
	return nil
}

func (p *PostgresStore) GetDriver(id string) (*models.Driver, error) {
	return p.getDriver(`SELECT `+driverCols+` FROM drivers WHERE id=$1`, id)
}

func (p *PostgresStore) GetDriverByEmail(email string) (*models.Driver, error) {
	return p.getDriver(`SELECT `+driverCols+` FROM drivers WHERE email=$1`, email)
}

func (p *PostgresStore) getDriver(q, key string) (*models.Driver, error) {
	var d models.Driver
	err := p.db.QueryRow(q, key).Scan(&d.ID, &d.Name, &d.Email, &d.VehicleNumber,
		&d.Loc.Lat, &d.Loc.Lon, &d.Online, &d.Available,
		&d.Rating.Average, &d.Rating.Count, &d.Earnings.Total, &d.Earnings.RideCount, &d.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("driver", key)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *PostgresStore) SaveUser(u *models.User) error {
	_, err := p.db.Exec(`INSERT INTO users(email, name, status) VALUES($1,$2,$3)
		ON CONFLICT (email) DO UPDATE SET name=EXCLUDED.name, status=EXCLUDED.status`,
		u.Email, u.Name, u.Status)
	return err
}

func (p *PostgresStore) GetUser(email string) (*models.User, error) {
	var u models.User
	err := p.db.QueryRow(`SELECT email, name, status FROM users WHERE email=$1`, email).
		Scan(&u.Email, &u.Name, &u.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user", email)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgresStore) SetUserStatus(email string, status models.UserStatus) (*models.User, error) {
	_, err := p.db.Exec(`INSERT INTO users(email, status) VALUES($1,$2)
		ON CONFLICT (email) DO UPDATE SET status=EXCLUDED.status`, email, status)
	if err != nil {
		return nil, err
	}
	return p.GetUser(email)
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: i != 0}
}
