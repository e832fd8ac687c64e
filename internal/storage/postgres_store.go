package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-engine/internal/models"
)

// PostgresStore persists rides in a rides table. Update runs as a
// transaction with SELECT ... FOR UPDATE so a concurrent transition against
// the same ride blocks until the first writer commits, then re-validates
// against the committed row.
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

const rideColumns = `id, rider_id, driver_id, vehicle, status,
	pickup_lat, pickup_lon, pickup_address,
	dest_lat, dest_lon, dest_address,
	required_seats, fare_cents, tip_cents, driver_share_cents, company_share_cents,
	pending_split, fare_charge_id, tip_charge_id, scheduled_at,
	requested_at, assigned_at, accepted_at, arrived_at, started_at, completed_at, cancelled_at,
	duration_seconds`

func (p *PostgresStore) Create(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(`+rideColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)`,
		r.ID, r.RiderID, nullStr(r.DriverID), nullStr(r.Vehicle), string(r.Status),
		r.Pickup.Lat, r.Pickup.Lon, r.Pickup.Address,
		r.Destination.Lat, r.Destination.Lon, r.Destination.Address,
		r.RequiredSeats, r.FareCents, r.TipCents, r.DriverShareCents, r.CompanyShareCents,
		r.PendingSplit, nullStr(r.FareChargeID), nullStr(r.TipChargeID), r.ScheduledAt,
		r.RequestedAt, r.AssignedAt, r.AcceptedAt, r.ArrivedAt, r.StartedAt, r.CompletedAt, r.CancelledAt,
		int64(r.Duration.Seconds()))
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id)
	return scanRide(row, id)
}

func (p *PostgresStore) Update(ctx context.Context, id string, mutate func(r *models.Ride) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1 FOR UPDATE`, id)
	r, err := scanRide(row, id)
	if err != nil {
		return err
	}
	if err := mutate(r); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE rides SET
		driver_id=$1, vehicle=$2, status=$3,
		tip_cents=$4, driver_share_cents=$5, company_share_cents=$6,
		pending_split=$7, fare_charge_id=$8, tip_charge_id=$9,
		assigned_at=$10, accepted_at=$11, arrived_at=$12, started_at=$13,
		completed_at=$14, cancelled_at=$15, duration_seconds=$16
		WHERE id=$17`,
		nullStr(r.DriverID), nullStr(r.Vehicle), string(r.Status),
		r.TipCents, r.DriverShareCents, r.CompanyShareCents,
		r.PendingSplit, nullStr(r.FareChargeID), nullStr(r.TipChargeID),
		r.AssignedAt, r.AcceptedAt, r.ArrivedAt, r.StartedAt,
		r.CompletedAt, r.CancelledAt, int64(r.Duration.Seconds()), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM rides WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &models.NotFoundError{Kind: "ride", ID: id}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner, id string) (*models.Ride, error) {
	var r models.Ride
	var driverID, vehicle, fareChargeID, tipChargeID sql.NullString
	var status string
	var durationSec int64
	err := row.Scan(
		&r.ID, &r.RiderID, &driverID, &vehicle, &status,
		&r.Pickup.Lat, &r.Pickup.Lon, &r.Pickup.Address,
		&r.Destination.Lat, &r.Destination.Lon, &r.Destination.Address,
		&r.RequiredSeats, &r.FareCents, &r.TipCents, &r.DriverShareCents, &r.CompanyShareCents,
		&r.PendingSplit, &fareChargeID, &tipChargeID, &r.ScheduledAt,
		&r.RequestedAt, &r.AssignedAt, &r.AcceptedAt, &r.ArrivedAt, &r.StartedAt, &r.CompletedAt, &r.CancelledAt,
		&durationSec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Kind: "ride", ID: id}
	}
	if err != nil {
		return nil, err
	}
	r.DriverID = driverID.String
	r.Vehicle = vehicle.String
	r.FareChargeID = fareChargeID.String
	r.TipChargeID = tipChargeID.String
	r.Status = models.RideStatus(status)
	r.Duration = secondsToDuration(durationSec)
	return &r, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func secondsToDuration(s int64) time.Duration { return time.Duration(s) * time.Second }
