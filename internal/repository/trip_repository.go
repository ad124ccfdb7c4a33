// Package repository contains data access logic for trips. A Trip is a
// scheduled run of a bus; its seat ledger is created together with it.
package repository

import (
	"context"      // context for controlling query lifetime
	"database/sql" // sql provides DB abstraction
	"errors"
	"fmt"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/model"
)

// TripCatalog is the read/write surface of the trip catalog used by the
// booking core and the admin endpoints.
type TripCatalog interface {
	GetTrip(ctx context.Context, id uint64) (*model.Trip, error)
	// CreateTrip stores t, assigns its ID and initialises its seat
	// ledger.  It returns the number of seats created.
	CreateTrip(ctx context.Context, t *model.Trip) (int, error)
	ListTrips(ctx context.Context) ([]model.Trip, error)
}

// TripRepo manages persistence for trips.
type TripRepo struct {
	db    *sql.DB
	seats *SeatRepo
}

// NewTripRepo constructs a TripRepo with the given DB handle.
func NewTripRepo(db *sql.DB) *TripRepo {
	return &TripRepo{db: db, seats: NewSeatRepo(db)}
}

const tripColumns = `id, bus_id, bus_name, origin, destination, starts_at, ends_at, total_seats, price_cents, status, created_by, created_at`

// CreateTrip inserts the trip and its seats 1..TotalSeats in one
// transaction.  Either both exist afterwards or neither does.
func (r *TripRepo) CreateTrip(ctx context.Context, t *model.Trip) (int, error) {
	if t.TotalSeats <= 0 || t.TotalSeats > model.MaxTripSeats {
		return 0, fmt.Errorf("total seats must be between 1 and %d", model.MaxTripSeats)
	}
	if t.Status == "" {
		t.Status = model.TripActive
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	const q = `INSERT INTO trips (bus_id, bus_name, origin, destination, starts_at, ends_at, total_seats, price_cents, status, created_by)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var endsAt sql.NullTime
	if t.EndsAt != nil {
		endsAt = sql.NullTime{Time: *t.EndsAt, Valid: true}
	}
	res, err := tx.ExecContext(ctx, q,
		t.BusID, t.BusName, t.Origin, t.Destination, t.StartsAt, endsAt,
		t.TotalSeats, t.PriceCents, string(t.Status), t.CreatedBy,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = uint64(id)
	created, err := r.seats.InitializeSeats(ctx, tx, t.ID, t.TotalSeats)
	if err != nil {
		return 0, fmt.Errorf("initialize seats of trip %d: %w", t.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return created, nil
}

// GetTrip retrieves a trip by its ID.  It returns ErrTripNotFound if
// there is no matching row.
func (r *TripRepo) GetTrip(ctx context.Context, id uint64) (*model.Trip, error) {
	q := `SELECT ` + tripColumns + ` FROM trips WHERE id = ?`
	t, err := scanTrip(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTripNotFound
	}
	return t, err
}

// ListTrips returns ACTIVE trips ordered by departure time.
func (r *TripRepo) ListTrips(ctx context.Context) ([]model.Trip, error) {
	q := `SELECT ` + tripColumns + ` FROM trips WHERE status = ? ORDER BY starts_at, id`
	rows, err := r.db.QueryContext(ctx, q, string(model.TripActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []model.Trip{}
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanTrip(s rowScanner) (*model.Trip, error) {
	var (
		t      model.Trip
		endsAt sql.NullTime
		status string
	)
	if err := s.Scan(
		&t.ID, &t.BusID, &t.BusName, &t.Origin, &t.Destination, &t.StartsAt, &endsAt,
		&t.TotalSeats, &t.PriceCents, &status, &t.CreatedBy, &t.CreatedAt,
	); err != nil {
		return nil, err
	}
	t.Status = model.TripStatus(status)
	if endsAt.Valid {
		e := endsAt.Time.UTC()
		t.EndsAt = &e
	}
	t.StartsAt = t.StartsAt.UTC()
	return &t, nil
}
