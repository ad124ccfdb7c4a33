package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/model"
)

// BookingRepo provides persistence for bookings.  The claimed seat
// numbers are stored as a JSON array in bookings.seat_numbers; the
// authoritative seat state lives in the seat ledger.  All timestamps
// are stored in UTC with millisecond precision.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, requester_ref, trip_id, seat_numbers, status, total_price_cents, created_at, expiry_time, expired_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// CreateTx inserts a new booking within the scope of an existing
// transaction.  The ID is generated by the caller.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	seats, err := json.Marshal(b.Seats)
	if err != nil {
		return fmt.Errorf("encode seat numbers: %w", err)
	}
	const q = `INSERT INTO bookings (id, requester_ref, trip_id, seat_numbers, status, total_price_cents, created_at, expiry_time)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		b.ID, b.RequesterRef, b.TripID, string(seats), string(b.Status),
		b.TotalPriceCents, b.CreatedAt, b.ExpiryTime,
	)
	return err
}

// GetForUpdateTx loads a booking and locks its row until tx ends.
func (r *BookingRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ? FOR UPDATE`
	b, err := scanBooking(tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	return b, err
}

// UpdateStatusTx sets the status of a booking locked by tx.  expiredAt
// is only written when non-nil.
func (r *BookingRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, status model.BookingStatus, expiredAt *time.Time) error {
	var (
		res sql.Result
		err error
	)
	if expiredAt != nil {
		res, err = tx.ExecContext(ctx, `UPDATE bookings SET status = ?, expired_at = ? WHERE id = ?`, string(status), *expiredAt, id)
	} else {
		res, err = tx.ExecContext(ctx, `UPDATE bookings SET status = ? WHERE id = ?`, string(status), id)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBookingNotFound
	}
	return nil
}

// GetByID reads a booking without taking any lock.
func (r *BookingRepo) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	return b, err
}

// ListByRequester returns all bookings made by requesterRef, newest first.
func (r *BookingRepo) ListByRequester(ctx context.Context, requesterRef string) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE requester_ref = ? ORDER BY created_at DESC, id`
	rows, err := r.db.QueryContext(ctx, q, requesterRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListExpiredPending returns the ids of PENDING bookings whose hold
// window closed at or before now.  It reads without locking; callers
// must re-check each booking under lock before acting on it.
func (r *BookingRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]string, error) {
	const q = `SELECT id FROM bookings
	           WHERE status = ? AND expiry_time <= ?
	           ORDER BY expiry_time, id
	           LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, string(model.BookingPending), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func scanBooking(s rowScanner) (*model.Booking, error) {
	var (
		b         model.Booking
		seats     []byte
		status    string
		expiredAt sql.NullTime
	)
	if err := s.Scan(
		&b.ID, &b.RequesterRef, &b.TripID, &seats, &status,
		&b.TotalPriceCents, &b.CreatedAt, &b.ExpiryTime, &expiredAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(seats, &b.Seats); err != nil {
		return nil, fmt.Errorf("decode seat numbers of booking %s: %w", b.ID, err)
	}
	st, err := model.ParseBookingStatus(status)
	if err != nil {
		return nil, err
	}
	b.Status = st
	b.CreatedAt = b.CreatedAt.UTC()
	b.ExpiryTime = b.ExpiryTime.UTC()
	if expiredAt.Valid {
		t := expiredAt.Time.UTC()
		b.ExpiredAt = &t
	}
	return &b, nil
}
