package repository // repository defines data access for the seat ledger

import (
	"context"      // context allows query cancellation and timeouts
	"database/sql" // sql provides DB primitives
	"fmt"
	"strings"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/model"
)

// execer is satisfied by both *sql.DB and *sql.Tx so that seat
// initialisation can run on its own or as part of trip creation.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SeatRepo provides methods to work with the per-trip seat ledger. A
// ledger row is keyed by (trip_id, seat_number); booking_id is NULL
// exactly when the seat is AVAILABLE.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

// InitializeSeats creates seats 1..count for a trip in a single
// statement. Existing rows are left untouched so the call is
// idempotent; the returned count only includes newly created rows.
func (r *SeatRepo) InitializeSeats(ctx context.Context, ex execer, tripID uint64, count int) (int, error) {
	if count <= 0 {
		return 0, nil
	}
	if count > model.MaxTripSeats {
		return 0, fmt.Errorf("seat count %d exceeds %d", count, model.MaxTripSeats)
	}
	query := `INSERT INTO seats (trip_id, seat_number, status) VALUES `
	args := make([]interface{}, 0, count*3)
	for n := 1; n <= count; n++ {
		if n > 1 {
			query += ","
		}
		query += "(?, ?, ?)"
		args = append(args, tripID, n, string(model.SeatAvailable))
	}
	// a no-op update reports zero affected rows for seats that already exist
	query += ` ON DUPLICATE KEY UPDATE seat_number = seat_number`
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ListByTrip returns every ledger row of a trip ordered by seat number.
func (r *SeatRepo) ListByTrip(ctx context.Context, tripID uint64) ([]model.Seat, error) {
	const q = `SELECT trip_id, seat_number, status, booking_id
	           FROM seats
	           WHERE trip_id = ?
	           ORDER BY seat_number`
	rows, err := r.db.QueryContext(ctx, q, tripID)
	if err != nil {
		return nil, err
	}
	return scanSeats(rows)
}

// LoadForUpdateTx locks the given seats of a trip inside tx. Rows are
// always locked in ascending seat order so that two transactions
// touching overlapping seat sets acquire locks in the same order.
// Seat numbers with no ledger row are simply absent from the result.
func (r *SeatRepo) LoadForUpdateTx(ctx context.Context, tx *sql.Tx, tripID uint64, seatNumbers []int) ([]model.Seat, error) {
	if len(seatNumbers) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(seatNumbers)+1)
	args = append(args, tripID)
	for _, n := range seatNumbers {
		args = append(args, n)
	}
	q := `SELECT trip_id, seat_number, status, booking_id
	      FROM seats
	      WHERE trip_id = ? AND seat_number IN (` + placeholders(len(seatNumbers)) + `)
	      ORDER BY seat_number
	      FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanSeats(rows)
}

// SetStatusTx moves the given seats to status with the given owner.
// An empty bookingID is stored as NULL.
func (r *SeatRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, tripID uint64, seatNumbers []int, status model.SeatStatus, bookingID string) error {
	if len(seatNumbers) == 0 {
		return nil
	}
	if err := model.CheckOwnership(status, bookingID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSeatState, err)
	}
	var owner sql.NullString
	if bookingID != "" {
		owner = sql.NullString{String: bookingID, Valid: true}
	}
	args := make([]interface{}, 0, len(seatNumbers)+3)
	args = append(args, string(status), owner, tripID)
	for _, n := range seatNumbers {
		args = append(args, n)
	}
	q := `UPDATE seats SET status = ?, booking_id = ?
	      WHERE trip_id = ? AND seat_number IN (` + placeholders(len(seatNumbers)) + `)`
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

func scanSeats(rows *sql.Rows) ([]model.Seat, error) {
	defer rows.Close()
	var result []model.Seat
	for rows.Next() {
		var (
			s      model.Seat
			status string
			owner  sql.NullString
		)
		if err := rows.Scan(&s.TripID, &s.Number, &status, &owner); err != nil {
			return nil, err
		}
		st, err := model.ParseSeatStatus(status)
		if err != nil {
			return nil, err
		}
		s.Status = st
		if owner.Valid {
			s.BookingID = owner.String
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
