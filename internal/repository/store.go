package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/model"
)

// Tx is the set of ledger and booking operations that must run inside a
// single transaction.  Every mutation of a seat or booking goes through
// a Tx; rows are only mutated after they were locked by the same Tx.
type Tx interface {
	// LoadSeatsForUpdate loads the named seats of a trip and locks them
	// until the transaction ends.  Seats are returned in ascending
	// seat-number order; numbers with no ledger row are omitted.
	LoadSeatsForUpdate(ctx context.Context, tripID uint64, seatNumbers []int) ([]model.Seat, error)
	// SetSeatStatus bulk-updates seats previously locked by this Tx.
	// bookingID must be empty exactly when status is AVAILABLE.
	SetSeatStatus(ctx context.Context, tripID uint64, seatNumbers []int, status model.SeatStatus, bookingID string) error
	// CreateBooking inserts a new booking row.
	CreateBooking(ctx context.Context, b *model.Booking) error
	// GetBookingForUpdate loads and locks a booking row.  It returns
	// ErrBookingNotFound when the row does not exist.
	GetBookingForUpdate(ctx context.Context, id string) (*model.Booking, error)
	// UpdateBookingStatus sets the status (and optionally expired_at)
	// of a booking locked by this Tx.
	UpdateBookingStatus(ctx context.Context, id string, status model.BookingStatus, expiredAt *time.Time) error
}

// TxFunc is the body of a transaction.  Returning an error rolls the
// transaction back.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the durable, transactional home of the seat ledger and of
// bookings.  It is the only coordination point between concurrent
// requests and the expiry sweeper.
type Store interface {
	// WithTx runs fn inside one serializable transaction and commits
	// when fn returns nil.  Store-level aborts are reported as
	// ErrStoreConflict.
	WithTx(ctx context.Context, fn TxFunc) error
	// InitializeSeats creates seats 1..count as AVAILABLE, skipping
	// numbers that already exist.  It returns how many rows were created.
	InitializeSeats(ctx context.Context, tripID uint64, count int) (int, error)
	// ListSeats returns all ledger rows of a trip ordered by seat number.
	ListSeats(ctx context.Context, tripID uint64) ([]model.Seat, error)
	// GetBooking reads a booking without locking it.
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	// ListBookingsByRequester returns a requester's bookings, newest first.
	ListBookingsByRequester(ctx context.Context, requesterRef string) ([]model.Booking, error)
	// ListExpiredPending returns ids of PENDING bookings whose expiry
	// time is at or before now, oldest expiry first.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// MySQL error numbers that abort a transaction but leave it safe to retry.
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// SQLStore implements Store on MySQL.  Transactions are started at
// serializable isolation and rows are locked with SELECT ... FOR UPDATE.
type SQLStore struct {
	db       *sql.DB
	Seats    *SeatRepo
	Bookings *BookingRepo
}

// NewSQLStore returns a SQLStore bound to the given database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{
		db:       db,
		Seats:    NewSeatRepo(db),
		Bookings: NewBookingRepo(db),
	}
}

// DB exposes the underlying sql.DB.
func (s *SQLStore) DB() *sql.DB { return s.db }

// WithTx implements Store.
func (s *SQLStore) WithTx(ctx context.Context, fn TxFunc) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(ctx, &sqlTx{tx: tx, seats: s.Seats, bookings: s.Bookings}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit transaction: %w", err))
	}
	committed = true
	return nil
}

// InitializeSeats implements Store.
func (s *SQLStore) InitializeSeats(ctx context.Context, tripID uint64, count int) (int, error) {
	return s.Seats.InitializeSeats(ctx, s.db, tripID, count)
}

// ListSeats implements Store.
func (s *SQLStore) ListSeats(ctx context.Context, tripID uint64) ([]model.Seat, error) {
	return s.Seats.ListByTrip(ctx, tripID)
}

// GetBooking implements Store.
func (s *SQLStore) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return s.Bookings.GetByID(ctx, id)
}

// ListBookingsByRequester implements Store.
func (s *SQLStore) ListBookingsByRequester(ctx context.Context, requesterRef string) ([]model.Booking, error) {
	return s.Bookings.ListByRequester(ctx, requesterRef)
}

// ListExpiredPending implements Store.
func (s *SQLStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return s.Bookings.ListExpiredPending(ctx, now, limit)
}

// sqlTx binds the repositories to one *sql.Tx.
type sqlTx struct {
	tx       *sql.Tx
	seats    *SeatRepo
	bookings *BookingRepo
}

func (t *sqlTx) LoadSeatsForUpdate(ctx context.Context, tripID uint64, seatNumbers []int) ([]model.Seat, error) {
	return t.seats.LoadForUpdateTx(ctx, t.tx, tripID, seatNumbers)
}

func (t *sqlTx) SetSeatStatus(ctx context.Context, tripID uint64, seatNumbers []int, status model.SeatStatus, bookingID string) error {
	return t.seats.SetStatusTx(ctx, t.tx, tripID, seatNumbers, status, bookingID)
}

func (t *sqlTx) CreateBooking(ctx context.Context, b *model.Booking) error {
	return t.bookings.CreateTx(ctx, t.tx, b)
}

func (t *sqlTx) GetBookingForUpdate(ctx context.Context, id string) (*model.Booking, error) {
	return t.bookings.GetForUpdateTx(ctx, t.tx, id)
}

func (t *sqlTx) UpdateBookingStatus(ctx context.Context, id string, status model.BookingStatus, expiredAt *time.Time) error {
	return t.bookings.UpdateStatusTx(ctx, t.tx, id, status, expiredAt)
}

// classify turns MySQL deadlock and lock-wait aborts into
// ErrStoreConflict while keeping the original error in the chain.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrStoreConflict) {
		return err
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return fmt.Errorf("%w: %w", ErrStoreConflict, err)
		}
	}
	return err
}
