// Package memstore is an in-memory implementation of the seat ledger,
// the booking table and the trip catalog.  Transactions are serialized
// by a store-wide lock and rolled back through an undo log, which gives
// the same isolation the MySQL store gets from SERIALIZABLE plus row
// locks.  It backs the test suite and STORE_DRIVER=memory.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/model"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/repository"
)

// Store holds all state in maps guarded by mu.  mu is held for the whole
// duration of a transaction and for every read.
type Store struct {
	mu       sync.Mutex
	trips    map[uint64]*model.Trip
	seats    map[uint64]map[int]*model.Seat
	bookings map[string]*model.Booking
	lastTrip uint64
}

var (
	_ repository.Store       = (*Store)(nil)
	_ repository.TripCatalog = (*Store)(nil)
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		trips:    make(map[uint64]*model.Trip),
		seats:    make(map[uint64]map[int]*model.Seat),
		bookings: make(map[string]*model.Booking),
	}
}

// WithTx runs fn with exclusive access to the store.  If fn fails every
// change it made is undone in reverse order.
func (s *Store) WithTx(ctx context.Context, fn repository.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// InitializeSeats implements repository.Store.
func (s *Store) InitializeSeats(ctx context.Context, tripID uint64, count int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initSeats(tripID, count)
}

func (s *Store) initSeats(tripID uint64, count int) (int, error) {
	if _, ok := s.trips[tripID]; !ok {
		return 0, repository.ErrTripNotFound
	}
	if count > model.MaxTripSeats {
		return 0, fmt.Errorf("seat count %d exceeds %d", count, model.MaxTripSeats)
	}
	ledger := s.seats[tripID]
	if ledger == nil {
		ledger = make(map[int]*model.Seat, count)
		s.seats[tripID] = ledger
	}
	created := 0
	for n := 1; n <= count; n++ {
		if _, ok := ledger[n]; ok {
			continue
		}
		ledger[n] = &model.Seat{TripID: tripID, Number: n, Status: model.SeatAvailable}
		created++
	}
	return created, nil
}

// ListSeats implements repository.Store.
func (s *Store) ListSeats(ctx context.Context, tripID uint64) ([]model.Seat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger := s.seats[tripID]
	out := make([]model.Seat, 0, len(ledger))
	for _, seat := range ledger {
		out = append(out, *seat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// GetBooking implements repository.Store.
func (s *Store) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	return b.Clone(), nil
}

// ListBookingsByRequester implements repository.Store.
func (s *Store) ListBookingsByRequester(ctx context.Context, requesterRef string) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Booking{}
	for _, b := range s.bookings {
		if b.RequesterRef == requesterRef {
			out = append(out, *b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListExpiredPending implements repository.Store.
func (s *Store) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*model.Booking
	for _, b := range s.bookings {
		if b.Status == model.BookingPending && b.HoldExpired(now) {
			due = append(due, b)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ExpiryTime.Equal(due[j].ExpiryTime) {
			return due[i].ExpiryTime.Before(due[j].ExpiryTime)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, 0, len(due))
	for _, b := range due {
		ids = append(ids, b.ID)
	}
	return ids, nil
}

// CreateTrip implements repository.TripCatalog.
func (s *Store) CreateTrip(ctx context.Context, t *model.Trip) (int, error) {
	if t.TotalSeats <= 0 || t.TotalSeats > model.MaxTripSeats {
		return 0, fmt.Errorf("total seats must be between 1 and %d", model.MaxTripSeats)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTrip++
	t.ID = s.lastTrip
	if t.Status == "" {
		t.Status = model.TripActive
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	stored := *t
	s.trips[t.ID] = &stored
	return s.initSeats(t.ID, t.TotalSeats)
}

// AddTrip stores t without creating any seats.  It mirrors a catalog
// row whose ledger has not been initialised yet.
func (s *Store) AddTrip(t model.Trip) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTrip++
	t.ID = s.lastTrip
	if t.Status == "" {
		t.Status = model.TripActive
	}
	s.trips[t.ID] = &t
	return t.ID
}

// GetTrip implements repository.TripCatalog.
func (s *Store) GetTrip(ctx context.Context, id uint64) (*model.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok {
		return nil, repository.ErrTripNotFound
	}
	c := *t
	return &c, nil
}

// ListTrips implements repository.TripCatalog.
func (s *Store) ListTrips(ctx context.Context) ([]model.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Trip{}
	for _, t := range s.trips {
		if t.Status == model.TripActive {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// memTx is only used while Store.mu is held.
type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) LoadSeatsForUpdate(ctx context.Context, tripID uint64, seatNumbers []int) ([]model.Seat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ledger := t.s.seats[tripID]
	out := make([]model.Seat, 0, len(seatNumbers))
	for _, n := range seatNumbers {
		if seat, ok := ledger[n]; ok {
			out = append(out, *seat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (t *memTx) SetSeatStatus(ctx context.Context, tripID uint64, seatNumbers []int, status model.SeatStatus, bookingID string) error {
	if err := model.CheckOwnership(status, bookingID); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrInvalidSeatState, err)
	}
	ledger := t.s.seats[tripID]
	for _, n := range seatNumbers {
		if _, ok := ledger[n]; !ok {
			return fmt.Errorf("seat %d of trip %d does not exist", n, tripID)
		}
	}
	for _, n := range seatNumbers {
		seat := ledger[n]
		prev := *seat
		t.undo = append(t.undo, func() { *seat = prev })
		seat.Status = status
		seat.BookingID = bookingID
	}
	return nil
}

func (t *memTx) CreateBooking(ctx context.Context, b *model.Booking) error {
	if _, ok := t.s.bookings[b.ID]; ok {
		return fmt.Errorf("booking %s already exists", b.ID)
	}
	if _, ok := t.s.trips[b.TripID]; !ok {
		return repository.ErrTripNotFound
	}
	t.s.bookings[b.ID] = b.Clone()
	id := b.ID
	t.undo = append(t.undo, func() { delete(t.s.bookings, id) })
	return nil
}

func (t *memTx) GetBookingForUpdate(ctx context.Context, id string) (*model.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, ok := t.s.bookings[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	return b.Clone(), nil
}

func (t *memTx) UpdateBookingStatus(ctx context.Context, id string, status model.BookingStatus, expiredAt *time.Time) error {
	b, ok := t.s.bookings[id]
	if !ok {
		return repository.ErrBookingNotFound
	}
	prev := b.Clone()
	t.undo = append(t.undo, func() { t.s.bookings[id] = prev })
	b.Status = status
	if expiredAt != nil {
		e := *expiredAt
		b.ExpiredAt = &e
	}
	return nil
}
