// Package booking is the seat reservation core: it claims seats for a
// PENDING booking, confirms or cancels bookings, and sweeps expired holds.
// All coordination between concurrent callers happens inside store
// transactions; the package keeps no shared mutable state of its own.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/clock"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/config"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/model"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/repository"
)

// TripLookup resolves the trip a reservation is made on.
type TripLookup interface {
	GetTrip(ctx context.Context, id uint64) (*model.Trip, error)
}

// ReserveRequest asks for a set of seats on one trip.
type ReserveRequest struct {
	RequesterRef string
	TripID       uint64
	Seats        []int
}

// ReserveResult describes the PENDING booking created by Reserve.
type ReserveResult struct {
	BookingID       string              `json:"booking_id"`
	Status          model.BookingStatus `json:"status"`
	TripID          uint64              `json:"trip_id"`
	Seats           []int               `json:"seats"`
	TotalPriceCents int64               `json:"total_price_cents"`
	ExpiryTime      time.Time           `json:"expiry_time"`

	// Reclaimed lists expired bookings failed to free the requested seats.
	Reclaimed []*model.Booking `json:"-"`
}

// Engine atomically claims seats for new bookings.
type Engine struct {
	store  repository.Store
	trips  TripLookup
	clock  clock.Clock
	policy config.Policy
	newID  func() string
	log    *log.Helper
}

// NewEngine wires an Engine.  A nil clock means the wall clock.
func NewEngine(store repository.Store, trips TripLookup, clk clock.Clock, policy config.Policy, logger log.Logger) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	return &Engine{
		store:  store,
		trips:  trips,
		clock:  clk,
		policy: policy,
		newID:  uuid.NewString,
		log:    moduleLogger(logger, "booking/engine"),
	}
}

// Reserve validates req and, in a single transaction, claims every
// requested seat for a new PENDING booking.  Either all seats end up
// RESERVED by the new booking or nothing changes.
//
// A seat still held by a PENDING booking whose hold has run out is
// reclaimed in the same transaction: that booking is failed and all of
// its seats are released before the new claim is made.
func (e *Engine) Reserve(ctx context.Context, req ReserveRequest) (*ReserveResult, error) {
	trip, err := e.trips.GetTrip(ctx, req.TripID)
	if err != nil {
		if errors.Is(err, repository.ErrTripNotFound) {
			return nil, fmt.Errorf("trip %d: %w", req.TripID, ErrNotFound)
		}
		return nil, err
	}
	seats, err := normalizeSeats(req.Seats, trip.TotalSeats, e.policy.MaxSeats)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	b := &model.Booking{
		ID:              e.newID(),
		RequesterRef:    req.RequesterRef,
		TripID:          trip.ID,
		Seats:           seats,
		Status:          model.BookingPending,
		TotalPriceCents: trip.PriceCents * int64(len(seats)),
		CreatedAt:       now,
		ExpiryTime:      now.Add(e.policy.HoldDuration),
	}

	var reclaimed []*model.Booking
	err = e.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		reclaimed = nil
		rows, err := tx.LoadSeatsForUpdate(ctx, trip.ID, seats)
		if err != nil {
			return err
		}
		if missing := missingSeats(seats, rows); len(missing) > 0 {
			return seatError(ErrInvalidSeats, missing)
		}

		var booked []int
		heldBy := map[string][]int{}
		for _, s := range rows {
			switch s.Status {
			case model.SeatBooked:
				booked = append(booked, s.Number)
			case model.SeatReserved:
				heldBy[s.BookingID] = append(heldBy[s.BookingID], s.Number)
			}
		}
		if len(booked) > 0 {
			return seatError(ErrSeatsAlreadyBooked, booked)
		}

		held, freed, err := e.reclaimExpired(ctx, tx, heldBy, now)
		if err != nil {
			return err
		}
		reclaimed = freed
		if len(held) > 0 {
			return seatError(ErrSeatsTemporarilyReserved, held)
		}

		if err := tx.CreateBooking(ctx, b); err != nil {
			return fmt.Errorf("create booking: %w", err)
		}
		return tx.SetSeatStatus(ctx, trip.ID, seats, model.SeatReserved, b.ID)
	})
	if err != nil {
		return nil, err
	}

	e.log.Debugf("booking %s reserved seats %v on trip %d until %s", b.ID, seats, trip.ID, b.ExpiryTime.Format(time.RFC3339))
	return &ReserveResult{
		BookingID:       b.ID,
		Status:          b.Status,
		TripID:          b.TripID,
		Seats:           b.Seats,
		TotalPriceCents: b.TotalPriceCents,
		ExpiryTime:      b.ExpiryTime,
		Reclaimed:       reclaimed,
	}, nil
}

// reclaimExpired expires owners whose hold has lapsed and returns the
// requested seats that remain held by a live booking, sorted ascending,
// together with the bookings it expired.  Owners are locked in id order.
func (e *Engine) reclaimExpired(ctx context.Context, tx repository.Tx, heldBy map[string][]int, now time.Time) ([]int, []*model.Booking, error) {
	owners := make([]string, 0, len(heldBy))
	for id := range heldBy {
		owners = append(owners, id)
	}
	sort.Strings(owners)

	var (
		held  []int
		freed []*model.Booking
	)
	for _, id := range owners {
		owner, err := tx.GetBookingForUpdate(ctx, id)
		if err != nil && !errors.Is(err, repository.ErrBookingNotFound) {
			return nil, nil, err
		}
		if owner != nil && owner.Status == model.BookingPending && owner.HoldExpired(now) {
			if _, err := releaseBooking(ctx, tx, owner, now); err != nil {
				return nil, nil, fmt.Errorf("reclaim booking %s: %w", owner.ID, err)
			}
			owner.Status = model.BookingFailed
			owner.ExpiredAt = &now
			freed = append(freed, owner)
			e.log.Infof("reclaimed expired booking %s on trip %d", owner.ID, owner.TripID)
			continue
		}
		held = append(held, heldBy[id]...)
	}
	sort.Ints(held)
	return held, freed, nil
}

// releaseBooking fails b and returns the seats it still owned to
// AVAILABLE.  b must already be locked by tx.
func releaseBooking(ctx context.Context, tx repository.Tx, b *model.Booking, now time.Time) ([]int, error) {
	if err := tx.UpdateBookingStatus(ctx, b.ID, model.BookingFailed, &now); err != nil {
		return nil, err
	}
	owned, err := ownedSeats(ctx, tx, b)
	if err != nil {
		return nil, err
	}
	if err := tx.SetSeatStatus(ctx, b.TripID, owned, model.SeatAvailable, ""); err != nil {
		return nil, err
	}
	return owned, nil
}

// ownedSeats locks b's seats and returns those still owned by b.
func ownedSeats(ctx context.Context, tx repository.Tx, b *model.Booking) ([]int, error) {
	rows, err := tx.LoadSeatsForUpdate(ctx, b.TripID, b.Seats)
	if err != nil {
		return nil, err
	}
	owned := make([]int, 0, len(rows))
	for _, s := range rows {
		if s.BookingID == b.ID {
			owned = append(owned, s.Number)
		}
	}
	return owned, nil
}

// moduleLogger tags logger with the module name.  A nil logger falls
// back to the kratos default logger.
func moduleLogger(logger log.Logger, module string) *log.Helper {
	if logger == nil {
		logger = log.DefaultLogger
	}
	return log.NewHelper(log.With(logger, "module", module))
}

// normalizeSeats validates a requested seat list and returns it sorted.
func normalizeSeats(seats []int, total, maxSeats int) ([]int, error) {
	if len(seats) == 0 {
		return nil, fmt.Errorf("%w: no seats requested", ErrInvalidSeats)
	}
	if maxSeats > 0 && len(seats) > maxSeats {
		return nil, fmt.Errorf("%w: %d seats requested, at most %d per booking", ErrInvalidSeats, len(seats), maxSeats)
	}
	seen := make(map[int]bool, len(seats))
	var bad []int
	for _, n := range seats {
		if n < 1 || n > total || seen[n] {
			bad = append(bad, n)
		}
		seen[n] = true
	}
	if len(bad) > 0 {
		sort.Ints(bad)
		return nil, seatError(ErrInvalidSeats, bad)
	}
	out := append([]int(nil), seats...)
	sort.Ints(out)
	return out, nil
}

func missingSeats(want []int, rows []model.Seat) []int {
	have := make(map[int]bool, len(rows))
	for _, s := range rows {
		have[s.Number] = true
	}
	var missing []int
	for _, n := range want {
		if !have[n] {
			missing = append(missing, n)
		}
	}
	return missing
}
