package booking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/model"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/queue"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/repository"
)

// EventPublisher receives booking events after the transition committed.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.BookingEvent) error
}

// ExpiryStatus is the advisory countdown of a booking.  It is derived on
// read and never changes the booking.
type ExpiryStatus struct {
	Status           model.BookingStatus `json:"status"`
	WillExpire       bool                `json:"will_expire"`
	ExpiryTime       *time.Time          `json:"expiry_time,omitempty"`
	SecondsRemaining *int64              `json:"seconds_remaining,omitempty"`
	HasExpired       bool                `json:"has_expired"`
	Message          string              `json:"message,omitempty"`
}

// Manager drives the PENDING -> CONFIRMED | FAILED state machine.
type Manager struct {
	*Engine
	events EventPublisher
	log    *log.Helper
}

// NewManager returns a Manager around engine.  A nil publisher drops events.
func NewManager(engine *Engine, events EventPublisher, logger log.Logger) *Manager {
	if events == nil {
		events = queue.Discard{}
	}
	return &Manager{
		Engine: engine,
		events: events,
		log:    moduleLogger(logger, "booking/manager"),
	}
}

// CreateBooking reserves seats for a new PENDING booking.
func (m *Manager) CreateBooking(ctx context.Context, req ReserveRequest) (*ReserveResult, error) {
	var res *ReserveResult
	err := m.retry(ctx, "reserve", func() error {
		var err error
		res, err = m.Reserve(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, b := range res.Reclaimed {
		m.publish(ctx, queue.EventExpired, b)
	}
	m.publish(ctx, queue.EventReserved, &model.Booking{
		ID:              res.BookingID,
		RequesterRef:    req.RequesterRef,
		TripID:          res.TripID,
		Seats:           res.Seats,
		Status:          res.Status,
		TotalPriceCents: res.TotalPriceCents,
	})
	return res, nil
}

// Confirm turns a live PENDING booking into CONFIRMED and its seats into
// BOOKED.  It fails with ErrNotFound, ErrInvalidTransition when the
// booking is no longer PENDING, or ErrExpired once the hold has lapsed.
func (m *Manager) Confirm(ctx context.Context, id string) (*model.Booking, error) {
	var out *model.Booking
	err := m.retry(ctx, "confirm", func() error {
		now := m.clock.Now()
		return m.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			b, err := lockPending(ctx, tx, id)
			if err != nil {
				return err
			}
			if b.HoldExpired(now) {
				return fmt.Errorf("booking %s expired at %s: %w", id, b.ExpiryTime.Format(time.RFC3339), ErrExpired)
			}
			if err := tx.UpdateBookingStatus(ctx, id, model.BookingConfirmed, nil); err != nil {
				return err
			}
			owned, err := ownedSeats(ctx, tx, b)
			if err != nil {
				return err
			}
			if err := tx.SetSeatStatus(ctx, b.TripID, owned, model.SeatBooked, b.ID); err != nil {
				return err
			}
			b.Status = model.BookingConfirmed
			out = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	m.log.Infof("booking %s confirmed, seats %v on trip %d booked", out.ID, out.Seats, out.TripID)
	m.publish(ctx, queue.EventConfirmed, out)
	return out, nil
}

// Cancel fails a PENDING booking and releases its seats.  Unlike
// Confirm it is allowed after the hold lapsed.
func (m *Manager) Cancel(ctx context.Context, id string) (*model.Booking, error) {
	var out *model.Booking
	err := m.retry(ctx, "cancel", func() error {
		now := m.clock.Now()
		return m.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			b, err := lockPending(ctx, tx, id)
			if err != nil {
				return err
			}
			if _, err := releaseBooking(ctx, tx, b, now); err != nil {
				return err
			}
			b.Status = model.BookingFailed
			b.ExpiredAt = &now
			out = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	m.log.Infof("booking %s cancelled, seats %v on trip %d released", out.ID, out.Seats, out.TripID)
	m.publish(ctx, queue.EventCancelled, out)
	return out, nil
}

// ExpiryStatus reports the countdown of a booking from a snapshot read.
func (m *Manager) ExpiryStatus(ctx context.Context, id string) (*ExpiryStatus, error) {
	b, err := m.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != model.BookingPending {
		return &ExpiryStatus{
			Status:  b.Status,
			Message: fmt.Sprintf("booking is %s", b.Status),
		}, nil
	}
	expiry := b.ExpiryTime
	remaining := expiry.Sub(m.clock.Now())
	secs := int64(math.Ceil(remaining.Seconds()))
	if secs < 0 {
		secs = 0
	}
	return &ExpiryStatus{
		Status:           b.Status,
		WillExpire:       true,
		ExpiryTime:       &expiry,
		SecondsRemaining: &secs,
		HasExpired:       remaining <= 0,
	}, nil
}

// GetBooking reads a booking without locking it.
func (m *Manager) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	b, err := m.store.GetBooking(ctx, id)
	if errors.Is(err, repository.ErrBookingNotFound) {
		return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return b, err
}

// ListBookings returns a requester's bookings, newest first.
func (m *Manager) ListBookings(ctx context.Context, requesterRef string) ([]model.Booking, error) {
	return m.store.ListBookingsByRequester(ctx, requesterRef)
}

// Availability summarizes the seat ledger of a trip.  A trip whose ledger
// was never initialised gets its seats created first.
func (m *Manager) Availability(ctx context.Context, tripID uint64) (*model.SeatSummary, error) {
	trip, err := m.trips.GetTrip(ctx, tripID)
	if err != nil {
		if errors.Is(err, repository.ErrTripNotFound) {
			return nil, fmt.Errorf("trip %d: %w", tripID, ErrNotFound)
		}
		return nil, err
	}
	seats, err := m.store.ListSeats(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if len(seats) == 0 && trip.TotalSeats > 0 {
		created, err := m.store.InitializeSeats(ctx, tripID, trip.TotalSeats)
		if err != nil {
			return nil, fmt.Errorf("initialize seats of trip %d: %w", tripID, err)
		}
		m.log.Infof("initialized %d seats for trip %d", created, tripID)
		if seats, err = m.store.ListSeats(ctx, tripID); err != nil {
			return nil, err
		}
	}
	sum := model.Summarize(tripID, trip.TotalSeats, seats)
	return &sum, nil
}

// lockPending locks booking id and checks that it is still PENDING.
func lockPending(ctx context.Context, tx repository.Tx, id string) (*model.Booking, error) {
	b, err := tx.GetBookingForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	if !b.Status.CanTransition(model.BookingConfirmed) {
		return nil, fmt.Errorf("booking %s is %s: %w", id, b.Status, ErrInvalidTransition)
	}
	return b, nil
}

// retry runs fn and repeats it once, after the policy backoff, when the
// store aborted the transaction.  Seat conflicts are never retried.
func (m *Manager) retry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if !errors.Is(err, ErrStoreConflict) {
		return err
	}
	m.log.Warnf("%s aborted by the store, retrying once: %v", op, err)
	t := time.NewTimer(m.policy.ConflictBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return fn()
}

func (m *Manager) publish(ctx context.Context, typ queue.EventType, b *model.Booking) {
	publishEvent(ctx, m.events, m.log, typ, b, m.clock.Now())
}

func publishEvent(ctx context.Context, events EventPublisher, h *log.Helper, typ queue.EventType, b *model.Booking, now time.Time) {
	ev := queue.BookingEvent{
		Type:            typ,
		BookingID:       b.ID,
		RequesterRef:    b.RequesterRef,
		TripID:          b.TripID,
		Seats:           b.Seats,
		TotalPriceCents: b.TotalPriceCents,
		Status:          string(b.Status),
		OccurredAt:      now,
	}
	if err := events.Publish(ctx, ev); err != nil {
		h.Warnf("publish %s for booking %s failed: %v", typ, b.ID, err)
	}
}
