package model

import (
	"fmt"
	"time"
)

// BookingStatus is the lifecycle state of a booking.
//
//	PENDING --confirm--> CONFIRMED
//	PENDING --expire/cancel--> FAILED
//
// CONFIRMED and FAILED are terminal.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingFailed    BookingStatus = "FAILED"
)

// Valid reports whether s is one of the known booking states.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s BookingStatus) Terminal() bool {
	return s == BookingConfirmed || s == BookingFailed
}

// CanTransition reports whether moving from s to next is permitted.
func (s BookingStatus) CanTransition(next BookingStatus) bool {
	return s == BookingPending && (next == BookingConfirmed || next == BookingFailed)
}

// ParseBookingStatus converts a stored status column into a BookingStatus.
func ParseBookingStatus(raw string) (BookingStatus, error) {
	s := BookingStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown booking status %q", raw)
	}
	return s, nil
}

// Booking groups the seats claimed by one requester on one trip.  The
// seat list is sorted ascending and never changes after creation.
//
// Fields:
//
//	ID              – bookings.id (UUID)
//	RequesterRef    – bookings.requester_ref, opaque identity of the caller
//	TripID          – bookings.trip_id
//	Seats           – bookings.seat_numbers (JSON array)
//	Status          – bookings.status
//	TotalPriceCents – bookings.total_price_cents
//	CreatedAt       – bookings.created_at
//	ExpiryTime      – bookings.expiry_time, CreatedAt + hold duration
//	ExpiredAt       – bookings.expired_at (nullable), set when released
type Booking struct {
	ID              string
	RequesterRef    string
	TripID          uint64
	Seats           []int
	Status          BookingStatus
	TotalPriceCents int64
	CreatedAt       time.Time
	ExpiryTime      time.Time
	ExpiredAt       *time.Time
}

// HoldExpired reports whether the hold window of b has closed at now.
// The boundary instant counts as expired.
func (b *Booking) HoldExpired(now time.Time) bool {
	return !now.Before(b.ExpiryTime)
}

// Clone returns a deep copy of b.
func (b *Booking) Clone() *Booking {
	c := *b
	c.Seats = append([]int(nil), b.Seats...)
	if b.ExpiredAt != nil {
		t := *b.ExpiredAt
		c.ExpiredAt = &t
	}
	return &c
}
