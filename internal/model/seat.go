package model

import (
	"fmt"
	"math"
	"sort"
)

// SeatStatus is the ledger state of a single seat on a trip.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatReserved  SeatStatus = "RESERVED"
	SeatBooked    SeatStatus = "BOOKED"
)

// Valid reports whether s is one of the known seat states.
func (s SeatStatus) Valid() bool {
	switch s {
	case SeatAvailable, SeatReserved, SeatBooked:
		return true
	}
	return false
}

// ParseSeatStatus converts a stored status column into a SeatStatus.
func ParseSeatStatus(raw string) (SeatStatus, error) {
	s := SeatStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown seat status %q", raw)
	}
	return s, nil
}

// Seat is one row of the seat ledger.  Seats are identified by the
// trip they belong to and a flat 1-based seat number.
//
// Fields:
//
//	TripID     – seats.trip_id
//	Number     – seats.seat_number (1..trip total seats)
//	Status     – seats.status
//	BookingID  – seats.booking_id; empty iff Status is AVAILABLE
type Seat struct {
	TripID    uint64
	Number    int
	Status    SeatStatus
	BookingID string
}

// CheckOwnership validates the ledger invariant that a seat has an
// owning booking exactly when it is RESERVED or BOOKED.
func CheckOwnership(status SeatStatus, bookingID string) error {
	if !status.Valid() {
		return fmt.Errorf("unknown seat status %q", status)
	}
	if (status == SeatAvailable) != (bookingID == "") {
		return fmt.Errorf("seat status %s with booking %q", status, bookingID)
	}
	return nil
}

// SeatSummary partitions a trip's seats by status.
type SeatSummary struct {
	TripID              uint64 `json:"trip_id"`
	Total               int    `json:"total"`
	Available           []int  `json:"available"`
	Reserved            []int  `json:"reserved"`
	Booked              []int  `json:"booked"`
	OccupancyPercentage int    `json:"occupancy_percentage"`
}

// Summarize builds a SeatSummary from ledger rows.  total is the seat
// count of the trip; when it is zero the number of rows is used.
// Occupancy counts both held and booked seats and is rounded half away
// from zero.
func Summarize(tripID uint64, total int, seats []Seat) SeatSummary {
	sum := SeatSummary{
		TripID:    tripID,
		Total:     total,
		Available: []int{},
		Reserved:  []int{},
		Booked:    []int{},
	}
	if sum.Total <= 0 {
		sum.Total = len(seats)
	}
	for _, s := range seats {
		switch s.Status {
		case SeatAvailable:
			sum.Available = append(sum.Available, s.Number)
		case SeatReserved:
			sum.Reserved = append(sum.Reserved, s.Number)
		case SeatBooked:
			sum.Booked = append(sum.Booked, s.Number)
		}
	}
	sort.Ints(sum.Available)
	sort.Ints(sum.Reserved)
	sort.Ints(sum.Booked)
	if sum.Total > 0 {
		occupied := len(sum.Reserved) + len(sum.Booked)
		sum.OccupancyPercentage = int(math.Round(100 * float64(occupied) / float64(sum.Total)))
	}
	return sum
}
