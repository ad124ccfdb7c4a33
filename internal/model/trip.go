package model

import "time"

// TripStatus is the catalog state of a trip.
type TripStatus string

const (
	TripActive    TripStatus = "ACTIVE"
	TripCompleted TripStatus = "COMPLETED"
	TripCancelled TripStatus = "CANCELLED"
)

// MaxTripSeats bounds the seat count of a single trip.
const MaxTripSeats = 200

// Trip is a scheduled run of a bus between two cities.  Its seat ledger
// is keyed by ID.
//
// Fields:
//
//	ID          – trips.id
//	BusID       – trips.bus_id
//	BusName     – trips.bus_name
//	Origin      – trips.origin
//	Destination – trips.destination
//	StartsAt    – trips.starts_at
//	EndsAt      – trips.ends_at (nullable)
//	TotalSeats  – trips.total_seats
//	PriceCents  – trips.price_cents, price of a single seat
//	Status      – trips.status
//	CreatedBy   – trips.created_by, requester ref of the admin
type Trip struct {
	ID          uint64
	BusID       uint64
	BusName     string
	Origin      string
	Destination string
	StartsAt    time.Time
	EndsAt      *time.Time
	TotalSeats  int
	PriceCents  int64
	Status      TripStatus
	CreatedBy   string
	CreatedAt   time.Time
}
