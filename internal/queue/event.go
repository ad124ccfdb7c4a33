// Package queue defines the booking event payloads exchanged over
// RabbitMQ together with their publisher and the booking log consumer.
package queue

import "time"

// EventType names a booking lifecycle transition.
type EventType string

const (
	EventReserved  EventType = "booking.reserved"
	EventConfirmed EventType = "booking.confirmed"
	EventCancelled EventType = "booking.cancelled"
	EventExpired   EventType = "booking.expired"
)

// EventsQueue is the durable queue every booking event is routed to.
const EventsQueue = "booking.events"

// BookingEvent is published after a booking transition has committed.
// It carries enough for downstream consumers to log or notify without
// querying the store.
type BookingEvent struct {
	Type            EventType `json:"type"`
	BookingID       string    `json:"booking_id"`
	RequesterRef    string    `json:"requester_ref"`
	TripID          uint64    `json:"trip_id"`
	Seats           []int     `json:"seats"`
	TotalPriceCents int64     `json:"total_price_cents"`
	Status          string    `json:"status"`
	OccurredAt      time.Time `json:"occurred_at"`
}
