// Package repository defines error types that are reused across the
// seat ledger, booking and trip repositories. These sentinel values
// allow higher layers such as the booking engine and handlers to
// distinguish between different failure scenarios.
package repository

import "errors"

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrTripNotFound indicates that no trip exists with the given ID.
var ErrTripNotFound = errors.New("trip not found")

// ErrBookingNotFound indicates that no booking exists with the given ID.
var ErrBookingNotFound = errors.New("booking not found")

// ErrStoreConflict is returned when the store aborted a transaction
// because of a deadlock or a lock wait timeout. The whole
// transaction was rolled back and is safe to retry.
var ErrStoreConflict = errors.New("store conflict")

// ErrInvalidSeatState is returned when a seat update would break the
// rule that a seat has an owning booking exactly when it is held or
// booked.
var ErrInvalidSeatState = errors.New("invalid seat state")
