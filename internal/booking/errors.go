package booking

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/repository"
)

// Error kinds returned by the booking core.  Callers match them with
// errors.Is; seat level rejections also carry the offending seats in a
// *SeatError.
var (
	ErrInvalidSeats             = errors.New("invalid seat numbers")
	ErrSeatsAlreadyBooked       = errors.New("seats already booked")
	ErrSeatsTemporarilyReserved = errors.New("seats temporarily reserved")
	ErrNotFound                 = errors.New("not found")
	ErrInvalidTransition        = errors.New("invalid booking state transition")
	ErrExpired                  = errors.New("booking hold expired")
	// ErrStoreConflict means the store aborted the transaction.  Nothing
	// was changed and the request may be retried.
	ErrStoreConflict = repository.ErrStoreConflict
)

// SeatError reports which seats caused a reservation to be rejected.
type SeatError struct {
	Kind  error
	Seats []int
}

func (e *SeatError) Error() string {
	nums := make([]string, len(e.Seats))
	for i, n := range e.Seats {
		nums[i] = strconv.Itoa(n)
	}
	return fmt.Sprintf("%v: %s", e.Kind, strings.Join(nums, ", "))
}

func (e *SeatError) Unwrap() error { return e.Kind }

func seatError(kind error, seats []int) error {
	return &SeatError{Kind: kind, Seats: append([]int(nil), seats...)}
}

// UnavailableSeats returns the seats named by a *SeatError in err's chain.
func UnavailableSeats(err error) []int {
	var se *SeatError
	if errors.As(err, &se) {
		return se.Seats
	}
	return nil
}
