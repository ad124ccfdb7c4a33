package handler // handler defines http handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/booking"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/repository"
)

// writeError maps booking and repository errors onto HTTP responses.
// Seat level rejections list the offending seats under "unavailable".
func writeError(c echo.Context, err error) error {
	body := echo.Map{"error": err.Error()}
	if seats := booking.UnavailableSeats(err); len(seats) > 0 {
		body["unavailable"] = seats
	}
	switch {
	case errors.Is(err, booking.ErrInvalidSeats):
		return c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, booking.ErrNotFound),
		errors.Is(err, repository.ErrTripNotFound),
		errors.Is(err, repository.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, body)
	case errors.Is(err, booking.ErrSeatsAlreadyBooked),
		errors.Is(err, booking.ErrSeatsTemporarilyReserved),
		errors.Is(err, booking.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, body)
	case errors.Is(err, booking.ErrExpired):
		return c.JSON(http.StatusGone, body)
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, booking.ErrStoreConflict):
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "temporary conflict, retry"})
	}
	c.Logger().Errorf("unhandled error: %v", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// parseID reads a positive numeric path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
