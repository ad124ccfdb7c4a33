package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/booking"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/middleware"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/model"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/repository"
)

// SeatCacheInvalidator evicts cached availability of a trip.
type SeatCacheInvalidator interface {
	Invalidate(ctx context.Context, tripID uint64)
}

// BookingHandler exposes the booking lifecycle to customers and the seat
// availability of trips to everyone.
type BookingHandler struct {
	Manager *booking.Manager
	Trips   repository.TripCatalog
	Cache   SeatCacheInvalidator // optional
}

// NewBookingHandler constructs a BookingHandler and panics if a required
// dependency is nil.
func NewBookingHandler(m *booking.Manager, trips repository.TripCatalog, cache SeatCacheInvalidator) *BookingHandler {
	if m == nil || trips == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	return &BookingHandler{Manager: m, Trips: trips, Cache: cache}
}

type createBookingReq struct {
	Seats []int `json:"seats"`
}

// bookingResp is the public view of a booking.
type bookingResp struct {
	ID              string              `json:"booking_id"`
	TripID          uint64              `json:"trip_id"`
	Seats           []int               `json:"seats"`
	Status          model.BookingStatus `json:"status"`
	TotalPriceCents int64               `json:"total_price_cents"`
	CreatedAt       time.Time           `json:"created_at"`
	ExpiryTime      time.Time           `json:"expiry_time"`
	ExpiredAt       *time.Time          `json:"expired_at,omitempty"`
}

func toBookingResp(b *model.Booking) bookingResp {
	return bookingResp{
		ID:              b.ID,
		TripID:          b.TripID,
		Seats:           b.Seats,
		Status:          b.Status,
		TotalPriceCents: b.TotalPriceCents,
		CreatedAt:       b.CreatedAt,
		ExpiryTime:      b.ExpiryTime,
		ExpiredAt:       b.ExpiredAt,
	}
}

// CreateBooking handles POST /v1/trips/:id/bookings.
func (h *BookingHandler) CreateBooking(c echo.Context) error {
	tripID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid trip id"})
	}
	var req createBookingReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx := c.Request().Context()
	res, err := h.Manager.CreateBooking(ctx, booking.ReserveRequest{
		RequesterRef: middleware.RequesterRef(c),
		TripID:       tripID,
		Seats:        req.Seats,
	})
	if err != nil {
		return writeError(c, err)
	}
	h.invalidate(ctx, tripID)
	return c.JSON(http.StatusCreated, res)
}

// ConfirmBooking handles POST /v1/bookings/:id/confirm.  It stands in for
// the payment callback.
func (h *BookingHandler) ConfirmBooking(c echo.Context) error {
	id := c.Param("id")
	if err := h.authorize(c, id); err != nil {
		return writeError(c, err)
	}
	ctx := c.Request().Context()
	b, err := h.Manager.Confirm(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	h.invalidate(ctx, b.TripID)
	return c.JSON(http.StatusOK, echo.Map{"booking_id": b.ID, "status": b.Status})
}

// CancelBooking handles POST /v1/bookings/:id/cancel.
func (h *BookingHandler) CancelBooking(c echo.Context) error {
	id := c.Param("id")
	if err := h.authorize(c, id); err != nil {
		return writeError(c, err)
	}
	ctx := c.Request().Context()
	b, err := h.Manager.Cancel(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	h.invalidate(ctx, b.TripID)
	return c.JSON(http.StatusOK, echo.Map{"booking_id": b.ID, "status": b.Status})
}

// GetBooking handles GET /v1/bookings/:id.
func (h *BookingHandler) GetBooking(c echo.Context) error {
	b, err := h.Manager.GetBooking(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	if !canSee(c, b) {
		return writeError(c, repository.ErrForbidden)
	}
	return c.JSON(http.StatusOK, toBookingResp(b))
}

// ExpiryStatus handles GET /v1/bookings/:id/expiry.
func (h *BookingHandler) ExpiryStatus(c echo.Context) error {
	id := c.Param("id")
	if err := h.authorize(c, id); err != nil {
		return writeError(c, err)
	}
	st, err := h.Manager.ExpiryStatus(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// ListMyBookings handles GET /v1/my-bookings.
func (h *BookingHandler) ListMyBookings(c echo.Context) error {
	list, err := h.Manager.ListBookings(c.Request().Context(), middleware.RequesterRef(c))
	if err != nil {
		return writeError(c, err)
	}
	out := make([]bookingResp, 0, len(list))
	for i := range list {
		out = append(out, toBookingResp(&list[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// TripSeats handles GET /v1/trips/:id/seats.
func (h *BookingHandler) TripSeats(c echo.Context) error {
	tripID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid trip id"})
	}
	sum, err := h.Manager.Availability(c.Request().Context(), tripID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

// tripResp is the public view of a trip.
type tripResp struct {
	ID          uint64     `json:"id"`
	BusID       uint64     `json:"bus_id"`
	BusName     string     `json:"bus_name"`
	Origin      string     `json:"origin"`
	Destination string     `json:"destination"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	TotalSeats  int        `json:"total_seats"`
	PriceCents  int64      `json:"price_cents"`
	Status      string     `json:"status"`
}

func toTripResp(t *model.Trip) tripResp {
	return tripResp{
		ID:          t.ID,
		BusID:       t.BusID,
		BusName:     t.BusName,
		Origin:      t.Origin,
		Destination: t.Destination,
		StartsAt:    t.StartsAt,
		EndsAt:      t.EndsAt,
		TotalSeats:  t.TotalSeats,
		PriceCents:  t.PriceCents,
		Status:      string(t.Status),
	}
}

// ListTrips handles GET /v1/trips.
func (h *BookingHandler) ListTrips(c echo.Context) error {
	trips, err := h.Trips.ListTrips(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	out := make([]tripResp, 0, len(trips))
	for i := range trips {
		out = append(out, toTripResp(&trips[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// authorize checks that the caller may act on booking id.
func (h *BookingHandler) authorize(c echo.Context, id string) error {
	b, err := h.Manager.GetBooking(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !canSee(c, b) {
		return repository.ErrForbidden
	}
	return nil
}

func canSee(c echo.Context, b *model.Booking) bool {
	return middleware.IsAdmin(c) || b.RequesterRef == middleware.RequesterRef(c)
}

func (h *BookingHandler) invalidate(ctx context.Context, tripID uint64) {
	if h.Cache != nil {
		h.Cache.Invalidate(context.WithoutCancel(ctx), tripID)
	}
}
