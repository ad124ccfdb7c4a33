package handler // admin endpoints for the trip catalog and the seat ledger

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/booking"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/middleware"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/model"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/repository"
)

// AdminHandler serves the operator endpoints.
type AdminHandler struct {
	Trips   repository.TripCatalog
	Store   repository.Store
	Sweeper *booking.Sweeper
	Cache   SeatCacheInvalidator // optional
}

// NewAdminHandler constructs an AdminHandler and panics if a dependency
// is nil.
func NewAdminHandler(trips repository.TripCatalog, store repository.Store, sw *booking.Sweeper, cache SeatCacheInvalidator) *AdminHandler {
	if trips == nil || store == nil || sw == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Trips: trips, Store: store, Sweeper: sw, Cache: cache}
}

type createTripReq struct {
	BusID       uint64 `json:"bus_id"`
	BusName     string `json:"bus_name"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	StartsAt    string `json:"starts_at"`
	EndsAt      string `json:"ends_at"`
	TotalSeats  int    `json:"total_seats"`
	PriceCents  int64  `json:"price_cents"`
}

// CreateTrip handles POST /v1/admin/trips.  The trip is stored together
// with its seat ledger.
func (h *AdminHandler) CreateTrip(c echo.Context) error {
	var body createTripReq
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	origin := strings.TrimSpace(body.Origin)
	dest := strings.TrimSpace(body.Destination)
	if origin == "" || dest == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "origin and destination are required"})
	}
	if body.TotalSeats <= 0 || body.TotalSeats > model.MaxTripSeats {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "total_seats must be between 1 and 200"})
	}
	if body.PriceCents < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "price_cents must not be negative"})
	}
	startsAt, err := time.Parse(time.RFC3339, strings.TrimSpace(body.StartsAt))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid starts_at format"})
	}
	trip := &model.Trip{
		BusID:       body.BusID,
		BusName:     strings.TrimSpace(body.BusName),
		Origin:      origin,
		Destination: dest,
		StartsAt:    startsAt.UTC(),
		TotalSeats:  body.TotalSeats,
		PriceCents:  body.PriceCents,
		Status:      model.TripActive,
		CreatedBy:   middleware.RequesterRef(c),
	}
	if s := strings.TrimSpace(body.EndsAt); s != "" {
		endsAt, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid ends_at format"})
		}
		if !endsAt.After(startsAt) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "ends_at must be after starts_at"})
		}
		endsAt = endsAt.UTC()
		trip.EndsAt = &endsAt
	}
	created, err := h.Trips.CreateTrip(c.Request().Context(), trip)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"trip": toTripResp(trip), "seats_created": created})
}

// InitSeats handles POST /v1/admin/trips/:id/seats.  Seats that already
// exist are left untouched, so calling it twice is harmless.
func (h *AdminHandler) InitSeats(c echo.Context) error {
	tripID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid trip id"})
	}
	ctx := c.Request().Context()
	trip, err := h.Trips.GetTrip(ctx, tripID)
	if err != nil {
		return writeError(c, err)
	}
	created, err := h.Store.InitializeSeats(ctx, tripID, trip.TotalSeats)
	if err != nil {
		return writeError(c, err)
	}
	if created > 0 && h.Cache != nil {
		h.Cache.Invalidate(ctx, tripID)
	}
	return c.JSON(http.StatusOK, echo.Map{"trip_id": tripID, "total_seats": trip.TotalSeats, "seats_created": created})
}

// Sweep handles POST /v1/admin/sweeps and runs one expiry pass now.
func (h *AdminHandler) Sweep(c echo.Context) error {
	res, err := h.Sweeper.Sweep(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
