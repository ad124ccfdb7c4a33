package router

import (
	"github.com/labstack/echo/v4"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/handler"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/middleware"
)

// RegisterCustomer registers the booking endpoints under /v1.  All routes
// require a valid JWT.  Admins may act on any booking, customers only on
// their own; the handler enforces ownership.  limiter throttles the calls
// that take seat locks and may be nil.
func RegisterCustomer(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, limiter *middleware.BookingLimiter) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleCustomer, middleware.RoleAdmin),
	)
	g.POST("/trips/:id/bookings", h.CreateBooking, limiter.For(middleware.OpCreate))
	g.POST("/bookings/:id/confirm", h.ConfirmBooking, limiter.For(middleware.OpConfirm))
	g.POST("/bookings/:id/cancel", h.CancelBooking, limiter.For(middleware.OpCancel))
	g.GET("/bookings/:id", h.GetBooking)
	g.GET("/bookings/:id/expiry", h.ExpiryStatus)
	g.GET("/my-bookings", h.ListMyBookings)
}
