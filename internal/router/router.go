package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/handler"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
// db may be nil when the service runs on the in-memory store.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health(db))
}

// RegisterPublic registers the guest browse endpoints.  Seat availability
// goes through the Redis seat cache when one is configured.
func RegisterPublic(e *echo.Echo, h *handler.BookingHandler, cache *middleware.SeatCache) {
	e.GET("/v1/trips", h.ListTrips)
	if cache != nil {
		e.GET("/v1/trips/:id/seats", h.TripSeats, cache.Middleware())
		return
	}
	e.GET("/v1/trips/:id/seats", h.TripSeats)
}

// RegisterAdmin registers ADMIN-scoped endpoints under /v1/admin.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleAdmin),
	)
	g.POST("/trips", h.CreateTrip)
	g.POST("/trips/:id/seats", h.InitSeats)
	g.POST("/sweeps", h.Sweep)
}
