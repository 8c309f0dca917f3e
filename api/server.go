/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the reception frontend

ROUTE GROUPS:
  /api/safe/*       Safe workflows and balance queries
  /api/bookings/*   Booking management
  /api/rooms/*      Room booking grid (bed lanes)

SECURITY NOTE:
  No authentication middleware currently. Reception staff access the
  service over the hotel's internal network only.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Safe routes
		r.Route("/safe", func(r chi.Router) {
			r.Post("/deposits", h.Deposit)
			r.Post("/withdrawals", h.Withdraw)
			r.Post("/petty-withdrawals", h.PettyWithdraw)
			r.Post("/bank-deposits", h.BankDeposit)
			r.Post("/bank-withdrawals", h.BankWithdraw)
			r.Post("/exchanges", h.Exchange)
			r.Post("/openings", h.Open)
			r.Post("/resets", h.Reset)
			r.Post("/reconciliations", h.Reconcile)
			r.Post("/keycard-returns", h.KeycardReturn)

			r.Get("/balance", h.GetBalance)
			r.Get("/timeline", h.GetTimeline)
			r.Get("/events", h.GetEvents)
			r.Get("/counters", h.GetCounters)
		})

		// Booking routes
		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", h.ListBookings)
			r.Post("/", h.CreateBooking)
		})

		// Room grid routes
		r.Route("/rooms", func(r chi.Router) {
			r.Get("/{id}/lanes", h.GetRoomLanes)
		})
	})

	return r
}
