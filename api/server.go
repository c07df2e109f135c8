/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/awards             Score a completed unit of work
  /api/events/{id}        Reverse all awards for a deleted event
  /api/admin/reset        Zero every aggregate (audited admin action)
  /api/leaderboard        Aggregate display (read-only)
  /api/entries            Ledger audit display (read-only)

SECURITY NOTE:
  Authentication and role resolution live in front of this service.
  The admin reset handler trusts the admin identity in the request
  body; deployments must gate /api/admin behind their auth layer.

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
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Award fan-out for a completed unit of work
		r.Post("/awards", h.CreateAward)

		// Reversal when the triggering event is deleted
		r.Delete("/events/{eventID}", h.ReverseEvent)

		// Admin operations
		r.Route("/admin", func(r chi.Router) {
			r.Post("/reset", h.ResetScores)
		})

		// Display callers (read-only)
		r.Get("/leaderboard", h.GetLeaderboard)
		r.Get("/entries", h.ListEntries)
	})

	return r
}
