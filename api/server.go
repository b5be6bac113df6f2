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
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/periods/*      Billing period lifecycle, generation, export
  /api/charges/*      Manual charge mutations
  /api/exports        Export history
  /api/staff/*        Staff directory and self-service charge views
  /api/assignments    Room assignment source records
  /api/trips          Trip source records

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Billing period routes
		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.ListPeriods)
			r.Post("/", h.CreatePeriod)
			r.Get("/{id}", h.GetPeriod)
			r.Post("/{id}/cancel", h.CancelPeriod)
			r.Post("/{id}/generate", h.TriggerGeneration)
			r.Get("/{id}/charges", h.ListPeriodCharges)
			r.Get("/{id}/export", h.PreviewExport)
			r.Post("/{id}/export", h.CommitExport)
			r.Get("/{id}/export.csv", h.DownloadExportCSV)
		})

		// Charge routes
		r.Route("/charges", func(r chi.Router) {
			r.Post("/", h.CreateCharge)
			r.Put("/{id}", h.UpdateCharge)
			r.Delete("/{id}", h.DeleteCharge)
		})

		// Export history
		r.Get("/exports", h.ListExports)

		// Staff routes
		r.Route("/staff", func(r chi.Router) {
			r.Get("/", h.ListStaff)
			r.Post("/", h.SaveStaff)
			r.Get("/{id}/charges", h.ListStaffCharges)
		})

		// Source record ingestion
		r.Post("/assignments", h.SaveAssignment)
		r.Post("/trips", h.SaveTrip)
	})

	return r
}
