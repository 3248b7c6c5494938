// Package api exposes the pantry over HTTP as JSON.
package api

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/erazemk/shramba/internal/auth"
	"github.com/erazemk/shramba/internal/events"
	"github.com/erazemk/shramba/internal/inventory"
)

// Deps are the collaborators the API needs.
type Deps struct {
	DB        *sql.DB
	JWTSecret string
	Bus       *auth.Bus
	Registry  *inventory.Registry
	Hub       *events.Hub

	// AllowedOrigins lists extra origin host patterns for the change feed.
	AllowedOrigins []string
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	authHandler := &AuthHandler{DB: d.DB, JWTSecret: d.JWTSecret, Bus: d.Bus}
	inventoryHandler := &InventoryHandler{Registry: d.Registry}

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", authHandler.Signup)
		r.Post("/auth/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.JWTSecret, d.DB))

			r.Post("/auth/logout", authHandler.Logout)
			r.Put("/auth/password", authHandler.ChangePassword)

			r.Route("/inventory", func(r chi.Router) {
				r.Get("/", inventoryHandler.View)
				r.Post("/reload", inventoryHandler.Reload)
				r.Get("/summary", inventoryHandler.Summary)
				r.Put("/search", inventoryHandler.Search)
				r.Put("/filter", inventoryHandler.Filter)
				r.Put("/sort", inventoryHandler.Sort)
				r.Post("/items", inventoryHandler.AddItem)
				r.Delete("/items", inventoryHandler.DeleteAll)
				r.Patch("/items/{id}", inventoryHandler.UpdateItem)
				r.Delete("/items/{id}", inventoryHandler.DeleteItem)
				r.Post("/import", inventoryHandler.Import)
				r.Post("/identify", inventoryHandler.Identify)
			})
		})

		r.With(StreamAuthMiddleware(d.JWTSecret, d.DB)).
			Get("/events", events.Handler(d.Hub, userID, d.AllowedOrigins))
	})

	return r
}
