package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mostrop2p/mostro-push/internal/handler"
)

// NewRouter wires the registration API onto a Chi router.
func NewRouter(tokenHandler *handler.TokenHandler) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", tokenHandler.Health)
		r.Get("/status", tokenHandler.Status)
		r.Get("/info", tokenHandler.Info)
		r.Post("/register", tokenHandler.Register)
		r.Post("/unregister", tokenHandler.Unregister)
	})

	return r
}
