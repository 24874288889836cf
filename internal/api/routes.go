package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/me", s.HandleGetCurrentUser)
		r.Post("/epc", s.HandleEPC)

		r.Route("/acs", func(r chi.Router) {
			r.Get("/", s.HandleListAcs)
			r.Get("/{acs}/cpes", s.HandleListCpes)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", s.HandleListEvents)
			r.Get("/ws", s.HandleEventStream)
		})
	})
}
