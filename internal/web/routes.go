package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/lookalike/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	maxUpload := s.config.Web.MaxUploadSize

	lookalikesHandler := handlers.NewLookalikesHandler(s.service, maxUpload, s.logger)
	profilesHandler := handlers.NewProfilesHandler(s.service, maxUpload, s.logger)
	indexHandler := handlers.NewIndexHandler(s.logger)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// Search
		r.Post("/lookalikes", lookalikesHandler.Search)

		// Profiles
		r.Post("/profiles", profilesHandler.Register)
		r.Get("/profiles/count", profilesHandler.Count)
		r.Get("/profiles/{id}", profilesHandler.Get)
		r.Put("/profiles/{id}", profilesHandler.Update)
		r.Delete("/profiles/{id}", profilesHandler.Delete)
		r.Post("/profiles/{id}/enroll", profilesHandler.Enroll)
		r.Put("/profiles/{id}/photo", profilesHandler.UpdatePhoto)

		// Index maintenance
		r.Post("/index/rebuild", indexHandler.Rebuild)
	})
}
