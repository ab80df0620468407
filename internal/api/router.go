package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter mounts the API under /api. A non-empty jwtSecret puts the thread
// and chat routes behind bearer authentication.
func NewRouter(apiHandler *APIHandler, jwtSecret string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)

		r.Group(func(r chi.Router) {
			if jwtSecret != "" {
				r.Use(apiHandler.JWTAuthMiddleware(jwtSecret))
			}

			r.Post("/threads", apiHandler.CreateThreadHandler)
			r.Get("/threads", apiHandler.GetThreadsHandler)
			r.Delete("/threads", apiHandler.DeleteThreadHandler)

			r.Post("/chat", apiHandler.ChatHandler)
		})
	})

	return r
}
