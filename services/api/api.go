// Package api assembles the operator HTTP API.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ramiqadoumi/engageflow/services/api/handler"
	"github.com/ramiqadoumi/engageflow/services/api/middleware"
)

const maxBody = 1 << 20

// NewRouter wires h behind request logging, JWT authentication and the
// per-owner rate limiter. Health endpoints are unauthenticated.
func NewRouter(h *handler.REST, jwtSecret []byte, limiter middleware.Limiter, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MaxBodySize(maxBody))

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(jwtSecret, logger))
		r.Use(middleware.RateLimit(limiter, logger))
		h.Routes(r)
	})
	return r
}
