package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/skillhub/registry/pkg/registry"
)

// Server wires the HTTP surface of the registry.
type Server struct {
	service     registry.Service
	auth        *Auth
	environment string
}

// NewServer creates an HTTP server for the registry service
func NewServer(service registry.Service, auth *Auth, environment string) *Server {
	return &Server{service: service, auth: auth, environment: environment}
}

// Routes builds the router
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	logger := httplog.NewLogger("registry", httplog.Options{
		JSON:     s.environment == "production",
		LogLevel: slog.LevelInfo,
		Concise:  true,
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.auth.Verifier)
	r.Use(s.auth.Principal)

	r.Get("/health", s.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/skills", NewItemsHandler(s.service, registry.ItemKindSkill).Routes())
		r.Mount("/personas", NewItemsHandler(s.service, registry.ItemKindPersona).Routes())
		r.Mount("/search", NewSearchHandler(s.service).Routes())
		r.Mount("/uploads", NewUploadsHandler(s.service).Routes())
		r.Mount("/me", NewMeHandler(s.service).Routes())
		r.Mount("/admin", NewAdminHandler(s.service).Routes())
	})

	return r
}

// Health reports liveness
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}
