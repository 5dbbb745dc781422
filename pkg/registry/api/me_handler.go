package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/skillhub/registry/pkg/registry"
)

// MeHandler serves the authenticated user's own views.
type MeHandler struct {
	service registry.Service
}

// NewMeHandler creates a me handler
func NewMeHandler(service registry.Service) *MeHandler {
	return &MeHandler{service: service}
}

// Routes returns the routes for the authenticated user
func (h *MeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(Require)
	r.Get("/starred", h.Starred)
	return r
}

// Starred lists the caller's starred items across kinds
func (h *MeHandler) Starred(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	items, err := h.service.ListStarredItems(r.Context(), principal.UserID)
	if err != nil {
		renderError(w, r, err)
		return
	}
	if items == nil {
		items = []registry.ItemSummary{}
	}
	render.JSON(w, r, items)
}
