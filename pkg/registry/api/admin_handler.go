package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/skillhub/registry/pkg/registry"
)

// AdminHandler serves moderation and operator endpoints. Role checks
// live in the service; the handler only requires an authenticated
// principal.
type AdminHandler struct {
	service registry.Service
}

// NewAdminHandler creates an admin handler
func NewAdminHandler(service registry.Service) *AdminHandler {
	return &AdminHandler{service: service}
}

// Routes returns the admin routes
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(Require)

	r.Post("/items/{id}/hide", h.HideItem)
	r.Post("/items/{id}/restore", h.RestoreItem)
	r.Post("/items/{id}/remove", h.RemoveItem)
	r.Delete("/items/{id}", h.HardDeleteItem)
	r.Post("/versions/{id}/scan", h.RecordScanVerdict)
	r.Get("/leaderboards/{kind}", h.GetLeaderboard)

	return r
}

// ModerationRequestBody carries the optional reason for a moderation action
type ModerationRequestBody struct {
	Reason string `json:"reason,omitempty"`
}

func itemID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// HideItem hides an item from public listings
func (h *AdminHandler) HideItem(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, h.service.HideItem)
}

// RemoveItem removes an item permanently from public visibility
func (h *AdminHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, h.service.RemoveItem)
}

func (h *AdminHandler) moderate(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id uuid.UUID, reason string, p registry.Principal) error) {
	principal, _ := PrincipalFrom(r.Context())
	id, err := itemID(r)
	if err != nil {
		http.Error(w, "invalid item id", http.StatusBadRequest)
		return
	}

	var body ModerationRequestBody
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	if err := fn(r.Context(), id, body.Reason, principal); err != nil {
		renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// RestoreItem restores a hidden item to public visibility
func (h *AdminHandler) RestoreItem(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	id, err := itemID(r)
	if err != nil {
		http.Error(w, "invalid item id", http.StatusBadRequest)
		return
	}
	if err := h.service.RestoreItem(r.Context(), id, principal); err != nil {
		renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// HardDeleteItem permanently deletes an item and all dependent rows
func (h *AdminHandler) HardDeleteItem(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	id, err := itemID(r)
	if err != nil {
		http.Error(w, "invalid item id", http.StatusBadRequest)
		return
	}
	if err := h.service.HardDeleteItem(r.Context(), id, principal); err != nil {
		renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// ScanVerdictRequestBody is the request body for recording a scan verdict
type ScanVerdictRequestBody struct {
	Status  registry.ScanStatus `json:"status"`
	Verdict string              `json:"verdict,omitempty"`
}

// RecordScanVerdict records an external scanner's verdict for a version
func (h *AdminHandler) RecordScanVerdict(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	if !principal.IsStaff() {
		renderError(w, r, registry.ErrForbidden)
		return
	}

	versionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid version id", http.StatusBadRequest)
		return
	}

	var body ScanVerdictRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.RecordScanVerdict(r.Context(), versionID, body.Status, body.Verdict, time.Now().UTC()); err != nil {
		renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// GetLeaderboard returns the most recent leaderboard snapshot
func (h *AdminHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := h.service.GetLeaderboard(r.Context(), chi.URLParam(r, "kind"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, lb)
}
