package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/skillhub/registry/pkg/registry"
)

// ItemsHandler serves one item kind. Skills and personas share a
// lifecycle, so the same handler is mounted once per kind.
type ItemsHandler struct {
	service registry.Service
	kind    registry.ItemKind
}

// NewItemsHandler creates an items handler for the given kind
func NewItemsHandler(service registry.Service, kind registry.ItemKind) *ItemsHandler {
	return &ItemsHandler{service: service, kind: kind}
}

// Routes returns the routes for one item kind
func (h *ItemsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.With(Require).Post("/", h.Publish)

	r.Get("/{slug}", h.Get)
	r.With(Require).Delete("/{slug}", h.SoftDelete)
	r.With(Require).Post("/{slug}/undelete", h.Undelete)

	r.Get("/{slug}/versions", h.ListVersions)
	r.Get("/{slug}/versions/{version}/files", h.VersionFiles)

	r.With(Require).Post("/{slug}/star", h.ToggleStar)
	r.With(Require).Get("/{slug}/star", h.Starred)

	r.Get("/{slug}/comments", h.ListComments)
	r.With(Require).Post("/{slug}/comments", h.AddComment)
	r.With(Require).Delete("/{slug}/comments/{commentID}", h.DeleteComment)

	r.With(Require).Post("/{slug}/report", h.Report)
	r.Post("/{slug}/download", h.Download)

	return r
}

// PublishRequestBody is the request body for publishing a version
type PublishRequestBody struct {
	Slug        string                 `json:"slug"`
	DisplayName string                 `json:"display_name"`
	Summary     string                 `json:"summary,omitempty"`
	Version     string                 `json:"version"`
	Changelog   string                 `json:"changelog,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Files       []registry.FileRef     `json:"files"`
	Parsed      map[string]interface{} `json:"parsed,omitempty"`
}

// PublishResponse is the response body for a successful publish
type PublishResponse struct {
	ItemID     uuid.UUID            `json:"item_id"`
	VersionID  uuid.UUID            `json:"version_id"`
	Version    string               `json:"version"`
	Created    bool                 `json:"created"`
	Collisions []registry.Collision `json:"collisions,omitempty"`
}

// Publish publishes a new version of an item
func (h *ItemsHandler) Publish(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	var body PublishRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.Publish(r.Context(), registry.PublishRequest{
		Kind:        h.kind,
		Slug:        body.Slug,
		DisplayName: body.DisplayName,
		Summary:     body.Summary,
		Version:     body.Version,
		Changelog:   body.Changelog,
		Tags:        body.Tags,
		Files:       body.Files,
		Parsed:      body.Parsed,
		Principal:   principal,
	})
	if err != nil {
		renderError(w, r, err)
		return
	}

	resp := PublishResponse{
		ItemID:    result.ItemID,
		VersionID: result.VersionID,
		Version:   result.Version,
		Created:   result.Created,
	}
	// Collision matches are informational; the publish already succeeded.
	collisions, err := h.service.FindCollisions(r.Context(),
		registry.Fingerprint(body.Files), result.ItemID)
	if err == nil {
		resp.Collisions = collisions
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

// List lists items of this kind
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	req := registry.ListItemsRequest{
		Kind:  h.kind,
		Sort:  registry.ItemSort(r.URL.Query().Get("sort")),
		Limit: queryInt(r, "limit"),
	}
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		req.Cursor = &cursor
	}
	if owner := r.URL.Query().Get("owner"); owner != "" {
		ownerID, err := uuid.Parse(owner)
		if err != nil {
			http.Error(w, "invalid owner id", http.StatusBadRequest)
			return
		}
		req.OwnerID = &ownerID
	}
	if p, ok := PrincipalFrom(r.Context()); ok {
		req.Principal = &p
	}

	page, err := h.service.ListItems(r.Context(), req)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, page)
}

// Get returns one item by slug
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	var principal *registry.Principal
	if p, ok := PrincipalFrom(r.Context()); ok {
		principal = &p
	}

	item, err := h.service.GetItem(r.Context(), h.kind, chi.URLParam(r, "slug"), principal)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, item)
}

// SoftDelete soft-deletes an item
func (h *ItemsHandler) SoftDelete(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	if err := h.service.SoftDeleteItem(r.Context(), h.kind, chi.URLParam(r, "slug"), principal); err != nil {
		renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// Undelete restores a soft-deleted item
func (h *ItemsHandler) Undelete(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	if err := h.service.UndeleteItem(r.Context(), h.kind, chi.URLParam(r, "slug"), principal); err != nil {
		renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// ListVersions lists versions of an item
func (h *ItemsHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.service.ListVersions(r.Context(), h.kind, chi.URLParam(r, "slug"), queryInt(r, "limit"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, versions)
}

// VersionFiles returns the file manifest of one version
func (h *ItemsHandler) VersionFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.service.GetVersionFiles(r.Context(), h.kind,
		chi.URLParam(r, "slug"), chi.URLParam(r, "version"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, files)
}

// StarResponse reports the star state after a toggle
type StarResponse struct {
	Starred bool `json:"starred"`
}

// ToggleStar toggles the caller's star on an item
func (h *ItemsHandler) ToggleStar(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	starred, err := h.service.ToggleStar(r.Context(), h.kind, chi.URLParam(r, "slug"), principal.UserID)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, StarResponse{Starred: starred})
}

// Starred reports whether the caller starred an item
func (h *ItemsHandler) Starred(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	starred, err := h.service.IsStarred(r.Context(), h.kind, chi.URLParam(r, "slug"), principal.UserID)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, StarResponse{Starred: starred})
}

// CommentRequestBody is the request body for adding a comment
type CommentRequestBody struct {
	Body string `json:"body"`
}

// AddComment adds a comment on an item
func (h *ItemsHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	var body CommentRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	comment, err := h.service.AddComment(r.Context(), h.kind, chi.URLParam(r, "slug"), principal.UserID, body.Body)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, comment)
}

// ListComments lists comments on an item
func (h *ItemsHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.service.ListComments(r.Context(), h.kind, chi.URLParam(r, "slug"), queryInt(r, "limit"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, comments)
}

// DeleteComment soft-deletes a comment
func (h *ItemsHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	commentID, err := uuid.Parse(chi.URLParam(r, "commentID"))
	if err != nil {
		http.Error(w, "invalid comment id", http.StatusBadRequest)
		return
	}
	if err := h.service.DeleteComment(r.Context(), commentID, principal); err != nil {
		renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// ReportRequestBody is the request body for reporting an item
type ReportRequestBody struct {
	Reason string `json:"reason,omitempty"`
}

// Report files a report against an item
func (h *ItemsHandler) Report(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	var body ReportRequestBody
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	if err := h.service.Report(r.Context(), h.kind, chi.URLParam(r, "slug"), principal.UserID, body.Reason); err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "reported"})
}

// Download returns presigned URLs for the latest version and records the
// download
func (h *ItemsHandler) Download(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RecordDownload(r.Context(), h.kind, chi.URLParam(r, "slug"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
