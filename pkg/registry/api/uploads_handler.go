package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/skillhub/registry/pkg/registry"
)

// UploadsHandler stages file uploads. The client PUTs bytes to the
// presigned URL and then references the returned storage key in its
// publish manifest.
type UploadsHandler struct {
	service registry.Service
}

// NewUploadsHandler creates an uploads handler
func NewUploadsHandler(service registry.Service) *UploadsHandler {
	return &UploadsHandler{service: service}
}

// Routes returns the upload routes
func (h *UploadsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(Require)
	r.Post("/presign", h.Presign)
	return r
}

// PresignRequestBody is the request body for staging an upload
type PresignRequestBody struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type,omitempty"`
}

// PresignResponse carries the upload URL and the storage key to publish with
type PresignResponse struct {
	StorageKey string `json:"storage_key"`
	UploadURL  string `json:"upload_url"`
}

// Presign returns a presigned upload URL for one file
func (h *UploadsHandler) Presign(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	var body PresignRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	path := strings.TrimLeft(body.Path, "/")
	if path == "" || strings.Contains(path, "..") {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	// Keys are namespaced per uploader and randomized so a client can
	// never overwrite another upload's staged bytes.
	key := fmt.Sprintf("staging/%s/%s/%s", principal.UserID, uuid.New(), path)
	url, err := h.service.PresignUpload(r.Context(), key, body.ContentType)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, PresignResponse{StorageKey: key, UploadURL: url})
}
