package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/skillhub/registry/pkg/registry"
)

// SearchHandler serves hybrid discovery search
type SearchHandler struct {
	service registry.Service
}

// NewSearchHandler creates a search handler
func NewSearchHandler(service registry.Service) *SearchHandler {
	return &SearchHandler{service: service}
}

// Routes returns the search routes
func (h *SearchHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Search)
	return r
}

// SearchResponse is the response body for a search
type SearchResponse struct {
	Results []registry.ItemSummary `json:"results"`
}

// Search runs a hybrid semantic+lexical query
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}

	kind := registry.ItemKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = registry.ItemKindSkill
	}

	results, err := h.service.Search(r.Context(), registry.SearchRequest{
		Kind:  kind,
		Query: query,
		Limit: queryInt(r, "limit"),
	})
	if err != nil {
		renderError(w, r, err)
		return
	}
	if results == nil {
		results = []registry.ItemSummary{}
	}
	render.JSON(w, r, SearchResponse{Results: results})
}
