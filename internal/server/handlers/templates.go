package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/3leaps/adfanout/pkg/template"
)

// TemplateHandler serves template CRUD.
type TemplateHandler struct {
	store  template.Store
	logger *zap.Logger
}

// NewTemplateHandler creates a handler over store.
func NewTemplateHandler(store template.Store, logger *zap.Logger) *TemplateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateHandler{store: store, logger: logger}
}

// List handles GET /api/v1/templates.
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.List()
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(items))
}

// Get handles GET /api/v1/templates/{id}.
func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.Get(pathID(r))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Create handles POST /api/v1/templates.
func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in template.Template
	if err := decodeJSON(w, r, &in); err != nil {
		respondWithError(w, r, err)
		return
	}
	created, err := h.store.Create(&in)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	h.logger.Info("Template created",
		zap.String("template_id", created.ID),
		zap.String("name", created.Name))
	w.Header().Set("Location", "/api/v1/templates/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

// Update handles PUT /api/v1/templates/{id}. The path id wins over any id
// in the body.
func (h *TemplateHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in template.Template
	if err := decodeJSON(w, r, &in); err != nil {
		respondWithError(w, r, err)
		return
	}
	in.ID = pathID(r)
	updated, err := h.store.Update(&in)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	h.logger.Info("Template updated", zap.String("template_id", updated.ID))
	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/v1/templates/{id}.
func (h *TemplateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := h.store.Delete(id); err != nil {
		respondWithError(w, r, err)
		return
	}
	h.logger.Info("Template deleted", zap.String("template_id", id))
	w.WriteHeader(http.StatusNoContent)
}
