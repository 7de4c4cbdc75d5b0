package handler

import (
	"net/http"

	"pdf-region-tagger/internal/domain"
	"pdf-region-tagger/internal/service"

	"github.com/gorilla/mux"
)

// TaxonomyHandler serves the taxonomy lists and their bulk edits.
type TaxonomyHandler struct {
	taxonomy *service.TaxonomyService
	logger   domain.Logger
}

// NewTaxonomyHandler creates a new taxonomy handler
func NewTaxonomyHandler(taxonomy *service.TaxonomyService, logger domain.Logger) *TaxonomyHandler {
	return &TaxonomyHandler{taxonomy: taxonomy, logger: logger}
}

func parentFilter(r *http.Request) domain.ParentFilter {
	q := r.URL.Query()
	return domain.ParentFilter{
		ClassID:   q.Get("class_id"),
		SubjectID: q.Get("subject_id"),
		ChapterID: q.Get("chapter_id"),
		ConceptID: q.Get("concept_id"),
	}
}

func (h *TaxonomyHandler) kind(w http.ResponseWriter, r *http.Request) (domain.TaxonomyKind, bool) {
	kind, ok := domain.ParseTaxonomyKind(mux.Vars(r)["kind"])
	if !ok {
		writeAppError(w, h.logger, domain.ErrUnknownKind)
		return "", false
	}
	return kind, true
}

// GetAll handles GET /taxonomy.
func (h *TaxonomyHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	data, sources := h.taxonomy.All(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":    data,
		"sources": sources,
	})
}

// GetOptions handles GET /taxonomy/options with the current picker choice
// as query parameters.
func (h *TaxonomyHandler) GetOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.taxonomy.Options(r.Context(), parentFilter(r)))
}

// List handles GET /taxonomy/{kind}.
func (h *TaxonomyHandler) List(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	items, err := h.taxonomy.List(r.Context(), kind, parentFilter(r))
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// SaveBulk handles POST /taxonomy/{kind}/bulk.
func (h *TaxonomyHandler) SaveBulk(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	var change domain.BulkChange
	if err := decodeJSON(r, &change); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	res, err := h.taxonomy.SaveBulk(r.Context(), kind, change)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type conceptTreeRequest struct {
	ChapterID string            `json:"chapter_id"`
	Concepts  domain.BulkChange `json:"concepts"`
	Topics    domain.BulkChange `json:"topics"`
}

// SaveConceptTree handles POST /taxonomy/concept-tree.
func (h *TaxonomyHandler) SaveConceptTree(w http.ResponseWriter, r *http.Request) {
	var req conceptTreeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	if req.ChapterID == "" {
		writeError(w, http.StatusBadRequest, "chapter_id is required")
		return
	}
	res, err := h.taxonomy.SaveConceptTree(r.Context(), req.ChapterID, req.Concepts, req.Topics)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ResetOverride handles DELETE /taxonomy/{kind}/override.
func (h *TaxonomyHandler) ResetOverride(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	if err := h.taxonomy.Reset(r.Context(), kind); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
