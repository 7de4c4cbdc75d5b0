package handler

import (
	"net/http"
	"strconv"
	"strings"

	"pdf-region-tagger/internal/domain"
	"pdf-region-tagger/internal/service"

	"github.com/gorilla/mux"
)

// CroppedImageHandler manages images already stored in the catalog.
type CroppedImageHandler struct {
	images *service.CroppedImageService
	logger domain.Logger
}

// NewCroppedImageHandler creates a new cropped image handler
func NewCroppedImageHandler(images *service.CroppedImageService, logger domain.Logger) *CroppedImageHandler {
	return &CroppedImageHandler{images: images, logger: logger}
}

// List handles GET /cropped-images.
func (h *CroppedImageHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.CroppedImageFilter{
		ImageType:    q.Get("image_type"),
		QuestionType: q.Get("question_type"),
		Difficulty:   q.Get("difficulty"),
		Marks:        q.Get("marks"),
		Source:       q.Get("source"),
		IsActive:     q.Get("is_active"),
		Verified:     q.Get("verified"),
		Priority:     q.Get("priority"),
		ClassName:    q.Get("class_name"),
		Subject:      q.Get("subject"),
		Chapter:      q.Get("chapter"),
		Concept:      q.Get("concept"),
		Topic:        q.Get("topic"),
	}
	if v := q.Get("usage_types"); v != "" {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				filter.UsageTypes = append(filter.UsageTypes, id)
			}
		}
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	page, err := h.images.List(r.Context(), filter)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Update handles PATCH /cropped-images/{id}.
func (h *CroppedImageHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch domain.CroppedImagePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	img, err := h.images.Update(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

// Delete handles DELETE /cropped-images/{id}.
func (h *CroppedImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.images.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
