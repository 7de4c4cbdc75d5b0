package handler

import (
	"context"
	"image/png"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pdf-region-tagger/internal/domain"
	"pdf-region-tagger/internal/service"
	apperrors "pdf-region-tagger/pkg/errors"

	"github.com/gorilla/mux"
)

// SessionHandler exposes document sessions: viewing, drawing and uploading.
type SessionHandler struct {
	sessions      *service.SessionManager
	maxFileSize   int64
	uploadTimeout time.Duration
	logger        domain.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *service.SessionManager, maxFileSize int64, uploadTimeout time.Duration, logger domain.Logger) *SessionHandler {
	if uploadTimeout <= 0 {
		uploadTimeout = 2 * time.Minute
	}
	return &SessionHandler{
		sessions:      sessions,
		maxFileSize:   maxFileSize,
		uploadTimeout: uploadTimeout,
		logger:        logger,
	}
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*service.Session, bool) {
	s, err := h.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, h.logger, err)
		return nil, false
	}
	return s, true
}

// OpenDocument handles POST /sessions with a multipart "file" field.
func (h *SessionHandler) OpenDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "File is required")
		return
	}
	defer file.Close()

	name := strings.TrimSpace(filepath.Base(header.Filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "document.pdf"
	}
	if strings.ToLower(filepath.Ext(name)) != ".pdf" {
		writeError(w, http.StatusBadRequest, "Unsupported file type. Only PDF (.pdf) is allowed.")
		return
	}
	if header.Size > h.maxFileSize {
		writeError(w, http.StatusBadRequest, "File too large")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read file")
		return
	}

	s, err := h.sessions.Open(r.Context(), name, data)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.View())
}

// GetSession handles GET /sessions/{id}.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// CloseSession handles DELETE /sessions/{id}?force=true.
func (h *SessionHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := h.sessions.Close(mux.Vars(r)["id"], force); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type viewRequest struct {
	Page       *int     `json:"page"`
	Zoom       *float64 `json:"zoom"`
	ZoomAction string   `json:"zoom_action"`
	Mode       *string  `json:"mode"`
}

// UpdateView handles PUT /sessions/{id}/view: page, zoom and mode changes.
func (h *SessionHandler) UpdateView(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req viewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, h.logger, err)
		return
	}

	ctx := r.Context()
	var err error
	if req.Mode != nil {
		err = s.SetMode(domain.Mode(*req.Mode))
	}
	if err == nil && req.Page != nil {
		err = s.SetPage(ctx, *req.Page)
	}
	if err == nil {
		switch {
		case req.Zoom != nil:
			err = s.SetZoom(ctx, *req.Zoom)
		case req.ZoomAction == "in":
			err = s.ZoomIn(ctx)
		case req.ZoomAction == "out":
			err = s.ZoomOut(ctx)
		case req.ZoomAction != "":
			err = apperrors.NewValidationError("zoom_action must be in or out", req.ZoomAction)
		}
	}
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// PageImage handles GET /sessions/{id}/pages/{page}/image at the current zoom.
func (h *SessionHandler) PageImage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	pageNo, err := strconv.Atoi(mux.Vars(r)["page"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page number")
		return
	}
	page, err := s.PageImage(r.Context(), pageNo)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Viewport-Scale", strconv.FormatFloat(page.Viewport.Scale, 'f', -1, 64))
	w.WriteHeader(http.StatusOK)
	if err := png.Encode(w, page.Image); err != nil {
		h.logger.Warn("Failed to stream page image", "page", pageNo, "error", err)
	}
}

type pointerRequest struct {
	Page int `json:"page"`
	service.PointerEvent
}

// Pointer handles POST /sessions/{id}/pointer.
func (h *SessionHandler) Pointer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req pointerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	res, err := s.Pointer(req.Page, req.PointerEvent)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SetDefaults handles PUT /sessions/{id}/defaults.
func (h *SessionHandler) SetDefaults(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var defaults domain.Classification
	if err := decodeJSON(r, &defaults); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	s.SetDefaults(defaults)
	writeJSON(w, http.StatusOK, s.View())
}

// ListSelections handles GET /sessions/{id}/selections.
func (h *SessionHandler) ListSelections(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Selections())
}

// ClearSelections handles DELETE /sessions/{id}/selections.
func (h *SessionHandler) ClearSelections(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.ClearSelections()
	w.WriteHeader(http.StatusNoContent)
}

// UpdateSelection handles PATCH /sessions/{id}/selections/{sid}.
func (h *SessionHandler) UpdateSelection(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var patch domain.ClassificationPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	if patch.Difficulty != nil && *patch.Difficulty != "" && !domain.ValidDifficulty(*patch.Difficulty) {
		writeError(w, http.StatusBadRequest, "difficulty must be easy, medium or hard")
		return
	}
	sel, err := s.UpdateSelection(mux.Vars(r)["sid"], &patch)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

// DeleteSelection handles DELETE /sessions/{id}/selections/{sid}.
func (h *SessionHandler) DeleteSelection(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.DeleteSelection(mux.Vars(r)["sid"]); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ActivateSelection handles POST /sessions/{id}/selections/{sid}/activate.
func (h *SessionHandler) ActivateSelection(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	active, err := s.Activate(mux.Vars(r)["sid"])
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": active})
}

type groupRequest struct {
	TargetID string `json:"target_id"`
}

// GroupSelection handles POST /sessions/{id}/selections/{sid}/group. An
// empty target_id moves the selection back into a group of its own.
func (h *SessionHandler) GroupSelection(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, h.logger, err)
		return
	}

	id := mux.Vars(r)["sid"]
	var err error
	if req.TargetID == "" {
		_, err = s.Ungroup(id)
	} else {
		_, err = s.Regroup(id, req.TargetID)
	}
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Selections())
}

// Upload handles POST /sessions/{id}/upload.
func (h *SessionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	// A dropped connection must not abort a batch half way; only the timeout does.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.uploadTimeout)
	defer cancel()

	res, err := s.Upload(ctx)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": res,
		"status": s.UploadStatus(),
	})
}

// UploadStatus handles GET /sessions/{id}/upload.
func (h *SessionHandler) UploadStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.UploadStatus())
}
