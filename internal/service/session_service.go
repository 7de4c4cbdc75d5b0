package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"reflect"
	"sync"
	"time"

	"pdf-region-tagger/internal/domain"
	apperrors "pdf-region-tagger/pkg/errors"

	"github.com/google/uuid"
)

const (
	MinZoom  = 0.5
	MaxZoom  = 5.0
	ZoomStep = 0.25
)

// SessionOptions is the per-document engine configuration.
type SessionOptions struct {
	MinBoxSize     float64
	ResizeFloor    float64
	DefaultZoom    float64
	MultiPage      bool
	Grouping       bool
	RequireChapter bool
	Target         domain.PersistenceTarget
}

func (o SessionOptions) initialStatus() domain.Status {
	if o.Target == domain.TargetLocal {
		return domain.StatusUnsaved
	}
	return domain.StatusPending
}

// SessionView is a read-only summary of a session.
type SessionView struct {
	ID        string                   `json:"id"`
	Name      string                   `json:"name"`
	PageCount int                      `json:"page_count"`
	Page      int                      `json:"page"`
	Zoom      float64                  `json:"zoom"`
	Mode      domain.Mode              `json:"mode"`
	MultiPage bool                     `json:"multi_page"`
	Grouping  bool                     `json:"grouping"`
	Target    domain.PersistenceTarget `json:"target"`
	Gesture   GestureState             `json:"gesture"`
	ActiveID  string                   `json:"active_id,omitempty"`
	Count     int                      `json:"selection_count"`
	Viewports map[int]domain.Viewport  `json:"viewports"`
	Defaults  domain.Classification    `json:"defaults"`
	OpenedAt  time.Time                `json:"opened_at"`
}

type surfaceKey struct {
	page  int
	scale float64
}

// Session is one open document: its rendered pages, selections, gesture
// state and upload pipeline. State changes are serialized by mu; rendering
// is serialized separately so pages are rasterized one at a time.
type Session struct {
	id       string
	name     string
	openedAt time.Time
	opts     SessionOptions
	logger   domain.Logger
	pipeline *UploadPipeline
	uploader domain.BulkUploader
	exporter domain.LocalExporter

	renderMu sync.Mutex

	mu       sync.Mutex
	doc      domain.PDFDocument
	page     int
	zoom     float64
	mode     domain.Mode
	store    *SelectionStore
	machine  *InteractionMachine
	surfaces map[surfaceKey]*domain.RenderedPage
	defaults domain.Classification
	export   domain.ExportHandle
	closed   bool
	// uploading is set from the snapshot until the results are applied, so
	// Close cannot slip in between.
	uploading bool
}

func newSession(id, name string, doc domain.PDFDocument, opts SessionOptions, uploader domain.BulkUploader, exporter domain.LocalExporter, logger domain.Logger) *Session {
	store := NewSelectionStore()
	zoom := opts.DefaultZoom
	if zoom <= 0 {
		zoom = 1.5
	}
	return &Session{
		id:       id,
		name:     name,
		openedAt: time.Now().UTC(),
		opts:     opts,
		logger:   logger,
		pipeline: NewUploadPipeline(logger),
		uploader: uploader,
		exporter: exporter,
		doc:      doc,
		page:     1,
		zoom:     clampZoom(zoom),
		mode:     domain.ModeDraw,
		store:    store,
		machine: NewInteractionMachine(store, InteractionOptions{
			MinBoxSize:     opts.MinBoxSize,
			ResizeFloor:    opts.ResizeFloor,
			RequireChapter: opts.RequireChapter,
			InitialStatus:  opts.initialStatus(),
		}, logger),
		surfaces: make(map[surfaceKey]*domain.RenderedPage),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// View summarizes the session.
func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	viewports := make(map[int]domain.Viewport)
	for key, rp := range s.surfaces {
		if key.scale == s.zoom {
			viewports[key.page] = rp.Viewport
		}
	}
	pageCount := 0
	if s.doc != nil {
		pageCount = s.doc.PageCount()
	}
	return SessionView{
		ID:        s.id,
		Name:      s.name,
		PageCount: pageCount,
		Page:      s.page,
		Zoom:      s.zoom,
		Mode:      s.mode,
		MultiPage: s.opts.MultiPage,
		Grouping:  s.opts.Grouping,
		Target:    s.opts.Target,
		Gesture:   s.machine.State(),
		ActiveID:  s.store.ActiveID(),
		Count:     s.store.Len(),
		Viewports: viewports,
		Defaults:  s.defaults.Clone(),
		OpenedAt:  s.openedAt,
	}
}

// RenderVisible rasterizes the current page, or every page in multi-page
// mode, at the current zoom. Pages are rendered strictly one after another.
func (s *Session) RenderVisible(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	pages := []int{s.page}
	if s.opts.MultiPage {
		pages = make([]int, 0, s.doc.PageCount())
		for p := 1; p <= s.doc.PageCount(); p++ {
			pages = append(pages, p)
		}
	}
	zoom := s.zoom
	s.mu.Unlock()

	for _, p := range pages {
		if _, err := s.render(ctx, p, zoom); err != nil {
			return err
		}
	}
	return nil
}

// SetPage navigates to pageNo, cancelling any gesture in flight.
func (s *Session) SetPage(ctx context.Context, pageNo int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	if pageNo < 1 || pageNo > s.doc.PageCount() {
		s.mu.Unlock()
		return domain.ErrPageOutOfRange
	}
	if pageNo != s.page {
		s.cancelGestureLocked("page change")
		s.page = pageNo
	}
	s.mu.Unlock()
	return s.RenderVisible(ctx)
}

// SetZoom changes the render scale, clamped to [MinZoom, MaxZoom] and snapped
// to ZoomStep. Surfaces at other scales are dropped; existing selections keep
// their screen rectangles and capture scale.
func (s *Session) SetZoom(ctx context.Context, zoom float64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	zoom = clampZoom(zoom)
	if zoom != s.zoom {
		s.cancelGestureLocked("zoom change")
		s.zoom = zoom
		for key := range s.surfaces {
			if key.scale != zoom {
				delete(s.surfaces, key)
			}
		}
	}
	s.mu.Unlock()
	return s.RenderVisible(ctx)
}

// ZoomIn raises the zoom by one step.
func (s *Session) ZoomIn(ctx context.Context) error {
	return s.SetZoom(ctx, s.currentZoom()+ZoomStep)
}

// ZoomOut lowers the zoom by one step.
func (s *Session) ZoomOut(ctx context.Context) error {
	return s.SetZoom(ctx, s.currentZoom()-ZoomStep)
}

func (s *Session) currentZoom() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom
}

// SetMode switches the pointer mode, cancelling any gesture in flight.
func (s *Session) SetMode(mode domain.Mode) error {
	if _, ok := domain.ParseMode(string(mode)); !ok {
		return apperrors.NewValidationError("invalid mode", string(mode))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionNotFound
	}
	if mode != s.mode {
		s.cancelGestureLocked("mode change")
		s.mode = mode
	}
	return nil
}

func (s *Session) cancelGestureLocked(reason string) {
	if s.machine.State() == GestureIdle {
		return
	}
	s.machine.Cancel()
	s.logger.Debug("Gesture cancelled", "reason", reason)
}

// Pointer feeds one pointer event to the interaction machine. pageNo 0 means
// the current page.
func (s *Session) Pointer(pageNo int, ev PointerEvent) (GestureResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return GestureResult{}, domain.ErrSessionNotFound
	}
	if pageNo == 0 {
		pageNo = s.page
	}
	if pageNo < 1 || pageNo > s.doc.PageCount() {
		return GestureResult{}, domain.ErrPageOutOfRange
	}

	page := PageContext{PageNo: pageNo, Defaults: s.defaults}
	if rp, ok := s.surfaces[surfaceKey{page: pageNo, scale: s.zoom}]; ok {
		vp := rp.Viewport
		page.Viewport = &vp
	}
	return s.machine.Handle(ev, s.mode, page), nil
}

// PageImage returns the page rendered at the current zoom.
func (s *Session) PageImage(ctx context.Context, pageNo int) (*domain.RenderedPage, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrSessionNotFound
	}
	if pageNo < 1 || pageNo > s.doc.PageCount() {
		s.mu.Unlock()
		return nil, domain.ErrPageOutOfRange
	}
	zoom := s.zoom
	s.mu.Unlock()
	return s.render(ctx, pageNo, zoom)
}

// Surface implements SurfaceSource, rendering missing surfaces on demand.
func (s *Session) Surface(ctx context.Context, pageNo int, scale float64) (image.Image, error) {
	rp, err := s.render(ctx, pageNo, scale)
	if err != nil {
		return nil, err
	}
	return rp.Image, nil
}

func (s *Session) cached(key surfaceKey) (*domain.RenderedPage, domain.PDFDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, domain.ErrSessionNotFound
	}
	return s.surfaces[key], s.doc, nil
}

func (s *Session) render(ctx context.Context, pageNo int, scale float64) (*domain.RenderedPage, error) {
	key := surfaceKey{page: pageNo, scale: scale}
	if rp, _, err := s.cached(key); err != nil || rp != nil {
		return rp, err
	}

	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	rp, doc, err := s.cached(key)
	if err != nil || rp != nil {
		return rp, err
	}
	start := time.Now()
	rp, err = doc.RenderPage(ctx, pageNo, scale)
	if err != nil {
		return nil, apperrors.NewProcessingError(fmt.Sprintf("failed to render page %d", pageNo), err)
	}
	s.logger.Debug("Page rendered", "page", pageNo, "scale", scale, "took_ms", time.Since(start).Milliseconds())

	s.mu.Lock()
	if !s.closed {
		s.surfaces[key] = rp
	}
	s.mu.Unlock()
	return rp, nil
}

// Selections returns every selection with its derived label, in store order.
func (s *Session) Selections() []domain.LabeledSelection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Label(s.store.All(), s.store.ActiveID(), s.opts.Grouping)
}

// Activate toggles the active selection.
func (s *Session) Activate(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.State() == GestureResizing {
		s.cancelGestureLocked("activation change")
	}
	return s.store.Toggle(id)
}

// UpdateSelection edits a selection's classification. A saved local
// selection goes back to unsaved.
func (s *Session) UpdateSelection(id string, meta *domain.ClassificationPatch) (*domain.Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.store.Get(id)
	if !ok {
		return nil, domain.ErrSelectionNotFound
	}
	patch := domain.SelectionPatch{Meta: meta}
	if cur.Status == domain.StatusSaved {
		st := domain.StatusUnsaved
		patch.Status = &st
	}
	return s.store.Update(id, patch)
}

// DeleteSelection removes one selection.
func (s *Session) DeleteSelection(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.State() == GestureResizing {
		s.cancelGestureLocked("selection deleted")
	}
	return s.store.Remove(id)
}

// ClearSelections drops every selection.
func (s *Session) ClearSelections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelGestureLocked("selections cleared")
	s.store.Clear()
}

// Regroup makes id a further part of target's question.
func (s *Session) Regroup(id, targetID string) (*domain.Selection, error) {
	if id == targetID {
		return nil, apperrors.NewValidationError("a selection cannot be grouped with itself")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.store.Get(targetID)
	if !ok {
		return nil, domain.ErrSelectionNotFound
	}
	key := GroupKey(target)
	return s.store.Update(id, domain.SelectionPatch{QuestionGroupKey: &key})
}

// Ungroup makes id a question of its own.
func (s *Session) Ungroup(id string) (*domain.Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	empty := ""
	return s.store.Update(id, domain.SelectionPatch{QuestionGroupKey: &empty})
}

// SetDefaults replaces the globally selected classification pickers.
func (s *Session) SetDefaults(defaults domain.Classification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults = defaults.Clone()
}

// UploadStatus reports the pipeline state.
func (s *Session) UploadStatus() domain.UploadStatus {
	return s.pipeline.Status()
}

// Upload exports the session's selections; locally only those not yet saved
// are written. The store is snapshotted under the lock and extraction and
// network calls run outside it. After a remote upload the uploaded selections
// are discarded; after a local export they are marked saved. Either way a
// selection edited mid-upload is left pending. A failed remote upload leaves
// the store untouched.
func (s *Session) Upload(ctx context.Context) (*UploadResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrSessionNotFound
	}
	if s.uploading {
		s.mu.Unlock()
		return nil, domain.ErrUploadInProgress
	}
	all := s.store.All()
	pending := all
	if s.opts.Target == domain.TargetLocal {
		pending = unsavedOnly(all)
	}
	req := UploadRequest{
		Selections: pending,
		Labels:     Labels(all, s.opts.Grouping),
		Defaults:   s.defaults.Clone(),
		Target:     s.opts.Target,
		Surfaces:   s,
		Uploader:   s.uploader,
	}
	if req.Target == domain.TargetLocal && len(pending) > 0 {
		handle, err := s.exportHandleLocked()
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		req.Writer = handle
	}
	s.uploading = true
	s.mu.Unlock()

	res, err := s.pipeline.Run(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploading = false
	if res == nil || len(res.UploadedIDs) == 0 {
		return res, err
	}

	sent := make(map[string]*domain.Selection, len(pending))
	for _, sel := range pending {
		sent[sel.ID] = sel
	}
	// Selections edited while the batch was in flight keep their edits and
	// stay pending; the stored copy no longer matches what was sent.
	changed := 0
	for _, id := range res.UploadedIDs {
		cur, ok := s.store.Get(id)
		if !ok {
			continue
		}
		if !sameSelection(cur, sent[id]) {
			changed++
			continue
		}
		if res.Target == domain.TargetLocal {
			saved := domain.StatusSaved
			_, _ = s.store.Update(id, domain.SelectionPatch{Status: &saved})
		} else {
			_ = s.store.Remove(id)
		}
	}
	if changed > 0 {
		s.logger.Warn("Selections edited during upload kept", "target", res.Target, "count", changed)
	}
	s.logger.Info("Selections persisted", "target", res.Target, "count", len(res.UploadedIDs))
	return res, err
}

func sameSelection(a, b *domain.Selection) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// exportHandleLocked acquires the session's export destination once.
func (s *Session) exportHandleLocked() (domain.ExportHandle, error) {
	if s.export != nil {
		return s.export, nil
	}
	if s.exporter == nil {
		return nil, apperrors.NewInternalError("local export is not configured", nil)
	}
	h, err := s.exporter.OpenHandle(s.id)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to open export folder", err)
	}
	s.export = h
	s.logger.Info("Export folder acquired", "location", h.Location())
	return h, nil
}

// HasUnsaved reports whether closing would lose selections.
func (s *Session) HasUnsaved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasUnsavedLocked()
}

func (s *Session) hasUnsavedLocked() bool {
	for _, sel := range s.store.All() {
		if sel.Status != domain.StatusSaved {
			return true
		}
	}
	return false
}

// Close releases the document and the export handle. Unsaved selections
// block the close unless force is set; a running upload always does.
func (s *Session) Close(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.uploading {
		return domain.ErrUploadInProgress
	}
	if !force && s.hasUnsavedLocked() {
		return domain.ErrUnsavedChanges
	}
	s.cancelGestureLocked("session closed")
	s.store.Clear()
	s.surfaces = make(map[surfaceKey]*domain.RenderedPage)
	s.closed = true

	var firstErr error
	if s.export != nil {
		if err := s.export.Close(); err != nil {
			firstErr = err
		}
		s.export = nil
	}
	if s.doc != nil {
		s.doc.Close()
	}
	return firstErr
}

func unsavedOnly(sels []*domain.Selection) []*domain.Selection {
	out := make([]*domain.Selection, 0, len(sels))
	for _, sel := range sels {
		if sel.Status != domain.StatusSaved {
			out = append(out, sel)
		}
	}
	return out
}

func clampZoom(z float64) float64 {
	z = math.Max(MinZoom, math.Min(MaxZoom, z))
	return math.Round(z/ZoomStep) * ZoomStep
}

// SessionManager owns every open document session.
type SessionManager struct {
	opener   domain.DocumentOpener
	uploader domain.BulkUploader
	exporter domain.LocalExporter
	opts     SessionOptions
	logger   domain.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty manager.
func NewSessionManager(
	opener domain.DocumentOpener,
	uploader domain.BulkUploader,
	exporter domain.LocalExporter,
	opts SessionOptions,
	logger domain.Logger,
) *SessionManager {
	return &SessionManager{
		opener:   opener,
		uploader: uploader,
		exporter: exporter,
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

var pdfMagic = []byte("%PDF-")

// Open starts a session for a PDF and renders its first page (every page in
// multi-page mode).
func (m *SessionManager) Open(ctx context.Context, name string, data []byte) (*Session, error) {
	if len(data) == 0 || !bytes.HasPrefix(data, pdfMagic) {
		return nil, apperrors.NewValidationError("file is not a PDF", domain.ErrInvalidFile.Error())
	}
	doc, err := m.opener.Open(data)
	if err != nil {
		return nil, apperrors.NewProcessingError("failed to open PDF", err)
	}
	if doc.PageCount() == 0 {
		doc.Close()
		return nil, apperrors.NewValidationError("PDF has no pages", domain.ErrInvalidFile.Error())
	}

	id := uuid.New().String()
	s := newSession(id, name, doc, m.opts, m.uploader, m.exporter, m.logger.With("session_id", id))
	if err := s.RenderVisible(ctx); err != nil {
		_ = s.Close(true)
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info("Document opened", "session_id", id, "name", name, "pages", doc.PageCount())
	return s, nil
}

// Get looks up a session.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// Close closes and forgets a session.
func (m *SessionManager) Close(id string, force bool) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := s.Close(force); err != nil {
		if errors.Is(err, domain.ErrUnsavedChanges) || errors.Is(err, domain.ErrUploadInProgress) {
			return err
		}
		m.logger.Warn("Session closed with errors", "session_id", id, "error", err)
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.logger.Info("Document closed", "session_id", id)
	return nil
}

// CloseAll force-closes every session, for shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, s := range sessions {
		if err := s.Close(true); err != nil {
			m.logger.Warn("Failed to close session", "session_id", id, "error", err)
		}
	}
}

// Len returns the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
