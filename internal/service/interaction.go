package service

import (
	"fmt"
	"time"

	"pdf-region-tagger/internal/domain"
	"pdf-region-tagger/internal/geometry"

	"github.com/google/uuid"
)

// GestureState is the geometry state of the pointer gesture in progress.
type GestureState string

const (
	GestureIdle     GestureState = "idle"
	GestureDrawing  GestureState = "drawing"
	GestureResizing GestureState = "resizing"
)

// PointerKind is the phase of a pointer event.
type PointerKind string

const (
	PointerDown PointerKind = "down"
	PointerMove PointerKind = "move"
	PointerUp   PointerKind = "up"
)

// PrimaryButton is the button index of a primary (left) click.
const PrimaryButton = 0

// PointerEvent is one pointer event in page-local screen pixels. Handle is set
// when the front-end knows the pointer went down on a resize grip.
type PointerEvent struct {
	Kind   PointerKind   `json:"type"`
	X      float64       `json:"x"`
	Y      float64       `json:"y"`
	Button int           `json:"button"`
	Handle domain.Handle `json:"handle,omitempty"`
}

func (e PointerEvent) point() domain.Point {
	return domain.Point{X: e.X, Y: e.Y}
}

// PageContext describes the page under the pointer. Viewport is nil while the
// page is not rendered.
type PageContext struct {
	PageNo   int
	Viewport *domain.Viewport
	Defaults domain.Classification
}

// GestureOutcome says what a pointer event did.
type GestureOutcome string

const (
	OutcomeNone        GestureOutcome = "none"
	OutcomeDrawing     GestureOutcome = "drawing"
	OutcomeResizing    GestureOutcome = "resizing"
	OutcomeCreated     GestureOutcome = "created"
	OutcomeResized     GestureOutcome = "resized"
	OutcomeActivated   GestureOutcome = "activated"
	OutcomeDeactivated GestureOutcome = "deactivated"
	OutcomeDeleted     GestureOutcome = "deleted"
	OutcomeRejected    GestureOutcome = "rejected"
	OutcomeCancelled   GestureOutcome = "cancelled"
)

// RejectReason explains a discarded draw.
type RejectReason string

const (
	RejectMissingPrerequisite RejectReason = "missing_prerequisite"
	RejectTooSmall            RejectReason = "too_small"
	RejectOverlap             RejectReason = "overlap"
)

// GestureResult is returned for every pointer event. Rejections are values,
// not errors; Notice carries the user-facing message when there is one.
type GestureResult struct {
	Outcome   GestureOutcome     `json:"outcome"`
	State     GestureState       `json:"state"`
	Selection *domain.Selection  `json:"selection,omitempty"`
	Draft     *domain.ScreenRect `json:"draft,omitempty"`
	Reason    RejectReason       `json:"reason,omitempty"`
	Notice    string             `json:"notice,omitempty"`
}

// InteractionOptions tunes the gesture policy.
type InteractionOptions struct {
	MinBoxSize     float64
	ResizeFloor    float64
	HandleSize     float64
	RequireChapter bool
	InitialStatus  domain.Status
	NewID          func() string
	Now            func() time.Time
}

func (o InteractionOptions) withDefaults() InteractionOptions {
	if o.MinBoxSize <= 0 {
		o.MinBoxSize = DefaultMinBoxSize
	}
	if o.ResizeFloor <= 0 {
		o.ResizeFloor = geometry.DefaultResizeFloor
	}
	if o.HandleSize <= 0 {
		o.HandleSize = geometry.DefaultHandleSize
	}
	if o.InitialStatus == "" {
		o.InitialStatus = domain.StatusPending
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.New().String() }
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// DefaultMinBoxSize is roughly one centimetre at 96 dpi.
const DefaultMinBoxSize = 38.0

// resizeCapture owns the pointer for the lifetime of one resize gesture.
// Moves are only honoured while it is held; pointer-up or a forced reset
// releases it.
type resizeCapture struct {
	selectionID string
	handle      domain.Handle
	origin      domain.Point
	startRect   domain.ScreenRect
	pageNo      int
	released    bool

	// scale is the viewport the gesture runs in; the stored rectangle is
	// rebased to it on the first move.
	scale    float64
	rollback rollbackRect
}

// rollbackRect is the stored geometry a cancelled resize restores.
type rollbackRect struct {
	rect  domain.ScreenRect
	doc   domain.DocRect
	scale float64
}

func (c *resizeCapture) release() {
	c.released = true
}

// InteractionMachine turns pointer events into selection mutations. The mode
// and page are passed into every transition rather than read from shared
// state. It never blocks and is not safe for concurrent use.
type InteractionMachine struct {
	store  *SelectionStore
	opts   InteractionOptions
	logger domain.Logger

	state     GestureState
	anchor    domain.Point
	draftPage int
	draft     *domain.ScreenRect
	capture   *resizeCapture
}

// NewInteractionMachine creates an idle machine mutating store.
func NewInteractionMachine(store *SelectionStore, opts InteractionOptions, logger domain.Logger) *InteractionMachine {
	return &InteractionMachine{
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger,
		state:  GestureIdle,
	}
}

// State returns the current gesture state.
func (m *InteractionMachine) State() GestureState {
	return m.state
}

// Draft returns the rectangle being drawn, if any.
func (m *InteractionMachine) Draft() *domain.ScreenRect {
	if m.draft == nil {
		return nil
	}
	d := *m.draft
	return &d
}

// Handle applies one pointer event.
func (m *InteractionMachine) Handle(ev PointerEvent, mode domain.Mode, page PageContext) GestureResult {
	switch ev.Kind {
	case PointerDown:
		return m.pointerDown(ev, mode, page)
	case PointerMove:
		return m.pointerMove(ev)
	case PointerUp:
		return m.pointerUp(page)
	}
	return m.result(OutcomeNone)
}

// Cancel force-resets an in-flight gesture. A draft is discarded; a resize is
// rolled back to the rectangle it started from.
func (m *InteractionMachine) Cancel() GestureResult {
	switch m.state {
	case GestureDrawing:
		m.draft = nil
		m.state = GestureIdle
		return m.result(OutcomeCancelled)
	case GestureResizing:
		c := m.capture
		c.release()
		m.capture = nil
		m.state = GestureIdle
		sel, err := m.store.Update(c.selectionID, domain.SelectionPatch{
			RectScreen:   &c.rollback.rect,
			RectPdf:      &c.rollback.doc,
			CaptureScale: &c.rollback.scale,
		})
		if err != nil {
			// The selection went away mid-gesture; nothing to roll back.
			return m.result(OutcomeCancelled)
		}
		res := m.result(OutcomeCancelled)
		res.Selection = sel
		return res
	}
	return m.result(OutcomeNone)
}

func (m *InteractionMachine) pointerDown(ev PointerEvent, mode domain.Mode, page PageContext) GestureResult {
	if m.state != GestureIdle || page.Viewport == nil || ev.Button != PrimaryButton {
		return m.result(OutcomeNone)
	}
	p := ev.point()
	onPage := geometry.AtScale(m.store.ByPage(page.PageNo), page.Viewport.Scale)

	if mode == domain.ModeDelete {
		hit := geometry.HitTest(p, onPage)
		if hit == nil {
			return m.result(OutcomeNone)
		}
		stored, ok := m.store.Get(hit.ID)
		if !ok || m.store.Remove(hit.ID) != nil {
			return m.result(OutcomeNone)
		}
		res := m.result(OutcomeDeleted)
		res.Selection = stored
		return res
	}

	if res, ok := m.beginResize(ev, page); ok {
		return res
	}

	switch mode {
	case domain.ModeSelect:
		if hit := geometry.HitTest(p, onPage); hit != nil {
			_ = m.store.SetActive(hit.ID)
			res := m.result(OutcomeActivated)
			res.Selection, _ = m.store.Get(hit.ID)
			return res
		}
		if m.store.ActiveID() == "" {
			return m.result(OutcomeNone)
		}
		m.store.ClearActive()
		return m.result(OutcomeDeactivated)
	case domain.ModeDraw:
		if geometry.HitTest(p, onPage) != nil {
			return m.result(OutcomeNone)
		}
		m.state = GestureDrawing
		m.anchor = p
		m.draftPage = page.PageNo
		m.draft = nil
		return m.result(OutcomeDrawing)
	}
	return m.result(OutcomeNone)
}

// beginResize starts a resize when the pointer went down on a grip of the
// active selection on this page. Grips are located in the current viewport.
func (m *InteractionMachine) beginResize(ev PointerEvent, page PageContext) (GestureResult, bool) {
	active := m.store.Active()
	if active == nil || active.PageNo != page.PageNo {
		return GestureResult{}, false
	}
	scale := page.Viewport.Scale
	shown := geometry.ProjectRect(active.RectScreen, active.CaptureScale, scale)
	handle, ok := domain.ParseHandle(string(ev.Handle))
	if !ok {
		handle, ok = geometry.HandleAt(shown, ev.point(), m.opts.HandleSize)
	}
	if !ok {
		return GestureResult{}, false
	}
	m.capture = &resizeCapture{
		selectionID: active.ID,
		handle:      handle,
		origin:      ev.point(),
		startRect:   shown,
		pageNo:      active.PageNo,
		scale:       scale,
		rollback: rollbackRect{
			rect:  active.RectScreen,
			doc:   active.RectPdf,
			scale: active.CaptureScale,
		},
	}
	m.state = GestureResizing
	res := m.result(OutcomeResizing)
	res.Selection = active
	return res, true
}

func (m *InteractionMachine) pointerMove(ev PointerEvent) GestureResult {
	switch m.state {
	case GestureDrawing:
		r := geometry.NormalizeRect(m.anchor, ev.point())
		m.draft = &r
		return m.result(OutcomeDrawing)
	case GestureResizing:
		return m.resizeMove(ev)
	}
	return m.result(OutcomeNone)
}

func (m *InteractionMachine) resizeMove(ev PointerEvent) GestureResult {
	c := m.capture
	if c == nil || c.released {
		return m.result(OutcomeNone)
	}
	candidate := geometry.ApplyResize(c.startRect, c.handle, ev.X-c.origin.X, ev.Y-c.origin.Y, m.opts.ResizeFloor)
	others := geometry.AtScale(m.store.ByPage(c.pageNo), c.scale)
	if geometry.OverlapsAny(candidate, others, c.selectionID) {
		// Frozen at the last valid rectangle until the pointer leaves the overlap.
		return m.result(OutcomeResizing)
	}
	doc := geometry.ToDocRect(candidate, c.scale)
	sel, err := m.store.Update(c.selectionID, domain.SelectionPatch{
		RectScreen:   &candidate,
		RectPdf:      &doc,
		CaptureScale: &c.scale,
	})
	if err != nil {
		c.release()
		m.capture = nil
		m.state = GestureIdle
		return m.result(OutcomeNone)
	}
	res := m.result(OutcomeResized)
	res.Selection = sel
	return res
}

func (m *InteractionMachine) pointerUp(page PageContext) GestureResult {
	switch m.state {
	case GestureResizing:
		id := m.capture.selectionID
		m.capture.release()
		m.capture = nil
		m.state = GestureIdle
		res := m.result(OutcomeNone)
		if sel, ok := m.store.Get(id); ok {
			res.Selection = sel
		}
		return res
	case GestureDrawing:
		draft := m.draft
		pageNo := m.draftPage
		m.draft = nil
		m.state = GestureIdle
		if draft == nil {
			return m.result(OutcomeNone)
		}
		return m.commitDraft(*draft, pageNo, page)
	}
	return m.result(OutcomeNone)
}

func (m *InteractionMachine) commitDraft(r domain.ScreenRect, pageNo int, page PageContext) GestureResult {
	if m.opts.RequireChapter && page.Defaults.ChapterID == "" {
		return m.reject(RejectMissingPrerequisite, "Select a chapter before drawing a box.")
	}
	if r.W < m.opts.MinBoxSize || r.H < m.opts.MinBoxSize {
		return m.reject(RejectTooSmall, fmt.Sprintf(
			"Box is too small. Draw at least %.0f x %.0f px.", m.opts.MinBoxSize, m.opts.MinBoxSize))
	}
	if page.Viewport == nil {
		return m.result(OutcomeNone)
	}
	scale := page.Viewport.Scale
	if geometry.OverlapsAny(r, geometry.AtScale(m.store.ByPage(pageNo), scale), "") {
		return m.reject(RejectOverlap, "")
	}

	sel := &domain.Selection{
		ID:           m.opts.NewID(),
		PageNo:       pageNo,
		RectScreen:   r,
		RectPdf:      geometry.ToDocRect(r, scale),
		CaptureScale: scale,
		Status:       m.opts.InitialStatus,
		Meta:         domain.Classification{IsActive: true},
		CreatedAt:    m.opts.Now(),
	}
	if err := m.store.Add(sel); err != nil {
		m.logger.Error("Failed to store selection", err, "selection_id", sel.ID)
		return m.result(OutcomeNone)
	}
	m.logger.Debug("Selection created", "selection_id", sel.ID, "page", pageNo)
	res := m.result(OutcomeCreated)
	res.Selection = sel.Clone()
	return res
}

func (m *InteractionMachine) reject(reason RejectReason, notice string) GestureResult {
	m.logger.Debug("Draw rejected", "reason", reason)
	res := m.result(OutcomeRejected)
	res.Reason = reason
	res.Notice = notice
	return res
}

func (m *InteractionMachine) result(outcome GestureOutcome) GestureResult {
	return GestureResult{Outcome: outcome, State: m.state, Draft: m.Draft()}
}
