package service

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"

	"pdf-region-tagger/internal/domain"

	"github.com/google/go-cmp/cmp"
)

var testPDF = []byte("%PDF-1.7\n%fake\n")

type MockPDFDocument struct {
	pages    int
	renders  int32
	inflight int32
	maxSeen  int32
	closed   bool
	failPage int
}

func (d *MockPDFDocument) PageCount() int { return d.pages }

func (d *MockPDFDocument) RenderPage(ctx context.Context, pageNo int, scale float64) (*domain.RenderedPage, error) {
	n := atomic.AddInt32(&d.inflight, 1)
	defer atomic.AddInt32(&d.inflight, -1)
	for {
		max := atomic.LoadInt32(&d.maxSeen)
		if n <= max || atomic.CompareAndSwapInt32(&d.maxSeen, max, n) {
			break
		}
	}
	atomic.AddInt32(&d.renders, 1)
	if pageNo == d.failPage {
		return nil, errors.New("corrupt page")
	}
	w, h := 400*scale, 500*scale
	return &domain.RenderedPage{
		PageNo:   pageNo,
		Viewport: domain.Viewport{Scale: scale, Width: w, Height: h},
		Image:    image.NewRGBA(image.Rect(0, 0, int(w), int(h))),
	}, nil
}

func (d *MockPDFDocument) Close() error {
	d.closed = true
	return nil
}

type MockOpener struct {
	doc *MockPDFDocument
}

func (o *MockOpener) Open(data []byte) (domain.PDFDocument, error) {
	return o.doc, nil
}

type MockExportHandle struct {
	MockItemWriter
	closed bool
}

func (h *MockExportHandle) Location() string { return "/tmp/export" }
func (h *MockExportHandle) Close() error {
	h.closed = true
	return nil
}

type MockExporter struct {
	mu     sync.Mutex
	opened int
	handle *MockExportHandle
}

func (e *MockExporter) OpenHandle(sessionID string) (domain.ExportHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened++
	e.handle = &MockExportHandle{}
	return e.handle, nil
}

func testSessionOptions() SessionOptions {
	return SessionOptions{
		MinBoxSize:     38,
		ResizeFloor:    10,
		DefaultZoom:    1.5,
		Grouping:       true,
		RequireChapter: true,
		Target:         domain.TargetRemote,
	}
}

func openTestSession(t *testing.T, doc *MockPDFDocument, opts SessionOptions, uploader domain.BulkUploader, exporter domain.LocalExporter) (*SessionManager, *Session) {
	t.Helper()
	mgr := NewSessionManager(&MockOpener{doc: doc}, uploader, exporter, opts, NewMockLogger())
	s, err := mgr.Open(context.Background(), "paper.pdf", testPDF)
	if err != nil {
		t.Fatalf("expected no error opening session, got %v", err)
	}
	s.SetDefaults(fullDefaults())
	return mgr, s
}

func drawOn(t *testing.T, s *Session, x0, y0, x1, y1 float64) GestureResult {
	t.Helper()
	for _, ev := range []PointerEvent{
		{Kind: PointerDown, X: x0, Y: y0},
		{Kind: PointerMove, X: x1, Y: y1},
	} {
		if _, err := s.Pointer(0, ev); err != nil {
			t.Fatalf("pointer event failed: %v", err)
		}
	}
	res, err := s.Pointer(0, PointerEvent{Kind: PointerUp, X: x1, Y: y1})
	if err != nil {
		t.Fatalf("pointer event failed: %v", err)
	}
	return res
}

func TestSessionManager_OpenRejectsNonPDF(t *testing.T) {
	mgr := NewSessionManager(&MockOpener{doc: &MockPDFDocument{pages: 1}}, nil, nil, testSessionOptions(), NewMockLogger())
	if _, err := mgr.Open(context.Background(), "notes.txt", []byte("hello")); err == nil {
		t.Fatalf("expected error for non-PDF input")
	}
	if mgr.Len() != 0 {
		t.Fatalf("expected no session registered")
	}
}

func TestSession_DrawAtZoomProducesDocRect(t *testing.T) {
	_, s := openTestSession(t, &MockPDFDocument{pages: 2}, testSessionOptions(), &MockUploader{}, nil)

	res := drawOn(t, s, 10, 10, 110, 60)
	if res.Outcome != OutcomeCreated {
		t.Fatalf("expected created, got %+v", res)
	}
	if res.Selection.RectPdf != (domain.DocRect{X: 7, Y: 7, W: 67, H: 33}) {
		t.Fatalf("unexpected pdf rect %+v", res.Selection.RectPdf)
	}

	sels := s.Selections()
	if len(sels) != 1 || sels[0].Label != "1" || !sels[0].Active {
		t.Fatalf("unexpected labeled selections %+v", sels)
	}
}

func TestSession_PointerBeforeRenderIsNoop(t *testing.T) {
	doc := &MockPDFDocument{pages: 3}
	_, s := openTestSession(t, doc, testSessionOptions(), &MockUploader{}, nil)

	// Page 2 was never rendered in single-page mode.
	res, err := s.Pointer(2, PointerEvent{Kind: PointerDown, X: 10, Y: 10})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Outcome != OutcomeNone || res.State != GestureIdle {
		t.Fatalf("expected no-op on unrendered page, got %+v", res)
	}
	if _, err := s.Pointer(9, PointerEvent{Kind: PointerDown}); !errors.Is(err, domain.ErrPageOutOfRange) {
		t.Fatalf("expected ErrPageOutOfRange, got %v", err)
	}
}

func TestSession_UploadNothing(t *testing.T) {
	uploader := &MockUploader{}
	_, s := openTestSession(t, &MockPDFDocument{pages: 1}, testSessionOptions(), uploader, nil)

	if _, err := s.Upload(context.Background()); !errors.Is(err, domain.ErrNothingToUpload) {
		t.Fatalf("expected ErrNothingToUpload, got %v", err)
	}
	if uploader.Calls() != 0 {
		t.Fatalf("expected no network call")
	}
	if s.UploadStatus().Message != "nothing to upload" {
		t.Fatalf("expected message to be reported, got %+v", s.UploadStatus())
	}
}

func TestSession_UploadFailureKeepsSelections(t *testing.T) {
	uploader := &MockUploader{err: errors.New("connection refused")}
	_, s := openTestSession(t, &MockPDFDocument{pages: 1}, testSessionOptions(), uploader, nil)
	drawOn(t, s, 10, 10, 110, 60)
	drawOn(t, s, 10, 100, 110, 160)
	drawOn(t, s, 10, 200, 110, 260)
	before := s.Selections()

	if _, err := s.Upload(context.Background()); err == nil {
		t.Fatalf("expected upload error")
	}
	status := s.UploadStatus()
	if status.Uploading || status.LastError != "connection refused" {
		t.Fatalf("unexpected status %+v", status)
	}
	after := s.Selections()
	if len(after) != 3 {
		t.Fatalf("expected 3 selections to remain, got %d", len(after))
	}
	if d := cmp.Diff(before, after); d != "" {
		t.Fatalf("expected selections unchanged (-before +after):\n%s", d)
	}
}

func TestSession_UploadSuccessDiscardsUploaded(t *testing.T) {
	uploader := &MockUploader{}
	_, s := openTestSession(t, &MockPDFDocument{pages: 1}, testSessionOptions(), uploader, nil)
	drawOn(t, s, 10, 10, 110, 60)
	drawOn(t, s, 10, 100, 110, 160)

	res, err := s.Upload(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Count != 2 || uploader.Calls() != 1 {
		t.Fatalf("expected one bulk call with 2 items, got %+v", res)
	}
	if len(s.Selections()) != 0 || s.HasUnsaved() {
		t.Fatalf("expected store emptied after successful upload")
	}
	// Crops are taken at the capture scale: 100x50 screen pixels.
	img := uploader.batches[0][0].Image
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Fatalf("unexpected crop bounds %v", b)
	}
}

func TestSession_UploadAfterZoomUsesCaptureScale(t *testing.T) {
	uploader := &MockUploader{}
	doc := &MockPDFDocument{pages: 1}
	_, s := openTestSession(t, doc, testSessionOptions(), uploader, nil)
	drawOn(t, s, 500, 600, 590, 740)

	if err := s.SetZoom(context.Background(), 0.5); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := s.Upload(context.Background()); err != nil {
		t.Fatalf("expected the 1.5 surface to be re-rendered for extraction, got %v", err)
	}
	img := uploader.batches[0][0].Image
	if b := img.Bounds(); b.Dx() != 90 || b.Dy() != 140 {
		t.Fatalf("unexpected crop bounds %v", b)
	}
}

func TestSession_OverlapCheckedAtCurrentZoom(t *testing.T) {
	_, s := openTestSession(t, &MockPDFDocument{pages: 1}, testSessionOptions(), &MockUploader{}, nil)
	first := drawOn(t, s, 10, 10, 110, 60)
	if first.Outcome != OutcomeCreated {
		t.Fatalf("expected created, got %+v", first)
	}

	if err := s.SetZoom(context.Background(), 3); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// At zoom 3 the first box spans 20..220 x 20..120.
	res := drawOn(t, s, 300, 150, 200, 100)
	if res.Outcome != OutcomeRejected || res.Reason != RejectOverlap {
		t.Fatalf("expected overlap with the zoomed box, got %+v", res)
	}
	if got := len(s.Selections()); got != 1 {
		t.Fatalf("expected 1 selection, got %d", got)
	}
}

func TestSession_ViewChangesCancelGestures(t *testing.T) {
	_, s := openTestSession(t, &MockPDFDocument{pages: 2}, testSessionOptions(), &MockUploader{}, nil)
	ctx := context.Background()

	_, _ = s.Pointer(0, PointerEvent{Kind: PointerDown, X: 10, Y: 10})
	_, _ = s.Pointer(0, PointerEvent{Kind: PointerMove, X: 200, Y: 200})
	if err := s.SetZoom(ctx, 2); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if s.View().Gesture != GestureIdle {
		t.Fatalf("expected zoom change to cancel the draw")
	}
	if res, _ := s.Pointer(0, PointerEvent{Kind: PointerUp, X: 200, Y: 200}); res.Outcome != OutcomeNone {
		t.Fatalf("expected no selection from a cancelled draw, got %+v", res)
	}

	created := drawOn(t, s, 100, 100, 200, 200)
	start := created.Selection.RectScreen
	_, _ = s.Pointer(0, PointerEvent{Kind: PointerDown, X: 200, Y: 200, Handle: domain.HandleSE})
	_, _ = s.Pointer(0, PointerEvent{Kind: PointerMove, X: 300, Y: 300})
	if err := s.SetPage(ctx, 2); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	sels := s.Selections()
	if sels[0].RectScreen != start {
		t.Fatalf("expected page change to roll back the resize, got %+v", sels[0].RectScreen)
	}

	_, _ = s.Pointer(0, PointerEvent{Kind: PointerDown, X: 10, Y: 10})
	if err := s.SetMode(domain.ModeSelect); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if s.View().Gesture != GestureIdle {
		t.Fatalf("expected mode change to cancel the gesture")
	}
	if err := s.SetPage(ctx, 3); !errors.Is(err, domain.ErrPageOutOfRange) {
		t.Fatalf("expected ErrPageOutOfRange, got %v", err)
	}
}

func TestSession_ZoomClampsAndSteps(t *testing.T) {
	_, s := openTestSession(t, &MockPDFDocument{pages: 1}, testSessionOptions(), &MockUploader{}, nil)
	ctx := context.Background()

	_ = s.ZoomIn(ctx)
	if z := s.View().Zoom; z != 1.75 {
		t.Fatalf("expected 1.75, got %v", z)
	}
	_ = s.SetZoom(ctx, 0.1)
	if z := s.View().Zoom; z != MinZoom {
		t.Fatalf("expected clamp to %v, got %v", MinZoom, z)
	}
	_ = s.ZoomOut(ctx)
	if z := s.View().Zoom; z != MinZoom {
		t.Fatalf("expected zoom to stay at %v, got %v", MinZoom, z)
	}
}

func TestSession_MultiPageRendersSequentially(t *testing.T) {
	doc := &MockPDFDocument{pages: 5}
	opts := testSessionOptions()
	opts.MultiPage = true
	_, s := openTestSession(t, doc, opts, &MockUploader{}, nil)

	if got := atomic.LoadInt32(&doc.renders); got != 5 {
		t.Fatalf("expected 5 renders, got %d", got)
	}
	if got := atomic.LoadInt32(&doc.maxSeen); got != 1 {
		t.Fatalf("expected pages rendered one at a time, saw %d concurrent", got)
	}
	if vp := s.View().Viewports; len(vp) != 5 || vp[3].Width != 600 {
		t.Fatalf("unexpected viewports %+v", vp)
	}
}

func TestSession_RenderFailureAbortsOpen(t *testing.T) {
	doc := &MockPDFDocument{pages: 1, failPage: 1}
	mgr := NewSessionManager(&MockOpener{doc: doc}, nil, nil, testSessionOptions(), NewMockLogger())

	if _, err := mgr.Open(context.Background(), "paper.pdf", testPDF); err == nil {
		t.Fatalf("expected render error")
	}
	if !doc.closed || mgr.Len() != 0 {
		t.Fatalf("expected document closed and no session kept")
	}
}

func TestSession_RegroupAndUngroup(t *testing.T) {
	_, s := openTestSession(t, &MockPDFDocument{pages: 1}, testSessionOptions(), &MockUploader{}, nil)
	a := drawOn(t, s, 10, 10, 110, 60).Selection
	b := drawOn(t, s, 10, 100, 110, 160).Selection
	c := drawOn(t, s, 10, 200, 110, 260).Selection

	if _, err := s.Regroup(c.ID, a.ID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	labels := map[string]string{}
	for _, l := range s.Selections() {
		labels[l.ID] = l.Label
	}
	if labels[a.ID] != "1" || labels[b.ID] != "2" || labels[c.ID] != "1.2" {
		t.Fatalf("unexpected labels %+v", labels)
	}

	if _, err := s.Ungroup(c.ID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, l := range s.Selections() {
		labels[l.ID] = l.Label
	}
	if labels[c.ID] != "3" {
		t.Fatalf("expected c to become question 3, got %q", labels[c.ID])
	}
	if _, err := s.Regroup(a.ID, a.ID); err == nil {
		t.Fatalf("expected error grouping a selection with itself")
	}
}

func TestSession_UpdateAndDelete(t *testing.T) {
	_, s := openTestSession(t, &MockPDFDocument{pages: 1}, testSessionOptions(), &MockUploader{}, nil)
	a := drawOn(t, s, 10, 10, 110, 60).Selection

	difficulty := "hard"
	updated, err := s.UpdateSelection(a.ID, &domain.ClassificationPatch{Difficulty: &difficulty})
	if err != nil || updated.Meta.Difficulty != "hard" {
		t.Fatalf("expected difficulty updated, got %+v err=%v", updated, err)
	}
	if on, _ := s.Activate(a.ID); on {
		t.Fatalf("expected toggle of the active selection to deactivate it")
	}
	if err := s.DeleteSelection(a.ID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := s.UpdateSelection(a.ID, nil); !errors.Is(err, domain.ErrSelectionNotFound) {
		t.Fatalf("expected ErrSelectionNotFound, got %v", err)
	}
}

func TestSession_CloseGuardsUnsavedWork(t *testing.T) {
	doc := &MockPDFDocument{pages: 1}
	mgr, s := openTestSession(t, doc, testSessionOptions(), &MockUploader{}, nil)
	drawOn(t, s, 10, 10, 110, 60)

	if err := mgr.Close(s.ID(), false); !errors.Is(err, domain.ErrUnsavedChanges) {
		t.Fatalf("expected ErrUnsavedChanges, got %v", err)
	}
	if _, err := mgr.Get(s.ID()); err != nil {
		t.Fatalf("expected session to stay open")
	}
	if err := mgr.Close(s.ID(), true); err != nil {
		t.Fatalf("expected forced close to succeed, got %v", err)
	}
	if !doc.closed {
		t.Fatalf("expected document released")
	}
	if _, err := mgr.Get(s.ID()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := s.Pointer(0, PointerEvent{Kind: PointerDown}); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected closed session to reject events, got %v", err)
	}
}

func TestSession_LocalExportUsesOneHandle(t *testing.T) {
	exporter := &MockExporter{}
	opts := testSessionOptions()
	opts.Target = domain.TargetLocal
	mgr, s := openTestSession(t, &MockPDFDocument{pages: 1}, opts, nil, exporter)

	first := drawOn(t, s, 10, 10, 110, 60).Selection
	if first.Status != domain.StatusUnsaved {
		t.Fatalf("expected unsaved status, got %s", first.Status)
	}
	if _, err := s.Upload(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	drawOn(t, s, 10, 100, 110, 160)
	if _, err := s.Upload(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if exporter.opened != 1 {
		t.Fatalf("expected the export folder to be acquired once, got %d", exporter.opened)
	}
	if got := len(exporter.handle.written); got != 2 {
		t.Fatalf("expected each selection written once, got %d writes", got)
	}
	if exporter.handle.written[0].Key == exporter.handle.written[1].Key {
		t.Fatalf("expected distinct item keys")
	}
	for _, sel := range s.Selections() {
		if sel.Status != domain.StatusSaved {
			t.Fatalf("expected %s saved, got %s", sel.ID, sel.Status)
		}
	}
	if s.HasUnsaved() {
		t.Fatalf("expected nothing unsaved")
	}
	if err := mgr.Close(s.ID(), false); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
	if !exporter.handle.closed {
		t.Fatalf("expected export handle released on close")
	}
}

type uploadOutcome struct {
	res *UploadResult
	err error
}

func startBlockedUpload(t *testing.T, s *Session, uploader *MockUploader) <-chan uploadOutcome {
	t.Helper()
	done := make(chan uploadOutcome, 1)
	go func() {
		res, err := s.Upload(context.Background())
		done <- uploadOutcome{res, err}
	}()
	<-uploader.started
	return done
}

func TestSession_CloseRefusedWhileUploading(t *testing.T) {
	uploader := &MockUploader{block: make(chan struct{}), started: make(chan struct{})}
	doc := &MockPDFDocument{pages: 1}
	mgr, s := openTestSession(t, doc, testSessionOptions(), uploader, nil)
	drawOn(t, s, 10, 10, 110, 60)

	done := startBlockedUpload(t, s, uploader)
	if err := mgr.Close(s.ID(), true); !errors.Is(err, domain.ErrUploadInProgress) {
		t.Fatalf("expected ErrUploadInProgress, got %v", err)
	}
	if _, err := s.Upload(context.Background()); !errors.Is(err, domain.ErrUploadInProgress) {
		t.Fatalf("expected second upload refused, got %v", err)
	}
	if doc.closed {
		t.Fatalf("expected document to stay open during upload")
	}

	close(uploader.block)
	if out := <-done; out.err != nil {
		t.Fatalf("expected upload to succeed, got %v", out.err)
	}
	if err := mgr.Close(s.ID(), false); err != nil {
		t.Fatalf("expected close after upload to succeed, got %v", err)
	}
	if !doc.closed {
		t.Fatalf("expected document released")
	}
}

func TestSession_EditDuringUploadIsKept(t *testing.T) {
	uploader := &MockUploader{block: make(chan struct{}), started: make(chan struct{})}
	_, s := openTestSession(t, &MockPDFDocument{pages: 1}, testSessionOptions(), uploader, nil)
	first := drawOn(t, s, 10, 10, 110, 60).Selection
	drawOn(t, s, 10, 100, 110, 160)

	done := startBlockedUpload(t, s, uploader)
	if _, err := s.UpdateSelection(first.ID, &domain.ClassificationPatch{Difficulty: strPtr("hard")}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	close(uploader.block)
	out := <-done
	if out.err != nil || out.res.Count != 2 {
		t.Fatalf("expected 2 items uploaded, got %+v", out)
	}

	sels := s.Selections()
	if len(sels) != 1 || sels[0].ID != first.ID {
		t.Fatalf("expected only the edited selection to remain, got %+v", sels)
	}
	if sels[0].Meta.Difficulty != "hard" {
		t.Fatalf("expected edit preserved, got %q", sels[0].Meta.Difficulty)
	}
	if !s.HasUnsaved() {
		t.Fatalf("expected the edited selection to stay pending")
	}
}
