package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"pdf-region-tagger/internal/domain"
	"pdf-region-tagger/internal/service"
)

type mockPDFDocument struct {
	pages int
}

func (d *mockPDFDocument) PageCount() int { return d.pages }

func (d *mockPDFDocument) RenderPage(ctx context.Context, pageNo int, scale float64) (*domain.RenderedPage, error) {
	w, h := 400*scale, 500*scale
	return &domain.RenderedPage{
		PageNo:   pageNo,
		Viewport: domain.Viewport{Scale: scale, Width: w, Height: h},
		Image:    image.NewRGBA(image.Rect(0, 0, int(w), int(h))),
	}, nil
}

func (d *mockPDFDocument) Close() error { return nil }

type mockOpener struct{}

func (mockOpener) Open(data []byte) (domain.PDFDocument, error) {
	return &mockPDFDocument{pages: 2}, nil
}

type mockUploader struct {
	mu      sync.Mutex
	batches [][]*domain.UploadItem
}

func (u *mockUploader) UploadBatch(ctx context.Context, items []*domain.UploadItem) (*domain.UploadReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.batches = append(u.batches, items)
	return &domain.UploadReceipt{Count: len(items)}, nil
}

type mockTaxonomyRepository struct{}

func (mockTaxonomyRepository) List(ctx context.Context, kind domain.TaxonomyKind, filter domain.ParentFilter) ([]domain.TaxonomyItem, error) {
	if kind == domain.KindClasses {
		return []domain.TaxonomyItem{{ID: "1", Name: "Class 10"}}, nil
	}
	return nil, nil
}

func (mockTaxonomyRepository) SaveBulk(ctx context.Context, kind domain.TaxonomyKind, change domain.BulkChange) (*domain.BulkResult, error) {
	return &domain.BulkResult{CreatedIDs: map[string]string{}}, nil
}

type mockCroppedImageRepository struct {
	deleted []string
}

func (r *mockCroppedImageRepository) List(ctx context.Context, filter domain.CroppedImageFilter) (*domain.CroppedImagePage, error) {
	return &domain.CroppedImagePage{
		Results:  []*domain.CroppedImage{{ID: "7", Image: "crops/a.png"}},
		Page:     filter.Page,
		PageSize: filter.PageSize,
		Count:    1,
	}, nil
}

func (r *mockCroppedImageRepository) Update(ctx context.Context, id string, patch domain.CroppedImagePatch) (*domain.CroppedImage, error) {
	return &domain.CroppedImage{ID: domain.ID(id)}, nil
}

func (r *mockCroppedImageRepository) Delete(ctx context.Context, id string) error {
	r.deleted = append(r.deleted, id)
	return nil
}

type testAPI struct {
	router   http.Handler
	uploader *mockUploader
	images   *mockCroppedImageRepository
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := NewMockHandlerLogger()
	uploader := &mockUploader{}
	images := &mockCroppedImageRepository{}

	sessions := service.NewSessionManager(mockOpener{}, uploader, nil, service.SessionOptions{
		MinBoxSize:     38,
		ResizeFloor:    10,
		DefaultZoom:    1,
		Grouping:       true,
		RequireChapter: true,
		Target:         domain.TargetRemote,
	}, logger)
	t.Cleanup(sessions.CloseAll)

	taxonomy := service.NewTaxonomyService(mockTaxonomyRepository{}, nil, domain.TargetRemote, logger)
	cropped := service.NewCroppedImageService(images, "http://catalog.test", logger)

	router := NewRouter(
		NewSessionHandler(sessions, 1<<20, 0, logger),
		NewTaxonomyHandler(taxonomy, logger),
		NewCroppedImageHandler(cropped, logger),
		nil,
		func(next http.Handler) http.Handler { return next },
	)
	return &testAPI{router: router, uploader: uploader, images: images}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func (a *testAPI) openDocument(t *testing.T, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	_, _ = fw.Write(data)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode %q: %v", rr.Body.String(), err)
	}
}

func TestNewRouter_Health(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodGet, "/health", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected response body: %s", rr.Body.String())
	}
}

func TestSessionAPI_DrawAndUpload(t *testing.T) {
	api := newTestAPI(t)

	rr := api.openDocument(t, "chapter.pdf", []byte("%PDF-1.7\n%fake\n"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}
	var view service.SessionView
	decodeBody(t, rr, &view)
	if view.ID == "" || view.PageCount != 2 || view.Page != 1 {
		t.Fatalf("unexpected session view: %+v", view)
	}
	base := "/api/v1/sessions/" + view.ID

	rr = api.do(t, http.MethodGet, base+"/pages/1/image", nil)
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("expected png page, got %d %s", rr.Code, rr.Header().Get("Content-Type"))
	}
	if got := rr.Header().Get("X-Viewport-Scale"); got != "1" {
		t.Fatalf("expected viewport scale 1, got %q", got)
	}

	// Drawing is refused until a chapter is picked.
	api.do(t, http.MethodPost, base+"/pointer", map[string]interface{}{"page": 1, "type": "down", "x": 10, "y": 10})
	api.do(t, http.MethodPost, base+"/pointer", map[string]interface{}{"page": 1, "type": "move", "x": 200, "y": 150})
	rr = api.do(t, http.MethodPost, base+"/pointer", map[string]interface{}{"page": 1, "type": "up", "x": 200, "y": 150})
	var res service.GestureResult
	decodeBody(t, rr, &res)
	if res.Outcome != service.OutcomeRejected || res.Reason != service.RejectMissingPrerequisite {
		t.Fatalf("expected missing prerequisite rejection, got %+v", res)
	}

	rr = api.do(t, http.MethodPut, base+"/defaults", domain.Classification{
		ClassID: "1", SubjectID: "2", ChapterID: "3", ImageType: "4",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	api.do(t, http.MethodPost, base+"/pointer", map[string]interface{}{"page": 1, "type": "down", "x": 10, "y": 10})
	api.do(t, http.MethodPost, base+"/pointer", map[string]interface{}{"page": 1, "type": "move", "x": 200, "y": 150})
	rr = api.do(t, http.MethodPost, base+"/pointer", map[string]interface{}{"page": 1, "type": "up", "x": 200, "y": 150})
	res = service.GestureResult{}
	decodeBody(t, rr, &res)
	if res.Outcome != service.OutcomeCreated || res.Selection == nil {
		t.Fatalf("expected created selection, got %+v", res)
	}

	rr = api.do(t, http.MethodGet, base+"/selections", nil)
	var sels []domain.LabeledSelection
	decodeBody(t, rr, &sels)
	if len(sels) != 1 || sels[0].Label != "1" {
		t.Fatalf("expected one selection labeled 1, got %+v", sels)
	}

	// Open sessions with selections refuse a plain close.
	rr = api.do(t, http.MethodDelete, base, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, rr.Code)
	}

	rr = api.do(t, http.MethodPost, base+"/upload", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	if len(api.uploader.batches) != 1 || len(api.uploader.batches[0]) != 1 {
		t.Fatalf("expected one batch of one item, got %v", api.uploader.batches)
	}
	item := api.uploader.batches[0][0]
	if item.Meta.ChapterID != "3" || item.Meta.ImageType != "4" || item.Image == nil {
		t.Fatalf("unexpected upload item: %+v", item)
	}

	rr = api.do(t, http.MethodGet, base+"/selections", nil)
	sels = nil
	decodeBody(t, rr, &sels)
	if len(sels) != 0 {
		t.Fatalf("expected uploaded selections to be removed, got %d", len(sels))
	}

	rr = api.do(t, http.MethodDelete, base, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rr.Code)
	}
	rr = api.do(t, http.MethodGet, base, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status %d after close, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestSessionAPI_RejectsNonPDF(t *testing.T) {
	api := newTestAPI(t)

	rr := api.openDocument(t, "notes.txt", []byte("hello"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}

	rr = api.openDocument(t, "fake.pdf", []byte("not really a pdf"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestSessionAPI_ViewValidation(t *testing.T) {
	api := newTestAPI(t)
	rr := api.openDocument(t, "chapter.pdf", []byte("%PDF-1.7\n"))
	var view service.SessionView
	decodeBody(t, rr, &view)
	base := "/api/v1/sessions/" + view.ID

	rr = api.do(t, http.MethodPut, base+"/view", map[string]interface{}{"page": 9})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d for bad page, got %d", http.StatusBadRequest, rr.Code)
	}
	rr = api.do(t, http.MethodPut, base+"/view", map[string]interface{}{"mode": "erase"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d for bad mode, got %d", http.StatusBadRequest, rr.Code)
	}
	rr = api.do(t, http.MethodPut, base+"/view", map[string]interface{}{"page": 2, "zoom_action": "in", "mode": "select"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	decodeBody(t, rr, &view)
	if view.Page != 2 || view.Zoom != 1.25 || view.Mode != domain.ModeSelect {
		t.Fatalf("unexpected view after update: %+v", view)
	}

	rr = api.do(t, http.MethodGet, "/api/v1/sessions/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestTaxonomyAPI(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodGet, "/api/v1/taxonomy/classes", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var items []domain.TaxonomyItem
	decodeBody(t, rr, &items)
	if len(items) != 1 || items[0].Name != "Class 10" {
		t.Fatalf("unexpected classes: %+v", items)
	}

	rr = api.do(t, http.MethodGet, "/api/v1/taxonomy/planets", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}

	rr = api.do(t, http.MethodPost, "/api/v1/taxonomy/concept-tree", map[string]string{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d without chapter, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestCroppedImageAPI(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodGet, "/api/v1/cropped-images?page=2&usage_types=1,3", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	var page domain.CroppedImagePage
	decodeBody(t, rr, &page)
	if page.Page != 2 || page.PageSize != 20 {
		t.Fatalf("unexpected paging: %+v", page)
	}
	if len(page.Results) != 1 || page.Results[0].ImageURL != "http://catalog.test/media/crops/a.png" {
		t.Fatalf("unexpected results: %+v", page.Results)
	}

	rr = api.do(t, http.MethodPatch, "/api/v1/cropped-images/7", map[string]string{"difficulty": "extreme"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}

	rr = api.do(t, http.MethodDelete, "/api/v1/cropped-images/7", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rr.Code)
	}
	if len(api.images.deleted) != 1 || api.images.deleted[0] != "7" {
		t.Fatalf("expected delete of 7, got %v", api.images.deleted)
	}
}

func TestSessionAPI_UploadOutlivesClientDisconnect(t *testing.T) {
	api := newTestAPI(t)

	rr := api.openDocument(t, "chapter.pdf", []byte("%PDF-1.7\n%fake\n"))
	var view service.SessionView
	decodeBody(t, rr, &view)
	base := "/api/v1/sessions/" + view.ID

	api.do(t, http.MethodPut, base+"/defaults", domain.Classification{
		ClassID: "1", SubjectID: "2", ChapterID: "3", ImageType: "4",
	})
	api.do(t, http.MethodPost, base+"/pointer", map[string]interface{}{"page": 1, "type": "down", "x": 10, "y": 10})
	api.do(t, http.MethodPost, base+"/pointer", map[string]interface{}{"page": 1, "type": "move", "x": 200, "y": 150})
	api.do(t, http.MethodPost, base+"/pointer", map[string]interface{}{"page": 1, "type": "up", "x": 200, "y": 150})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, base+"/upload", nil).WithContext(ctx)
	rr = httptest.NewRecorder()
	api.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	if len(api.uploader.batches) != 1 {
		t.Fatalf("expected the batch to be sent, got %d batches", len(api.uploader.batches))
	}
	rr = api.do(t, http.MethodGet, base+"/upload", nil)
	var status domain.UploadStatus
	decodeBody(t, rr, &status)
	if status.Uploading || status.LastError != "" {
		t.Fatalf("unexpected upload status %+v", status)
	}
}
