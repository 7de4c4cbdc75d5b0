package repository

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pdf-region-tagger/internal/domain"
	apperrors "pdf-region-tagger/pkg/errors"
	"pdf-region-tagger/pkg/logger"

	"github.com/google/go-cmp/cmp"
)

func quietLogger() domain.Logger {
	return logger.NewLoggerWithWriter("error", io.Discard)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *CatalogHTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewCatalogHTTPClient(srv.URL+"/", 5*time.Second, quietLogger())
}

func TestCatalogHTTPClient_ListDecodesNumericIDs(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/concepts/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`[{"id": 4, "name": "Velocity", "chapter_id": 12}]`))
	})

	items, err := client.List(context.Background(), domain.KindConcepts, domain.ParentFilter{ChapterID: "12"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if gotQuery != "chapter_id=12" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	want := []domain.TaxonomyItem{{ID: "4", Name: "Velocity", ChapterID: "12"}}
	if d := cmp.Diff(want, items); d != "" {
		t.Fatalf("unexpected items (-want +got):\n%s", d)
	}
}

func TestCatalogHTTPClient_SaveBulkWireFormat(t *testing.T) {
	var body map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/concepts/bulk/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"created_id_map": [{"client_id": "tmp-1", "id": 77}]}`))
	})

	res, err := client.SaveBulk(context.Background(), domain.KindConcepts, domain.BulkChange{
		Create: []domain.TaxonomyItem{{ID: "tmp-1", Name: "Momentum", ChapterID: "12"}},
		Update: []domain.TaxonomyItem{{ID: "4", Name: "Velocity", ChapterID: "12"}},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.CreatedIDs["tmp-1"] != "77" {
		t.Fatalf("expected tmp-1 mapped to 77, got %v", res.CreatedIDs)
	}

	want := map[string]interface{}{
		"create": []interface{}{map[string]interface{}{"client_id": "tmp-1", "name": "Momentum", "chapter": "12"}},
		"update": []interface{}{map[string]interface{}{"id": "4", "name": "Velocity", "chapter": "12"}},
		"delete": []interface{}{},
	}
	if d := cmp.Diff(want, body); d != "" {
		t.Fatalf("unexpected body (-want +got):\n%s", d)
	}
}

func TestCatalogHTTPClient_ListCroppedImagesQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("page_size") != "10" || q.Get("usage_types") != "1,3" || q.Get("chapter") != "12" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Has("topic") {
			t.Errorf("expected empty filters omitted")
		}
		_, _ = w.Write([]byte(`{"results": [{"id": 9, "image": "cropped/9.png", "usage_types": [{"id": 1, "name": "Exam"}]}], "count": 31}`))
	})

	page, err := client.ListCroppedImages(context.Background(), domain.CroppedImageFilter{
		Page: 2, PageSize: 10, Chapter: "12", UsageTypes: []string{"1", "3"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if page.Count != 31 || page.Page != 2 || page.PageSize != 10 {
		t.Fatalf("unexpected page meta %+v", page)
	}
	if page.Results[0].ID != "9" || page.Results[0].UsageTypes[0].ID != "1" {
		t.Fatalf("unexpected result %+v", page.Results[0])
	}
}

func TestCatalogHTTPClient_UpdateCroppedImagePayload(t *testing.T) {
	var body map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/cropped-images/9/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"id": 9, "image": "cropped/9.png"}`))
	})

	empty, chapter, priority := "", "12", "3"
	verified := true
	_, err := client.UpdateCroppedImage(context.Background(), "9", domain.CroppedImagePatch{
		ClassName: &empty,
		Chapter:   &chapter,
		Concept:   &empty,
		Priority:  &priority,
		Verified:  &verified,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := map[string]interface{}{
		"chapter":  "12",
		"concept":  nil,
		"priority": float64(3),
		"verified": true,
	}
	if d := cmp.Diff(want, body); d != "" {
		t.Fatalf("unexpected body (-want +got):\n%s", d)
	}
}

func TestCatalogHTTPClient_ErrorMapping(t *testing.T) {
	status := http.StatusNotFound
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})

	if err := client.DeleteCroppedImage(context.Background(), "9"); !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	status = http.StatusInternalServerError
	if _, err := client.List(context.Background(), domain.KindClasses, domain.ParentFilter{}); !apperrors.IsType(err, apperrors.ErrorTypeNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	status = http.StatusNoContent
	if err := client.DeleteCroppedImage(context.Background(), "9"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func testItem(key string) *domain.UploadItem {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	return &domain.UploadItem{
		Key:         key,
		SelectionID: "sel-" + key,
		PageNo:      2,
		RectPdf:     domain.DocRect{X: 10, Y: 20, W: 30, H: 40},
		Meta:        domain.Classification{ClassID: "1", SubjectID: "2", ChapterID: "3", ImageType: "4"},
		Image:       img,
	}
}

func TestCatalogHTTPClient_UploadBatchMultipart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/cropped-images/bulk/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("expected multipart body, got %v", err)
			return
		}
		for _, key := range []string{"image_0", "image_1"} {
			f, _, err := r.FormFile(key)
			if err != nil {
				t.Errorf("missing part %s: %v", key, err)
				continue
			}
			img, err := png.Decode(f)
			f.Close()
			if err != nil || img.Bounds().Dx() != 4 || img.Bounds().Dy() != 3 {
				t.Errorf("part %s is not the 4x3 png: %v", key, err)
			}
		}
		var rows []map[string]interface{}
		if err := json.Unmarshal([]byte(r.FormValue("items")), &rows); err != nil {
			t.Errorf("bad items json: %v", err)
			return
		}
		if len(rows) != 2 || rows[1]["image_key"] != "image_1" || rows[0]["chapter"] != "3" || rows[0]["concept"] != nil {
			t.Errorf("unexpected items %v", rows)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"count": 2, "ids": [101, 102]}`))
	})

	receipt, err := client.UploadBatch(context.Background(), []*domain.UploadItem{testItem("image_0"), testItem("image_1")})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if d := cmp.Diff(&domain.UploadReceipt{Count: 2, IDs: []string{"101", "102"}}, receipt); d != "" {
		t.Fatalf("unexpected receipt (-want +got):\n%s", d)
	}
}

func TestCatalogHTTPClient_UploadBatchSurfacesBackendMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`chapter: this field is required`))
	})

	_, err := client.UploadBatch(context.Background(), []*domain.UploadItem{testItem("image_0")})
	if !apperrors.IsType(err, apperrors.ErrorTypeUpload) {
		t.Fatalf("expected upload error, got %v", err)
	}
	if msg := apperrors.Message(err); msg != "chapter: this field is required" {
		t.Fatalf("expected backend text, got %q", msg)
	}
}
