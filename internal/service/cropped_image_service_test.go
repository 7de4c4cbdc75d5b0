package service

import (
	"context"
	"errors"
	"testing"

	"pdf-region-tagger/internal/domain"
	apperrors "pdf-region-tagger/pkg/errors"
)

type MockCroppedImageRepository struct {
	images      []*domain.CroppedImage
	lastFilter  domain.CroppedImageFilter
	lastPatch   domain.CroppedImagePatch
	deleted     []string
	updateCalls int
	err         error
}

func (m *MockCroppedImageRepository) List(ctx context.Context, filter domain.CroppedImageFilter) (*domain.CroppedImagePage, error) {
	m.lastFilter = filter
	if m.err != nil {
		return nil, m.err
	}
	return &domain.CroppedImagePage{Results: m.images, Page: filter.Page, PageSize: filter.PageSize, Count: len(m.images)}, nil
}

func (m *MockCroppedImageRepository) Update(ctx context.Context, id string, patch domain.CroppedImagePatch) (*domain.CroppedImage, error) {
	m.updateCalls++
	m.lastPatch = patch
	if m.err != nil {
		return nil, m.err
	}
	return &domain.CroppedImage{ID: domain.ID(id), Image: "cropped/" + id + ".png"}, nil
}

func (m *MockCroppedImageRepository) Delete(ctx context.Context, id string) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func strPtr(s string) *string { return &s }

func TestCroppedImageService_MediaURL(t *testing.T) {
	svc := NewCroppedImageService(&MockCroppedImageRepository{}, "http://localhost:8000/", NewMockLogger())

	tests := []struct {
		name  string
		image string
		want  string
	}{
		{"empty", "", ""},
		{"absolute http", "http://cdn.example.com/a.png", "http://cdn.example.com/a.png"},
		{"absolute https", "https://cdn.example.com/a.png", "https://cdn.example.com/a.png"},
		{"rooted media", "/media/cropped/a.png", "http://localhost:8000/media/cropped/a.png"},
		{"relative media", "media/cropped/a.png", "http://localhost:8000/media/cropped/a.png"},
		{"bare name", "cropped/a.png", "http://localhost:8000/media/cropped/a.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.MediaURL(tt.image); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCroppedImageService_ListDefaultsAndURLs(t *testing.T) {
	repo := &MockCroppedImageRepository{images: []*domain.CroppedImage{{ID: "1", Image: "cropped/1.png"}}}
	svc := NewCroppedImageService(repo, "http://localhost:8000", NewMockLogger())

	page, err := svc.List(context.Background(), domain.CroppedImageFilter{PageSize: 500, UsageTypes: []string{"2", "3"}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if repo.lastFilter.Page != 1 || repo.lastFilter.PageSize != 100 {
		t.Fatalf("expected page 1 size 100, got %d %d", repo.lastFilter.Page, repo.lastFilter.PageSize)
	}
	if page.Results[0].ImageURL != "http://localhost:8000/media/cropped/1.png" {
		t.Fatalf("unexpected image url %q", page.Results[0].ImageURL)
	}

	if _, err := svc.List(context.Background(), domain.CroppedImageFilter{Difficulty: "brutal"}); !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCroppedImageService_UpdateRejectsClearingRequired(t *testing.T) {
	repo := &MockCroppedImageRepository{}
	svc := NewCroppedImageService(repo, "http://localhost:8000", NewMockLogger())

	_, err := svc.Update(context.Background(), "7", domain.CroppedImagePatch{Chapter: strPtr("")})
	if !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if repo.updateCalls != 0 {
		t.Fatalf("expected no repository call")
	}

	img, err := svc.Update(context.Background(), "7", domain.CroppedImagePatch{Concept: strPtr(""), Difficulty: strPtr("hard")})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if repo.lastPatch.Concept == nil || *repo.lastPatch.Concept != "" {
		t.Fatalf("expected concept clear forwarded")
	}
	if img.ImageURL != "http://localhost:8000/media/cropped/7.png" {
		t.Fatalf("unexpected image url %q", img.ImageURL)
	}
}

func TestCroppedImageService_Delete(t *testing.T) {
	repo := &MockCroppedImageRepository{}
	svc := NewCroppedImageService(repo, "", NewMockLogger())

	if err := svc.Delete(context.Background(), " "); !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := svc.Delete(context.Background(), "9"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != "9" {
		t.Fatalf("expected image 9 deleted, got %v", repo.deleted)
	}

	repo.err = errors.New("boom")
	if err := svc.Delete(context.Background(), "9"); err == nil {
		t.Fatalf("expected repository error")
	}
}
