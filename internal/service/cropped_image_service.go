package service

import (
	"context"
	"strings"

	"pdf-region-tagger/internal/domain"
	apperrors "pdf-region-tagger/pkg/errors"
)

const (
	defaultImagePageSize = 20
	maxImagePageSize     = 100
)

// CroppedImageService lists, edits and deletes previously uploaded images.
type CroppedImageService struct {
	repo      domain.CroppedImageRepository
	mediaBase string
	logger    domain.Logger
}

// NewCroppedImageService creates a service. mediaBase is the origin that
// relative image paths are resolved against.
func NewCroppedImageService(repo domain.CroppedImageRepository, mediaBase string, logger domain.Logger) *CroppedImageService {
	return &CroppedImageService{
		repo:      repo,
		mediaBase: strings.TrimRight(mediaBase, "/"),
		logger:    logger,
	}
}

// List returns one page of images matching filter, each with an absolute
// image_url.
func (s *CroppedImageService) List(ctx context.Context, filter domain.CroppedImageFilter) (*domain.CroppedImagePage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = defaultImagePageSize
	}
	if filter.PageSize > maxImagePageSize {
		filter.PageSize = maxImagePageSize
	}
	if filter.Difficulty != "" && !domain.ValidDifficulty(filter.Difficulty) {
		return nil, apperrors.NewValidationError("invalid difficulty", filter.Difficulty)
	}

	page, err := s.repo.List(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to list cropped images", err)
		return nil, err
	}
	if page.Results == nil {
		page.Results = []*domain.CroppedImage{}
	}
	for _, img := range page.Results {
		img.ImageURL = s.MediaURL(img.Image)
	}
	return page, nil
}

// Update applies patch to one image.
func (s *CroppedImageService) Update(ctx context.Context, id string, patch domain.CroppedImagePatch) (*domain.CroppedImage, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.NewValidationError("image id is required")
	}
	if patch.Difficulty != nil && *patch.Difficulty != "" && !domain.ValidDifficulty(*patch.Difficulty) {
		return nil, apperrors.NewValidationError("invalid difficulty", *patch.Difficulty)
	}
	for name, v := range map[string]*string{
		"image_type": patch.ImageType,
		"class_name": patch.ClassName,
		"subject":    patch.Subject,
		"chapter":    patch.Chapter,
	} {
		if v != nil && *v == "" {
			return nil, apperrors.NewValidationError("required field cannot be cleared", name)
		}
	}

	img, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		s.logger.Error("Failed to update cropped image", err, "id", id)
		return nil, err
	}
	img.ImageURL = s.MediaURL(img.Image)
	s.logger.Info("Cropped image updated", "id", id)
	return img, nil
}

// Delete removes one image.
func (s *CroppedImageService) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.NewValidationError("image id is required")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.Error("Failed to delete cropped image", err, "id", id)
		return err
	}
	s.logger.Info("Cropped image deleted", "id", id)
	return nil
}

// MediaURL resolves a stored image path. Absolute URLs are kept, paths
// under media/ are joined to the base and bare names go under /media/.
func (s *CroppedImageService) MediaURL(image string) string {
	switch {
	case image == "":
		return ""
	case strings.HasPrefix(image, "http://"), strings.HasPrefix(image, "https://"):
		return image
	case strings.HasPrefix(image, "/media/"):
		return s.mediaBase + image
	case strings.HasPrefix(image, "media/"):
		return s.mediaBase + "/" + image
	}
	return s.mediaBase + "/media/" + image
}
