package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"pdf-region-tagger/internal/domain"
	apperrors "pdf-region-tagger/pkg/errors"

	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"
	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
)

const croppedImagesTable = "cropped_images"

// SupabaseCatalogRepository keeps the taxonomy and cropped image rows in
// Supabase tables and the image blobs in a storage bucket.
type SupabaseCatalogRepository struct {
	supabaseClient domain.SupabaseClient
	logger         domain.Logger
}

func NewSupabaseCatalogRepository(supabaseClient domain.SupabaseClient, logger domain.Logger) *SupabaseCatalogRepository {
	return &SupabaseCatalogRepository{
		supabaseClient: supabaseClient,
		logger:         logger,
	}
}

func (r *SupabaseCatalogRepository) db() (*supabase.Client, error) {
	client := r.supabaseClient.DB()
	if client == nil {
		return nil, domain.ErrCatalogNotReady
	}
	return client, nil
}

func taxonomyTable(kind domain.TaxonomyKind) string {
	return strings.ReplaceAll(string(kind), "-", "_")
}

// taxonomyColumns is the table row for an item, using the same parent
// column names the list endpoint returns.
func taxonomyColumns(it domain.TaxonomyItem) map[string]interface{} {
	row := map[string]interface{}{"name": it.Name}
	for col, v := range map[string]domain.ID{
		"class_name_id": it.ClassID,
		"subject_id":    it.SubjectID,
		"chapter_id":    it.ChapterID,
		"concept_id":    it.ConceptID,
	} {
		if v != "" {
			row[col] = string(v)
		}
	}
	return row
}

func (r *SupabaseCatalogRepository) List(ctx context.Context, kind domain.TaxonomyKind, filter domain.ParentFilter) ([]domain.TaxonomyItem, error) {
	client, err := r.db()
	if err != nil {
		return nil, err
	}

	q := client.From(taxonomyTable(kind)).Select("*", "", false)
	for col, v := range map[string]string{
		"class_name_id": filter.ClassID,
		"subject_id":    filter.SubjectID,
		"chapter_id":    filter.ChapterID,
		"concept_id":    filter.ConceptID,
	} {
		if v != "" {
			q = q.Eq(col, v)
		}
	}
	data, _, err := q.Order("id", &postgrest.OrderOpts{Ascending: true}).Execute()
	if err != nil {
		return nil, apperrors.NewNetworkError(fmt.Sprintf("failed to list %s", kind), err)
	}

	items := []domain.TaxonomyItem{}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return items, nil
}

// SaveBulk inserts creates one at a time so each client id maps to the row
// the database assigned, then applies updates and deletes.
func (r *SupabaseCatalogRepository) SaveBulk(ctx context.Context, kind domain.TaxonomyKind, change domain.BulkChange) (*domain.BulkResult, error) {
	client, err := r.db()
	if err != nil {
		return nil, err
	}
	table := taxonomyTable(kind)
	result := &domain.BulkResult{CreatedIDs: make(map[string]string, len(change.Create))}

	for _, it := range change.Create {
		data, _, err := client.From(table).
			Insert(taxonomyColumns(it), false, "", "representation", "").
			Execute()
		if err != nil {
			return nil, apperrors.NewUploadError(fmt.Sprintf("failed to create %s %q", kind, it.Name), err)
		}
		var rows []domain.TaxonomyItem
		if err := json.Unmarshal(data, &rows); err != nil || len(rows) == 0 {
			return nil, fmt.Errorf("failed to read created %s row", kind)
		}
		if it.ID != "" {
			result.CreatedIDs[string(it.ID)] = string(rows[0].ID)
		}
	}

	for _, it := range change.Update {
		_, _, err := client.From(table).
			Update(taxonomyColumns(it), "", "").
			Eq("id", string(it.ID)).
			Execute()
		if err != nil {
			return nil, apperrors.NewUploadError(fmt.Sprintf("failed to update %s %s", kind, it.ID), err)
		}
	}

	if len(change.Delete) > 0 {
		_, _, err := client.From(table).
			Delete("", "").
			In("id", change.Delete).
			Execute()
		if err != nil {
			return nil, apperrors.NewUploadError(fmt.Sprintf("failed to delete %s", kind), err)
		}
	}

	r.logger.Info("Taxonomy rows saved", "table", table,
		"created", len(change.Create), "updated", len(change.Update), "deleted", len(change.Delete))
	return result, nil
}

type croppedImageRow struct {
	ID            domain.ID       `json:"id"`
	Image         string          `json:"image"`
	ImageType     domain.ID       `json:"image_type"`
	ClassName     domain.ID       `json:"class_name"`
	Subject       domain.ID       `json:"subject"`
	Chapter       domain.ID       `json:"chapter"`
	Concept       domain.ID       `json:"concept"`
	Topic         domain.ID       `json:"topic"`
	QuestionType  domain.ID       `json:"question_type"`
	Source        domain.ID       `json:"source"`
	Difficulty    *string         `json:"difficulty"`
	Marks         *float64        `json:"marks"`
	UsageTypes    []domain.ID     `json:"usage_types"`
	Priority      *int            `json:"priority"`
	Verified      bool            `json:"verified"`
	IsActive      bool            `json:"is_active"`
	PageNo        int             `json:"page_no"`
	RectPdf       *domain.DocRect `json:"rect_pdf"`
	QuestionGroup *string         `json:"question_group"`
}

func (r *SupabaseCatalogRepository) toCroppedImage(client *supabase.Client, row croppedImageRow) *domain.CroppedImage {
	img := &domain.CroppedImage{
		ID:           row.ID,
		Image:        row.Image,
		ImageType:    row.ImageType,
		ClassName:    row.ClassName,
		Subject:      row.Subject,
		Chapter:      row.Chapter,
		Concept:      row.Concept,
		Topic:        row.Topic,
		QuestionType: row.QuestionType,
		Source:       row.Source,
		Marks:        row.Marks,
		UsageTypes:   make([]domain.TaxonomyRef, 0, len(row.UsageTypes)),
		Priority:     row.Priority,
		Verified:     row.Verified,
		IsActive:     row.IsActive,
		PageNo:       row.PageNo,
		RectPdf:      row.RectPdf,
	}
	if row.Difficulty != nil {
		img.Difficulty = *row.Difficulty
	}
	if row.QuestionGroup != nil {
		img.QuestionGroup = *row.QuestionGroup
	}
	for _, id := range row.UsageTypes {
		img.UsageTypes = append(img.UsageTypes, domain.TaxonomyRef{ID: id})
	}
	if row.Image != "" && client.Storage != nil {
		img.Image = client.Storage.GetPublicUrl(r.supabaseClient.Bucket(), row.Image).SignedURL
	}
	return img
}

func (r *SupabaseCatalogRepository) ListCroppedImages(ctx context.Context, filter domain.CroppedImageFilter) (*domain.CroppedImagePage, error) {
	client, err := r.db()
	if err != nil {
		return nil, err
	}

	q := client.From(croppedImagesTable).Select("*", "exact", false)
	for col, v := range map[string]string{
		"image_type":    filter.ImageType,
		"question_type": filter.QuestionType,
		"difficulty":    filter.Difficulty,
		"marks":         filter.Marks,
		"source":        filter.Source,
		"is_active":     filter.IsActive,
		"verified":      filter.Verified,
		"priority":      filter.Priority,
		"class_name":    filter.ClassName,
		"subject":       filter.Subject,
		"chapter":       filter.Chapter,
		"concept":       filter.Concept,
		"topic":         filter.Topic,
	} {
		if v != "" {
			q = q.Eq(col, v)
		}
	}
	if len(filter.UsageTypes) > 0 {
		q = q.Filter("usage_types", "cs", "{"+strings.Join(filter.UsageTypes, ",")+"}")
	}
	from := (filter.Page - 1) * filter.PageSize
	data, count, err := q.
		Order("id", &postgrest.OrderOpts{Ascending: false}).
		Range(from, from+filter.PageSize-1, "").
		Execute()
	if err != nil {
		return nil, apperrors.NewNetworkError("failed to list cropped images", err)
	}

	var rows []croppedImageRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	page := &domain.CroppedImagePage{
		Results:  make([]*domain.CroppedImage, 0, len(rows)),
		Page:     filter.Page,
		PageSize: filter.PageSize,
		Count:    int(count),
	}
	for _, row := range rows {
		page.Results = append(page.Results, r.toCroppedImage(client, row))
	}
	return page, nil
}

func (r *SupabaseCatalogRepository) UpdateCroppedImage(ctx context.Context, id string, patch domain.CroppedImagePatch) (*domain.CroppedImage, error) {
	client, err := r.db()
	if err != nil {
		return nil, err
	}
	fields, err := patchFields(patch)
	if err != nil {
		return nil, err
	}

	data, _, err := client.From(croppedImagesTable).
		Update(fields, "representation", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return nil, apperrors.NewUploadError("failed to update cropped image", err)
	}
	var rows []croppedImageRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(rows) == 0 {
		return nil, apperrors.NewNotFoundError("cropped image not found")
	}
	return r.toCroppedImage(client, rows[0]), nil
}

// DeleteCroppedImage removes the row and then its blob. A blob that cannot
// be removed is only logged.
func (r *SupabaseCatalogRepository) DeleteCroppedImage(ctx context.Context, id string) error {
	client, err := r.db()
	if err != nil {
		return err
	}

	data, _, err := client.From(croppedImagesTable).
		Delete("representation", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return apperrors.NewUploadError("failed to delete cropped image", err)
	}
	var rows []croppedImageRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(rows) == 0 {
		return apperrors.NewNotFoundError("cropped image not found")
	}
	if path := rows[0].Image; path != "" {
		if _, err := client.Storage.RemoveFile(r.supabaseClient.Bucket(), []string{path}); err != nil {
			r.logger.Warn("Failed to remove image blob", "path", path, "error", err)
		}
	}
	return nil
}

// UploadBatch stores every image in the bucket and then inserts all rows in
// one statement. If anything fails the blobs uploaded so far are removed.
func (r *SupabaseCatalogRepository) UploadBatch(ctx context.Context, items []*domain.UploadItem) (*domain.UploadReceipt, error) {
	client, err := r.db()
	if err != nil {
		return nil, err
	}
	bucket := r.supabaseClient.Bucket()

	var uploaded []string
	rollback := func() {
		if len(uploaded) == 0 {
			return
		}
		if _, err := client.Storage.RemoveFile(bucket, uploaded); err != nil {
			r.logger.Error("Failed to roll back uploaded blobs", err, "count", len(uploaded))
		}
	}

	contentType := "image/png"
	rows := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			rollback()
			return nil, err
		}
		data, err := encodePNG(item)
		if err != nil {
			rollback()
			return nil, apperrors.NewExtractionError(item.SelectionID, err)
		}
		path := fmt.Sprintf("page%03d/%s.png", item.PageNo, uuid.New().String())
		if _, err := client.Storage.UploadFile(bucket, path, bytes.NewReader(data), storage_go.FileOptions{ContentType: &contentType}); err != nil {
			rollback()
			return nil, apperrors.NewUploadError(fmt.Sprintf("failed to store image for selection %s", item.SelectionID), err)
		}
		uploaded = append(uploaded, path)

		row := uploadItemFields(item)
		row["image"] = path
		rows = append(rows, row)
	}

	data, _, err := client.From(croppedImagesTable).
		Insert(rows, false, "", "representation", "").
		Execute()
	if err != nil {
		rollback()
		return nil, apperrors.NewUploadError(err.Error(), err)
	}

	var inserted []croppedImageRow
	if err := json.Unmarshal(data, &inserted); err != nil {
		r.logger.Warn("Insert response not understood", "error", err)
	}
	receipt := &domain.UploadReceipt{Count: len(items)}
	for _, row := range inserted {
		receipt.IDs = append(receipt.IDs, string(row.ID))
	}
	r.logger.Info("Cropped images stored", "count", len(items), "bucket", bucket)
	return receipt, nil
}

// CroppedImages adapts the repository to domain.CroppedImageRepository.
func (r *SupabaseCatalogRepository) CroppedImages() domain.CroppedImageRepository {
	return croppedImagesSupabase{r}
}

type croppedImagesSupabase struct{ r *SupabaseCatalogRepository }

func (c croppedImagesSupabase) List(ctx context.Context, filter domain.CroppedImageFilter) (*domain.CroppedImagePage, error) {
	return c.r.ListCroppedImages(ctx, filter)
}

func (c croppedImagesSupabase) Update(ctx context.Context, id string, patch domain.CroppedImagePatch) (*domain.CroppedImage, error) {
	return c.r.UpdateCroppedImage(ctx, id, patch)
}

func (c croppedImagesSupabase) Delete(ctx context.Context, id string) error {
	return c.r.DeleteCroppedImage(ctx, id)
}

