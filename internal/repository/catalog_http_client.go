package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pdf-region-tagger/internal/domain"
	apperrors "pdf-region-tagger/pkg/errors"
)

const maxErrorBody = 4 << 10

// CatalogHTTPClient talks to the catalog REST API. It serves taxonomy
// lists, cropped image management and bulk uploads.
type CatalogHTTPClient struct {
	baseURL string
	client  *http.Client
	logger  domain.Logger
}

// NewCatalogHTTPClient creates a client for the API rooted at baseURL.
func NewCatalogHTTPClient(baseURL string, timeout time.Duration, logger domain.Logger) *CatalogHTTPClient {
	return &CatalogHTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// List fetches one taxonomy kind, optionally narrowed by parent ids.
func (c *CatalogHTTPClient) List(ctx context.Context, kind domain.TaxonomyKind, filter domain.ParentFilter) ([]domain.TaxonomyItem, error) {
	q := url.Values{}
	setIfNotEmpty(q, "class_name_id", filter.ClassID)
	setIfNotEmpty(q, "subject_id", filter.SubjectID)
	setIfNotEmpty(q, "chapter_id", filter.ChapterID)
	setIfNotEmpty(q, "concept_id", filter.ConceptID)

	var items []domain.TaxonomyItem
	if err := c.doJSON(ctx, http.MethodGet, "/api/"+string(kind)+"/", q, nil, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.TaxonomyItem{}
	}
	return items, nil
}

type bulkResponse struct {
	CreatedIDMap []struct {
		ClientID domain.ID `json:"client_id"`
		ID       domain.ID `json:"id"`
	} `json:"created_id_map"`
}

// SaveBulk posts creates, updates and deletes for one kind in one request.
func (c *CatalogHTTPClient) SaveBulk(ctx context.Context, kind domain.TaxonomyKind, change domain.BulkChange) (*domain.BulkResult, error) {
	create := make([]map[string]interface{}, 0, len(change.Create))
	for _, it := range change.Create {
		create = append(create, bulkCreateRow(kind, it))
	}
	update := make([]map[string]interface{}, 0, len(change.Update))
	for _, it := range change.Update {
		update = append(update, bulkUpdateRow(kind, it))
	}
	del := change.Delete
	if del == nil {
		del = []string{}
	}
	body := map[string]interface{}{"create": create, "update": update, "delete": del}

	var resp bulkResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/"+string(kind)+"/bulk/", nil, body, &resp); err != nil {
		return nil, err
	}
	result := &domain.BulkResult{CreatedIDs: make(map[string]string, len(resp.CreatedIDMap))}
	for _, pair := range resp.CreatedIDMap {
		if pair.ClientID != "" {
			result.CreatedIDs[string(pair.ClientID)] = string(pair.ID)
		}
	}
	c.logger.Info("Catalog bulk save", "kind", kind, "created", len(create), "updated", len(update), "deleted", len(del))
	return result, nil
}

// ListCroppedImages implements domain.CroppedImageRepository.
func (c *CatalogHTTPClient) ListCroppedImages(ctx context.Context, filter domain.CroppedImageFilter) (*domain.CroppedImagePage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(filter.Page))
	q.Set("page_size", strconv.Itoa(filter.PageSize))
	for key, v := range map[string]string{
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
		setIfNotEmpty(q, key, v)
	}
	if len(filter.UsageTypes) > 0 {
		q.Set("usage_types", strings.Join(filter.UsageTypes, ","))
	}

	var page domain.CroppedImagePage
	if err := c.doJSON(ctx, http.MethodGet, "/api/cropped-images/", q, nil, &page); err != nil {
		return nil, err
	}
	if page.Page == 0 {
		page.Page = filter.Page
	}
	if page.PageSize == 0 {
		page.PageSize = filter.PageSize
	}
	return &page, nil
}

// UpdateCroppedImage sends a partial update.
func (c *CatalogHTTPClient) UpdateCroppedImage(ctx context.Context, id string, patch domain.CroppedImagePatch) (*domain.CroppedImage, error) {
	fields, err := patchFields(patch)
	if err != nil {
		return nil, err
	}
	var img domain.CroppedImage
	if err := c.doJSON(ctx, http.MethodPatch, "/api/cropped-images/"+url.PathEscape(id)+"/", nil, fields, &img); err != nil {
		return nil, err
	}
	return &img, nil
}

// DeleteCroppedImage removes one image.
func (c *CatalogHTTPClient) DeleteCroppedImage(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/cropped-images/"+url.PathEscape(id)+"/", nil, nil, nil)
}

// UploadBatch posts every item in one multipart request: an image_<n> PNG
// part per item plus an items JSON array whose image_key names the part.
func (c *CatalogHTTPClient) UploadBatch(ctx context.Context, items []*domain.UploadItem) (*domain.UploadReceipt, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	rows := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		data, err := encodePNG(item)
		if err != nil {
			return nil, apperrors.NewExtractionError(item.SelectionID, err)
		}
		part, err := mw.CreateFormFile(item.Key, item.Key+".png")
		if err != nil {
			return nil, apperrors.NewInternalError("failed to build upload request", err)
		}
		if _, err := part.Write(data); err != nil {
			return nil, apperrors.NewInternalError("failed to build upload request", err)
		}
		row := uploadItemFields(item)
		row["image_key"] = item.Key
		rows = append(rows, row)
	}
	itemsJSON, err := json.Marshal(rows)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode upload items", err)
	}
	if err := mw.WriteField("items", string(itemsJSON)); err != nil {
		return nil, apperrors.NewInternalError("failed to build upload request", err)
	}
	if err := mw.Close(); err != nil {
		return nil, apperrors.NewInternalError("failed to build upload request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/cropped-images/bulk/", &buf)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build upload request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.NewNetworkError("catalog unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := readErrorBody(resp)
		c.logger.Warn("Bulk upload rejected", "status", resp.StatusCode, "body", text)
		return nil, apperrors.NewUploadError(text, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	var out struct {
		Count int         `json:"count"`
		IDs   []domain.ID `json:"ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		c.logger.Warn("Bulk upload response not understood", "error", err)
	}
	receipt := &domain.UploadReceipt{Count: out.Count}
	if receipt.Count == 0 {
		receipt.Count = len(items)
	}
	for _, id := range out.IDs {
		receipt.IDs = append(receipt.IDs, string(id))
	}
	c.logger.Info("Bulk upload accepted", "count", receipt.Count)
	return receipt, nil
}

func (c *CatalogHTTPClient) doJSON(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.NewInternalError("failed to encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return apperrors.NewInternalError("failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("Catalog request failed", err, "method", method, "path", path)
		return apperrors.NewNetworkError("catalog unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NewNotFoundError(fmt.Sprintf("%s not found", path))
	case resp.StatusCode == http.StatusBadRequest:
		return apperrors.NewValidationError("catalog rejected the request", readErrorBody(resp))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		text := readErrorBody(resp)
		c.logger.Warn("Catalog returned an error", "method", method, "path", path, "status", resp.StatusCode)
		return apperrors.NewNetworkError(text, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewNetworkError("unexpected catalog response", err)
	}
	return nil
}

// readErrorBody returns the response text, or "HTTP <status>" when empty.
func readErrorBody(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if text := strings.TrimSpace(string(data)); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}

func setIfNotEmpty(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

// CroppedImages adapts the client to domain.CroppedImageRepository.
func (c *CatalogHTTPClient) CroppedImages() domain.CroppedImageRepository {
	return croppedImagesHTTP{c}
}

type croppedImagesHTTP struct{ c *CatalogHTTPClient }

func (r croppedImagesHTTP) List(ctx context.Context, filter domain.CroppedImageFilter) (*domain.CroppedImagePage, error) {
	return r.c.ListCroppedImages(ctx, filter)
}

func (r croppedImagesHTTP) Update(ctx context.Context, id string, patch domain.CroppedImagePatch) (*domain.CroppedImage, error) {
	return r.c.UpdateCroppedImage(ctx, id, patch)
}

func (r croppedImagesHTTP) Delete(ctx context.Context, id string) error {
	return r.c.DeleteCroppedImage(ctx, id)
}
