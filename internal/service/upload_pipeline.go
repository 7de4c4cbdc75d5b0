package service

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"
	"sync"

	"pdf-region-tagger/internal/domain"
	apperrors "pdf-region-tagger/pkg/errors"

	xdraw "golang.org/x/image/draw"
)

// SurfaceSource returns the rendered raster of a page at a scale. The image
// must not be modified while the pipeline reads it.
type SurfaceSource interface {
	Surface(ctx context.Context, pageNo int, scale float64) (image.Image, error)
}

// UploadRequest is one snapshot of a session handed to the pipeline.
type UploadRequest struct {
	Selections []*domain.Selection
	Labels     map[string]string
	Defaults   domain.Classification
	Target     domain.PersistenceTarget
	Surfaces   SurfaceSource

	// Uploader is used for the remote target, Writer for the local one.
	Uploader domain.BulkUploader
	Writer   domain.ItemWriter
}

// UploadResult reports what was persisted.
type UploadResult struct {
	Target      domain.PersistenceTarget `json:"target"`
	Count       int                      `json:"count"`
	UploadedIDs []string                 `json:"uploaded_ids"`
	Receipt     *domain.UploadReceipt    `json:"receipt,omitempty"`
}

// UploadPipeline rasterizes selections and hands them to the persistence
// target. At most one run is in flight per pipeline.
type UploadPipeline struct {
	logger domain.Logger

	mu        sync.Mutex
	uploading bool
	progress  domain.UploadProgress
	lastError string
	message   string
}

// NewUploadPipeline creates an idle pipeline.
func NewUploadPipeline(logger domain.Logger) *UploadPipeline {
	return &UploadPipeline{logger: logger}
}

// Status returns the observable pipeline state.
func (p *UploadPipeline) Status() domain.UploadStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.UploadStatus{
		Uploading: p.uploading,
		Progress:  p.progress,
		LastError: p.lastError,
		Message:   p.message,
	}
}

// Uploading reports whether a run is in flight.
func (p *UploadPipeline) Uploading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uploading
}

// Run executes one upload. Remote runs are all-or-nothing: every selection is
// validated and extracted before a single bulk call. Local runs write items
// one at a time and return the ids written so far alongside any error.
func (p *UploadPipeline) Run(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if err := p.begin(len(req.Selections)); err != nil {
		return nil, err
	}

	var (
		result *UploadResult
		err    error
	)
	defer func() { p.finish(result, err) }()

	p.logger.Info("Upload started", "target", req.Target, "count", len(req.Selections))
	switch req.Target {
	case domain.TargetLocal:
		result, err = p.runLocal(ctx, req)
	default:
		result, err = p.runRemote(ctx, req)
	}
	return result, err
}

func (p *UploadPipeline) begin(total int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.uploading {
		return domain.ErrUploadInProgress
	}
	if total == 0 {
		p.message = domain.ErrNothingToUpload.Error()
		return domain.ErrNothingToUpload
	}
	p.uploading = true
	p.progress = domain.UploadProgress{Total: total}
	p.lastError = ""
	p.message = ""
	return nil
}

func (p *UploadPipeline) finish(result *UploadResult, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploading = false
	if err != nil {
		p.lastError = apperrors.Message(err)
		p.logger.Error("Upload failed", err)
		return
	}
	p.message = fmt.Sprintf("%d item(s) saved", result.Count)
	p.logger.Info("Upload finished", "target", result.Target, "count", result.Count)
}

func (p *UploadPipeline) advance() {
	p.mu.Lock()
	p.progress.Current++
	p.mu.Unlock()
}

func (p *UploadPipeline) runRemote(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if req.Uploader == nil {
		return nil, apperrors.NewInternalError("no bulk uploader configured", nil)
	}

	metas := make([]domain.Classification, len(req.Selections))
	for i, sel := range req.Selections {
		meta := sel.Meta.WithDefaults(req.Defaults)
		if missing := meta.MissingRequired(); len(missing) > 0 {
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("selection %s is missing required fields", displayName(sel, req.Labels)),
				strings.Join(missing, ", "),
			)
		}
		metas[i] = meta
	}

	items := make([]*domain.UploadItem, 0, len(req.Selections))
	for i, sel := range req.Selections {
		item, err := p.extract(ctx, req, fmt.Sprintf("image_%d", i), sel, metas[i])
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	receipt, err := req.Uploader.UploadBatch(ctx, items)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.SelectionID)
	}
	return &UploadResult{Target: domain.TargetRemote, Count: len(items), UploadedIDs: ids, Receipt: receipt}, nil
}

func (p *UploadPipeline) runLocal(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if req.Writer == nil {
		return nil, apperrors.NewInternalError("no export destination configured", nil)
	}

	result := &UploadResult{Target: domain.TargetLocal, UploadedIDs: []string{}}
	for _, sel := range req.Selections {
		key := fmt.Sprintf("page%03d_%s", sel.PageNo, sel.ID)
		item, err := p.extract(ctx, req, key, sel, sel.Meta.WithDefaults(req.Defaults))
		if err != nil {
			return result, err
		}
		if err := req.Writer.WriteItem(ctx, item); err != nil {
			return result, apperrors.NewUploadError(
				fmt.Sprintf("failed to write selection %s", displayName(sel, req.Labels)), err)
		}
		result.Count++
		result.UploadedIDs = append(result.UploadedIDs, sel.ID)
	}
	return result, nil
}

func (p *UploadPipeline) extract(ctx context.Context, req UploadRequest, key string, sel *domain.Selection, meta domain.Classification) (*domain.UploadItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Surfaces == nil {
		return nil, apperrors.NewExtractionError(sel.ID, domain.ErrPageNotRendered)
	}
	surface, err := req.Surfaces.Surface(ctx, sel.PageNo, sel.CaptureScale)
	if err != nil {
		return nil, apperrors.NewExtractionError(sel.ID, err)
	}
	img, err := ExtractRegion(surface, sel.RectScreen)
	if err != nil {
		return nil, apperrors.NewExtractionError(sel.ID, err)
	}
	p.advance()

	return &domain.UploadItem{
		Key:              key,
		SelectionID:      sel.ID,
		PageNo:           sel.PageNo,
		Label:            req.Labels[sel.ID],
		RectPdf:          sel.RectPdf,
		RectScreen:       sel.RectScreen,
		Meta:             meta,
		QuestionGroupKey: sel.QuestionGroupKey,
		Image:            img,
	}, nil
}

// ExtractRegion copies the pixels under r out of src into a new image whose
// origin is (0,0). Fractional edges are widened to whole pixels and the
// region is clipped to the surface.
func ExtractRegion(src image.Image, r domain.ScreenRect) (image.Image, error) {
	if src == nil {
		return nil, domain.ErrPageNotRendered
	}
	b := src.Bounds()
	region := image.Rect(
		b.Min.X+int(math.Floor(r.X)),
		b.Min.Y+int(math.Floor(r.Y)),
		b.Min.X+int(math.Ceil(r.Right())),
		b.Min.Y+int(math.Ceil(r.Bottom())),
	).Intersect(b)
	if region.Empty() {
		return nil, fmt.Errorf("region %+v lies outside the %dx%d page", r, b.Dx(), b.Dy())
	}

	dst := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	xdraw.Copy(dst, image.Point{}, src, region, xdraw.Src, nil)
	return dst, nil
}

func displayName(sel *domain.Selection, labels map[string]string) string {
	if label := labels[sel.ID]; label != "" {
		return "#" + label
	}
	return sel.ID
}
