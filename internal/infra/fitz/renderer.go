package fitz

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"pdf-region-tagger/internal/domain"

	"github.com/gen2brain/go-fitz"
)

// pointsPerInch is the PDF user-space unit; scale 1 renders one pixel per point.
const pointsPerInch = 72.0

const defaultPageTimeout = 90 * time.Second

// Opener opens PDF bytes with MuPDF.
type Opener struct {
	logger      domain.Logger
	pageTimeout time.Duration
}

// NewOpener creates an opener. A zero pageTimeout uses the default.
func NewOpener(pageTimeout time.Duration, logger domain.Logger) *Opener {
	if pageTimeout <= 0 {
		pageTimeout = defaultPageTimeout
	}
	return &Opener{logger: logger, pageTimeout: pageTimeout}
}

// Open implements domain.DocumentOpener.
func (o *Opener) Open(data []byte) (domain.PDFDocument, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	d := &Document{doc: doc, pages: doc.NumPage(), timeout: o.pageTimeout, logger: o.logger}
	o.logger.Debug("PDF opened", "pages", d.pages)
	return d, nil
}

// Document renders pages of one open PDF. MuPDF contexts are not safe for
// concurrent use, so every call into the library holds mu.
type Document struct {
	mu      sync.Mutex
	doc     *fitz.Document
	pages   int
	closed  bool
	timeout time.Duration
	logger  domain.Logger
}

func (d *Document) PageCount() int { return d.pages }

type renderResult struct {
	img *image.RGBA
	err error
}

// RenderPage rasterizes a 1-based page at scale pixels per point.
func (d *Document) RenderPage(ctx context.Context, pageNo int, scale float64) (*domain.RenderedPage, error) {
	if pageNo < 1 || pageNo > d.pages {
		return nil, domain.ErrPageOutOfRange
	}
	if scale <= 0 {
		return nil, fmt.Errorf("invalid scale %v", scale)
	}

	resultCh := make(chan renderResult, 1)
	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.closed {
			resultCh <- renderResult{err: fmt.Errorf("document closed")}
			return
		}
		img, err := d.doc.ImageDPI(pageNo-1, pointsPerInch*scale)
		resultCh <- renderResult{img: img, err: err}
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	var res renderResult
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		d.logger.Warn("PDF page render timeout", "page", pageNo, "scale", scale, "timeout_sec", int(d.timeout.Seconds()))
		return nil, fmt.Errorf("rendering page %d timed out after %v", pageNo, d.timeout)
	}
	if res.err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", pageNo, res.err)
	}

	b := res.img.Bounds()
	d.logger.Debug("PDF page rendered", "page", pageNo, "scale", scale, "width", b.Dx(), "height", b.Dy())
	return &domain.RenderedPage{
		PageNo: pageNo,
		Viewport: domain.Viewport{
			Scale:  scale,
			Width:  float64(b.Dx()),
			Height: float64(b.Dy()),
		},
		Image: res.img,
	}, nil
}

// Close waits for an in-flight render and releases the document.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.doc.Close()
}
