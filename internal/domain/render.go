package domain

import (
	"context"
	"image"
)

// RenderedPage is one page rasterized at a given scale.
type RenderedPage struct {
	PageNo   int
	Viewport Viewport
	// Image is never modified after rendering; a re-render produces a new image.
	Image image.Image
}

// PDFDocument is an open PDF that can rasterize its pages.
type PDFDocument interface {
	PageCount() int
	RenderPage(ctx context.Context, pageNo int, scale float64) (*RenderedPage, error)
	Close() error
}

// DocumentOpener opens PDF bytes.
type DocumentOpener interface {
	Open(data []byte) (PDFDocument, error)
}
