package domain

import (
	"context"
	"image"
)

// PersistenceTarget selects where exported selections go.
type PersistenceTarget string

const (
	TargetRemote PersistenceTarget = "remote"
	TargetLocal  PersistenceTarget = "local"
)

// UploadItem is one extracted selection ready for submission.
type UploadItem struct {
	Key              string         `json:"key"`
	SelectionID      string         `json:"selection_id"`
	PageNo           int            `json:"page_no"`
	Label            string         `json:"label,omitempty"`
	RectPdf          DocRect        `json:"rect_pdf"`
	RectScreen       ScreenRect     `json:"rect_screen"`
	Meta             Classification `json:"meta"`
	QuestionGroupKey string         `json:"question_group_key,omitempty"`

	Image image.Image `json:"-"`
}

// UploadReceipt is what a bulk upload reports back.
type UploadReceipt struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids,omitempty"`
}

// BulkUploader submits a whole batch in a single call. The batch either
// succeeds or fails as a whole.
type BulkUploader interface {
	UploadBatch(ctx context.Context, items []*UploadItem) (*UploadReceipt, error)
}

// ItemWriter persists one item at a time.
type ItemWriter interface {
	WriteItem(ctx context.Context, item *UploadItem) error
}

// ExportHandle is a session-scoped writable destination for local export.
type ExportHandle interface {
	ItemWriter
	Location() string
	Close() error
}

// LocalExporter hands out export handles, one per document session.
type LocalExporter interface {
	OpenHandle(sessionID string) (ExportHandle, error)
}

// UploadProgress counts extracted items of the running batch.
type UploadProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// UploadStatus is the observable state of a session's pipeline.
type UploadStatus struct {
	Uploading bool           `json:"uploading"`
	Progress  UploadProgress `json:"progress"`
	LastError string         `json:"last_error,omitempty"`
	Message   string         `json:"message,omitempty"`
}
