package domain

import "errors"

// Domain errors
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSelectionNotFound = errors.New("selection not found")
	ErrPageOutOfRange    = errors.New("page out of range")
	ErrPageNotRendered   = errors.New("page not rendered")
	ErrNothingToUpload   = errors.New("nothing to upload")
	ErrUploadInProgress  = errors.New("upload already in progress")
	ErrUnsavedChanges    = errors.New("document has unsaved selections")
	ErrInvalidFile       = errors.New("invalid file")
	ErrUnknownKind       = errors.New("unknown taxonomy kind")
	ErrCatalogNotReady   = errors.New("catalog backend not initialized")
)

// ValidationError represents a validation error with field and message information.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}
