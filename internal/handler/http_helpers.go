// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"pdf-region-tagger/internal/domain"
	apperrors "pdf-region-tagger/pkg/errors"
)

const maxJSONBody = 1 << 20

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeAppError maps domain sentinels and AppErrors to a status code and
// writes {"error", "type", "details"}.
func writeAppError(w http.ResponseWriter, logger domain.Logger, err error) {
	status := statusFor(err)
	body := map[string]string{"error": apperrors.Message(err)}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		body["type"] = string(appErr.Type)
		body["error"] = appErr.Message
		if appErr.Details != "" {
			body["details"] = appErr.Details
		}
	}
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", err, "status", status)
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrSelectionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPageOutOfRange),
		errors.Is(err, domain.ErrInvalidFile),
		errors.Is(err, domain.ErrUnknownKind),
		errors.Is(err, domain.ErrNothingToUpload):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUploadInProgress),
		errors.Is(err, domain.ErrUnsavedChanges):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPageNotRendered):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrCatalogNotReady):
		return http.StatusServiceUnavailable
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return apperrors.NewValidationError("invalid JSON body", err.Error())
	}
	return nil
}
