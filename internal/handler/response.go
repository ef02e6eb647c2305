package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON / writeError, so the API has one
// success shape (the resource itself) and one error shape:
//
//	{"error": "unique_violation", "message": "project conflict with id p1"}
//
// "error" is the machine-readable taxonomy code (apperror.Kind). The HTTP
// client decodes it back into the same taxonomy with apperror.FromCode, so a
// Conflict raised by SQLite on the server is a Conflict in the CLI too.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/progress-tracker/internal/apperror"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable code (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
	Field   string `json:"field,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
//
// Headers and status MUST be set before the body is written: the first
// Write sends them, and later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps a taxonomy code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case apperror.CodeValidation:
		return http.StatusBadRequest // 400
	case apperror.CodeUnauthenticated:
		return http.StatusUnauthorized // 401
	case apperror.CodePermissionDenied:
		return http.StatusForbidden // 403
	case apperror.CodeNotFound:
		return http.StatusNotFound // 404
	case apperror.CodeUniqueViolation:
		return http.StatusConflict // 409
	default:
		return http.StatusInternalServerError // 500
	}
}

// writeError maps a domain error to its HTTP status and sends it.
//
// errors.As walks the whole chain, so a repository error wrapped with
// fmt.Errorf("...: %w", err) still finds its *AppError. Errors outside the
// taxonomy are logged and answered with a generic 500: their text may hold
// SQL or file paths.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		logger.Error("unclassified error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   apperror.CodeUnknown,
			Message: "an internal error occurred",
		})
		return
	}

	code := apperror.Kind(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

// decodeJSON reads a single JSON value from the request body into dst.
// Malformed bodies become validation errors.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("body", fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}
