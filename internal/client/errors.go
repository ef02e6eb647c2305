package client

import (
	"errors"
	"fmt"

	"github.com/sakif/progress-tracker/internal/apperror"
)

// HTTPError is a non-2xx response from the tracker API. Err is the decoded
// taxonomy error, so errors.Is(err, apperror.ErrConflict) works on it.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
	Err        *apperror.AppError
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// IsStatus reports whether err (or any wrapped error) is an HTTPError with
// the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}

// newHTTPError decodes an error body. Bodies without a code are classified
// by status.
func newHTTPError(status int, code, message string) *HTTPError {
	if code == "" {
		code = codeForStatus(status)
	}
	if message == "" {
		message = code
	}
	return &HTTPError{
		StatusCode: status,
		Code:       code,
		Message:    message,
		Err:        apperror.FromCode(code, message),
	}
}

func codeForStatus(status int) string {
	switch status {
	case 400:
		return apperror.CodeValidation
	case 401:
		return apperror.CodeUnauthenticated
	case 403:
		return apperror.CodePermissionDenied
	case 404:
		return apperror.CodeNotFound
	case 409:
		return apperror.CodeUniqueViolation
	default:
		return apperror.CodeUnknown
	}
}
