// Package apperror is the closed error taxonomy shared by every layer.
//
// Every failure the core surfaces is one of six kinds:
//
//	ValidationError   local, pre-network (e.g. empty title)
//	NotAuthenticated  no owner id present
//	Conflict          uniqueness violation on create
//	PermissionDenied  remote policy rejection
//	NotFound          read of a nonexistent aggregate
//	Unknown           anything unclassified, with the underlying message
//
// Remote failures arrive tagged with a machine-readable code. FromCode decodes
// that code into the taxonomy exactly once, at the persistence boundary, so
// nothing above the repository layer ever string-matches an error.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrConflict         = errors.New("conflict")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrUnknown          = errors.New("unknown")
)

// Machine-readable codes used on the wire between the persistence service
// and its clients.
const (
	CodeValidation       = "validation_error"
	CodeUnauthenticated  = "unauthenticated"
	CodeUniqueViolation  = "unique_violation"
	CodePermissionDenied = "permission_denied"
	CodeNotFound         = "not_found"
	CodeRelationMissing  = "relation_missing"
	CodeUnknown          = "unknown"
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // human-readable error message
	Field   string // optional: field causing a validation error
	Code    string // wire code the error was decoded from, if any
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
		Code:    CodeValidation,
	}
}

// NotAuthenticated is returned by every mutating operation when no owner is
// signed in. It is raised before the store is touched.
func NotAuthenticated() *AppError {
	return &AppError{
		Err:     ErrNotAuthenticated,
		Message: "no authenticated owner",
		Code:    CodeUnauthenticated,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
		Code:    CodeUniqueViolation,
	}
}

// PermissionDenied returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func PermissionDenied(message string) *AppError {
	return &AppError{
		Err:     ErrPermissionDenied,
		Message: message,
		Code:    CodePermissionDenied,
	}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
		Code:    CodeNotFound,
	}
}

// Unknown wraps an unclassified failure. The underlying message is kept for
// diagnostics.
func Unknown(message string) *AppError {
	return &AppError{
		Err:     ErrUnknown,
		Message: message,
		Code:    CodeUnknown,
	}
}

// FromCode decodes a wire code into the taxonomy. Unrecognised codes, and
// relation_missing (a schema problem the caller cannot act on), become Unknown
// with the original code preserved.
func FromCode(code, message string) *AppError {
	var e *AppError
	switch code {
	case CodeValidation:
		e = ValidationFailed("", message)
	case CodeUnauthenticated:
		e = NotAuthenticated()
		if message != "" {
			e.Message = message
		}
	case CodeUniqueViolation:
		e = &AppError{Err: ErrConflict, Message: message}
	case CodePermissionDenied:
		e = PermissionDenied(message)
	case CodeNotFound:
		e = &AppError{Err: ErrNotFound, Message: message}
	default:
		e = Unknown(message)
	}
	e.Code = code
	return e
}

// Kind returns the wire code for err's taxonomy kind. Errors outside the
// taxonomy report CodeUnknown.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotAuthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrConflict):
		return CodeUniqueViolation
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return CodeUnknown
	}
}

// Classify guarantees err belongs to the taxonomy: errors that already carry
// an AppError pass through, anything else is wrapped as Unknown.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	return &AppError{Err: ErrUnknown, Message: err.Error(), Code: CodeUnknown}
}
