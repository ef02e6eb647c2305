package apperror

import (
	"errors"
	"fmt"
	"testing"
)

// TABLE-DRIVEN TESTS:
// Each constructor must produce an error that errors.Is() matches against its
// own sentinel and no other. Callers (coordinator, HTTP handlers, CLI) branch
// on these sentinels, so a wrong match here means a wrong status code or a
// missed rollback somewhere else.

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{"ValidationFailed wraps ErrValidation", ValidationFailed("title", "title is required"), ErrValidation, true},
		{"NotAuthenticated wraps ErrNotAuthenticated", NotAuthenticated(), ErrNotAuthenticated, true},
		{"Conflict wraps ErrConflict", Conflict("project", "abc"), ErrConflict, true},
		{"PermissionDenied wraps ErrPermissionDenied", PermissionDenied("nope"), ErrPermissionDenied, true},
		{"NotFound wraps ErrNotFound", NotFound("portfolio", "slug"), ErrNotFound, true},
		{"Unknown wraps ErrUnknown", Unknown("boom"), ErrUnknown, true},
		{"NotFound is not Unknown", NotFound("portfolio", "slug"), ErrUnknown, false},
		{"Conflict is not PermissionDenied", Conflict("project", "abc"), ErrPermissionDenied, false},
		{"wrapped chain still matches", fmt.Errorf("creating project: %w", Conflict("project", "abc")), ErrConflict, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestFromCode(t *testing.T) {
	tests := []struct {
		code   string
		target error
	}{
		{CodeUniqueViolation, ErrConflict},
		{CodePermissionDenied, ErrPermissionDenied},
		{CodeNotFound, ErrNotFound},
		{CodeUnauthenticated, ErrNotAuthenticated},
		{CodeValidation, ErrValidation},
		{CodeRelationMissing, ErrUnknown},
		{"PGRST999", ErrUnknown},
		{"", ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := FromCode(tt.code, "remote said no")
			if !errors.Is(err, tt.target) {
				t.Errorf("FromCode(%q) = %v, want kind %v", tt.code, err, tt.target)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %q, want original %q", err.Code, tt.code)
			}
		})
	}
}

func TestFromCode_KeepsMessage(t *testing.T) {
	// Unknown failures must surface the underlying message for diagnostics.
	err := FromCode(CodeRelationMissing, `relation "projects" does not exist`)
	if err.Error() != `relation "projects" does not exist` {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ValidationFailed("title", "x"), CodeValidation},
		{NotAuthenticated(), CodeUnauthenticated},
		{Conflict("project", "a"), CodeUniqueViolation},
		{PermissionDenied("x"), CodePermissionDenied},
		{NotFound("project", "a"), CodeNotFound},
		{errors.New("disk on fire"), CodeUnknown},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatal("Classify(nil) should be nil")
	}

	known := fmt.Errorf("ctx: %w", Conflict("project", "a"))
	if got := Classify(known); got != known {
		t.Errorf("Classify should pass AppErrors through unchanged")
	}

	raw := errors.New("connection reset")
	got := Classify(raw)
	if !errors.Is(got, ErrUnknown) {
		t.Errorf("Classify(raw) = %v, want ErrUnknown", got)
	}
	if got.Error() != "connection reset" {
		t.Errorf("Classify(raw).Error() = %q, want underlying message", got.Error())
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("title", "title is required")
	if err.Field != "title" {
		t.Errorf("Field = %q, want %q", err.Field, "title")
	}
}
