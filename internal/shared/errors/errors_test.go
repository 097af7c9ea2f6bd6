package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		sentinel error
		status   int
		code     string
	}{
		{"not found", NotFound("request", "REQ-2026-001"), ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"validation", Validation("invalid", map[string]string{"units": "required"}), ErrValidation, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"version conflict", VersionConflict("request", "REQ-2026-001", 1, 2), ErrVersionConflict, http.StatusConflict, "VERSION_CONFLICT"},
		{"invalid transition", InvalidTransition("request", "APPROVED", "cancel"), ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
		{"forbidden", Forbidden("nope"), ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !Is(tt.err, tt.sentinel) {
				t.Errorf("Expected error to match sentinel %v", tt.sentinel)
			}
			if tt.err.HTTPStatus != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, tt.err.HTTPStatus)
			}
			if tt.err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, tt.err.Code)
			}
		})
	}
}

func TestWrapKeepsOriginal(t *testing.T) {
	orig := NotFound("hospital", "st-mary")
	wrapped := Wrap(orig, "lookup")

	if wrapped.HTTPStatus != http.StatusNotFound {
		t.Errorf("Expected wrapped status 404, got %d", wrapped.HTTPStatus)
	}
	if orig.Message != "hospital not found" {
		t.Errorf("Expected original message untouched, got %q", orig.Message)
	}
	if wrapped.Message != "lookup: hospital not found" {
		t.Errorf("Unexpected wrapped message %q", wrapped.Message)
	}
}

func TestAsAndIsConflict(t *testing.T) {
	err := fmt.Errorf("update: %w", VersionConflict("offer", "x", 3, 4))
	if !IsConflict(err) {
		t.Error("Expected wrapped version conflict to be a conflict")
	}
	if As(err).Code != "VERSION_CONFLICT" {
		t.Errorf("Expected VERSION_CONFLICT, got %s", As(err).Code)
	}
	if As(fmt.Errorf("boom")).HTTPStatus != http.StatusInternalServerError {
		t.Error("Expected plain errors to map to internal")
	}
}
