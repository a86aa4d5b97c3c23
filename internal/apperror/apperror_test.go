package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("report", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("description", "description is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Conflict wraps ErrConflict",
			err:       Conflict("user", "email a@b.c"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "Unauthorized wraps ErrUnauthorized",
			err:       Unauthorized("invalid credentials"),
			target:    ErrUnauthorized,
			wantMatch: true,
		},
		{
			name:      "UploadFailed wraps ErrUploadFailed",
			err:       UploadFailed(errors.New("timeout")),
			target:    ErrUploadFailed,
			wantMatch: true,
		},
		{
			name:      "wrapped twice still matches",
			err:       fmt.Errorf("service: %w", fmt.Errorf("repo: %w", NotFound("report", "x"))),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("report", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "Forbidden does NOT match ErrUnauthorized",
			err:       Forbidden("admins only"),
			target:    ErrUnauthorized,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("report", "abc123"),
			wantMessage: "report not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("address", "address is required"),
			wantMessage: "address is required",
		},
		{
			name:        "Conflict message includes resource and key",
			err:         Conflict("user", "email a@b.c"),
			wantMessage: "user already exists with email a@b.c",
		},
		{
			name:        "Internal includes cause",
			err:         Internal("listing reports", errors.New("connection reset")),
			wantMessage: "listing reports: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUploadFailedKeepsCause(t *testing.T) {
	cause := errors.New("cloud down")
	err := UploadFailed(cause)

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(UploadFailed(cause), cause) = false, want true")
	}
	if err.Message != "image upload failed" {
		t.Errorf("Message = %q, want generic upload message", err.Message)
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("email", "invalid email format")

	if err.Field != "email" {
		t.Errorf("Field = %q, want %q", err.Field, "email")
	}
}
