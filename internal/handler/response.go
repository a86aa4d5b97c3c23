package handler

// RESPONSE HELPERS:
// Every endpoint answers with the same envelope:
//
//	{"success": true,  "data": {...}}
//	{"success": false, "message": "Report not found with id abc", "field": "id"}
//
// `field` only appears on validation errors so a form can highlight the input
// that was rejected.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/civic-reports/internal/apperror"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}

const internalMessage = "An internal error occurred"

// writeJSON sends v as JSON with the given status code.
//
// Headers and status must be written before the body: once Encode starts
// writing, later header changes are silently dropped. An encode failure
// leaves the status in place; the access log still records it.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Success: true, Data: data})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Success: true, Message: message})
}

// statusFor maps a domain error onto an HTTP status code.
//
// errors.Is walks the whole chain, so a service error wrapped as
// fmt.Errorf("service/report: ...: %w", apperror.NotFound(...)) still maps
// to 404.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict
	default:
		// ErrUploadFailed, ErrInternal and anything untyped.
		return http.StatusInternalServerError
	}
}

// writeError translates err into the envelope.
//
// Only AppError messages are shown to clients, and never for Internal:
// an untyped error may carry SQL, file paths or upstream payloads.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || errors.Is(err, apperror.ErrInternal) {
		logger.Error("request failed", slog.String("error", err.Error()))
		writeJSON(w, status, Envelope{Message: internalMessage})
		return
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, Envelope{Message: appErr.Message, Field: appErr.Field})
}
