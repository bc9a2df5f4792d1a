// Package handlers implements the HTTP endpoints of the service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nikhilbhutani/indicstt/internal/stt"
	"github.com/nikhilbhutani/indicstt/internal/transcription"
)

var (
	errDatabaseUnavailable = errors.New("database not configured")
	errInvalidField        = errors.New("invalid field")
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes both "error" and "detail" so clients of either shape
// find the message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "detail": msg})
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, transcription.ErrFileTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, stt.ErrModelNotLoaded), errors.Is(err, errDatabaseUnavailable):
		return http.StatusServiceUnavailable
	case transcription.IsInvalidInput(err), errors.Is(err, errInvalidField):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error, status int) string {
	switch {
	case errors.Is(err, stt.ErrModelNotLoaded):
		return "Model not loaded. Please check server logs."
	case status == http.StatusRequestEntityTooLarge && !errors.Is(err, transcription.ErrFileTooLarge):
		return "request body too large"
	default:
		return err.Error()
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	writeError(w, status, errorMessage(err, status))
}
