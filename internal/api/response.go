package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
// Headers are already sent when the body fails to encode or write.
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return nil
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to write response body: %w", err)
	}
	return nil
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, status int, message, requestID string) error {
	errorType := "internal_error"
	switch status {
	case http.StatusBadRequest:
		errorType = "bad_request"
	case http.StatusRequestEntityTooLarge:
		errorType = "request_too_large"
	case http.StatusUnprocessableEntity:
		errorType = "validation_error"
	}

	return WriteJSON(w, status, ErrorResponse{
		Error:     errorType,
		Message:   message,
		RequestID: requestID,
	})
}
