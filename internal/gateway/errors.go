package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is the normalized shape of every gateway failure.
type APIError struct {
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
	// Message is a single human-readable description.
	Message string
	// Err is the underlying transport or session error, if any.
	Err error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsStatus reports whether err is an [*APIError] with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == status
	}
	return false
}

// Message extracts the normalized message from err.
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// normalizeError builds an [*APIError] from an error response body.
//
// Recognized bodies: {"message": "..."}, {"message": ["a", "b"]}, {"error": "..."}.
func normalizeError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var payload struct {
		Message json.RawMessage `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := flattenMessage(payload.Message); msg != "" {
			apiErr.Message = msg
			return apiErr
		}
		if msg := flattenMessage(payload.Error); msg != "" {
			apiErr.Message = msg
			return apiErr
		}
	}

	if text := http.StatusText(status); text != "" {
		apiErr.Message = text
	} else {
		apiErr.Message = fmt.Sprintf("request failed with status %d", status)
	}
	return apiErr
}

func flattenMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.TrimSpace(single)
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		parts := make([]string, 0, len(many))
		for _, m := range many {
			if m = strings.TrimSpace(m); m != "" {
				parts = append(parts, m)
			}
		}
		return strings.Join(parts, ", ")
	}

	return ""
}
