package watercrawl

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound reports a 404 from the API.
	ErrNotFound = errors.New("watercrawl: not found")
	// ErrUnauthorized reports a rejected or missing API key.
	ErrUnauthorized = errors.New("watercrawl: unauthorized")
	// ErrNoResult is returned when a scrape stream ends without a result.
	ErrNoResult = errors.New("watercrawl: stream ended without a result")
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("watercrawl %s: status %d: %s", e.Operation, e.StatusCode, msg)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	default:
		return false
	}
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

func newAPIError(op string, status int, body []byte) *APIError {
	return &APIError{
		Operation:  op,
		StatusCode: status,
		Message:    errorMessage(body),
		Body:       body,
	}
}

// errorMessage pulls a human-readable message out of an error body. The API
// uses {"message": ...} for its own errors and {"detail": ...} for framework
// errors.
func errorMessage(body []byte) string {
	var payload struct {
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
		Errors  json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(truncate(string(body), 256))
	}
	msg := payload.Message
	if msg == "" {
		msg = payload.Detail
	}
	if len(payload.Errors) > 0 && string(payload.Errors) != "null" {
		if msg == "" {
			return string(payload.Errors)
		}
		return msg + " " + string(payload.Errors)
	}
	return msg
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
