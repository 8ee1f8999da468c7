package openfinance

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrAuth is returned when the aggregator rejects the client credentials.
	// No aggregator call can succeed until configuration changes.
	ErrAuth = errors.New("aggregator rejected client credentials")

	ErrBadRequest   = errors.New("aggregator: bad request")
	ErrUnauthorized = errors.New("aggregator: unauthorized")
	ErrNotFound     = errors.New("aggregator: resource not found")
	ErrRateLimited  = errors.New("aggregator: rate limited")
	ErrServerError  = errors.New("aggregator: server error")
	ErrNetwork      = errors.New("aggregator: network error")
)

// APIError describes a failed aggregator call. Err is one of the package
// sentinels, so callers test it with errors.Is.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
	Cause      error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%v: %s", e.Err, e.Message)
	}
	return fmt.Sprintf("%v (status %d): %s", e.Err, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// IsTransient reports whether a failed call may succeed on a later attempt.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServerError) || errors.Is(err, ErrNetwork)
}

type errorResponse struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func newAPIError(statusCode int, body []byte) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Message:    errorMessage(body),
		Err:        sentinelForStatus(statusCode),
	}
}

func newNetworkError(method, path string, cause error) *APIError {
	return &APIError{
		Message: fmt.Sprintf("%s %s: %v", method, path, cause),
		Err:     ErrNetwork,
		Cause:   cause,
	}
}

func sentinelForStatus(statusCode int) error {
	switch statusCode {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		// Unknown statuses are treated as server-side failures
		return ErrServerError
	}
}

func errorMessage(body []byte) string {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Message != "" {
			return errResp.Message
		}
		if errResp.Error != "" {
			return errResp.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
