package square

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx response. Body is the raw response text.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Errors     []Error
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		parts := make([]string, 0, len(e.Errors))
		for _, se := range e.Errors {
			if se.Detail != "" {
				parts = append(parts, se.Code+": "+se.Detail)
			} else {
				parts = append(parts, se.Code)
			}
		}
		return fmt.Sprintf("square %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, strings.Join(parts, "; "))
	}
	return fmt.Sprintf("square %s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
}

func (e *APIError) IsUnauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

func (e *APIError) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

// IsVersionConflict reports an optimistic-concurrency failure. Square answers
// stale versions with 400 VERSION_MISMATCH; 409 is accepted as well.
func (e *APIError) IsVersionConflict() bool {
	if e.StatusCode == http.StatusConflict {
		return true
	}
	for _, se := range e.Errors {
		if se.Code == "VERSION_MISMATCH" || se.Code == "CONFLICT" {
			return true
		}
	}
	return false
}

// IsTransient reports rate limiting and server-side failures.
func (e *APIError) IsTransient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// AsAPIError unwraps err to an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func IsNotFound(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.IsNotFound()
}
