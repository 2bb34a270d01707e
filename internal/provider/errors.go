package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential is returned by NewClient when no API key is configured.
	ErrMissingCredential = errors.New("provider: api key is required")

	// ErrUnexpectedResponse is returned when a response body matches none of
	// the known shapes.
	ErrUnexpectedResponse = errors.New("provider: unexpected response format")

	// ErrNoResultURL is returned when a task reports success but carries no
	// video URL.
	ErrNoResultURL = errors.New("provider: no result url")
)

// maxErrorBody caps how much of a failed response body is kept.
const maxErrorBody = 2048

// RequestError reports a non-2xx response from the provider.
type RequestError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider: %s failed: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("provider: %s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not a
// RequestError.
func StatusCode(err error) int {
	var re *RequestError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}
