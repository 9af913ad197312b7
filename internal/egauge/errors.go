package egauge

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies a rejected device response.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindBadRequest
	ErrorKindForbidden
	ErrorKindNotFound
	ErrorKindServer
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindBadRequest:
		return "bad_request"
	case ErrorKindForbidden:
		return "forbidden"
	case ErrorKindNotFound:
		return "not_found"
	case ErrorKindServer:
		return "server"
	default:
		return "unknown"
	}
}

// classifyStatus maps an HTTP status code to an error kind.
func classifyStatus(code int) ErrorKind {
	switch code {
	case http.StatusBadRequest:
		return ErrorKindBadRequest
	case http.StatusForbidden:
		return ErrorKindForbidden
	case http.StatusNotFound:
		return ErrorKindNotFound
	case http.StatusInternalServerError:
		return ErrorKindServer
	default:
		return ErrorKindUnknown
	}
}

// APIError is returned when the device answers with a non-success status.
// The response body is retained for diagnostics.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Endpoint   string
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("device returned %d (%s) for %s", e.StatusCode, e.Kind, e.Endpoint)
}

// ParseError is returned when a response body does not have the expected
// shape, e.g. a register read without registers or ranges fields.
type ParseError struct {
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("unexpected response from %s: %v", e.Endpoint, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Err
}
