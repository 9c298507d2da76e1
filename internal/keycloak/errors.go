package keycloak

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound matches any APIError carrying HTTP 404.
	ErrNotFound = errors.New("not found")
	// ErrConflict matches any APIError carrying HTTP 409, Keycloak's "already exists" signal.
	ErrConflict = errors.New("conflict")
)

// APIError is a non-2xx answer from the Admin REST API
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.Path, e.Status, e.Body)
}

// Is lets errors.Is match the package sentinels by status code.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// IsNotFound reports whether err is, or wraps, a 404 from Keycloak
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is, or wraps, a 409 from Keycloak
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
