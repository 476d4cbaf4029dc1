package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrConflict          = errors.New("already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")
)

// ValidationError is a local rejection raised before anything is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// RemoteError is a rejection reported by the queue service.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("remote error %d: %s", e.Status, e.Message)
}

func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrPermissionDenied:
		return e.Status == http.StatusForbidden || e.Status == http.StatusUnauthorized
	case ErrConflict:
		return e.Status == http.StatusConflict && e.Code != CodeInvalidTransition
	case ErrInvalidTransition:
		return e.Status == http.StatusConflict && e.Code == CodeInvalidTransition
	case ErrValidation:
		return e.Status == http.StatusBadRequest
	}
	return false
}

const (
	CodeNotFound          = "not_found"
	CodePermissionDenied  = "permission_denied"
	CodeConflict          = "conflict"
	CodeInvalidTransition = "invalid_transition"
	CodeValidation        = "validation"
	CodeInternal          = "internal"
)

// Classify maps an error onto the HTTP status and code used on the wire.
func Classify(err error) (int, string) {
	var remote *RemoteError
	if errors.As(err, &remote) {
		code := remote.Code
		if code == "" {
			code = CodeInternal
		}
		return remote.Status, code
	}
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden, CodePermissionDenied
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict, CodeInvalidTransition
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, CodeConflict
	}
	return http.StatusInternalServerError, CodeInternal
}
