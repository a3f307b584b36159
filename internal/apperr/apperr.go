// Package apperr defines the failure taxonomy shared by the intake, booking,
// reminder and report pipelines, and how each class maps to HTTP.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	// ErrValidation marks caller-supplied data that fails schema checks. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrStoreUnavailable marks a transport failure talking to the tabular store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrTransport marks a notification transport failure.
	ErrTransport = errors.New("transport error")

	// ErrModel marks a language-model call failure.
	ErrModel = errors.New("model error")

	// ErrUnavailable covers any other transient failure, including deadlines.
	ErrUnavailable = errors.New("unavailable")

	// ErrClassifierDegraded is a soft signal that a triage fallback path fired.
	ErrClassifierDegraded = errors.New("classifier degraded")

	// ErrNotFound means a keyed update found no row.
	ErrNotFound = errors.New("not found")

	// ErrFatal marks an invariant violation such as a malformed persisted row.
	ErrFatal = errors.New("fatal")

	// ErrDuplicate is returned for a resubmitted intake when duplicates are rejected.
	ErrDuplicate = errors.New("duplicate submission")
)

// ValidationError carries per-field messages. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError from field/message pairs.
func NewValidationError(fields map[string]string) *ValidationError {
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Retryable reports whether err is worth replaying.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrFatal), errors.Is(err, ErrDuplicate):
		return false
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrTransport),
		errors.Is(err, ErrModel),
		errors.Is(err, ErrUnavailable):
		return true
	}
	return false
}

// HTTPStatus maps an error to the response code used by the webhook handlers.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrFatal):
		return http.StatusInternalServerError
	case Retryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Details returns per-field validation messages when err carries them.
func Details(err error) map[string]string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}
