package syncapi

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/alexjbarnes/notesync/internal/errors"
)

// TransientError wraps a transport failure where no response was
// received. It matches errors.ErrNetworkUnavailable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Is lets callers test for errors.ErrNetworkUnavailable.
func (e *TransientError) Is(target error) bool {
	return target == apperrors.ErrNetworkUnavailable
}

// ConflictError is returned when the server rejects a push because its
// revision no longer matches the push's base revision.
type ConflictError struct {
	NotebookID string
	StatusCode int
	Message    string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("revision conflict for notebook %s: %s", e.NotebookID, e.Message)
	}

	return fmt.Sprintf("revision conflict for notebook %s", e.NotebookID)
}

// Is lets callers test for errors.ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == apperrors.ErrConflict
}

// HTTPError is a non-conflict rejection from the server.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}

	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Is lets callers test for errors.ErrServerRejected.
func (e *HTTPError) Is(target error) bool {
	return target == apperrors.ErrServerRejected
}

// IsConflict reports whether err is a revision conflict.
func IsConflict(err error) bool {
	return errors.Is(err, apperrors.ErrConflict)
}

// IsTransient reports whether err is a transport failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// isConflictStatus reports whether a sync endpoint status means the
// base revision was stale.
func isConflictStatus(code int) bool {
	return code == http.StatusConflict || code == http.StatusPreconditionFailed
}
