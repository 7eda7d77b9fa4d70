package todo

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a document targeted by an update does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a transaction keeps losing to concurrent writers.
	ErrConflict = errors.New("transaction aborted after too many conflicts")
	// ErrUnavailable is returned when the remote store cannot be reached.
	ErrUnavailable = errors.New("remote store unavailable")
	// ErrPermissionDenied is returned when the remote store rejects credentials.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrClosed is returned by operations on a closed store or repository.
	ErrClosed = errors.New("closed")
	// ErrBulkActionsDisabled is returned when a bulk operation is requested
	// while the remote feature flag is off.
	ErrBulkActionsDisabled = errors.New("bulk actions are disabled")
	// ErrEmptyTitle and ErrEmptyName reject blank input before it reaches a repository.
	ErrEmptyTitle = errors.New("task title is empty")
	ErrEmptyName  = errors.New("category name is empty")
	// ErrEmptyID rejects an operation that names no task or category.
	ErrEmptyID = errors.New("id is empty")
)

// ErrorCode classifies remote store failures so callers can choose a message.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "unknown"
	CodeUnavailable      ErrorCode = "unavailable"
	CodePermissionDenied ErrorCode = "permission-denied"
	CodeNotFound         ErrorCode = "not-found"
	CodeAborted          ErrorCode = "aborted"
	CodeInvalidArgument  ErrorCode = "invalid-argument"
	CodeDeadlineExceeded ErrorCode = "deadline-exceeded"
)

// StoreError is returned by DocumentStore backends for failures that carry a code.
type StoreError struct {
	Code ErrorCode
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is lets errors.Is match a StoreError against the sentinel for its code.
func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == CodeNotFound
	case ErrUnavailable:
		return e.Code == CodeUnavailable
	case ErrPermissionDenied:
		return e.Code == CodePermissionDenied
	case ErrConflict:
		return e.Code == CodeAborted
	}
	return false
}

// ErrorCodeOf reports the code of the first StoreError or known sentinel in err's chain.
func ErrorCodeOf(err error) ErrorCode {
	var se *StoreError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return se.Code
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeAborted
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrClosed):
		return CodeUnavailable
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, context.DeadlineExceeded):
		return CodeDeadlineExceeded
	case errors.Is(err, ErrEmptyTitle), errors.Is(err, ErrEmptyName), errors.Is(err, ErrEmptyID):
		return CodeInvalidArgument
	}
	return CodeUnknown
}
