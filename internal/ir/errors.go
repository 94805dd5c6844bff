package ir

import (
	"errors"
	"fmt"
)

// SyncError represents an error surfaced by the synchronization core.
//
// Sync errors include:
//   - Invalid local edits: position or range out of bounds
//   - Pending queue overflow: a causally blocked operation was dropped
//   - Reconnect exhaustion: a transport session gave up
//   - Permission denied: the site may not write the document
//
// Buffering and duplicate suppression are expected steady-state behavior
// and are never returned as errors; their codes exist for events and logs.
type SyncError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// DocID identifies the affected document, if any.
	DocID string

	// OpID identifies the affected operation, if any.
	OpID string

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes sync errors.
type ErrorCode string

const (
	// ErrCodeInvalidOperation indicates a local edit with a bad position or range.
	ErrCodeInvalidOperation ErrorCode = "INVALID_OPERATION"

	// ErrCodeCausalityBlocked marks a buffered remote operation. Not an error.
	ErrCodeCausalityBlocked ErrorCode = "CAUSALITY_BLOCKED"

	// ErrCodeCausalityOverflow indicates the pending queue dropped an operation.
	ErrCodeCausalityOverflow ErrorCode = "CAUSALITY_OVERFLOW"

	// ErrCodeReconnectExhausted indicates a transport session stopped retrying.
	ErrCodeReconnectExhausted ErrorCode = "RECONNECT_EXHAUSTED"

	// ErrCodeDuplicateOperation marks a redelivered operation. Absorbed silently.
	ErrCodeDuplicateOperation ErrorCode = "DUPLICATE_OPERATION"

	// ErrCodePermissionDenied indicates the site may not write the document.
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrCodeUnknownDocument indicates the document is not registered.
	ErrCodeUnknownDocument ErrorCode = "UNKNOWN_DOCUMENT"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	switch {
	case e.DocID != "" && e.OpID != "":
		return fmt.Sprintf("%s: %s (doc=%s, op=%s)", e.Code, e.Message, e.DocID, e.OpID)
	case e.DocID != "":
		return fmt.Sprintf("%s: %s (doc=%s)", e.Code, e.Message, e.DocID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// HasCode reports whether err wraps a SyncError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsInvalidOperation returns true if the error is an invalid local edit.
func IsInvalidOperation(err error) bool {
	return HasCode(err, ErrCodeInvalidOperation)
}

// IsCausalityOverflow returns true if the error reports a pending queue overflow.
func IsCausalityOverflow(err error) bool {
	return HasCode(err, ErrCodeCausalityOverflow)
}

// IsReconnectExhausted returns true if the error reports a transport giving up.
func IsReconnectExhausted(err error) bool {
	return HasCode(err, ErrCodeReconnectExhausted)
}

// IsPermissionDenied returns true if the error is a failed write check.
func IsPermissionDenied(err error) bool {
	return HasCode(err, ErrCodePermissionDenied)
}

// IsUnknownDocument returns true if the error names an unregistered document.
func IsUnknownDocument(err error) bool {
	return HasCode(err, ErrCodeUnknownDocument)
}

// NewInvalidOperationError creates a SyncError for a rejected local edit.
func NewInvalidOperationError(docID string, intent Intent, reason string) *SyncError {
	return &SyncError{
		Code:    ErrCodeInvalidOperation,
		Message: fmt.Sprintf("%s rejected: %s", intent, reason),
		DocID:   docID,
	}
}

// NewCausalityOverflowError creates a SyncError for a dropped pending operation.
func NewCausalityOverflowError(docID string, dropped Operation, capacity int) *SyncError {
	return &SyncError{
		Code:    ErrCodeCausalityOverflow,
		Message: fmt.Sprintf("pending queue full (capacity %d), dropped oldest operation", capacity),
		DocID:   docID,
		OpID:    dropped.ID,
		Details: map[string]string{
			"capacity": fmt.Sprintf("%d", capacity),
		},
	}
}

// NewReconnectExhaustedError creates a SyncError for a session that gave up.
func NewReconnectExhaustedError(sessionID string, attempts int) *SyncError {
	return &SyncError{
		Code:    ErrCodeReconnectExhausted,
		Message: fmt.Sprintf("session %s gave up after %d attempts", sessionID, attempts),
		Details: map[string]string{
			"session":  sessionID,
			"attempts": fmt.Sprintf("%d", attempts),
		},
	}
}

// NewPermissionDeniedError creates a SyncError for a failed write check.
func NewPermissionDeniedError(site, docID string) *SyncError {
	return &SyncError{
		Code:    ErrCodePermissionDenied,
		Message: fmt.Sprintf("site %s may not write", site),
		DocID:   docID,
	}
}

// NewUnknownDocumentError creates a SyncError for an unregistered document.
func NewUnknownDocumentError(docID string) *SyncError {
	return &SyncError{
		Code:    ErrCodeUnknownDocument,
		Message: "document not registered",
		DocID:   docID,
	}
}
