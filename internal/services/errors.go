package services

import (
	"fmt"
	"strings"
)

// Not-found class. Handlers answer all of these with a generic 404 so that
// another user's session id cannot be discovered.

type ModuleNotFoundError struct{ ModuleID int64 }

func (e *ModuleNotFoundError) Error() string { return fmt.Sprintf("module %d not found", e.ModuleID) }

type ContentNotFoundError struct{ ContentID int64 }

func (e *ContentNotFoundError) Error() string {
	return fmt.Sprintf("content %d not found", e.ContentID)
}

// InvalidContentError means a content id does not resolve to a module.
type InvalidContentError struct{ ContentID int64 }

func (e *InvalidContentError) Error() string {
	return fmt.Sprintf("content %d does not belong to any module", e.ContentID)
}

type InaccessibleSessionError struct{ SessionID int64 }

func (e *InaccessibleSessionError) Error() string {
	return fmt.Sprintf("session %d is not accessible", e.SessionID)
}

type DraftNotFoundError struct{ DraftID string }

func (e *DraftNotFoundError) Error() string { return fmt.Sprintf("draft %s not found", e.DraftID) }

// Validation class.

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "Validation error"
	}
	parts := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		parts = append(parts, k+": "+v)
	}
	return "Validation error: " + strings.Join(parts, ", ")
}

// InvalidPackageError means the upload is not a readable zip package.
type InvalidPackageError struct{ Reason string }

func (e *InvalidPackageError) Error() string { return "invalid package: " + e.Reason }

type InvalidDescriptionError struct{ Reason string }

func (e *InvalidDescriptionError) Error() string { return "invalid package description: " + e.Reason }

type UnsupportedContentError struct{ Reason string }

func (e *UnsupportedContentError) Error() string { return "unsupported package: " + e.Reason }

// LockTimeoutError is fatal to the request and never retried here.
type LockTimeoutError struct{ Key string }

func (e *LockTimeoutError) Error() string { return "timed out waiting for lock " + e.Key }
