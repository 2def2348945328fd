// Copyright (C) 2026 Skagit Labs (dev@skagitlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pve

import (
	"fmt"
	"time"
)

// =============================================================================
// Remote Error Kinds
// =============================================================================

// RemoteErrorKind categorizes rejections issued by the remote platform.
//
// The kind drives retry decisions in the orchestrator: only KindConflict is
// ever a retry candidate, and only for operations marked idempotent.
type RemoteErrorKind int

const (
	// KindOther is any remote rejection not covered by a specific kind.
	KindOther RemoteErrorKind = iota

	// KindNotFound means the target resource or task does not exist (404).
	KindNotFound

	// KindConflict means the resource is in a state that forbids the
	// action, e.g. starting a VM that is already locked by a backup (409).
	KindConflict

	// KindValidation means the request parameters were rejected (400/422).
	KindValidation
)

// String returns the kind as a string for logging.
func (k RemoteErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	case KindValidation:
		return "VALIDATION"
	case KindOther:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

// =============================================================================
// Error Types
// =============================================================================

// AuthError indicates a credential or permission problem (401/403, or a
// failed ticket refresh). It is never retried automatically.
//
// The message never contains credential material; only the operation and
// HTTP status are recorded.
type AuthError struct {
	// Op is the logical operation that was being performed.
	Op string

	// Status is the HTTP status code, or 0 for non-HTTP auth failures.
	Status int

	// Wrapped is the underlying error (may be nil).
	Wrapped error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: authentication rejected (HTTP %d)", e.Op, e.Status)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: authentication failed: %v", e.Op, e.Wrapped)
	}
	return fmt.Sprintf("%s: authentication failed", e.Op)
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error { return e.Wrapped }

// RemoteError indicates the remote platform received and rejected the
// request. Status and Body are preserved so callers can decide how to react.
type RemoteError struct {
	// Kind categorizes the rejection for retry decisions.
	Kind RemoteErrorKind

	// Op is the logical operation that was being performed.
	Op string

	// Status is the HTTP status code returned by the platform.
	Status int

	// Body is the raw response body (may be empty).
	Body string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: remote rejected request (%s, HTTP %d): %s", e.Op, e.Kind, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: remote rejected request (%s, HTTP %d)", e.Op, e.Kind, e.Status)
}

// TransportError indicates the request never produced a usable response:
// connection failure, timeout, TLS failure, or a 5xx from the platform.
// Transport errors are retry candidates.
type TransportError struct {
	// Op is the logical operation that was being performed.
	Op string

	// Status is the HTTP status code for 5xx responses, 0 otherwise.
	Status int

	// Wrapped is the underlying network error (may be nil for 5xx).
	Wrapped error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: transport failure (HTTP %d)", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Wrapped)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Wrapped }

// TaskTimeoutError indicates polling exceeded its time budget before the
// task reached a terminal state. The task may still be running remotely;
// the caller can re-attach by tracking the same handle again.
type TaskTimeoutError struct {
	// Handle identifies the task that was being tracked.
	Handle UPID

	// Timeout is the polling budget that was exceeded.
	Timeout time.Duration

	// LastStatus is the most recent status observed, nil if no poll succeeded.
	LastStatus *TaskStatus
}

// Error implements the error interface.
func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("task %s did not finish within %s", e.Handle, e.Timeout)
}

// DetachedError indicates the caller cancelled tracking between polls. The
// remote task is left untouched and the handle remains valid for re-attach.
// Distinct from TaskTimeoutError so callers can tell the two apart.
type DetachedError struct {
	// Handle identifies the task tracking detached from.
	Handle UPID

	// LastStatus is the most recent status observed, nil if no poll succeeded.
	LastStatus *TaskStatus
}

// Error implements the error interface.
func (e *DetachedError) Error() string {
	return fmt.Sprintf("detached from task %s; handle remains valid for re-attach", e.Handle)
}

// ConfirmationRequiredError indicates a destructive operation was attempted
// without a confirmation artifact. Always fatal to that call; never retried.
type ConfirmationRequiredError struct {
	// Operation is the name of the destructive operation.
	Operation string
}

// Error implements the error interface.
func (e *ConfirmationRequiredError) Error() string {
	return fmt.Sprintf("operation %q is destructive and requires explicit confirmation", e.Operation)
}

// Compile-time interface satisfaction checks
var (
	_ error = (*AuthError)(nil)
	_ error = (*RemoteError)(nil)
	_ error = (*TransportError)(nil)
	_ error = (*TaskTimeoutError)(nil)
	_ error = (*DetachedError)(nil)
	_ error = (*ConfirmationRequiredError)(nil)
)
