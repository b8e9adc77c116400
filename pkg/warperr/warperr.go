// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package warperr defines the structured error model shared by the
// event store, orchestrator, hook engine and subagent tracker. RPC
// handlers map these to their wire format.
package warperr

import (
	"errors"
	"fmt"
)

// Category classifies an error by handling policy rather than by type.
type Category string

const (
	// CategoryValidation covers bad parameters and missing required fields.
	CategoryValidation Category = "validation"

	// CategoryNotFound covers missing sessions, events, parents and targets.
	CategoryNotFound Category = "not_found"

	// CategoryConcurrency covers conflicts like a second prompt on a busy
	// session or an append against a parent from another session.
	CategoryConcurrency Category = "concurrency"

	// CategoryProviderTransient covers rate limits, 5xx and timeouts from
	// the LLM provider. Retryable within the orchestrator's budget.
	CategoryProviderTransient Category = "provider_transient"

	// CategoryProviderTerminal covers auth failures, invalid models and
	// permission errors. Never retried.
	CategoryProviderTerminal Category = "provider_terminal"

	// CategoryHook covers hook handler failures. Always fail-open.
	CategoryHook Category = "hook"

	// CategoryTool covers tool executions that returned an error result.
	CategoryTool Category = "tool"

	// CategoryStorage covers write failures in the event store.
	CategoryStorage Category = "storage"

	// CategoryCancelled covers user aborts.
	CategoryCancelled Category = "cancelled"
)

// Well-known error codes surfaced to callers.
const (
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeEventNotFound     = "EVENT_NOT_FOUND"
	CodeParentMismatch    = "PARENT_MISMATCH"
	CodeInvalidKind       = "INVALID_KIND"
	CodeInvalidPayload    = "INVALID_PAYLOAD"
	CodeAlreadyProcessing = "ALREADY_PROCESSING"
	CodeHookBlocked       = "HOOK_BLOCKED"
	CodeWaitTimeout       = "WAIT_TIMEOUT"
	CodeTrackingCleared   = "TRACKING_CLEARED"
	CodeInterrupted       = "INTERRUPTED"
	CodeToolNotFound      = "TOOL_NOT_FOUND"
)

// Error carries a machine-readable code, a handling category, a
// retryable flag and a human message.
type Error struct {
	Code      string
	Category  Category
	Message   string
	Retryable bool

	// Details provides additional context for RPC handlers and logs.
	Details map[string]interface{}

	// cause is the wrapped error, if any.
	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetail returns e with an extra detail attached.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a structured error.
func New(code string, category Category, message string) *Error {
	return &Error{
		Code:      code,
		Category:  category,
		Message:   message,
		Retryable: category == CategoryProviderTransient,
	}
}

// Newf creates a structured error with a formatted message.
func Newf(code string, category Category, format string, args ...interface{}) *Error {
	return New(code, category, fmt.Sprintf(format, args...))
}

// Wrap creates a structured error around a cause.
func Wrap(err error, code string, category Category, message string) *Error {
	e := New(code, category, message)
	e.cause = err
	return e
}

// SessionNotFound reports a missing session.
func SessionNotFound(sessionID string) *Error {
	return Newf(CodeSessionNotFound, CategoryNotFound, "session %s not found", sessionID).
		WithDetail("session_id", sessionID)
}

// EventNotFound reports a missing event.
func EventNotFound(eventID string) *Error {
	return Newf(CodeEventNotFound, CategoryNotFound, "event %s not found", eventID).
		WithDetail("event_id", eventID)
}

// ParentMismatch reports an append whose parent belongs to another session.
func ParentMismatch(parentID, sessionID string) *Error {
	return Newf(CodeParentMismatch, CategoryConcurrency,
		"parent event %s does not belong to session %s", parentID, sessionID)
}

// AlreadyProcessing reports a prompt issued while a run is in flight.
func AlreadyProcessing(sessionID string) *Error {
	return Newf(CodeAlreadyProcessing, CategoryConcurrency,
		"session %s is already processing a prompt", sessionID)
}

// CategoryOf returns the category of err, or empty if err is not a
// structured error.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// CodeOf returns the code of err, or empty if err is not structured.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether err may succeed on retry.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return CategoryOf(err) == CategoryNotFound
}
