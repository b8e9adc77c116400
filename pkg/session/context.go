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
// Package session carries per-run identity through handler calls.
// Instead of hidden task-local storage, an EventContext value is passed
// explicitly and mirrored into context.Context for tools that only see
// a standard context.
package session

import (
	"context"

	"go.uber.org/zap"
)

// EventContext identifies the session, run and turn that produced an
// event. It is passed explicitly through pipeline, hook and tool calls
// and logged as structured fields.
type EventContext struct {
	SessionID   string
	WorkspaceID string
	RunID       string
	Turn        int
}

// Fields returns the context as zap fields for structured logging.
func (ec EventContext) Fields() []zap.Field {
	fields := []zap.Field{
		zap.String("session_id", ec.SessionID),
	}
	if ec.WorkspaceID != "" {
		fields = append(fields, zap.String("workspace_id", ec.WorkspaceID))
	}
	if ec.RunID != "" {
		fields = append(fields, zap.String("run_id", ec.RunID))
	}
	if ec.Turn > 0 {
		fields = append(fields, zap.Int("turn", ec.Turn))
	}
	return fields
}

// sessionIDKey is the context key for session IDs
type sessionIDKey struct{}

// runIDKey is the context key for run IDs
type runIDKey struct{}

// WithSessionID injects a session ID into the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionIDFromContext extracts the session ID from the context
// Returns empty string if not found
func SessionIDFromContext(ctx context.Context) string {
	if sessionID, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return sessionID
	}
	return ""
}

// WithRunID injects a run ID into the context
func WithRunID(ctx context.Context, runID string) context.Context {
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext extracts the run ID from the context
// Returns empty string if not found
func RunIDFromContext(ctx context.Context) string {
	if runID, ok := ctx.Value(runIDKey{}).(string); ok {
		return runID
	}
	return ""
}

// WithEventContext injects both session and run IDs into the context.
func WithEventContext(ctx context.Context, ec EventContext) context.Context {
	return WithRunID(WithSessionID(ctx, ec.SessionID), ec.RunID)
}
