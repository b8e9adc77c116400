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
// Package eventstore persists conversation turns as an append-only,
// branchable event log backed by SQLite. Each session forms a DAG of
// events linked by parent id; the head pointer tracks the leaf of the
// active branch.
package eventstore

import (
	"fmt"
	"time"
)

// Event is the sole persisted unit. Events are immutable after append;
// corrections appear as new events.
type Event struct {
	// ID is the opaque event identifier.
	ID string

	// ParentID is the parent event in the same session. Empty for
	// session roots (including the root of a fork).
	ParentID string

	// SessionID is the owning session.
	SessionID string

	// WorkspaceID groups sessions belonging to one workspace.
	WorkspaceID string

	// Sequence is the per-session monotone position. Strictly
	// increasing, contiguous on the active branch.
	Sequence int64

	// Timestamp is the server-assigned append time (UTC).
	Timestamp time.Time

	// Kind is the event kind.
	Kind Kind

	// Payload is the kind-specific structured payload. Content fields
	// above the inline threshold are offloaded to the blob store and
	// referenced by blobId.
	Payload map[string]interface{}

	// RunID correlates events produced by one prompt invocation.
	RunID string
}

// SpawnType distinguishes how a session came into being.
type SpawnType string

const (
	SpawnTypeSubsession SpawnType = "subsession"
	SpawnTypeTmux       SpawnType = "tmux"
	SpawnTypeFork       SpawnType = "fork"
)

// Session is the persisted session row with aggregate statistics.
type Session struct {
	ID               string
	WorkingDirectory string
	Model            string
	RootEventID      string
	HeadEventID      string
	ParentSessionID  string
	SpawnType        SpawnType
	SpawnTask        string

	TurnCount           int
	TotalInputTokens    int64
	TotalOutputTokens   int64
	CacheReadTokens     int64
	CacheCreationTokens int64
	TotalCost           float64

	CreatedAt      time.Time
	LastActivityAt time.Time
	EndedAt        time.Time
}

// Ended reports whether the session has a terminal end marker.
func (s *Session) Ended() bool {
	return !s.EndedAt.IsZero()
}

// Summary derives a short human-readable description of the event for
// tree views. Kind-specific, best effort.
func (e *Event) Summary() string {
	switch e.Kind {
	case KindSessionStart:
		return fmt.Sprintf("session started (%s)", stringField(e.Payload, "model"))
	case KindSessionEnd:
		return fmt.Sprintf("session ended: %s", stringField(e.Payload, "reason"))
	case KindSessionFork:
		return fmt.Sprintf("forked from %s", stringField(e.Payload, "sourceEventId"))
	case KindMessageUser:
		return truncate(stringField(e.Payload, "content"), 80)
	case KindMessageAssistant:
		return fmt.Sprintf("assistant reply (turn %v)", e.Payload["turn"])
	case KindMessageDeleted:
		return fmt.Sprintf("deleted %s", stringField(e.Payload, "targetEventId"))
	case KindToolCall:
		return fmt.Sprintf("tool %s", stringField(e.Payload, "name"))
	case KindToolResult:
		if isTrue(e.Payload["isError"]) {
			return "tool result (error)"
		}
		return "tool result"
	case KindStreamTurnStart:
		return fmt.Sprintf("turn %v started", e.Payload["turn"])
	case KindStreamTurnEnd:
		return fmt.Sprintf("turn %v ended", e.Payload["turn"])
	case KindConfigModelSwitch:
		return fmt.Sprintf("model %s -> %s",
			stringField(e.Payload, "previousModel"), stringField(e.Payload, "newModel"))
	case KindCompactBoundary:
		return fmt.Sprintf("compacted: %s", truncate(stringField(e.Payload, "summary"), 60))
	case KindContextCleared:
		return "context cleared"
	case KindSubagentSpawned:
		return fmt.Sprintf("spawned subagent: %s", truncate(stringField(e.Payload, "task"), 60))
	case KindSubagentCompleted:
		return "subagent completed"
	case KindSubagentFailed:
		return fmt.Sprintf("subagent failed: %s", truncate(stringField(e.Payload, "error"), 60))
	case KindErrorAgent:
		return fmt.Sprintf("error: %s", truncate(stringField(e.Payload, "error"), 60))
	default:
		return string(e.Kind)
	}
}

// TreeNode is one event in the tree visualization.
type TreeNode struct {
	ID            string
	ParentID      string
	Kind          Kind
	Timestamp     time.Time
	Summary       string
	HasChildren   bool
	ChildCount    int
	Depth         int
	IsBranchPoint bool
	IsHead        bool
}

// Branch describes one child chain at a branch point.
type Branch struct {
	// BranchPointID is the event with multiple children.
	BranchPointID string

	// FirstEventID is the first event on this branch.
	FirstEventID string

	// IsMain marks the branch lying on the head's ancestor path.
	IsMain bool

	// Length is the number of events on the branch from its first
	// event to its deepest leaf.
	Length int
}

// SearchResult is one ranked full-text hit.
type SearchResult struct {
	EventID   string
	SessionID string
	Kind      Kind
	Snippet   string
	Relevance float64
	Timestamp time.Time
}

// SearchFilters narrows a full-text search.
type SearchFilters struct {
	SessionID   string
	WorkspaceID string
	Kinds       []Kind
	Limit       int
}

func stringField(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func isTrue(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
