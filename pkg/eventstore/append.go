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
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/warperr"
)

const (
	// blobThreshold is the payload content size above which the content
	// bytes move to the blob store.
	blobThreshold = 2 * 1024

	// previewThreshold is the content size above which only a truncated
	// preview stays inline next to the blob reference.
	previewThreshold = 10 * 1024

	// previewSize is how much of an offloaded content field stays
	// inline as a preview.
	previewSize = 2 * 1024
)

// AppendRequest describes one event to append.
type AppendRequest struct {
	SessionID string
	Kind      Kind
	Payload   map[string]interface{}

	// ParentID pins the parent explicitly. When empty the current head
	// is used. Appending under a non-head parent creates a branch
	// point and does not advance head.
	ParentID string

	// RunID correlates events of one prompt invocation.
	RunID string

	// WorkspaceID tags the event's workspace.
	WorkspaceID string
}

// Append persists one event. The whole operation runs under the
// session's write lock and a single transaction: readers observe the
// new event, its FTS rows and the head advance together or not at all.
func (s *Store) Append(ctx context.Context, req AppendRequest) (*Event, error) {
	if err := ValidatePayload(req.Kind, req.Payload); err != nil {
		return nil, err
	}

	lock := s.lockSession(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.requireSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, warperr.Wrap(err, "STORAGE_WRITE", warperr.CategoryStorage,
			"failed to begin append transaction")
	}
	defer tx.Rollback()

	// Resolve parent: default to head; explicit parents must belong to
	// this session.
	parentID := req.ParentID
	if parentID == "" {
		parentID = sess.HeadEventID
	} else if parentID != sess.HeadEventID {
		var parentSession string
		err := tx.QueryRowContext(ctx,
			`SELECT session_id FROM events WHERE id = ?`, parentID).Scan(&parentSession)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && parentSession != req.SessionID) {
			return nil, warperr.ParentMismatch(parentID, req.SessionID)
		}
		if err != nil {
			return nil, warperr.Wrap(err, "STORAGE_READ", warperr.CategoryStorage,
				"failed to resolve parent")
		}
	}

	var sequence int64 = 1
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE session_id = ?`,
		req.SessionID).Scan(&sequence); err != nil {
		return nil, warperr.Wrap(err, "STORAGE_READ", warperr.CategoryStorage,
			"failed to read sequence")
	}

	event := &Event{
		ID:          uuid.NewString(),
		ParentID:    parentID,
		SessionID:   req.SessionID,
		WorkspaceID: req.WorkspaceID,
		Sequence:    sequence,
		Timestamp:   now(),
		Kind:        req.Kind,
		Payload:     clonePayload(req.Payload),
		RunID:       req.RunID,
	}

	if err := s.offloadLargeContent(ctx, tx, event); err != nil {
		return nil, err
	}

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, warperr.Wrap(err, warperr.CodeInvalidPayload, warperr.CategoryValidation,
			"payload is not serializable")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, session_id, parent_id, sequence, type, timestamp, workspace_id, run_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.SessionID, nullable(event.ParentID), event.Sequence,
		string(event.Kind), formatTime(event.Timestamp),
		nullable(event.WorkspaceID), nullable(event.RunID), string(payloadJSON))
	if err != nil {
		return nil, warperr.Wrap(err, "STORAGE_WRITE", warperr.CategoryStorage,
			"failed to persist event")
	}

	if event.Kind.Indexable() {
		message, errorMessage := indexableText(event.Payload)
		if message != "" || errorMessage != "" {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO events_fts (event_id, session_id, workspace_id, component, message, error_message)
				VALUES (?, ?, ?, ?, ?, ?)`,
				event.ID, event.SessionID, event.WorkspaceID,
				string(event.Kind), message, errorMessage)
			if err != nil {
				return nil, warperr.Wrap(err, "STORAGE_WRITE", warperr.CategoryStorage,
					"failed to index event")
			}
		}
	}

	// Head advances only when appending to the current head (or the
	// session root). Appending under an older parent leaves head
	// untouched; the new event starts a discoverable branch.
	advanceHead := parentID == sess.HeadEventID
	if advanceHead {
		set := `head_event_id = ?, last_activity_at = ?`
		args := []interface{}{event.ID, formatTime(event.Timestamp)}
		if sess.RootEventID == "" {
			set = `root_event_id = ?, ` + set
			args = append([]interface{}{event.ID}, args...)
		}
		args = append(args, req.SessionID)
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET `+set+` WHERE id = ?`, args...); err != nil {
			return nil, warperr.Wrap(err, "STORAGE_WRITE", warperr.CategoryStorage,
				"failed to advance head")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, warperr.Wrap(err, "STORAGE_WRITE", warperr.CategoryStorage,
			"failed to commit append")
	}

	if event.Kind == KindSessionEnd {
		if err := s.markEnded(ctx, req.SessionID); err != nil {
			s.logger.Warn("failed to stamp session end",
				zap.String("session_id", req.SessionID), zap.Error(err))
		}
	}

	s.logger.Debug("event appended",
		zap.String("session_id", event.SessionID),
		zap.String("event_id", event.ID),
		zap.String("kind", string(event.Kind)),
		zap.Int64("sequence", event.Sequence),
		zap.Bool("head_advanced", advanceHead))

	return event, nil
}

// offloadLargeContent moves an oversized payload "content" string into
// the blob store. Between the blob and preview thresholds the full text
// stays inline next to the blob reference; above the preview threshold
// only a truncated preview remains and the payload is marked truncated.
func (s *Store) offloadLargeContent(ctx context.Context, tx *sql.Tx, event *Event) error {
	content, ok := event.Payload["content"].(string)
	if !ok || len(content) <= blobThreshold {
		return nil
	}

	blobID, err := s.storeBlobTx(ctx, tx, []byte(content), "text/plain")
	if err != nil {
		return warperr.Wrap(err, "STORAGE_WRITE", warperr.CategoryStorage,
			"failed to offload content blob")
	}

	event.Payload["blobId"] = blobID
	if len(content) > previewThreshold {
		event.Payload["content"] = content[:previewSize] +
			fmt.Sprintf("\n... [truncated, full content in blob %s]", blobID)
		event.Payload["truncated"] = true
	}
	return nil
}

// indexableText extracts the textual fields that feed the full-text
// index: message/text/content into the message column, error fields
// into error_message.
func indexableText(payload map[string]interface{}) (message, errorMessage string) {
	var parts []string
	for _, key := range []string{"message", "text", "content"} {
		if v, ok := payload[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	// Assistant content is a block array; pull the text blocks.
	if blocks, ok := payload["content"].([]interface{}); ok {
		for _, raw := range blocks {
			block, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if t, _ := block["type"].(string); t == "text" {
				if text, ok := block["text"].(string); ok && text != "" {
					parts = append(parts, text)
				}
			}
		}
	}
	message = strings.Join(parts, "\n")

	for _, key := range []string{"error_message", "error"} {
		if v, ok := payload[key].(string); ok && v != "" {
			errorMessage = v
			break
		}
	}
	return message, errorMessage
}

func clonePayload(payload map[string]interface{}) map[string]interface{} {
	cloned := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		cloned[k] = v
	}
	return cloned
}
