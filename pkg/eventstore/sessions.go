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
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/warperr"
)

const sessionColumns = `id, working_directory, model,
	COALESCE(root_event_id, ''), COALESCE(head_event_id, ''),
	COALESCE(parent_session_id, ''), COALESCE(spawn_type, ''), COALESCE(spawn_task, ''),
	turn_count, total_input_tokens, total_output_tokens,
	cache_read_tokens, cache_creation_tokens, total_cost,
	created_at, last_activity_at, COALESCE(ended_at, '')`

// CreateSession inserts a new session row with no events. The root
// event is appended separately by the orchestrator (session.start, or
// session.fork for forks).
func (s *Store) CreateSession(ctx context.Context, workingDirectory, model string) (*Session, error) {
	return s.CreateSessionWithID(ctx, uuid.NewString(), workingDirectory, model)
}

// CreateSessionWithID creates a session under a caller-chosen id. Used
// by the spawn handler, where the parent generates the child's id
// before launching the child process.
func (s *Store) CreateSessionWithID(ctx context.Context, id, workingDirectory, model string) (*Session, error) {
	if id == "" {
		return nil, warperr.New(warperr.CodeInvalidPayload, warperr.CategoryValidation,
			"session id is required")
	}
	if workingDirectory == "" {
		return nil, warperr.New(warperr.CodeInvalidPayload, warperr.CategoryValidation,
			"working directory is required")
	}
	if model == "" {
		return nil, warperr.New(warperr.CodeInvalidPayload, warperr.CategoryValidation,
			"model is required")
	}

	sess := &Session{
		ID:               id,
		WorkingDirectory: workingDirectory,
		Model:            model,
		CreatedAt:        now(),
		LastActivityAt:   now(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, working_directory, model, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.WorkingDirectory, sess.Model,
		formatTime(sess.CreatedAt), formatTime(sess.LastActivityAt))
	if err != nil {
		return nil, warperr.Wrap(err, "STORAGE_WRITE", warperr.CategoryStorage,
			"failed to create session")
	}

	s.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("model", model),
		zap.String("working_directory", workingDirectory))

	return sess, nil
}

// GetSession returns the session record, or nil if it does not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// ListSessions returns all sessions ordered by last activity, newest
// first.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY last_activity_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateSessionSpawnInfo records how a session was spawned.
func (s *Store) UpdateSessionSpawnInfo(ctx context.Context, sessionID, parentSessionID string, spawnType SpawnType, spawnTask string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET parent_session_id = ?, spawn_type = ?, spawn_task = ?
		WHERE id = ?`,
		nullable(parentSessionID), nullable(string(spawnType)), nullable(spawnTask), sessionID)
	return err
}

// UpdateLatestModel records the model a session most recently used.
func (s *Store) UpdateLatestModel(ctx context.Context, sessionID, model string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET model = ? WHERE id = ?`, model, sessionID)
	return err
}

// TurnStats is the per-turn delta applied to session aggregates.
type TurnStats struct {
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
	Cost                float64
}

// AccumulateTurnStats rolls one completed turn into the session row.
func (s *Store) AccumulateTurnStats(ctx context.Context, sessionID string, stats TurnStats) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			turn_count = turn_count + 1,
			total_input_tokens = total_input_tokens + ?,
			total_output_tokens = total_output_tokens + ?,
			cache_read_tokens = cache_read_tokens + ?,
			cache_creation_tokens = cache_creation_tokens + ?,
			total_cost = total_cost + ?,
			last_activity_at = ?
		WHERE id = ?`,
		stats.InputTokens, stats.OutputTokens,
		stats.CacheReadTokens, stats.CacheCreationTokens,
		stats.Cost, formatTime(now()), sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return warperr.SessionNotFound(sessionID)
	}
	return err
}

// markEnded stamps ended_at when a terminal session.end event lands.
func (s *Store) markEnded(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		formatTime(now()), sessionID)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var spawnType, createdAt, lastActivity, endedAt string
	err := row.Scan(
		&sess.ID, &sess.WorkingDirectory, &sess.Model,
		&sess.RootEventID, &sess.HeadEventID,
		&sess.ParentSessionID, &spawnType, &sess.SpawnTask,
		&sess.TurnCount, &sess.TotalInputTokens, &sess.TotalOutputTokens,
		&sess.CacheReadTokens, &sess.CacheCreationTokens, &sess.TotalCost,
		&createdAt, &lastActivity, &endedAt)
	if err != nil {
		return nil, err
	}
	sess.SpawnType = SpawnType(spawnType)
	sess.CreatedAt = parseTime(createdAt)
	sess.LastActivityAt = parseTime(lastActivity)
	sess.EndedAt = parseTime(endedAt)
	return &sess, nil
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

// requireSession loads a session or fails with SessionNotFound.
func (s *Store) requireSession(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if sess == nil {
		return nil, warperr.SessionNotFound(sessionID)
	}
	return sess, nil
}
