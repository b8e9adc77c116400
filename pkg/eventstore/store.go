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
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// timestampLayout is ISO-8601 UTC with millisecond precision, the
// format stored in the timestamp column.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Store provides durable, ordered, branchable storage of events.
// Writes to one session are serialized by a per-session mutex; reads
// are concurrent with writes and see either the full new event or none
// of it.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	// sessionLocks serializes append and head-advance per session.
	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex
}

// Open creates a Store on the SQLite database at path, creating the
// schema if needed. WAL mode is enabled for concurrent readers.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialize all writes through one connection; SQLite allows a
	// single writer per database anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	store := &Store{
		db:           db,
		logger:       logger,
		sessionLocks: make(map[string]*sync.Mutex),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		working_directory TEXT NOT NULL,
		model TEXT NOT NULL,
		root_event_id TEXT,
		head_event_id TEXT,
		parent_session_id TEXT,
		spawn_type TEXT,
		spawn_task TEXT,
		turn_count INTEGER DEFAULT 0,
		total_input_tokens INTEGER DEFAULT 0,
		total_output_tokens INTEGER DEFAULT 0,
		cache_read_tokens INTEGER DEFAULT 0,
		cache_creation_tokens INTEGER DEFAULT 0,
		total_cost REAL DEFAULT 0,
		created_at TEXT NOT NULL,
		last_activity_at TEXT NOT NULL,
		ended_at TEXT
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		parent_id TEXT,
		sequence INTEGER NOT NULL,
		type TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		workspace_id TEXT,
		run_id TEXT,
		payload TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE TABLE IF NOT EXISTS blobs (
		id TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_events_session_seq ON events(session_id, sequence);
	CREATE INDEX IF NOT EXISTS idx_events_parent ON events(parent_id);
	CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events(type, timestamp);
	CREATE INDEX IF NOT EXISTS idx_sessions_parent ON sessions(parent_session_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity_at);

	-- FTS5 index over textual payload fields (BM25 ranking).
	-- Rows are inserted explicitly on append for indexable kinds only,
	-- so no sync triggers on the events table.
	CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
		event_id UNINDEXED,
		session_id UNINDEXED,
		workspace_id UNINDEXED,
		component UNINDEXED,
		message,
		error_message,
		tokenize='porter unicode61'
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// lockSession returns the mutex serializing writes for sessionID.
func (s *Store) lockSession(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.sessionLocks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.sessionLocks[sessionID] = lock
	}
	return lock
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// now returns the current time truncated to stored precision.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(timestampLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
