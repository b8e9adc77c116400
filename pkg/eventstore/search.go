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
	"strings"
)

const defaultSearchLimit = 50

// Search runs a ranked full-text query over indexed payload fields.
// Ranking uses FTS5 bm25; snippets highlight the matched terms.
func (s *Store) Search(ctx context.Context, query string, filters SearchFilters) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	sql := `
		SELECT f.event_id, f.session_id, f.component,
			snippet(events_fts, 4, '[', ']', '...', 16),
			bm25(events_fts),
			e.timestamp
		FROM events_fts f
		JOIN events e ON e.id = f.event_id
		WHERE events_fts MATCH ?`
	args := []interface{}{ftsQuery(query)}

	if filters.SessionID != "" {
		sql += ` AND f.session_id = ?`
		args = append(args, filters.SessionID)
	}
	if filters.WorkspaceID != "" {
		sql += ` AND f.workspace_id = ?`
		args = append(args, filters.WorkspaceID)
	}
	if len(filters.Kinds) > 0 {
		sql += ` AND f.component IN (?` + strings.Repeat(",?", len(filters.Kinds)-1) + `)`
		for _, kind := range filters.Kinds {
			args = append(args, string(kind))
		}
	}

	sql += ` ORDER BY bm25(events_fts) ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var kind, timestamp string
		var rank float64
		if err := rows.Scan(&r.EventID, &r.SessionID, &kind, &r.Snippet, &rank, &timestamp); err != nil {
			return nil, err
		}
		r.Kind = Kind(kind)
		r.Timestamp = parseTime(timestamp)
		// bm25 returns lower-is-better negative scores; expose a
		// higher-is-better relevance.
		r.Relevance = -rank
		results = append(results, r)
	}
	return results, rows.Err()
}

// ftsQuery escapes a raw user query into FTS5 match syntax: each term
// is quoted so punctuation cannot be parsed as operators.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(term, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}
