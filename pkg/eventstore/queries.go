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
	"sort"

	"github.com/teradata-labs/warp/pkg/warperr"
)

const eventColumns = `id, session_id, COALESCE(parent_id, ''), sequence, type,
	timestamp, COALESCE(workspace_id, ''), COALESCE(run_id, ''), payload`

// GetEvent returns a single event by id.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, eventID)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, warperr.EventNotFound(eventID)
	}
	return event, err
}

// GetEvents returns the events of the session's active branch in
// sequence order, root first. Events on abandoned branches are not
// included.
func (s *Store) GetEvents(ctx context.Context, sessionID string) ([]*Event, error) {
	sess, err := s.requireSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.HeadEventID == "" {
		return nil, nil
	}
	return s.GetAncestors(ctx, sess.HeadEventID)
}

// GetAncestors returns the chain from the session root to eventID,
// inclusive, in sequence order.
func (s *Store) GetAncestors(ctx context.Context, eventID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE chain(id, session_id, parent_id, sequence, type, timestamp, workspace_id, run_id, payload) AS (
			SELECT `+eventColumns+` FROM events WHERE id = ?
			UNION ALL
			SELECT e.id, e.session_id, COALESCE(e.parent_id, ''), e.sequence, e.type,
				e.timestamp, COALESCE(e.workspace_id, ''), COALESCE(e.run_id, ''), e.payload
			FROM events e JOIN chain c ON e.id = c.parent_id
		)
		SELECT id, session_id, parent_id, sequence, type, timestamp, workspace_id, run_id, payload
		FROM chain ORDER BY sequence ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, warperr.EventNotFound(eventID)
	}
	return events, nil
}

// GetChildren returns the events whose parent is eventID, in sequence
// order. More than one child marks a branch point.
func (s *Store) GetChildren(ctx context.Context, eventID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE parent_id = ? ORDER BY sequence ASC`,
		eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// sessionEvents returns every event of the session, including abandoned
// branches, in sequence order.
func (s *Store) sessionEvents(ctx context.Context, sessionID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE session_id = ? ORDER BY sequence ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// HasBranches reports whether any event of the session has more than
// one child.
func (s *Store) HasBranches(ctx context.Context, sessionID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT parent_id FROM events
			WHERE session_id = ? AND parent_id IS NOT NULL
			GROUP BY parent_id HAVING COUNT(*) > 1
		)`, sessionID).Scan(&n)
	return n > 0, err
}

// ListBranches enumerates the branches of a session. For each branch
// point the child on the head's ancestor path is marked main, the
// others are forks.
func (s *Store) ListBranches(ctx context.Context, sessionID string) ([]Branch, error) {
	sess, err := s.requireSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	events, err := s.sessionEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	children := make(map[string][]*Event)
	byID := make(map[string]*Event, len(events))
	for _, e := range events {
		byID[e.ID] = e
		if e.ParentID != "" {
			children[e.ParentID] = append(children[e.ParentID], e)
		}
	}

	// Events on the head's ancestor path define the main line.
	onMain := make(map[string]bool)
	for id := sess.HeadEventID; id != ""; {
		onMain[id] = true
		e, ok := byID[id]
		if !ok {
			break
		}
		id = e.ParentID
	}

	depth := func(start *Event) int {
		// Longest chain from start to any leaf below it.
		var walk func(e *Event) int
		walk = func(e *Event) int {
			best := 0
			for _, c := range children[e.ID] {
				if d := walk(c); d > best {
					best = d
				}
			}
			return best + 1
		}
		return walk(start)
	}

	var branches []Branch
	for parentID, kids := range children {
		if len(kids) < 2 {
			continue
		}
		sort.Slice(kids, func(i, j int) bool { return kids[i].Sequence < kids[j].Sequence })
		for _, kid := range kids {
			branches = append(branches, Branch{
				BranchPointID: parentID,
				FirstEventID:  kid.ID,
				IsMain:        onMain[kid.ID],
				Length:        depth(kid),
			})
		}
	}
	sort.Slice(branches, func(i, j int) bool {
		if branches[i].BranchPointID != branches[j].BranchPointID {
			return branches[i].BranchPointID < branches[j].BranchPointID
		}
		return branches[i].FirstEventID < branches[j].FirstEventID
	})
	return branches, nil
}

// Tree returns the session's full event tree for visualization,
// including abandoned branches, depth-first from the root.
func (s *Store) Tree(ctx context.Context, sessionID string) ([]TreeNode, error) {
	sess, err := s.requireSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	events, err := s.sessionEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	childCount := make(map[string]int)
	depth := make(map[string]int, len(events))
	for _, e := range events {
		if e.ParentID != "" {
			childCount[e.ParentID]++
			depth[e.ID] = depth[e.ParentID] + 1
		}
	}

	nodes := make([]TreeNode, 0, len(events))
	for _, e := range events {
		nodes = append(nodes, TreeNode{
			ID:            e.ID,
			ParentID:      e.ParentID,
			Kind:          e.Kind,
			Timestamp:     e.Timestamp,
			Summary:       e.Summary(),
			HasChildren:   childCount[e.ID] > 0,
			ChildCount:    childCount[e.ID],
			Depth:         depth[e.ID],
			IsBranchPoint: childCount[e.ID] > 1,
			IsHead:        e.ID == sess.HeadEventID,
		})
	}
	return nodes, nil
}

// DeleteMessage appends a message.deleted marker for targetEventID.
// The targeted event is preserved; readers interpret the marker.
func (s *Store) DeleteMessage(ctx context.Context, sessionID, targetEventID, reason string) (*Event, error) {
	target, err := s.GetEvent(ctx, targetEventID)
	if err != nil {
		return nil, err
	}
	if target.SessionID != sessionID {
		return nil, warperr.EventNotFound(targetEventID)
	}

	return s.Append(ctx, AppendRequest{
		SessionID: sessionID,
		Kind:      KindMessageDeleted,
		Payload: map[string]interface{}{
			"targetEventId": targetEventID,
			"targetType":    string(target.Kind),
			"reason":        reason,
		},
	})
}

func scanEvent(row rowScanner) (*Event, error) {
	var event Event
	var kind, timestamp, payloadJSON string
	err := row.Scan(&event.ID, &event.SessionID, &event.ParentID, &event.Sequence,
		&kind, &timestamp, &event.WorkspaceID, &event.RunID, &payloadJSON)
	if err != nil {
		return nil, err
	}
	event.Kind = Kind(kind)
	event.Timestamp = parseTime(timestamp)
	if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
		return nil, warperr.Wrap(err, "STORAGE_READ", warperr.CategoryStorage,
			"corrupt event payload")
	}
	return &event, nil
}

func collectEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
