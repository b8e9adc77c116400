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

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/warperr"
)

// Fork creates a new session whose root event references sourceEventID
// by payload, not by parent id: the parent-id DAG never crosses session
// boundaries. The source session is unchanged. The caller primes the
// fork's runtime state by replaying the ancestors of the source event.
func (s *Store) Fork(ctx context.Context, sourceSessionID, sourceEventID, name string) (*Session, *Event, error) {
	sourceSession, err := s.requireSession(ctx, sourceSessionID)
	if err != nil {
		return nil, nil, err
	}

	sourceEvent, err := s.GetEvent(ctx, sourceEventID)
	if err != nil {
		return nil, nil, err
	}
	if sourceEvent.SessionID != sourceSessionID {
		return nil, nil, warperr.EventNotFound(sourceEventID)
	}

	forked, err := s.CreateSession(ctx, sourceSession.WorkingDirectory, sourceSession.Model)
	if err != nil {
		return nil, nil, err
	}

	if err := s.UpdateSessionSpawnInfo(ctx, forked.ID, sourceSessionID, SpawnTypeFork, ""); err != nil {
		return nil, nil, err
	}

	payload := map[string]interface{}{
		"sourceSessionId": sourceSessionID,
		"sourceEventId":   sourceEventID,
	}
	if name != "" {
		payload["name"] = name
	}

	root, err := s.Append(ctx, AppendRequest{
		SessionID:   forked.ID,
		Kind:        KindSessionFork,
		Payload:     payload,
		WorkspaceID: sourceEvent.WorkspaceID,
	})
	if err != nil {
		return nil, nil, err
	}

	forked.ParentSessionID = sourceSessionID
	forked.SpawnType = SpawnTypeFork
	forked.RootEventID = root.ID
	forked.HeadEventID = root.ID

	s.logger.Info("session forked",
		zap.String("source_session_id", sourceSessionID),
		zap.String("source_event_id", sourceEventID),
		zap.String("forked_session_id", forked.ID))

	return forked, root, nil
}
