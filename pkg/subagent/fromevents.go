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
package subagent

import (
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/eventstore"
	"github.com/teradata-labs/warp/pkg/tokens"
)

// FromEvents reconstructs a tracker by replaying a session's event
// chain. context.cleared and compact.boundary reset tracking the same
// way a runtime Clear does: records drop, pending results survive.
// Replay never fires callbacks; none can be registered yet.
func FromEvents(events []*eventstore.Event, logger *zap.Logger) *Tracker {
	t := NewTracker(logger)

	for _, ev := range events {
		switch ev.Kind {
		case eventstore.KindSubagentSpawned:
			sid := stringField(ev.Payload, "subagentSessionId")
			if sid == "" {
				continue
			}
			t.Spawn(sid,
				eventstore.SpawnType(stringField(ev.Payload, "spawnType")),
				stringField(ev.Payload, "task"))

		case eventstore.KindSubagentStatusUpdate:
			sid := stringField(ev.Payload, "subagentSessionId")
			t.UpdateStatus(sid, Status(stringField(ev.Payload, "status")),
				intField(ev.Payload, "currentTurn"), usageField(ev.Payload, "tokenUsage"))

		case eventstore.KindSubagentCompleted:
			sid := stringField(ev.Payload, "subagentSessionId")
			t.Complete(sid,
				stringField(ev.Payload, "resultSummary"),
				intField(ev.Payload, "totalTurns"),
				usageField(ev.Payload, "totalTokenUsage"),
				time.Duration(intField(ev.Payload, "duration"))*time.Millisecond,
				stringField(ev.Payload, "fullOutput"))

		case eventstore.KindSubagentFailed:
			sid := stringField(ev.Payload, "subagentSessionId")
			// The failed payload carries no turn count; replay records zero.
			t.Fail(sid,
				stringField(ev.Payload, "error"),
				0,
				time.Duration(intField(ev.Payload, "duration"))*time.Millisecond)

		case eventstore.KindContextCleared, eventstore.KindCompactBoundary:
			t.Clear()
		}
	}
	return t
}

func stringField(payload map[string]interface{}, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func intField(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func usageField(payload map[string]interface{}, key string) tokens.Usage {
	usage := tokens.Usage{}
	if m, ok := payload[key].(map[string]interface{}); ok {
		usage.InputTokens = int64(intField(m, "inputTokens"))
		usage.OutputTokens = int64(intField(m, "outputTokens"))
		usage.CacheReadTokens = int64(intField(m, "cacheReadTokens"))
		usage.CacheCreationTokens = int64(intField(m, "cacheCreationTokens"))
	}
	return usage
}
