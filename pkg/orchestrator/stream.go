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
package orchestrator

import "time"

// Streaming event types delivered to subscribers. These are advisory
// and never persisted; the event log is the source of truth.
const (
	StreamTurnStart         = "agent.turn_start"
	StreamTurnEnd           = "agent.turn_end"
	StreamToolStart         = "agent.tool_start"
	StreamToolOutput        = "agent.tool_output"
	StreamToolEnd           = "agent.tool_end"
	StreamCompactionStarted = "agent.compaction_started"
	StreamCompaction        = "agent.compaction"
	StreamSubagentSpawned   = "agent.subagent_spawned"
	StreamSubagentCompleted = "agent.subagent_completed"
	StreamSubagentFailed    = "agent.subagent_failed"
	StreamTurnInterrupted   = "turn_interrupted"
)

// StreamEvent is one ephemeral event published to the broker.
type StreamEvent struct {
	SessionID string
	Type      string
	Payload   map[string]interface{}
	Timestamp time.Time
}
