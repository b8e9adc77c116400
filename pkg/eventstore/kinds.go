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
	"strings"

	"github.com/teradata-labs/warp/pkg/warperr"
)

// Kind identifies a persisted event kind. The set is closed: clients
// reconstruct UI state from these, so adding a kind is a contract
// change.
type Kind string

const (
	KindSessionStart Kind = "session.start"
	KindSessionEnd   Kind = "session.end"
	KindSessionFork  Kind = "session.fork"

	KindMessageUser      Kind = "message.user"
	KindMessageAssistant Kind = "message.assistant"
	KindMessageDeleted   Kind = "message.deleted"

	KindToolCall   Kind = "tool.call"
	KindToolResult Kind = "tool.result"

	KindStreamTurnStart Kind = "stream.turn_start"
	KindStreamTurnEnd   Kind = "stream.turn_end"

	KindConfigModelSwitch Kind = "config.model_switch"
	KindCompactBoundary   Kind = "compact.boundary"
	KindContextCleared    Kind = "context.cleared"

	KindHookTriggered Kind = "hook.triggered"
	KindHookCompleted Kind = "hook.completed"

	KindPlanModeEntered Kind = "plan.mode_entered"
	KindPlanModeExited  Kind = "plan.mode_exited"

	KindSubagentSpawned      Kind = "subagent.spawned"
	KindSubagentStatusUpdate Kind = "subagent.status_update"
	KindSubagentCompleted    Kind = "subagent.completed"
	KindSubagentFailed       Kind = "subagent.failed"

	KindErrorAgent Kind = "error.agent"
)

// requiredPayloadKeys maps each kind to the payload keys that must be
// present at append time. Optional keys are not listed.
var requiredPayloadKeys = map[Kind][]string{
	KindSessionStart:         {"workingDirectory", "model"},
	KindSessionEnd:           {"reason"},
	KindSessionFork:          {"sourceSessionId", "sourceEventId"},
	KindMessageUser:          {"content", "turn"},
	KindMessageAssistant:     {"content", "turn"},
	KindMessageDeleted:       {"targetEventId", "reason"},
	KindToolCall:             {"toolCallId", "name", "arguments", "turn"},
	KindToolResult:           {"toolCallId", "content", "isError"},
	KindStreamTurnStart:      {"turn"},
	KindStreamTurnEnd:        {"turn"},
	KindConfigModelSwitch:    {"previousModel", "newModel"},
	KindCompactBoundary:      {"reason", "summary"},
	KindContextCleared:       {"reason"},
	KindHookTriggered:        {"hookNames", "hookEvent"},
	KindHookCompleted:        {"hookNames", "hookEvent", "result"},
	KindPlanModeEntered:      {"skillName", "blockedTools"},
	KindPlanModeExited:       {"reason"},
	KindSubagentSpawned:      {"subagentSessionId", "spawnType", "task"},
	KindSubagentStatusUpdate: {"subagentSessionId", "status"},
	KindSubagentCompleted:    {"subagentSessionId", "resultSummary"},
	KindSubagentFailed:       {"subagentSessionId", "error"},
	KindErrorAgent:           {"error", "recoverable"},
}

// Valid reports whether k is a known persisted kind.
func (k Kind) Valid() bool {
	_, ok := requiredPayloadKeys[k]
	return ok
}

// Indexable reports whether events of this kind contribute to the
// full-text index. Only kinds that carry user-visible text qualify.
func (k Kind) Indexable() bool {
	if strings.HasPrefix(string(k), "message.") {
		return true
	}
	return k == KindToolResult || k == KindErrorAgent
}

// ValidatePayload checks that payload carries every required key for
// kind. Values are not type-checked beyond presence: payload shapes are
// owned by the emitters, presence is the append-time contract.
func ValidatePayload(kind Kind, payload map[string]interface{}) error {
	required, ok := requiredPayloadKeys[kind]
	if !ok {
		return warperr.Newf(warperr.CodeInvalidKind, warperr.CategoryValidation,
			"unknown event kind %q", kind)
	}
	for _, key := range required {
		if _, present := payload[key]; !present {
			return warperr.Newf(warperr.CodeInvalidPayload, warperr.CategoryValidation,
				"event kind %s requires payload key %q", kind, key)
		}
	}
	return nil
}
