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

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/eventstore"
	"github.com/teradata-labs/warp/pkg/subagent"
	"github.com/teradata-labs/warp/pkg/tokens"
)

// SpawnRequest describes an in-process child session.
type SpawnRequest struct {
	Task             string
	Model            string
	WorkingDirectory string
	MaxTurns         int
}

// subagentSummaryLimit caps the resultSummary stored in the parent's
// subagent.completed event; the full output rides in fullOutput.
const subagentSummaryLimit = 500

// SpawnSubsession creates an in-process child session sharing the event
// store, records subagent.spawned in the parent and runs the child turn
// loop asynchronously. The parent's tracker resolves waiters when the
// child finishes.
func (o *Orchestrator) SpawnSubsession(ctx context.Context, parentSessionID string, req SpawnRequest) (string, error) {
	parent, err := o.Activate(ctx, parentSessionID)
	if err != nil {
		return "", err
	}
	model := req.Model
	if model == "" {
		model = parent.Model()
	}
	workingDir := req.WorkingDirectory
	if workingDir == "" {
		workingDir = parent.WorkingDirectory()
	}

	child, err := o.store.CreateSession(ctx, workingDir, model)
	if err != nil {
		return "", err
	}
	if err := o.store.UpdateSessionSpawnInfo(ctx, child.ID, parentSessionID,
		eventstore.SpawnTypeSubsession, req.Task); err != nil {
		return "", err
	}

	if _, err := o.store.Append(ctx, eventstore.AppendRequest{
		SessionID: parentSessionID,
		Kind:      eventstore.KindSubagentSpawned,
		Payload: map[string]interface{}{
			"subagentSessionId": child.ID,
			"spawnType":         string(eventstore.SpawnTypeSubsession),
			"task":              req.Task,
			"model":             model,
			"workingDirectory":  workingDir,
			"maxTurns":          req.MaxTurns,
		},
	}); err != nil {
		return "", err
	}

	parent.Tracker.Spawn(child.ID, eventstore.SpawnTypeSubsession, req.Task)
	o.publish(parentSessionID, StreamSubagentSpawned, map[string]interface{}{
		"subagentSessionId": child.ID,
		"spawnType":         string(eventstore.SpawnTypeSubsession),
		"task":              req.Task,
	})

	o.subsessions.Add(1)
	go o.runSubsession(parent, child.ID, req)

	return child.ID, nil
}

// runSubsession drives the child's turn loop and reports the terminal
// outcome into the parent's log and tracker. Child failures never crash
// the parent.
func (o *Orchestrator) runSubsession(parent *ActiveSession, childID string, req SpawnRequest) {
	defer o.subsessions.Done()

	// Detached from the spawning call; cancellation reaches the child
	// through its own active session.
	ctx := context.Background()
	start := time.Now()

	parent.Tracker.UpdateStatus(childID, subagent.StatusRunning, 0, tokens.Usage{})
	if _, err := o.store.Append(ctx, eventstore.AppendRequest{
		SessionID: parent.ID,
		Kind:      eventstore.KindSubagentStatusUpdate,
		Payload: map[string]interface{}{
			"subagentSessionId": childID,
			"status":            string(subagent.StatusRunning),
		},
	}); err != nil {
		o.logger.Warn("failed to record subagent status",
			zap.String("subagent_session_id", childID), zap.Error(err))
	}

	result, err := o.Prompt(ctx, childID, PromptRequest{Prompt: req.Task})
	duration := time.Since(start)

	if err != nil {
		o.finishSubsessionFailed(ctx, parent, childID, err, result, duration)
		return
	}

	if _, endErr := o.store.Append(ctx, eventstore.AppendRequest{
		SessionID: childID,
		Kind:      eventstore.KindSessionEnd,
		Payload:   map[string]interface{}{"reason": "completed"},
	}); endErr != nil {
		o.logger.Warn("failed to end child session",
			zap.String("subagent_session_id", childID), zap.Error(endErr))
	}

	summary := result.FinalText
	if len(summary) > subagentSummaryLimit {
		summary = summary[:subagentSummaryLimit]
	}
	if _, err := o.store.Append(ctx, eventstore.AppendRequest{
		SessionID: parent.ID,
		Kind:      eventstore.KindSubagentCompleted,
		Payload: map[string]interface{}{
			"subagentSessionId": childID,
			"resultSummary":     summary,
			"fullOutput":        result.FinalText,
			"totalTurns":        result.Turns,
			"totalTokenUsage":   usagePayload(result.Usage),
			"duration":          duration.Milliseconds(),
		},
	}); err != nil {
		o.logger.Error("failed to record subagent completion",
			zap.String("subagent_session_id", childID), zap.Error(err))
	}

	parent.Tracker.Complete(childID, summary, result.Turns, result.Usage, duration, result.FinalText)
	o.publish(parent.ID, StreamSubagentCompleted, map[string]interface{}{
		"subagentSessionId": childID,
		"resultSummary":     summary,
		"totalTurns":        result.Turns,
		"durationMs":        duration.Milliseconds(),
	})
}

func (o *Orchestrator) finishSubsessionFailed(ctx context.Context, parent *ActiveSession, childID string, cause error, result *RunResult, duration time.Duration) {
	turns := 0
	if result != nil {
		turns = result.Turns
	}
	if _, err := o.store.Append(ctx, eventstore.AppendRequest{
		SessionID: parent.ID,
		Kind:      eventstore.KindSubagentFailed,
		Payload: map[string]interface{}{
			"subagentSessionId": childID,
			"error":             errString(cause),
			"recoverable":       false,
			"duration":          duration.Milliseconds(),
		},
	}); err != nil {
		o.logger.Error("failed to record subagent failure",
			zap.String("subagent_session_id", childID), zap.Error(err))
	}
	parent.Tracker.Fail(childID, errString(cause), turns, duration)
	o.publish(parent.ID, StreamSubagentFailed, map[string]interface{}{
		"subagentSessionId": childID,
		"error":             errString(cause),
		"durationMs":        duration.Milliseconds(),
	})
}

// SpawnTmux launches a detached out-of-process child via tmux. The
// child writes into the shared event store through its own process; the
// parent records the spawn and tracks the child session id.
func (o *Orchestrator) SpawnTmux(ctx context.Context, parentSessionID string, req subagent.TmuxSpawnRequest) (childID, tmuxName string, err error) {
	parent, err := o.Activate(ctx, parentSessionID)
	if err != nil {
		return "", "", err
	}
	req.ParentSessionID = parentSessionID
	if req.WorkingDirectory == "" {
		req.WorkingDirectory = parent.WorkingDirectory()
	}
	if req.Model == "" {
		req.Model = parent.Model()
	}

	childID, tmuxName, err = o.spawner.Spawn(ctx, req)
	if err != nil {
		return "", "", err
	}

	if _, err := o.store.Append(ctx, eventstore.AppendRequest{
		SessionID: parentSessionID,
		Kind:      eventstore.KindSubagentSpawned,
		Payload: map[string]interface{}{
			"subagentSessionId": childID,
			"spawnType":         string(eventstore.SpawnTypeTmux),
			"task":              req.Task,
			"model":             req.Model,
			"workingDirectory":  req.WorkingDirectory,
			"tmuxSessionName":   tmuxName,
			"maxTurns":          req.MaxTurns,
		},
	}); err != nil {
		return "", "", err
	}

	parent.Tracker.Spawn(childID, eventstore.SpawnTypeTmux, req.Task)
	o.publish(parentSessionID, StreamSubagentSpawned, map[string]interface{}{
		"subagentSessionId": childID,
		"spawnType":         string(eventstore.SpawnTypeTmux),
		"task":              req.Task,
		"tmuxSessionName":   tmuxName,
	})
	return childID, tmuxName, nil
}
