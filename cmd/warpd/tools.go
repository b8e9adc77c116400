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
package main

import (
	"context"

	"github.com/teradata-labs/warp/pkg/orchestrator"
	"github.com/teradata-labs/warp/pkg/session"
	"github.com/teradata-labs/warp/pkg/shuttle"
)

// TaskTool lets the model delegate a task to an in-process sub-agent
// and blocks until the child session finishes. The spawning session is
// taken from the request context the turn pipeline threads through
// tool execution.
type TaskTool struct {
	orch *orchestrator.Orchestrator
}

func (t *TaskTool) Name() string { return "Task" }

func (t *TaskTool) Description() string {
	return "Delegate a self-contained task to a sub-agent session and return its result summary."
}

func (t *TaskTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("Sub-agent task delegation",
		map[string]*shuttle.JSONSchema{
			"task":      shuttle.NewStringSchema("The task for the sub-agent to perform"),
			"model":     shuttle.NewStringSchema("Model override for the sub-agent"),
			"max_turns": shuttle.NewNumberSchema("Turn budget for the sub-agent"),
		},
		[]string{"task"})
}

func (t *TaskTool) Execute(ctx context.Context, args map[string]interface{}) (*shuttle.Result, error) {
	parentID := session.SessionIDFromContext(ctx)
	if parentID == "" {
		return &shuttle.Result{Content: "no session in context", IsError: true}, nil
	}
	task, _ := args["task"].(string)
	if task == "" {
		return &shuttle.Result{Content: "task is required", IsError: true}, nil
	}

	req := orchestrator.SpawnRequest{Task: task}
	if model, ok := args["model"].(string); ok {
		req.Model = model
	}
	if maxTurns, ok := args["max_turns"].(float64); ok {
		req.MaxTurns = int(maxTurns)
	}

	childID, err := t.orch.SpawnSubsession(ctx, parentID, req)
	if err != nil {
		return &shuttle.Result{Content: err.Error(), IsError: true}, nil
	}

	parent := t.orch.Get(parentID)
	if parent == nil {
		return &shuttle.Result{Content: "parent session not active", IsError: true}, nil
	}
	result, err := parent.Tracker.WaitFor(ctx, childID, 0)
	if err != nil {
		return nil, err
	}

	details := map[string]interface{}{
		"subagentSessionId": childID,
		"totalTurns":        result.Turns,
		"success":           result.Success,
	}
	if !result.Success {
		return &shuttle.Result{Content: result.Error, IsError: true, Details: details}, nil
	}
	content := result.FullOutput
	if content == "" {
		content = result.Summary
	}
	return &shuttle.Result{Content: content, Details: details}, nil
}
