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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/contentblock"
	"github.com/teradata-labs/warp/pkg/eventstore"
	"github.com/teradata-labs/warp/pkg/hooks"
	"github.com/teradata-labs/warp/pkg/provider"
	"github.com/teradata-labs/warp/pkg/shuttle"
	"github.com/teradata-labs/warp/pkg/subagent"
	"github.com/teradata-labs/warp/pkg/tokens"
	"github.com/teradata-labs/warp/pkg/warperr"
)

type fakeTool struct {
	name string
	fn   func(ctx context.Context, args map[string]interface{}) (*shuttle.Result, error)
}

func (t *fakeTool) Name() string                    { return t.name }
func (t *fakeTool) Description() string             { return "test tool" }
func (t *fakeTool) InputSchema() *shuttle.JSONSchema { return nil }
func (t *fakeTool) Execute(ctx context.Context, args map[string]interface{}) (*shuttle.Result, error) {
	return t.fn(ctx, args)
}

func newTestOrchestrator(t *testing.T, scripts ...provider.MockScript) (*Orchestrator, *eventstore.Store, *provider.Mock) {
	t.Helper()
	store, err := eventstore.Open(filepath.Join(t.TempDir(), "warp.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mock := provider.NewMock(scripts...)
	o := New(store, mock, shuttle.NewRegistry(), Config{}, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.Shutdown(ctx)
	})
	return o, store, mock
}

func eventKinds(events []*eventstore.Event) []eventstore.Kind {
	kinds := make([]eventstore.Kind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func firstOfKind(events []*eventstore.Event, kind eventstore.Kind) *eventstore.Event {
	for _, ev := range events {
		if ev.Kind == kind {
			return ev
		}
	}
	return nil
}

func collectStream(ch <-chan StreamEvent) []StreamEvent {
	var out []StreamEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestColdPromptTextOnly(t *testing.T) {
	o, store, _ := newTestOrchestrator(t, provider.MockScript{Events: []provider.Event{
		{Type: provider.EventTextDelta, Text: "Hi!"},
		{Type: provider.EventResponseComplete,
			Usage:      tokens.Usage{InputTokens: 10, OutputTokens: 3},
			StopReason: "end_turn"},
	}})
	ctx := context.Background()

	sess, err := o.CreateSession(ctx, "/workspace", "claude-sonnet-4")
	require.NoError(t, err)

	result, err := o.Prompt(ctx, sess.ID, PromptRequest{Prompt: "say hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Turns)
	assert.Equal(t, "Hi!", result.FinalText)
	assert.Equal(t, int64(10), result.Usage.InputTokens)

	events, err := store.GetEvents(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []eventstore.Kind{
		eventstore.KindSessionStart,
		eventstore.KindMessageUser,
		eventstore.KindStreamTurnStart,
		eventstore.KindMessageAssistant,
		eventstore.KindStreamTurnEnd,
	}, eventKinds(events))

	assistant := events[3]
	content := assistant.Payload["content"].([]interface{})
	require.Len(t, content, 1)
	block := content[0].(map[string]interface{})
	assert.Equal(t, "text", block["type"])
	assert.Equal(t, "Hi!", block["text"])
	assert.Equal(t, "end_turn", assistant.Payload["stopReason"])

	// Head points at the stream.turn_end leaf.
	after, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, events[4].ID, after.HeadEventID)

	// First-turn token record: no prior baseline, so the full context
	// window counts as new input.
	turnEnd := events[4]
	record := turnEnd.Payload["tokenRecord"].(map[string]interface{})
	computed := record["computed"].(map[string]interface{})
	assert.Equal(t, float64(10), computed["newInputTokens"])
	assert.Equal(t, int64(10), o.ContextManager().Snapshot(sess.ID))
}

func TestToolLoopSingleFlush(t *testing.T) {
	o, store, _ := newTestOrchestrator(t,
		provider.MockScript{Events: []provider.Event{
			{Type: provider.EventTextDelta, Text: "reading"},
			{Type: provider.EventToolUseBatch, ToolCalls: []provider.ToolCall{
				{ID: "t1", Name: "Read", Arguments: map[string]interface{}{"file_path": "/a"}},
			}},
			{Type: provider.EventResponseComplete,
				Usage:      tokens.Usage{InputTokens: 20, OutputTokens: 5},
				StopReason: "tool_use"},
		}},
		provider.MockScript{Events: []provider.Event{
			{Type: provider.EventTextDelta, Text: "done"},
			{Type: provider.EventResponseComplete,
				Usage:      tokens.Usage{InputTokens: 30, OutputTokens: 4},
				StopReason: "end_turn"},
		}},
	)
	o.Tools().Register(&fakeTool{name: "Read", fn: func(context.Context, map[string]interface{}) (*shuttle.Result, error) {
		return &shuttle.Result{Content: "A"}, nil
	}})
	ctx := context.Background()

	sess, err := o.CreateSession(ctx, "/workspace", "claude-sonnet-4")
	require.NoError(t, err)

	result, err := o.Prompt(ctx, sess.ID, PromptRequest{Prompt: "read /a"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Turns)
	assert.Equal(t, "done", result.FinalText)

	events, err := store.GetEvents(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []eventstore.Kind{
		eventstore.KindSessionStart,
		eventstore.KindMessageUser,
		eventstore.KindStreamTurnStart,
		eventstore.KindMessageAssistant,
		eventstore.KindToolCall,
		eventstore.KindToolResult,
		eventstore.KindStreamTurnEnd,
		eventstore.KindStreamTurnStart,
		eventstore.KindMessageAssistant,
		eventstore.KindStreamTurnEnd,
	}, eventKinds(events))

	// The pre-tool flush emits one assistant message with the text and
	// the tool_use block; turn 1's end does not re-emit it.
	flushed := events[3]
	content := flushed.Payload["content"].([]interface{})
	require.Len(t, content, 2)
	assert.Equal(t, "reading", content[0].(map[string]interface{})["text"])
	toolUse := content[1].(map[string]interface{})
	assert.Equal(t, "tool_use", toolUse["type"])
	assert.Equal(t, "t1", toolUse["id"])
	assert.Equal(t, "Read", toolUse["name"])

	toolResult := events[5]
	assert.Equal(t, "t1", toolResult.Payload["toolCallId"])
	assert.Equal(t, "A", toolResult.Payload["content"])
	assert.Equal(t, false, toolResult.Payload["isError"])

	// Session aggregates roll up both turns.
	after, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.TurnCount)
	assert.Equal(t, int64(50), after.TotalInputTokens)
}

func TestPreToolUseBlock(t *testing.T) {
	o, store, _ := newTestOrchestrator(t, provider.MockScript{Events: []provider.Event{
		{Type: provider.EventTextDelta, Text: "let me delete that"},
		{Type: provider.EventToolUseBatch, ToolCalls: []provider.ToolCall{
			{ID: "t1", Name: "Bash", Arguments: map[string]interface{}{"command": "rm -rf /"}},
		}},
		{Type: provider.EventResponseComplete, Usage: tokens.Usage{InputTokens: 15, OutputTokens: 8}},
	}})

	toolRan := false
	o.Tools().Register(&fakeTool{name: "Bash", fn: func(context.Context, map[string]interface{}) (*shuttle.Result, error) {
		toolRan = true
		return &shuttle.Result{Content: "ok"}, nil
	}})
	require.NoError(t, o.Hooks().Register(hooks.Definition{
		Name:     "deny",
		Kind:     hooks.PreToolUse,
		Priority: 10,
		Handler: func(context.Context, hooks.Context) (hooks.Result, error) {
			return hooks.Result{Action: hooks.ActionBlock, Reason: "policy"}, nil
		},
	}))

	ctx := context.Background()
	sess, err := o.CreateSession(ctx, "/workspace", "claude-sonnet-4")
	require.NoError(t, err)

	streamCtx, streamCancel := context.WithCancel(ctx)
	defer streamCancel()
	sub := o.Subscribe(streamCtx)

	_, err = o.Prompt(ctx, sess.ID, PromptRequest{Prompt: "clean up"})
	require.Error(t, err)
	assert.Equal(t, warperr.CodeHookBlocked, warperr.CodeOf(err))
	assert.False(t, toolRan, "blocked tool must not execute")

	events, err := store.GetEvents(ctx, sess.ID)
	require.NoError(t, err)
	kinds := eventKinds(events)
	assert.NotContains(t, kinds, eventstore.KindToolCall)

	triggered := firstOfKind(events, eventstore.KindHookTriggered)
	require.NotNil(t, triggered)
	assert.Equal(t, "Bash", triggered.Payload["toolName"])

	completed := firstOfKind(events, eventstore.KindHookCompleted)
	require.NotNil(t, completed)
	assert.Equal(t, "block", completed.Payload["result"])
	assert.Equal(t, "policy", completed.Payload["reason"])

	// The flushed assistant message stands; the turn closes with an
	// error indication on the stream.
	assert.NotNil(t, firstOfKind(events, eventstore.KindMessageAssistant))
	turnEnd := firstOfKind(events, eventstore.KindStreamTurnEnd)
	require.NotNil(t, turnEnd)
	assert.Equal(t, true, turnEnd.Payload["blocked"])

	var sawErrorEnd bool
	for _, ev := range collectStream(sub) {
		if ev.Type == StreamTurnEnd {
			if e, _ := ev.Payload["error"].(bool); e {
				sawErrorEnd = true
			}
		}
	}
	assert.True(t, sawErrorEnd, "client must receive agent.turn_end with an error indication")
}

func TestSubagentSpawnWaitComplete(t *testing.T) {
	o, store, _ := newTestOrchestrator(t, provider.MockScript{Events: []provider.Event{
		{Type: provider.EventTextDelta, Text: "analysis complete"},
		{Type: provider.EventResponseComplete,
			Usage:      tokens.Usage{InputTokens: 40, OutputTokens: 12},
			StopReason: "end_turn"},
	}})
	ctx := context.Background()

	parent, err := o.CreateSession(ctx, "/workspace", "claude-sonnet-4")
	require.NoError(t, err)

	childID, err := o.SpawnSubsession(ctx, parent.ID, SpawnRequest{Task: "analyze"})
	require.NoError(t, err)

	active := o.Get(parent.ID)
	require.NotNil(t, active)
	result, err := active.Tracker.WaitFor(ctx, childID, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "analysis complete", result.Summary)
	assert.Equal(t, 1, result.Turns)

	parentEvents, err := store.GetEvents(ctx, parent.ID)
	require.NoError(t, err)
	spawned := firstOfKind(parentEvents, eventstore.KindSubagentSpawned)
	require.NotNil(t, spawned)
	assert.Equal(t, childID, spawned.Payload["subagentSessionId"])
	assert.Equal(t, "subsession", spawned.Payload["spawnType"])
	assert.Equal(t, "analyze", spawned.Payload["task"])

	completedEv := firstOfKind(parentEvents, eventstore.KindSubagentCompleted)
	require.NotNil(t, completedEv)
	assert.Equal(t, "analysis complete", completedEv.Payload["resultSummary"])
	assert.Equal(t, float64(1), completedEv.Payload["totalTurns"])

	childEvents, err := store.GetEvents(ctx, childID)
	require.NoError(t, err)
	kinds := eventKinds(childEvents)
	assert.Equal(t, eventstore.KindSessionStart, kinds[0])
	assert.Equal(t, eventstore.KindSessionEnd, kinds[len(kinds)-1])

	child, err := store.GetSession(ctx, childID)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, child.ParentSessionID)
	assert.Equal(t, eventstore.SpawnTypeSubsession, child.SpawnType)

	// A tracker rebuilt from the persisted parent log must carry the
	// same terminal result the runtime tracker delivered.
	rebuilt := subagent.FromEvents(parentEvents, zap.NewNop())
	replayed, err := rebuilt.WaitFor(ctx, childID, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, result.Turns, replayed.Turns)
	assert.Equal(t, result.TokenUsage, replayed.TokenUsage)
	assert.Equal(t, result.Summary, replayed.Summary)
}

func TestForkAndReplay(t *testing.T) {
	o, store, _ := newTestOrchestrator(t)
	ctx := context.Background()

	src, err := o.CreateSession(ctx, "/workspace", "claude-sonnet-4")
	require.NoError(t, err)

	mustAppend := func(kind eventstore.Kind, payload map[string]interface{}) *eventstore.Event {
		ev, err := store.Append(ctx, eventstore.AppendRequest{
			SessionID: src.ID, Kind: kind, Payload: payload,
		})
		require.NoError(t, err)
		return ev
	}
	mustAppend(eventstore.KindSessionStart, map[string]interface{}{
		"workingDirectory": "/workspace", "model": "claude-sonnet-4",
	})
	mustAppend(eventstore.KindSubagentSpawned, map[string]interface{}{
		"subagentSessionId": "a", "spawnType": "subsession", "task": "t",
	})
	forkPoint := mustAppend(eventstore.KindSubagentCompleted, map[string]interface{}{
		"subagentSessionId": "a", "resultSummary": "done",
	})
	mustAppend(eventstore.KindSubagentSpawned, map[string]interface{}{
		"subagentSessionId": "b", "spawnType": "subsession", "task": "later",
	})

	fork, err := o.Fork(ctx, src.ID, forkPoint.ID, "from-a")
	require.NoError(t, err)

	forkEvents, err := store.GetEvents(ctx, fork.ID)
	require.NoError(t, err)
	require.Len(t, forkEvents, 1)
	root := forkEvents[0]
	assert.Equal(t, eventstore.KindSessionFork, root.Kind)
	assert.Equal(t, src.ID, root.Payload["sourceSessionId"])
	assert.Equal(t, forkPoint.ID, root.Payload["sourceEventId"])

	// Tracker state equals the source's state immediately after the
	// fork point: child a terminal, child b unknown.
	active := o.Get(fork.ID)
	require.NotNil(t, active)
	result, err := active.Tracker.WaitFor(ctx, "a", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "done", result.Summary)
	assert.Nil(t, active.Tracker.Get("b"))
}

func TestInterruptionMidTool(t *testing.T) {
	o, store, _ := newTestOrchestrator(t, provider.MockScript{Events: []provider.Event{
		{Type: provider.EventTextDelta, Text: "running"},
		{Type: provider.EventToolUseBatch, ToolCalls: []provider.ToolCall{
			{ID: "t1", Name: "Bash", Arguments: map[string]interface{}{"command": "sleep 100"}},
		}},
	}})

	started := make(chan struct{})
	o.Tools().Register(&fakeTool{name: "Bash", fn: func(ctx context.Context, _ map[string]interface{}) (*shuttle.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}})
	ctx := context.Background()

	sess, err := o.CreateSession(ctx, "/workspace", "claude-sonnet-4")
	require.NoError(t, err)

	streamCtx, streamCancel := context.WithCancel(ctx)
	defer streamCancel()
	sub := o.Subscribe(streamCtx)

	go func() {
		<-started
		o.Cancel(sess.ID)
	}()

	result, err := o.Prompt(ctx, sess.ID, PromptRequest{Prompt: "sleep"})
	require.Error(t, err)
	assert.Equal(t, warperr.CodeInterrupted, warperr.CodeOf(err))
	require.NotNil(t, result)
	assert.True(t, result.Interrupted)
	assert.True(t, o.Get(sess.ID).WasInterrupted())

	events, err := store.GetEvents(ctx, sess.ID)
	require.NoError(t, err)

	// The flushed assistant message carries the tool_use; the
	// synthesized result records the interruption.
	assistant := firstOfKind(events, eventstore.KindMessageAssistant)
	require.NotNil(t, assistant)
	content := assistant.Payload["content"].([]interface{})
	require.Len(t, content, 2)
	assert.Equal(t, "tool_use", content[1].(map[string]interface{})["type"])

	toolResult := firstOfKind(events, eventstore.KindToolResult)
	require.NotNil(t, toolResult)
	assert.Equal(t, "t1", toolResult.Payload["toolCallId"])
	assert.Equal(t, contentblock.InterruptedOutput, toolResult.Payload["content"])
	meta := toolResult.Payload["_meta"].(map[string]interface{})
	assert.Equal(t, true, meta["interrupted"])
	assert.Equal(t, "Bash", meta["toolName"])

	var sawInterrupted bool
	for _, ev := range collectStream(sub) {
		if ev.Type == StreamTurnInterrupted {
			sawInterrupted = true
		}
	}
	assert.True(t, sawInterrupted, "turn_interrupted stream event expected")
}

func TestPromptRejectsWhileProcessing(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, provider.MockScript{Events: []provider.Event{
		{Type: provider.EventToolUseBatch, ToolCalls: []provider.ToolCall{
			{ID: "t1", Name: "Wait", Arguments: map[string]interface{}{}},
		}},
	}})

	release := make(chan struct{})
	started := make(chan struct{})
	o.Tools().Register(&fakeTool{name: "Wait", fn: func(ctx context.Context, _ map[string]interface{}) (*shuttle.Result, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return &shuttle.Result{Content: "ok"}, nil
	}})
	ctx := context.Background()

	sess, err := o.CreateSession(ctx, "/workspace", "claude-sonnet-4")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Prompt(ctx, sess.ID, PromptRequest{Prompt: "first"})
		errCh <- err
	}()
	<-started

	_, err = o.Prompt(ctx, sess.ID, PromptRequest{Prompt: "second"})
	assert.Equal(t, warperr.CodeAlreadyProcessing, warperr.CodeOf(err))

	close(release)
	// First run finishes; the mock has no second script, so the next
	// provider call returns an immediately-empty stream and the turn
	// produces nothing further.
	<-errCh
}

func TestSwitchModelAndCompaction(t *testing.T) {
	o, store, _ := newTestOrchestrator(t)
	ctx := context.Background()

	sess, err := o.CreateSession(ctx, "/workspace", "claude-sonnet-4")
	require.NoError(t, err)
	_, err = store.Append(ctx, eventstore.AppendRequest{
		SessionID: sess.ID,
		Kind:      eventstore.KindSessionStart,
		Payload: map[string]interface{}{
			"workingDirectory": "/workspace", "model": "claude-sonnet-4",
		},
	})
	require.NoError(t, err)

	require.NoError(t, o.SwitchModel(ctx, sess.ID, "claude-opus-4"))
	after, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4", after.Model)

	events, err := store.GetEvents(ctx, sess.ID)
	require.NoError(t, err)
	switched := firstOfKind(events, eventstore.KindConfigModelSwitch)
	require.NotNil(t, switched)
	assert.Equal(t, "claude-sonnet-4", switched.Payload["previousModel"])
	assert.Equal(t, "claude-opus-4", switched.Payload["newModel"])

	// Compaction persists the boundary and resets tracking.
	active := o.Get(sess.ID)
	active.Tracker.Spawn("child", eventstore.SpawnTypeSubsession, "t")
	_, err = o.Compact(ctx, sess.ID, CompactRequest{
		Reason:          "context_size",
		Summary:         "we discussed things",
		OriginalTokens:  100000,
		CompactedTokens: 20000,
	})
	require.NoError(t, err)

	events, err = store.GetEvents(ctx, sess.ID)
	require.NoError(t, err)
	boundary := firstOfKind(events, eventstore.KindCompactBoundary)
	require.NotNil(t, boundary)
	assert.Equal(t, float64(0.2), boundary.Payload["compressionRatio"])
	assert.Nil(t, active.Tracker.Get("child"))
	assert.Equal(t, int64(20000), o.ContextManager().Snapshot(sess.ID))
}
