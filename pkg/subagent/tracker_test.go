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
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/eventstore"
	"github.com/teradata-labs/warp/pkg/tokens"
	"github.com/teradata-labs/warp/pkg/warperr"
)

func TestWaitFor_ResolvesOnComplete(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	tr.Spawn("child-1", eventstore.SpawnTypeSubsession, "do the thing")

	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.Complete("child-1", "done", 3, tokens.Usage{InputTokens: 100}, 2*time.Second, "")
	}()

	result, err := tr.WaitFor(context.Background(), "child-1", time.Second)
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	if !result.Success || result.Summary != "done" || result.Turns != 3 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestWaitFor_AlreadyTerminalResolvesImmediately(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	tr.Spawn("c", eventstore.SpawnTypeSubsession, "t")
	tr.Complete("c", "early", 1, tokens.Usage{}, time.Second, "")

	start := time.Now()
	result, err := tr.WaitFor(context.Background(), "c", time.Minute)
	if err != nil || result.Summary != "early" {
		t.Fatalf("result=%+v err=%v", result, err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("terminal child should resolve without blocking")
	}
}

func TestWaitFor_Timeout(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	tr.Spawn("c", eventstore.SpawnTypeSubsession, "t")

	_, err := tr.WaitFor(context.Background(), "c", 20*time.Millisecond)
	if warperr.CodeOf(err) != warperr.CodeWaitTimeout {
		t.Errorf("expected WAIT_TIMEOUT, got %v", err)
	}
}

func TestWaitFor_UnknownChild(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	_, err := tr.WaitFor(context.Background(), "ghost", time.Second)
	if warperr.CodeOf(err) != warperr.CodeSessionNotFound {
		t.Errorf("expected SESSION_NOT_FOUND, got %v", err)
	}
}

func TestFail_ResolvesWaitersWithFailedResult(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	tr.Spawn("c", eventstore.SpawnTypeSubsession, "t")

	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.Fail("c", "exploded", 2, time.Second)
	}()

	result, err := tr.WaitFor(context.Background(), "c", time.Second)
	if err != nil {
		t.Fatalf("failures must resolve, not reject: %v", err)
	}
	if result.Success || result.Error != "exploded" || result.Turns != 2 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestWaitForAny_FirstWins(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	tr.Spawn("slow", eventstore.SpawnTypeSubsession, "t")
	tr.Spawn("fast", eventstore.SpawnTypeSubsession, "t")

	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.Complete("fast", "winner", 1, tokens.Usage{}, time.Second, "")
	}()

	result, err := tr.WaitForAny(context.Background(), []string{"slow", "fast"}, time.Second)
	if err != nil {
		t.Fatalf("WaitForAny: %v", err)
	}
	if result.SubagentSessionID != "fast" {
		t.Errorf("expected fast to win, got %s", result.SubagentSessionID)
	}
}

func TestWaitForAll_CollectsEverything(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	tr.Spawn("a", eventstore.SpawnTypeSubsession, "t")
	tr.Spawn("b", eventstore.SpawnTypeSubsession, "t")

	go func() {
		tr.Complete("a", "one", 1, tokens.Usage{}, time.Second, "")
		tr.Fail("b", "two", 1, time.Second)
	}()

	results, err := tr.WaitForAll(context.Background(), []string{"a", "b"}, time.Second)
	if err != nil {
		t.Fatalf("WaitForAll: %v", err)
	}
	if len(results) != 2 || results[0].SubagentSessionID != "a" || results[1].SubagentSessionID != "b" {
		t.Errorf("unexpected results: %+v", results)
	}
	if !results[0].Success || results[1].Success {
		t.Error("success flags wrong")
	}
}

func TestCallbacks_FireOnceAndSurvivePanics(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	tr.Spawn("c", eventstore.SpawnTypeSubsession, "t")

	var sidCalls, anyCalls atomic.Int32
	tr.OnComplete("c", func(Result) {
		sidCalls.Add(1)
		panic("callback bug")
	})
	tr.OnAnyComplete(func(Result) { anyCalls.Add(1) })

	tr.Complete("c", "done", 1, tokens.Usage{}, time.Second, "")
	time.Sleep(10 * time.Millisecond)

	if sidCalls.Load() != 1 || anyCalls.Load() != 1 {
		t.Errorf("calls = (%d, %d), want (1, 1)", sidCalls.Load(), anyCalls.Load())
	}
}

func TestOnComplete_AlreadyTerminalFiresImmediately(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	tr.Spawn("c", eventstore.SpawnTypeSubsession, "t")
	tr.Complete("c", "done", 1, tokens.Usage{}, time.Second, "")

	var fired atomic.Bool
	tr.OnComplete("c", func(Result) { fired.Store(true) })
	if !fired.Load() {
		t.Error("callback on terminal child must fire immediately")
	}
}

func TestConsumePendingResults_Drains(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	tr.Spawn("a", eventstore.SpawnTypeSubsession, "t")
	tr.Complete("a", "one", 1, tokens.Usage{}, time.Second, "")

	first := tr.ConsumePendingResults()
	if len(first) != 1 || first[0].Summary != "one" {
		t.Fatalf("unexpected pending: %+v", first)
	}
	if second := tr.ConsumePendingResults(); len(second) != 0 {
		t.Errorf("queue must be drained, got %+v", second)
	}
}

func TestClear_RejectsWaitersPreservesPending(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	tr.Spawn("done", eventstore.SpawnTypeSubsession, "t")
	tr.Complete("done", "kept", 1, tokens.Usage{}, time.Second, "")
	tr.Spawn("waiting", eventstore.SpawnTypeSubsession, "t")

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.WaitFor(context.Background(), "waiting", time.Minute)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)

	tr.Clear()

	select {
	case err := <-errCh:
		if warperr.CodeOf(err) != warperr.CodeTrackingCleared {
			t.Errorf("expected TRACKING_CLEARED, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not rejected by clear")
	}

	pending := tr.ConsumePendingResults()
	if len(pending) != 1 || pending[0].Summary != "kept" {
		t.Errorf("pending results must survive clear, got %+v", pending)
	}
	if tr.Get("done") != nil {
		t.Error("records must be dropped by clear")
	}
}

func TestFromEvents_RebuildsIdenticalState(t *testing.T) {
	events := []*eventstore.Event{
		{Kind: eventstore.KindSubagentSpawned, Payload: map[string]interface{}{
			"subagentSessionId": "a", "spawnType": "subsession", "task": "analyze",
		}},
		{Kind: eventstore.KindSubagentStatusUpdate, Payload: map[string]interface{}{
			"subagentSessionId": "a", "status": "running", "currentTurn": float64(2),
		}},
		{Kind: eventstore.KindSubagentStatusUpdate, Payload: map[string]interface{}{
			"subagentSessionId": "a", "status": "waiting_input",
		}},
		{Kind: eventstore.KindSubagentSpawned, Payload: map[string]interface{}{
			"subagentSessionId": "b", "spawnType": "tmux", "task": "build",
		}},
		{Kind: eventstore.KindSubagentCompleted, Payload: map[string]interface{}{
			"subagentSessionId": "b", "resultSummary": "built", "totalTurns": float64(4),
			"totalTokenUsage": map[string]interface{}{"inputTokens": float64(500)},
			"duration":        float64(1500),
		}},
	}

	tr := FromEvents(events, zap.NewNop())

	// The second status update moves a to waiting_input; the zero
	// currentTurn leaves the recorded turn alone.
	a := tr.Get("a")
	if a == nil || a.Status != StatusWaitingInput || a.Turn != 2 || a.Task != "analyze" {
		t.Errorf("child a state wrong: %+v", a)
	}

	// b is terminal; a waiter resolves synchronously with the stored result.
	result, err := tr.WaitFor(context.Background(), "b", time.Millisecond)
	if err != nil || result.Summary != "built" {
		t.Fatalf("result=%+v err=%v", result, err)
	}
	if result.Turns != 4 {
		t.Errorf("Turns = %d, want 4", result.Turns)
	}
	if result.TokenUsage.InputTokens != 500 {
		t.Errorf("InputTokens = %d, want 500", result.TokenUsage.InputTokens)
	}
	if result.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %s, want 1.5s", result.Duration)
	}

	pending := tr.ConsumePendingResults()
	if len(pending) != 1 || pending[0].SubagentSessionID != "b" {
		t.Errorf("pending queue not rebuilt: %+v", pending)
	}
}

func TestFromEvents_CompactBoundaryResets(t *testing.T) {
	events := []*eventstore.Event{
		{Kind: eventstore.KindSubagentSpawned, Payload: map[string]interface{}{
			"subagentSessionId": "a", "spawnType": "subsession", "task": "t",
		}},
		{Kind: eventstore.KindSubagentCompleted, Payload: map[string]interface{}{
			"subagentSessionId": "a", "resultSummary": "done",
		}},
		{Kind: eventstore.KindCompactBoundary, Payload: map[string]interface{}{
			"reason": "size", "summary": "compacted",
		}},
		{Kind: eventstore.KindSubagentSpawned, Payload: map[string]interface{}{
			"subagentSessionId": "b", "spawnType": "subsession", "task": "t2",
		}},
	}

	tr := FromEvents(events, zap.NewNop())
	if tr.Get("a") != nil {
		t.Error("records before compact boundary must be dropped")
	}
	if tr.Get("b") == nil {
		t.Error("records after boundary must survive")
	}
	// Pending results from before the boundary still deliver.
	pending := tr.ConsumePendingResults()
	if len(pending) != 1 || pending[0].SubagentSessionID != "a" {
		t.Errorf("pending = %+v", pending)
	}
}
