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
package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func continueHandler(Result) Handler {
	return func(context.Context, Context) (Result, error) {
		return Result{Action: ActionContinue}, nil
	}
}

func TestRegister_ForcedBlockingKinds(t *testing.T) {
	e := NewEngine(nil, zap.NewNop())
	err := e.Register(Definition{
		Name: "pre", Kind: PreToolUse, Mode: ModeBackground,
		Handler: continueHandler(Result{}),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	defs := e.GetHooks(PreToolUse)
	if len(defs) != 1 || defs[0].Mode != ModeBlocking {
		t.Errorf("PreToolUse hook must be forced blocking, got %+v", defs[0])
	}
}

func TestGetHooks_PriorityDescendingStableTies(t *testing.T) {
	e := NewEngine(nil, zap.NewNop())
	for _, def := range []Definition{
		{Name: "a", Kind: Stop, Priority: 0, Handler: continueHandler(Result{})},
		{Name: "b", Kind: Stop, Priority: 10, Handler: continueHandler(Result{})},
		{Name: "c", Kind: Stop, Priority: 0, Handler: continueHandler(Result{})},
	} {
		if err := e.Register(def); err != nil {
			t.Fatal(err)
		}
	}
	defs := e.GetHooks(Stop)
	got := []string{defs[0].Name, defs[1].Name, defs[2].Name}
	want := []string{"b", "a", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestExecute_BlockStopsChain(t *testing.T) {
	e := NewEngine(nil, zap.NewNop())
	var laterRan atomic.Bool

	_ = e.Register(Definition{
		Name: "deny", Kind: PreToolUse, Priority: 10,
		Handler: func(context.Context, Context) (Result, error) {
			return Result{Action: ActionBlock, Reason: "policy"}, nil
		},
	})
	_ = e.Register(Definition{
		Name: "later", Kind: PreToolUse, Priority: 0,
		Handler: func(context.Context, Context) (Result, error) {
			laterRan.Store(true)
			return Result{Action: ActionContinue}, nil
		},
	})

	outcome := e.Execute(context.Background(), PreToolUse, Context{SessionID: "s1", ToolName: "Bash"})
	if !outcome.Blocked() || outcome.Reason != "policy" {
		t.Fatalf("expected block with reason, got %+v", outcome)
	}
	if laterRan.Load() {
		t.Error("block must prevent later hooks from running")
	}
}

func TestExecute_ModifyAccumulates(t *testing.T) {
	e := NewEngine(nil, zap.NewNop())
	_ = e.Register(Definition{
		Name: "m1", Kind: UserPromptSubmit, Priority: 2,
		Handler: func(context.Context, Context) (Result, error) {
			return Result{Action: ActionModify, Modifications: map[string]interface{}{"a": 1}}, nil
		},
	})
	_ = e.Register(Definition{
		Name: "m2", Kind: UserPromptSubmit, Priority: 1,
		Handler: func(context.Context, Context) (Result, error) {
			return Result{Action: ActionModify, Modifications: map[string]interface{}{"b": 2}}, nil
		},
	})

	outcome := e.Execute(context.Background(), UserPromptSubmit, Context{})
	if outcome.Action != ActionModify {
		t.Fatalf("action = %v", outcome.Action)
	}
	if outcome.Modifications["a"] != 1 || outcome.Modifications["b"] != 2 {
		t.Errorf("modifications not merged: %v", outcome.Modifications)
	}
}

func TestExecute_FailOpen(t *testing.T) {
	e := NewEngine(nil, zap.NewNop())
	_ = e.Register(Definition{
		Name: "boom", Kind: PreToolUse, Priority: 10,
		Handler: func(context.Context, Context) (Result, error) {
			return Result{}, errors.New("handler exploded")
		},
	})
	_ = e.Register(Definition{
		Name: "panics", Kind: PreToolUse, Priority: 5,
		Handler: func(context.Context, Context) (Result, error) {
			panic("boom")
		},
	})

	outcome := e.Execute(context.Background(), PreToolUse, Context{})
	if outcome.Blocked() {
		t.Error("failing hooks must not block")
	}
	if outcome.Action != ActionContinue {
		t.Errorf("action = %v, want continue", outcome.Action)
	}
}

func TestExecute_TimeoutFailsOpen(t *testing.T) {
	e := NewEngine(nil, zap.NewNop())
	_ = e.Register(Definition{
		Name: "slow", Kind: PreToolUse, Timeout: 20 * time.Millisecond,
		Handler: func(ctx context.Context, _ Context) (Result, error) {
			select {
			case <-time.After(time.Second):
				return Result{Action: ActionBlock}, nil
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		},
	})

	start := time.Now()
	outcome := e.Execute(context.Background(), PreToolUse, Context{})
	if outcome.Blocked() {
		t.Error("timed-out hook must not block")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("timeout not enforced")
	}
}

func TestExecute_FilterSkips(t *testing.T) {
	e := NewEngine(nil, zap.NewNop())
	var ran atomic.Bool
	_ = e.Register(Definition{
		Name: "bash-only", Kind: PreToolUse,
		Filter: func(hctx Context) bool { return hctx.ToolName == "Bash" },
		Handler: func(context.Context, Context) (Result, error) {
			ran.Store(true)
			return Result{Action: ActionBlock}, nil
		},
	})

	outcome := e.Execute(context.Background(), PreToolUse, Context{ToolName: "Read"})
	if ran.Load() || outcome.Blocked() {
		t.Error("filtered hook must be skipped")
	}

	outcome = e.Execute(context.Background(), PreToolUse, Context{ToolName: "Bash"})
	if !outcome.Blocked() {
		t.Error("matching hook must run")
	}
}

func TestExecute_EmitsLifecycleEvents(t *testing.T) {
	var mu sync.Mutex
	var events []string
	emitter := func(event string, _ map[string]interface{}) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	}

	e := NewEngine(emitter, zap.NewNop())
	_ = e.Register(Definition{Name: "h", Kind: PreToolUse, Handler: continueHandler(Result{})})
	e.Execute(context.Background(), PreToolUse, Context{})

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != "hook_triggered" || events[1] != "hook_completed" {
		t.Errorf("events = %v", events)
	}
}

func TestBackgroundHooks_NeverAffectOutcomeAndDrain(t *testing.T) {
	e := NewEngine(nil, zap.NewNop())
	released := make(chan struct{})
	var ran atomic.Bool

	_ = e.Register(Definition{
		Name: "bg", Kind: PostToolUse, Mode: ModeBackground,
		Handler: func(context.Context, Context) (Result, error) {
			<-released
			ran.Store(true)
			return Result{Action: ActionBlock}, nil
		},
	})

	outcome := e.Execute(context.Background(), PostToolUse, Context{})
	if outcome.Blocked() {
		t.Error("background hooks must not affect the outcome")
	}

	if e.DrainBackground(10 * time.Millisecond) {
		t.Error("drain should time out while hook is held")
	}
	close(released)
	if !e.DrainBackground(time.Second) {
		t.Error("drain should succeed after release")
	}
	if !ran.Load() {
		t.Error("background hook should have run")
	}
}

func TestReRegistrationReplaces(t *testing.T) {
	e := NewEngine(nil, zap.NewNop())
	_ = e.Register(Definition{Name: "h", Kind: Stop, Priority: 1, Handler: continueHandler(Result{})})
	_ = e.Register(Definition{Name: "h", Kind: Stop, Priority: 9, Handler: continueHandler(Result{})})

	defs := e.GetHooks(Stop)
	if len(defs) != 1 || defs[0].Priority != 9 {
		t.Errorf("re-registration must replace: %+v", defs)
	}
}
