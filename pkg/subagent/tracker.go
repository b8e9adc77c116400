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
// Package subagent tracks spawned child sessions: waiters, completion
// callbacks and a pending-results queue consumed by the parent's next
// turn. Trackers are event-sourced; FromEvents rebuilds identical state
// on resume and fork.
package subagent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/warp/internal/log"
	"github.com/teradata-labs/warp/pkg/eventstore"
	"github.com/teradata-labs/warp/pkg/tokens"
	"github.com/teradata-labs/warp/pkg/warperr"
)

// Status tracks a child session's lifecycle.
type Status string

const (
	StatusSpawning     Status = "spawning"
	StatusRunning      Status = "running"
	StatusPaused       Status = "paused"
	StatusWaitingInput Status = "waiting_input"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Record is the tracked state of one child session.
type Record struct {
	SubagentSessionID string
	SpawnType         eventstore.SpawnType
	Task              string
	Status            Status
	Turn              int
	TokenUsage        tokens.Usage
	SpawnedAt         time.Time
}

// Result is a terminal outcome delivered to waiters, callbacks and the
// pending queue.
type Result struct {
	SubagentSessionID string
	Success           bool
	Summary           string
	Error             string
	Turns             int
	TokenUsage        tokens.Usage
	Duration          time.Duration

	// FullOutput optionally carries the child's complete final text.
	FullOutput string
}

// Callback observes a terminal result. Exceptions are logged, never
// propagated.
type Callback func(Result)

type waiter struct {
	ch chan waitReply
}

type waitReply struct {
	result Result
	err    error
}

// Tracker tracks the children of one parent session.
type Tracker struct {
	mu        sync.Mutex
	records   map[string]*Record
	results   map[string]Result
	pending   []Result
	waiters   map[string][]*waiter
	sidCbs    map[string][]Callback
	globalCbs []Callback
	logger    *zap.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = log.Logger()
	}
	return &Tracker{
		records: make(map[string]*Record),
		results: make(map[string]Result),
		waiters: make(map[string][]*waiter),
		sidCbs:  make(map[string][]Callback),
		logger:  logger,
	}
}

// Spawn inserts a tracked record with status spawning.
func (t *Tracker) Spawn(sid string, spawnType eventstore.SpawnType, task string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[sid] = &Record{
		SubagentSessionID: sid,
		SpawnType:         spawnType,
		Task:              task,
		Status:            StatusSpawning,
		SpawnedAt:         time.Now().UTC(),
	}
}

// UpdateStatus mutates a child's status, turn and token usage.
func (t *Tracker) UpdateStatus(sid string, status Status, turn int, usage tokens.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[sid]
	if !ok {
		return
	}
	rec.Status = status
	if turn > 0 {
		rec.Turn = turn
	}
	rec.TokenUsage = rec.TokenUsage.Add(usage)
}

// Complete marks a child completed and delivers the result everywhere:
// pending queue, per-sid and global callbacks, and all waiters.
func (t *Tracker) Complete(sid, summary string, turns int, usage tokens.Usage, duration time.Duration, fullOutput string) {
	t.finish(Result{
		SubagentSessionID: sid,
		Success:           true,
		Summary:           summary,
		Turns:             turns,
		TokenUsage:        usage,
		Duration:          duration,
		FullOutput:        fullOutput,
	}, StatusCompleted)
}

// Fail marks a child failed. Waiters resolve (not reject) with a
// success=false result.
func (t *Tracker) Fail(sid, errMsg string, failedAtTurn int, duration time.Duration) {
	t.finish(Result{
		SubagentSessionID: sid,
		Success:           false,
		Error:             errMsg,
		Turns:             failedAtTurn,
		Duration:          duration,
	}, StatusFailed)
}

func (t *Tracker) finish(result Result, status Status) {
	t.mu.Lock()
	sid := result.SubagentSessionID
	if rec, ok := t.records[sid]; ok {
		rec.Status = status
	} else {
		t.records[sid] = &Record{SubagentSessionID: sid, Status: status}
	}
	t.results[sid] = result
	t.pending = append(t.pending, result)

	waiters := t.waiters[sid]
	delete(t.waiters, sid)
	cbs := append([]Callback(nil), t.sidCbs[sid]...)
	delete(t.sidCbs, sid)
	cbs = append(cbs, t.globalCbs...)
	t.mu.Unlock()

	for _, w := range waiters {
		w.ch <- waitReply{result: result}
	}
	for _, cb := range cbs {
		t.invoke(cb, result)
	}
}

func (t *Tracker) invoke(cb Callback, result Result) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("subagent callback panicked",
				zap.String("subagent_session_id", result.SubagentSessionID),
				zap.Any("panic", r),
			)
		}
	}()
	cb(result)
}

// Get returns the tracked record for a child, or nil.
func (t *Tracker) Get(sid string) *Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.records[sid]; ok {
		copied := *rec
		return &copied
	}
	return nil
}

// Active returns the session ids of children not yet terminal.
func (t *Tracker) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for sid, rec := range t.records {
		if rec.Status == StatusSpawning || rec.Status == StatusRunning {
			out = append(out, sid)
		}
	}
	return out
}

// WaitFor blocks until the child reaches a terminal state. Resolves
// immediately from stored state if already terminal. A timeout <= 0
// waits indefinitely (until ctx is done). Fails with WAIT_TIMEOUT on
// timeout and TRACKING_CLEARED if the tracker is cleared while
// waiting.
func (t *Tracker) WaitFor(ctx context.Context, sid string, timeout time.Duration) (Result, error) {
	t.mu.Lock()
	if result, ok := t.results[sid]; ok {
		t.mu.Unlock()
		return result, nil
	}
	if _, tracked := t.records[sid]; !tracked {
		t.mu.Unlock()
		return Result{}, warperr.SessionNotFound(sid)
	}
	w := &waiter{ch: make(chan waitReply, 1)}
	t.waiters[sid] = append(t.waiters[sid], w)
	t.mu.Unlock()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case reply := <-w.ch:
		return reply.result, reply.err
	case <-timeoutC:
		t.removeWaiter(sid, w)
		return Result{}, warperr.Newf(warperr.CodeWaitTimeout, warperr.CategoryConcurrency,
			"timed out waiting for subagent %s after %s", sid, timeout)
	case <-ctx.Done():
		t.removeWaiter(sid, w)
		return Result{}, warperr.Wrap(ctx.Err(), warperr.CodeInterrupted, warperr.CategoryCancelled,
			"wait for subagent cancelled")
	}
}

// WaitForAny returns the first terminal result among sids.
func (t *Tracker) WaitForAny(ctx context.Context, sids []string, timeout time.Duration) (Result, error) {
	if len(sids) == 0 {
		return Result{}, warperr.New(warperr.CodeWaitTimeout, warperr.CategoryValidation, "no subagents to wait for")
	}

	anyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	replies := make(chan waitReply, len(sids))
	for _, sid := range sids {
		go func(sid string) {
			result, err := t.WaitFor(anyCtx, sid, timeout)
			replies <- waitReply{result: result, err: err}
		}(sid)
	}

	var lastErr error
	for range sids {
		reply := <-replies
		if reply.err == nil {
			return reply.result, nil
		}
		lastErr = reply.err
	}
	return Result{}, lastErr
}

// WaitForAll waits for every sid; the timeout applies per child.
func (t *Tracker) WaitForAll(ctx context.Context, sids []string, timeout time.Duration) ([]Result, error) {
	results := make([]Result, len(sids))
	g, gctx := errgroup.WithContext(ctx)
	for i, sid := range sids {
		g.Go(func() error {
			result, err := t.WaitFor(gctx, sid, timeout)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// OnComplete registers a callback for one child. Fires immediately if
// the child is already terminal.
func (t *Tracker) OnComplete(sid string, cb Callback) {
	t.mu.Lock()
	if result, ok := t.results[sid]; ok {
		t.mu.Unlock()
		t.invoke(cb, result)
		return
	}
	t.sidCbs[sid] = append(t.sidCbs[sid], cb)
	t.mu.Unlock()
}

// OnAnyComplete registers a callback fired for every terminal child.
func (t *Tracker) OnAnyComplete(cb Callback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.globalCbs = append(t.globalCbs, cb)
}

// ConsumePendingResults drains and returns the pending-results queue.
func (t *Tracker) ConsumePendingResults() []Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	pending := t.pending
	t.pending = nil
	return pending
}

// Clear empties tracking state and rejects outstanding waiters with
// TRACKING_CLEARED. Pending results are preserved; they must still be
// delivered to the parent.
func (t *Tracker) Clear() {
	t.mu.Lock()
	var rejected []*waiter
	for _, ws := range t.waiters {
		rejected = append(rejected, ws...)
	}
	t.records = make(map[string]*Record)
	t.results = make(map[string]Result)
	t.waiters = make(map[string][]*waiter)
	t.sidCbs = make(map[string][]Callback)
	t.globalCbs = nil
	t.mu.Unlock()

	for _, w := range rejected {
		w.ch <- waitReply{err: warperr.New(warperr.CodeTrackingCleared, warperr.CategoryConcurrency,
			"subagent tracking cleared")}
	}
}

func (t *Tracker) removeWaiter(sid string, target *waiter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ws := t.waiters[sid]
	for i, w := range ws {
		if w == target {
			t.waiters[sid] = append(ws[:i], ws[i+1:]...)
			return
		}
	}
}
