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
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/contentblock"
	"github.com/teradata-labs/warp/pkg/eventstore"
	"github.com/teradata-labs/warp/pkg/hooks"
	"github.com/teradata-labs/warp/pkg/provider"
	"github.com/teradata-labs/warp/pkg/session"
	"github.com/teradata-labs/warp/pkg/shuttle"
	"github.com/teradata-labs/warp/pkg/subagent"
	"github.com/teradata-labs/warp/pkg/tokens"
	"github.com/teradata-labs/warp/pkg/warperr"
)

// PromptRequest is one user prompt submitted to a session.
type PromptRequest struct {
	Prompt      string
	Attachments []string
	Skills      []string
}

// RunResult summarizes one completed run.
type RunResult struct {
	RunID       string
	Turns       int
	FinalText   string
	Usage       tokens.Usage
	Cost        float64
	Interrupted bool
}

// Prompt runs one prompt-to-completion turn loop on the session.
// Rejects with ALREADY_PROCESSING while another run is active.
func (o *Orchestrator) Prompt(ctx context.Context, sessionID string, req PromptRequest) (*RunResult, error) {
	a, err := o.Activate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := a.beginRun(cancel); err != nil {
		return nil, err
	}

	r := &turnRun{
		o:     o,
		a:     a,
		sid:   sessionID,
		runID: uuid.NewString(),
		req:   req,
	}
	runCtx = session.WithEventContext(runCtx, session.EventContext{
		SessionID: sessionID,
		RunID:     r.runID,
	})

	result, err := r.execute(runCtx)
	interrupted := result != nil && result.Interrupted
	a.endRun(interrupted)
	return result, err
}

// turnRun carries the state of one run id through the loop.
type turnRun struct {
	o     *Orchestrator
	a     *ActiveSession
	sid   string
	runID string
	req   PromptRequest

	messages []provider.Message
	result   RunResult
}

// turnState accumulates one provider response.
type turnState struct {
	turn      int
	startedAt time.Time

	thinking  string
	signature string
	items     []contentblock.SequenceItem
	calls     map[string]*contentblock.ToolCall

	flushed   bool
	assistant []contentblock.Block
	results   []contentblock.Block
	toolsRan  bool
	blocked   *hooks.Outcome

	usage      tokens.Usage
	record     *tokens.Record
	stopReason string
	cost       float64
}

func newTurnState(turn int) *turnState {
	return &turnState{
		turn:      turn,
		startedAt: time.Now(),
		calls:     make(map[string]*contentblock.ToolCall),
	}
}

// appendText coalesces consecutive text deltas into one sequence item.
func (ts *turnState) appendText(text string) {
	if n := len(ts.items); n > 0 && ts.items[n-1].Type == contentblock.ItemText {
		ts.items[n-1].Text += text
		return
	}
	ts.items = append(ts.items, contentblock.SequenceItem{Type: contentblock.ItemText, Text: text})
}

func (ts *turnState) text() string {
	var parts []string
	for _, item := range ts.items {
		if item.Type == contentblock.ItemText && item.Text != "" {
			parts = append(parts, item.Text)
		}
	}
	return strings.Join(parts, "")
}

func (r *turnRun) execute(ctx context.Context) (*RunResult, error) {
	r.result.RunID = r.runID

	events, err := r.o.store.GetEvents(ctx, r.sid)
	if err != nil {
		return nil, err
	}

	// SessionStart fires only on a cold session.
	if len(events) == 0 {
		outcome := r.runBlockingHooks(ctx, hooks.SessionStart, hooks.Context{
			SessionID: r.sid,
			RunID:     r.runID,
		})
		if outcome.Blocked() {
			return nil, hookBlocked(outcome)
		}
		if _, err := r.o.store.Append(ctx, eventstore.AppendRequest{
			SessionID: r.sid,
			Kind:      eventstore.KindSessionStart,
			RunID:     r.runID,
			Payload: map[string]interface{}{
				"workingDirectory": r.a.WorkingDirectory(),
				"model":            r.a.Model(),
			},
		}); err != nil {
			return nil, err
		}
	}

	outcome := r.runBlockingHooks(ctx, hooks.UserPromptSubmit, hooks.Context{
		SessionID: r.sid,
		RunID:     r.runID,
		Prompt:    r.req.Prompt,
	})
	if outcome.Blocked() {
		return nil, hookBlocked(outcome)
	}
	prompt := r.req.Prompt
	if modified, ok := outcome.Modifications["prompt"].(string); ok && modified != "" {
		prompt = modified
	}

	userPayload := map[string]interface{}{
		"content": prompt,
		"turn":    r.a.turn() + 1,
	}
	if len(r.req.Attachments) > 0 {
		userPayload["attachments"] = r.req.Attachments
	}
	if len(r.req.Skills) > 0 {
		userPayload["skills"] = r.req.Skills
	}
	if _, err := r.o.store.Append(ctx, eventstore.AppendRequest{
		SessionID: r.sid,
		Kind:      eventstore.KindMessageUser,
		RunID:     r.runID,
		Payload:   userPayload,
	}); err != nil {
		return nil, err
	}

	// Completed child results are injected ahead of the prompt so the
	// model sees them this turn. The persisted message.user carries the
	// prompt alone.
	r.messages = historyFromEvents(events)
	promptText := prompt
	if pending := r.a.Tracker.ConsumePendingResults(); len(pending) > 0 {
		promptText = formatPendingResults(pending) + "\n\n" + prompt
	}
	r.messages = append(r.messages, provider.Message{
		Role:   provider.RoleUser,
		Blocks: []contentblock.Block{{Type: contentblock.TypeText, Text: promptText}},
	})

	for {
		if r.result.Turns >= r.o.cfg.MaxTurns {
			return &r.result, warperr.Newf("MAX_TURNS_EXCEEDED", warperr.CategoryValidation,
				"run exceeded %d turns", r.o.cfg.MaxTurns)
		}

		turn := r.a.turn() + 1
		r.a.setTurn(turn)
		ts := newTurnState(turn)

		r.o.publish(r.sid, StreamTurnStart, map[string]interface{}{
			"turn": turn, "runId": r.runID,
		})
		if _, err := r.o.store.Append(ctx, eventstore.AppendRequest{
			SessionID: r.sid,
			Kind:      eventstore.KindStreamTurnStart,
			RunID:     r.runID,
			Payload:   map[string]interface{}{"turn": turn, "runId": r.runID},
		}); err != nil {
			return nil, err
		}

		stream, err := provider.StreamWithRetry(ctx, r.o.provider, r.request(), r.o.cfg.Retry)
		if err != nil {
			return r.fail(ctx, ts, err)
		}

		err = r.consume(ctx, stream, ts)
		stream.Close()
		if err != nil {
			if isInterruption(ctx, err) {
				return r.interrupt(ts)
			}
			return r.fail(ctx, ts, err)
		}
		if ctx.Err() != nil || r.a.aborting() {
			return r.interrupt(ts)
		}

		if ts.blocked != nil {
			return r.endBlocked(ctx, ts)
		}

		if err := r.endTurn(ctx, ts); err != nil {
			return nil, err
		}

		if !ts.toolsRan {
			r.result.FinalText = ts.text()
			break
		}

		// Feed tool results back as the next user-turn input.
		r.messages = append(r.messages,
			provider.Message{Role: provider.RoleAssistant, Blocks: ts.assistant},
			provider.Message{Role: provider.RoleUser, Blocks: ts.results},
		)
	}

	r.runBlockingHooks(ctx, hooks.Stop, hooks.Context{SessionID: r.sid, RunID: r.runID})
	return &r.result, nil
}

func (r *turnRun) request() provider.Request {
	return provider.Request{
		Model:           r.a.Model(),
		System:          r.o.cfg.SystemPrompt,
		Messages:        r.messages,
		Tools:           r.o.registry.Describe(),
		MaxTokens:       r.o.cfg.MaxResponseTokens,
		ReasoningBudget: r.o.cfg.ReasoningBudget,
	}
}

// consume drains the provider stream, dispatching each event.
func (r *turnRun) consume(ctx context.Context, stream provider.Stream, ts *turnState) error {
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch ev.Type {
		case provider.EventTextDelta:
			ts.appendText(ev.Text)
		case provider.EventThinkingDelta:
			ts.thinking += ev.Thinking
		case provider.EventSignatureDelta:
			ts.signature += ev.Signature
		case provider.EventToolUseBatch:
			if err := r.runToolBatch(ctx, ts, ev.ToolCalls); err != nil {
				return err
			}
			if ts.blocked != nil {
				provider.Drain(stream)
				return nil
			}
		case provider.EventResponseComplete:
			r.account(ts, ev)
		}
	}
}

// account computes the turn's token record at response_complete, before
// any remaining tool work, so context-window snapshots stay fresh.
func (r *turnRun) account(ts *turnState, ev provider.Event) {
	usage := ev.Usage
	method := tokens.MethodProviderCumulative
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		usage = tokens.GetCounter().EstimateUsage(
			messageTexts(r.messages), []string{ts.text(), ts.thinking})
		method = tokens.MethodEstimated
	}

	record := tokens.NewRecord(r.sid, ts.turn, r.o.provider.Name(), usage, r.a.baseline(), method)
	r.a.setBaseline(record.Computed.ContextWindowTokens)
	r.o.contexts.Update(r.sid, record.Computed.ContextWindowTokens)

	ts.usage = usage
	ts.record = &record
	ts.stopReason = ev.StopReason
	ts.cost = tokens.ResolveCost(ev.CostUSD, tokens.EstimateCost(r.a.Model(), usage))
}

// runToolBatch registers the batch's intents, performs the pre-tool
// flush, then runs each call through PreToolUse hooks and the executor.
func (r *turnRun) runToolBatch(ctx context.Context, ts *turnState, calls []provider.ToolCall) error {
	for _, c := range calls {
		ts.calls[c.ID] = &contentblock.ToolCall{
			ID:     c.ID,
			Name:   c.Name,
			Input:  c.Arguments,
			Status: contentblock.StatusPending,
		}
		ts.items = append(ts.items, contentblock.SequenceItem{
			Type:       contentblock.ItemToolRef,
			ToolCallID: c.ID,
		})
	}

	// Pre-tool flush: the turn's single message.assistant goes out
	// before the first tool runs. Later batches in the same turn append
	// tool.call events only.
	if !ts.flushed {
		blocks := contentblock.Build(ts.thinking, ts.signature, ts.items, ts.calls, false)
		if blocks != nil {
			if err := r.appendAssistant(ctx, ts, blocks, nil); err != nil {
				return err
			}
			ts.assistant = blocks
		}
		ts.flushed = true
	} else {
		ts.assistant = contentblock.Build(ts.thinking, ts.signature, ts.items, ts.calls, false)
	}

	for _, c := range calls {
		if ctx.Err() != nil {
			return warperr.Wrap(ctx.Err(), warperr.CodeInterrupted, warperr.CategoryCancelled,
				"tool batch cancelled")
		}
		if err := r.runTool(ctx, ts, c); err != nil {
			return err
		}
		if ts.blocked != nil {
			return nil
		}
	}
	return nil
}

func (r *turnRun) runTool(ctx context.Context, ts *turnState, c provider.ToolCall) error {
	hctx := hooks.Context{
		SessionID:  r.sid,
		RunID:      r.runID,
		ToolName:   c.Name,
		ToolCallID: c.ID,
		ToolArgs:   c.Arguments,
	}
	outcome := r.runBlockingHooks(ctx, hooks.PreToolUse, hctx)
	if outcome.Blocked() {
		ts.blocked = outcome
		return nil
	}
	args := c.Arguments
	if len(outcome.Modifications) > 0 {
		merged := make(map[string]interface{}, len(args)+len(outcome.Modifications))
		for k, v := range args {
			merged[k] = v
		}
		for k, v := range outcome.Modifications {
			merged[k] = v
		}
		args = merged
	}

	if _, err := r.o.store.Append(ctx, eventstore.AppendRequest{
		SessionID: r.sid,
		Kind:      eventstore.KindToolCall,
		RunID:     r.runID,
		Payload: map[string]interface{}{
			"toolCallId": c.ID,
			"name":       c.Name,
			"arguments":  args,
			"turn":       ts.turn,
			"runId":      r.runID,
		},
	}); err != nil {
		return err
	}
	r.o.publish(r.sid, StreamToolStart, map[string]interface{}{
		"toolCallId": c.ID, "name": c.Name, "turn": ts.turn, "runId": r.runID,
	})

	call := ts.calls[c.ID]
	call.Status = contentblock.StatusRunning
	call.StartedAt = time.Now()

	result, err := r.o.executor.Execute(ctx, c.Name, args)
	if err != nil {
		if isInterruption(ctx, err) {
			return err
		}
		// Unknown tools and executor failures surface to the model as
		// error results; the turn continues.
		result = &shuttle.Result{Content: errString(err), IsError: true}
	}

	call.Status = contentblock.StatusCompleted
	call.CompletedAt = time.Now()
	call.Output = result.Content
	call.IsError = result.IsError
	ts.toolsRan = true

	if _, err := r.o.store.Append(ctx, eventstore.AppendRequest{
		SessionID: r.sid,
		Kind:      eventstore.KindToolResult,
		RunID:     r.runID,
		Payload: map[string]interface{}{
			"toolCallId": c.ID,
			"content":    result.Content,
			"isError":    result.IsError,
			"runId":      r.runID,
		},
	}); err != nil {
		return err
	}
	r.o.publish(r.sid, StreamToolEnd, map[string]interface{}{
		"toolCallId": c.ID,
		"name":       c.Name,
		"isError":    result.IsError,
		"durationMs": call.CompletedAt.Sub(call.StartedAt).Milliseconds(),
		"runId":      r.runID,
	})

	ts.results = append(ts.results, contentblock.Block{
		Type:      contentblock.TypeToolResult,
		ToolUseID: c.ID,
		Content:   result.Content,
		IsError:   result.IsError,
	})

	r.runBlockingHooks(ctx, hooks.PostToolUse, hctx)
	return nil
}

// endTurn flushes remaining content, persists stream.turn_end and rolls
// the turn into the session aggregates.
func (r *turnRun) endTurn(ctx context.Context, ts *turnState) error {
	if !ts.flushed {
		blocks := contentblock.Build(ts.thinking, ts.signature, ts.items, ts.calls, false)
		if blocks != nil {
			if err := r.appendAssistant(ctx, ts, blocks, ts.record); err != nil {
				return err
			}
			ts.assistant = blocks
		}
		ts.flushed = true
	}

	endPayload := map[string]interface{}{
		"turn":       ts.turn,
		"tokenUsage": usagePayload(ts.usage),
		"cost":       ts.cost,
		"runId":      r.runID,
	}
	if ts.record != nil {
		endPayload["tokenRecord"] = ts.record.ToPayload()
	}
	if _, err := r.o.store.Append(ctx, eventstore.AppendRequest{
		SessionID: r.sid,
		Kind:      eventstore.KindStreamTurnEnd,
		RunID:     r.runID,
		Payload:   endPayload,
	}); err != nil {
		return err
	}

	if err := r.o.store.AccumulateTurnStats(ctx, r.sid, eventstore.TurnStats{
		InputTokens:         ts.usage.InputTokens,
		OutputTokens:        ts.usage.OutputTokens,
		CacheReadTokens:     ts.usage.CacheReadTokens,
		CacheCreationTokens: ts.usage.CacheCreationTokens,
		Cost:                ts.cost,
	}); err != nil {
		return err
	}

	r.o.publish(r.sid, StreamTurnEnd, map[string]interface{}{
		"turn":       ts.turn,
		"runId":      r.runID,
		"durationMs": time.Since(ts.startedAt).Milliseconds(),
		"cost":       ts.cost,
	})

	r.result.Turns++
	r.result.Usage = r.result.Usage.Add(ts.usage)
	r.result.Cost += ts.cost
	return nil
}

// endBlocked closes out a turn whose tool chain was denied by a
// PreToolUse hook. The flushed assistant message stands; no tool.call
// was appended for the denied call.
func (r *turnRun) endBlocked(ctx context.Context, ts *turnState) (*RunResult, error) {
	if _, err := r.o.store.Append(ctx, eventstore.AppendRequest{
		SessionID: r.sid,
		Kind:      eventstore.KindStreamTurnEnd,
		RunID:     r.runID,
		Payload: map[string]interface{}{
			"turn":    ts.turn,
			"runId":   r.runID,
			"blocked": true,
			"reason":  ts.blocked.Reason,
		},
	}); err != nil {
		return nil, err
	}
	r.o.publish(r.sid, StreamTurnEnd, map[string]interface{}{
		"turn":   ts.turn,
		"runId":  r.runID,
		"error":  true,
		"reason": ts.blocked.Reason,
	})
	r.result.Turns++
	return &r.result, hookBlocked(ts.blocked)
}

// interrupt executes the interruption-persistence path: annotated
// assistant content if not yet flushed, synthesized tool_results for
// calls that never finished, and a turn_interrupted stream event.
func (r *turnRun) interrupt(ts *turnState) (*RunResult, error) {
	// The run context is cancelled; persistence uses a fresh one.
	ctx := context.Background()

	assistant, results := contentblock.BuildInterrupted(
		ts.thinking, ts.signature, ts.items, ts.calls, ts.flushed)
	if assistant != nil {
		if err := r.appendAssistant(ctx, ts, assistant, nil); err != nil {
			r.o.logger.Error("failed to persist interrupted assistant message",
				zap.String("session_id", r.sid), zap.Error(err))
		}
	}
	for _, b := range results {
		interrupted, _ := b.Meta["interrupted"].(bool)
		if !interrupted {
			// Completed calls already persisted their tool.result.
			continue
		}
		if _, err := r.o.store.Append(ctx, eventstore.AppendRequest{
			SessionID: r.sid,
			Kind:      eventstore.KindToolResult,
			RunID:     r.runID,
			Payload: map[string]interface{}{
				"toolCallId": b.ToolUseID,
				"content":    b.Content,
				"isError":    false,
				"_meta":      b.Meta,
				"runId":      r.runID,
			},
		}); err != nil {
			r.o.logger.Error("failed to persist synthesized tool result",
				zap.String("session_id", r.sid),
				zap.String("tool_call_id", b.ToolUseID),
				zap.Error(err))
		}
	}

	r.o.publish(r.sid, StreamTurnInterrupted, map[string]interface{}{
		"turn":  ts.turn,
		"runId": r.runID,
	})
	r.result.Interrupted = true
	return &r.result, warperr.New(warperr.CodeInterrupted, warperr.CategoryCancelled,
		"run interrupted")
}

// fail persists an error.agent event and surfaces the classified error.
func (r *turnRun) fail(ctx context.Context, ts *turnState, cause error) (*RunResult, error) {
	classified := provider.Classify(cause)
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if _, err := r.o.store.Append(ctx, eventstore.AppendRequest{
		SessionID: r.sid,
		Kind:      eventstore.KindErrorAgent,
		RunID:     r.runID,
		Payload: map[string]interface{}{
			"error":       errString(classified),
			"recoverable": warperr.IsRetryable(classified),
		},
	}); err != nil {
		r.o.logger.Error("failed to persist agent error",
			zap.String("session_id", r.sid), zap.Error(err))
	}
	r.o.publish(r.sid, StreamTurnEnd, map[string]interface{}{
		"turn":  ts.turn,
		"runId": r.runID,
		"error": true,
	})
	return nil, classified
}

// appendAssistant persists the turn's message.assistant event.
func (r *turnRun) appendAssistant(ctx context.Context, ts *turnState, blocks []contentblock.Block, record *tokens.Record) error {
	payload := map[string]interface{}{
		"content":     contentblock.ToPayload(blocks),
		"turn":        ts.turn,
		"model":       r.a.Model(),
		"hasThinking": ts.thinking != "",
		"latency":     time.Since(ts.startedAt).Milliseconds(),
	}
	if ts.stopReason != "" {
		payload["stopReason"] = ts.stopReason
	}
	if record != nil {
		payload["tokenUsage"] = usagePayload(record.Source.Usage)
		payload["tokenRecord"] = record.ToPayload()
	}
	_, err := r.o.store.Append(ctx, eventstore.AppendRequest{
		SessionID: r.sid,
		Kind:      eventstore.KindMessageAssistant,
		RunID:     r.runID,
		Payload:   payload,
	})
	return err
}

// runBlockingHooks executes hooks of a kind and persists the
// hook.triggered/hook.completed pair when any blocking hook ran.
func (r *turnRun) runBlockingHooks(ctx context.Context, kind hooks.Kind, hctx hooks.Context) *hooks.Outcome {
	outcome := r.o.hooks.Execute(ctx, kind, hctx)
	if len(outcome.HookNames) == 0 {
		return outcome
	}

	appendCtx := ctx
	if ctx.Err() != nil {
		appendCtx = context.Background()
	}
	names := make([]interface{}, len(outcome.HookNames))
	for i, n := range outcome.HookNames {
		names[i] = n
	}

	triggered := map[string]interface{}{
		"hookNames": names,
		"hookEvent": string(kind),
		"runId":     r.runID,
	}
	completed := map[string]interface{}{
		"hookNames": names,
		"hookEvent": string(kind),
		"result":    string(outcome.Action),
		"duration":  outcome.Duration.Milliseconds(),
		"runId":     r.runID,
	}
	if hctx.ToolName != "" {
		triggered["toolName"] = hctx.ToolName
		completed["toolName"] = hctx.ToolName
	}
	if hctx.ToolCallID != "" {
		triggered["toolCallId"] = hctx.ToolCallID
		completed["toolCallId"] = hctx.ToolCallID
	}
	if outcome.Reason != "" {
		completed["reason"] = outcome.Reason
	}

	for _, kv := range []struct {
		kind    eventstore.Kind
		payload map[string]interface{}
	}{
		{eventstore.KindHookTriggered, triggered},
		{eventstore.KindHookCompleted, completed},
	} {
		if _, err := r.o.store.Append(appendCtx, eventstore.AppendRequest{
			SessionID: r.sid,
			Kind:      kv.kind,
			RunID:     r.runID,
			Payload:   kv.payload,
		}); err != nil {
			r.o.logger.Warn("failed to persist hook lifecycle event",
				zap.String("session_id", r.sid),
				zap.String("kind", string(kv.kind)),
				zap.Error(err))
		}
	}
	return outcome
}

func hookBlocked(outcome *hooks.Outcome) error {
	return warperr.Newf(warperr.CodeHookBlocked, warperr.CategoryHook,
		"blocked by hook: %s", outcome.Reason)
}

func isInterruption(ctx context.Context, err error) bool {
	return ctx.Err() != nil || warperr.CodeOf(err) == warperr.CodeInterrupted
}

// historyFromEvents rebuilds the provider-facing conversation from the
// persisted log. Compaction boundaries replace everything before them
// with the stored summary.
func historyFromEvents(events []*eventstore.Event) []provider.Message {
	var msgs []provider.Message
	var pendingResults []contentblock.Block

	flushResults := func() {
		if len(pendingResults) > 0 {
			msgs = append(msgs, provider.Message{Role: provider.RoleUser, Blocks: pendingResults})
			pendingResults = nil
		}
	}

	for _, ev := range events {
		switch ev.Kind {
		case eventstore.KindMessageUser:
			flushResults()
			if content, ok := ev.Payload["content"].(string); ok && content != "" {
				msgs = append(msgs, provider.Message{
					Role:   provider.RoleUser,
					Blocks: []contentblock.Block{{Type: contentblock.TypeText, Text: content}},
				})
			}
		case eventstore.KindMessageAssistant:
			flushResults()
			if blocks := blocksFromPayload(ev.Payload["content"]); len(blocks) > 0 {
				msgs = append(msgs, provider.Message{Role: provider.RoleAssistant, Blocks: blocks})
			}
		case eventstore.KindToolResult:
			toolCallID, _ := ev.Payload["toolCallId"].(string)
			content, _ := ev.Payload["content"].(string)
			isError, _ := ev.Payload["isError"].(bool)
			pendingResults = append(pendingResults, contentblock.Block{
				Type:      contentblock.TypeToolResult,
				ToolUseID: toolCallID,
				Content:   content,
				IsError:   isError,
			})
		case eventstore.KindCompactBoundary:
			msgs = nil
			pendingResults = nil
			if summary, ok := ev.Payload["summary"].(string); ok && summary != "" {
				msgs = append(msgs, provider.Message{
					Role:   provider.RoleUser,
					Blocks: []contentblock.Block{{Type: contentblock.TypeText, Text: "Context summary:\n" + summary}},
				})
			}
		case eventstore.KindContextCleared:
			msgs = nil
			pendingResults = nil
		}
	}
	flushResults()
	return msgs
}

// blocksFromPayload parses the stored content-block array back into
// typed blocks.
func blocksFromPayload(v interface{}) []contentblock.Block {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var blocks []contentblock.Block
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		switch contentblock.BlockType(fmt.Sprintf("%v", m["type"])) {
		case contentblock.TypeText:
			text, _ := m["text"].(string)
			blocks = append(blocks, contentblock.Block{Type: contentblock.TypeText, Text: text})
		case contentblock.TypeThinking:
			thinking, _ := m["thinking"].(string)
			signature, _ := m["signature"].(string)
			blocks = append(blocks, contentblock.Block{
				Type: contentblock.TypeThinking, Thinking: thinking, Signature: signature,
			})
		case contentblock.TypeToolUse:
			id, _ := m["id"].(string)
			name, _ := m["name"].(string)
			input, _ := m["input"].(map[string]interface{})
			blocks = append(blocks, contentblock.Block{
				Type: contentblock.TypeToolUse, ID: id, Name: name, Input: input,
			})
		case contentblock.TypeToolResult:
			toolUseID, _ := m["tool_use_id"].(string)
			content, _ := m["content"].(string)
			isError, _ := m["is_error"].(bool)
			blocks = append(blocks, contentblock.Block{
				Type: contentblock.TypeToolResult, ToolUseID: toolUseID,
				Content: content, IsError: isError,
			})
		}
	}
	return blocks
}

func messageTexts(msgs []provider.Message) []string {
	var texts []string
	for _, m := range msgs {
		for _, b := range m.Blocks {
			switch b.Type {
			case contentblock.TypeText:
				texts = append(texts, b.Text)
			case contentblock.TypeToolResult:
				texts = append(texts, b.Content)
			}
		}
	}
	return texts
}

func formatPendingResults(results []subagent.Result) string {
	var sb strings.Builder
	sb.WriteString("Completed subagent results:\n")
	for _, res := range results {
		if res.Success {
			fmt.Fprintf(&sb, "- %s succeeded after %d turns: %s\n",
				res.SubagentSessionID, res.Turns, res.Summary)
		} else {
			fmt.Fprintf(&sb, "- %s failed: %s\n", res.SubagentSessionID, res.Error)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func usagePayload(u tokens.Usage) map[string]interface{} {
	return map[string]interface{}{
		"inputTokens":         u.InputTokens,
		"outputTokens":        u.OutputTokens,
		"cacheReadTokens":     u.CacheReadTokens,
		"cacheCreationTokens": u.CacheCreationTokens,
	}
}
