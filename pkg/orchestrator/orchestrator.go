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
// Package orchestrator owns the session runtime: an active-session map
// bounded by a concurrency limit, the per-session Idle/Processing/
// Aborting state machine and the prompt-to-completion turn loop that
// mediates between the provider, the tool registry, the event store,
// the hook engine and the sub-agent tracker.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/internal/log"
	"github.com/teradata-labs/warp/internal/pubsub"
	"github.com/teradata-labs/warp/pkg/eventstore"
	"github.com/teradata-labs/warp/pkg/hooks"
	"github.com/teradata-labs/warp/pkg/provider"
	"github.com/teradata-labs/warp/pkg/shuttle"
	"github.com/teradata-labs/warp/pkg/subagent"
	"github.com/teradata-labs/warp/pkg/tokens"
	"github.com/teradata-labs/warp/pkg/warperr"
)

// CodeSessionLimit is returned when the active-session map is full and
// no idle session can be evicted.
const CodeSessionLimit = "SESSION_LIMIT"

// Config tunes the orchestrator.
type Config struct {
	// MaxConcurrentSessions bounds the active-session map.
	MaxConcurrentSessions int

	// IdleTTL is how long an idle session stays resident before the
	// sweep evicts it.
	IdleTTL time.Duration

	// MaxTurns caps provider round-trips per prompt. Zero means the
	// default.
	MaxTurns int

	// MaxResponseTokens is passed to the provider per call.
	MaxResponseTokens int

	// ReasoningBudget enables extended thinking when positive.
	ReasoningBudget int64

	// SystemPrompt is sent with every provider call.
	SystemPrompt string

	// Retry bounds transient provider retries.
	Retry provider.RetryConfig

	// DrainTimeout bounds the background-hook drain at shutdown.
	DrainTimeout time.Duration
}

func (c *Config) defaults() {
	if c.MaxConcurrentSessions <= 0 {
		c.MaxConcurrentSessions = 32
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 30 * time.Minute
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = 50
	}
	if c.MaxResponseTokens <= 0 {
		c.MaxResponseTokens = 8192
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
	if c.Retry == (provider.RetryConfig{}) {
		c.Retry = provider.DefaultRetryConfig()
	}
}

// Orchestrator drives turn loops across sessions.
type Orchestrator struct {
	store    *eventstore.Store
	provider provider.Provider
	registry *shuttle.Registry
	executor *shuttle.Executor
	hooks    *hooks.Engine
	broker   *pubsub.Broker[StreamEvent]
	contexts *tokens.ContextManager
	spawner  *subagent.TmuxSpawner
	cfg      Config
	logger   *zap.Logger
	sweeper  *cron.Cron

	mu     sync.Mutex
	active map[string]*ActiveSession

	// subsessions tracks in-process child runs for shutdown.
	subsessions sync.WaitGroup
}

// New creates an orchestrator. The hook engine is created internally so
// its lifecycle events flow into the stream broker; register hooks via
// Hooks().
func New(store *eventstore.Store, prov provider.Provider, registry *shuttle.Registry, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Logger()
	}
	cfg.defaults()

	o := &Orchestrator{
		store:    store,
		provider: prov,
		registry: registry,
		executor: shuttle.NewExecutor(registry),
		broker:   pubsub.NewBroker[StreamEvent](logger),
		contexts: tokens.NewContextManager(),
		spawner:  subagent.NewTmuxSpawner(logger),
		cfg:      cfg,
		logger:   logger,
		active:   make(map[string]*ActiveSession),
	}
	o.hooks = hooks.NewEngine(o.publishHookEvent, logger)

	o.sweeper = cron.New()
	o.sweeper.AddFunc("@every 1m", o.evictIdle)
	o.sweeper.Start()

	return o
}

// Hooks exposes the hook engine for registration and discovery.
func (o *Orchestrator) Hooks() *hooks.Engine { return o.hooks }

// Tools exposes the tool registry.
func (o *Orchestrator) Tools() *shuttle.Registry { return o.registry }

// ContextManager exposes context-window snapshots for UIs.
func (o *Orchestrator) ContextManager() *tokens.ContextManager { return o.contexts }

// Subscribe returns a stream of ephemeral agent events. The channel
// closes when ctx is cancelled or the orchestrator shuts down.
func (o *Orchestrator) Subscribe(ctx context.Context) <-chan StreamEvent {
	return o.broker.Subscribe(ctx)
}

func (o *Orchestrator) publish(sessionID, eventType string, payload map[string]interface{}) {
	o.broker.Publish(StreamEvent{
		SessionID: sessionID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

// publishHookEvent forwards hook-engine lifecycle events to stream
// subscribers. Persistence of hook.triggered/hook.completed happens in
// the turn loop, which knows the session.
func (o *Orchestrator) publishHookEvent(event string, payload map[string]interface{}) {
	sessionID, _ := payload["sessionId"].(string)
	o.publish(sessionID, event, payload)
}

// CreateSession creates a session row. The session.start event is
// appended on the first prompt, when the SessionStart hook runs.
func (o *Orchestrator) CreateSession(ctx context.Context, workingDirectory, model string) (*eventstore.Session, error) {
	return o.store.CreateSession(ctx, workingDirectory, model)
}

// Activate loads a session into the active map, rebuilding its
// sub-agent tracker from the event log. Idempotent for already-active
// sessions.
func (o *Orchestrator) Activate(ctx context.Context, sessionID string) (*ActiveSession, error) {
	o.mu.Lock()
	if a, ok := o.active[sessionID]; ok {
		o.mu.Unlock()
		a.touch()
		return a, nil
	}
	o.mu.Unlock()

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, warperr.SessionNotFound(sessionID)
	}
	events, err := o.store.GetEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	a := &ActiveSession{
		ID:           sessionID,
		state:        StateIdle,
		model:        sess.Model,
		workingDir:   sess.WorkingDirectory,
		currentTurn:  countTurns(events),
		lastActivity: time.Now(),
		Tracker:      subagent.FromEvents(events, o.logger),
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.active[sessionID]; ok {
		return existing, nil
	}
	if len(o.active) >= o.cfg.MaxConcurrentSessions {
		if !o.evictOneLocked() {
			return nil, warperr.Newf(CodeSessionLimit, warperr.CategoryConcurrency,
				"active session limit %d reached with no idle session to evict",
				o.cfg.MaxConcurrentSessions)
		}
	}
	o.active[sessionID] = a

	o.logger.Info("session activated",
		zap.String("session_id", sessionID),
		zap.String("model", a.model),
		zap.Int("resumed_turn", a.currentTurn))
	return a, nil
}

// Get returns the active session, or nil when not resident.
func (o *Orchestrator) Get(sessionID string) *ActiveSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[sessionID]
}

// Cancel aborts the session's running turn loop. Returns false when
// the session is not processing.
func (o *Orchestrator) Cancel(sessionID string) bool {
	o.mu.Lock()
	a := o.active[sessionID]
	o.mu.Unlock()
	if a == nil {
		return false
	}
	return a.Abort()
}

// evictOneLocked removes the least recently used idle session. Callers
// hold o.mu.
func (o *Orchestrator) evictOneLocked() bool {
	var victim *ActiveSession
	var oldest time.Time
	for _, a := range o.active {
		at, idle := a.idleSince()
		if !idle {
			continue
		}
		if victim == nil || at.Before(oldest) {
			victim, oldest = a, at
		}
	}
	if victim == nil {
		return false
	}
	delete(o.active, victim.ID)
	o.contexts.Clear(victim.ID)
	o.logger.Debug("evicted idle session", zap.String("session_id", victim.ID))
	return true
}

// evictIdle drops idle sessions past the TTL. Runs on the cron sweep.
func (o *Orchestrator) evictIdle() {
	cutoff := time.Now().Add(-o.cfg.IdleTTL)
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, a := range o.active {
		at, idle := a.idleSince()
		if idle && at.Before(cutoff) {
			delete(o.active, id)
			o.contexts.Clear(id)
			o.logger.Info("evicted idle session past TTL", zap.String("session_id", id))
		}
	}
}

// SwitchModel changes the session's model. Rejected while a run is in
// flight; the switch is recorded as a config.model_switch event and on
// the session row.
func (o *Orchestrator) SwitchModel(ctx context.Context, sessionID, model string) error {
	a, err := o.Activate(ctx, sessionID)
	if err != nil {
		return err
	}
	if a.State() != StateIdle {
		return warperr.AlreadyProcessing(sessionID)
	}

	previous := a.Model()
	if previous == model {
		return nil
	}

	if _, err := o.store.Append(ctx, eventstore.AppendRequest{
		SessionID: sessionID,
		Kind:      eventstore.KindConfigModelSwitch,
		Payload: map[string]interface{}{
			"previousModel": previous,
			"newModel":      model,
		},
	}); err != nil {
		return err
	}
	if err := o.store.UpdateLatestModel(ctx, sessionID, model); err != nil {
		return err
	}
	a.setModel(model)

	o.logger.Info("model switched",
		zap.String("session_id", sessionID),
		zap.String("previous", previous),
		zap.String("model", model))
	return nil
}

// CompactRequest describes one context compaction.
type CompactRequest struct {
	Reason          string
	Summary         string
	OriginalTokens  int64
	CompactedTokens int64
	RunID           string
}

// Compact records a compaction boundary. The start is stream-only; the
// boundary event is durable and resets sub-agent tracking, which is
// tied to the pre-compaction context.
func (o *Orchestrator) Compact(ctx context.Context, sessionID string, req CompactRequest) (*eventstore.Event, error) {
	a, err := o.Activate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	o.publish(sessionID, StreamCompactionStarted, map[string]interface{}{
		"reason": req.Reason,
		"runId":  req.RunID,
	})

	var ratio float64
	if req.OriginalTokens > 0 {
		ratio = float64(req.CompactedTokens) / float64(req.OriginalTokens)
	}
	event, err := o.store.Append(ctx, eventstore.AppendRequest{
		SessionID: sessionID,
		Kind:      eventstore.KindCompactBoundary,
		RunID:     req.RunID,
		Payload: map[string]interface{}{
			"originalTokens":   req.OriginalTokens,
			"compactedTokens":  req.CompactedTokens,
			"compressionRatio": ratio,
			"reason":           req.Reason,
			"summary":          req.Summary,
			"runId":            req.RunID,
		},
	})
	if err != nil {
		return nil, err
	}

	a.Tracker.Clear()
	a.setBaseline(req.CompactedTokens)
	o.contexts.Update(sessionID, req.CompactedTokens)

	o.publish(sessionID, StreamCompaction, map[string]interface{}{
		"originalTokens":  req.OriginalTokens,
		"compactedTokens": req.CompactedTokens,
		"runId":           req.RunID,
	})
	return event, nil
}

// ClearContext records a context.cleared event and resets sub-agent
// tracking. Pending child results survive for the next turn.
func (o *Orchestrator) ClearContext(ctx context.Context, sessionID, reason string) error {
	a, err := o.Activate(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, err := o.store.Append(ctx, eventstore.AppendRequest{
		SessionID: sessionID,
		Kind:      eventstore.KindContextCleared,
		Payload:   map[string]interface{}{"reason": reason},
	}); err != nil {
		return err
	}
	a.Tracker.Clear()
	a.setBaseline(0)
	o.contexts.Clear(sessionID)
	return nil
}

// Fork creates a new session rooted at an event of the source session
// and activates it. Tracker state comes from replaying the source
// event's ancestors, so the fork resumes exactly where the source was.
func (o *Orchestrator) Fork(ctx context.Context, sourceSessionID, sourceEventID, name string) (*eventstore.Session, error) {
	sess, _, err := o.store.Fork(ctx, sourceSessionID, sourceEventID, name)
	if err != nil {
		return nil, err
	}
	ancestors, err := o.store.GetAncestors(ctx, sourceEventID)
	if err != nil {
		return nil, err
	}

	a := &ActiveSession{
		ID:           sess.ID,
		state:        StateIdle,
		model:        sess.Model,
		workingDir:   sess.WorkingDirectory,
		currentTurn:  countTurns(ancestors),
		lastActivity: time.Now(),
		Tracker:      subagent.FromEvents(ancestors, o.logger),
	}
	o.mu.Lock()
	if len(o.active) >= o.cfg.MaxConcurrentSessions {
		o.evictOneLocked()
	}
	o.active[sess.ID] = a
	o.mu.Unlock()

	return sess, nil
}

// Shutdown stops the eviction sweep, waits for in-process subsessions,
// drains background hooks and closes the stream broker.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.sweeper.Stop()

	done := make(chan struct{})
	go func() {
		o.subsessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn("subsessions still running at shutdown")
	}

	if !o.hooks.DrainBackground(o.cfg.DrainTimeout) {
		o.logger.Warn("background hooks still running at shutdown")
	}
	o.broker.Close()
	return nil
}

// countTurns returns the highest turn recorded in events. Resumed
// sessions continue numbering from there.
func countTurns(events []*eventstore.Event) int {
	turn := 0
	for _, ev := range events {
		if ev.Kind != eventstore.KindStreamTurnStart && ev.Kind != eventstore.KindStreamTurnEnd {
			continue
		}
		switch v := ev.Payload["turn"].(type) {
		case float64:
			if int(v) > turn {
				turn = int(v)
			}
		case int:
			if v > turn {
				turn = v
			}
		case int64:
			if int(v) > turn {
				turn = int(v)
			}
		}
	}
	return turn
}

// errString formats an error for event payloads.
func errString(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%v", err)
}
