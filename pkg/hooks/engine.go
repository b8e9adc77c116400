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
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/internal/log"
)

// DefaultTimeout applies to hooks registered without one.
const DefaultTimeout = 30 * time.Second

// Emitter receives hook lifecycle events (hook_triggered,
// hook_completed, hook.background_started, hook.background_completed)
// for the streaming layer. May be nil.
type Emitter func(event string, payload map[string]interface{})

// Engine stores hook definitions and executes them per lifecycle point.
type Engine struct {
	mu      sync.RWMutex
	hooks   map[string]*Definition
	nextSeq int64

	emit   Emitter
	logger *zap.Logger

	// Background executions, drainable at shutdown.
	bg sync.WaitGroup
}

// NewEngine creates an engine. emitter may be nil.
func NewEngine(emitter Emitter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = log.Logger()
	}
	return &Engine{
		hooks:  make(map[string]*Definition),
		emit:   emitter,
		logger: logger,
	}
}

// Register adds or replaces a hook. Kinds that can mutate agent flow
// are forced to blocking mode on every registration.
func (e *Engine) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("hook name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("hook %s has no handler", def.Name)
	}
	if def.Timeout <= 0 {
		def.Timeout = DefaultTimeout
	}
	if def.Mode == "" {
		def.Mode = ModeBlocking
	}
	if forcedBlocking[def.Kind] {
		def.Mode = ModeBlocking
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.hooks[def.Name]; ok {
		def.seq = existing.seq
	} else {
		def.seq = e.nextSeq
		e.nextSeq++
	}
	e.hooks[def.Name] = &def
	return nil
}

// Unregister removes a hook by name.
func (e *Engine) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.hooks, name)
}

// GetHooks returns hooks of a kind sorted by priority descending,
// stable on ties by registration order.
func (e *Engine) GetHooks(kind Kind) []*Definition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var defs []*Definition
	for _, d := range e.hooks {
		if d.Kind == kind {
			defs = append(defs, d)
		}
	}
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].Priority != defs[j].Priority {
			return defs[i].Priority > defs[j].Priority
		}
		return defs[i].seq < defs[j].seq
	})
	return defs
}

// Execute runs all hooks of a kind against a context. Blocking hooks
// run sequentially in priority order; a block result stops the chain.
// Background hooks launch concurrently and never affect the outcome.
func (e *Engine) Execute(ctx context.Context, kind Kind, hctx Context) *Outcome {
	hctx.Kind = kind

	var blocking, background []*Definition
	for _, d := range e.GetHooks(kind) {
		if d.Mode == ModeBackground {
			background = append(background, d)
		} else {
			blocking = append(blocking, d)
		}
	}

	outcome := &Outcome{Action: ActionContinue}
	start := time.Now()

	if len(blocking) > 0 {
		names := make([]string, len(blocking))
		for i, d := range blocking {
			names[i] = d.Name
		}
		e.emitEvent("hook_triggered", map[string]interface{}{
			"hookNames": names,
			"hookEvent": string(kind),
			"toolName":  hctx.ToolName,
			"runId":     hctx.RunID,
		})

		for _, d := range blocking {
			if d.Filter != nil && !d.Filter(hctx) {
				continue
			}
			outcome.HookNames = append(outcome.HookNames, d.Name)

			result, err := e.runOne(ctx, d, hctx)
			if err != nil {
				// Fail-open: a failing handler behaves as continue.
				e.logger.Warn("hook failed, continuing",
					zap.String("hook", d.Name),
					zap.String("kind", string(kind)),
					zap.Error(err),
				)
				continue
			}

			switch result.Action {
			case ActionBlock:
				outcome.Action = ActionBlock
				outcome.Reason = result.Reason
				outcome.Message = result.Message
			case ActionModify:
				if outcome.Modifications == nil {
					outcome.Modifications = make(map[string]interface{})
				}
				for k, v := range result.Modifications {
					outcome.Modifications[k] = v
				}
				if outcome.Action != ActionBlock {
					outcome.Action = ActionModify
				}
			}
			if outcome.Action == ActionBlock {
				break
			}
		}

		outcome.Duration = time.Since(start)
		completed := map[string]interface{}{
			"hookNames": names,
			"hookEvent": string(kind),
			"result":    string(outcome.Action),
			"duration":  outcome.Duration.Milliseconds(),
			"toolName":  hctx.ToolName,
			"runId":     hctx.RunID,
		}
		if outcome.Reason != "" {
			completed["reason"] = outcome.Reason
		}
		e.emitEvent("hook_completed", completed)
	}

	for _, d := range background {
		if d.Filter != nil && !d.Filter(hctx) {
			continue
		}
		e.launchBackground(d, hctx)
	}

	outcome.Duration = time.Since(start)
	return outcome
}

// runOne invokes a single handler under its timeout.
func (e *Engine) runOne(ctx context.Context, d *Definition, hctx Context) (Result, error) {
	hookCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	type reply struct {
		result Result
		err    error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("hook panicked: %v", r)}
			}
		}()
		result, err := d.Handler(hookCtx, hctx)
		done <- reply{result: result, err: err}
	}()

	select {
	case r := <-done:
		return r.result, r.err
	case <-hookCtx.Done():
		return Result{}, fmt.Errorf("hook %s timed out after %s", d.Name, d.Timeout)
	}
}

// launchBackground runs a hook fire-and-forget under the drain group.
func (e *Engine) launchBackground(d *Definition, hctx Context) {
	e.bg.Add(1)
	e.emitEvent("hook.background_started", map[string]interface{}{
		"hookName":  d.Name,
		"hookEvent": string(d.Kind),
	})
	go func() {
		defer e.bg.Done()
		start := time.Now()
		_, err := e.runOne(context.Background(), d, hctx)
		payload := map[string]interface{}{
			"hookName":  d.Name,
			"hookEvent": string(d.Kind),
			"duration":  time.Since(start).Milliseconds(),
		}
		if err != nil {
			payload["error"] = err.Error()
			e.logger.Warn("background hook failed",
				zap.String("hook", d.Name),
				zap.Error(err),
			)
		}
		e.emitEvent("hook.background_completed", payload)
	}()
}

// DrainBackground waits for in-flight background hooks, up to timeout.
// Returns false if the timeout expired with hooks still running.
func (e *Engine) DrainBackground(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		e.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		e.logger.Warn("background hooks still running at drain timeout",
			zap.Duration("timeout", timeout))
		return false
	}
}

func (e *Engine) emitEvent(event string, payload map[string]interface{}) {
	if e.emit != nil {
		e.emit(event, payload)
	}
}
