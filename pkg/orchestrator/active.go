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
	"sync"
	"time"

	"github.com/teradata-labs/warp/pkg/subagent"
	"github.com/teradata-labs/warp/pkg/warperr"
)

// State is the runtime state of an active session.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateAborting   State = "aborting"
)

// ActiveSession is the in-memory runtime for one session currently
// served by the orchestrator. At most one turn loop runs per session;
// the state field is the guard.
type ActiveSession struct {
	ID string

	mu             sync.Mutex
	state          State
	cancel         context.CancelFunc
	wasInterrupted bool
	model          string
	workingDir     string
	currentTurn    int
	tokenBaseline  int64
	lastActivity   time.Time

	// Tracker follows this session's spawned children. Rebuilt from
	// events on activation.
	Tracker *subagent.Tracker
}

// beginRun transitions Idle -> Processing, claiming the turn loop.
func (a *ActiveSession) beginRun(cancel context.CancelFunc) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateIdle {
		return warperr.AlreadyProcessing(a.ID)
	}
	a.state = StateProcessing
	a.cancel = cancel
	a.wasInterrupted = false
	a.lastActivity = time.Now()
	return nil
}

// endRun returns the session to Idle after the turn loop exits.
func (a *ActiveSession) endRun(interrupted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = StateIdle
	a.cancel = nil
	a.wasInterrupted = interrupted
	a.lastActivity = time.Now()
}

// Abort signals the running turn loop to stop at its next suspension
// point. Returns false when no run is in flight.
func (a *ActiveSession) Abort() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateProcessing || a.cancel == nil {
		return false
	}
	a.state = StateAborting
	a.cancel()
	return true
}

// State returns the current runtime state.
func (a *ActiveSession) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// WasInterrupted reports whether the most recent run was aborted.
func (a *ActiveSession) WasInterrupted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wasInterrupted
}

// WorkingDirectory returns the session's working directory.
func (a *ActiveSession) WorkingDirectory() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workingDir
}

// Model returns the model the session currently runs on.
func (a *ActiveSession) Model() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

func (a *ActiveSession) setModel(model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = model
}

// aborting reports whether a cancel has been requested for the current
// run.
func (a *ActiveSession) aborting() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == StateAborting
}

func (a *ActiveSession) touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActivity = time.Now()
}

func (a *ActiveSession) idleSince() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActivity, a.state == StateIdle
}

// baseline returns the previous turn's context-window token count used
// to compute newInputTokens deltas.
func (a *ActiveSession) baseline() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tokenBaseline
}

func (a *ActiveSession) setBaseline(v int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokenBaseline = v
}

func (a *ActiveSession) turn() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentTurn
}

func (a *ActiveSession) setTurn(turn int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentTurn = turn
}
