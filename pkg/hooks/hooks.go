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
// Package hooks implements prioritized lifecycle interception. Blocking
// hooks run sequentially and can block or modify agent flow; background
// hooks are fire-and-forget but drainable at shutdown. Handler failures
// never change agent flow (fail-open).
package hooks

import (
	"context"
	"time"
)

// Kind enumerates hook lifecycle points.
type Kind string

const (
	PreToolUse       Kind = "PreToolUse"
	PostToolUse      Kind = "PostToolUse"
	Stop             Kind = "Stop"
	SubagentStop     Kind = "SubagentStop"
	SessionStart     Kind = "SessionStart"
	SessionEnd       Kind = "SessionEnd"
	UserPromptSubmit Kind = "UserPromptSubmit"
	PreCompact       Kind = "PreCompact"
	Notification     Kind = "Notification"
)

// forcedBlocking lists kinds that can mutate agent flow. Their mode is
// forced to blocking on every registration.
var forcedBlocking = map[Kind]bool{
	PreToolUse:       true,
	UserPromptSubmit: true,
	PreCompact:       true,
}

// Mode selects how a hook executes relative to the turn loop.
type Mode string

const (
	// ModeBlocking hooks are awaited; their result can alter flow.
	ModeBlocking Mode = "blocking"

	// ModeBackground hooks are fire-and-forget; errors are tracked but
	// never affect flow.
	ModeBackground Mode = "background"
)

// Action is a hook handler's verdict.
type Action string

const (
	ActionContinue Action = "continue"
	ActionBlock    Action = "block"
	ActionModify   Action = "modify"
)

// Context is the situation a hook observes. Fields are populated per
// kind: tool fields for PreToolUse/PostToolUse, Prompt for
// UserPromptSubmit.
type Context struct {
	SessionID  string
	Kind       Kind
	ToolName   string
	ToolCallID string
	ToolArgs   map[string]interface{}
	Prompt     string
	RunID      string

	// Extra carries kind-specific data not covered by the fields above.
	Extra map[string]interface{}
}

// Result is what a handler returns.
type Result struct {
	Action        Action                 `json:"action"`
	Reason        string                 `json:"reason,omitempty"`
	Message       string                 `json:"message,omitempty"`
	Modifications map[string]interface{} `json:"modifications,omitempty"`
}

// Handler executes at a lifecycle point. The context carries the
// hook's timeout as a deadline.
type Handler func(ctx context.Context, hctx Context) (Result, error)

// Filter decides whether a hook applies to a given context.
type Filter func(hctx Context) bool

// Definition is a registered hook.
type Definition struct {
	// Name uniquely identifies the hook. Re-registration replaces.
	Name string

	Kind     Kind
	Priority int
	Timeout  time.Duration
	Mode     Mode
	Filter   Filter
	Handler  Handler

	// seq is the registration order, for stable priority ties.
	seq int64
}

// Outcome is the aggregated blocking-phase result of Execute.
type Outcome struct {
	Action        Action
	Reason        string
	Message       string
	Modifications map[string]interface{}

	// HookNames lists the blocking hooks that ran, in order.
	HookNames []string

	Duration time.Duration
}

// Blocked reports whether the outcome blocks the operation.
func (o *Outcome) Blocked() bool {
	return o != nil && o.Action == ActionBlock
}
