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
// Package provider defines the LLM provider abstraction the turn
// pipeline consumes: a streaming request/response interface with a
// closed set of typed stream events.
package provider

import (
	"context"
	"io"

	"github.com/teradata-labs/warp/pkg/contentblock"
	"github.com/teradata-labs/warp/pkg/shuttle"
	"github.com/teradata-labs/warp/pkg/tokens"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn sent to the provider.
type Message struct {
	Role   Role
	Blocks []contentblock.Block
}

// Request is a single model invocation.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []shuttle.Metadata
	MaxTokens int

	// ReasoningBudget enables extended thinking when positive.
	ReasoningBudget int64
}

// EventType enumerates the provider stream event kinds.
type EventType string

const (
	// EventTextDelta carries an incremental chunk of assistant text.
	EventTextDelta EventType = "text_delta"

	// EventThinkingDelta carries an incremental chunk of reasoning text.
	EventThinkingDelta EventType = "thinking_delta"

	// EventSignatureDelta carries the provider signature for the
	// current thinking block.
	EventSignatureDelta EventType = "signature_delta"

	// EventToolUseBatch carries all tool calls of the response at once,
	// after content deltas and before completion.
	EventToolUseBatch EventType = "tool_use_batch"

	// EventResponseComplete closes one model response and carries the
	// authoritative usage figures and stop reason.
	EventResponseComplete EventType = "response_complete"
)

// ToolCall is one requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// Event is one element of the provider stream.
type Event struct {
	Type EventType

	Text      string
	Thinking  string
	Signature string

	ToolCalls []ToolCall

	// Completion data (type == response_complete).
	Usage      tokens.Usage
	StopReason string

	// CostUSD is the provider-reported cost, zero when unreported.
	CostUSD float64
}

// Stream yields provider events until io.EOF.
type Stream interface {
	// Recv returns the next event, io.EOF at end of stream, or a
	// classified provider error.
	Recv() (Event, error)

	// Close releases the stream. Safe to call more than once.
	Close() error
}

// Provider is a streaming LLM backend.
type Provider interface {
	// Name identifies the provider in token records and logs.
	Name() string

	// Stream opens a model invocation. Errors are classified into
	// transient and terminal categories.
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Drain consumes and discards the remainder of a stream. Used when a
// turn aborts mid-response.
func Drain(s Stream) {
	for {
		if _, err := s.Recv(); err != nil {
			if err != io.EOF {
				_ = s.Close()
			}
			return
		}
	}
}
