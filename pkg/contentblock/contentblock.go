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
// Package contentblock assembles assistant message content blocks in
// canonical order. It is pure: same inputs produce the same output,
// which is what makes the single-flush rule and faithful interruption
// persistence testable.
package contentblock

import "time"

// BlockType enumerates the content block sum type.
type BlockType string

const (
	TypeText       BlockType = "text"
	TypeThinking   BlockType = "thinking"
	TypeToolUse    BlockType = "tool_use"
	TypeToolResult BlockType = "tool_result"
)

// Block is one content block of an assistant or tool-result message.
type Block struct {
	Type BlockType `json:"type"`

	// Text content (type == text).
	Text string `json:"text,omitempty"`

	// Thinking content and provider signature (type == thinking).
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// Tool invocation (type == tool_use).
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// Tool result (type == tool_result).
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// Meta carries transcript-fidelity annotations (status,
	// interrupted, duration) under the _meta payload key.
	Meta map[string]interface{} `json:"_meta,omitempty"`
}

// ItemType enumerates sequence item kinds.
type ItemType string

const (
	ItemText     ItemType = "text"
	ItemThinking ItemType = "thinking"
	ItemToolRef  ItemType = "tool_ref"
)

// SequenceItem is one element of the per-turn accumulation sequence,
// in the order the provider produced it.
type SequenceItem struct {
	Type       ItemType
	Text       string
	Thinking   string
	ToolCallID string
}

// ToolCallStatus tracks a tool call's execution progress.
type ToolCallStatus string

const (
	StatusPending   ToolCallStatus = "pending"
	StatusRunning   ToolCallStatus = "running"
	StatusCompleted ToolCallStatus = "completed"
)

// ToolCall is the resolved state of one tool invocation in a turn.
type ToolCall struct {
	ID          string
	Name        string
	Input       map[string]interface{}
	Status      ToolCallStatus
	Output      string
	IsError     bool
	StartedAt   time.Time
	CompletedAt time.Time
}

// InterruptedOutput is the fixed content of a synthesized tool_result
// for a call that never finished.
const InterruptedOutput = "Command interrupted (no output captured)"

// Build assembles the content blocks for a turn's assistant message:
// the thinking block (with signature) first if non-empty, then the
// sequence items in order. Returns nil when there is nothing to flush
// or the turn was already flushed.
func Build(thinking, thinkingSignature string, items []SequenceItem, calls map[string]*ToolCall, alreadyFlushed bool) []Block {
	if alreadyFlushed {
		return nil
	}

	var blocks []Block
	if thinking != "" {
		blocks = append(blocks, Block{
			Type:      TypeThinking,
			Thinking:  thinking,
			Signature: thinkingSignature,
		})
	}

	for _, item := range items {
		switch item.Type {
		case ItemText:
			if item.Text != "" {
				blocks = append(blocks, Block{Type: TypeText, Text: item.Text})
			}
		case ItemThinking:
			if item.Thinking != "" {
				blocks = append(blocks, Block{Type: TypeThinking, Thinking: item.Thinking})
			}
		case ItemToolRef:
			call, ok := calls[item.ToolCallID]
			if !ok {
				continue
			}
			blocks = append(blocks, Block{
				Type:  TypeToolUse,
				ID:    call.ID,
				Name:  call.Name,
				Input: call.Input,
			})
		}
	}

	if len(blocks) == 0 {
		return nil
	}
	return blocks
}

// BuildInterrupted assembles the assistant content blocks for an
// interrupted turn plus the synthesized tool_result blocks, so the
// transcript reflects exactly what ran, what finished and what was cut
// off. Tool_use blocks carry _meta status/interrupted annotations;
// unfinished calls get the fixed interrupted result.
func BuildInterrupted(thinking, thinkingSignature string, items []SequenceItem, calls map[string]*ToolCall, alreadyFlushed bool) (assistant []Block, results []Block) {
	assistant = Build(thinking, thinkingSignature, items, calls, alreadyFlushed)

	annotate := func(b *Block) {
		call, ok := calls[b.ID]
		if !ok {
			return
		}
		interrupted := call.Status == StatusPending || call.Status == StatusRunning
		b.Meta = map[string]interface{}{
			"status":      string(call.Status),
			"interrupted": interrupted,
		}
		if call.Status == StatusCompleted && !call.CompletedAt.IsZero() && !call.StartedAt.IsZero() {
			b.Meta["durationMs"] = call.CompletedAt.Sub(call.StartedAt).Milliseconds()
		}
	}

	for i := range assistant {
		if assistant[i].Type == TypeToolUse {
			annotate(&assistant[i])
		}
	}

	// Pair every tool_use with a result, in sequence order.
	for _, item := range items {
		if item.Type != ItemToolRef {
			continue
		}
		call, ok := calls[item.ToolCallID]
		if !ok {
			continue
		}
		if call.Status == StatusCompleted {
			results = append(results, Block{
				Type:      TypeToolResult,
				ToolUseID: call.ID,
				Content:   call.Output,
				IsError:   call.IsError,
			})
			continue
		}
		results = append(results, Block{
			Type:      TypeToolResult,
			ToolUseID: call.ID,
			Content:   InterruptedOutput,
			Meta: map[string]interface{}{
				"interrupted": true,
				"toolName":    call.Name,
			},
		})
	}

	return assistant, results
}

// ToPayload converts blocks to the generic form stored in event
// payloads.
func ToPayload(blocks []Block) []interface{} {
	out := make([]interface{}, 0, len(blocks))
	for _, b := range blocks {
		m := map[string]interface{}{"type": string(b.Type)}
		switch b.Type {
		case TypeText:
			m["text"] = b.Text
		case TypeThinking:
			m["thinking"] = b.Thinking
			if b.Signature != "" {
				m["signature"] = b.Signature
			}
		case TypeToolUse:
			m["id"] = b.ID
			m["name"] = b.Name
			m["input"] = b.Input
		case TypeToolResult:
			m["tool_use_id"] = b.ToolUseID
			m["content"] = b.Content
			if b.IsError {
				m["is_error"] = true
			}
		}
		if b.Meta != nil {
			m["_meta"] = b.Meta
		}
		out = append(out, m)
	}
	return out
}
