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
package anthropic

import (
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/teradata-labs/warp/pkg/provider"
	"github.com/teradata-labs/warp/pkg/tokens"
)

// stream folds the SDK event union into provider events. Tool input
// JSON arrives as fragments; calls are buffered per content index and
// released as one tool_use_batch before response_complete.
type stream struct {
	inner *ssestream.Stream[sdk.MessageStreamEventUnion]

	toolBlocks map[int]*toolBuffer
	toolOrder  []int
	usage      tokens.Usage
	stopReason string

	pending []provider.Event
	done    bool
}

func newStream(inner *ssestream.Stream[sdk.MessageStreamEventUnion]) *stream {
	return &stream{
		inner:      inner,
		toolBlocks: make(map[int]*toolBuffer),
	}
}

func (s *stream) Recv() (provider.Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.done {
			return provider.Event{}, io.EOF
		}
		if !s.inner.Next() {
			s.done = true
			if err := s.inner.Err(); err != nil {
				return provider.Event{}, provider.Classify(err)
			}
			continue
		}
		s.handle(s.inner.Current())
	}
}

func (s *stream) Close() error {
	s.done = true
	return s.inner.Close()
}

func (s *stream) handle(event sdk.MessageStreamEventUnion) {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		s.usage = tokens.Usage{
			InputTokens:         ev.Message.Usage.InputTokens,
			CacheReadTokens:     ev.Message.Usage.CacheReadInputTokens,
			CacheCreationTokens: ev.Message.Usage.CacheCreationInputTokens,
		}

	case sdk.ContentBlockStartEvent:
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			idx := int(ev.Index)
			s.toolBlocks[idx] = &toolBuffer{id: toolUse.ID, name: toolUse.Name}
			s.toolOrder = append(s.toolOrder, idx)
		}

	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text != "" {
				s.emit(provider.Event{Type: provider.EventTextDelta, Text: delta.Text})
			}
		case sdk.ThinkingDelta:
			if delta.Thinking != "" {
				s.emit(provider.Event{Type: provider.EventThinkingDelta, Thinking: delta.Thinking})
			}
		case sdk.SignatureDelta:
			if delta.Signature != "" {
				s.emit(provider.Event{Type: provider.EventSignatureDelta, Signature: delta.Signature})
			}
		case sdk.InputJSONDelta:
			if tb := s.toolBlocks[idx]; tb != nil && delta.PartialJSON != "" {
				tb.fragments = append(tb.fragments, delta.PartialJSON)
			}
		}

	case sdk.MessageDeltaEvent:
		s.stopReason = string(ev.Delta.StopReason)
		s.usage.OutputTokens = ev.Usage.OutputTokens
		if ev.Usage.InputTokens > 0 {
			s.usage.InputTokens = ev.Usage.InputTokens
		}
		if ev.Usage.CacheReadInputTokens > 0 {
			s.usage.CacheReadTokens = ev.Usage.CacheReadInputTokens
		}
		if ev.Usage.CacheCreationInputTokens > 0 {
			s.usage.CacheCreationTokens = ev.Usage.CacheCreationInputTokens
		}

	case sdk.MessageStopEvent:
		if len(s.toolOrder) > 0 {
			calls := make([]provider.ToolCall, 0, len(s.toolOrder))
			for _, idx := range s.toolOrder {
				tb := s.toolBlocks[idx]
				if tb == nil {
					continue
				}
				calls = append(calls, provider.ToolCall{
					ID:        tb.id,
					Name:      tb.name,
					Arguments: tb.arguments(),
				})
			}
			s.emit(provider.Event{Type: provider.EventToolUseBatch, ToolCalls: calls})
			s.toolBlocks = make(map[int]*toolBuffer)
			s.toolOrder = nil
		}
		s.emit(provider.Event{
			Type:       provider.EventResponseComplete,
			Usage:      s.usage,
			StopReason: s.stopReason,
		})
		s.done = true
	}
}

func (s *stream) emit(ev provider.Event) {
	s.pending = append(s.pending, ev)
}
