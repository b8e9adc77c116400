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
// Package anthropic adapts the Anthropic Messages streaming API to the
// provider interface. It translates requests into MessageNewParams and
// folds the SDK's event union into the typed provider stream.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/teradata-labs/warp/pkg/contentblock"
	"github.com/teradata-labs/warp/pkg/provider"
)

// MessagesClient is the subset of the SDK client the adapter uses.
// Satisfied by *sdk.MessageService; tests pass a fake.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Provider implements provider.Provider on the Anthropic Messages API.
type Provider struct {
	msg              MessagesClient
	defaultMaxTokens int
}

// New builds an adapter from an SDK messages client.
func New(msg MessagesClient, defaultMaxTokens int) (*Provider, error) {
	if msg == nil {
		return nil, errors.New("anthropic messages client is required")
	}
	if defaultMaxTokens <= 0 {
		defaultMaxTokens = 8192
	}
	return &Provider{msg: msg, defaultMaxTokens: defaultMaxTokens}, nil
}

// NewFromAPIKey constructs an adapter with the default HTTP client.
func NewFromAPIKey(apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, 0)
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "anthropic" }

// Stream implements provider.Provider.
func (p *Provider) Stream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	params, err := p.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := p.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, provider.Classify(err)
	}
	return newStream(stream), nil
}

func (p *Provider) prepareRequest(req provider.Request) (*sdk.MessageNewParams, error) {
	if req.Model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.defaultMaxTokens
	}

	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(req.Model),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools := make([]sdk.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			if t.Name == "" {
				continue
			}
			schema, err := toolInputSchema(t.Parameters)
			if err != nil {
				return nil, fmt.Errorf("anthropic: tool %q schema: %w", t.Name, err)
			}
			u := sdk.ToolUnionParamOfTool(schema, t.Name)
			if u.OfTool != nil && t.Description != "" {
				u.OfTool.Description = sdk.String(t.Description)
			}
			tools = append(tools, u)
		}
		params.Tools = tools
	}
	if req.ReasoningBudget > 0 {
		budget := req.ReasoningBudget
		if budget < 1024 {
			budget = 1024
		}
		if budget >= int64(maxTokens) {
			return nil, fmt.Errorf("anthropic: thinking budget %d must be less than max_tokens %d", budget, maxTokens)
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(budget)
	}
	return &params, nil
}

func encodeMessages(msgs []provider.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Blocks))
		for _, b := range m.Blocks {
			switch b.Type {
			case contentblock.TypeText:
				if b.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(b.Text))
				}
			case contentblock.TypeThinking:
				// Thinking blocks are provider-generated; re-encoding
				// them is not supported by the Messages API here.
			case contentblock.TypeToolUse:
				input := b.Input
				if input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(b.ID, input, b.Name))
			case contentblock.TypeToolResult:
				blocks = append(blocks, sdk.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case provider.RoleUser:
			out = append(out, sdk.NewUserMessage(blocks...))
		case provider.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return out, nil
}

func toolInputSchema(schema interface{}) (sdk.ToolInputSchemaParam, error) {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

// toolBuffer accumulates streamed tool input JSON fragments.
type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func (tb *toolBuffer) arguments() map[string]interface{} {
	joined := strings.TrimSpace(strings.Join(tb.fragments, ""))
	if joined == "" {
		joined = "{}"
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(joined), &args); err != nil {
		return map[string]interface{}{}
	}
	return args
}
