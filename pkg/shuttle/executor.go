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
package shuttle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/teradata-labs/warp/pkg/warperr"
)

// Executor executes tools with validation, timing and error handling.
// Tool failures come back as error Results, never as Go errors; only
// cancellation and unknown-tool lookups surface as errors.
type Executor struct {
	registry *Registry

	executions atomic.Int64
	failures   atomic.Int64
}

// NewExecutor creates a new tool executor.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute executes a tool by name with the given arguments.
func (e *Executor) Execute(ctx context.Context, toolName string, args map[string]interface{}) (*Result, error) {
	tool, ok := e.registry.Get(toolName)
	if !ok {
		return nil, warperr.New(warperr.CodeToolNotFound, warperr.CategoryTool,
			fmt.Sprintf("tool not found: %s", toolName))
	}
	return e.ExecuteWithTool(ctx, tool, args)
}

// ExecuteWithTool executes a specific tool instance (not from registry).
func (e *Executor) ExecuteWithTool(ctx context.Context, tool Tool, args map[string]interface{}) (*Result, error) {
	e.executions.Add(1)

	// LLMs drift between snake_case and camelCase; map argument names
	// onto the schema's spelling before validating.
	args = normalizeArgumentsToSchema(tool, args)

	if err := ValidateArguments(tool, args); err != nil {
		e.failures.Add(1)
		return &Result{
			Content: err.Error(),
			IsError: true,
			Details: map[string]interface{}{"code": "invalid_arguments"},
		}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, interruptedErr(err)
	}

	start := time.Now()
	result, err := tool.Execute(ctx, args)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, interruptedErr(err)
		}
		e.failures.Add(1)
		return &Result{
			Content:         err.Error(),
			IsError:         true,
			Details:         map[string]interface{}{"code": "execution_failed"},
			ExecutionTimeMs: duration.Milliseconds(),
		}, nil
	}

	if result == nil {
		result = &Result{}
	}
	// Executor timing is authoritative, even if the tool set it.
	result.ExecutionTimeMs = duration.Milliseconds()
	if result.IsError {
		e.failures.Add(1)
	}
	return result, nil
}

// Stats returns execution counters.
func (e *Executor) Stats() (executions, failures int64) {
	return e.executions.Load(), e.failures.Load()
}

func interruptedErr(cause error) error {
	return warperr.Wrap(cause, warperr.CodeInterrupted, warperr.CategoryCancelled, "tool execution interrupted")
}

// normalizeArgumentsToSchema maps incoming argument names onto the
// schema's declared property names, matching case-insensitively with
// underscore normalization.
func normalizeArgumentsToSchema(tool Tool, args map[string]interface{}) map[string]interface{} {
	if len(args) == 0 {
		return args
	}

	schema := tool.InputSchema()
	if schema == nil || schema.Properties == nil {
		return args
	}

	schemaKeys := make(map[string]string)
	for key := range schema.Properties {
		schemaKeys[toLowerUnderscore(key)] = key
	}

	normalized := make(map[string]interface{}, len(args))
	for key, value := range args {
		if schemaKey, exists := schemaKeys[toLowerUnderscore(key)]; exists {
			normalized[schemaKey] = value
		} else {
			normalized[key] = value
		}
	}
	return normalized
}

// toLowerUnderscore converts any naming convention to lowercase with
// underscores, so camelCase, snake_case and PascalCase all match.
func toLowerUnderscore(s string) string {
	if s == "" {
		return ""
	}

	var result []rune
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			result = append(result, '_')
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}
