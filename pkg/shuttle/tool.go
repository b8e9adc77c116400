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
// Package shuttle defines executable tools and their registry. Tools
// are the mechanism through which the agent acts on the outside world;
// each tool encapsulates a single capability behind a JSON Schema.
//
// Why "shuttle"? Tools shuttle data and execution between the model
// and the workspace, like a shuttle carries thread across a loom.
package shuttle

import (
	"context"
	"encoding/json"
)

// Tool defines the interface for executable tools in the agent core.
type Tool interface {
	// Name returns the tool's unique identifier
	Name() string

	// Description returns a human-readable description for model context
	Description() string

	// InputSchema returns the JSON Schema for tool arguments
	InputSchema() *JSONSchema

	// Execute runs the tool with the given arguments. Blocking; must
	// honor ctx cancellation.
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// Result is the outcome of a tool execution, in the shape that gets
// embedded in a tool.result event payload.
type Result struct {
	// Content is the textual result handed back to the model.
	Content string

	// IsError marks a domain-level failure (bad arguments, command
	// exited nonzero). The turn continues; the model sees the error.
	IsError bool

	// Details carries structured metadata alongside the content
	// (exit codes, file paths, row counts).
	Details map[string]interface{}

	// ExecutionTimeMs is stamped by the executor.
	ExecutionTimeMs int64
}

// Metadata is the static description of a tool as exposed to providers
// and transcripts.
type Metadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  *JSONSchema `json:"parameters"`
}

// Describe returns the static metadata for a tool.
func Describe(t Tool) Metadata {
	return Metadata{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  NormalizeSchema(t.InputSchema()),
	}
}

// JSONSchema represents a JSON Schema for tool arguments.
type JSONSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []interface{}          `json:"enum,omitempty"`
	Default     interface{}            `json:"default,omitempty"`
	Format      string                 `json:"format,omitempty"`
	Pattern     string                 `json:"pattern,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
	MinLength   *int                   `json:"minLength,omitempty"`
	MaxLength   *int                   `json:"maxLength,omitempty"`
}

// ToJSON converts the schema to JSON bytes.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// FromJSON creates a JSONSchema from JSON bytes.
func FromJSON(data []byte) (*JSONSchema, error) {
	var schema JSONSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

// NewObjectSchema creates a new object schema with the given properties.
func NewObjectSchema(description string, properties map[string]*JSONSchema, required []string) *JSONSchema {
	return &JSONSchema{
		Type:        "object",
		Description: description,
		Properties:  properties,
		Required:    required,
	}
}

// NewStringSchema creates a new string schema.
func NewStringSchema(description string) *JSONSchema {
	return &JSONSchema{
		Type:        "string",
		Description: description,
	}
}

// NewNumberSchema creates a new number schema.
func NewNumberSchema(description string) *JSONSchema {
	return &JSONSchema{
		Type:        "number",
		Description: description,
	}
}

// NewBooleanSchema creates a new boolean schema.
func NewBooleanSchema(description string) *JSONSchema {
	return &JSONSchema{
		Type:        "boolean",
		Description: description,
	}
}

// NewArraySchema creates a new array schema.
func NewArraySchema(description string, items *JSONSchema) *JSONSchema {
	return &JSONSchema{
		Type:        "array",
		Description: description,
		Items:       items,
	}
}

// WithEnum adds enum values to the schema.
func (s *JSONSchema) WithEnum(values ...interface{}) *JSONSchema {
	s.Enum = values
	return s
}

// WithDefault adds a default value to the schema.
func (s *JSONSchema) WithDefault(value interface{}) *JSONSchema {
	s.Default = value
	return s
}

// WithPattern adds a pattern constraint to the schema.
func (s *JSONSchema) WithPattern(pattern string) *JSONSchema {
	s.Pattern = pattern
	return s
}

// WithRange adds min/max constraints to the schema.
func (s *JSONSchema) WithRange(min, max *float64) *JSONSchema {
	s.Minimum = min
	s.Maximum = max
	return s
}
