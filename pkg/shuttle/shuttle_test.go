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
	"testing"

	"github.com/teradata-labs/warp/pkg/warperr"
)

// fakeTool is a configurable tool for executor tests.
type fakeTool struct {
	name    string
	schema  *JSONSchema
	execute func(ctx context.Context, args map[string]interface{}) (*Result, error)
}

func (t *fakeTool) Name() string             { return t.name }
func (t *fakeTool) Description() string      { return "test tool" }
func (t *fakeTool) InputSchema() *JSONSchema { return t.schema }
func (t *fakeTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	if t.execute != nil {
		return t.execute(ctx, args)
	}
	return &Result{Content: "ok"}, nil
}

func echoSchema() *JSONSchema {
	return NewObjectSchema("", map[string]*JSONSchema{
		"filePath": NewStringSchema("path to read"),
	}, []string{"filePath"})
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "read"})

	if _, ok := r.Get("read"); !ok {
		t.Error("expected tool to be registered")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
	r.Unregister("read")
	if r.IsRegistered("read") {
		t.Error("expected tool to be unregistered")
	}
}

func TestRegistry_Describe(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "read", schema: echoSchema()})

	metas := r.Describe()
	if len(metas) != 1 {
		t.Fatalf("expected 1 metadata entry, got %d", len(metas))
	}
	if metas[0].Name != "read" || metas[0].Parameters == nil {
		t.Errorf("unexpected metadata: %+v", metas[0])
	}
}

func TestExecutor_ValidArguments(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "read", schema: echoSchema()})
	e := NewExecutor(r)

	result, err := e.Execute(context.Background(), "read", map[string]interface{}{"filePath": "/tmp/x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Errorf("unexpected error result: %q", result.Content)
	}
}

func TestExecutor_MissingRequiredArgument(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "read", schema: echoSchema()})
	e := NewExecutor(r)

	result, err := e.Execute(context.Background(), "read", map[string]interface{}{})
	if err != nil {
		t.Fatalf("validation failures must be error results, not errors: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for missing required argument")
	}
	if result.Details["code"] != "invalid_arguments" {
		t.Errorf("unexpected details: %v", result.Details)
	}
}

func TestExecutor_SnakeCaseNormalized(t *testing.T) {
	var seen map[string]interface{}
	r := NewRegistry()
	r.Register(&fakeTool{
		name:   "read",
		schema: echoSchema(),
		execute: func(_ context.Context, args map[string]interface{}) (*Result, error) {
			seen = args
			return &Result{Content: "ok"}, nil
		},
	})
	e := NewExecutor(r)

	result, err := e.Execute(context.Background(), "read", map[string]interface{}{"file_path": "/tmp/x"})
	if err != nil || result.IsError {
		t.Fatalf("Execute: err=%v result=%+v", err, result)
	}
	if seen["filePath"] != "/tmp/x" {
		t.Errorf("expected snake_case argument mapped to schema key, got %v", seen)
	}
}

func TestExecutor_UnknownTool(t *testing.T) {
	e := NewExecutor(NewRegistry())
	_, err := e.Execute(context.Background(), "nope", nil)
	if warperr.CodeOf(err) != warperr.CodeToolNotFound {
		t.Errorf("expected TOOL_NOT_FOUND, got %v", err)
	}
}

func TestExecutor_ToolErrorBecomesErrorResult(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{
		name: "fail",
		execute: func(context.Context, map[string]interface{}) (*Result, error) {
			return nil, errors.New("disk on fire")
		},
	})
	e := NewExecutor(r)

	result, err := e.Execute(context.Background(), "fail", nil)
	if err != nil {
		t.Fatalf("tool failures must not surface as errors: %v", err)
	}
	if !result.IsError || result.Content != "disk on fire" {
		t.Errorf("unexpected result: %+v", result)
	}

	execs, fails := e.Stats()
	if execs != 1 || fails != 1 {
		t.Errorf("stats = (%d, %d), want (1, 1)", execs, fails)
	}
}

func TestExecutor_CancellationSurfacesAsInterrupted(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{
		name: "slow",
		execute: func(ctx context.Context, _ map[string]interface{}) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	e := NewExecutor(r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, "slow", nil)
	if warperr.CodeOf(err) != warperr.CodeInterrupted {
		t.Errorf("expected INTERRUPTED, got %v", err)
	}
	if warperr.CategoryOf(err) != warperr.CategoryCancelled {
		t.Errorf("expected cancelled category, got %v", warperr.CategoryOf(err))
	}
}

func TestNormalizeSchema_NilPropertiesBecomesEmpty(t *testing.T) {
	s := NormalizeSchema(&JSONSchema{Type: "object"})
	if s.Properties == nil {
		t.Error("expected non-nil properties map")
	}
}

func TestNormalizeSchema_InfersType(t *testing.T) {
	s := NormalizeSchema(&JSONSchema{Properties: map[string]*JSONSchema{"a": NewStringSchema("")}})
	if s.Type != "object" {
		t.Errorf("inferred type = %q, want object", s.Type)
	}
}

func TestValidateArguments_NilSchemaSkips(t *testing.T) {
	if err := ValidateArguments(&fakeTool{name: "free"}, map[string]interface{}{"anything": 1}); err != nil {
		t.Errorf("nil schema must skip validation: %v", err)
	}
}
